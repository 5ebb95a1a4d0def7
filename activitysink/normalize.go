package activitysink

import (
	"strings"
	"time"

	"github.com/karpithal/go-accounts"
)

const (
	// MetadataKeyActorType stores the actor type derived from ActorRef.Type
	MetadataKeyActorType = "actor_type"
	// MetadataKeyFromStatus stores the source status of a lifecycle transition
	MetadataKeyFromStatus = "from_status"
	// MetadataKeyToStatus stores the target status of a lifecycle transition
	MetadataKeyToStatus = "to_status"
)

const (
	defaultChannel    = "accounts"
	defaultObjectType = "account"
	defaultActorID    = "system"
)

// Normalized is a transport agnostic activity record for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NormalizeOption customizes normalization
type NormalizeOption func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	objectType    string
	actorFallback string
}

// WithChannel sets the channel of normalized records
func WithChannel(channel string) NormalizeOption {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithActorFallback sets the actor id used when neither actor nor account ids are known
func WithActorFallback(actorID string) NormalizeOption {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// Normalize converts an accounts.ActivityEvent into the Normalized shape.
// Events without an actor id are attributed to the account they concern.
func Normalize(event accounts.ActivityEvent, opts ...NormalizeOption) Normalized {
	options := normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID: firstNonEmpty(
			strings.TrimSpace(event.Actor.ID),
			strings.TrimSpace(event.AccountID),
			options.actorFallback,
		),
		Verb:       string(event.EventType),
		ObjectType: options.objectType,
		ObjectID:   strings.TrimSpace(event.AccountID),
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

func normalizeMetadata(event accounts.ActivityEvent) map[string]any {
	metadata := make(map[string]any, len(event.Metadata)+3)
	for key, value := range event.Metadata {
		metadata[key] = value
	}

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		if _, exists := metadata[MetadataKeyActorType]; !exists {
			metadata[MetadataKeyActorType] = actorType
		}
	}
	if event.FromStatus != "" {
		metadata[MetadataKeyFromStatus] = string(event.FromStatus)
	}
	if event.ToStatus != "" {
		metadata[MetadataKeyToStatus] = string(event.ToStatus)
	}

	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
