package accounts

import (
	"context"
	"errors"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventAccountRegistered      ActivityEventType = "account.registered"
	ActivityEventAccountStatusChanged   ActivityEventType = "account.status.changed"
	ActivityEventEmailVerified          ActivityEventType = "account.email.verified"
	ActivityEventPasswordResetRequested ActivityEventType = "account.password.reset_requested"
	ActivityEventPasswordResetSuccess   ActivityEventType = "account.password.reset"
	ActivityEventPasswordChanged        ActivityEventType = "account.password.changed"
	ActivityEventOAuthLinked            ActivityEventType = "account.oauth.linked"
	ActivityEventLoginSuccess           ActivityEventType = "account.login.success"
	ActivityEventLoginFailure           ActivityEventType = "account.login.failure"
	ActivityEventProfileUpdated         ActivityEventType = "account.profile.updated"
)

// ActorRef identifies who/what triggered an action.
type ActorRef struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
}

const (
	ActorTypeAccount = "account"
	ActorTypeSystem  = "system"
)

// SystemActor is used for transitions not driven by an authenticated account
var SystemActor = ActorRef{Type: ActorTypeSystem}

// ActorOf returns the reference for an account, SystemActor for nil
func ActorOf(account *Account) ActorRef {
	if account == nil {
		return SystemActor
	}
	return ActorRef{ID: account.ID.String(), Type: ActorTypeAccount}
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType `json:"event_type"`
	Actor      ActorRef          `json:"actor"`
	AccountID  string            `json:"account_id,omitempty"`
	FromStatus Status            `json:"from_status,omitempty"`
	ToStatus   Status            `json:"to_status,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []ActivitySink

// Record implements ActivitySink.
func (m MultiSink) Record(ctx context.Context, event ActivityEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
