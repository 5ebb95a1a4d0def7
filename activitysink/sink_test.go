package activitysink_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/karpithal/go-accounts"
	"github.com/karpithal/go-accounts/activitysink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

func TestNATSSinkPublishesNormalizedEvents(t *testing.T) {
	pub := &fakePublisher{}
	sink, err := activitysink.NewNATSSink(pub, "")
	require.NoError(t, err)

	err = sink.Record(context.Background(), accounts.ActivityEvent{
		EventType: accounts.ActivityEventAccountRegistered,
		Actor:     accounts.SystemActor,
		AccountID: "account-1",
		ToStatus:  accounts.StatusPendingVerification,
	})
	require.NoError(t, err)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "karpithal.account.registered", pub.msgs[0].subject)

	var out activitysink.Normalized
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &out))
	assert.Equal(t, "account-1", out.ObjectID)
	assert.Equal(t, "account.registered", out.Verb)
	assert.Equal(t, string(accounts.StatusPendingVerification), out.Metadata[activitysink.MetadataKeyToStatus])
}

func TestNATSSinkErrors(t *testing.T) {
	_, err := activitysink.NewNATSSink(nil, "x")
	assert.Error(t, err)

	boom := errors.New("nats: connection closed")
	sink, err := activitysink.NewNATSSink(&fakePublisher{err: boom}, ".audit.")
	require.NoError(t, err)
	assert.Equal(t, "audit.account.login.success", sink.Subject(accounts.ActivityEventLoginSuccess))

	err = sink.Record(context.Background(), accounts.ActivityEvent{EventType: accounts.ActivityEventLoginSuccess})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sink.Record(ctx, accounts.ActivityEvent{}), context.Canceled)
}

func TestMetricsSinkCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := activitysink.NewMetricsSink(reg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Record(ctx, accounts.ActivityEvent{EventType: accounts.ActivityEventLoginFailure}))
	require.NoError(t, sink.Record(ctx, accounts.ActivityEvent{EventType: accounts.ActivityEventLoginFailure, Actor: accounts.SystemActor}))
	require.NoError(t, sink.Record(ctx, accounts.ActivityEvent{
		EventType:  accounts.ActivityEventAccountStatusChanged,
		Actor:      accounts.ActorRef{ID: "admin", Type: accounts.ActorTypeAccount},
		FromStatus: accounts.StatusPendingApproval,
		ToStatus:   accounts.StatusActive,
	}))

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.Events().WithLabelValues("account.login.failure", "system")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.Events().WithLabelValues("account.status.changed", "account")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.Transitions().WithLabelValues("pending_approval", "active")))

	// collectors are registered once per registry
	_, err = activitysink.NewMetricsSink(reg)
	assert.Error(t, err)
}

func TestSinksComposeWithMultiSink(t *testing.T) {
	pub := &fakePublisher{}
	natsSink, err := activitysink.NewNATSSink(pub, "karpithal")
	require.NoError(t, err)
	metrics, err := activitysink.NewMetricsSink(prometheus.NewRegistry())
	require.NoError(t, err)

	sink := accounts.MultiSink{natsSink, metrics}
	require.NoError(t, sink.Record(context.Background(), accounts.ActivityEvent{EventType: accounts.ActivityEventEmailVerified}))

	assert.Len(t, pub.msgs, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Events().WithLabelValues("account.email.verified", "system")))
}
