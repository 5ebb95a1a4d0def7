package accounts_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/karpithal/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event accounts.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func pendingStudent() *accounts.Account {
	return &accounts.Account{
		ID:       uuid.New(),
		Email:    "student@example.com",
		Role:     accounts.RoleStudent,
		Approved: true,
	}
}

func TestLifecycleMachineTransitionToSuspendedSetsTimestamp(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	account := pendingStudent()
	account.EmailVerified = true
	account.Active = true

	sm := accounts.NewLifecycleMachine(accounts.WithStateMachineClock(func() time.Time { return now }))

	tc, err := sm.Transition(context.Background(), accounts.ActorRef{ID: "admin"}, account, accounts.StatusSuspended)
	require.NoError(t, err)
	assert.False(t, tc.Noop)
	assert.Equal(t, accounts.StatusActive, tc.From)
	assert.Equal(t, accounts.StatusSuspended, tc.To)
	assert.Equal(t, accounts.StatusSuspended, account.Status())
	assert.False(t, account.Active)
	require.NotNil(t, account.SuspendedAt)
	assert.Equal(t, now, account.SuspendedAt.UTC())
}

func TestLifecycleMachineRejectsInvalidTransition(t *testing.T) {
	account := pendingStudent()
	account.EmailVerified = true
	account.Active = true

	sm := accounts.NewLifecycleMachine()

	_, err := sm.Transition(context.Background(), accounts.ActorRef{}, account, accounts.StatusPendingApproval)
	require.Error(t, err)
	assert.ErrorIs(t, err, accounts.ErrInvalidTransition)
	assert.True(t, account.Active, "flags must not change on a rejected transition")

	_, err = sm.Transition(context.Background(), accounts.ActorRef{}, nil, accounts.StatusActive)
	assert.ErrorIs(t, err, accounts.ErrInvalidTransition)

	_, err = sm.Transition(context.Background(), accounts.ActorRef{}, account, "")
	assert.ErrorIs(t, err, accounts.ErrInvalidTransition)
}

func TestLifecycleMachineForceTransitionBypassesValidation(t *testing.T) {
	account := pendingStudent()
	account.EmailVerified = true
	account.Active = true

	sm := accounts.NewLifecycleMachine()

	tc, err := sm.Transition(
		context.Background(),
		accounts.ActorRef{},
		account,
		accounts.StatusPendingApproval,
		accounts.WithForceTransition(),
	)
	require.NoError(t, err)
	assert.Equal(t, accounts.StatusPendingApproval, tc.To)
	assert.Equal(t, accounts.StatusPendingApproval, account.Status())
}

func TestLifecycleMachineLeavingSuspendedClearsTimestamp(t *testing.T) {
	now := time.Now()
	account := pendingStudent()
	account.EmailVerified = true
	account.SuspendedAt = &now

	sm := accounts.NewLifecycleMachine()

	_, err := sm.Transition(context.Background(), accounts.ActorRef{}, account, accounts.StatusActive)
	require.NoError(t, err)
	assert.True(t, account.IsActive())
	assert.Nil(t, account.SuspendedAt)
}

func TestLifecycleMachineSameStatusIsNoop(t *testing.T) {
	account := pendingStudent()
	called := false

	sm := accounts.NewLifecycleMachine()
	tc, err := sm.Transition(context.Background(), accounts.ActorRef{}, account, accounts.StatusPendingVerification,
		accounts.WithBeforeTransitionHook(func(context.Context, accounts.TransitionContext) error {
			called = true
			return nil
		}),
	)
	require.NoError(t, err)
	assert.True(t, tc.Noop)
	assert.False(t, called)
}

func TestLifecycleMachineTable(t *testing.T) {
	sm := accounts.NewLifecycleMachine()

	allowed := map[accounts.Status][]accounts.Status{
		accounts.StatusPendingVerification: {accounts.StatusActive, accounts.StatusSuspended},
		accounts.StatusPendingApproval:     {accounts.StatusActive, accounts.StatusSuspended},
		accounts.StatusActive:              {accounts.StatusSuspended},
		accounts.StatusSuspended:           {accounts.StatusActive},
	}
	all := []accounts.Status{
		accounts.StatusPendingVerification,
		accounts.StatusPendingApproval,
		accounts.StatusActive,
		accounts.StatusSuspended,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, sm.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestLifecycleMachineRunsHooksWithMetadata(t *testing.T) {
	account := pendingStudent()
	account.Role = accounts.RoleInstructor
	account.Approved = false

	ts := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)

	var beforeCalled, afterCalled bool
	var reasonSeen string
	var metadataSeen map[string]any
	var activeBefore, activeAfter bool

	before := func(ctx context.Context, tc accounts.TransitionContext) error {
		beforeCalled = true
		reasonSeen = tc.Meta.Reason
		metadataSeen = tc.Meta.Metadata
		activeBefore = tc.Account.Active
		return nil
	}
	after := func(ctx context.Context, tc accounts.TransitionContext) error {
		afterCalled = true
		activeAfter = tc.Account.Active
		return nil
	}

	sm := accounts.NewLifecycleMachine(accounts.WithStateMachineClock(func() time.Time { return ts }))

	metadata := map[string]any{"ticket": "123"}

	tc, err := sm.Transition(
		context.Background(),
		accounts.ActorRef{ID: "admin"},
		account,
		accounts.StatusActive,
		accounts.WithTransitionReason("approved"),
		accounts.WithTransitionMetadata(metadata),
		accounts.WithBeforeTransitionHook(before),
		accounts.WithAfterTransitionHook(after),
	)
	require.NoError(t, err)
	assert.True(t, beforeCalled)
	assert.True(t, afterCalled)
	assert.False(t, activeBefore)
	assert.True(t, activeAfter)
	assert.Equal(t, "approved", reasonSeen)
	require.NotNil(t, metadataSeen)
	assert.Equal(t, "123", metadataSeen["ticket"])
	assert.Equal(t, ts, tc.OccurredAt)

	// the caller's map is copied
	metadata["ticket"] = "changed"
	assert.Equal(t, "123", tc.Meta.Metadata["ticket"])
}

func TestLifecycleMachineBeforeHookErrorAborts(t *testing.T) {
	account := pendingStudent()
	boom := errors.New("boom")

	var phaseSeen accounts.TransitionHookPhase
	sm := accounts.NewLifecycleMachine(accounts.WithStateMachineHookErrorHandler(
		func(_ context.Context, phase accounts.TransitionHookPhase, err error, _ accounts.TransitionContext) error {
			phaseSeen = phase
			return err
		},
	))

	_, err := sm.Transition(context.Background(), accounts.ActorRef{}, account, accounts.StatusActive,
		accounts.WithBeforeTransitionHook(func(context.Context, accounts.TransitionContext) error { return boom }),
	)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, accounts.HookPhaseBefore, phaseSeen)
	assert.False(t, account.Active)
	assert.Equal(t, accounts.StatusPendingVerification, account.Status())
}

func TestLifecycleMachineEmitsActivityEvent(t *testing.T) {
	sink := &MockActivitySink{}
	now := time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	account := pendingStudent()
	account.EmailVerified = true
	account.Active = true

	sink.On("Record", mock.Anything, mock.MatchedBy(func(evt accounts.ActivityEvent) bool {
		return evt.EventType == accounts.ActivityEventAccountStatusChanged &&
			evt.AccountID == account.ID.String() &&
			evt.FromStatus == accounts.StatusActive &&
			evt.ToStatus == accounts.StatusSuspended &&
			evt.Metadata["reason"] == "spam" &&
			evt.OccurredAt.Equal(now)
	})).Return(nil).Once()

	sm := accounts.NewLifecycleMachine(accounts.WithStateMachineClock(func() time.Time { return now }))

	_, err := sm.Transition(context.Background(), accounts.ActorRef{ID: "admin"}, account, accounts.StatusSuspended,
		accounts.WithTransitionReason("spam"),
		accounts.WithAfterTransitionHook(func(ctx context.Context, tc accounts.TransitionContext) error {
			return sink.Record(ctx, tc.Event())
		}),
	)
	require.NoError(t, err)

	sink.AssertExpectations(t)
}

func TestStatusDerivation(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name    string
		account accounts.Account
		want    accounts.Status
	}{
		{"suspended wins", accounts.Account{Active: true, Approved: true, EmailVerified: true, SuspendedAt: &now}, accounts.StatusSuspended},
		{"active", accounts.Account{Active: true, Approved: true}, accounts.StatusActive},
		{"unapproved", accounts.Account{Approved: false, EmailVerified: true}, accounts.StatusPendingApproval},
		{"unverified", accounts.Account{Approved: true}, accounts.StatusPendingVerification},
		{"inactive otherwise", accounts.Account{Approved: true, EmailVerified: true}, accounts.StatusSuspended},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.account.Status())
		})
	}
}

func TestMultiSinkRecordsEverywhere(t *testing.T) {
	first := &MockActivitySink{}
	second := &MockActivitySink{}
	event := accounts.ActivityEvent{EventType: accounts.ActivityEventLoginSuccess}

	first.On("Record", mock.Anything, event).Return(errors.New("down")).Once()
	second.On("Record", mock.Anything, event).Return(nil).Once()

	err := accounts.MultiSink{first, second}.Record(context.Background(), event)
	assert.Error(t, err)
	first.AssertExpectations(t)
	second.AssertExpectations(t)
}
