package accounts

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks and returned to the caller so the
// activity event can be recorded once the surrounding transaction commits.
type TransitionContext struct {
	Actor      ActorRef
	Account    *Account
	From       Status
	To         Status
	Meta       TransitionMetadata
	OccurredAt time.Time
	// Noop is set when the account already was in the target state
	Noop bool
}

// Event renders the transition as an activity event
func (tc TransitionContext) Event() ActivityEvent {
	meta := map[string]any{}
	for k, v := range tc.Meta.Metadata {
		meta[k] = v
	}
	if tc.Meta.Reason != "" {
		meta["reason"] = tc.Meta.Reason
	}
	if tc.Account != nil {
		meta["role"] = string(tc.Account.Role)
	}

	var accountID string
	if tc.Account != nil {
		accountID = tc.Account.ID.String()
	}

	return ActivityEvent{
		EventType:  ActivityEventAccountStatusChanged,
		Actor:      tc.Actor,
		AccountID:  accountID,
		FromStatus: tc.From,
		ToStatus:   tc.To,
		Metadata:   meta,
		OccurredAt: tc.OccurredAt,
	}
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after the flags changed.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// LifecycleMachine owns the account status graph. Transition mutates the
// account flags in memory; persisting them is up to the caller's transaction.
type LifecycleMachine interface {
	Transition(ctx context.Context, actor ActorRef, account *Account, target Status, opts ...TransitionOption) (TransitionContext, error)
	CanTransition(from, to Status) bool
	CurrentStatus(account *Account) Status
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*lifecycleMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *lifecycleMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *lifecycleMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithForceTransition bypasses the transition table (use sparingly).
func WithForceTransition() TransitionOption {
	return func(opts *transitionOptions) {
		opts.force = true
	}
}

// WithBeforeTransitionHook adds a hook executed before the flags change.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the flags changed.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// NewLifecycleMachine returns the default transition table:
//
//	pending_verification -> active | suspended
//	pending_approval     -> active | suspended
//	active               -> suspended
//	suspended            -> active
func NewLifecycleMachine(opts ...StateMachineOption) LifecycleMachine {
	sm := &lifecycleMachine{
		transitions: map[Status]map[Status]struct{}{
			StatusPendingVerification: {
				StatusActive:    {},
				StatusSuspended: {},
			},
			StatusPendingApproval: {
				StatusActive:    {},
				StatusSuspended: {},
			},
			StatusActive: {
				StatusSuspended: {},
			},
			StatusSuspended: {
				StatusActive: {},
			},
		},
		now: time.Now,
		hookErrorHandler: func(_ context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
			return goerrors.Wrap(err, goerrors.CategoryOperation,
				fmt.Sprintf("%s hook failed for %s -> %s", phase, tc.From, tc.To))
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type lifecycleMachine struct {
	transitions      map[Status]map[Status]struct{}
	now              func() time.Time
	hookErrorHandler HookErrorHandler
}

type transitionOptions struct {
	metadata    TransitionMetadata
	force       bool
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

func (sm *lifecycleMachine) Transition(ctx context.Context, actor ActorRef, account *Account, target Status, opts ...TransitionOption) (TransitionContext, error) {
	if account == nil {
		return TransitionContext{}, fmt.Errorf("%w: account is nil", ErrInvalidTransition)
	}
	if target == "" {
		return TransitionContext{}, fmt.Errorf("%w: target status is empty", ErrInvalidTransition)
	}

	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	from := account.Status()
	tc := TransitionContext{
		Actor:      actor,
		Account:    account,
		From:       from,
		To:         target,
		Meta:       options.cloneMetadata(),
		OccurredAt: sm.now(),
	}

	if from == target {
		tc.Noop = true
		return tc, nil
	}

	if !options.force && !sm.CanTransition(from, target) {
		return TransitionContext{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}

	if err := sm.runHooks(ctx, options.beforeHooks, tc, HookPhaseBefore); err != nil {
		return TransitionContext{}, err
	}

	sm.apply(account, target, tc.OccurredAt)

	if err := sm.runHooks(ctx, options.afterHooks, tc, HookPhaseAfter); err != nil {
		return TransitionContext{}, err
	}

	return tc, nil
}

func (sm *lifecycleMachine) CanTransition(from, to Status) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *lifecycleMachine) CurrentStatus(account *Account) Status {
	return account.Status()
}

func (sm *lifecycleMachine) apply(account *Account, target Status, at time.Time) {
	switch target {
	case StatusActive:
		account.Active = true
		account.Approved = true
		account.SuspendedAt = nil
	case StatusSuspended:
		account.Active = false
		suspendedAt := at
		account.SuspendedAt = &suspendedAt
	case StatusPendingApproval:
		account.Active = false
		account.Approved = false
		account.SuspendedAt = nil
	case StatusPendingVerification:
		account.Active = false
		account.Approved = true
		account.EmailVerified = false
		account.SuspendedAt = nil
	}
}

func (sm *lifecycleMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}
