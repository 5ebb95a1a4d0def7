package accounts

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	MessageApproved      = "User %s has been approved."
	MessageAlreadyActive = "User %s is already active."
)

// ApproveMessage targets an account by id
type ApproveMessage struct {
	AccountID uuid.UUID `json:"account_id"`
	Reason    string    `json:"reason,omitempty"`
}

func (e ApproveMessage) Type() string { return "account.approve" }

// ApproveResult reports the outcome of an approval. Approving an active
// account is a success with AlreadyActive set.
type ApproveResult struct {
	Account       *Account `json:"user"`
	AlreadyActive bool     `json:"already_active"`
	Message       string   `json:"message"`
}

// Approve activates the target account. Only an active admin may approve.
func (m *Manager) Approve(ctx context.Context, actor *Account, msg ApproveMessage) (*ApproveResult, error) {
	ctx, cancel, err := m.guard(ctx, "account approval")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if !IsAdmin(actor) {
		return nil, ErrForbidden
	}

	var (
		result *ApproveResult
		tc     *TransitionContext
	)

	err = m.retryStale(ctx, func() error {
		tc = nil
		return m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			target, err := m.store.GetAccountByIDTx(ctx, tx, msg.AccountID)
			if err != nil {
				return err
			}

			if target.IsActive() {
				if _, err := EnsureProfileTx(ctx, m.store, tx, target, m.now()); err != nil {
					return err
				}
				result = &ApproveResult{
					Account:       target,
					AlreadyActive: true,
					Message:       fmt.Sprintf(MessageAlreadyActive, target.Email),
				}
				return nil
			}

			reason := msg.Reason
			if reason == "" {
				reason = "admin approval"
			}
			t, err := m.machine.Transition(ctx, ActorOf(actor), target, StatusActive, WithTransitionReason(reason))
			if err != nil {
				return err
			}

			updated, err := m.saveAccountTx(ctx, tx, target)
			if err != nil {
				return err
			}

			tc = &t
			result = &ApproveResult{
				Account: updated,
				Message: fmt.Sprintf(MessageApproved, updated.Email),
			}
			return nil
		})
	})
	if err != nil {
		return nil, m.boundary(err, "failed to approve account")
	}

	m.recordTransition(ctx, tc)
	return result, nil
}

// SuspendMessage deactivates an account
type SuspendMessage struct {
	AccountID uuid.UUID `json:"account_id"`
	Reason    string    `json:"reason,omitempty"`
}

func (e SuspendMessage) Type() string { return "account.suspend" }

// Suspend moves the target to suspended. Only an active admin may suspend,
// and not their own account.
func (m *Manager) Suspend(ctx context.Context, actor *Account, msg SuspendMessage) (*Account, error) {
	if IsAdmin(actor) && actor.ID == msg.AccountID {
		return nil, NewFieldError("account_id", "You cannot suspend your own account.")
	}
	return m.transitionByAdmin(ctx, actor, msg.AccountID, StatusSuspended, msg.Reason, "account suspension")
}

// ReinstateMessage reactivates a suspended account
type ReinstateMessage struct {
	AccountID uuid.UUID `json:"account_id"`
	Reason    string    `json:"reason,omitempty"`
}

func (e ReinstateMessage) Type() string { return "account.reinstate" }

// Reinstate moves a suspended account back to active.
func (m *Manager) Reinstate(ctx context.Context, actor *Account, msg ReinstateMessage) (*Account, error) {
	return m.transitionByAdmin(ctx, actor, msg.AccountID, StatusActive, msg.Reason, "account reinstatement", func(target *Account) error {
		if target.Status() != StatusSuspended {
			return fmt.Errorf("%w: %s is not suspended", ErrInvalidTransition, target.Status())
		}
		return nil
	})
}

func (m *Manager) transitionByAdmin(ctx context.Context, actor *Account, id uuid.UUID, target Status, reason, op string, checks ...func(*Account) error) (*Account, error) {
	ctx, cancel, err := m.guard(ctx, op)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if !IsAdmin(actor) {
		return nil, ErrForbidden
	}

	var (
		account *Account
		tc      *TransitionContext
	)

	err = m.retryStale(ctx, func() error {
		tc = nil
		return m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			current, err := m.store.GetAccountByIDTx(ctx, tx, id)
			if err != nil {
				return err
			}
			for _, check := range checks {
				if err := check(current); err != nil {
					return err
				}
			}

			t, err := m.machine.Transition(ctx, ActorOf(actor), current, target, WithTransitionReason(reason))
			if err != nil {
				return err
			}
			if t.Noop {
				account = current
				return nil
			}

			if account, err = m.saveAccountTx(ctx, tx, current); err != nil {
				return err
			}
			tc = &t
			return nil
		})
	})
	if err != nil {
		return nil, m.boundary(err, "failed during "+op)
	}

	m.recordTransition(ctx, tc)
	return account, nil
}
