package accounts_test

import (
	"context"
	"testing"

	"github.com/karpithal/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSuperuser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	admin, err := h.manager.CreateSuperuser(ctx, accounts.CreateSuperuserMessage{Email: "Root@Example.com", Password: strongPassword})
	require.NoError(t, err)
	assert.Equal(t, "root@example.com", admin.Email)
	assert.Equal(t, accounts.RoleAdmin, admin.Role)
	assert.Equal(t, accounts.StatusActive, admin.Status())
	assert.True(t, accounts.IsAdmin(admin))
	h.requireProfile(t, admin)
	assert.Zero(t, h.mailer.Count(accounts.MailVerifyEmail))

	events := h.sink.Of(accounts.ActivityEventAccountRegistered)
	require.Len(t, events, 1)
	assert.Equal(t, accounts.SystemActor, events[0].Actor)

	// the new admin can approve instructors right away
	reg, err := h.manager.Register(ctx, admin, accounts.RegisterMessage{Email: "i@example.com", Password: otherPassword, Role: "instructor"})
	require.NoError(t, err)
	_, err = h.manager.Approve(ctx, admin, accounts.ApproveMessage{AccountID: reg.Account.ID})
	require.NoError(t, err)

	_, err = h.manager.CreateSuperuser(ctx, accounts.CreateSuperuserMessage{Email: "root@example.com", Password: strongPassword})
	assert.ErrorIs(t, err, accounts.ErrDuplicateEmail)
}

func TestCreateSuperuserValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.manager.CreateSuperuser(ctx, accounts.CreateSuperuserMessage{Email: "not-an-email", Password: strongPassword})
	fields, ok := accounts.ValidationFields(err)
	require.True(t, ok)
	assert.Equal(t, "Enter a valid email address.", fields["email"])

	_, err = h.manager.CreateSuperuser(ctx, accounts.CreateSuperuserMessage{Email: "root@example.com", Password: "password123"})
	fields, ok = accounts.ValidationFields(err)
	require.True(t, ok)
	assert.Contains(t, fields["password"], "too common")

	assert.Zero(t, h.countAccounts(t, "1 = 1"))
}
