package accounts

import (
	"github.com/google/uuid"
)

// Operation splits capabilities into safe reads and unsafe writes
type Operation int

const (
	OpRead Operation = iota
	OpWrite
)

func (o Operation) String() string {
	if o == OpWrite {
		return "write"
	}
	return "read"
}

// Owned is implemented by resources that belong to an account
type Owned interface {
	OwnerID() uuid.UUID
}

// CanAccess reports whether account is active and holds one of roles.
func CanAccess(account *Account, roles ...Role) bool {
	if !account.IsActive() {
		return false
	}
	for _, r := range roles {
		if account.Role == r {
			return true
		}
	}
	return false
}

// CanMutate allows reads to anyone and writes only to the resource owner.
func CanMutate(actor *Account, resource Owned, op Operation) bool {
	if op == OpRead {
		return true
	}
	if actor == nil || resource == nil {
		return false
	}
	return actor.ID != uuid.Nil && resource.OwnerID() == actor.ID
}

// RequireRoles is CanAccess returning ErrForbidden
func RequireRoles(account *Account, roles ...Role) error {
	if !CanAccess(account, roles...) {
		return ErrForbidden
	}
	return nil
}

// IsAdmin reports whether account is an active admin
func IsAdmin(account *Account) bool {
	return CanAccess(account, RoleAdmin)
}

// CanAccess is the inbound form of CanAccess
func (m *Manager) CanAccess(account *Account, roles ...Role) bool {
	return CanAccess(account, roles...)
}

// CanMutate is the inbound form of CanMutate
func (m *Manager) CanMutate(actor *Account, resource Owned, op Operation) bool {
	return CanMutate(actor, resource, op)
}
