package accounts

import (
	"context"
)

var actorCtxKey = &contextKey{"actor"}

type contextKey struct {
	name string
}

// WithActor stores the authenticated account in ctx
func WithActor(ctx context.Context, account *Account) context.Context {
	return context.WithValue(ctx, actorCtxKey, account)
}

// ActorFromContext returns the account stored by WithActor
func ActorFromContext(ctx context.Context) (*Account, bool) {
	account, ok := ctx.Value(actorCtxKey).(*Account)
	return account, ok && account != nil
}

// ActorRefFromContext is ActorOf for the account in ctx, SystemActor when
// there is none.
func ActorRefFromContext(ctx context.Context) ActorRef {
	account, _ := ActorFromContext(ctx)
	return ActorOf(account)
}

// Can reports whether the account in ctx holds one of roles
func Can(ctx context.Context, roles ...Role) bool {
	account, ok := ActorFromContext(ctx)
	return ok && CanAccess(account, roles...)
}
