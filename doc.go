// Package accounts implements the account lifecycle and credential core of the
// Karpithal learning platform: registration, email verification, admin
// approval, password reset and change, OAuth linking, role checks and the
// profile sidecar that travels with every account.
//
// Account lifecycle:
//   - Accounts carry three flags (EmailVerified, Approved, Active) plus a
//     suspension timestamp. Status derives the lifecycle state from them:
//     pending verification, pending approval, active or suspended.
//   - LifecycleMachine owns the transition graph. Manager operations mutate an
//     account inside a single Store transaction, run the transition, ensure the
//     profile exists and persist with optimistic versioning.
//
// Credentials:
//   - Passwords are hashed with a Hasher (argon2id by default, bcrypt
//     supported). OAuth accounts carry an unusable password marker.
//   - One-time tokens (email verification, password reset) are signed JWTs
//     backed by a persisted record that is consumed exactly once.
//
// Activity sinks:
//   - ActivitySink receives audit events for registrations, status changes,
//     password changes and logins. Sinks run best-effort; failures are logged.
package accounts
