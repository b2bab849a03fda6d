// Package session owns refresh-token persistence: the [RefreshToken] row
// model, its lifecycle states, the [Store] port the engine depends on, and
// a Redis implementation ([RedisStore]) that performs rotation as a single
// Lua compare-and-set.
//
// # Lifecycle
//
// A row is Active until it is rotated, revoked, or its expiry passes. Every
// non-active state is terminal. Rows are never deleted by this package; the
// Redis implementation only lets keys lapse after a retention window.
//
// # What this package must NOT do
//
//   - Import authcore, jwt, or password (no upward imports).
//   - Persist plaintext refresh tokens. Only SHA-256 digests are stored.
//   - Retry a rotation or revocation on failure.
package session
