// Package middleware holds the gin middleware in front of the authcore
// routes: request id propagation, request logging, per-client rate limiting
// and access-token enforcement.
//
// [RequireAccess] reads the Authorization header, calls
// Engine.ValidateAccess, and stores the resulting [Principal] on the gin
// context. Handlers read it back with [PrincipalFrom].
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Touch the session or user stores.
//   - Make authorization decisions beyond pass/reject.
package middleware
