// Package authcore is the authentication and session core of SiteBook.
//
// It verifies credentials, mints short-lived access tokens, and issues
// opaque refresh tokens that rotate on every use. Each rotation consumes
// the presented token and inserts its successor in one atomic store step;
// presenting a consumed token again is treated as replay. Users may enroll
// TOTP two-factor with single-use backup codes, and list or revoke their
// sessions.
//
// # Architecture boundaries
//
// authcore is the public surface: [Engine], [Builder], [Config] and the
// value types. Flow orchestration lives under internal/flows and never
// imports this package. Persistence is injected through [UserStore] and
// session.Store; session.NewRedisStore and the store/postgres package are
// the shipped implementations.
//
// # Errors
//
// Every Engine method returns errors that match exactly one exported
// sentinel under errors.Is. [KindOf] maps an error to its [ErrorKind].
// Backend failures wrap [ErrStorageUnavailable].
//
// # Access tokens
//
// [Engine.ValidateAccess] checks signature and expiry only and performs no
// I/O. Revoking sessions does not invalidate access tokens already issued;
// they expire on their own within Config.Token.AccessTTL.
package authcore
