package authcore

import "errors"

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong
	// password. The two cases are indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned for a refresh or access token that is
	// unknown, revoked, rotated, expired or malformed.
	ErrInvalidToken = errors.New("invalid token")
	// ErrAlreadyEnrolled is returned when two-factor is already enabled.
	ErrAlreadyEnrolled = errors.New("two-factor already enabled")
	// ErrNotEnrolled is returned when a two-factor operation needs an
	// enrollment (pending or enabled) that does not exist.
	ErrNotEnrolled = errors.New("two-factor not enabled")
	// ErrInvalidCode is returned for a wrong or replayed two-factor code.
	ErrInvalidCode = errors.New("invalid two-factor code")
	// ErrTwoFactorRequired is returned by Login when the user is enrolled
	// and no second factor was supplied.
	ErrTwoFactorRequired = errors.New("two-factor code required")
	// ErrConflict is returned when a unique resource already exists.
	ErrConflict = errors.New("conflict")
	// ErrNotFound is returned for a session or user that does not exist or
	// is not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrStorageUnavailable wraps persistence failures. Callers may retry
	// the whole request; the engine never retries a mutation itself.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidInput is returned when a request fails basic shape checks.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUserNotFound is returned by UserStore implementations for a
	// missing user. The engine maps it before it reaches callers.
	ErrUserNotFound = errors.New("user not found")
	// ErrEngineNotReady is returned when a required dependency is missing.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorKind is the enumerable classification of engine errors.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindInvalidCredentials
	KindInvalidToken
	KindAlreadyEnrolled
	KindNotEnrolled
	KindInvalidCode
	KindTwoFactorRequired
	KindConflict
	KindNotFound
	KindStorageUnavailable
	KindInvalidInput
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindInvalidToken:
		return "invalid_token"
	case KindAlreadyEnrolled:
		return "already_enrolled"
	case KindNotEnrolled:
		return "not_enrolled"
	case KindInvalidCode:
		return "invalid_code"
	case KindTwoFactorRequired:
		return "two_factor_required"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// KindOf classifies err. Errors that match none of the package sentinels
// are KindUnknown.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, ErrInvalidToken):
		return KindInvalidToken
	case errors.Is(err, ErrAlreadyEnrolled):
		return KindAlreadyEnrolled
	case errors.Is(err, ErrNotEnrolled):
		return KindNotEnrolled
	case errors.Is(err, ErrInvalidCode):
		return KindInvalidCode
	case errors.Is(err, ErrTwoFactorRequired):
		return KindTwoFactorRequired
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUserNotFound):
		return KindNotFound
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	default:
		return KindUnknown
	}
}
