package session

import "time"

// RevokeReason records why a refresh token left the Active state.
type RevokeReason string

const (
	ReasonLogout   RevokeReason = "logout"
	ReasonRotated  RevokeReason = "rotated"
	ReasonSecurity RevokeReason = "security"
	ReasonManual   RevokeReason = "manual"
	ReasonExpired  RevokeReason = "expired"
)

// Valid reports whether r is one of the known reasons.
func (r RevokeReason) Valid() bool {
	switch r {
	case ReasonLogout, ReasonRotated, ReasonSecurity, ReasonManual, ReasonExpired:
		return true
	default:
		return false
	}
}

// State is the lifecycle state of a refresh token at a point in time.
type State uint8

const (
	StateActive State = iota
	StateRotated
	StateRevoked
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRotated:
		return "rotated"
	case StateRevoked:
		return "revoked"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// RefreshToken is one issued refresh token.
//
// FamilyID is the ID of the first token of a login; every successor produced
// by rotation inherits it, so it identifies the device session across
// rotations. ReplacedBy is set on the consumed row when it is rotated.
type RefreshToken struct {
	ID            string
	FamilyID      string
	UserID        string
	TokenHash     [32]byte
	IssuedAt      time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time
	RevokedReason RevokeReason
	ReplacedBy    string
	IPAddress     string
	UserAgent     string
}

// StateAt derives the lifecycle state at now. Expiry is never written; it
// follows from the clock.
func (t *RefreshToken) StateAt(now time.Time) State {
	if t.RevokedAt != nil {
		if t.RevokedReason == ReasonRotated {
			return StateRotated
		}
		return StateRevoked
	}
	if !now.Before(t.ExpiresAt) {
		return StateExpired
	}
	return StateActive
}

// ActiveAt reports whether t may still authenticate at now.
func (t *RefreshToken) ActiveAt(now time.Time) bool {
	return t.StateAt(now) == StateActive
}
