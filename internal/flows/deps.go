package flows

import (
	"context"
	"fmt"
)

// AuditFunc emits one audit event. meta is evaluated only when auditing is
// enabled.
type AuditFunc func(ctx context.Context, event string, success bool, userID, sessionID string, err error, meta func() map[string]string)

// Deps groups the flow dependency sets. The engine builds it once at Build
// time and hands the matching set to each Run* call.
type Deps struct {
	Refresh     RefreshDeps
	Sessions    SessionDeps
	Credentials CredentialDeps
	TwoFactor   TwoFactorDeps
}

func noopAudit(context.Context, string, bool, string, string, error, func() map[string]string) {}

func noopMetric(int) {}

// unavailable wraps a backend failure under the caller's sentinel.
func unavailable(sentinel, err error) error {
	return fmt.Errorf("%w: %v", sentinel, err)
}
