package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	internalaudit "github.com/sitebook/authcore/internal/audit"
	internalflows "github.com/sitebook/authcore/internal/flows"
	"github.com/sitebook/authcore/jwt"
	"github.com/sitebook/authcore/password"
	"github.com/sitebook/authcore/session"
	"go.uber.org/zap"
)

// DefaultRole is assigned at registration when the request names none.
const DefaultRole = "worker"

const maxEmailBytes = 254

// Engine is the authentication and session core. Build one with [New]; it
// is safe for concurrent use.
type Engine struct {
	config    Config
	sessions  session.Store
	users     UserStore
	passwords *password.Hasher
	tokens    *jwt.Manager
	totp      *totpManager
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
	logger    *zap.Logger
	dummyHash string
	now       func() time.Time
	flows     internalflows.Deps
}

// Close flushes pending audit events and stops the dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks the session store and returns its round-trip time.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	d, err := e.sessions.Ping(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return d, nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

/*
====================================
REGISTER / LOGIN
====================================
*/

// Register creates a user and opens its first session.
//
// The email is lower-cased and trimmed before the uniqueness check. A
// taken email returns ErrConflict; a malformed request or a password
// outside the configured length bounds returns ErrInvalidInput.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email := internalflows.NormalizeEmail(in.Email)
	if !validEmail(email) {
		return nil, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name", ErrInvalidInput)
	}

	hash, err := e.passwords.Hash(in.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}

	role := strings.TrimSpace(in.Role)
	if role == "" {
		role = DefaultRole
	}

	user := &User{
		ID:              uuid.NewString(),
		Email:           email,
		PasswordHash:    hash,
		Name:            name,
		Role:            role,
		CompanyID:       strings.TrimSpace(in.CompanyID),
		PhoneNumber:     strings.TrimSpace(in.PhoneNumber),
		UnionMember:     in.UnionMember,
		TOTPLastCounter: -1,
		CreatedAt:       e.now().UTC(),
	}

	if err := e.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegister, false, "", "", ErrConflict, nil)
			return nil, ErrConflict
		}
		return nil, e.userStoreError(ctx, "create_user", user.ID, err)
	}

	result, err := e.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegister, true, user.ID, result.SessionID, nil, nil)
	return result, nil
}

// Login verifies email and password and opens a new session.
//
// Unknown email and wrong password both return ErrInvalidCredentials. An
// enrolled user must also send a TOTP or backup code: a missing code
// returns ErrTwoFactorRequired and a wrong one ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email := internalflows.NormalizeEmail(in.Email)

	var (
		user  *User
		check internalflows.PasswordCheck
	)
	if email != "" {
		found, err := e.users.GetUserByEmail(ctx, email)
		switch {
		case err == nil:
			user = found
			check = internalflows.PasswordCheck{Found: true, UserID: found.ID, PasswordHash: found.PasswordHash}
		case errors.Is(err, ErrUserNotFound):
		default:
			return nil, e.userStoreError(ctx, "get_user_by_email", "", err)
		}
	}

	if _, err := internalflows.RunCheckPassword(ctx, check, in.Password, e.flows.Credentials); err != nil {
		e.metricInc(MetricLoginFailure)
		e.securityWarn(ctx, "login failed", check.UserID, err)
		e.emitAudit(ctx, auditEventLoginFailure, false, check.UserID, "", err, nil)
		return nil, ErrInvalidCredentials
	}

	method := ""
	if user.TwoFactorEnabled {
		if strings.TrimSpace(in.TwoFactorCode) == "" {
			e.metricInc(MetricLoginTwoFactorRequired)
			e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, "", ErrTwoFactorRequired, nil)
			return nil, ErrTwoFactorRequired
		}
		used, err := internalflows.RunVerifyStepUp(ctx, toTwoFactorUser(user), in.TwoFactorCode, e.flows.TwoFactor)
		if err != nil {
			if errors.Is(err, ErrStorageUnavailable) {
				return nil, err
			}
			e.metricInc(MetricLoginFailure)
			e.securityWarn(ctx, "login two-factor code rejected", user.ID, err)
			e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, "", ErrInvalidCredentials, func() map[string]string {
				return map[string]string{"stage": "two_factor"}
			})
			return nil, ErrInvalidCredentials
		}
		method = used
	}

	result, err := e.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, result.SessionID, nil, func() map[string]string {
		if method == "" {
			return nil
		}
		return map[string]string{"two_factor": method}
	})
	return result, nil
}

/*
====================================
REFRESH / LOGOUT
====================================
*/

// Refresh rotates a refresh token. The presented token is consumed and a
// successor in the same session family is returned with a new access
// token.
//
// Every rejection returns ErrInvalidToken. Presenting a token that was
// already rotated or revoked counts as replay and, with reuse detection
// on, revokes every Active token of its owner. When Session.ReuseGrace is
// set, a rotated token presented again inside that window by the same IP
// and user agent that received its still-Active successor is rejected
// without that revocation.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	res := internalflows.RunRefresh(ctx, refreshToken, e.flows.Refresh)
	switch res.Failure {
	case internalflows.RefreshFailureNone:
	case internalflows.RefreshFailureUnavailable:
		e.storageError(ctx, "rotate_refresh_token", "", res.Err)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, res.Err)
	case internalflows.RefreshFailureReuse:
		userID, tokenID := "", ""
		if res.Presented != nil {
			userID, tokenID = res.Presented.UserID, res.Presented.ID
		}
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricRefreshReuseDetected)
		e.securityWarn(ctx, "refresh token reuse detected", userID, res.Err,
			zap.String("token_id", tokenID),
			zap.Int("revoked", res.Revoked))
		if res.RevokeErr != nil {
			e.storageError(ctx, "revoke_all_on_reuse", userID, res.RevokeErr)
		}
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, userID, tokenID, ErrInvalidToken, func() map[string]string {
			return map[string]string{"revoked": fmt.Sprint(res.Revoked)}
		})
		return nil, ErrInvalidToken
	default:
		userID, tokenID := "", ""
		if res.Presented != nil {
			userID, tokenID = res.Presented.UserID, res.Presented.ID
		}
		e.metricInc(MetricRefreshFailure)
		e.securityWarn(ctx, "refresh rejected", userID, res.Err, zap.String("reason", res.Failure.String()))
		e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, tokenID, ErrInvalidToken, func() map[string]string {
			return map[string]string{"reason": res.Failure.String()}
		})
		return nil, ErrInvalidToken
	}

	user, err := e.loadUser(ctx, res.Next.UserID)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			// The account is gone; the successor must not outlive it.
			if _, rerr := e.sessions.Revoke(ctx, res.Next.ID, session.ReasonSecurity, e.now()); rerr != nil {
				e.storageError(ctx, "revoke_orphan_successor", res.Next.UserID, rerr)
			}
			e.metricInc(MetricRefreshFailure)
		}
		return nil, err
	}

	access, accessExp, err := e.issueAccess(user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.ID, res.Next.ID, nil, nil)
	return &AuthResult{
		User:             user,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     res.Token,
		RefreshExpiresAt: res.Next.ExpiresAt,
		SessionID:        res.Next.ID,
	}, nil
}

// Logout revokes every Active refresh token of userID. Store failures are
// logged and otherwise ignored so that logout always succeeds for the
// caller.
func (e *Engine) Logout(ctx context.Context, userID string) {
	if e == nil || userID == "" {
		return
	}

	count, err := internalflows.RunRevokeAll(ctx, userID, session.ReasonLogout, e.flows.Sessions)
	if err != nil {
		e.storageError(ctx, "logout", userID, err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, err == nil, userID, "", err, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(count)}
	})
}

/*
====================================
ACCESS TOKENS
====================================
*/

// ValidateAccess verifies an access token's signature and expiry. It never
// touches storage. Every failure returns ErrInvalidToken.
func (e *Engine) ValidateAccess(tokenStr string) (*AccessPrincipal, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	claims, err := e.tokens.ParseAccess(tokenStr)
	if err != nil {
		return nil, ErrInvalidToken
	}

	principal := &AccessPrincipal{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		CompanyID: claims.CompanyID,
	}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time
	}
	return principal, nil
}

/*
====================================
PASSWORD CHANGE
====================================
*/

// ChangePassword re-verifies current, stores the hash of next, revokes
// every session of the user and opens a fresh one.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, next string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if _, err := internalflows.RunCheckPassword(ctx, internalflows.PasswordCheck{
		Found:        true,
		UserID:       user.ID,
		PasswordHash: user.PasswordHash,
	}, current, e.flows.Credentials); err != nil {
		e.securityWarn(ctx, "password change rejected", user.ID, err)
		e.emitAudit(ctx, auditEventPasswordChanged, false, user.ID, "", err, nil)
		return nil, ErrInvalidCredentials
	}

	if current == next {
		return nil, fmt.Errorf("%w: new password must differ", ErrInvalidInput)
	}
	hash, err := e.passwords.Hash(next)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return nil, e.userStoreError(ctx, "update_password_hash", user.ID, err)
	}
	user.PasswordHash = hash

	revoked, err := internalflows.RunRevokeAll(ctx, user.ID, session.ReasonSecurity, e.flows.Sessions)
	if err != nil {
		return nil, e.sessionStoreError(ctx, "revoke_all_on_password_change", user.ID, err)
	}

	result, err := e.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditEventPasswordChanged, true, user.ID, result.SessionID, nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(revoked)}
	})
	return result, nil
}

/*
====================================
HELPERS
====================================
*/

func (e *Engine) issuePair(ctx context.Context, user *User) (*AuthResult, error) {
	issued, err := internalflows.RunIssueSession(ctx, user.ID, e.flows.Sessions)
	if err != nil {
		return nil, e.sessionStoreError(ctx, "issue_session", user.ID, err)
	}

	access, accessExp, err := e.issueAccess(user)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		User:             user,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     issued.Token,
		RefreshExpiresAt: issued.Row.ExpiresAt,
		SessionID:        issued.Row.ID,
	}, nil
}

func (e *Engine) issueAccess(user *User) (string, time.Time, error) {
	return e.tokens.CreateAccess(jwt.Subject{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		CompanyID: user.CompanyID,
	})
}

func validEmail(email string) bool {
	if email == "" || len(email) > maxEmailBytes {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}
	return !strings.ContainsAny(email, " \t\r\n")
}
