package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sitebook/authcore"
	"github.com/sitebook/authcore/middleware"
	"go.uber.org/zap"
)

// Handler serves the auth and two-factor routes.
type Handler struct {
	engine        *authcore.Engine
	logger        *zap.Logger
	secureCookies bool
}

// NewHandler returns a Handler. secureCookies sets the Secure attribute on
// the refresh cookie and should be on in production.
func NewHandler(engine *authcore.Engine, logger *zap.Logger, secureCookies bool) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:        engine,
		logger:        logger.Named("http"),
		secureCookies: secureCookies,
	}
}

// RouterOptions are the optional parts of the router.
type RouterOptions struct {
	// Limiter gates register, login, refresh and the two-factor routes.
	// Nil disables rate limiting.
	Limiter *middleware.RateLimiter
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// NewRouter builds the gin engine with recovery, request ids, request
// logging and every route of h.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(h.logger))

	limit := opts.Limiter.RateLimit()
	requireAccess := middleware.RequireAccess(h.engine)

	r.GET("/healthz", h.Health)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	auth := r.Group("/auth")
	auth.POST("/register", limit, h.Register)
	auth.POST("/login", limit, h.Login)
	auth.POST("/refresh", limit, h.Refresh)
	auth.POST("/logout", requireAccess, h.Logout)
	auth.GET("/sessions", requireAccess, h.ListSessions)
	auth.DELETE("/sessions/:id", requireAccess, h.RevokeSession)
	auth.POST("/revoke-all-sessions", requireAccess, h.RevokeOtherSessions)
	auth.POST("/change-password", limit, requireAccess, h.ChangePassword)

	twoFactor := r.Group("/2fa", limit, requireAccess)
	twoFactor.POST("/setup", h.SetupTwoFactor)
	twoFactor.POST("/verify", h.VerifyTwoFactor)
	twoFactor.GET("/status", h.TwoFactorStatus)
	twoFactor.POST("/disable", h.DisableTwoFactor)
	twoFactor.POST("/backup-codes", h.RegenerateBackupCodes)

	return r
}

// principal returns the caller set by RequireAccess. Routes using it are
// always behind that middleware.
func principal(c *gin.Context) middleware.Principal {
	p, _ := middleware.PrincipalFrom(c)
	return p
}
