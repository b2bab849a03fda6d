package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sitebook/authcore"
)

const principalKey = "authcore.principal"

// Principal is the caller identity attached by RequireAccess.
type Principal struct {
	UserID    string
	Email     string
	Role      string
	CompanyID string
}

// AccessValidator is the part of *authcore.Engine RequireAccess needs.
type AccessValidator interface {
	ValidateAccess(token string) (*authcore.AccessPrincipal, error)
}

// PrincipalFrom returns the principal stored by RequireAccess.
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// RequireAccess rejects requests without a valid Bearer access token with
// 401 {"error":"Unauthorized"}.
func RequireAccess(engine AccessValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if engine == nil {
			abortUnauthorized(c)
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c)
			return
		}

		principal, err := engine.ValidateAccess(token)
		if err != nil {
			abortUnauthorized(c)
			return
		}

		c.Set(principalKey, Principal{
			UserID:    principal.UserID,
			Email:     principal.Email,
			Role:      principal.Role,
			CompanyID: principal.CompanyID,
		})
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
