package httpapp

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/open-sspm/egress-provisioner/internal/auth"
)

const (
	// ContextKeyRequestID stores the request id (X-Request-ID) for logging and client error references.
	ContextKeyRequestID = "request_id"
	// ContextKeyPrincipal stores the authenticated caller.
	ContextKeyPrincipal = "principal"

	headerRequestID = "X-Request-ID"
)

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// requestID propagates a well-formed incoming X-Request-ID or mints one.
func requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		id := c.Request().Header.Get(headerRequestID)
		if !requestIDPattern.MatchString(id) {
			id = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, id)
		c.Response().Header().Set(headerRequestID, id)
		return next(c)
	}
}

func requireToken(a *auth.TokenAuthenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !a.Configured() {
				return writeError(c, http.StatusServiceUnavailable, codeAuthNotConfigured, "api token is not configured")
			}
			token, ok := auth.BearerToken(c.Request().Header.Get("Authorization"))
			if !ok {
				c.Response().Header().Set("WWW-Authenticate", `Bearer realm="egress-provisioner"`)
				return writeError(c, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
			}
			principal, err := a.Authenticate(c.Request().Context(), token)
			if err != nil {
				if auth.IsAuthError(err) {
					c.Response().Header().Set("WWW-Authenticate", `Bearer realm="egress-provisioner"`)
					return writeError(c, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
				}
				return err
			}
			c.Set(ContextKeyPrincipal, principal)
			return next(c)
		}
	}
}
