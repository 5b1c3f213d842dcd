package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const authTokenKey = "authToken"

// bearerAuth extracts a "Bearer <token>" credential from the named header and
// stashes the bare token in the request context. The three failure shapes get
// distinct messages so callers can tell a missing header from a malformed one.
func bearerAuth(header string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := c.Request().Header.Get(header)
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, fmt.Sprintf("%s header is required", header))
			}
			if !strings.HasPrefix(raw, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format, should be Bearer token")
			}
			token := strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token is required")
			}
			c.Set(authTokenKey, token)
			return next(c)
		}
	}
}

func requestToken(c echo.Context) string {
	token, _ := c.Get(authTokenKey).(string)
	return token
}
