package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
)

// RequireRole passes callers holding any of roles. Admin passes everything.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			if lo.Contains(userRoles, RoleAdmin) || lo.Some(userRoles, roles) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden, "required role: "+strings.Join(roles, " or "))
		}
	}
}
