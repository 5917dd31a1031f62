package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into a 500. The panic is logged on the
// request-scoped logger when Logger has attached one, so the line carries the
// request id. http.ErrAbortHandler is re-raised for net/http to handle.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				cause, ok := r.(error)
				if !ok {
					cause = errors.Newf("%v", r)
				}

				l := zerolog.Ctx(c.Request().Context())
				if l.GetLevel() == zerolog.Disabled {
					l = &logger
				}
				tenant, _ := c.Get("tenant_id").(string)
				l.Error().
					Err(cause).
					Str("tenant_id", tenant).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Str("stack", string(debug.Stack())).
					Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(cause)
			}()
			return next(c)
		}
	}
}
