package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsMaxAge       = "86400"
)

// CORS returns an Echo middleware that opens the proxy to browser callers.
// Preflight requests are answered here and never reach the upstream.
//
// The headers are set before the handler runs, so a proxied response may
// still replace them with the upstream's own values.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			h := c.Response().Header()

			h.Set(echo.HeaderAccessControlAllowOrigin, "*")
			h.Set(echo.HeaderAccessControlAllowMethods, corsAllowMethods)
			if requested := req.Header.Get(echo.HeaderAccessControlRequestHeaders); requested != "" {
				h.Set(echo.HeaderAccessControlAllowHeaders, requested)
			} else {
				h.Set(echo.HeaderAccessControlAllowHeaders, "*")
			}

			if req.Method == http.MethodOptions {
				h.Set(echo.HeaderAccessControlMaxAge, corsMaxAge)
				return c.NoContent(http.StatusOK)
			}

			return next(c)
		}
	}
}
