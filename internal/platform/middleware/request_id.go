package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestIDHeader is the header request IDs are read from and echoed to.
const RequestIDHeader = "X-Request-ID"

// RequestID attaches a request ID to every request. An incoming X-Request-ID
// header is preserved so IDs stay stable across proxies; otherwise a fresh
// UUID is generated. The ID is stored under the "request_id" context key and
// echoed on the response.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" {
				rid = uuid.NewString()
			}

			c.Set("request_id", rid)
			c.Response().Header().Set(RequestIDHeader, rid)

			return next(c)
		}
	}
}
