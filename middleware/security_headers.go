// middleware/security_headers.go
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/vipogroup/vipo_backend/apperrors"
	"github.com/vipogroup/vipo_backend/security"
)

const msgUnsupportedContentType = "סוג התוכן אינו נתמך"

// SecurityHeaders sets the response headers for a JSON-only API.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Cache-Control", "no-store")

			h.Del("Server")
			h.Del("X-Powered-By")

			return next(c)
		}
	}
}

// RequireJSONBody rejects request bodies that are not form or JSON encoded.
func RequireJSONBody() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodPost && req.Method != http.MethodPatch && req.Method != http.MethodPut {
				return next(c)
			}
			if req.ContentLength == 0 {
				return next(c)
			}
			mediaType := strings.TrimSpace(strings.Split(req.Header.Get(echo.HeaderContentType), ";")[0])
			if !security.ValidateContentType(strings.ToLower(mediaType)) {
				return apperrors.New(apperrors.KindValidation, msgUnsupportedContentType)
			}
			return next(c)
		}
	}
}
