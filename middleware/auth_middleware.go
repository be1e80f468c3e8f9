// middleware/auth_middleware.go
package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/vipogroup/vipo_backend/apperrors"
)

const msgRoleDenied = "אין הרשאה לבצע פעולה זו"

// RequireRole checks if the authenticated user has one of the allowed roles.
func RequireRole(allowed ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, err := ActorFrom(c)
			if err != nil {
				return err
			}

			for _, role := range allowed {
				if actor.Role == role {
					return next(c)
				}
			}

			log.Ctx(c.Request().Context()).Warn().
				Str("userId", actor.ID.Hex()).
				Str("role", actor.Role).
				Strs("allowed", allowed).
				Str("path", c.Request().URL.Path).
				Msg("access denied for role")
			return apperrors.Forbidden(msgRoleDenied)
		}
	}
}
