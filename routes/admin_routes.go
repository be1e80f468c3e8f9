package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/vipogroup/vipo_backend/controllers"
	"github.com/vipogroup/vipo_backend/middleware"
	"github.com/vipogroup/vipo_backend/models"
)

// RegisterAdminRoutes registers the withdrawal administration endpoints.
// Every request is authenticated, restricted to admins and rate limited per
// admin and request signature.
func RegisterAdminRoutes(e *echo.Echo, jwtSecret string, wc *controllers.WithdrawalController, limiter *middleware.RateLimiter) {
	adminGroup := e.Group("/api/admin/withdrawals")
	adminGroup.Use(middleware.JWTMiddleware(jwtSecret))
	adminGroup.Use(middleware.RequireRole(models.RoleAdmin, models.RoleSuperAdmin))
	if limiter != nil {
		adminGroup.Use(limiter.RateLimit())
	}

	adminGroup.GET("", wc.ListWithdrawals)
	adminGroup.GET("/:id", wc.GetWithdrawal)
	adminGroup.PATCH("/:id", wc.UpdateWithdrawal)
}
