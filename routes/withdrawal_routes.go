package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/vipogroup/vipo_backend/controllers"
	"github.com/vipogroup/vipo_backend/middleware"
	"github.com/vipogroup/vipo_backend/models"
)

// RegisterWithdrawalRoutes registers the agent facing withdrawal endpoints.
func RegisterWithdrawalRoutes(e *echo.Echo, jwtSecret string, wc *controllers.WithdrawalController, limiter *middleware.RateLimiter) {
	agentGroup := e.Group("/api/withdrawals")
	agentGroup.Use(middleware.JWTMiddleware(jwtSecret))
	agentGroup.Use(middleware.RequireRole(models.RoleAgent))
	if limiter != nil {
		agentGroup.Use(limiter.RateLimit())
	}

	agentGroup.POST("", wc.CreateWithdrawal)
	agentGroup.GET("", wc.ListMyWithdrawals)
	agentGroup.GET("/ledger", wc.GetLedger)
}
