package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vipogroup/vipo_backend/controllers"
	"github.com/vipogroup/vipo_backend/middleware"
	"github.com/vipogroup/vipo_backend/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Dependencies bundles what the route groups need.
type Dependencies struct {
	JWTSecret    string
	Withdrawals  *controllers.WithdrawalController
	Health       *controllers.HealthController
	Hub          *websocket.Hub
	AdminLimiter *middleware.RateLimiter
	AgentLimiter *middleware.RateLimiter
	Metrics      http.Handler
}

// SetupRoutes configures all API routes by calling individual route registration functions
func SetupRoutes(e *echo.Echo, deps Dependencies) {
	e.Match([]string{http.MethodGet, http.MethodHead}, "/", deps.Health.Root)
	e.Match([]string{http.MethodGet, http.MethodHead}, "/health", deps.Health.Health)
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics))
	}

	RegisterAdminRoutes(e, deps.JWTSecret, deps.Withdrawals, deps.AdminLimiter)
	RegisterWithdrawalRoutes(e, deps.JWTSecret, deps.Withdrawals, deps.AgentLimiter)

	if deps.Hub != nil {
		e.GET("/api/ws", websocket.HandleWebSocket(deps.Hub, tokenParser(deps.JWTSecret)))
	}
}

func tokenParser(secret string) websocket.TokenParser {
	return func(raw string) (primitive.ObjectID, error) {
		claims, err := middleware.ParseJWT(secret, raw)
		if err != nil {
			return primitive.NilObjectID, err
		}
		actor, err := claims.Actor()
		if err != nil {
			return primitive.NilObjectID, err
		}
		return actor.ID, nil
	}
}
