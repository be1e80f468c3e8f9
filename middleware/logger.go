package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vipogroup/vipo_backend/metrics"
)

// RequestLogger attaches a request scoped zerolog logger to the request
// context and writes one access log line per request.
func RequestLogger(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = req.Header.Get(echo.HeaderXRequestID)
			}

			logger := log.With().
				Str("requestId", requestID).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Logger()
			c.SetRequest(req.WithContext(logger.WithContext(req.Context())))

			err := next(c)
			if err != nil {
				// Let the central handler write the response so the status is known.
				c.Error(err)
			}

			status := c.Response().Status
			latency := time.Since(start)
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveRequest(req.Method, route, status, latency)

			var event *zerolog.Event
			switch {
			case status >= 500:
				event = logger.Error()
			case status >= 400:
				event = logger.Warn()
			default:
				event = logger.Info()
			}
			if actor, actorErr := ActorFrom(c); actorErr == nil {
				event = event.Str("userId", actor.ID.Hex())
			}
			event.
				Str("route", route).
				Int("status", status).
				Dur("latency", latency).
				Str("ip", c.RealIP()).
				Msg("request completed")

			return nil
		}
	}
}
