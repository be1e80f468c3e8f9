package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/vipogroup/vipo_backend/apperrors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const msgWebSocketAuth = "נדרש טוקן תקין לחיבור"

// TokenParser resolves the user id carried by a raw JWT.
type TokenParser func(raw string) (primitive.ObjectID, error)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWebSocket authenticates the ?token= query parameter before the
// upgrade and registers the connection with the hub.
func HandleWebSocket(hub *Hub, parse TokenParser) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := c.QueryParam("token")
		if raw == "" {
			return apperrors.Unauthorized(msgWebSocketAuth)
		}
		userID, err := parse(raw)
		if err != nil {
			return apperrors.Wrap(apperrors.KindUnauthorized, err, msgWebSocketAuth)
		}

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			log.Ctx(c.Request().Context()).Warn().Err(err).Msg("websocket upgrade failed")
			return nil
		}

		client := &Client{UserID: userID, Conn: conn}
		hub.add(client)

		_ = client.send(Notification{
			Type:    "connected",
			Message: "WebSocket connection established",
			UserID:  userID.Hex(),
		})

		// Reads only detect disconnects; clients do not send commands.
		go func() {
			defer hub.remove(client)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		return nil
	}
}
