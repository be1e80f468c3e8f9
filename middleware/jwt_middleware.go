// middleware/jwt_middleware.go
package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"github.com/vipogroup/vipo_backend/apperrors"
	"github.com/vipogroup/vipo_backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	contextKeyActor = "actor"

	msgAuthRequired = "נדרשת התחברות"
	msgInvalidToken = "טוקן לא תקין או שפג תוקפו"
)

// JwtCustomClaims for JWT token
type JwtCustomClaims struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	TenantID string `json:"tenantId,omitempty"`
	jwt.StandardClaims
}

// Valid skips the expiry check when ExpiresAt is 0.
func (c JwtCustomClaims) Valid() error {
	now := time.Now().Unix()
	if c.ExpiresAt > 0 && now > c.ExpiresAt {
		return errors.New("token is expired")
	}
	if c.NotBefore > 0 && now < c.NotBefore {
		return errors.New("token used before valid")
	}
	return nil
}

// Actor converts the claims into the caller identity used by the services.
func (c *JwtCustomClaims) Actor() (models.Actor, error) {
	id, err := primitive.ObjectIDFromHex(c.UserID)
	if err != nil {
		return models.Actor{}, errors.New("invalid user ID in token")
	}
	actor := models.Actor{
		ID:    id,
		Email: c.Email,
		Role:  strings.ToLower(c.Role),
	}
	if c.TenantID != "" {
		tenantID, err := primitive.ObjectIDFromHex(c.TenantID)
		if err != nil {
			return models.Actor{}, errors.New("invalid tenant ID in token")
		}
		actor.TenantID = &tenantID
	}
	return actor, nil
}

// JWTMiddleware validates the bearer token and stores the actor on the context.
func JWTMiddleware(secret string) echo.MiddlewareFunc {
	return middleware.JWTWithConfig(middleware.JWTConfig{
		SigningKey:    []byte(secret),
		SigningMethod: middleware.AlgorithmHS256,
		Claims:        &JwtCustomClaims{},
		SuccessHandler: func(c echo.Context) {
			claims := c.Get("user").(*jwt.Token).Claims.(*JwtCustomClaims)
			actor, err := claims.Actor()
			if err != nil {
				log.Ctx(c.Request().Context()).Warn().Err(err).Msg("rejecting token with malformed claims")
				return
			}
			c.Set(contextKeyActor, actor)
		},
		ErrorHandler: func(err error) error {
			if errors.Is(err, middleware.ErrJWTMissing) {
				return apperrors.Unauthorized(msgAuthRequired)
			}
			return apperrors.Wrap(apperrors.KindUnauthorized, err, msgInvalidToken)
		},
	})
}

// GenerateJWT signs claims for the given identity. A zero ttl issues a
// token without expiry.
func GenerateJWT(secret string, actor models.Actor, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("JWT secret is required")
	}
	now := time.Now()
	claims := &JwtCustomClaims{
		UserID: actor.ID.Hex(),
		Email:  actor.Email,
		Role:   actor.Role,
		StandardClaims: jwt.StandardClaims{
			IssuedAt: now.Unix(),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = now.Add(ttl).Unix()
	}
	if actor.TenantID != nil {
		claims.TenantID = actor.TenantID.Hex()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseJWT validates a raw token outside the echo middleware chain, e.g. for
// websocket upgrades where the token travels in the query string.
func ParseJWT(secret, raw string) (*JwtCustomClaims, error) {
	claims := &JwtCustomClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// ActorFrom returns the authenticated caller set by JWTMiddleware.
func ActorFrom(c echo.Context) (models.Actor, error) {
	actor, ok := c.Get(contextKeyActor).(models.Actor)
	if !ok {
		return models.Actor{}, apperrors.Unauthorized(msgAuthRequired)
	}
	return actor, nil
}
