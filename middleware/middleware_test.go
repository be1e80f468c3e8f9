package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vipogroup/vipo_backend/apperrors"
	"github.com/vipogroup/vipo_backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const testSecret = "test-secret"

func newContext(method, target string, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

func TestJWTMiddleware_SetsActor(t *testing.T) {
	tenantID := primitive.NewObjectID()
	actor := models.Actor{ID: primitive.NewObjectID(), Email: "admin@vipo.co.il", Role: models.RoleAdmin, TenantID: &tenantID}
	token, err := GenerateJWT(testSecret, actor, time.Hour)
	require.NoError(t, err)

	c, _ := newContext(http.MethodGet, "/api/admin/withdrawals", "")
	c.Request().Header.Set(echo.HeaderAuthorization, "Bearer "+token)

	var got models.Actor
	err = JWTMiddleware(testSecret)(func(c echo.Context) error {
		var actorErr error
		got, actorErr = ActorFrom(c)
		return actorErr
	})(c)
	require.NoError(t, err)
	assert.Equal(t, actor.ID, got.ID)
	assert.Equal(t, models.RoleAdmin, got.Role)
	require.NotNil(t, got.TenantID)
	assert.Equal(t, tenantID, *got.TenantID)
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	expired, err := GenerateJWT(testSecret, models.Actor{ID: primitive.NewObjectID(), Role: models.RoleAdmin}, -time.Minute)
	require.NoError(t, err)
	foreign, err := GenerateJWT("other-secret", models.Actor{ID: primitive.NewObjectID(), Role: models.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	tests := map[string]string{
		"missing":      "",
		"garbage":      "Bearer not.a.token",
		"expired":      "Bearer " + expired,
		"wrong secret": "Bearer " + foreign,
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			c, _ := newContext(http.MethodGet, "/api/admin/withdrawals", "")
			if header != "" {
				c.Request().Header.Set(echo.HeaderAuthorization, header)
			}
			err := JWTMiddleware(testSecret)(okHandler)(c)
			assert.Equal(t, apperrors.KindUnauthorized, apperrors.KindOf(err))
		})
	}
}

func TestParseJWT(t *testing.T) {
	id := primitive.NewObjectID()
	token, err := GenerateJWT(testSecret, models.Actor{ID: id, Role: models.RoleAgent}, 0)
	require.NoError(t, err)

	claims, err := ParseJWT(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, id.Hex(), claims.UserID)

	_, err = ParseJWT("nope", token)
	assert.Error(t, err)
}

func TestClaimsActor_InvalidIDs(t *testing.T) {
	_, err := (&JwtCustomClaims{UserID: "123"}).Actor()
	assert.Error(t, err)

	_, err = (&JwtCustomClaims{UserID: primitive.NewObjectID().Hex(), TenantID: "x"}).Actor()
	assert.Error(t, err)

	actor, err := (&JwtCustomClaims{UserID: primitive.NewObjectID().Hex(), Role: "ADMIN"}).Actor()
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, actor.Role)
	assert.Nil(t, actor.TenantID)
}

func TestRequireRole(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/", "")
	c.Set(contextKeyActor, models.Actor{ID: primitive.NewObjectID(), Role: models.RoleAdmin})
	require.NoError(t, RequireRole(models.RoleAdmin, models.RoleSuperAdmin)(okHandler)(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	c, _ = newContext(http.MethodGet, "/", "")
	c.Set(contextKeyActor, models.Actor{ID: primitive.NewObjectID(), Role: models.RoleAgent})
	err := RequireRole(models.RoleAdmin)(okHandler)(c)
	assert.True(t, apperrors.IsForbidden(err))

	c, _ = newContext(http.MethodGet, "/", "")
	err = RequireRole(models.RoleAdmin)(okHandler)(c)
	assert.Equal(t, apperrors.KindUnauthorized, apperrors.KindOf(err))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := store.Allow(context.Background(), "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, _ := store.Allow(context.Background(), "k", 3, time.Minute)
	assert.False(t, ok)

	ok, _ = store.Allow(context.Background(), "other", 3, time.Minute)
	assert.True(t, ok)

	now = now.Add(20 * time.Second)
	ok, _ = store.Allow(context.Background(), "k", 3, time.Minute)
	assert.True(t, ok)

	now = now.Add(time.Hour)
	store.Cleanup()
	assert.Empty(t, store.entries)
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, assert.AnError
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(NewMemoryStore(), "admin", 2, time.Minute)
	adminID := primitive.NewObjectID()

	call := func(id primitive.ObjectID, ua string) (*httptest.ResponseRecorder, error) {
		c, rec := newContext(http.MethodPatch, "/api/admin/withdrawals/x", "")
		c.Request().Header.Set("User-Agent", ua)
		c.Set(contextKeyActor, models.Actor{ID: id, Role: models.RoleAdmin})
		return rec, limiter.RateLimit()(okHandler)(c)
	}

	for i := 0; i < 2; i++ {
		_, err := call(adminID, "browser")
		require.NoError(t, err)
	}
	rec, err := call(adminID, "browser")
	assert.Equal(t, apperrors.KindRateLimit, apperrors.KindOf(err))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	_, err = call(primitive.NewObjectID(), "browser")
	assert.NoError(t, err, "other admins have their own bucket")

	_, err = call(adminID, "curl")
	assert.NoError(t, err, "a different request signature has its own bucket")
}

func TestRateLimiter_StoreFailureFailsOpen(t *testing.T) {
	limiter := NewRateLimiter(failingStore{}, "admin", 1, time.Minute)
	c, rec := newContext(http.MethodGet, "/", "")

	require.NoError(t, limiter.RateLimit()(okHandler)(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/", "")
	require.NoError(t, SecurityHeaders()(okHandler)(c))

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRequireJSONBody(t *testing.T) {
	c, _ := newContext(http.MethodPatch, "/", `{"action":"approve"}`)
	assert.NoError(t, RequireJSONBody()(okHandler)(c))

	c, _ = newContext(http.MethodPatch, "/", `<xml/>`)
	c.Request().Header.Set(echo.HeaderContentType, "text/xml")
	assert.True(t, apperrors.IsValidation(RequireJSONBody()(okHandler)(c)))

	c, _ = newContext(http.MethodGet, "/", "")
	assert.NoError(t, RequireJSONBody()(okHandler)(c))
}

func TestNewCORSConfig(t *testing.T) {
	cfg := NewCORSConfig(" https://tenant.example.com , ,https://b.example.com")
	assert.Contains(t, cfg.AllowOrigins, "https://tenant.example.com")
	assert.Contains(t, cfg.AllowOrigins, "https://b.example.com")
	assert.NotContains(t, cfg.AllowOrigins, "")
}

func TestRequestLogger_ObservesStatus(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		_ = c.JSON(apperrors.StatusOf(apperrors.KindOf(err)), map[string]string{"error": err.Error()})
	}
	e.Use(RequestLogger(nil))
	e.GET("/boom", func(c echo.Context) error { return apperrors.Conflict("x") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}
