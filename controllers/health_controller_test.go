package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthController(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: refused") }

	tests := []struct {
		name   string
		checks map[string]Check
		status int
		want   map[string]string
	}{
		{
			name:   "all up",
			checks: map[string]Check{"database": ok, "redis": ok},
			status: http.StatusOK,
			want:   map[string]string{"status": "healthy", "database": "connected", "redis": "connected"},
		},
		{
			name:   "redis down",
			checks: map[string]Check{"database": ok, "redis": down},
			status: http.StatusServiceUnavailable,
			want:   map[string]string{"status": "degraded", "database": "connected", "redis": "unavailable"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthController("vipo-backend", tt.checks)
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)

			require.NoError(t, hc.Health(c))
			assert.Equal(t, tt.status, rec.Code)

			var got map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHealthController_Root(t *testing.T) {
	hc := NewHealthController("vipo-backend", nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, hc.Root(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vipo-backend is running")
}
