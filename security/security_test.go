package security

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateContentType(t *testing.T) {
	assert.True(t, ValidateContentType("application/json"))
	assert.True(t, ValidateContentType("application/x-www-form-urlencoded"))
	assert.False(t, ValidateContentType("text/xml"))
	assert.False(t, ValidateContentType(""))
}

func TestSanitizeHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("Cookie", "session=abc")
	h.Set("X-Api-Key", "k")
	h.Set("User-Agent", "admin-ui")

	clean := SanitizeHeaders(h)
	assert.Empty(t, clean.Get("Authorization"))
	assert.Empty(t, clean.Get("Cookie"))
	assert.Empty(t, clean.Get("X-Api-Key"))
	assert.Equal(t, "admin-ui", clean.Get("User-Agent"))
	assert.Equal(t, "Bearer secret", h.Get("Authorization"), "original headers are untouched")
}
