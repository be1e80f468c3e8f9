package security

import (
	"net/http"
)

// ValidateContentType ensures the request has an accepted media type.
func ValidateContentType(contentType string) bool {
	validTypes := map[string]bool{
		"application/json":                  true,
		"application/x-www-form-urlencoded": true,
	}
	return validTypes[contentType]
}

// SanitizeHeaders returns a copy of headers without credentials, safe to log.
func SanitizeHeaders(headers http.Header) http.Header {
	sensitiveHeaders := []string{
		"Authorization",
		"Cookie",
		"Set-Cookie",
		"X-CSRF-Token",
		"X-Api-Key",
	}

	clean := headers.Clone()
	for _, header := range sensitiveHeaders {
		clean.Del(header)
	}
	return clean
}
