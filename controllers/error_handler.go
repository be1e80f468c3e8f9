package controllers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/vipogroup/vipo_backend/apperrors"
	"github.com/vipogroup/vipo_backend/security"
)

// HTTPErrorHandler renders every error as {"error": "..."}. Classified errors
// keep their status and message; anything else becomes a generic 500 and is
// logged with the sanitized request headers.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		req := c.Request()
		log.Ctx(req.Context()).Error().
			Err(err).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Interface("headers", security.SanitizeHeaders(req.Header)).
			Msg("request failed")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		log.Ctx(c.Request().Context()).Error().Err(err).Msg("writing error response")
	}
}

func errorBody(err error) (int, map[string]interface{}) {
	if appErr := apperrors.As(err); appErr != nil {
		body := map[string]interface{}{}
		for k, v := range appErr.Fields() {
			body[k] = v
		}
		body["error"] = appErr.PublicMessage()
		return appErr.HTTPStatus(), body
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, map[string]interface{}{"error": echoErrorMessage(he.Code)}
	}

	return http.StatusInternalServerError, map[string]interface{}{
		"error": apperrors.DefaultMessage(apperrors.KindInternal),
	}
}

func echoErrorMessage(code int) string {
	switch code {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
		return apperrors.DefaultMessage(apperrors.KindValidation)
	case http.StatusUnauthorized:
		return apperrors.DefaultMessage(apperrors.KindUnauthorized)
	case http.StatusForbidden:
		return apperrors.DefaultMessage(apperrors.KindForbidden)
	case http.StatusNotFound:
		return apperrors.DefaultMessage(apperrors.KindNotFound)
	case http.StatusMethodNotAllowed:
		return "שיטת הבקשה אינה נתמכת"
	case http.StatusTooManyRequests:
		return apperrors.DefaultMessage(apperrors.KindRateLimit)
	}
	return apperrors.DefaultMessage(apperrors.KindInternal)
}
