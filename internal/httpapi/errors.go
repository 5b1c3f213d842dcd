package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"chatrelay/internal/pipeline"
	"chatrelay/internal/storage"
)

// mapError translates domain sentinels into HTTP errors: unknown credential
// 401, malformed id or sender 422, missing entity 404, anything else 500.
func mapError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	switch {
	case errors.Is(err, pipeline.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, storage.ErrInvalidID), errors.Is(err, pipeline.ErrInvalidSender):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
