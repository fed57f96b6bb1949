package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/proteinops/foldy/pkg/archive"
	"github.com/proteinops/foldy/pkg/store"
)

// mapStoreError maps store-layer errors to HTTP error responses.
func mapStoreError(err error) *echo.HTTPError {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, archive.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	if errors.Is(err, store.ErrReplayWindowExpired) {
		return echo.NewHTTPError(http.StatusGone, "requested offset is no longer in the replay window")
	}
	if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrAlreadyTerminal) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	// Anything else from the store is a shared-store I/O failure: the KV
	// client has already exhausted its retries.
	slog.Error("Shared store operation failed", "error", err)
	return echo.NewHTTPError(http.StatusServiceUnavailable, "shared store unavailable")
}
