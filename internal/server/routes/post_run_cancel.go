package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphloom/loom/internal/server/middleware"
	"github.com/graphloom/loom/pkg/store"
)

// CancelRunHandler requests cooperative cancellation of a run. The
// worker observes the flag at the next stage boundary.
func CancelRunHandler(c echo.Context) error {
	type cancelRunParams struct {
		RunID string `param:"runId" validate:"required"`
	}

	type cancelRunResponse struct {
		Message string `json:"message"`
	}

	data := new(cancelRunParams)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, cancelRunResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, cancelRunResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	if err := app.Store.RequestCancel(ctx, data.RunID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, cancelRunResponse{Message: "Run not found"})
		}
		return c.JSON(http.StatusInternalServerError, cancelRunResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, cancelRunResponse{
		Message: "Cancellation requested",
	})
}
