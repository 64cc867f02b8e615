package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphloom/loom/internal/server/middleware"
	"github.com/graphloom/loom/internal/util"
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/store"
)

// GetRunHandler returns a run together with its computed progress.
func GetRunHandler(c echo.Context) error {
	type getRunParams struct {
		RunID string `param:"runId" validate:"required"`
	}

	type getRunResponse struct {
		Run      *common.RunState  `json:"run,omitempty"`
		Progress *util.RunProgress `json:"progress,omitempty"`
		Message  string            `json:"message,omitempty"`
	}

	data := new(getRunParams)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, getRunResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, getRunResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	run, err := app.Store.GetRun(ctx, data.RunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, getRunResponse{Message: "Run not found"})
		}
		return c.JSON(http.StatusInternalServerError, getRunResponse{Message: "Internal server error"})
	}

	progress := util.BuildRunProgress(run.Documents)
	return c.JSON(http.StatusOK, getRunResponse{
		Run:      run,
		Progress: &progress,
	})
}
