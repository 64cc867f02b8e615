package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphloom/loom/internal/server/middleware"
	"github.com/graphloom/loom/pkg/store"
)

// GetNodeHandler returns one node with every edge touching it.
func GetNodeHandler(c echo.Context) error {
	type getNodeParams struct {
		GraphID string `param:"graphId" validate:"required"`
		NodeID  string `param:"nodeId" validate:"required"`
	}

	type getNodeResponse struct {
		Message string `json:"message"`
	}

	data := new(getNodeParams)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, getNodeResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, getNodeResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	detail, err := app.Query.Node(ctx, data.GraphID, data.NodeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, getNodeResponse{Message: "Node not found"})
		}
		return c.JSON(http.StatusInternalServerError, getNodeResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, detail)
}
