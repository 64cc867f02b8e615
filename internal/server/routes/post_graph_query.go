package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphloom/loom/internal/server/middleware"
	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/query"
)

// QueryGraphHandler answers a natural language query with the ranked
// subgraph around the best matching nodes.
func QueryGraphHandler(c echo.Context) error {
	type queryGraphBody struct {
		GraphID string `param:"graphId" validate:"required"`
		Query   string `json:"query" validate:"required"`
	}

	type queryGraphResponse struct {
		Result  *query.Result `json:"result,omitempty"`
		Message string        `json:"message,omitempty"`
	}

	data := new(queryGraphBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryGraphResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryGraphResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	result, err := app.Query.Query(ctx, data.GraphID, data.Query)
	if err != nil {
		logger.Error("Graph query failed", "graph", data.GraphID, "err", err)
		return c.JSON(http.StatusInternalServerError, queryGraphResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, queryGraphResponse{
		Result: result,
	})
}
