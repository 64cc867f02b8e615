package server

import (
	"github.com/graphloom/loom/internal/server/middleware"
	"github.com/graphloom/loom/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Run routes
	apiRoutes.POST("/runs", routes.CreateRunHandler, middleware.RequirePermission("run.create"))
	apiRoutes.GET("/runs/:runId", routes.GetRunHandler, middleware.RequirePermission("run.view"))
	apiRoutes.POST("/runs/:runId/cancel", routes.CancelRunHandler, middleware.RequirePermission("run.cancel"))

	// Graph routes
	apiRoutes.POST("/graphs/:graphId/query", routes.QueryGraphHandler, middleware.RequirePermission("graph.query"))
	apiRoutes.GET("/graphs/:graphId/nodes/:nodeId", routes.GetNodeHandler, middleware.RequirePermission("graph.query"))
}
