package api

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes mounts every route the service exposes onto e.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/jobs", h.SubmitJob)
	e.GET("/jobs/:id", h.GetJob)
	e.DELETE("/jobs/:id", h.CancelJob)

	e.GET("/tiles/:z/:x/:y", h.TerrainTile)

	e.POST("/elevation", h.GetElevation)
	e.POST("/links/analyze", h.AnalyzeLink)
}
