package server

import (
	"github.com/OFFIS-RIT/quill/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	e.GET("/health", routes.GetHealthHandler)

	c := e.Group("/api/collections/:collection")

	// Ingestion
	c.POST("/documents", routes.PostDocumentHandler)
	c.POST("/folders", routes.PostFolderHandler)

	// Writing assistance
	c.POST("/feedback", routes.PostFeedbackHandler)
	c.POST("/consistency", routes.PostConsistencyHandler)
	c.POST("/suggestions", routes.PostSuggestionsHandler)
	c.POST("/search", routes.PostSearchHandler)
	c.GET("/health", routes.GetCollectionHealthHandler)

	// Graph views
	c.GET("/graph", routes.GetGraphHandler)
	c.GET("/graph/centrality", routes.GetCentralityHandler)
	c.GET("/characters/:name/interactions", routes.GetInteractionsHandler)
	c.GET("/characters/:name/locations", routes.GetLocationsHandler)
	c.GET("/events", routes.GetEventsHandler)
}
