// Package router provides search service routing.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/knowbase/internal/search/handler"
)

// New builds the gin engine with all search service routes.
func New(searchHandler *handler.SearchHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := engine.Group("/v1")
	{
		v1.POST("/search", searchHandler.Search)
		v1.GET("/documents/:id", searchHandler.GetDocument)

		chunks := v1.Group("/chunks")
		{
			chunks.PATCH("/:id/topic-labels", searchHandler.UpdateTopicLabels)
			chunks.PATCH("/:id/metadata", searchHandler.UpdateMetadata)
		}

		v1.GET("/vector-logs", searchHandler.ListVectorLogs)
	}

	logger.Info("HTTP routes registered")
	return engine
}
