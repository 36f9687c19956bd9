package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"radar/internal/config"
	"radar/internal/model"
	"radar/internal/service/presence"
)

// SetupMainHandlers registers the unauthenticated service endpoints
func SetupMainHandlers(router *gin.RouterGroup, cfg config.Config, manager *presence.Manager) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"env":      cfg.Env,
			"feed":     cfg.FeedBackend,
			"sessions": manager.Count(),
		})
	})

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/api/messages", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"messages": model.Messages})
	})
}
