package api

import (
	routes "radar/internal/api/handlers"
	"radar/internal/config"
	"radar/internal/identity"
	"radar/internal/service/presence"

	"github.com/gin-gonic/gin"
)

// SetupRouter initializes all application routes
func SetupRouter(r *gin.Engine, cfg config.Config, manager *presence.Manager, provider identity.Provider) {
	// Setup main handlers
	routes.SetupMainHandlers(r.Group(""), cfg, manager)

	// Everything under /api needs a session token
	api := r.Group("/api", identity.Middleware(provider))

	routes.SetupSessionHandlers(api, manager)
	routes.SetupPresenceHandlers(api, manager)
}
