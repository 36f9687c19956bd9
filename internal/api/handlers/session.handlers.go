package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"radar/internal/identity"
	"radar/internal/service/presence"
)

// SetupSessionHandlers registers login and logout of the presence session
func SetupSessionHandlers(router *gin.RouterGroup, manager *presence.Manager) {
	h := &sessionHandlers{manager: manager}
	router.POST("/session", h.Open)
	router.DELETE("/session", h.Close)
}

type sessionHandlers struct {
	manager *presence.Manager
}

// viewerSession returns the caller's session, starting it on first use
func viewerSession(c *gin.Context, manager *presence.Manager) (*presence.Session, bool) {
	user, ok := identity.CurrentUser(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
		return nil, false
	}
	s, _ := manager.Open(presence.Viewer{ID: user.ID, Name: user.Name, Role: user.Role})
	return s, true
}

func (h *sessionHandlers) Open(c *gin.Context) {
	user, ok := identity.CurrentUser(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
		return
	}
	s, created := h.manager.Open(presence.Viewer{ID: user.ID, Name: user.Name, Role: user.Role})

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"user":   user,
		"status": s.Controller.Status(),
	})
}

func (h *sessionHandlers) Close(c *gin.Context) {
	user, ok := identity.CurrentUser(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
		return
	}
	h.manager.Close(user.ID)
	c.Status(http.StatusNoContent)
}
