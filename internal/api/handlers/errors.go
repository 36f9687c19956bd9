package routes

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"radar/internal/service/presence"
)

// statusFor maps presence errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, presence.ErrPermissionDenied), errors.Is(err, presence.ErrPositionUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, presence.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, presence.ErrNotEntitled):
		return http.StatusPaymentRequired
	case errors.Is(err, presence.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, presence.ErrBusy), errors.Is(err, presence.ErrCanceled), errors.Is(err, presence.ErrNotBroadcasting):
		return http.StatusConflict
	case presence.IsStoreError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

const upsellText = "Upgrade to premium to share your location live as you move."

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	switch {
	case status == http.StatusBadGateway || status == http.StatusInternalServerError:
		// Store details stay in the log
		log.Printf("[api] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "something went wrong, please try again"})
	case errors.Is(err, presence.ErrNotEntitled):
		c.JSON(status, gin.H{"error": err.Error(), "upsell": upsellText})
	default:
		c.JSON(status, gin.H{"error": err.Error()})
	}
}
