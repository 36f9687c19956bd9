package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"radar/internal/service/presence"
	"radar/internal/util"
)

// SetupPresenceHandlers registers the broadcast and radar endpoints
func SetupPresenceHandlers(router *gin.RouterGroup, manager *presence.Manager) {
	h := &presenceHandlers{manager: manager}

	group := router.Group("/presence")
	group.GET("", h.View)
	group.GET("/geojson", h.GeoJSON)
	group.GET("/ws", h.Stream)
	group.POST("/start", h.Start)
	group.POST("/stop", h.Stop)
	group.POST("/location", h.Location)
	group.POST("/flare", h.Flare)
	group.PUT("/live", h.Live)
}

type presenceHandlers struct {
	manager *presence.Manager
}

// fixRequest is a device geolocation result relayed by the client.
// Either the coordinates or an error code are set.
type fixRequest struct {
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Accuracy float64  `json:"accuracy"`
	Error    string   `json:"error"`
}

func (f *fixRequest) valid() bool {
	if f.Error != "" {
		return true
	}
	return f.Lat != nil && f.Lng != nil && *f.Lat >= -90 && *f.Lat <= 90 && *f.Lng >= -180 && *f.Lng <= 180
}

func (f *fixRequest) relay(s *presence.Session) {
	if f.Error != "" {
		s.ReportFixError(presence.FixError(f.Error))
		return
	}
	s.ReportFix(presence.Position{
		Point:    util.Point{Lat: *f.Lat, Lng: *f.Lng},
		Accuracy: f.Accuracy,
		At:       time.Now(),
	})
}

type startRequest struct {
	Mode    string      `json:"mode"`
	Message string      `json:"message" binding:"required"`
	Fix     *fixRequest `json:"fix"`
}

type radarSnapshot struct {
	Status  presence.Status       `json:"status"`
	Signals []presence.SignalView `json:"signals"`
}

func snapshotOf(s *presence.Session) radarSnapshot {
	return radarSnapshot{Status: s.Controller.Status(), Signals: s.View()}
}

func (h *presenceHandlers) View(c *gin.Context) {
	s, ok := viewerSession(c, h.manager)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snapshotOf(s))
}

func (h *presenceHandlers) Start(c *gin.Context) {
	s, ok := viewerSession(c, h.manager)
	if !ok {
		return
	}

	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode := s.Controller.PreferredMode()
	if req.Mode != "" {
		m, err := presence.ParseMode(req.Mode)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		mode = m
	}
	if req.Fix != nil {
		if !req.Fix.valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fix"})
			return
		}
		req.Fix.relay(s)
	}

	sig, err := s.Controller.Start(c.Request.Context(), mode, req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"signal": sig,
		"status": s.Controller.Status(),
	})
}

func (h *presenceHandlers) Stop(c *gin.Context) {
	s, ok := viewerSession(c, h.manager)
	if !ok {
		return
	}
	s.Controller.Stop()
	c.JSON(http.StatusAccepted, gin.H{"status": s.Controller.Status()})
}

func (h *presenceHandlers) Location(c *gin.Context) {
	s, ok := viewerSession(c, h.manager)
	if !ok {
		return
	}

	var req fixRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fix"})
		return
	}
	req.relay(s)
	c.Status(http.StatusNoContent)
}

func (h *presenceHandlers) Flare(c *gin.Context) {
	s, ok := viewerSession(c, h.manager)
	if !ok {
		return
	}
	until, err := s.Controller.Flare(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flare_expires_at": until})
}

type liveRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *presenceHandlers) Live(c *gin.Context) {
	s, ok := viewerSession(c, h.manager)
	if !ok {
		return
	}

	var req liveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Controller.SetLivePreference(*req.Enabled); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.Controller.Status()})
}

// GeoJSON renders the view as a feature collection for map clients
func (h *presenceHandlers) GeoJSON(c *gin.Context) {
	s, ok := viewerSession(c, h.manager)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, featureCollection(s.View(), time.Now()))
}

func featureCollection(views []presence.SignalView, now time.Time) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, v := range views {
		// [lon, lat] for GeoJSON
		f := geojson.NewFeature(orb.Point{v.Longitude, v.Latitude})
		f.ID = v.ID
		f.Properties["owner_id"] = v.OwnerID
		f.Properties["message"] = v.Message
		f.Properties["own"] = v.Own
		f.Properties["urgent"] = v.Urgent
		f.Properties["distance"] = v.DistanceLabel
		f.Properties["expires_in_s"] = int(v.ExpiresAt.Sub(now).Seconds())
		if v.Owner != nil {
			f.Properties["name"] = v.Owner.Name
			f.Properties["avatar_url"] = v.Owner.AvatarURL
		}
		fc.Append(f)
	}
	return fc
}
