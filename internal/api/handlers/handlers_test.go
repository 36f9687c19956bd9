package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radar/internal/identity"
	"radar/internal/model"
	"radar/internal/service/presence"
)

type memoryStore struct {
	mu   sync.Mutex
	seq  int
	rows map[string]*model.PresenceSignal
}

func (s *memoryStore) Create(ctx context.Context, ownerID string, lat, lng float64, message string) (*model.PresenceSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.rows {
		if r.OwnerID == ownerID {
			delete(s.rows, id)
		}
	}
	s.seq++
	now := time.Now()
	sig := &model.PresenceSignal{
		ID: fmt.Sprintf("s%d", s.seq), OwnerID: ownerID, Latitude: lat, Longitude: lng,
		Message: message, CreatedAt: now, ExpiresAt: now.Add(4 * time.Hour),
		Owner: &model.Owner{Name: ownerID},
	}
	s.rows[sig.ID] = sig
	return sig.Clone(), nil
}

func (s *memoryStore) UpdateLocation(ctx context.Context, id string, lat, lng float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return presence.ErrSignalNotFound
	}
	r.Latitude, r.Longitude = lat, lng
	return nil
}

func (s *memoryStore) SetFlare(ctx context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return presence.ErrSignalNotFound
	}
	r.FlareExpiresAt = &until
	return nil
}

func (s *memoryStore) DeleteOwn(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.rows {
		if r.OwnerID == ownerID {
			delete(s.rows, id)
		}
	}
	return nil
}

func (s *memoryStore) ReadAll(ctx context.Context) ([]*model.PresenceSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PresenceSignal
	for _, r := range s.rows {
		out = append(out, r.Clone())
	}
	return out, nil
}

type tokenProvider map[string]identity.User

func (p tokenProvider) Authenticate(ctx context.Context, token string) (identity.User, error) {
	u, ok := p[token]
	if !ok {
		return identity.User{}, identity.ErrUnknownSession
	}
	return u, nil
}

type testServer struct {
	router  *gin.Engine
	manager *presence.Manager
	store   *memoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &memoryStore{rows: make(map[string]*model.PresenceSignal)}
	timings := presence.DefaultTimings()
	timings.FixTimeout = 50 * time.Millisecond
	manager := presence.NewManager(context.Background(), presence.Deps{Store: store}, timings, map[string]bool{"premium": true})
	t.Cleanup(manager.CloseAll)

	r := gin.New()
	api := r.Group("/api", identity.Middleware(tokenProvider{
		"ann": {ID: "ann", Name: "Ann", Role: "user"},
		"bob": {ID: "bob", Name: "Bob", Role: "premium"},
		"cyd": {ID: "cyd", Name: "Cyd", Role: "user"},
	}))
	SetupSessionHandlers(api, manager)
	SetupPresenceHandlers(api, manager)

	return &testServer{router: r, manager: manager, store: store}
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func startBody(mode, message string) gin.H {
	return gin.H{
		"mode":    mode,
		"message": message,
		"fix":     gin.H{"lat": 51.5, "lng": -0.12, "accuracy": 12},
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodPost, "/api/session", "", nil).Code)
	assert.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/session", "ann", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/session", "ann", nil).Code)
	assert.Equal(t, 1, ts.manager.Count())

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/api/session", "ann", nil).Code)
	assert.Zero(t, ts.manager.Count())
}

func TestStartAndView(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodPost, "/api/presence/start", "ann", startBody("static", model.MessageOpenToChat))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = ts.do(http.MethodGet, "/api/presence", "ann", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var snap struct {
		Status struct {
			State string `json:"state"`
		} `json:"status"`
		Signals []struct {
			ID            string `json:"id"`
			Own           bool   `json:"own"`
			DistanceLabel string `json:"distance_label"`
		} `json:"signals"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, "ACTIVE_STATIC", snap.Status.State)
	require.Len(t, snap.Signals, 1)
	assert.True(t, snap.Signals[0].Own)
	assert.NotEqual(t, "?", snap.Signals[0].DistanceLabel)
}

func TestStartErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name  string
		token string
		body  gin.H
		want  int
	}{
		{"bad message", "ann", startBody("static", "Hello"), http.StatusBadRequest},
		{"bad mode", "ann", startBody("orbit", model.MessageOpenToChat), http.StatusBadRequest},
		{"live without plan", "ann", startBody("live", model.MessageOpenToChat), http.StatusPaymentRequired},
		{"no fix arrives", "cyd", gin.H{"message": model.MessageOpenToChat}, http.StatusGatewayTimeout},
		{"permission denied", "bob", gin.H{"message": model.MessageOpenToChat, "fix": gin.H{"error": "permission_denied"}}, http.StatusUnprocessableEntity},
		{"bad fix", "bob", gin.H{"message": model.MessageOpenToChat, "fix": gin.H{"lat": 95, "lng": 0}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(http.MethodPost, "/api/presence/start", tt.token, tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestFlareAndStop(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/api/presence/flare", "ann", nil).Code)

	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/presence/start", "ann", startBody("", model.MessageLetsDance)).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/presence/flare", "ann", nil).Code)

	assert.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/api/presence/stop", "ann", nil).Code)
	s, ok := ts.manager.Get("ann")
	require.True(t, ok)
	s.Controller.Wait()
	assert.Empty(t, s.View())
}

func TestLivePreference(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusPaymentRequired, ts.do(http.MethodPut, "/api/presence/live", "ann", gin.H{"enabled": true}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPut, "/api/presence/live", "bob", gin.H{}).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodPut, "/api/presence/live", "bob", gin.H{"enabled": true}).Code)

	// no mode given: the preference applies
	rr := ts.do(http.MethodPost, "/api/presence/start", "bob", startBody("", model.MessageUpForADrink))
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Contains(t, rr.Body.String(), "ACTIVE_LIVE")

	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPut, "/api/presence/live", "bob", gin.H{"enabled": false}).Code)
}

func TestLocationRelay(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/presence/location", "ann", gin.H{"lat": 1}).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodPost, "/api/presence/location", "ann", gin.H{"lat": 1, "lng": 2}).Code)

	// the relayed fix serves the next start
	rr := ts.do(http.MethodPost, "/api/presence/start", "ann", gin.H{"message": model.MessageOpenToChat})
	assert.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func TestGeoJSON(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/presence/start", "ann", startBody("static", model.MessageOpenToChat)).Code)

	rr := ts.do(http.MethodGet, "/api/presence/geojson", "ann", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)
	assert.Len(t, fc.Features[0].Geometry.Coordinates, 2)
	assert.Equal(t, true, fc.Features[0].Properties["own"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, statusFor(&presence.StoreError{Op: "read", Err: errors.New("down")}))
	assert.Equal(t, http.StatusConflict, statusFor(presence.ErrBusy))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestStream(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/presence/ws?access_token=ann"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first radarSnapshot
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, presence.StateInactive, first.Status.State)

	require.NoError(t, conn.WriteJSON(gin.H{"type": "location", "lat": 51.5, "lng": -0.12}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var next map[string]any
	require.NoError(t, conn.ReadJSON(&next))
	assert.Contains(t, next, "signals")
}
