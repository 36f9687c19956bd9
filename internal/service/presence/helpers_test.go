package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"radar/internal/model"
	"radar/internal/service/notify"
	"radar/internal/util"
)

var t0 = time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: t0}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type locationUpdate struct {
	id       string
	lat, lng float64
}

// fakeStore keeps rows in memory and mirrors the documented Store contract
type fakeStore struct {
	mu      sync.Mutex
	now     func() time.Time
	ttl     time.Duration
	rows    map[string]*model.PresenceSignal
	names   map[string]string
	seq     int
	updates []locationUpdate
	deletes int

	createErr  error
	readErr    error
	deleteGate chan struct{}
}

func newFakeStore(now func() time.Time) *fakeStore {
	return &fakeStore{
		now:   now,
		ttl:   4 * time.Hour,
		rows:  make(map[string]*model.PresenceSignal),
		names: make(map[string]string),
	}
}

func (s *fakeStore) Create(ctx context.Context, ownerID string, lat, lng float64, message string) (*model.PresenceSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, &StoreError{Op: "create", Err: s.createErr}
	}
	for id, row := range s.rows {
		if row.OwnerID == ownerID {
			delete(s.rows, id)
		}
	}
	s.seq++
	now := s.now()
	sig := &model.PresenceSignal{
		ID:        fmt.Sprintf("sig-%d", s.seq),
		OwnerID:   ownerID,
		Latitude:  lat,
		Longitude: lng,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.rows[sig.ID] = sig
	return sig.Clone(), nil
}

func (s *fakeStore) UpdateLocation(ctx context.Context, id string, lat, lng float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return ErrSignalNotFound
	}
	row.Latitude, row.Longitude = lat, lng
	s.updates = append(s.updates, locationUpdate{id: id, lat: lat, lng: lng})
	return nil
}

func (s *fakeStore) SetFlare(ctx context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return ErrSignalNotFound
	}
	row.FlareExpiresAt = &until
	return nil
}

func (s *fakeStore) DeleteOwn(ctx context.Context, ownerID string) error {
	if s.deleteGate != nil {
		select {
		case <-s.deleteGate:
		case <-ctx.Done():
			return &StoreError{Op: "delete", Err: ctx.Err()}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	for id, row := range s.rows {
		if row.OwnerID == ownerID {
			delete(s.rows, id)
		}
	}
	return nil
}

func (s *fakeStore) ReadAll(ctx context.Context) ([]*model.PresenceSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, &StoreError{Op: "read", Err: s.readErr}
	}
	now := s.now()
	var out []*model.PresenceSignal
	for _, row := range s.rows {
		if !row.Active(now) {
			continue
		}
		c := row.Clone()
		c.Owner = &model.Owner{Name: s.names[row.OwnerID]}
		out = append(out, c)
	}
	return out, nil
}

func (s *fakeStore) put(sig *model.PresenceSignal) {
	s.mu.Lock()
	s.rows[sig.ID] = sig.Clone()
	s.mu.Unlock()
}

func (s *fakeStore) rowsOf(ownerID string) []*model.PresenceSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PresenceSignal
	for _, row := range s.rows {
		if row.OwnerID == ownerID {
			out = append(out, row.Clone())
		}
	}
	return out
}

func (s *fakeStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

type recordingAnnouncer struct {
	mu      sync.Mutex
	signals []string
}

func (a *recordingAnnouncer) Announce(ctx context.Context, n notify.Notice, lat, lng float64) {
	a.mu.Lock()
	a.signals = append(a.signals, n.SignalID)
	a.mu.Unlock()
}

func (a *recordingAnnouncer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.signals)
}

func noJitter(lat, lng float64) (float64, float64) {
	return lat, lng
}

func fixAt(lat, lng float64) Position {
	return Position{Point: util.Point{Lat: lat, Lng: lng}, Accuracy: 10}
}

func signal(id, owner string, created time.Time) *model.PresenceSignal {
	return &model.PresenceSignal{
		ID:        id,
		OwnerID:   owner,
		Latitude:  51.5,
		Longitude: -0.12,
		Message:   model.MessageOpenToChat,
		CreatedAt: created,
		ExpiresAt: created.Add(4 * time.Hour),
		Owner:     &model.Owner{Name: owner},
	}
}
