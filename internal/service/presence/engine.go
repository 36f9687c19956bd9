package presence

import (
	"sort"
	"sync"
	"time"

	"radar/internal/feed"
	"radar/internal/model"
	"radar/internal/service/storage"
	"radar/internal/util"
)

// SignalView is one entry of the reconciled view handed to renderers
type SignalView struct {
	*model.PresenceSignal
	Own           bool     `json:"own"`
	Urgent        bool     `json:"urgent"`
	DistanceKm    *float64 `json:"distance_km"`
	DistanceLabel string   `json:"distance_label"`
	// ReceivedAt is when this copy reached the session; zero for the own copy
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Engine merges poll snapshots, feed events and the controller's
// optimistic copy into the view a session renders.
//
// Rules, first match wins:
//  1. rows of the viewer are hidden while the suppression window runs
//  2. DELETE removes the row by id at once
//  3. the last received version of a row wins, by arrival order
//  4. expiry is checked when the view is read, never when rows arrive
type Engine struct {
	viewerID string
	now      func() time.Time
	entries  storage.ArrivalStorage[string, *model.PresenceSignal]

	mutex         sync.RWMutex
	own           *model.PresenceSignal
	suppressUntil time.Time
	viewer        *util.Point

	onChange func()
}

func NewEngine(viewerID string, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		viewerID: viewerID,
		now:      now,
		entries:  storage.NewMemoryStorageWithClock[string, *model.PresenceSignal](now),
	}
}

// OnChange registers fn to run after every mutation. fn runs outside the
// engine lock and must not block.
func (e *Engine) OnChange(fn func()) {
	e.mutex.Lock()
	e.onChange = fn
	e.mutex.Unlock()
}

func (e *Engine) changed() {
	e.mutex.RLock()
	fn := e.onChange
	e.mutex.RUnlock()
	if fn != nil {
		fn()
	}
}

// SuppressOwn hides the viewer's own rows until the given instant
func (e *Engine) SuppressOwn(until time.Time) {
	e.mutex.Lock()
	e.suppressUntil = until
	e.mutex.Unlock()
}

// Suppressed reports whether rows of ownerID are currently discarded
func (e *Engine) Suppressed(ownerID string) bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.suppressedLocked(ownerID, e.now())
}

func (e *Engine) suppressedLocked(ownerID string, now time.Time) bool {
	return ownerID == e.viewerID && now.Before(e.suppressUntil)
}

// SetOwn installs the optimistic copy of the viewer's own signal
func (e *Engine) SetOwn(sig *model.PresenceSignal) {
	e.mutex.Lock()
	e.own = sig.Clone()
	e.mutex.Unlock()
	e.changed()
}

// ClearOwn drops the optimistic copy and every row of the viewer
func (e *Engine) ClearOwn() {
	e.mutex.Lock()
	e.own = nil
	e.entries.ForEach(func(id string, s *model.PresenceSignal) bool {
		if s.OwnerID == e.viewerID {
			e.entries.Delete(id)
		}
		return true
	})
	e.mutex.Unlock()
	e.changed()
}

// UpdateOwnLocation moves the optimistic copy before the store confirms
func (e *Engine) UpdateOwnLocation(id string, lat, lng float64) {
	e.mutex.Lock()
	if e.own == nil || e.own.ID != id {
		e.mutex.Unlock()
		return
	}
	e.own.Latitude = lat
	e.own.Longitude = lng
	e.mutex.Unlock()
	e.changed()
}

// SetOwnFlare marks the optimistic copy urgent until the given instant
func (e *Engine) SetOwnFlare(id string, until time.Time) {
	e.mutex.Lock()
	if e.own == nil || e.own.ID != id {
		e.mutex.Unlock()
		return
	}
	e.own.FlareExpiresAt = &until
	e.mutex.Unlock()
	e.changed()
}

// OwnSignal returns a copy of the optimistic own signal
func (e *Engine) OwnSignal() (*model.PresenceSignal, bool) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	if e.own == nil {
		return nil, false
	}
	return e.own.Clone(), true
}

// SetViewerPosition records where the viewer is, for distances
func (e *Engine) SetViewerPosition(p util.Point) {
	e.mutex.Lock()
	e.viewer = &p
	e.mutex.Unlock()
	e.changed()
}

// ApplySnapshot replaces the known rows with a full read. Rows missing from
// the snapshot are gone, which repairs DELETE events the feed lost.
func (e *Engine) ApplySnapshot(signals []*model.PresenceSignal) {
	e.mutex.Lock()
	now := e.now()
	next := make(map[string]*model.PresenceSignal, len(signals))
	for _, s := range signals {
		if s == nil || s.ID == "" || e.suppressedLocked(s.OwnerID, now) {
			continue
		}
		next[s.ID] = s.Clone()
	}
	e.entries.Replace(next)
	e.mutex.Unlock()
	e.changed()
}

// ApplyEvent merges one normalized feed event
func (e *Engine) ApplyEvent(ev feed.Event) {
	e.mutex.Lock()
	switch ev.Op {
	case feed.OpDelete:
		e.entries.Delete(ev.ID)
	case feed.OpInsert, feed.OpUpdate:
		if ev.Record == nil || e.suppressedLocked(ev.Record.OwnerID, e.now()) {
			e.mutex.Unlock()
			return
		}
		rec := ev.Record.Clone()
		if prev, ok := e.entries.Get(ev.ID); ok {
			mergePartial(rec, prev)
		}
		if rec.OwnerID == "" {
			// Nothing to attribute the row to yet; wait for a re-read
			e.mutex.Unlock()
			return
		}
		e.entries.Set(ev.ID, rec)
	default:
		e.mutex.Unlock()
		return
	}
	e.mutex.Unlock()
	e.changed()
}

// mergePartial fills fields a feed payload left out from the previous copy
func mergePartial(rec, prev *model.PresenceSignal) {
	if rec.OwnerID == "" {
		rec.OwnerID = prev.OwnerID
	}
	if rec.Message == "" {
		rec.Message = prev.Message
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = prev.CreatedAt
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = prev.ExpiresAt
	}
	if rec.FlareExpiresAt == nil && prev.FlareExpiresAt != nil {
		f := *prev.FlareExpiresAt
		rec.FlareExpiresAt = &f
	}
	if rec.Owner == nil && prev.Owner != nil {
		o := *prev.Owner
		rec.Owner = &o
	}
}

// Known reports whether a row with id is in the view source
func (e *Engine) Known(id string) (*model.PresenceSignal, bool) {
	s, ok := e.entries.Get(id)
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// View returns the reconciled, unexpired signals sorted by distance from
// the viewer, unknown distances last
func (e *Engine) View() []SignalView {
	e.mutex.RLock()
	now := e.now()
	own := e.own
	if own != nil {
		own = own.Clone()
	}
	var viewer *util.Point
	if e.viewer != nil {
		v := *e.viewer
		viewer = &v
	}
	suppressed := e.suppressedLocked(e.viewerID, now)
	e.mutex.RUnlock()

	// One row per owner, newest creation wins
	byOwner := make(map[string]*model.PresenceSignal)
	consider := func(s *model.PresenceSignal) {
		if !s.Active(now) {
			return
		}
		if s.OwnerID == e.viewerID {
			if suppressed {
				return
			}
			// The optimistic copy is authoritative for the viewer's own row
			if own != nil && s.ID != own.ID {
				return
			}
		}
		if cur, ok := byOwner[s.OwnerID]; ok && !s.CreatedAt.After(cur.CreatedAt) {
			return
		}
		byOwner[s.OwnerID] = s
	}

	e.entries.ForEach(func(id string, s *model.PresenceSignal) bool {
		if own != nil && id == own.ID {
			return true
		}
		consider(s.Clone())
		return true
	})
	if own != nil {
		if fromFeed, ok := e.entries.Get(own.ID); ok && own.Owner == nil && fromFeed.Owner != nil {
			o := *fromFeed.Owner
			own.Owner = &o
		}
		consider(own)
	}

	views := make([]SignalView, 0, len(byOwner))
	for _, s := range byOwner {
		v := SignalView{
			PresenceSignal: s,
			Own:            s.OwnerID == e.viewerID,
			Urgent:         s.Urgent(now),
		}
		if own == nil || s.ID != own.ID {
			v.ReceivedAt, _ = e.entries.ArrivedAt(s.ID)
		}
		km, ok := util.Distance(viewer, util.Point{Lat: s.Latitude, Lng: s.Longitude})
		if ok {
			v.DistanceKm = &km
		}
		v.DistanceLabel = util.DistanceLabel(km, ok)
		views = append(views, v)
	}

	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		switch {
		case a.DistanceKm != nil && b.DistanceKm == nil:
			return true
		case a.DistanceKm == nil && b.DistanceKm != nil:
			return false
		case a.DistanceKm != nil && *a.DistanceKm != *b.DistanceKm:
			return *a.DistanceKm < *b.DistanceKm
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return views
}
