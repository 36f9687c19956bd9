package presence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"radar/internal/config"
	"radar/internal/feed"
	"radar/internal/model"
)

// Timings groups the durations a session runs with
type Timings struct {
	FixTimeout        time.Duration
	FixMaxAge         time.Duration
	SuppressionWindow time.Duration
	FlareTTL          time.Duration
	PollInterval      time.Duration
}

// DefaultTimings returns the production timings
func DefaultTimings() Timings {
	return Timings{
		FixTimeout:        config.FixTimeout,
		FixMaxAge:         15 * time.Second,
		SuppressionWindow: config.SuppressionWindow,
		FlareTTL:          config.FlareTTL,
		PollInterval:      config.PollInterval,
	}
}

// Deps are the collaborators shared by every session
type Deps struct {
	Store     Store
	Bus       feed.Bus
	Announcer Announcer
	Now       func() time.Time
}

// Viewer identifies the user a session belongs to
type Viewer struct {
	ID   string
	Name string
	Role string
}

// Session is one user's presence engine: their broadcast controller, the
// reconciled view, the feed listener and the poller. Everything it starts
// ends with Close.
type Session struct {
	Viewer     Viewer
	Controller *Controller
	Engine     *Engine
	Locator    *DeviceLocator

	listener *Listener
	poller   *Poller
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	obsMutex  sync.Mutex
	observers map[chan struct{}]struct{}

	lastSeen atomic.Int64
}

func NewSession(parent context.Context, deps Deps, viewer Viewer, liveEntitled bool, t Timings) *Session {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(parent)

	s := &Session{
		Viewer:    viewer,
		Engine:    NewEngine(viewer.ID, now),
		Locator:   NewDeviceLocator(t.FixMaxAge, now),
		now:       now,
		ctx:       ctx,
		cancel:    cancel,
		observers: make(map[chan struct{}]struct{}),
	}
	s.Controller = NewController(ctx, ControllerConfig{
		OwnerID:           viewer.ID,
		OwnerName:         viewer.Name,
		LiveEntitled:      liveEntitled,
		FixTimeout:        t.FixTimeout,
		SuppressionWindow: t.SuppressionWindow,
		FlareTTL:          t.FlareTTL,
	}, deps.Store, s.Locator, s.Engine, deps.Announcer)
	s.Controller.now = now

	s.poller = NewPoller(deps.Store, t.PollInterval, s.applySnapshot)
	if deps.Bus != nil {
		s.listener = NewListener(deps.Bus, s.Engine, s.poller.Refresh, s.Controller.SignalGone)
	}
	s.Engine.OnChange(s.notify)
	s.Touch()
	return s
}

// Run starts the poller and, when a bus is configured, the feed listener
func (s *Session) Run() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.poller.Run(s.ctx)
	}()

	if s.listener != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.listener.Run(s.ctx)
		}()
	}
}

// Close tears the session down: the feed subscription, pending polls and
// live tracking are canceled and observers are released
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		s.Controller.Close()
		s.wg.Wait()

		s.obsMutex.Lock()
		for ch := range s.observers {
			close(ch)
		}
		s.observers = make(map[chan struct{}]struct{})
		s.obsMutex.Unlock()
	})
}

// Done is closed once the session is torn down
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Session) applySnapshot(signals []*model.PresenceSignal) {
	s.Controller.ExpireIfDue()
	for _, sig := range signals {
		if sig.OwnerID == s.Viewer.ID {
			s.Controller.Adopt(sig)
			break
		}
	}
	s.Engine.ApplySnapshot(signals)
}

// Observe returns a channel pinged after every change of the view. Pings
// merge; the receiver reads View itself. The channel closes with the
// session or when cancel is called.
func (s *Session) Observe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.obsMutex.Lock()
	select {
	case <-s.ctx.Done():
		s.obsMutex.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	s.observers[ch] = struct{}{}
	s.obsMutex.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.obsMutex.Lock()
			defer s.obsMutex.Unlock()
			if _, ok := s.observers[ch]; ok {
				delete(s.observers, ch)
				close(ch)
			}
		})
	}
}

func (s *Session) notify() {
	s.obsMutex.Lock()
	defer s.obsMutex.Unlock()
	for ch := range s.observers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// ReportFix relays a device fix: it updates distances and wakes the
// controller if it is waiting for one
func (s *Session) ReportFix(pos Position) {
	s.Engine.SetViewerPosition(pos.Point)
	s.Locator.Report(pos)
}

// ReportFixError relays a device geolocation failure
func (s *Session) ReportFixError(err error) {
	s.Locator.ReportError(err)
}

// Refresh asks the poller for a re-read
func (s *Session) Refresh() {
	s.poller.Refresh()
}

// View returns the reconciled view
func (s *Session) View() []SignalView {
	return s.Engine.View()
}

// Touch marks the session as used now
func (s *Session) Touch() {
	s.lastSeen.Store(s.now().UnixNano())
}

// LastSeen returns when the session was last used
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}
