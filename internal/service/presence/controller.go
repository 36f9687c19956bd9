package presence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"radar/internal/model"
	"radar/internal/service/notify"
	"radar/internal/util"
)

// State of the local user's own broadcast
type State int

const (
	StateInactive State = iota
	StateStarting
	StateActiveStatic
	StateActiveLive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "INACTIVE"
	case StateStarting:
		return "STARTING"
	case StateActiveStatic:
		return "ACTIVE_STATIC"
	case StateActiveLive:
		return "ACTIVE_LIVE"
	case StateStopping:
		return "STOPPING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st := StateInactive; st <= StateStopping; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Active reports whether a signal is being broadcast
func (s State) Active() bool {
	return s == StateActiveStatic || s == StateActiveLive
}

// Mode picks between a one-shot fix and continuous tracking
type Mode int

const (
	ModeStatic Mode = iota
	ModeLive
)

func (m Mode) String() string {
	if m == ModeLive {
		return "LIVE"
	}
	return "STATIC"
}

// ParseMode accepts "static" or "live" in any case
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "static":
		return ModeStatic, nil
	case "live":
		return ModeLive, nil
	default:
		return ModeStatic, fmt.Errorf("unknown broadcast mode %q", s)
	}
}

// Announcer sends the best-effort notice for a new broadcast
type Announcer interface {
	Announce(ctx context.Context, n notify.Notice, lat, lng float64)
}

// Status is a snapshot of the controller for clients
type Status struct {
	State          State  `json:"state"`
	SignalID       string `json:"signal_id,omitempty"`
	LivePreference bool   `json:"live_preference"`
	LiveEntitled   bool   `json:"live_entitled"`
}

// ControllerConfig identifies the owner and carries the timings
type ControllerConfig struct {
	OwnerID           string
	OwnerName         string
	LiveEntitled      bool
	FixTimeout        time.Duration
	SuppressionWindow time.Duration
	FlareTTL          time.Duration
}

// stopDeleteTimeout bounds the background delete issued by Stop
const stopDeleteTimeout = 10 * time.Second

// liveWriteQueue bounds the live-tick writes waiting for the store
const liveWriteQueue = 16

// Controller owns the lifecycle of the local user's own signal
type Controller struct {
	cfg       ControllerConfig
	store     Store
	locator   Locator
	engine    *Engine
	announcer Announcer
	now       func() time.Time
	jitter    func(lat, lng float64) (float64, float64)
	baseCtx   context.Context

	mutex         sync.Mutex
	state         State
	ownSignalID   string
	livePref      bool
	watchCancel   context.CancelFunc
	watchGen      uint64
	startCancel   context.CancelFunc
	stopRequested bool
	stopDone      chan struct{}
	closed        bool

	wg sync.WaitGroup
}

// NewController builds a controller. baseCtx scopes background work and
// ends with the session.
func NewController(baseCtx context.Context, cfg ControllerConfig, store Store, locator Locator, engine *Engine, announcer Announcer) *Controller {
	return &Controller{
		cfg:       cfg,
		store:     store,
		locator:   locator,
		engine:    engine,
		announcer: announcer,
		now:       time.Now,
		jitter:    util.Jitter,
		baseCtx:   baseCtx,
	}
}

// Status returns the current state
func (c *Controller) Status() Status {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return Status{
		State:          c.state,
		SignalID:       c.ownSignalID,
		LivePreference: c.livePref,
		LiveEntitled:   c.cfg.LiveEntitled,
	}
}

// PreferredMode is the mode used when a start does not name one
func (c *Controller) PreferredMode() Mode {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.livePref {
		return ModeLive
	}
	return ModeStatic
}

// SetLivePreference flips the live-mode preference. Only allowed while
// inactive; it never touches the store.
func (c *Controller) SetLivePreference(on bool) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.state != StateInactive {
		return ErrBusy
	}
	if on && !c.cfg.LiveEntitled {
		return ErrNotEntitled
	}
	c.livePref = on
	return nil
}

// Start broadcasts a new signal. It waits for a fix, bounded by the fix
// timeout, then for the store write. Fix failures return the controller to
// INACTIVE with a typed error and are never retried.
func (c *Controller) Start(ctx context.Context, mode Mode, message string) (*model.PresenceSignal, error) {
	if !model.ValidMessage(message) {
		return nil, ErrInvalidMessage
	}
	if mode == ModeLive && !c.cfg.LiveEntitled {
		return nil, ErrNotEntitled
	}

	startCtx, err := c.beginStart(ctx)
	if err != nil {
		return nil, err
	}

	fixCtx, fixCancel := context.WithTimeout(startCtx, c.cfg.FixTimeout)
	pos, err := c.locator.CurrentPosition(fixCtx)
	fixCancel()
	if err != nil {
		err = classifyFixError(err, startCtx)
		if c.abortStart(false) {
			return nil, ErrCanceled
		}
		return nil, err
	}

	c.engine.SetViewerPosition(pos.Point)
	lat, lng := c.jitter(pos.Lat, pos.Lng)

	sig, err := c.store.Create(startCtx, c.cfg.OwnerID, lat, lng, message)
	if err != nil {
		if c.abortStart(true) {
			return nil, ErrCanceled
		}
		return nil, err
	}

	c.mutex.Lock()
	if c.startCancel != nil {
		c.startCancel()
		c.startCancel = nil
	}
	if c.stopRequested {
		// A stop raced the write; undo it behind the suppression window
		c.ownSignalID = ""
		c.beginStopLocked()
		c.mutex.Unlock()
		return nil, ErrCanceled
	}
	c.ownSignalID = sig.ID
	// Rows of an earlier broadcast stay hidden behind the own copy
	c.engine.SuppressOwn(time.Time{})
	c.engine.SetOwn(sig)
	if mode == ModeLive {
		c.state = StateActiveLive
		c.startWatchLocked()
	} else {
		c.state = StateActiveStatic
	}
	announce := c.announcer != nil && !c.closed
	if announce {
		c.wg.Add(1)
	}
	c.mutex.Unlock()

	log.Printf("[presence] %s started %s broadcast %s", c.cfg.OwnerID, mode, sig.ID)

	if announce {
		notice := notify.Notice{
			SignalID:  sig.ID,
			OwnerID:   c.cfg.OwnerID,
			OwnerName: c.cfg.OwnerName,
			Message:   sig.Message,
			CreatedAt: sig.CreatedAt,
		}
		go func() {
			defer c.wg.Done()
			c.announcer.Announce(c.baseCtx, notice, sig.Latitude, sig.Longitude)
		}()
	}
	return sig.Clone(), nil
}

// beginStart moves to STARTING, waiting out a stop still deleting
func (c *Controller) beginStart(ctx context.Context) (context.Context, error) {
	for {
		c.mutex.Lock()
		if c.closed {
			c.mutex.Unlock()
			return nil, ErrCanceled
		}
		switch c.state {
		case StateStopping:
			done := c.stopDone
			c.mutex.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return nil, ErrCanceled
			}
		case StateStarting:
			c.mutex.Unlock()
			return nil, ErrBusy
		}
		break
	}
	defer c.mutex.Unlock()

	// Re-broadcasting replaces the current signal; live ticks for it stop now
	c.cancelWatchLocked()

	startCtx, cancel := context.WithCancel(ctx)
	c.state = StateStarting
	c.startCancel = cancel
	c.stopRequested = false
	return startCtx, nil
}

// abortStart leaves STARTING after a failure. A signal held from before
// the start survives if the store was never written; after a failed write
// its fate is unknown and the next poll resyncs it. Returns true when a
// stop was requested meanwhile, in which case the owner's rows are deleted.
func (c *Controller) abortStart(attemptedWrite bool) (stopped bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.startCancel != nil {
		c.startCancel()
		c.startCancel = nil
	}
	if c.state != StateStarting {
		return false
	}

	if c.stopRequested {
		c.ownSignalID = ""
		c.beginStopLocked()
		return true
	}

	if c.ownSignalID != "" && !attemptedWrite {
		c.state = StateActiveStatic
		return false
	}
	c.state = StateInactive
	if c.ownSignalID != "" {
		c.ownSignalID = ""
		c.engine.ClearOwn()
	}
	return false
}

func classifyFixError(err error, startCtx context.Context) error {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrPositionUnavailable), errors.Is(err, ErrTimeout):
		return err
	case startCtx.Err() != nil:
		return ErrCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
	}
}

// Stop withdraws the signal. The own row is hidden and removed locally
// first, live tracking is canceled, then the store delete runs in the
// background. Stopping an inactive controller is a no-op.
func (c *Controller) Stop() {
	c.mutex.Lock()

	switch {
	case c.closed:
		c.mutex.Unlock()
		return
	case c.state == StateStarting:
		c.stopRequested = true
		c.engine.SuppressOwn(c.now().Add(c.cfg.SuppressionWindow))
		c.engine.ClearOwn()
		if c.startCancel != nil {
			c.startCancel()
		}
		c.mutex.Unlock()
		return
	case !c.state.Active():
		c.mutex.Unlock()
		return
	}

	c.engine.SuppressOwn(c.now().Add(c.cfg.SuppressionWindow))
	c.engine.ClearOwn()
	c.cancelWatchLocked()
	id := c.ownSignalID
	c.ownSignalID = ""
	c.beginStopLocked()
	c.mutex.Unlock()

	log.Printf("[presence] %s stopped broadcast %s", c.cfg.OwnerID, id)
}

// beginStopLocked enters STOPPING and deletes the owner's rows in the
// background; the state becomes INACTIVE whatever the delete returns
func (c *Controller) beginStopLocked() {
	c.state = StateStopping
	done := make(chan struct{})
	c.stopDone = done

	// After Close the delete still runs, untracked
	tracked := !c.closed
	if tracked {
		c.wg.Add(1)
	}
	go func() {
		if tracked {
			defer c.wg.Done()
		}
		defer close(done)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.baseCtx), stopDeleteTimeout)
		defer cancel()
		if err := c.store.DeleteOwn(ctx, c.cfg.OwnerID); err != nil {
			log.Printf("[presence] deleting signal of %s failed: %v", c.cfg.OwnerID, err)
		}

		c.mutex.Lock()
		if c.state == StateStopping {
			c.state = StateInactive
		}
		c.mutex.Unlock()
	}()
}

// Flare marks the active signal urgent for the flare TTL
func (c *Controller) Flare(ctx context.Context) (time.Time, error) {
	c.mutex.Lock()
	if !c.state.Active() {
		c.mutex.Unlock()
		return time.Time{}, ErrNotBroadcasting
	}
	id := c.ownSignalID
	c.mutex.Unlock()

	until := c.now().Add(c.cfg.FlareTTL)
	if err := c.store.SetFlare(ctx, id, until); err != nil {
		if errors.Is(err, ErrSignalNotFound) {
			c.SignalGone(id)
			return time.Time{}, ErrNotBroadcasting
		}
		return time.Time{}, err
	}
	c.engine.SetOwnFlare(id, until)
	return until, nil
}

// Adopt takes over an existing row of the owner after a reload. It only
// applies while inactive, with no signal id held and outside the
// suppression window.
func (c *Controller) Adopt(sig *model.PresenceSignal) bool {
	if sig == nil || sig.OwnerID != c.cfg.OwnerID || !sig.Active(c.now()) {
		return false
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.state != StateInactive || c.ownSignalID != "" || c.engine.Suppressed(sig.OwnerID) {
		return false
	}
	c.ownSignalID = sig.ID
	c.state = StateActiveStatic
	c.engine.SetOwn(sig)
	log.Printf("[presence] %s recovered broadcast %s", c.cfg.OwnerID, sig.ID)
	return true
}

// ExpireIfDue returns to INACTIVE once the own signal outlived its TTL
func (c *Controller) ExpireIfDue() {
	own, ok := c.engine.OwnSignal()
	if !ok || own.Active(c.now()) {
		return
	}
	c.SignalGone(own.ID)
}

// SignalGone handles the own row disappearing from the store, through
// expiry, a sweep or another device. Only acts on the current signal.
func (c *Controller) SignalGone(id string) {
	c.mutex.Lock()
	if !c.state.Active() || c.ownSignalID != id {
		c.mutex.Unlock()
		return
	}
	c.cancelWatchLocked()
	c.ownSignalID = ""
	c.state = StateInactive
	c.mutex.Unlock()

	c.engine.ClearOwn()
	log.Printf("[presence] broadcast %s of %s ended", id, c.cfg.OwnerID)
}

func (c *Controller) startWatchLocked() {
	if c.closed {
		c.state = StateActiveStatic
		return
	}
	wctx, cancel := context.WithCancel(c.baseCtx)
	ticks, err := c.locator.Watch(wctx)
	if err != nil {
		cancel()
		log.Printf("[presence] live tracking for %s unavailable: %v", c.cfg.OwnerID, err)
		c.state = StateActiveStatic
		return
	}

	c.watchGen++
	gen := c.watchGen
	c.watchCancel = cancel
	writes := make(chan locationWrite, liveWriteQueue)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		defer close(writes)
		for pos := range ticks {
			c.handleTick(gen, pos, writes)
		}
	}()
	go func() {
		defer c.wg.Done()
		for w := range writes {
			c.pushLocation(wctx, gen, w)
		}
	}()
}

type locationWrite struct {
	id       string
	lat, lng float64
}

// handleTick applies a live fix to the local copy synchronously and queues
// the store write
func (c *Controller) handleTick(gen uint64, pos Position, writes chan<- locationWrite) {
	c.mutex.Lock()
	if c.watchGen != gen || c.state != StateActiveLive || c.ownSignalID == "" {
		c.mutex.Unlock()
		return
	}
	id := c.ownSignalID
	lat, lng := c.jitter(pos.Lat, pos.Lng)
	c.engine.SetViewerPosition(pos.Point)
	c.engine.UpdateOwnLocation(id, lat, lng)
	c.mutex.Unlock()

	select {
	case writes <- locationWrite{id: id, lat: lat, lng: lng}:
	default:
		log.Printf("[presence] live write queue full for %s, skipping tick", c.cfg.OwnerID)
	}
}

func (c *Controller) pushLocation(ctx context.Context, gen uint64, w locationWrite) {
	c.mutex.Lock()
	stale := c.watchGen != gen
	c.mutex.Unlock()
	if stale || ctx.Err() != nil {
		return
	}
	err := c.store.UpdateLocation(ctx, w.id, w.lat, w.lng)
	switch {
	case err == nil:
	case errors.Is(err, ErrSignalNotFound):
		c.SignalGone(w.id)
	case ctx.Err() != nil:
	default:
		log.Printf("[presence] live update of %s failed: %v", w.id, err)
	}
}

func (c *Controller) cancelWatchLocked() {
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
	c.watchGen++
}

// Close cancels live tracking and any pending start, then waits for
// background work. Later starts fail with ErrCanceled and stops do
// nothing. The signal itself stays until it expires.
func (c *Controller) Close() {
	c.mutex.Lock()
	c.closed = true
	c.cancelWatchLocked()
	if c.startCancel != nil {
		c.startCancel()
	}
	c.mutex.Unlock()
	c.wg.Wait()
}

// Wait blocks until background writes, deletes and notices finish
func (c *Controller) Wait() {
	c.wg.Wait()
}
