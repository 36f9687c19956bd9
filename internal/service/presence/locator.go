package presence

import (
	"context"
	"sync"
	"time"

	"radar/internal/util"
)

// Position is a raw device fix. It never leaves the session unjittered.
type Position struct {
	util.Point
	Accuracy float64
	At       time.Time
}

// Locator supplies location fixes to the controller
type Locator interface {
	// CurrentPosition returns one fix or a typed fix error
	CurrentPosition(ctx context.Context) (Position, error)
	// Watch streams fixes until ctx ends, then closes the channel
	Watch(ctx context.Context) (<-chan Position, error)
}

// DeviceLocator is fed by the device, which relays its geolocation results
// over the API. A result reported shortly before CurrentPosition is called
// counts, so a device may send its fix together with the start request.
type DeviceLocator struct {
	maxAge time.Duration
	now    func() time.Time

	mutex    sync.Mutex
	last     *fixResult
	waiters  map[chan fixResult]struct{}
	watchers map[chan Position]struct{}
}

type fixResult struct {
	pos Position
	err error
	at  time.Time
}

// watchBuffer bounds how many ticks a slow consumer may fall behind
const watchBuffer = 8

func NewDeviceLocator(maxAge time.Duration, now func() time.Time) *DeviceLocator {
	if now == nil {
		now = time.Now
	}
	return &DeviceLocator{
		maxAge:   maxAge,
		now:      now,
		waiters:  make(map[chan fixResult]struct{}),
		watchers: make(map[chan Position]struct{}),
	}
}

// Report delivers a fix to pending CurrentPosition calls and to watchers
func (l *DeviceLocator) Report(pos Position) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if pos.At.IsZero() {
		pos.At = l.now()
	}
	res := fixResult{pos: pos, at: l.now()}
	l.last = &res
	l.wakeLocked(res)

	for ch := range l.watchers {
		select {
		case ch <- pos:
		default:
		}
	}
}

// ReportError delivers a geolocation failure to pending CurrentPosition
// calls. Watchers keep waiting for the next fix.
func (l *DeviceLocator) ReportError(err error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	res := fixResult{err: err, at: l.now()}
	l.last = &res
	l.wakeLocked(res)
}

func (l *DeviceLocator) wakeLocked(res fixResult) {
	for ch := range l.waiters {
		ch <- res
		delete(l.waiters, ch)
	}
}

func (l *DeviceLocator) CurrentPosition(ctx context.Context) (Position, error) {
	l.mutex.Lock()
	if l.last != nil && l.now().Sub(l.last.at) <= l.maxAge {
		res := *l.last
		l.mutex.Unlock()
		return res.pos, res.err
	}
	ch := make(chan fixResult, 1)
	l.waiters[ch] = struct{}{}
	l.mutex.Unlock()

	select {
	case res := <-ch:
		return res.pos, res.err
	case <-ctx.Done():
		l.mutex.Lock()
		delete(l.waiters, ch)
		l.mutex.Unlock()
		return Position{}, ctx.Err()
	}
}

func (l *DeviceLocator) Watch(ctx context.Context) (<-chan Position, error) {
	ch := make(chan Position, watchBuffer)

	l.mutex.Lock()
	l.watchers[ch] = struct{}{}
	l.mutex.Unlock()

	go func() {
		<-ctx.Done()
		l.mutex.Lock()
		delete(l.watchers, ch)
		close(ch)
		l.mutex.Unlock()
	}()
	return ch, nil
}
