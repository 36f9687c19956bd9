package config

import "time"

// Signal lifetimes
const (
	// SignalTTL is fixed at creation and never extended by live updates
	SignalTTL = 4 * time.Hour

	// FlareTTL marks a signal as urgent for a short while
	FlareTTL = 5 * time.Minute
)

// Session timings
const (
	// SuppressionWindow hides the viewer's own signal after a local stop
	SuppressionWindow = 10 * time.Second

	// PollInterval defines how often a session re-reads the full signal set
	PollInterval = 30 * time.Second

	// FixTimeout bounds how long a start waits for a location fix
	FixTimeout = 20 * time.Second

	// GeocodeTimeout bounds the reverse geocoding lookup used for notices
	GeocodeTimeout = 3 * time.Second

	// SessionIdleTimeout closes sessions nobody touched for this long
	SessionIdleTimeout = 30 * time.Minute
)

// Worker intervals
const (
	// SweepWorkerInterval defines how often expired rows are purged
	SweepWorkerInterval = time.Minute

	// ReaperWorkerInterval defines how often idle sessions are checked
	ReaperWorkerInterval = time.Minute
)
