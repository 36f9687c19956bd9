package presence

import (
	"context"
	"time"

	"radar/internal/model"
)

// Store is the typed client for the persistent presence table.
//
// Create removes any earlier row of the owner before inserting, so each
// owner has at most one active row. UpdateLocation only touches the
// coordinates and returns ErrSignalNotFound for a missing id. DeleteOwn
// is idempotent. ReadAll returns only unexpired rows of owners who are
// neither banned nor suspended, with owner display attributes joined in.
// Failures other than ErrSignalNotFound are *StoreError.
type Store interface {
	Create(ctx context.Context, ownerID string, lat, lng float64, message string) (*model.PresenceSignal, error)
	UpdateLocation(ctx context.Context, id string, lat, lng float64) error
	SetFlare(ctx context.Context, id string, until time.Time) error
	DeleteOwn(ctx context.Context, ownerID string) error
	ReadAll(ctx context.Context) ([]*model.PresenceSignal, error)
}
