package postgres

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"radar/internal/config"
	"radar/internal/feed"
	"radar/internal/model"
	"radar/internal/service/presence"
	"radar/internal/util"
)

var _ presence.Store = (*PresenceStore)(nil)

// PresenceStore keeps presence signals in the presence_signals table and
// announces every committed change on the feed bus
type PresenceStore struct {
	db  *gorm.DB
	bus feed.Bus
	ttl time.Duration
	now func() time.Time
}

// NewPresenceStore builds a store. bus may be nil when nothing listens.
func NewPresenceStore(db *gorm.DB, bus feed.Bus) *PresenceStore {
	return &PresenceStore{
		db:  db,
		bus: bus,
		ttl: config.SignalTTL,
		now: time.Now,
	}
}

// signalRow is a signal joined with its owner's profile
type signalRow struct {
	ID             string
	OwnerID        string
	Latitude       float64
	Longitude      float64
	Message        string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	FlareExpiresAt *time.Time
	OwnerName      string
	OwnerAvatar    string
	OwnerRole      string
}

func (r signalRow) signal() *model.PresenceSignal {
	return &model.PresenceSignal{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		Message:        r.Message,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
		FlareExpiresAt: r.FlareExpiresAt,
		Owner: &model.Owner{
			Name:      r.OwnerName,
			AvatarURL: r.OwnerAvatar,
			Role:      r.OwnerRole,
		},
	}
}

func storeErr(op string, err error) error {
	if err == nil || errors.Is(err, presence.ErrSignalNotFound) {
		return err
	}
	return &presence.StoreError{Op: op, Err: err}
}

// lockOwner serializes writers of the same owner until the transaction ends
func lockOwner(tx *gorm.DB, ownerID string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", ownerID).Error
}

// Create replaces any row of the owner with a fresh signal expiring after
// the signal TTL. Coordinates must already be jittered.
func (s *PresenceStore) Create(ctx context.Context, ownerID string, lat, lng float64, message string) (*model.PresenceSignal, error) {
	now := s.now().UTC()
	sig := &model.PresenceSignal{
		ID:        util.ShortUUID(),
		OwnerID:   ownerID,
		Latitude:  lat,
		Longitude: lng,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	var replaced []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOwner(tx, ownerID); err != nil {
			return err
		}
		if err := tx.Model(&model.PresenceSignal{}).Where("owner_id = ?", ownerID).Pluck("id", &replaced).Error; err != nil {
			return err
		}
		if len(replaced) > 0 {
			if err := tx.Where("id IN ?", replaced).Delete(&model.PresenceSignal{}).Error; err != nil {
				return err
			}
		}
		return tx.Create(sig).Error
	})
	if err != nil {
		return nil, storeErr("create", err)
	}

	for _, id := range replaced {
		s.publish(ctx, feed.Event{Op: feed.OpDelete, ID: id})
	}
	s.publish(ctx, feed.Event{Op: feed.OpInsert, ID: sig.ID, Record: sig})
	return sig.Clone(), nil
}

// UpdateLocation moves an unexpired signal. Expiry is left as created.
func (s *PresenceStore) UpdateLocation(ctx context.Context, id string, lat, lng float64) error {
	sig, err := s.update(ctx, "update location", id, map[string]any{
		"latitude":  lat,
		"longitude": lng,
	})
	if err != nil {
		return err
	}
	s.publish(ctx, feed.Event{Op: feed.OpUpdate, ID: id, Record: sig})
	return nil
}

// SetFlare marks an unexpired signal urgent until the given instant
func (s *PresenceStore) SetFlare(ctx context.Context, id string, until time.Time) error {
	sig, err := s.update(ctx, "set flare", id, map[string]any{
		"flare_expires_at": until.UTC(),
	})
	if err != nil {
		return err
	}
	s.publish(ctx, feed.Event{Op: feed.OpUpdate, ID: id, Record: sig})
	return nil
}

func (s *PresenceStore) update(ctx context.Context, op, id string, columns map[string]any) (*model.PresenceSignal, error) {
	var sig model.PresenceSignal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.PresenceSignal{}).
			Where("id = ? AND expires_at > ?", id, s.now().UTC()).
			Updates(columns)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return presence.ErrSignalNotFound
		}
		return tx.Where("id = ?", id).First(&sig).Error
	})
	if err != nil {
		return nil, storeErr(op, err)
	}
	return &sig, nil
}

// DeleteOwn removes every row of the owner. Deleting nothing is fine.
func (s *PresenceStore) DeleteOwn(ctx context.Context, ownerID string) error {
	ids, err := s.deleteWhere(ctx, "owner_id = ?", ownerID)
	if err != nil {
		return storeErr("delete", err)
	}
	for _, id := range ids {
		s.publish(ctx, feed.Event{Op: feed.OpDelete, ID: id})
	}
	return nil
}

// PurgeExpired removes rows past their expiry and returns how many went
func (s *PresenceStore) PurgeExpired(ctx context.Context) (int, error) {
	ids, err := s.deleteWhere(ctx, "expires_at <= ?", s.now().UTC())
	if err != nil {
		return 0, storeErr("purge", err)
	}
	for _, id := range ids {
		s.publish(ctx, feed.Event{Op: feed.OpDelete, ID: id})
	}
	return len(ids), nil
}

func (s *PresenceStore) deleteWhere(ctx context.Context, query string, args ...any) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.PresenceSignal{}).Where(query, args...).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Where("id IN ?", ids).Delete(&model.PresenceSignal{}).Error
	})
	return ids, err
}

// ReadAll returns every unexpired signal whose owner is in good standing,
// newest first, with the owner's display attributes
func (s *PresenceStore) ReadAll(ctx context.Context) ([]*model.PresenceSignal, error) {
	var rows []signalRow
	err := s.db.WithContext(ctx).
		Table("presence_signals AS s").
		Select("s.id, s.owner_id, s.latitude, s.longitude, s.message, s.created_at, s.expires_at, s.flare_expires_at, "+
			"p.display_name AS owner_name, p.avatar_url AS owner_avatar, p.role AS owner_role").
		Joins("JOIN profiles p ON p.id = s.owner_id").
		Where("s.expires_at > ?", s.now().UTC()).
		Where("p.banned = ? AND p.suspended = ?", false, false).
		Order("s.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, storeErr("read", err)
	}

	signals := make([]*model.PresenceSignal, 0, len(rows))
	for _, r := range rows {
		signals = append(signals, r.signal())
	}
	return signals, nil
}

// publish announces a committed change. The feed is only a hint, so a
// failure is logged and the pollers catch up.
func (s *PresenceStore) publish(ctx context.Context, ev feed.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(context.WithoutCancel(ctx), ev); err != nil {
		log.Printf("[postgres] publishing %s %s failed: %v", ev.Op, ev.ID, err)
	}
}
