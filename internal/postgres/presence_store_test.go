package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"radar/internal/feed"
	"radar/internal/model"
	"radar/internal/service/presence"
)

var t0 = time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC)

type recordingBus struct {
	mu     sync.Mutex
	events []feed.Event
}

func (b *recordingBus) Publish(ctx context.Context, ev feed.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, table string) (feed.Subscription, error) {
	return nil, fmt.Errorf("not supported")
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) ops() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, string(ev.Op)+" "+ev.ID)
	}
	return out
}

type testEnv struct {
	db    *gorm.DB
	bus   *recordingBus
	store *PresenceStore
	now   time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() { _ = Close(db) })

	env := &testEnv{db: db, bus: &recordingBus{}, now: t0}
	env.store = NewPresenceStore(db, env.bus)
	env.store.now = func() time.Time { return env.now }

	for _, p := range []model.Profile{
		{ID: "ann", DisplayName: "Ann", Role: "user"},
		{ID: "bob", DisplayName: "Bob", Role: "premium"},
		{ID: "eve", DisplayName: "Eve", Role: "user", Banned: true},
		{ID: "sam", DisplayName: "Sam", Role: "user", Suspended: true},
	} {
		require.NoError(t, db.Create(&p).Error)
	}
	return env
}

func (e *testEnv) rowsOf(t *testing.T, owner string) []model.PresenceSignal {
	t.Helper()
	var rows []model.PresenceSignal
	require.NoError(t, e.db.Where("owner_id = ?", owner).Find(&rows).Error)
	return rows
}

func TestPresenceStore_CreateSetsExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sig, err := env.store.Create(ctx, "ann", 51.5, -0.12, model.MessageLookingForCompany)
	require.NoError(t, err)
	assert.NotEmpty(t, sig.ID)
	assert.True(t, sig.ExpiresAt.Equal(t0.Add(4*time.Hour)))

	env.now = t0.Add(3*time.Hour + 59*time.Minute)
	all, err := env.store.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Ann", all[0].Owner.Name)

	env.now = t0.Add(4*time.Hour + time.Minute)
	all, err = env.store.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPresenceStore_CreateReplacesOwnerRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.store.Create(ctx, "ann", 1, 1, model.MessageOpenToChat)
	require.NoError(t, err)
	second, err := env.store.Create(ctx, "ann", 2, 2, model.MessageLetsDance)
	require.NoError(t, err)

	rows := env.rowsOf(t, "ann")
	require.Len(t, rows, 1)
	assert.Equal(t, second.ID, rows[0].ID)
	assert.Equal(t, []string{
		"INSERT " + first.ID,
		"DELETE " + first.ID,
		"INSERT " + second.ID,
	}, env.bus.ops())
}

func TestPresenceStore_UpdateLocationKeepsIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sig, err := env.store.Create(ctx, "bob", 1, 1, model.MessageOpenToChat)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		env.now = t0.Add(time.Duration(i*5) * time.Second)
		require.NoError(t, env.store.UpdateLocation(ctx, sig.ID, 1+float64(i), 1))
	}

	rows := env.rowsOf(t, "bob")
	require.Len(t, rows, 1)
	assert.Equal(t, sig.ID, rows[0].ID)
	assert.Equal(t, 4.0, rows[0].Latitude)
	assert.True(t, rows[0].ExpiresAt.Equal(sig.ExpiresAt))

	env.bus.mu.Lock()
	last := env.bus.events[len(env.bus.events)-1]
	env.bus.mu.Unlock()
	assert.Equal(t, feed.OpUpdate, last.Op)
	require.NotNil(t, last.Record)
	assert.Equal(t, "bob", last.Record.OwnerID)
}

func TestPresenceStore_UpdateMissingOrExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, env.store.UpdateLocation(ctx, "nope", 1, 1), presence.ErrSignalNotFound)

	sig, err := env.store.Create(ctx, "ann", 1, 1, model.MessageOpenToChat)
	require.NoError(t, err)
	env.now = t0.Add(5 * time.Hour)
	assert.ErrorIs(t, env.store.UpdateLocation(ctx, sig.ID, 2, 2), presence.ErrSignalNotFound)
	assert.ErrorIs(t, env.store.SetFlare(ctx, sig.ID, env.now), presence.ErrSignalNotFound)
}

func TestPresenceStore_SetFlare(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sig, err := env.store.Create(ctx, "ann", 1, 1, model.MessageOpenToChat)
	require.NoError(t, err)

	require.NoError(t, env.store.SetFlare(ctx, sig.ID, t0.Add(5*time.Minute)))

	all, err := env.store.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Urgent(t0))
	assert.False(t, all[0].Urgent(t0.Add(6*time.Minute)))
}

func TestPresenceStore_DeleteOwnIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sig, err := env.store.Create(ctx, "ann", 1, 1, model.MessageOpenToChat)
	require.NoError(t, err)

	require.NoError(t, env.store.DeleteOwn(ctx, "ann"))
	require.NoError(t, env.store.DeleteOwn(ctx, "ann"))

	assert.Empty(t, env.rowsOf(t, "ann"))
	assert.Equal(t, []string{"INSERT " + sig.ID, "DELETE " + sig.ID}, env.bus.ops())
}

func TestPresenceStore_ReadAllFiltersOwners(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, owner := range []string{"ann", "bob", "eve", "sam", "ghost"} {
		_, err := env.store.Create(ctx, owner, 1, 1, model.MessageOpenToChat)
		require.NoError(t, err)
		env.now = env.now.Add(time.Second)
	}

	all, err := env.store.ReadAll(ctx)
	require.NoError(t, err)

	owners := make([]string, 0, len(all))
	for _, s := range all {
		owners = append(owners, s.OwnerID)
	}
	assert.Equal(t, []string{"bob", "ann"}, owners)
	assert.Equal(t, "premium", all[0].Owner.Role)
}

func TestPresenceStore_PurgeExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	old, err := env.store.Create(ctx, "ann", 1, 1, model.MessageOpenToChat)
	require.NoError(t, err)
	env.now = t0.Add(2 * time.Hour)
	_, err = env.store.Create(ctx, "bob", 1, 1, model.MessageOpenToChat)
	require.NoError(t, err)

	env.now = t0.Add(4*time.Hour + time.Second)
	n, err := env.store.PurgeExpired(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Empty(t, env.rowsOf(t, "ann"))
	assert.Len(t, env.rowsOf(t, "bob"), 1)
	assert.Contains(t, env.bus.ops(), "DELETE "+old.ID)
}

func TestPresenceStore_ErrorsAreStoreErrors(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, Close(env.db))

	_, err := env.store.ReadAll(context.Background())
	assert.True(t, presence.IsStoreError(err))
}
