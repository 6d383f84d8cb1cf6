package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartops/internal/database"
)

func newTestCatalog(t *testing.T, ttl time.Duration) (*Catalog, database.Store) {
	t.Helper()

	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(store, ttl, 0), store
}

func seedAction(t *testing.T, store database.Store, name, kind string, active bool) *database.Action {
	t.Helper()

	action := &database.Action{Name: name, Kind: kind, IsActive: active, CommandTemplate: "true"}
	require.NoError(t, store.CreateAction(context.Background(), action))
	return action
}

func TestListServesFromCacheUntilInvalidated(t *testing.T) {
	cat, store := newTestCatalog(t, time.Hour)
	ctx := context.Background()

	seedAction(t, store, "cpu", database.KindGetInfo, true)

	actions, err := cat.List(ctx, database.KindGetInfo, true)
	require.NoError(t, err)
	require.Len(t, actions, 1)

	// A write behind the cache is invisible until the TTL or an invalidation
	seedAction(t, store, "mem", database.KindGetInfo, true)

	actions, err = cat.List(ctx, database.KindGetInfo, true)
	require.NoError(t, err)
	assert.Len(t, actions, 1)

	cat.Invalidate()

	actions, err = cat.List(ctx, database.KindGetInfo, true)
	require.NoError(t, err)
	assert.Len(t, actions, 2)
}

func TestListCacheExpires(t *testing.T) {
	cat, store := newTestCatalog(t, 20*time.Millisecond)
	ctx := context.Background()

	seedAction(t, store, "cpu", database.KindGetInfo, true)

	_, err := cat.List(ctx, database.KindGetInfo, true)
	require.NoError(t, err)

	seedAction(t, store, "mem", database.KindGetInfo, true)
	time.Sleep(40 * time.Millisecond)

	actions, err := cat.List(ctx, database.KindGetInfo, true)
	require.NoError(t, err)
	assert.Len(t, actions, 2)
}

func TestListFiltersKindAndActive(t *testing.T) {
	cat, store := newTestCatalog(t, time.Hour)
	ctx := context.Background()

	seedAction(t, store, "cpu", database.KindGetInfo, true)
	seedAction(t, store, "old-probe", database.KindGetInfo, false)
	seedAction(t, store, "restart", database.KindChangeState, true)

	infoActive, err := cat.List(ctx, database.KindGetInfo, true)
	require.NoError(t, err)
	require.Len(t, infoActive, 1)
	assert.Equal(t, "cpu", infoActive[0].Name)

	all, err := cat.List(ctx, "", false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGetBypassesCache(t *testing.T) {
	cat, store := newTestCatalog(t, time.Hour)
	ctx := context.Background()

	action := seedAction(t, store, "cpu", database.KindGetInfo, true)

	got, err := cat.Get(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, "cpu", got.Name)

	byName, err := cat.GetByName(ctx, "cpu")
	require.NoError(t, err)
	assert.Equal(t, action.ID, byName.ID)

	_, err = cat.Get(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestEffectiveTimeout(t *testing.T) {
	cat, _ := newTestCatalog(t, time.Hour)

	assert.Equal(t, DefaultTimeout, cat.EffectiveTimeout(&database.Action{}))
	assert.Equal(t, 5*time.Second, cat.EffectiveTimeout(&database.Action{TimeoutSeconds: 5}))
}

func TestEffectiveTimeoutConfiguredDefault(t *testing.T) {
	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cat := New(store, time.Hour, 10*time.Second)

	assert.Equal(t, 10*time.Second, cat.EffectiveTimeout(&database.Action{}))
	assert.Equal(t, 5*time.Second, cat.EffectiveTimeout(&database.Action{TimeoutSeconds: 5}))
}
