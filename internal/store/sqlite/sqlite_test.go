package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mytireplan/tire-plan-sub001/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "terminal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertGetListDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Upsert(ctx, store.CollectionProducts, "p2", json.RawMessage(`{"id":"p2","brand":"Kumho"}`)))
	require.NoError(t, s.Upsert(ctx, store.CollectionProducts, "p1", json.RawMessage(`{"id":"p1","brand":"Hankook","name":"Ventus"}`)))
	require.NoError(t, s.Upsert(ctx, store.CollectionProducts, "p1", json.RawMessage(`{"name":"Ventus S1"}`)))

	body, err := s.Get(ctx, store.CollectionProducts, "p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"p1","brand":"Hankook","name":"Ventus S1"}`, string(body))

	all, err := s.List(ctx, store.CollectionProducts, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.JSONEq(t, `{"id":"p1","brand":"Hankook","name":"Ventus S1"}`, string(all[0]))

	kumho, err := s.List(ctx, store.CollectionProducts, store.Filter{"brand": "Kumho"})
	require.NoError(t, err)
	assert.Len(t, kumho, 1)

	require.NoError(t, s.Delete(ctx, store.CollectionProducts, "p2"))
	_, err = s.Get(ctx, store.CollectionProducts, "p2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCommitRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	good, err := store.UpsertOf(store.CollectionProducts, "p1", map[string]any{"id": "p1"})
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, store.CollectionStockReceipts, "r1", json.RawMessage(`{"id":"r1"}`)))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, s.Commit(canceled, good))

	_, err = s.Get(ctx, store.CollectionProducts, "p1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubscribeSeesCommittedChanges(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var got []store.Change
	unsubscribe, err := s.Subscribe(ctx, store.CollectionSales, store.Filter{"location_id": "A"}, func(changes []store.Change) {
		got = append(got, changes...)
	})
	require.NoError(t, err)
	defer unsubscribe()

	m1, _ := store.UpsertOf(store.CollectionSales, "s1", map[string]any{"id": "s1", "location_id": "A"})
	m2, _ := store.UpsertOf(store.CollectionSales, "s2", map[string]any{"id": "s2", "location_id": "B"})
	require.NoError(t, s.Commit(ctx, m1, m2))

	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ID)
}
