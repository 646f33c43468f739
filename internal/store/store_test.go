package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatches(t *testing.T) {
	body := json.RawMessage(`{"id":"r1","location_id":"A","quantity":3,"hidden":false}`)

	t.Run("empty filter matches everything", func(t *testing.T) {
		assert.True(t, Filter(nil).Matches(body))
	})
	t.Run("equal fields match", func(t *testing.T) {
		assert.True(t, Filter{"location_id": "A", "quantity": 3}.Matches(body))
		assert.True(t, Filter{"hidden": false}.Matches(body))
	})
	t.Run("different or missing field does not match", func(t *testing.T) {
		assert.False(t, Filter{"location_id": "B"}.Matches(body))
		assert.False(t, Filter{"consumed_at_sale_id": "S1"}.Matches(body))
	})
	t.Run("empty body never matches a filter", func(t *testing.T) {
		assert.False(t, Filter{"id": "r1"}.Matches(nil))
	})
}

func TestMergeTopLevel(t *testing.T) {
	merged, err := MergeTopLevel(
		json.RawMessage(`{"id":"p1","name":"old","brand":"Kumho"}`),
		json.RawMessage(`{"id":"p1","name":"new"}`),
	)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(merged, &out))
	assert.Equal(t, map[string]string{"id": "p1", "name": "new", "brand": "Kumho"}, out)

	first, err := MergeTopLevel(nil, json.RawMessage(`{"id":"p2"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"p2"}`, string(first))
}

func TestMutationValidate(t *testing.T) {
	ok, err := UpsertOf(CollectionProducts, "p1", map[string]any{"id": "p1"})
	require.NoError(t, err)
	assert.NoError(t, ok.Validate())
	assert.NoError(t, DeleteOf(CollectionSales, "s1").Validate())

	assert.ErrorIs(t, Mutation{Op: OpUpsert, Collection: "products"}.Validate(), ErrInvalidMutation)
	assert.ErrorIs(t, Mutation{Op: OpUpsert, Collection: "products", ID: "p1", Body: json.RawMessage(`[1]`)}.Validate(), ErrInvalidMutation)
	assert.ErrorIs(t, Mutation{Op: "merge", Collection: "products", ID: "p1"}.Validate(), ErrInvalidMutation)
	assert.ErrorIs(t, ValidateAll([]Mutation{ok, {Op: OpDelete}}), ErrInvalidMutation)
}

func TestBrokerFanOut(t *testing.T) {
	broker := NewBroker(nil)
	var locA, all []Change

	unsubA := broker.Subscribe(context.Background(), CollectionStockReceipts, Filter{"location_id": "A"}, func(changes []Change) {
		locA = append(locA, changes...)
	})
	broker.Subscribe(context.Background(), CollectionStockReceipts, nil, func(changes []Change) {
		all = append(all, changes...)
	})
	broker.Subscribe(context.Background(), CollectionProducts, nil, func([]Change) {
		panic("subscriber bug")
	})

	broker.Publish([]Change{
		{Collection: CollectionStockReceipts, ID: "r1", Body: json.RawMessage(`{"location_id":"A"}`)},
		{Collection: CollectionStockReceipts, ID: "r2", Body: json.RawMessage(`{"location_id":"B"}`)},
		{Collection: CollectionProducts, ID: "p1", Body: json.RawMessage(`{}`)},
	})
	require.Len(t, locA, 1)
	assert.Equal(t, "r1", locA[0].ID)
	assert.Len(t, all, 2)

	unsubA()
	unsubA()
	broker.Publish([]Change{{Collection: CollectionStockReceipts, ID: "r3", Deleted: true}})
	assert.Len(t, locA, 1)
	assert.Len(t, all, 3)
	assert.Equal(t, 2, broker.Len())
}

func TestBrokerUnsubscribesWhenContextEnds(t *testing.T) {
	broker := NewBroker(nil)
	ctx, cancel := context.WithCancel(context.Background())
	broker.Subscribe(ctx, CollectionSales, nil, func([]Change) {})
	require.Equal(t, 1, broker.Len())

	cancel()
	assert.Eventually(t, func() bool { return broker.Len() == 0 }, time.Second, 5*time.Millisecond)
}
