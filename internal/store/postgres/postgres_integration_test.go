//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mytireplan/tire-plan-sub001/internal/store"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("tireplan_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestDocumentStoreAgainstPostgres(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	writer, err := New(ctx, dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	reader, err := New(ctx, dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	listenCtx, stopListening := context.WithCancel(ctx)
	t.Cleanup(stopListening)
	go func() { _ = reader.Listen(listenCtx, dsn) }()

	received := make(chan store.Change, 4)
	_, err = reader.Subscribe(ctx, store.CollectionProducts, nil, func(changes []store.Change) {
		for _, c := range changes {
			received <- c
		}
	})
	require.NoError(t, err)
	// give the listener time to issue LISTEN
	time.Sleep(500 * time.Millisecond)

	require.NoError(t, writer.Upsert(ctx, store.CollectionProducts, "p1", json.RawMessage(`{"id":"p1","name":"Ventus","brand":"Hankook"}`)))
	require.NoError(t, writer.Upsert(ctx, store.CollectionProducts, "p1", json.RawMessage(`{"name":"Ventus S1"}`)))

	body, err := reader.Get(ctx, store.CollectionProducts, "p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"p1","name":"Ventus S1","brand":"Hankook"}`, string(body))

	rows, err := reader.List(ctx, store.CollectionProducts, store.Filter{"brand": "Hankook"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	select {
	case change := <-received:
		assert.Equal(t, "p1", change.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("expected a change notification from the other store")
	}

	require.NoError(t, writer.Delete(ctx, store.CollectionProducts, "p1"))
	_, err = reader.Get(ctx, store.CollectionProducts, "p1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
