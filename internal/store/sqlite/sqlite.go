package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mytireplan/tire-plan-sub001/internal/store"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_collection_idx ON documents (collection)`,
}

type row struct {
	ID   string `db:"id"`
	Body string `db:"body"`
}

// Store is a single-file DocumentStore for a terminal running without a shared
// database. Subscribers see writes made through this Store only.
type Store struct {
	db     *sqlx.DB
	broker *store.Broker
	now    func() time.Time
}

var _ store.DocumentStore = (*Store)(nil)

func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer keeps sqlite from returning SQLITE_BUSY under concurrent commits
	db.SetMaxOpenConns(1)

	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &Store{
		db:     db,
		broker: store.NewBroker(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Upsert(ctx context.Context, collection, id string, body json.RawMessage) error {
	return s.Commit(ctx, store.Mutation{Op: store.OpUpsert, Collection: collection, ID: id, Body: body})
}

func (s *Store) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	var body string
	err := s.db.GetContext(ctx, &body, `SELECT body FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (s *Store) List(ctx context.Context, collection string, filter store.Filter) ([]json.RawMessage, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, body FROM documents WHERE collection = ? ORDER BY id`, collection); err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		body := json.RawMessage(r.Body)
		if filter.Matches(body) {
			out = append(out, body)
		}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.Commit(ctx, store.DeleteOf(collection, id))
}

func (s *Store) Subscribe(ctx context.Context, collection string, filter store.Filter, onChange func([]store.Change)) (func(), error) {
	return s.broker.Subscribe(ctx, collection, filter, onChange), nil
}

func (s *Store) Commit(ctx context.Context, mutations ...store.Mutation) error {
	if err := store.ValidateAll(mutations); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().Format(time.RFC3339Nano)
	changes := make([]store.Change, 0, len(mutations))
	for _, m := range mutations {
		switch m.Op {
		case store.OpUpsert:
			var existing string
			err := tx.GetContext(ctx, &existing, `SELECT body FROM documents WHERE collection = ? AND id = ?`, m.Collection, m.ID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			merged, err := store.MergeTopLevel(json.RawMessage(existing), m.Body)
			if err != nil {
				return fmt.Errorf("merge %s/%s: %w", m.Collection, m.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO documents (collection, id, body, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
			`, m.Collection, m.ID, string(merged), now); err != nil {
				return fmt.Errorf("upsert %s/%s: %w", m.Collection, m.ID, err)
			}
			changes = append(changes, store.Change{Collection: m.Collection, ID: m.ID, Body: merged})
		case store.OpDelete:
			res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, m.Collection, m.ID)
			if err != nil {
				return fmt.Errorf("delete %s/%s: %w", m.Collection, m.ID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				changes = append(changes, store.Change{Collection: m.Collection, ID: m.ID, Deleted: true})
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.broker.Publish(changes)
	return nil
}
