package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/mytireplan/tire-plan-sub001/internal/store"
	"github.com/mytireplan/tire-plan-sub001/internal/xid"
)

const (
	notifyChannel    = "document_changes"
	maxCommitRetries = 3
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	body JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_body_gin ON documents USING GIN (body jsonb_path_ops);
`

type notification struct {
	Origin     string `json:"origin"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Deleted    bool   `json:"deleted"`
}

// Store keeps every collection in one JSONB table. Writes from this process
// are published to local subscribers directly; writes from other processes
// arrive through LISTEN/NOTIFY once Listen is running.
type Store struct {
	db     *sql.DB
	origin string
	broker *store.Broker
	logger *zap.Logger
}

var _ store.DocumentStore = (*Store)(nil)

func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := NewWithDB(db, logger)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewWithDB(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		origin: xid.New("pg"),
		broker: store.NewBroker(logger),
		logger: logger,
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Upsert(ctx context.Context, collection, id string, body json.RawMessage) error {
	return s.Commit(ctx, store.Mutation{Op: store.OpUpsert, Collection: collection, ID: id, Body: body})
}

func (s *Store) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT body
		FROM documents
		WHERE collection = $1 AND id = $2
	`, collection, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return body, nil
}

func (s *Store) List(ctx context.Context, collection string, filter store.Filter) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body
		FROM documents
		WHERE collection = $1 AND body @> $2::jsonb
		ORDER BY id
	`, collection, string(filter.JSON()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]json.RawMessage, 0, 64)
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		out = append(out, body)
	}
	if err := rows.Err(); err != nil {
		return nil, err
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

	var (
		changes []store.Change
		err     error
	)
	for attempt := 1; attempt <= maxCommitRetries; attempt++ {
		changes, err = s.commitOnce(ctx, mutations)
		if err == nil || !isSerializationFailure(err) {
			break
		}
		s.logger.Debug("retrying serializable commit", zap.Int("attempt", attempt), zap.Error(err))
	}
	if err != nil {
		return err
	}

	s.broker.Publish(changes)
	return nil
}

func (s *Store) commitOnce(ctx context.Context, mutations []store.Mutation) ([]store.Change, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	changes := make([]store.Change, 0, len(mutations))
	for _, m := range mutations {
		change := store.Change{Collection: m.Collection, ID: m.ID}
		switch m.Op {
		case store.OpUpsert:
			var body []byte
			err := tx.QueryRowContext(ctx, `
				INSERT INTO documents (collection, id, body, updated_at)
				VALUES ($1, $2, $3::jsonb, now())
				ON CONFLICT (collection, id)
				DO UPDATE SET body = documents.body || EXCLUDED.body, updated_at = now()
				RETURNING body
			`, m.Collection, m.ID, string(m.Body)).Scan(&body)
			if err != nil {
				return nil, fmt.Errorf("upsert %s/%s: %w", m.Collection, m.ID, err)
			}
			change.Body = body
		case store.OpDelete:
			res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, m.Collection, m.ID)
			if err != nil {
				return nil, fmt.Errorf("delete %s/%s: %w", m.Collection, m.ID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			change.Deleted = true
		}

		payload, err := json.Marshal(notification{Origin: s.origin, Collection: m.Collection, ID: m.ID, Deleted: change.Deleted})
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload)); err != nil {
			return nil, fmt.Errorf("notify %s/%s: %w", m.Collection, m.ID, err)
		}
		changes = append(changes, change)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return changes, nil
}

// Listen relays other writers' notifications to local subscribers until ctx
// ends, reconnecting after connection errors.
func (s *Store) Listen(ctx context.Context, databaseURL string) error {
	backoff := time.Second
	for {
		err := s.listenOnce(ctx, databaseURL)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("document listener disconnected", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *Store) listenOnce(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	s.logger.Info("document listener started", zap.String("channel", notifyChannel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.handleNotification(ctx, n.Payload)
	}
}

func (s *Store) handleNotification(ctx context.Context, payload string) {
	var note notification
	if err := json.Unmarshal([]byte(payload), &note); err != nil {
		s.logger.Warn("malformed document notification", zap.String("payload", payload), zap.Error(err))
		return
	}
	if note.Origin == s.origin {
		return
	}

	change := store.Change{Collection: note.Collection, ID: note.ID, Deleted: note.Deleted}
	if !note.Deleted {
		body, err := s.Get(ctx, note.Collection, note.ID)
		if errors.Is(err, store.ErrNotFound) {
			change.Deleted = true
		} else if err != nil {
			s.logger.Warn("load notified document", zap.String("collection", note.Collection), zap.String("id", note.ID), zap.Error(err))
			return
		} else {
			change.Body = body
		}
	}
	s.broker.Publish([]store.Change{change})
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
