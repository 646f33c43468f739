package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	CollectionProducts      = "products"
	CollectionSales         = "sales"
	CollectionStockReceipts = "stock_receipts"
	CollectionTransfers     = "transfers"
	CollectionLocations     = "locations"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrInvalidMutation = errors.New("invalid mutation")
)

type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

type Mutation struct {
	Op         Op              `json:"op"`
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// Change is what subscribers receive. Body is the stored document after the
// write and is nil for deletes.
type Change struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Body       json.RawMessage `json:"body,omitempty"`
	Deleted    bool            `json:"deleted"`
}

// DocumentStore is the shared persistence and sync collaborator. Every
// terminal writes through it and learns about other terminals' writes from
// Subscribe.
type DocumentStore interface {
	// Upsert creates the document or merges the top-level fields of body into it.
	Upsert(ctx context.Context, collection, id string, body json.RawMessage) error
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)
	List(ctx context.Context, collection string, filter Filter) ([]json.RawMessage, error)
	Delete(ctx context.Context, collection, id string) error
	// Subscribe calls onChange for every matching write, from any writer,
	// until the returned function is called or ctx ends.
	Subscribe(ctx context.Context, collection string, filter Filter, onChange func([]Change)) (func(), error)
	// Commit applies all mutations or none of them.
	Commit(ctx context.Context, mutations ...Mutation) error
	Close() error
}

type Committer interface {
	Commit(ctx context.Context, mutations ...Mutation) error
}

func UpsertOf(collection, id string, v any) (Mutation, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Mutation{}, fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	return Mutation{Op: OpUpsert, Collection: collection, ID: id, Body: body}, nil
}

func DeleteOf(collection, id string) Mutation {
	return Mutation{Op: OpDelete, Collection: collection, ID: id}
}

func (m Mutation) Validate() error {
	if m.Collection == "" || m.ID == "" {
		return fmt.Errorf("%w: collection and id are required", ErrInvalidMutation)
	}
	switch m.Op {
	case OpDelete:
		return nil
	case OpUpsert:
		trimmed := bytes.TrimSpace(m.Body)
		if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
			return fmt.Errorf("%w: %s/%s body must be a JSON object", ErrInvalidMutation, m.Collection, m.ID)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidMutation, m.Op)
	}
}

func ValidateAll(mutations []Mutation) error {
	for _, m := range mutations {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MergeTopLevel overlays the top-level keys of incoming onto existing.
func MergeTopLevel(existing, incoming json.RawMessage) (json.RawMessage, error) {
	if len(existing) == 0 {
		return append(json.RawMessage(nil), incoming...), nil
	}
	base := map[string]json.RawMessage{}
	if err := json.Unmarshal(existing, &base); err != nil {
		return nil, err
	}
	overlay := map[string]json.RawMessage{}
	if err := json.Unmarshal(incoming, &overlay); err != nil {
		return nil, err
	}
	for k, v := range overlay {
		base[k] = v
	}
	return json.Marshal(base)
}

// Filter selects documents whose top-level fields equal the given values.
type Filter map[string]any

func (f Filter) Matches(body json.RawMessage) bool {
	if len(f) == 0 {
		return true
	}
	if len(body) == 0 {
		return false
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	for key, want := range f {
		got, ok := fields[key]
		if !ok {
			return false
		}
		wantRaw, err := json.Marshal(want)
		if err != nil {
			return false
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, got); err != nil {
			return false
		}
		if !bytes.Equal(compact.Bytes(), wantRaw) {
			return false
		}
	}
	return true
}

// JSON renders the filter for backends that push it down to the database.
func (f Filter) JSON() []byte {
	if len(f) == 0 {
		return []byte("{}")
	}
	raw, err := json.Marshal(map[string]any(f))
	if err != nil {
		return []byte("{}")
	}
	return raw
}

func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	err := json.Unmarshal(raw, &out)
	return out, err
}

func ListOf[T any](ctx context.Context, docs DocumentStore, collection string, filter Filter) ([]T, error) {
	raws, err := docs.List(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		item, err := Decode[T](raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", collection, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func GetOf[T any](ctx context.Context, docs DocumentStore, collection, id string) (T, error) {
	raw, err := docs.Get(ctx, collection, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](raw)
}

// ChangesFor turns committed mutations into change notifications, given the
// stored bodies keyed by collection/id.
func ChangesFor(mutations []Mutation, stored map[string]json.RawMessage) []Change {
	changes := make([]Change, 0, len(mutations))
	for _, m := range mutations {
		change := Change{Collection: m.Collection, ID: m.ID, Deleted: m.Op == OpDelete}
		if !change.Deleted {
			change.Body = stored[Key(m.Collection, m.ID)]
		}
		changes = append(changes, change)
	}
	return changes
}

func Key(collection, id string) string {
	return collection + "/" + id
}
