package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mytireplan/tire-plan-sub001/internal/domain"
	"github.com/mytireplan/tire-plan-sub001/internal/store"
)

type document struct {
	body      json.RawMessage
	updatedAt time.Time
}

// Store is a process-local DocumentStore. Subscribers only see writes made
// through the same Store value.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]document
	broker      *store.Broker
	now         func() time.Time
}

var _ store.DocumentStore = (*Store)(nil)

func New(logger *zap.Logger) *Store {
	return &Store{
		collections: make(map[string]map[string]document),
		broker:      store.NewBroker(logger),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// NewSeeded returns a store with two locations and a small tire catalog for
// local development.
func NewSeeded(logger *zap.Logger, ownerID string) *Store {
	s := New(logger)
	now := s.now()

	locations := []domain.Location{
		{ID: "loc-main", Name: "Main Store", UpdatedAt: now},
		{ID: "loc-warehouse", Name: "Warehouse", UpdatedAt: now},
	}
	products := []domain.Product{
		{ID: "prd-seed-01", Name: "Michelin Pilot Sport 4", Specification: "225/45R18", Category: domain.CategoryTire, Brand: "Michelin", UnitPrice: decimal.NewFromInt(289000), FactoryPrice: decimal.NewFromInt(214000), StockByLocation: map[string]int{"loc-main": 8, "loc-warehouse": 24}},
		{ID: "prd-seed-02", Name: "Hankook Ventus S1 evo3", Specification: "245/40R19", Category: domain.CategoryTire, Brand: "Hankook", UnitPrice: decimal.NewFromInt(231000), FactoryPrice: decimal.NewFromInt(168000), StockByLocation: map[string]int{"loc-main": 4, "loc-warehouse": 16}},
		{ID: "prd-seed-03", Name: "Wheel Nut Set", Category: "parts", Brand: "Generic", UnitPrice: decimal.NewFromInt(18000), FactoryPrice: decimal.NewFromInt(9000), StockByLocation: map[string]int{"loc-main": 30}},
	}

	mutations := make([]store.Mutation, 0, len(locations)+len(products))
	for _, loc := range locations {
		m, _ := store.UpsertOf(store.CollectionLocations, loc.ID, loc)
		mutations = append(mutations, m)
	}
	for _, p := range products {
		p.OwnerID = ownerID
		p.Version = 1
		p.CreatedAt = now
		p.UpdatedAt = now
		p.Recount()
		m, _ := store.UpsertOf(store.CollectionProducts, p.ID, p)
		mutations = append(mutations, m)
	}
	_ = s.Commit(context.Background(), mutations...)
	return s
}

func (s *Store) Upsert(ctx context.Context, collection, id string, body json.RawMessage) error {
	return s.Commit(ctx, store.Mutation{Op: store.OpUpsert, Collection: collection, ID: id, Body: body})
}

func (s *Store) Get(_ context.Context, collection, id string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRaw(doc.body), nil
}

func (s *Store) List(_ context.Context, collection string, filter store.Filter) ([]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.collections[collection]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		body := docs[id].body
		if !filter.Matches(body) {
			continue
		}
		out = append(out, cloneRaw(body))
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
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateAll(mutations); err != nil {
		return err
	}

	s.mu.Lock()
	// merge into a staging copy first so a bad body leaves nothing applied
	staged := make(map[string]json.RawMessage, len(mutations))
	for _, m := range mutations {
		if m.Op != store.OpUpsert {
			continue
		}
		key := store.Key(m.Collection, m.ID)
		existing, ok := staged[key]
		if !ok {
			existing = s.collections[m.Collection][m.ID].body
		}
		merged, err := store.MergeTopLevel(existing, m.Body)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		staged[key] = merged
	}

	now := s.now()
	applied := make([]store.Mutation, 0, len(mutations))
	for _, m := range mutations {
		docs := s.collections[m.Collection]
		if docs == nil {
			docs = make(map[string]document)
			s.collections[m.Collection] = docs
		}
		switch m.Op {
		case store.OpUpsert:
			docs[m.ID] = document{body: staged[store.Key(m.Collection, m.ID)], updatedAt: now}
			applied = append(applied, m)
		case store.OpDelete:
			if _, ok := docs[m.ID]; ok {
				delete(docs, m.ID)
				applied = append(applied, m)
			}
		}
	}
	changes := store.ChangesFor(applied, cloneAll(staged))
	s.mu.Unlock()

	s.broker.Publish(changes)
	return nil
}

func (s *Store) Close() error {
	return nil
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	return append(json.RawMessage(nil), raw...)
}

func cloneAll(in map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = cloneRaw(v)
	}
	return out
}
