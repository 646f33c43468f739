package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mytireplan/tire-plan-sub001/internal/domain"
	"github.com/mytireplan/tire-plan-sub001/internal/store"
	"github.com/mytireplan/tire-plan-sub001/internal/writeback"
)

var syncedCollections = []string{
	store.CollectionLocations,
	store.CollectionProducts,
	store.CollectionStockReceipts,
	store.CollectionSales,
	store.CollectionTransfers,
}

func (s *Service) filterFor(collection string) store.Filter {
	if collection == store.CollectionProducts {
		return store.Filter{"owner_id": s.ownerID}
	}
	return nil
}

// Start loads every collection into the local views and subscribes to later
// changes from any terminal.
func (s *Service) Start(ctx context.Context) error {
	for _, collection := range syncedCollections {
		docs, err := s.docs.List(ctx, collection, s.filterFor(collection))
		if err != nil {
			return fmt.Errorf("load %s: %w", collection, err)
		}
		for _, body := range docs {
			if err := s.applyDocument(collection, body, true); err != nil {
				s.logger.Warn("skipping unreadable document", zap.String("collection", collection), zap.Error(err))
			}
		}
		s.logger.Info("collection loaded", zap.String("collection", collection), zap.Int("documents", len(docs)))
	}

	for _, collection := range syncedCollections {
		collection := collection
		unsubscribe, err := s.docs.Subscribe(ctx, collection, s.filterFor(collection), func(changes []store.Change) {
			s.applyChanges(changes)
		})
		if err != nil {
			s.Stop()
			return fmt.Errorf("subscribe %s: %w", collection, err)
		}
		s.subsMu.Lock()
		s.unsubs = append(s.unsubs, unsubscribe)
		s.subsMu.Unlock()
	}
	return nil
}

func (s *Service) Stop() {
	s.subsMu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.subsMu.Unlock()
	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
}

// applyChanges merges pushed documents into the local views. It never takes
// s.mu: a store may deliver changes synchronously from inside a commit made
// while an operation holds it.
func (s *Service) applyChanges(changes []store.Change) {
	for _, change := range changes {
		if change.Deleted {
			s.removeDocument(change.Collection, change.ID, true)
			continue
		}
		if err := s.applyDocument(change.Collection, change.Body, false); err != nil {
			s.logger.Warn("ignoring unreadable change",
				zap.String("collection", change.Collection),
				zap.String("id", change.ID),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) applyDocument(collection string, body json.RawMessage, force bool) error {
	switch collection {
	case store.CollectionProducts:
		p, err := store.Decode[domain.Product](body)
		if err != nil {
			return err
		}
		if !s.catalog.Put(p, force) {
			s.logger.Debug("stale product echo dropped", zap.String("product_id", p.ID), zap.Int64("version", p.Version))
		}
	case store.CollectionSales:
		record, err := store.Decode[domain.SaleRecord](body)
		if err != nil {
			return err
		}
		s.book.Put(record, force)
	case store.CollectionStockReceipts:
		rec, err := store.Decode[domain.StockReceiptRecord](body)
		if err != nil {
			return err
		}
		s.events.Put(rec, force)
	case store.CollectionTransfers:
		rec, err := store.Decode[domain.TransferRecord](body)
		if err != nil {
			return err
		}
		s.transfers.Put(rec)
	case store.CollectionLocations:
		loc, err := store.Decode[domain.Location](body)
		if err != nil {
			return err
		}
		s.directory.Put(loc)
	}
	return nil
}

// removeDocument drops a document from the local views. A deleted sale keeps a
// tombstone; one that never reached the store is forgotten so it can be
// completed again.
func (s *Service) removeDocument(collection, id string, deleted bool) {
	switch collection {
	case store.CollectionProducts:
		s.catalog.Remove(id)
	case store.CollectionSales:
		if deleted {
			s.book.MarkDeleted(id)
		} else {
			s.book.Forget(id)
		}
	case store.CollectionStockReceipts:
		s.events.Remove(id)
	case store.CollectionTransfers:
		s.transfers.Remove(id)
	case store.CollectionLocations:
		s.directory.Remove(id)
	}
}

// refresh replaces the local copy of every document a failed write touched
// with what the store holds, so this terminal stops showing a change nobody
// else will see.
func (s *Service) refresh(ctx context.Context, intent writeback.Intent, cause error) {
	s.logger.Warn("write failed, refreshing from store",
		zap.String("intent_id", intent.ID),
		zap.String("kind", intent.Kind),
		zap.Error(cause),
	)
	for _, m := range intent.Mutations {
		body, err := s.docs.Get(ctx, m.Collection, m.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if m.Op == store.OpUpsert {
				s.removeDocument(m.Collection, m.ID, false)
			}
		case err != nil:
			s.logger.Warn("refresh read failed", zap.String("collection", m.Collection), zap.String("id", m.ID), zap.Error(err))
		default:
			if err := s.applyDocument(m.Collection, body, true); err != nil {
				s.logger.Warn("refresh decode failed", zap.String("collection", m.Collection), zap.String("id", m.ID), zap.Error(err))
			}
		}
	}
}
