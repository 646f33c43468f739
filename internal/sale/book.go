package sale

import (
	"sort"
	"sync"

	"github.com/mytireplan/tire-plan-sub001/internal/domain"
)

// Book is the local view of sale records.
type Book struct {
	mu    sync.RWMutex
	sales map[string]domain.SaleRecord
}

func NewBook() *Book {
	return &Book{sales: make(map[string]domain.SaleRecord)}
}

func (b *Book) Get(id string) (domain.SaleRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sales[id]
	if !ok {
		return domain.SaleRecord{}, false
	}
	return s.Clone(), true
}

// Status returns "" for sales this terminal has never seen.
func (b *Book) Status(id string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sales[id].Status
}

// Put stores s unless the local copy is newer and force is false.
func (b *Book) Put(s domain.SaleRecord, force bool) bool {
	if s.ID == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.sales[s.ID]; ok && !force && s.Version < current.Version {
		return false
	}
	b.sales[s.ID] = s.Clone()
	return true
}

// MarkDeleted keeps a tombstone so a replayed completion of a hard-deleted
// sale is refused instead of decrementing stock again.
func (b *Book) MarkDeleted(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.sales[id]
	s.ID = id
	s.Status = domain.SaleStatusDeleted
	s.Items = nil
	s.Version++
	b.sales[id] = s
}

// Forget drops a sale entirely, tombstone included.
func (b *Book) Forget(id string) {
	b.mu.Lock()
	delete(b.sales, id)
	b.mu.Unlock()
}

// List returns sales at locationID (all when empty), newest first.
func (b *Book) List(locationID string) []domain.SaleRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.SaleRecord, 0, len(b.sales))
	for _, s := range b.sales {
		if s.Status == domain.SaleStatusDeleted {
			continue
		}
		if locationID != "" && s.LocationID != locationID {
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
