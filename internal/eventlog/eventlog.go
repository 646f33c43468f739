package eventlog

import (
	"sort"
	"sync"
	"time"

	"github.com/mytireplan/tire-plan-sub001/internal/domain"
	"github.com/mytireplan/tire-plan-sub001/internal/xid"
)

type consumptionKey struct {
	saleID    string
	productID string
}

// Log is the local view of stock receipts and sale consumption entries. There
// is at most one live consumption entry per (sale, product).
type Log struct {
	mu          sync.RWMutex
	records     map[string]domain.StockReceiptRecord
	consumption map[consumptionKey]string
	now         func() time.Time
}

func New() *Log {
	return &Log{
		records:     make(map[string]domain.StockReceiptRecord),
		consumption: make(map[consumptionKey]string),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (l *Log) Get(id string) (domain.StockReceiptRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	return rec, ok
}

// FindConsumption returns the live consumption entry for the key, if any.
func (l *Log) FindConsumption(saleID, productID string) (domain.StockReceiptRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.consumption[consumptionKey{saleID, productID}]
	if !ok {
		return domain.StockReceiptRecord{}, false
	}
	return l.records[id], true
}

// ConsumedBySale returns live consumed quantities per product for one sale.
func (l *Log) ConsumedBySale(saleID string) map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]int)
	for key, id := range l.consumption {
		if key.saleID == saleID {
			out[key.productID] = l.records[id].ConsumedQuantity
		}
	}
	return out
}

// UpsertConsumption records that a sale consumed qty of a product at a
// location. A live entry for the same sale and product is updated in place.
func (l *Log) UpsertConsumption(saleID string, product domain.Product, locationID string, qty int) domain.StockReceiptRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := consumptionKey{saleID, product.ID}
	if id, ok := l.consumption[key]; ok {
		rec := l.records[id]
		rec.ConsumedQuantity = qty
		rec.LocationID = locationID
		rec.Version++
		rec.UpdatedAt = now
		l.records[id] = rec
		return rec
	}

	rec := domain.StockReceiptRecord{
		ID:               xid.New("sr"),
		LocationID:       locationID,
		ProductID:        product.ID,
		ProductName:      product.Name,
		Specification:    product.Specification,
		Quantity:         0,
		ConsumedQuantity: qty,
		PurchasePrice:    product.FactoryPrice,
		FactoryPrice:     product.FactoryPrice,
		ConsumedAtSaleID: saleID,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	l.records[rec.ID] = rec
	l.consumption[key] = rec.ID
	return rec
}

// UpdateConsumption changes the quantity of an existing live entry and never
// creates one.
func (l *Log) UpdateConsumption(saleID, productID string, qty int) (domain.StockReceiptRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.consumption[consumptionKey{saleID, productID}]
	if !ok {
		return domain.StockReceiptRecord{}, false
	}
	rec := l.records[id]
	rec.ConsumedQuantity = qty
	rec.Version++
	rec.UpdatedAt = l.now()
	l.records[id] = rec
	return rec, true
}

// VoidConsumption retires the live entry of one product in a sale after the
// product was taken off the sale. Its consumed quantity drops to zero.
func (l *Log) VoidConsumption(saleID, productID string) (domain.StockReceiptRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := consumptionKey{saleID, productID}
	id, ok := l.consumption[key]
	if !ok {
		return domain.StockReceiptRecord{}, false
	}
	now := l.now()
	rec := l.records[id]
	rec.ConsumedQuantity = 0
	rec.VoidedAt = &now
	rec.Version++
	rec.UpdatedAt = now
	l.records[id] = rec
	delete(l.consumption, key)
	return rec, true
}

// VoidConsumptions retires every live entry of a sale.
func (l *Log) VoidConsumptions(saleID string) []domain.StockReceiptRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	voided := make([]domain.StockReceiptRecord, 0)
	for key, id := range l.consumption {
		if key.saleID != saleID {
			continue
		}
		rec := l.records[id]
		at := now
		rec.VoidedAt = &at
		rec.Version++
		rec.UpdatedAt = now
		l.records[id] = rec
		delete(l.consumption, key)
		voided = append(voided, rec)
	}
	sort.Slice(voided, func(i, j int) bool { return voided[i].ProductID < voided[j].ProductID })
	return voided
}

// Put applies a record seen in the store, dropping stale echoes unless force
// is set.
func (l *Log) Put(rec domain.StockReceiptRecord, force bool) bool {
	if rec.ID == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.records[rec.ID]; ok && !force && rec.Version < current.Version {
		return false
	}
	l.records[rec.ID] = rec
	if rec.IsConsumption() {
		key := consumptionKey{rec.ConsumedAtSaleID, rec.ProductID}
		if rec.Live() {
			l.consumption[key] = rec.ID
		} else if l.consumption[key] == rec.ID {
			delete(l.consumption, key)
		}
	}
	return true
}

func (l *Log) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return
	}
	delete(l.records, id)
	key := consumptionKey{rec.ConsumedAtSaleID, rec.ProductID}
	if l.consumption[key] == id {
		delete(l.consumption, key)
	}
}

// Query filters by location, sale, kind and creation time; zero values are
// ignored. Results are oldest first.
func (l *Log) Query(q domain.StockEventQuery) []domain.StockReceiptRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.StockReceiptRecord, 0)
	for _, rec := range l.records {
		if q.LocationID != "" && rec.LocationID != q.LocationID {
			continue
		}
		if q.SaleID != "" && rec.ConsumedAtSaleID != q.SaleID {
			continue
		}
		if q.Kind != "" && rec.Kind() != q.Kind {
			continue
		}
		if !q.From.IsZero() && rec.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !rec.CreatedAt.Before(q.To) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
