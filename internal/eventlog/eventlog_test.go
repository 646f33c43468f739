package eventlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mytireplan/tire-plan-sub001/internal/domain"
)

var ventus = domain.Product{ID: "p1", Name: "Ventus", Specification: "225/45R18"}

func TestUpsertConsumptionIsIdempotentPerSaleAndProduct(t *testing.T) {
	l := New()

	first := l.UpsertConsumption("S1", ventus, "A", 3)
	second := l.UpsertConsumption("S1", ventus, "A", 5)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 5, second.ConsumedQuantity)
	assert.Equal(t, 0, second.Quantity)
	assert.Equal(t, int64(2), second.Version)
	assert.Len(t, l.Query(domain.StockEventQuery{SaleID: "S1"}), 1)

	other := l.UpsertConsumption("S2", ventus, "A", 1)
	assert.NotEqual(t, first.ID, other.ID)
	assert.Equal(t, map[string]int{"p1": 5}, l.ConsumedBySale("S1"))
}

func TestUpdateConsumptionNeverCreates(t *testing.T) {
	l := New()
	_, ok := l.UpdateConsumption("S1", "p1", 2)
	assert.False(t, ok)
	assert.Empty(t, l.Query(domain.StockEventQuery{}))

	l.UpsertConsumption("S1", ventus, "A", 5)
	rec, ok := l.UpdateConsumption("S1", "p1", 2)
	require.True(t, ok)
	assert.Equal(t, 2, rec.ConsumedQuantity)
}

func TestVoidConsumptionsRetiresLiveEntries(t *testing.T) {
	l := New()
	l.UpsertConsumption("S1", ventus, "A", 3)
	l.UpsertConsumption("S1", domain.Product{ID: "p2", Name: "Nut"}, "A", 1)

	voided := l.VoidConsumptions("S1")
	require.Len(t, voided, 2)
	for _, rec := range voided {
		assert.NotNil(t, rec.VoidedAt)
	}
	_, ok := l.FindConsumption("S1", "p1")
	assert.False(t, ok)
	assert.Empty(t, l.ConsumedBySale("S1"))
	assert.Len(t, l.Query(domain.StockEventQuery{SaleID: "S1"}), 2)

	fresh := l.UpsertConsumption("S1", ventus, "A", 4)
	assert.NotEqual(t, voided[0].ID, fresh.ID)
}

func TestVoidConsumptionRetiresOneProduct(t *testing.T) {
	l := New()
	_, ok := l.VoidConsumption("S1", "p1")
	assert.False(t, ok)

	l.UpsertConsumption("S1", ventus, "A", 3)
	l.UpsertConsumption("S1", domain.Product{ID: "p2", Name: "Nut"}, "A", 1)

	rec, ok := l.VoidConsumption("S1", "p1")
	require.True(t, ok)
	assert.NotNil(t, rec.VoidedAt)
	assert.Zero(t, rec.ConsumedQuantity)
	assert.Equal(t, int64(2), rec.Version)
	assert.Equal(t, map[string]int{"p2": 1}, l.ConsumedBySale("S1"))
}

func TestPutTracksConsumptionKeys(t *testing.T) {
	l := New()
	rec := domain.StockReceiptRecord{ID: "sr-1", ProductID: "p1", ConsumedAtSaleID: "S1", ConsumedQuantity: 3, Version: 2}
	require.True(t, l.Put(rec, false))

	got, ok := l.FindConsumption("S1", "p1")
	require.True(t, ok)
	assert.Equal(t, "sr-1", got.ID)

	stale := rec
	stale.Version = 1
	stale.ConsumedQuantity = 99
	assert.False(t, l.Put(stale, false))

	voided := rec
	voided.Version = 3
	at := time.Now()
	voided.VoidedAt = &at
	require.True(t, l.Put(voided, false))
	_, ok = l.FindConsumption("S1", "p1")
	assert.False(t, ok)

	l.Remove("sr-1")
	_, ok = l.Get("sr-1")
	assert.False(t, ok)
}

func TestQuery(t *testing.T) {
	l := New()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	records := []domain.StockReceiptRecord{
		{ID: "r1", LocationID: "A", ProductID: "p1", Quantity: 10, CreatedAt: base},
		{ID: "r2", LocationID: "B", ProductID: "p1", Quantity: 4, CreatedAt: base.Add(time.Hour)},
		{ID: "c1", LocationID: "A", ProductID: "p1", ConsumedAtSaleID: "S1", ConsumedQuantity: 2, CreatedAt: base.Add(2 * time.Hour)},
	}
	for _, rec := range records {
		l.Put(rec, true)
	}

	atA := l.Query(domain.StockEventQuery{LocationID: "A"})
	require.Len(t, atA, 2)
	assert.Equal(t, "r1", atA[0].ID)

	receipts := l.Query(domain.StockEventQuery{Kind: domain.StockEventReceipt})
	assert.Len(t, receipts, 2)

	window := l.Query(domain.StockEventQuery{From: base.Add(30 * time.Minute), To: base.Add(2 * time.Hour)})
	require.Len(t, window, 1)
	assert.Equal(t, "r2", window[0].ID)

	bySale := l.Query(domain.StockEventQuery{SaleID: "S1"})
	require.Len(t, bySale, 1)
	assert.Equal(t, domain.StockEventConsumption, bySale[0].Kind())
}
