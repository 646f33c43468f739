package receipt

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mytireplan/tire-plan-sub001/internal/catalog"
	"github.com/mytireplan/tire-plan-sub001/internal/domain"
	"github.com/mytireplan/tire-plan-sub001/internal/eventlog"
	"github.com/mytireplan/tire-plan-sub001/internal/store"
)

type fixture struct {
	catalog   *catalog.Catalog
	events    *eventlog.Log
	processor *Processor
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cat := catalog.New()
	cat.Put(domain.Product{ID: "P", Name: "Pilot Sport 4", Specification: "225/45R18", Category: domain.CategoryTire, StockByLocation: map[string]int{"A": 10, "B": 5}, Version: 3}, true)
	dir := catalog.NewDirectory()
	dir.Put(domain.Location{ID: "A", Name: "Main Store"})
	dir.Put(domain.Location{ID: "B", Name: "Warehouse"})
	events := eventlog.New()
	return fixture{catalog: cat, events: events, processor: NewProcessor(cat, dir, events, "owner-1", nil)}
}

func TestPlanReceipt(t *testing.T) {
	t.Run("existing product by id", func(t *testing.T) {
		f := newFixture(t)
		plan, err := f.processor.PlanReceipt(domain.ReceiveStockRequest{LocationID: "B", ProductID: "P", Quantity: 4, PurchasePrice: decimal.NewFromInt(200)})
		require.NoError(t, err)

		assert.False(t, plan.Created)
		assert.Equal(t, 9, plan.Product.StockByLocation["B"])
		assert.Equal(t, 19, plan.Product.TotalStock)
		assert.Equal(t, int64(4), plan.Product.Version)
		assert.Equal(t, 4, plan.Record.Quantity)
		assert.False(t, plan.Record.IsConsumption())
		require.Len(t, plan.Mutations, 2)
		assert.Equal(t, store.CollectionProducts, plan.Mutations[0].Collection)
		assert.Equal(t, store.CollectionStockReceipts, plan.Mutations[1].Collection)

		current, _ := f.catalog.FindByID("P")
		assert.Equal(t, 5, current.StockByLocation["B"], "planning must not touch the local view")

		f.processor.Apply(plan)
		current, _ = f.catalog.FindByID("P")
		assert.Equal(t, 9, current.StockByLocation["B"])
		_, ok := f.events.Get(plan.Record.ID)
		assert.True(t, ok)
	})

	t.Run("existing product by normalized name and specification", func(t *testing.T) {
		f := newFixture(t)
		plan, err := f.processor.PlanReceipt(domain.ReceiveStockRequest{LocationID: "A", ProductName: " pilot  SPORT 4", Specification: "225 45 r18", Category: "tire", Quantity: 2})
		require.NoError(t, err)
		assert.Equal(t, "P", plan.Product.ID)
		assert.Equal(t, 12, plan.Product.StockByLocation["A"])
	})

	t.Run("new product gets a derived id", func(t *testing.T) {
		f := newFixture(t)
		req := domain.ReceiveStockRequest{LocationID: "A", ProductName: "Pilot Sport 4", Specification: "245/40R19", Category: "Tire", Quantity: 6}
		plan, err := f.processor.PlanReceipt(req)
		require.NoError(t, err)

		assert.True(t, plan.Created)
		assert.Equal(t, ProductID("owner-1", "pilot sport 4", "245-40-19"), plan.Product.ID)
		assert.Equal(t, domain.CategoryTire, plan.Product.Category)
		assert.Equal(t, 6, plan.Product.TotalStock)
		assert.Equal(t, "owner-1", plan.Product.OwnerID)

		other := NewProcessor(catalog.New(), directoryWith("A"), eventlog.New(), "owner-1", nil)
		again, err := other.PlanReceipt(req)
		require.NoError(t, err)
		assert.Equal(t, plan.Product.ID, again.Product.ID)
	})

	t.Run("hidden product comes back under its derived id", func(t *testing.T) {
		f := newFixture(t)
		first, err := f.processor.PlanReceipt(domain.ReceiveStockRequest{LocationID: "A", ProductName: "Valve Cap", Category: "parts", Quantity: 10})
		require.NoError(t, err)
		f.processor.Apply(first)
		_, err = f.catalog.Hide(first.Product.ID)
		require.NoError(t, err)

		second, err := f.processor.PlanReceipt(domain.ReceiveStockRequest{LocationID: "A", ProductName: "valve cap", Category: "parts", Quantity: 5})
		require.NoError(t, err)
		assert.False(t, second.Created)
		assert.Equal(t, first.Product.ID, second.Product.ID)
		assert.False(t, second.Product.Hidden)
		assert.Equal(t, 15, second.Product.TotalStock)
	})

	cases := []struct {
		name string
		req  domain.ReceiveStockRequest
		kind error
		code string
	}{
		{"zero quantity", domain.ReceiveStockRequest{LocationID: "A", ProductID: "P"}, domain.ErrValidation, "INVALID_QUANTITY"},
		{"tire without specification", domain.ReceiveStockRequest{LocationID: "A", ProductName: "Ventus", Category: "tire", Quantity: 1}, domain.ErrValidation, "SPECIFICATION_REQUIRED"},
		{"no product reference", domain.ReceiveStockRequest{LocationID: "A", Quantity: 1}, domain.ErrValidation, "PRODUCT_REQUIRED"},
		{"negative price", domain.ReceiveStockRequest{LocationID: "A", ProductID: "P", Quantity: 1, PurchasePrice: decimal.NewFromInt(-1)}, domain.ErrValidation, "INVALID_PRICE"},
		{"unknown location", domain.ReceiveStockRequest{LocationID: "Z", ProductID: "P", Quantity: 1}, domain.ErrNotFound, "LOCATION_NOT_FOUND"},
		{"unknown product id", domain.ReceiveStockRequest{LocationID: "A", ProductID: "X", Quantity: 1}, domain.ErrNotFound, "PRODUCT_NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.processor.PlanReceipt(tc.req)
			require.ErrorIs(t, err, tc.kind)
			assert.Equal(t, tc.code, domain.CodeOf(err))
		})
	}
}

func TestPlanCorrection(t *testing.T) {
	t.Run("applies only the difference", func(t *testing.T) {
		f := newFixture(t)
		received, err := f.processor.PlanReceipt(domain.ReceiveStockRequest{LocationID: "A", ProductID: "P", Quantity: 8})
		require.NoError(t, err)
		f.processor.Apply(received)
		_, err = f.catalog.ApplyDelta("P", "A", -3)
		require.NoError(t, err)

		plan, err := f.processor.PlanCorrection(received.Record.ID, 6)
		require.NoError(t, err)
		assert.Equal(t, 13, plan.Product.StockByLocation["A"])
		assert.Equal(t, 6, plan.Record.Quantity)
		assert.Equal(t, int64(2), plan.Record.Version)
	})

	t.Run("same quantity is a no-op", func(t *testing.T) {
		f := newFixture(t)
		received, err := f.processor.PlanReceipt(domain.ReceiveStockRequest{LocationID: "A", ProductID: "P", Quantity: 8})
		require.NoError(t, err)
		f.processor.Apply(received)

		plan, err := f.processor.PlanCorrection(received.Record.ID, 8)
		require.NoError(t, err)
		assert.True(t, plan.Noop())
	})

	t.Run("a large reduction clamps at zero", func(t *testing.T) {
		f := newFixture(t)
		received, err := f.processor.PlanReceipt(domain.ReceiveStockRequest{LocationID: "B", ProductID: "P", Quantity: 2})
		require.NoError(t, err)
		f.processor.Apply(received)
		_, err = f.catalog.SetStock("P", "B", 1)
		require.NoError(t, err)

		plan, err := f.processor.PlanCorrection(received.Record.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, plan.Product.StockByLocation["B"])
		assert.Equal(t, 10, plan.Product.TotalStock)
	})

	t.Run("consumption entries are rejected", func(t *testing.T) {
		f := newFixture(t)
		product, _ := f.catalog.FindByID("P")
		rec := f.events.UpsertConsumption("S1", product, "A", 3)

		_, err := f.processor.PlanCorrection(rec.ID, 1)
		require.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, "CONSUMPTION_IMMUTABLE", domain.CodeOf(err))
	})

	t.Run("unknown receipt", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.processor.PlanCorrection("sr-missing", 1)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func directoryWith(ids ...string) *catalog.Directory {
	dir := catalog.NewDirectory()
	for _, id := range ids {
		dir.Put(domain.Location{ID: id, Name: id})
	}
	return dir
}
