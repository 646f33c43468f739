package reconcile

import (
	"sort"

	"go.uber.org/zap"

	"github.com/mytireplan/tire-plan-sub001/internal/catalog"
	"github.com/mytireplan/tire-plan-sub001/internal/domain"
	"github.com/mytireplan/tire-plan-sub001/internal/eventlog"
)

// Engine turns sale lifecycle events into stock deltas. Every method resolves
// all line items before touching stock, so a lookup failure changes nothing.
type Engine struct {
	catalog *catalog.Catalog
	events  *eventlog.Log
	logger  *zap.Logger
}

// Outcome lists the final state of everything an event touched.
type Outcome struct {
	Products []domain.Product
	Events   []domain.StockReceiptRecord
}

func (o Outcome) Empty() bool {
	return len(o.Products) == 0 && len(o.Events) == 0
}

type quantities struct {
	qty      map[string]int
	products map[string]domain.Product
}

func NewEngine(cat *catalog.Catalog, events *eventlog.Log, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{catalog: cat, events: events, logger: logger}
}

// Quantities sums sold quantity per catalog product. Lines that match no
// product by name are non-inventory lines and are left out.
func (e *Engine) Quantities(items []domain.SaleItem) (map[string]int, error) {
	q, err := e.resolve(items)
	if err != nil {
		return nil, err
	}
	return q.qty, nil
}

func (e *Engine) resolve(items []domain.SaleItem) (quantities, error) {
	q := quantities{qty: make(map[string]int), products: make(map[string]domain.Product)}
	for i, item := range items {
		if item.Quantity < 0 {
			return quantities{}, domain.Validation("INVALID_QUANTITY", "line %d has a negative quantity", i+1)
		}
		product, strategy, ok, err := e.catalog.Resolve(item)
		if err != nil {
			return quantities{}, err
		}
		if !ok {
			e.logger.Debug("sale line has no catalog product",
				zap.String("product_name", item.ProductName),
				zap.String("specification", item.Specification),
				zap.Stringer("strategy", strategy),
			)
			continue
		}
		q.qty[product.ID] += item.Quantity
		q.products[product.ID] = product
	}
	return q, nil
}

// Complete takes a newly recorded sale's quantities out of stock. Running it
// again for the same sale only applies what the consumption log does not
// already account for, so a replay changes nothing.
func (e *Engine) Complete(sale domain.SaleRecord) (Outcome, error) {
	q, err := e.resolve(sale.Items)
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	for _, productID := range sortedIDs(q.qty) {
		qty := q.qty[productID]
		already := 0
		if rec, ok := e.events.FindConsumption(sale.ID, productID); ok {
			already = rec.ConsumedQuantity
		}
		delta := qty - already
		if delta == 0 {
			continue
		}
		product, err := e.catalog.ApplyDelta(productID, sale.LocationID, -delta)
		if err != nil {
			return out, err
		}
		out.Products = append(out.Products, product)
		out.Events = append(out.Events, e.events.UpsertConsumption(sale.ID, q.products[productID], sale.LocationID, qty))
		e.logger.Debug("sale consumed stock",
			zap.String("sale_id", sale.ID),
			zap.String("product_id", productID),
			zap.Int("quantity", delta),
		)
	}
	return out, nil
}

// Pin writes the id of the matched catalog product onto every line that has
// one. Stored lines then keep pointing at the product they took stock from,
// whatever happens to its name or visibility later.
func (e *Engine) Pin(items []domain.SaleItem) ([]domain.SaleItem, error) {
	pinned := make([]domain.SaleItem, len(items))
	for i, item := range items {
		product, _, ok, err := e.catalog.Resolve(item)
		if err != nil {
			return nil, err
		}
		if ok {
			item.ProductID = product.ID
		}
		pinned[i] = item
	}
	return pinned, nil
}

// Edit applies the difference between what the sale's consumption entries
// say it took and what the new lines take. More sold means less stock and an
// updated entry; less sold restores stock and only adjusts an entry that
// already exists. A product dropped from the sale has its entry voided.
func (e *Engine) Edit(sale domain.SaleRecord, newItems []domain.SaleItem) (Outcome, error) {
	before := e.events.ConsumedBySale(sale.ID)
	after, err := e.resolve(newItems)
	if err != nil {
		return Outcome{}, err
	}

	touched := make(map[string]int, len(before)+len(after.qty))
	for id := range before {
		touched[id] = 0
	}
	for id := range after.qty {
		touched[id] = 0
	}
	if err := e.requireAll(touched); err != nil {
		return Outcome{}, err
	}

	var out Outcome
	for _, productID := range sortedIDs(touched) {
		oldQty, newQty := before[productID], after.qty[productID]
		delta := newQty - oldQty
		if delta == 0 {
			continue
		}
		product, err := e.catalog.ApplyDelta(productID, sale.LocationID, -delta)
		if err != nil {
			return out, err
		}
		out.Products = append(out.Products, product)

		switch {
		case newQty == 0:
			if rec, ok := e.events.VoidConsumption(sale.ID, productID); ok {
				out.Events = append(out.Events, rec)
			}
		case delta > 0:
			out.Events = append(out.Events, e.events.UpsertConsumption(sale.ID, after.products[productID], sale.LocationID, newQty))
		default:
			if rec, ok := e.events.UpdateConsumption(sale.ID, productID, newQty); ok {
				out.Events = append(out.Events, rec)
			}
		}
		e.logger.Debug("sale edit adjusted stock",
			zap.String("sale_id", sale.ID),
			zap.String("product_id", productID),
			zap.Int("old_quantity", oldQty),
			zap.Int("new_quantity", newQty),
		)
	}
	return out, nil
}

// Cancel puts back what the sale's live consumption entries say it took and
// retires those entries. Lines that never took stock give nothing back.
func (e *Engine) Cancel(sale domain.SaleRecord) (Outcome, error) {
	consumed := e.events.ConsumedBySale(sale.ID)
	if err := e.requireAll(consumed); err != nil {
		return Outcome{}, err
	}

	var out Outcome
	for _, productID := range sortedIDs(consumed) {
		qty := consumed[productID]
		if qty == 0 {
			continue
		}
		product, err := e.catalog.ApplyDelta(productID, sale.LocationID, qty)
		if err != nil {
			return out, err
		}
		out.Products = append(out.Products, product)
	}
	out.Events = append(out.Events, e.events.VoidConsumptions(sale.ID)...)
	return out, nil
}

// requireAll fails before any stock moves if one of the products is gone from
// the catalog. Hidden products still count as present.
func (e *Engine) requireAll(ids map[string]int) error {
	for _, id := range sortedIDs(ids) {
		if _, ok := e.catalog.FindByID(id); !ok {
			return domain.NotFound("PRODUCT_NOT_FOUND", "product %s not found", id)
		}
	}
	return nil
}

func sortedIDs(m map[string]int) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
