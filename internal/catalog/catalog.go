package catalog

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mytireplan/tire-plan-sub001/internal/domain"
)

// Strategy is how a sale line is tied to a catalog product. It is chosen per
// line and never changes mid-resolution.
type Strategy int

const (
	ByStableID Strategy = iota + 1
	ByNormalizedNameAndSpecification
)

func (s Strategy) String() string {
	switch s {
	case ByStableID:
		return "by_stable_id"
	case ByNormalizedNameAndSpecification:
		return "by_normalized_name_and_specification"
	default:
		return "unknown"
	}
}

func StrategyFor(item domain.SaleItem) Strategy {
	if strings.TrimSpace(item.ProductID) != "" {
		return ByStableID
	}
	return ByNormalizedNameAndSpecification
}

// Catalog is one terminal's view of the products. All stock mutation goes
// through ApplyDelta or Move so the totals can never drift from the map.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	now      func() time.Time
}

func New() *Catalog {
	return &Catalog{
		products: make(map[string]domain.Product),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (c *Catalog) FindByID(id string) (domain.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[strings.TrimSpace(id)]
	if !ok {
		return domain.Product{}, false
	}
	return p.Clone(), true
}

func (c *Catalog) FindByNameAndSpec(name, spec string) (domain.Product, bool) {
	wantName := NormalizeName(name)
	wantSpec := NormalizeSpecification(spec)
	if wantName == "" {
		return domain.Product{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		best  domain.Product
		found bool
	)
	for _, p := range c.products {
		if p.Hidden || !matches(p, wantName, wantSpec) {
			continue
		}
		if !found || p.ID < best.ID {
			best = p
			found = true
		}
	}
	if !found {
		return domain.Product{}, false
	}
	return best.Clone(), true
}

func matches(p domain.Product, wantName, wantSpec string) bool {
	if NormalizeName(p.Name) != wantName {
		return false
	}
	haveSpec := NormalizeSpecification(p.Specification)
	if haveSpec == "" && wantSpec == "" {
		return true
	}
	// a spec on either side means both must carry the same one
	return haveSpec != "" && wantSpec != "" && haveSpec == wantSpec
}

// Resolve ties one sale line to a product. ok is false with a nil error when a
// name-matched line has no catalog product, which marks a non-inventory line.
func (c *Catalog) Resolve(item domain.SaleItem) (domain.Product, Strategy, bool, error) {
	strategy := StrategyFor(item)
	switch strategy {
	case ByStableID:
		p, ok := c.FindByID(item.ProductID)
		if !ok {
			return domain.Product{}, strategy, false, domain.NotFound("PRODUCT_NOT_FOUND", "product %s not found", item.ProductID)
		}
		return p, strategy, true, nil
	default:
		p, ok := c.FindByNameAndSpec(item.ProductName, item.Specification)
		return p, strategy, ok, nil
	}
}

func (c *Catalog) ApplyDelta(productID, locationID string, delta int) (domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[productID]
	if !ok {
		return domain.Product{}, domain.NotFound("PRODUCT_NOT_FOUND", "product %s not found", productID)
	}
	p = p.Clone()
	next := p.StockByLocation[locationID] + delta
	if next < 0 {
		next = 0
	}
	p.StockByLocation[locationID] = next
	c.touch(&p)
	c.products[productID] = p
	return p.Clone(), nil
}

// Move shifts qty from one location to another on the same product, or
// changes nothing when the source holds less than qty.
func (c *Catalog) Move(productID, fromLocationID, toLocationID string, qty int) (domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[productID]
	if !ok {
		return domain.Product{}, domain.NotFound("PRODUCT_NOT_FOUND", "product %s not found", productID)
	}
	available := p.StockByLocation[fromLocationID]
	if available < qty {
		return domain.Product{}, domain.Validation("INSUFFICIENT_STOCK", "only %d of %s available at %s, %d requested", available, p.Name, fromLocationID, qty)
	}
	p = p.Clone()
	p.StockByLocation[fromLocationID] = available - qty
	p.StockByLocation[toLocationID] += qty
	c.touch(&p)
	c.products[productID] = p
	return p.Clone(), nil
}

// SetStock overwrites one location's count, as after a physical stock take.
func (c *Catalog) SetStock(productID, locationID string, qty int) (domain.Product, error) {
	if qty < 0 {
		return domain.Product{}, domain.Validation("INVALID_QUANTITY", "stock count cannot be negative")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[productID]
	if !ok {
		return domain.Product{}, domain.NotFound("PRODUCT_NOT_FOUND", "product %s not found", productID)
	}
	p = p.Clone()
	p.StockByLocation[locationID] = qty
	c.touch(&p)
	c.products[productID] = p
	return p.Clone(), nil
}

func (c *Catalog) touch(p *domain.Product) {
	p.Recount()
	p.Version++
	p.UpdatedAt = c.now()
}

// Put applies a product seen in the store. Echoes older than the local copy
// are dropped unless force is set; equal versions from another writer win.
func (c *Catalog) Put(p domain.Product, force bool) bool {
	if p.ID == "" {
		return false
	}
	p = p.Clone()
	p.Recount()

	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.products[p.ID]; ok && !force && p.Version < current.Version {
		return false
	}
	c.products[p.ID] = p
	return true
}

// Next returns p as the next version of itself without storing it. Callers
// that must persist before applying locally pair it with Put(p, true).
func (c *Catalog) Next(p domain.Product) domain.Product {
	p = p.Clone()
	c.touch(&p)
	return p
}

func (c *Catalog) Remove(id string) {
	c.mu.Lock()
	delete(c.products, id)
	c.mu.Unlock()
}

func (c *Catalog) Hide(id string) (domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[id]
	if !ok {
		return domain.Product{}, domain.NotFound("PRODUCT_NOT_FOUND", "product %s not found", id)
	}
	p = p.Clone()
	p.Hidden = true
	c.touch(&p)
	c.products[id] = p
	return p.Clone(), nil
}

// List returns visible products ordered by id.
func (c *Catalog) List() []domain.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Product, 0, len(c.products))
	for _, p := range c.products {
		if p.Hidden {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
