package receipt

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mytireplan/tire-plan-sub001/internal/catalog"
	"github.com/mytireplan/tire-plan-sub001/internal/domain"
	"github.com/mytireplan/tire-plan-sub001/internal/eventlog"
	"github.com/mytireplan/tire-plan-sub001/internal/store"
	"github.com/mytireplan/tire-plan-sub001/internal/xid"
)

// Plan is a receipt or correction computed against the local view but not yet
// applied. Mutations must be committed as one batch before Apply is called.
type Plan struct {
	Product   domain.Product
	Record    domain.StockReceiptRecord
	Created   bool
	Mutations []store.Mutation
}

// Noop reports whether the plan changes nothing.
func (p Plan) Noop() bool {
	return len(p.Mutations) == 0
}

type Processor struct {
	catalog   *catalog.Catalog
	directory *catalog.Directory
	events    *eventlog.Log
	ownerID   string
	logger    *zap.Logger
	now       func() time.Time
}

func NewProcessor(cat *catalog.Catalog, dir *catalog.Directory, events *eventlog.Log, ownerID string, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		catalog:   cat,
		directory: dir,
		events:    events,
		ownerID:   ownerID,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProductID is the id a receipt-created product gets. The same owner, name and
// specification always map to the same id, on every terminal.
func ProductID(ownerID, name, spec string) string {
	return "prd-" + xid.Derive(ownerID, catalog.NormalizeName(name), catalog.NormalizeSpecification(spec))
}

func (p *Processor) PlanReceipt(req domain.ReceiveStockRequest) (Plan, error) {
	req.LocationID = strings.TrimSpace(req.LocationID)
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.ProductName = strings.TrimSpace(req.ProductName)
	req.Specification = strings.TrimSpace(req.Specification)
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))

	if req.Quantity <= 0 {
		return Plan{}, domain.Validation("INVALID_QUANTITY", "received quantity must be positive")
	}
	if req.PurchasePrice.IsNegative() || req.FactoryPrice.IsNegative() || req.UnitPrice.IsNegative() {
		return Plan{}, domain.Validation("INVALID_PRICE", "prices cannot be negative")
	}
	if _, err := p.directory.Require(req.LocationID); err != nil {
		return Plan{}, err
	}

	product, created, err := p.resolve(req)
	if err != nil {
		return Plan{}, err
	}
	if product.StockByLocation == nil {
		product.StockByLocation = make(map[string]int)
	}
	product.StockByLocation[req.LocationID] += req.Quantity
	product.Hidden = false
	if !req.FactoryPrice.IsZero() {
		product.FactoryPrice = req.FactoryPrice
	}
	product = p.catalog.Next(product)

	now := p.now()
	record := domain.StockReceiptRecord{
		ID:            xid.New("sr"),
		LocationID:    req.LocationID,
		ProductID:     product.ID,
		ProductName:   product.Name,
		Specification: product.Specification,
		Quantity:      req.Quantity,
		PurchasePrice: req.PurchasePrice,
		FactoryPrice:  req.FactoryPrice,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return p.plan(product, record, created)
}

func (p *Processor) resolve(req domain.ReceiveStockRequest) (domain.Product, bool, error) {
	if req.ProductID != "" {
		product, ok := p.catalog.FindByID(req.ProductID)
		if !ok {
			return domain.Product{}, false, domain.NotFound("PRODUCT_NOT_FOUND", "product %s not found", req.ProductID)
		}
		return product, false, nil
	}
	if req.ProductName == "" {
		return domain.Product{}, false, domain.Validation("PRODUCT_REQUIRED", "a product id or name is required")
	}
	if req.Category == domain.CategoryTire && catalog.NormalizeSpecification(req.Specification) == "" {
		return domain.Product{}, false, domain.Validation("SPECIFICATION_REQUIRED", "tire products need a size specification")
	}
	if product, ok := p.catalog.FindByNameAndSpec(req.ProductName, req.Specification); ok {
		return product, false, nil
	}

	id := ProductID(p.ownerID, req.ProductName, req.Specification)
	// a hidden product keeps its derived id and comes back on receipt
	if product, ok := p.catalog.FindByID(id); ok {
		return product, false, nil
	}
	now := p.now()
	return domain.Product{
		ID:              id,
		OwnerID:         p.ownerID,
		Name:            req.ProductName,
		Specification:   req.Specification,
		Category:        req.Category,
		Brand:           strings.TrimSpace(req.Brand),
		UnitPrice:       req.UnitPrice,
		FactoryPrice:    req.FactoryPrice,
		StockByLocation: make(map[string]int),
		CreatedAt:       now,
	}, true, nil
}

// PlanCorrection changes a receipt's quantity. Only the difference reaches
// stock, and consumption entries can only change through their sale.
func (p *Processor) PlanCorrection(receiptID string, quantity int) (Plan, error) {
	if quantity < 0 {
		return Plan{}, domain.Validation("INVALID_QUANTITY", "received quantity cannot be negative")
	}
	record, ok := p.events.Get(strings.TrimSpace(receiptID))
	if !ok {
		return Plan{}, domain.NotFound("RECEIPT_NOT_FOUND", "receipt %s not found", receiptID)
	}
	if record.IsConsumption() {
		return Plan{}, domain.Validation("CONSUMPTION_IMMUTABLE", "receipt %s is a sale consumption entry; edit the sale instead", record.ID)
	}
	delta := quantity - record.Quantity
	if delta == 0 {
		return Plan{Record: record}, nil
	}
	product, ok := p.catalog.FindByID(record.ProductID)
	if !ok {
		return Plan{}, domain.NotFound("PRODUCT_NOT_FOUND", "product %s not found", record.ProductID)
	}

	product.StockByLocation[record.LocationID] += delta
	product = p.catalog.Next(product)

	record.Quantity = quantity
	record.Version++
	record.UpdatedAt = p.now()
	return p.plan(product, record, false)
}

func (p *Processor) plan(product domain.Product, record domain.StockReceiptRecord, created bool) (Plan, error) {
	productMutation, err := store.UpsertOf(store.CollectionProducts, product.ID, product)
	if err != nil {
		return Plan{}, err
	}
	recordMutation, err := store.UpsertOf(store.CollectionStockReceipts, record.ID, record)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Product:   product,
		Record:    record,
		Created:   created,
		Mutations: []store.Mutation{productMutation, recordMutation},
	}, nil
}

// Apply makes a committed plan visible locally.
func (p *Processor) Apply(plan Plan) {
	if plan.Noop() {
		return
	}
	p.catalog.Put(plan.Product, true)
	p.events.Put(plan.Record, true)
	p.logger.Info("stock receipt applied",
		zap.String("receipt_id", plan.Record.ID),
		zap.String("product_id", plan.Product.ID),
		zap.String("location_id", plan.Record.LocationID),
		zap.Int("quantity", plan.Record.Quantity),
		zap.Bool("product_created", plan.Created),
	)
}
