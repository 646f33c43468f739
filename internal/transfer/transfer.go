package transfer

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mytireplan/tire-plan-sub001/internal/catalog"
	"github.com/mytireplan/tire-plan-sub001/internal/domain"
	"github.com/mytireplan/tire-plan-sub001/internal/xid"
)

// Coordinator moves stock of one product between two locations of the same
// owner and records each move.
type Coordinator struct {
	catalog   *catalog.Catalog
	directory *catalog.Directory
	ledger    *Ledger
	logger    *zap.Logger
	now       func() time.Time
}

func NewCoordinator(cat *catalog.Catalog, dir *catalog.Directory, ledger *Ledger, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		catalog:   cat,
		directory: dir,
		ledger:    ledger,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Transfer validates the whole request before any stock moves. On success the
// returned record carries the location names as they were at transfer time.
func (c *Coordinator) Transfer(req domain.TransferRequest, actor string) (domain.Product, domain.TransferRecord, error) {
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.FromLocationID = strings.TrimSpace(req.FromLocationID)
	req.ToLocationID = strings.TrimSpace(req.ToLocationID)

	if req.FromLocationID == "" || req.ToLocationID == "" {
		return domain.Product{}, domain.TransferRecord{}, domain.Validation("LOCATION_REQUIRED", "source and destination locations are required")
	}
	if req.FromLocationID == req.ToLocationID {
		return domain.Product{}, domain.TransferRecord{}, domain.Validation("SAME_LOCATION", "source and destination must differ")
	}
	if req.Quantity <= 0 {
		return domain.Product{}, domain.TransferRecord{}, domain.Validation("INVALID_QUANTITY", "transfer quantity must be positive")
	}
	from, err := c.directory.Require(req.FromLocationID)
	if err != nil {
		return domain.Product{}, domain.TransferRecord{}, err
	}
	to, err := c.directory.Require(req.ToLocationID)
	if err != nil {
		return domain.Product{}, domain.TransferRecord{}, err
	}

	product, err := c.catalog.Move(req.ProductID, from.ID, to.ID, req.Quantity)
	if err != nil {
		return domain.Product{}, domain.TransferRecord{}, err
	}

	record := domain.TransferRecord{
		ID:               xid.New("tr"),
		ProductID:        product.ID,
		ProductName:      product.Name,
		FromLocationID:   from.ID,
		FromLocationName: from.Name,
		ToLocationID:     to.ID,
		ToLocationName:   to.Name,
		Quantity:         req.Quantity,
		Actor:            actor,
		CreatedAt:        c.now(),
	}
	c.ledger.Put(record)

	c.logger.Info("stock transferred",
		zap.String("transfer_id", record.ID),
		zap.String("product_id", product.ID),
		zap.String("from", from.ID),
		zap.String("to", to.ID),
		zap.Int("quantity", req.Quantity),
	)
	return product, record, nil
}

// Ledger holds the transfer records known to this terminal. Records are
// immutable, so Put keeps the first copy it sees.
type Ledger struct {
	mu      sync.RWMutex
	records map[string]domain.TransferRecord
}

func NewLedger() *Ledger {
	return &Ledger{records: make(map[string]domain.TransferRecord)}
}

func (l *Ledger) Put(rec domain.TransferRecord) bool {
	if rec.ID == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[rec.ID]; ok {
		return false
	}
	l.records[rec.ID] = rec
	return true
}

func (l *Ledger) Remove(id string) {
	l.mu.Lock()
	delete(l.records, id)
	l.mu.Unlock()
}

// List returns records touching productID (all when empty), newest first.
func (l *Ledger) List(productID string) []domain.TransferRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.TransferRecord, 0, len(l.records))
	for _, rec := range l.records {
		if productID != "" && rec.ProductID != productID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
