package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mytireplan/tire-plan-sub001/internal/catalog"
	"github.com/mytireplan/tire-plan-sub001/internal/domain"
	"github.com/mytireplan/tire-plan-sub001/internal/eventlog"
	"github.com/mytireplan/tire-plan-sub001/internal/receipt"
	"github.com/mytireplan/tire-plan-sub001/internal/reconcile"
	"github.com/mytireplan/tire-plan-sub001/internal/sale"
	"github.com/mytireplan/tire-plan-sub001/internal/store"
	"github.com/mytireplan/tire-plan-sub001/internal/transfer"
	"github.com/mytireplan/tire-plan-sub001/internal/writeback"
	"github.com/mytireplan/tire-plan-sub001/internal/xid"
)

var ErrForbidden = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service is the only way stock changes on a terminal. Each operation runs to
// completion against the local views under mu, then hands its documents to
// the writer; receipts are the exception and commit before they apply.
type Service struct {
	mu sync.Mutex

	docs        store.DocumentStore
	writer      *writeback.Writer
	catalog     *catalog.Catalog
	directory   *catalog.Directory
	events      *eventlog.Log
	book        *sale.Book
	transfers   *transfer.Ledger
	engine      *reconcile.Engine
	coordinator *transfer.Coordinator
	receipts    *receipt.Processor

	ownerID string
	logger  *zap.Logger
	now     func() time.Time

	subsMu sync.Mutex
	unsubs []func()
}

func New(docs store.DocumentStore, writer *writeback.Writer, ownerID string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ownerID == "" {
		ownerID = "default-owner"
	}
	cat := catalog.New()
	dir := catalog.NewDirectory()
	events := eventlog.New()
	ledger := transfer.NewLedger()

	s := &Service{
		docs:        docs,
		writer:      writer,
		catalog:     cat,
		directory:   dir,
		events:      events,
		book:        sale.NewBook(),
		transfers:   ledger,
		engine:      reconcile.NewEngine(cat, events, logger.Named("reconcile")),
		coordinator: transfer.NewCoordinator(cat, dir, ledger, logger.Named("transfer")),
		receipts:    receipt.NewProcessor(cat, dir, events, ownerID, logger.Named("receipt")),
		ownerID:     ownerID,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	writer.OnFailure(s.refresh)
	return s
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

// submit hands the documents of a locally applied change to the writer. A
// failure here does not undo the local change.
func (s *Service) submit(ctx context.Context, kind string, result *domain.OperationResult, mutations []store.Mutation) error {
	status, err := s.writer.Submit(ctx, kind, mutations...)
	result.Write = status
	if err != nil {
		s.logger.Warn("change applied locally but not persisted",
			zap.String("kind", kind),
			zap.String("intent_id", status.IntentID),
			zap.Error(err),
		)
		return domain.Persistence(err, "%s was applied on this terminal but not saved", kind)
	}
	return nil
}

type mutationSet struct {
	mutations []store.Mutation
	err       error
}

func (m *mutationSet) upsert(collection, id string, v any) {
	if m.err != nil {
		return
	}
	mutation, err := store.UpsertOf(collection, id, v)
	if err != nil {
		m.err = err
		return
	}
	m.mutations = append(m.mutations, mutation)
}

func (m *mutationSet) outcome(out reconcile.Outcome) {
	for _, p := range out.Products {
		m.upsert(store.CollectionProducts, p.ID, p)
	}
	for _, rec := range out.Events {
		m.upsert(store.CollectionStockReceipts, rec.ID, rec)
	}
}

func (s *Service) ListProducts() []domain.Product {
	return s.catalog.List()
}

func (s *Service) GetProduct(id string) (domain.Product, error) {
	p, ok := s.catalog.FindByID(strings.TrimSpace(id))
	if !ok {
		return domain.Product{}, domain.NotFound("PRODUCT_NOT_FOUND", "product %s not found", id)
	}
	return p, nil
}

func (s *Service) ListLocations() []domain.Location {
	return s.directory.List()
}

func (s *Service) GetSale(id string) (domain.SaleRecord, error) {
	record, ok := s.book.Get(strings.TrimSpace(id))
	if !ok || record.Status == domain.SaleStatusDeleted {
		return domain.SaleRecord{}, domain.NotFound("SALE_NOT_FOUND", "sale %s not found", id)
	}
	return record, nil
}

func (s *Service) ListSales(locationID string) []domain.SaleRecord {
	return s.book.List(strings.TrimSpace(locationID))
}

func (s *Service) StockEvents(q domain.StockEventQuery) ([]domain.StockReceiptRecord, error) {
	if q.Kind != "" && q.Kind != domain.StockEventReceipt && q.Kind != domain.StockEventConsumption {
		return nil, domain.Validation("INVALID_KIND", "kind must be %s or %s", domain.StockEventReceipt, domain.StockEventConsumption)
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, domain.Validation("INVALID_RANGE", "to must not be before from")
	}
	return s.events.Query(q), nil
}

func (s *Service) ListTransfers(productID string) []domain.TransferRecord {
	return s.transfers.List(strings.TrimSpace(productID))
}

func (s *Service) WriteStatus(ctx context.Context, intentID string) (domain.WriteStatus, error) {
	return s.writer.Status(ctx, strings.TrimSpace(intentID))
}

func newSaleID() string {
	return xid.New("sale")
}
