package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mytireplan/tire-plan-sub001/internal/domain"
	"github.com/mytireplan/tire-plan-sub001/internal/reconcile"
	"github.com/mytireplan/tire-plan-sub001/internal/sale"
	"github.com/mytireplan/tire-plan-sub001/internal/store"
)

func validateItems(items []domain.SaleItem) ([]domain.SaleItem, error) {
	if len(items) == 0 {
		return nil, domain.Validation("ITEMS_REQUIRED", "a sale needs at least one line")
	}
	out := make([]domain.SaleItem, 0, len(items))
	for i, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.ProductName = strings.TrimSpace(item.ProductName)
		item.Specification = strings.TrimSpace(item.Specification)
		if item.ProductID == "" && item.ProductName == "" {
			return nil, domain.Validation("INVALID_ITEM", "line %d has neither a product id nor a name", i+1)
		}
		if item.Quantity <= 0 {
			return nil, domain.Validation("INVALID_QUANTITY", "line %d quantity must be positive", i+1)
		}
		if item.UnitPriceAtSale.IsNegative() {
			return nil, domain.Validation("INVALID_PRICE", "line %d price cannot be negative", i+1)
		}
		out = append(out, item)
	}
	return out, nil
}

// CompleteSale records a new sale and, when it adjusts inventory, takes its
// quantities out of stock at the sale's location. Completing a sale that is
// already recorded returns it unchanged with Duplicate set.
func (s *Service) CompleteSale(ctx context.Context, req domain.CompleteSaleRequest) (domain.OperationResult, error) {
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		req.ID = newSaleID()
	}
	items, err := validateItems(req.Items)
	if err != nil {
		return domain.OperationResult{}, err
	}
	if req.TotalAmount.IsNegative() {
		return domain.OperationResult{}, domain.Validation("INVALID_TOTAL", "total amount cannot be negative")
	}
	location, err := s.directory.Require(strings.TrimSpace(req.LocationID))
	if err != nil {
		return domain.OperationResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	transition, err := sale.Next(s.book.Status(req.ID), sale.EventComplete)
	if err != nil {
		return domain.OperationResult{}, err
	}
	if transition.Noop {
		existing, _ := s.book.Get(req.ID)
		return domain.OperationResult{Products: []domain.Product{}, Sale: &existing, Duplicate: true}, nil
	}

	now := s.now()
	record := domain.SaleRecord{
		ID:                req.ID,
		LocationID:        location.ID,
		Items:             items,
		TotalAmount:       req.TotalAmount,
		InventoryAdjusted: req.InventoryAdjusted,
		Status:            transition.To,
		StaffName:         strings.TrimSpace(req.StaffName),
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if record.TotalAmount.IsZero() {
		record.TotalAmount = domain.SumItems(items)
	}

	var outcome reconcile.Outcome
	if transition.Reconciles(record) {
		if record.Items, err = s.engine.Pin(record.Items); err != nil {
			return domain.OperationResult{}, err
		}
		if outcome, err = s.engine.Complete(record); err != nil {
			return domain.OperationResult{}, err
		}
	}
	s.book.Put(record, true)

	s.logger.Info("sale completed",
		zap.String("sale_id", record.ID),
		zap.String("location_id", record.LocationID),
		zap.Bool("inventory_adjusted", record.InventoryAdjusted),
		zap.Int("products_touched", len(outcome.Products)),
	)
	return s.finishSale(ctx, "sale.complete", record, outcome)
}

// EditSale replaces a sale's lines. Stock moves by the difference between the
// old and new quantities of each product.
func (s *Service) EditSale(ctx context.Context, saleID string, newItems []domain.SaleItem) (domain.OperationResult, error) {
	saleID = strings.TrimSpace(saleID)
	items, err := validateItems(newItems)
	if err != nil {
		return domain.OperationResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	transition, err := sale.Next(s.book.Status(saleID), sale.EventEdit)
	if err != nil {
		return domain.OperationResult{}, err
	}
	prev, _ := s.book.Get(saleID)

	var outcome reconcile.Outcome
	if transition.Reconciles(prev) {
		if items, err = s.engine.Pin(items); err != nil {
			return domain.OperationResult{}, err
		}
		if outcome, err = s.engine.Edit(prev, items); err != nil {
			return domain.OperationResult{}, err
		}
	}

	next := prev.Clone()
	next.Items = items
	next.TotalAmount = domain.SumItems(items)
	next.Status = transition.To
	next.EditCount++
	next.Version++
	next.UpdatedAt = s.now()
	s.book.Put(next, true)

	s.logger.Info("sale edited",
		zap.String("sale_id", next.ID),
		zap.Int("edit_count", next.EditCount),
		zap.Int("products_touched", len(outcome.Products)),
	)
	return s.finishSale(ctx, "sale.edit", next, outcome)
}

// CancelSale puts an adjusted sale's current quantities back into stock.
// Canceling twice is reported as a duplicate and moves nothing.
func (s *Service) CancelSale(ctx context.Context, saleID string) (domain.OperationResult, error) {
	saleID = strings.TrimSpace(saleID)

	s.mu.Lock()
	defer s.mu.Unlock()

	transition, err := sale.Next(s.book.Status(saleID), sale.EventCancel)
	if err != nil {
		return domain.OperationResult{}, err
	}
	prev, _ := s.book.Get(saleID)
	if transition.Noop {
		return domain.OperationResult{Products: []domain.Product{}, Sale: &prev, Duplicate: true}, nil
	}

	var outcome reconcile.Outcome
	if transition.Reconciles(prev) {
		if outcome, err = s.engine.Cancel(prev); err != nil {
			return domain.OperationResult{}, err
		}
	}

	now := s.now()
	next := prev.Clone()
	next.Status = transition.To
	next.IsCanceled = true
	next.CanceledAt = &now
	next.Version++
	next.UpdatedAt = now
	s.book.Put(next, true)

	s.logger.Info("sale canceled",
		zap.String("sale_id", next.ID),
		zap.String("actor", actorName(ctx)),
		zap.Int("products_restocked", len(outcome.Products)),
	)
	return s.finishSale(ctx, "sale.cancel", next, outcome)
}

// DeleteSale removes the sale document without touching stock or its
// consumption entries. Use CancelSale to give stock back.
func (s *Service) DeleteSale(ctx context.Context, saleID string) (domain.OperationResult, error) {
	saleID = strings.TrimSpace(saleID)

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, _ := s.book.Get(saleID)
	if _, err := sale.Next(s.book.Status(saleID), sale.EventDelete); err != nil {
		return domain.OperationResult{}, err
	}
	s.book.MarkDeleted(saleID)

	s.logger.Warn("sale hard-deleted without restocking",
		zap.String("sale_id", saleID),
		zap.String("status", prev.Status),
		zap.Bool("inventory_adjusted", prev.InventoryAdjusted),
		zap.String("actor", actorName(ctx)),
	)
	result := domain.OperationResult{Products: []domain.Product{}}
	return result, s.submit(ctx, "sale.delete", &result, []store.Mutation{store.DeleteOf(store.CollectionSales, saleID)})
}

func (s *Service) finishSale(ctx context.Context, kind string, record domain.SaleRecord, outcome reconcile.Outcome) (domain.OperationResult, error) {
	var set mutationSet
	set.upsert(store.CollectionSales, record.ID, record)
	set.outcome(outcome)

	result := domain.OperationResult{
		Products: outcome.Products,
		Sale:     &record,
		Events:   outcome.Events,
	}
	if result.Products == nil {
		result.Products = []domain.Product{}
	}
	if set.err != nil {
		return result, domain.Persistence(set.err, "%s could not be encoded", kind)
	}
	return result, s.submit(ctx, kind, &result, set.mutations)
}
