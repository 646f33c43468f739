package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mytireplan/tire-plan-sub001/internal/domain"
	"github.com/mytireplan/tire-plan-sub001/internal/receipt"
	"github.com/mytireplan/tire-plan-sub001/internal/store"
)

// ReceiveStock books inbound stock. The product and the receipt are committed
// together before either shows up locally, so a failed commit changes
// nothing anywhere.
func (s *Service) ReceiveStock(ctx context.Context, req domain.ReceiveStockRequest) (domain.OperationResult, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.OperationResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.receipts.PlanReceipt(req)
	if err != nil {
		return domain.OperationResult{}, err
	}
	return s.commitReceipt(ctx, "receipt.create", plan)
}

// CorrectReceipt changes the quantity of a recorded receipt and moves stock by
// the difference only.
func (s *Service) CorrectReceipt(ctx context.Context, receiptID string, quantity int) (domain.OperationResult, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.OperationResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.receipts.PlanCorrection(receiptID, quantity)
	if err != nil {
		return domain.OperationResult{}, err
	}
	if plan.Noop() {
		return domain.OperationResult{Products: []domain.Product{}, Events: []domain.StockReceiptRecord{plan.Record}, Duplicate: true}, nil
	}
	return s.commitReceipt(ctx, "receipt.correct", plan)
}

func (s *Service) commitReceipt(ctx context.Context, kind string, plan receipt.Plan) (domain.OperationResult, error) {
	status, err := s.writer.CommitNow(ctx, kind, plan.Mutations...)
	if err != nil {
		s.logger.Warn("receipt not committed, nothing applied",
			zap.String("receipt_id", plan.Record.ID),
			zap.String("product_id", plan.Product.ID),
			zap.Error(err),
		)
		return domain.OperationResult{}, domain.Persistence(err, "receipt %s was not saved (write %s)", plan.Record.ID, status.IntentID)
	}
	s.receipts.Apply(plan)
	return domain.OperationResult{
		Products: []domain.Product{plan.Product},
		Events:   []domain.StockReceiptRecord{plan.Record},
		Write:    status,
	}, nil
}

// TransferStock moves stock of one product between two locations and records
// the move with both location names as they are now.
func (s *Service) TransferStock(ctx context.Context, req domain.TransferRequest) (domain.OperationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, record, err := s.coordinator.Transfer(req, actorName(ctx))
	if err != nil {
		return domain.OperationResult{}, err
	}

	var set mutationSet
	set.upsert(store.CollectionProducts, product.ID, product)
	set.upsert(store.CollectionTransfers, record.ID, record)

	result := domain.OperationResult{Products: []domain.Product{product}, Transfer: &record}
	if set.err != nil {
		return result, domain.Persistence(set.err, "transfer could not be encoded")
	}
	return result, s.submit(ctx, "transfer", &result, set.mutations)
}

// SetStock overwrites one location's count after a physical stock take.
func (s *Service) SetStock(ctx context.Context, productID, locationID string, quantity int) (domain.OperationResult, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.OperationResult{}, err
	}
	location, err := s.directory.Require(strings.TrimSpace(locationID))
	if err != nil {
		return domain.OperationResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, err := s.catalog.SetStock(strings.TrimSpace(productID), location.ID, quantity)
	if err != nil {
		return domain.OperationResult{}, err
	}
	s.logger.Info("stock counted",
		zap.String("product_id", product.ID),
		zap.String("location_id", location.ID),
		zap.Int("quantity", quantity),
		zap.String("actor", actorName(ctx)),
	)
	return s.finishProduct(ctx, "stock.set", product)
}

func (s *Service) finishProduct(ctx context.Context, kind string, product domain.Product) (domain.OperationResult, error) {
	result := domain.OperationResult{Products: []domain.Product{product}}
	mutation, err := store.UpsertOf(store.CollectionProducts, product.ID, product)
	if err != nil {
		return result, domain.Persistence(err, "%s could not be encoded", kind)
	}
	return result, s.submit(ctx, kind, &result, []store.Mutation{mutation})
}
