package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mytireplan/tire-plan-sub001/internal/catalog"
	"github.com/mytireplan/tire-plan-sub001/internal/domain"
	"github.com/mytireplan/tire-plan-sub001/internal/receipt"
	"github.com/mytireplan/tire-plan-sub001/internal/store"
)

func validateProduct(p domain.Product) error {
	if p.Name == "" || p.Category == "" {
		return domain.Validation("INVALID_PRODUCT", "name and category are required")
	}
	if p.Category == domain.CategoryTire && catalog.NormalizeSpecification(p.Specification) == "" {
		return domain.Validation("SPECIFICATION_REQUIRED", "tire products need a size specification")
	}
	if p.UnitPrice.IsNegative() || p.FactoryPrice.IsNegative() {
		return domain.Validation("INVALID_PRICE", "prices cannot be negative")
	}
	return nil
}

// CreateProduct adds a catalog entry with no stock. It gets the same derived
// id a receipt for the same name and specification would give it.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.OperationResult, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.OperationResult{}, err
	}
	product := domain.Product{
		OwnerID:         s.ownerID,
		Name:            strings.TrimSpace(req.Name),
		Specification:   strings.TrimSpace(req.Specification),
		Category:        strings.ToLower(strings.TrimSpace(req.Category)),
		Brand:           strings.TrimSpace(req.Brand),
		UnitPrice:       req.UnitPrice,
		FactoryPrice:    req.FactoryPrice,
		StockByLocation: map[string]int{},
	}
	if err := validateProduct(product); err != nil {
		return domain.OperationResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.catalog.FindByNameAndSpec(product.Name, product.Specification); ok {
		return domain.OperationResult{}, domain.Validation("PRODUCT_EXISTS", "product matches existing %s", existing.ID)
	}
	product.ID = receipt.ProductID(s.ownerID, product.Name, product.Specification)
	product.CreatedAt = s.now()
	if hidden, ok := s.catalog.FindByID(product.ID); ok {
		// restoring a soft-deleted entry keeps its stock and history
		product.StockByLocation = hidden.StockByLocation
		product.CreatedAt = hidden.CreatedAt
		product.Version = hidden.Version
	}
	product = s.catalog.Next(product)
	s.catalog.Put(product, true)

	s.logger.Info("product created", zap.String("product_id", product.ID), zap.String("name", product.Name))
	return s.finishProduct(ctx, "product.create", product)
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (domain.OperationResult, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.OperationResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.catalog.FindByID(strings.TrimSpace(productID))
	if !ok || product.Hidden {
		return domain.OperationResult{}, domain.NotFound("PRODUCT_NOT_FOUND", "product %s not found", productID)
	}
	if req.Name != nil {
		product.Name = strings.TrimSpace(*req.Name)
	}
	if req.Specification != nil {
		product.Specification = strings.TrimSpace(*req.Specification)
	}
	if req.Category != nil {
		product.Category = strings.ToLower(strings.TrimSpace(*req.Category))
	}
	if req.Brand != nil {
		product.Brand = strings.TrimSpace(*req.Brand)
	}
	if req.UnitPrice != nil {
		product.UnitPrice = *req.UnitPrice
	}
	if req.FactoryPrice != nil {
		product.FactoryPrice = *req.FactoryPrice
	}
	if err := validateProduct(product); err != nil {
		return domain.OperationResult{}, err
	}
	if other, ok := s.catalog.FindByNameAndSpec(product.Name, product.Specification); ok && other.ID != product.ID {
		return domain.OperationResult{}, domain.Validation("PRODUCT_EXISTS", "product matches existing %s", other.ID)
	}

	product = s.catalog.Next(product)
	s.catalog.Put(product, true)
	return s.finishProduct(ctx, "product.update", product)
}

// HideProduct removes a product from the visible catalog. Sale history keeps
// resolving it by id.
func (s *Service) HideProduct(ctx context.Context, productID string) (domain.OperationResult, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.OperationResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, err := s.catalog.Hide(strings.TrimSpace(productID))
	if err != nil {
		return domain.OperationResult{}, err
	}
	s.logger.Info("product hidden", zap.String("product_id", product.ID), zap.String("actor", actorName(ctx)))
	return s.finishProduct(ctx, "product.hide", product)
}

func (s *Service) UpsertLocation(ctx context.Context, id, name string) (domain.Location, domain.WriteStatus, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Location{}, domain.WriteStatus{}, err
	}
	location := domain.Location{ID: strings.TrimSpace(id), Name: strings.TrimSpace(name), UpdatedAt: s.now()}
	if location.ID == "" || location.Name == "" {
		return domain.Location{}, domain.WriteStatus{}, domain.Validation("INVALID_LOCATION", "location id and name are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.directory.Put(location)
	mutation, err := store.UpsertOf(store.CollectionLocations, location.ID, location)
	if err != nil {
		return location, domain.WriteStatus{}, domain.Persistence(err, "location could not be encoded")
	}
	var result domain.OperationResult
	err = s.submit(ctx, "location.upsert", &result, []store.Mutation{mutation})
	return location, result.Write, err
}
