package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mytireplan/tire-plan-sub001/internal/domain"
)

type saleLineRequest struct {
	ProductID       string          `json:"product_id" validate:"required_without=ProductName"`
	ProductName     string          `json:"product_name" validate:"required_without=ProductID"`
	Specification   string          `json:"specification"`
	Quantity        int             `json:"quantity" validate:"gt=0"`
	UnitPriceAtSale decimal.Decimal `json:"unit_price_at_sale"`
}

type completeSaleRequest struct {
	ID                string            `json:"id" validate:"omitempty,max=64"`
	LocationID        string            `json:"location_id" validate:"required"`
	Items             []saleLineRequest `json:"items" validate:"required,min=1,dive"`
	TotalAmount       decimal.Decimal   `json:"total_amount"`
	InventoryAdjusted *bool             `json:"inventory_adjusted"`
	StaffName         string            `json:"staff_name" validate:"max=120"`
}

type editSaleRequest struct {
	Items []saleLineRequest `json:"items" validate:"required,min=1,dive"`
}

type receiptRequest struct {
	LocationID    string          `json:"location_id" validate:"required"`
	ProductID     string          `json:"product_id" validate:"required_without=ProductName"`
	ProductName   string          `json:"product_name" validate:"required_without=ProductID,max=200"`
	Specification string          `json:"specification" validate:"max=64"`
	Category      string          `json:"category" validate:"max=64"`
	Brand         string          `json:"brand" validate:"max=120"`
	Quantity      int             `json:"quantity" validate:"gt=0"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	FactoryPrice  decimal.Decimal `json:"factory_price"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
}

type receiptCorrectionRequest struct {
	Quantity *int `json:"quantity" validate:"required,gte=0"`
}

type transferRequest struct {
	ProductID      string `json:"product_id" validate:"required"`
	FromLocationID string `json:"from_location_id" validate:"required"`
	ToLocationID   string `json:"to_location_id" validate:"required"`
	Quantity       int    `json:"quantity" validate:"gt=0"`
}

type productCreateRequest struct {
	Name          string          `json:"name" validate:"required,max=200"`
	Specification string          `json:"specification" validate:"max=64"`
	Category      string          `json:"category" validate:"required,max=64"`
	Brand         string          `json:"brand" validate:"max=120"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	FactoryPrice  decimal.Decimal `json:"factory_price"`
}

type productUpdateRequest struct {
	Name          *string          `json:"name" validate:"omitempty,min=1,max=200"`
	Specification *string          `json:"specification" validate:"omitempty,max=64"`
	Category      *string          `json:"category" validate:"omitempty,min=1,max=64"`
	Brand         *string          `json:"brand" validate:"omitempty,max=120"`
	UnitPrice     *decimal.Decimal `json:"unit_price"`
	FactoryPrice  *decimal.Decimal `json:"factory_price"`
}

type stockCountRequest struct {
	LocationID string `json:"location_id" validate:"required"`
	Quantity   *int   `json:"quantity" validate:"required,gte=0"`
}

type locationRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

func toSaleItems(lines []saleLineRequest) []domain.SaleItem {
	items := make([]domain.SaleItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.SaleItem{
			ProductID:       line.ProductID,
			ProductName:     line.ProductName,
			Specification:   line.Specification,
			Quantity:        line.Quantity,
			UnitPriceAtSale: line.UnitPriceAtSale,
		})
	}
	return items
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"products": a.service.ListProducts()})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productCreateRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	result, err := a.service.CreateProduct(r.Context(), domain.ProductCreateRequest{
		Name:          req.Name,
		Specification: req.Specification,
		Category:      req.Category,
		Brand:         req.Brand,
		UnitPrice:     req.UnitPrice,
		FactoryPrice:  req.FactoryPrice,
	})
	writeResult(w, http.StatusCreated, result, err)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req productUpdateRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	result, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), domain.ProductUpdateRequest{
		Name:          req.Name,
		Specification: req.Specification,
		Category:      req.Category,
		Brand:         req.Brand,
		UnitPrice:     req.UnitPrice,
		FactoryPrice:  req.FactoryPrice,
	})
	writeResult(w, http.StatusOK, result, err)
}

func (a *API) handleHideProduct(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.HideProduct(r.Context(), chi.URLParam(r, "id"))
	writeResult(w, http.StatusOK, result, err)
}

func (a *API) handleSetStock(w http.ResponseWriter, r *http.Request) {
	var req stockCountRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	result, err := a.service.SetStock(r.Context(), chi.URLParam(r, "id"), req.LocationID, *req.Quantity)
	writeResult(w, http.StatusOK, result, err)
}

func (a *API) handleListLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"locations": a.service.ListLocations()})
}

func (a *API) handleUpsertLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	location, write, err := a.service.UpsertLocation(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil && !(errors.Is(err, domain.ErrPersistence) && write.IntentID != "") {
		writeServiceError(w, err)
		return
	}
	body := map[string]any{"location": location, "write": write}
	if err != nil {
		body["warning"] = err.Error()
		writeJSON(w, http.StatusAccepted, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sales": a.service.ListSales(r.URL.Query().Get("location_id"))})
}

func (a *API) handleCompleteSale(w http.ResponseWriter, r *http.Request) {
	var req completeSaleRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	adjusted := true
	if req.InventoryAdjusted != nil {
		adjusted = *req.InventoryAdjusted
	}
	result, err := a.service.CompleteSale(r.Context(), domain.CompleteSaleRequest{
		ID:                req.ID,
		LocationID:        req.LocationID,
		Items:             toSaleItems(req.Items),
		TotalAmount:       req.TotalAmount,
		InventoryAdjusted: adjusted,
		StaffName:         req.StaffName,
	})
	writeResult(w, http.StatusCreated, result, err)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	record, err := a.service.GetSale(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": record})
}

func (a *API) handleEditSale(w http.ResponseWriter, r *http.Request) {
	var req editSaleRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	result, err := a.service.EditSale(r.Context(), chi.URLParam(r, "id"), toSaleItems(req.Items))
	writeResult(w, http.StatusOK, result, err)
}

func (a *API) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	if !a.checkManagerPIN(w, r, "cancel") {
		return
	}
	result, err := a.service.CancelSale(r.Context(), chi.URLParam(r, "id"))
	writeResult(w, http.StatusOK, result, err)
}

func (a *API) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	if !a.checkManagerPIN(w, r, "delete") {
		return
	}
	result, err := a.service.DeleteSale(r.Context(), chi.URLParam(r, "id"))
	writeResult(w, http.StatusOK, result, err)
}

func (a *API) handleReceiveStock(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	result, err := a.service.ReceiveStock(r.Context(), domain.ReceiveStockRequest{
		LocationID:    req.LocationID,
		ProductID:     req.ProductID,
		ProductName:   req.ProductName,
		Specification: req.Specification,
		Category:      req.Category,
		Brand:         req.Brand,
		Quantity:      req.Quantity,
		PurchasePrice: req.PurchasePrice,
		FactoryPrice:  req.FactoryPrice,
		UnitPrice:     req.UnitPrice,
	})
	writeResult(w, http.StatusCreated, result, err)
}

func (a *API) handleCorrectReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptCorrectionRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	result, err := a.service.CorrectReceipt(r.Context(), chi.URLParam(r, "id"), *req.Quantity)
	writeResult(w, http.StatusOK, result, err)
}

func (a *API) handleStockEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := domain.StockEventQuery{
		LocationID: strings.TrimSpace(query.Get("location_id")),
		SaleID:     strings.TrimSpace(query.Get("sale_id")),
		Kind:       strings.TrimSpace(query.Get("kind")),
	}
	var err error
	if q.From, err = parseTimeParam(query.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("from must be RFC3339"))
		return
	}
	if q.To, err = parseTimeParam(query.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("to must be RFC3339"))
		return
	}

	events, err := a.service.StockEvents(q)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func (a *API) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	result, err := a.service.TransferStock(r.Context(), domain.TransferRequest{
		ProductID:      req.ProductID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Quantity:       req.Quantity,
	})
	writeResult(w, http.StatusCreated, result, err)
}

func (a *API) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"transfers": a.service.ListTransfers(r.URL.Query().Get("product_id"))})
}

func (a *API) handleWriteStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.service.WriteStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"write": status})
}
