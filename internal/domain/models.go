package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CategoryTire = "tire"

	SaleStatusCompleted = "COMPLETED"
	SaleStatusEdited    = "EDITED"
	SaleStatusCanceled  = "CANCELED"
	SaleStatusDeleted   = "DELETED"

	StockEventReceipt     = "receipt"
	StockEventConsumption = "consumption"

	WriteStatePending   = "pending"
	WriteStateConfirmed = "confirmed"
	WriteStateFailed    = "failed"
)

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type Location struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Product is the catalog entity. TotalStock is derived from StockByLocation on
// every mutation and is carried in documents for readers only.
type Product struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Name            string          `json:"name"`
	Specification   string          `json:"specification"`
	Category        string          `json:"category"`
	Brand           string          `json:"brand"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	FactoryPrice    decimal.Decimal `json:"factory_price"`
	StockByLocation map[string]int  `json:"stock_by_location"`
	TotalStock      int             `json:"total_stock"`
	Hidden          bool            `json:"hidden"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Recount clamps negative location counts to zero and rebuilds TotalStock.
func (p *Product) Recount() {
	if p.StockByLocation == nil {
		p.StockByLocation = make(map[string]int)
	}
	total := 0
	for locationID, qty := range p.StockByLocation {
		if qty < 0 {
			qty = 0
			p.StockByLocation[locationID] = 0
		}
		total += qty
	}
	p.TotalStock = total
}

func (p Product) Clone() Product {
	out := p
	out.StockByLocation = make(map[string]int, len(p.StockByLocation))
	for k, v := range p.StockByLocation {
		out.StockByLocation[k] = v
	}
	return out
}

type SaleItem struct {
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	Specification   string          `json:"specification"`
	Quantity        int             `json:"quantity"`
	UnitPriceAtSale decimal.Decimal `json:"unit_price_at_sale"`
}

type SaleRecord struct {
	ID                string          `json:"id"`
	LocationID        string          `json:"location_id"`
	Items             []SaleItem      `json:"items"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	InventoryAdjusted bool            `json:"inventory_adjusted"`
	Status            string          `json:"status"`
	IsCanceled        bool            `json:"is_canceled"`
	CanceledAt        *time.Time      `json:"canceled_at"`
	StaffName         string          `json:"staff_name"`
	EditCount         int             `json:"edit_count"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (s SaleRecord) Clone() SaleRecord {
	out := s
	out.Items = append([]SaleItem(nil), s.Items...)
	if s.CanceledAt != nil {
		at := *s.CanceledAt
		out.CanceledAt = &at
	}
	return out
}

// SumItems returns quantity * unit price over all lines.
func SumItems(items []SaleItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPriceAtSale.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// StockReceiptRecord is either an inbound receipt or, when ConsumedAtSaleID is
// set, the consumption log of one product within one sale.
type StockReceiptRecord struct {
	ID               string          `json:"id"`
	LocationID       string          `json:"location_id"`
	ProductID        string          `json:"product_id"`
	ProductName      string          `json:"product_name"`
	Specification    string          `json:"specification"`
	Quantity         int             `json:"quantity"`
	ConsumedQuantity int             `json:"consumed_quantity"`
	PurchasePrice    decimal.Decimal `json:"purchase_price"`
	FactoryPrice     decimal.Decimal `json:"factory_price"`
	ConsumedAtSaleID string          `json:"consumed_at_sale_id"`
	VoidedAt         *time.Time      `json:"voided_at"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (r StockReceiptRecord) IsConsumption() bool {
	return r.ConsumedAtSaleID != ""
}

// Live reports whether a consumption entry still counts against its sale.
func (r StockReceiptRecord) Live() bool {
	return r.VoidedAt == nil
}

func (r StockReceiptRecord) Kind() string {
	if r.IsConsumption() {
		return StockEventConsumption
	}
	return StockEventReceipt
}

type TransferRecord struct {
	ID               string    `json:"id"`
	ProductID        string    `json:"product_id"`
	ProductName      string    `json:"product_name"`
	FromLocationID   string    `json:"from_location_id"`
	FromLocationName string    `json:"from_location_name"`
	ToLocationID     string    `json:"to_location_id"`
	ToLocationName   string    `json:"to_location_name"`
	Quantity         int       `json:"quantity"`
	Actor            string    `json:"actor"`
	CreatedAt        time.Time `json:"created_at"`
}

type WriteStatus struct {
	IntentID  string    `json:"intent_id"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CompleteSaleRequest struct {
	ID                string          `json:"id"`
	LocationID        string          `json:"location_id"`
	Items             []SaleItem      `json:"items"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	InventoryAdjusted bool            `json:"inventory_adjusted"`
	StaffName         string          `json:"staff_name,omitempty"`
}

type ReceiveStockRequest struct {
	LocationID    string          `json:"location_id"`
	ProductID     string          `json:"product_id,omitempty"`
	ProductName   string          `json:"product_name"`
	Specification string          `json:"specification,omitempty"`
	Category      string          `json:"category"`
	Brand         string          `json:"brand,omitempty"`
	Quantity      int             `json:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	FactoryPrice  decimal.Decimal `json:"factory_price"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
}

type TransferRequest struct {
	ProductID      string `json:"product_id"`
	FromLocationID string `json:"from_location_id"`
	ToLocationID   string `json:"to_location_id"`
	Quantity       int    `json:"quantity"`
}

type ProductCreateRequest struct {
	Name          string          `json:"name"`
	Specification string          `json:"specification,omitempty"`
	Category      string          `json:"category"`
	Brand         string          `json:"brand,omitempty"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	FactoryPrice  decimal.Decimal `json:"factory_price"`
}

type ProductUpdateRequest struct {
	Name          *string          `json:"name,omitempty"`
	Specification *string          `json:"specification,omitempty"`
	Category      *string          `json:"category,omitempty"`
	Brand         *string          `json:"brand,omitempty"`
	UnitPrice     *decimal.Decimal `json:"unit_price,omitempty"`
	FactoryPrice  *decimal.Decimal `json:"factory_price,omitempty"`
}

type StockEventQuery struct {
	LocationID string
	SaleID     string
	Kind       string
	From       time.Time
	To         time.Time
}

// OperationResult is returned by every stock-affecting operation. Write holds
// the status of the durable write that carries the change to the store.
type OperationResult struct {
	Products  []Product            `json:"products"`
	Sale      *SaleRecord          `json:"sale,omitempty"`
	Events    []StockReceiptRecord `json:"events,omitempty"`
	Transfer  *TransferRecord      `json:"transfer,omitempty"`
	Write     WriteStatus          `json:"write"`
	Duplicate bool                 `json:"duplicate,omitempty"`
}
