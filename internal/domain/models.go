package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockVariant is one size/color SKU inside a stock lot, carrying its own
// on-hand quantity. Duplicate size/color pairs are not rejected by the model;
// avoiding them is the caller's job.
type StockVariant struct {
	ID       string `json:"id"`
	Size     string `json:"size"`
	Color    string `json:"color"`
	Quantity int    `json:"quantity"`
}

// StockItem is one purchased lot of a shoe model. CurrentQuantity is derived:
// it must always equal the sum of variant quantities and is only recomputed by
// the reconcile package, never assigned directly. TotalCost is the sunk
// acquisition cost fixed at creation; it is not revalued after partial sale.
type StockItem struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Category        string          `json:"category,omitempty"`
	Description     string          `json:"description,omitempty"`
	ImageURL        string          `json:"image_url,omitempty"`
	PurchaseDate    time.Time       `json:"purchase_date"`
	InitialQuantity int             `json:"initial_quantity"`
	CurrentQuantity int             `json:"current_quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	Variants        []StockVariant  `json:"variants"`
}

// SaleRecord is an immutable ledger entry for one variant's sale. Size, color,
// revenue and profit are snapshots taken at sale time; later edits to the
// stock item never change them. StockID and VariantID are weak references:
// the referenced item or variant may be deleted while the record survives.
type SaleRecord struct {
	ID               string          `json:"id"`
	StockID          string          `json:"stock_id"`
	VariantID        string          `json:"variant_id,omitempty"`
	Size             string          `json:"size,omitempty"`
	Color            string          `json:"color,omitempty"`
	QuantitySold     int             `json:"quantity_sold"`
	SalePricePerUnit decimal.Decimal `json:"sale_price_per_unit"`
	SaleDate         time.Time       `json:"sale_date"`
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
	Profit           decimal.Decimal `json:"profit"`
}

// SaleLineInput is one requested line of a multi-line sale.
type SaleLineInput struct {
	VariantID    string          `json:"variant_id"`
	Quantity     int             `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
}

type VariantInput struct {
	Size     string `json:"size"`
	Color    string `json:"color"`
	Quantity int    `json:"quantity"`
}

type StockCreateRequest struct {
	Name        string `json:"name"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	// ImageBase64 is optional; when present it is offered to the classifier
	// collaborator to pre-fill blank descriptive fields.
	ImageBase64  string          `json:"image_base64,omitempty"`
	PurchaseDate string          `json:"purchase_date,omitempty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	Variants     []VariantInput  `json:"variants"`
}

// StockUpdateRequest replaces the descriptive fields and variant rows of an
// item wholesale. PurchaseDate, InitialQuantity and TotalCost are preserved
// from the existing item.
type StockUpdateRequest struct {
	Name        string          `json:"name"`
	Category    string          `json:"category,omitempty"`
	Description string          `json:"description,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Variants    []StockVariant  `json:"variants"`
}

type SaleRequest struct {
	StockID string          `json:"stock_id"`
	Lines   []SaleLineInput `json:"lines"`
}

type SaleResponse struct {
	Records []SaleRecord `json:"records"`
	Stock   StockItem    `json:"stock"`
}

type RefundRequest struct {
	SaleID   string `json:"sale_id"`
	OwnerPIN string `json:"owner_pin"`
}

type RefundResponse struct {
	Refunded bool       `json:"refunded"`
	SaleID   string     `json:"sale_id"`
	Stock    *StockItem `json:"stock,omitempty"`
}

// CostChange records one unit-cost edit on a stock item. The sales ledger is
// never touched by a cost edit; this history exists so the operator can see
// why old profit figures differ from what the current cost would imply.
type CostChange struct {
	ID          string          `json:"id"`
	StockID     string          `json:"stock_id"`
	OldUnitCost decimal.Decimal `json:"old_unit_cost"`
	NewUnitCost decimal.Decimal `json:"new_unit_cost"`
	ChangedBy   string          `json:"changed_by"`
	ChangedAt   time.Time       `json:"changed_at"`
}

type CategoryProfit struct {
	Category string          `json:"category"`
	Profit   decimal.Decimal `json:"profit"`
}

type DailyProfitPoint struct {
	Date   string          `json:"date"`
	Profit decimal.Decimal `json:"profit"`
}

type BestSeller struct {
	StockID      string          `json:"stock_id"`
	Name         string          `json:"name"`
	QuantitySold int             `json:"quantity_sold"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

// Dashboard is recomputed from full catalog+ledger snapshots on every read.
type Dashboard struct {
	TotalInventoryCount int                `json:"total_inventory_count"`
	TotalInventoryValue decimal.Decimal    `json:"total_inventory_value"`
	TotalRevenue        decimal.Decimal    `json:"total_revenue"`
	TotalProfit         decimal.Decimal    `json:"total_profit"`
	SalesToday          int                `json:"sales_today"`
	CategoryProfit      []CategoryProfit   `json:"category_profit"`
	DailyProfit         []DailyProfitPoint `json:"daily_profit"`
	BestSellers         []BestSeller       `json:"best_sellers"`
	GeneratedAt         string             `json:"generated_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleOwner = "owner"
	RoleStaff = "staff"
)

const (
	// UncategorizedLabel buckets sales whose stock item has no category or no
	// longer exists.
	UncategorizedLabel = "uncategorized"
	// DeletedItemLabel names best-seller rows whose stock item was deleted.
	DeletedItemLabel = "deleted item"
)
