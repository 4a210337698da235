package domain

import "time"

type ItemKind string

const (
	KindProduct ItemKind = "product"
	KindPackage ItemKind = "package"
	KindBundle  ItemKind = "bundle"
)

func (k ItemKind) Valid() bool {
	switch k {
	case KindProduct, KindPackage, KindBundle:
		return true
	default:
		return false
	}
}

type PromoType string

const (
	PromoFixed      PromoType = "fixed"
	PromoPercentage PromoType = "percentage"
)

// PromoConfig is the scheduled discount attached to a sellable item or held
// by a standalone Promo. Empty strings and nil pointers mean "not set".
type PromoConfig struct {
	Enabled     bool      `json:"enabled"`
	Type        PromoType `json:"type,omitempty"`
	Value       *float64  `json:"value,omitempty"`
	Days        []string  `json:"days,omitempty"`
	StartTime   string    `json:"start_time,omitempty"`
	EndTime     string    `json:"end_time,omitempty"`
	StartDate   string    `json:"start_date,omitempty"`
	EndDate     string    `json:"end_date,omitempty"`
	MinPurchase *int64    `json:"min_purchase,omitempty"`
}

type Promo struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Config    PromoConfig `json:"config"`
	CreatedAt time.Time   `json:"created_at"`
}

// Product is a leaf sellable unit. Stock is the authoritative counter as
// delivered by the inventory backend and may carry a fractional part.
type Product struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Price          int64        `json:"price"`
	Stock          float64      `json:"stock"`
	Deleted        bool         `json:"deleted"`
	Outlet         OutletScope  `json:"outlet_id"`
	Promo          *PromoConfig `json:"promo,omitempty"`
	AppliedPromoID string       `json:"applied_promo_id,omitempty"`
}

type Component struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type Package struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Price              int64        `json:"price"`
	Outlet             OutletScope  `json:"outlet_id"`
	Promo              *PromoConfig `json:"promo,omitempty"`
	AppliedPromoID     string       `json:"applied_promo_id,omitempty"`
	ManualStockEnabled bool         `json:"manual_stock_enabled"`
	ManualStock        *float64     `json:"manual_stock,omitempty"`
	Deleted            bool         `json:"deleted"`
	Components         []Component  `json:"components"`
}

// BundleItem references either a Product or a Package, never a Bundle.
type BundleItem struct {
	Quantity  int64  `json:"quantity"`
	IsPackage bool   `json:"is_package"`
	ProductID string `json:"product_id,omitempty"`
	PackageID string `json:"package_id,omitempty"`
}

type Bundle struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Price              int64        `json:"price"`
	Outlet             OutletScope  `json:"outlet_id"`
	Promo              *PromoConfig `json:"promo,omitempty"`
	AppliedPromoID     string       `json:"applied_promo_id,omitempty"`
	ManualStockEnabled bool         `json:"manual_stock_enabled"`
	ManualStock        *float64     `json:"manual_stock,omitempty"`
	Deleted            bool         `json:"deleted"`
	Items              []BundleItem `json:"items"`
}

// Catalog is the raw repository data a snapshot is built from.
type Catalog struct {
	Scope    OutletScope
	Products []Product
	Packages []Package
	Bundles  []Bundle
	Promos   []Promo
}

type ViewItem struct {
	Kind           ItemKind    `json:"kind"`
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Outlet         OutletScope `json:"outlet_id"`
	Stock          int64       `json:"stock"`
	Price          int64       `json:"price"`
	EffectivePrice int64       `json:"effective_price"`
	DiscountAmount int64       `json:"discount_amount"`
	HasDiscount    bool        `json:"has_discount"`
	PromoID        string      `json:"promo_id,omitempty"`
}

type CatalogResponse struct {
	Outlet      OutletScope `json:"outlet_id"`
	Items       []ViewItem  `json:"items"`
	GeneratedAt string      `json:"generated_at"`
}

const (
	IssueMissingProduct   = "missing_product"
	IssueDeletedProduct   = "deleted_product"
	IssueMissingPackage   = "missing_package"
	IssueDeletedPackage   = "deleted_package"
	IssueBrokenPackage    = "broken_package"
	IssueZeroQuantity     = "non_positive_quantity"
	IssueEmptyComposition = "empty_composition"
	IssueManualWithoutQty = "manual_stock_without_value"
	IssueDanglingItem     = "item_without_reference"
)

type DiagnosticIssue struct {
	Kind   ItemKind `json:"kind"`
	ID     string   `json:"id"`
	Code   string   `json:"code"`
	Detail string   `json:"detail"`
}

type DiagnosticsResponse struct {
	Outlet      OutletScope       `json:"outlet_id"`
	Issues      []DiagnosticIssue `json:"issues"`
	GeneratedAt string            `json:"generated_at"`
}

type CartLine struct {
	Kind ItemKind `json:"kind"`
	ID   string   `json:"id"`
	Qty  int64    `json:"qty"`
}

type QuoteRequest struct {
	Outlet OutletScope `json:"outlet_id"`
	Lines  []CartLine  `json:"lines"`
}

type QuoteLine struct {
	Kind               ItemKind `json:"kind"`
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Qty                int64    `json:"qty"`
	UnitPrice          int64    `json:"unit_price"`
	EffectiveUnitPrice int64    `json:"effective_unit_price"`
	LineDiscount       int64    `json:"line_discount"`
	LineTotal          int64    `json:"line_total"`
	PromoID            string   `json:"promo_id,omitempty"`
	PromoApplied       bool     `json:"promo_applied"`
	Available          int64    `json:"available"`
	Sufficient         bool     `json:"sufficient"`
	Missing            bool     `json:"missing,omitempty"`
}

type QuoteResponse struct {
	Outlet       OutletScope `json:"outlet_id"`
	Lines        []QuoteLine `json:"lines"`
	Subtotal     int64       `json:"subtotal"`
	Discount     int64       `json:"discount"`
	Total        int64       `json:"total"`
	AllAvailable bool        `json:"all_available"`
	QuotedAt     string      `json:"quoted_at"`
}

type CheckoutRequest struct {
	Outlet           OutletScope `json:"outlet_id"`
	TerminalID       string      `json:"terminal_id"`
	IdempotencyKey   string      `json:"idempotency_key"`
	PaymentMethod    string      `json:"payment_method"`
	PaymentReference string      `json:"payment_reference,omitempty"`
	CashReceived     int64       `json:"cash_received"`
	Lines            []CartLine  `json:"lines"`
}

type CheckoutResponse struct {
	SaleID        string      `json:"sale_id"`
	Status        string      `json:"status"`
	Outlet        OutletScope `json:"outlet_id"`
	PaymentMethod string      `json:"payment_method"`
	Subtotal      int64       `json:"subtotal"`
	Discount      int64       `json:"discount"`
	Total         int64       `json:"total"`
	CashReceived  int64       `json:"cash_received"`
	Change        int64       `json:"change"`
	ItemCount     int64       `json:"item_count"`
	Lines         []SaleLine  `json:"lines"`
	Duplicate     bool        `json:"duplicate"`
	CreatedAt     string      `json:"created_at"`
}

// StockReduction decrements one authoritative counter: a product's stock or
// the manual-stock value of a package or bundle.
type StockReduction struct {
	Kind ItemKind `json:"kind"`
	ID   string   `json:"id"`
	Qty  int64    `json:"qty"`
}

type SaleLine struct {
	Kind      ItemKind `json:"kind"`
	ItemID    string   `json:"item_id"`
	Name      string   `json:"name"`
	Qty       int64    `json:"qty"`
	UnitPrice int64    `json:"unit_price"`
	Discount  int64    `json:"discount"`
	LineTotal int64    `json:"line_total"`
	PromoID   string   `json:"promo_id,omitempty"`
}

type Sale struct {
	ID               string
	Outlet           OutletScope
	TerminalID       string
	IdempotencyKey   string
	PaymentMethod    string
	PaymentReference string
	Subtotal         int64
	Discount         int64
	Total            int64
	CashReceived     int64
	Change           int64
	Status           string
	CashierUsername  string
	CreatedAt        time.Time
	Lines            []SaleLine
	Reductions       []StockReduction
}

type HoldOrderRequest struct {
	Outlet     OutletScope `json:"outlet_id"`
	TerminalID string      `json:"terminal_id"`
	Note       string      `json:"note"`
	Lines      []CartLine  `json:"lines"`
}

type HeldOrder struct {
	ID              string      `json:"id"`
	Outlet          OutletScope `json:"outlet_id"`
	TerminalID      string      `json:"terminal_id"`
	CashierUsername string      `json:"cashier_username"`
	Note            string      `json:"note"`
	Lines           []CartLine  `json:"lines"`
	HeldAt          time.Time   `json:"held_at"`
}

type HeldOrderResponse struct {
	HeldOrder HeldOrder `json:"held_order"`
}

type HeldOrderListResponse struct {
	Items []HeldOrder `json:"items"`
}

type ResumeHeldOrderResponse struct {
	HeldOrder HeldOrder     `json:"held_order"`
	Quote     QuoteResponse `json:"quote"`
	Stale     bool          `json:"stale"`
}

type PromoCreateRequest struct {
	Name   string      `json:"name"`
	Config PromoConfig `json:"config"`
}

type PromoToggleRequest struct {
	Enabled bool `json:"enabled"`
}

type PromoAssignRequest struct {
	Kind    ItemKind `json:"kind"`
	ID      string   `json:"id"`
	PromoID string   `json:"promo_id"`
}

type ProductCreateRequest struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Price  int64        `json:"price"`
	Stock  int64        `json:"stock"`
	Outlet OutletScope  `json:"outlet_id"`
	Promo  *PromoConfig `json:"promo,omitempty"`
}

type PackageCreateRequest struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Price              int64        `json:"price"`
	Outlet             OutletScope  `json:"outlet_id"`
	Promo              *PromoConfig `json:"promo,omitempty"`
	ManualStockEnabled bool         `json:"manual_stock_enabled"`
	ManualStock        *float64     `json:"manual_stock,omitempty"`
	Components         []Component  `json:"components"`
}

type BundleCreateRequest struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Price              int64        `json:"price"`
	Outlet             OutletScope  `json:"outlet_id"`
	Promo              *PromoConfig `json:"promo,omitempty"`
	ManualStockEnabled bool         `json:"manual_stock_enabled"`
	ManualStock        *float64     `json:"manual_stock,omitempty"`
	Items              []BundleItem `json:"items"`
}

type StockAdjustRequest struct {
	ProductID string `json:"product_id"`
	Delta     int64  `json:"delta"`
	Reason    string `json:"reason"`
}

type StockAdjustResponse struct {
	ProductID     string  `json:"product_id"`
	PreviousStock float64 `json:"previous_stock"`
	NewStock      float64 `json:"new_stock"`
}

type ManualStockRequest struct {
	Kind    ItemKind `json:"kind"`
	ID      string   `json:"id"`
	Enabled bool     `json:"enabled"`
	Value   *float64 `json:"value,omitempty"`
}

// ItemUpdate edits a product, package or bundle in place. Nil fields are
// left unchanged. Deleted soft-deletes (or restores) the item.
type ItemUpdate struct {
	Name    *string `json:"name,omitempty"`
	Price   *int64  `json:"price,omitempty"`
	Deleted *bool   `json:"deleted,omitempty"`
}

type ItemSummary struct {
	Kind    ItemKind `json:"kind"`
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Price   int64    `json:"price"`
	Deleted bool     `json:"deleted"`
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

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
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
	SaleStatusPaid = "paid"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
