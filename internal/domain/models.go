package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places every monetary amount is rounded to.
const MoneyScale = 2

// TenantContext identifies the organization and actor on whose behalf an
// operation runs. It is passed explicitly to every service call.
type TenantContext struct {
	OrganizationID string
	ActorID        string
	Role           string
}

type RecordState int

const (
	RecordActive RecordState = iota
	RecordDeleted
)

type Product struct {
	ID             string              `json:"id"`
	OrganizationID string              `json:"organization_id"`
	SKU            string              `json:"sku"`
	Name           string              `json:"name"`
	Price          decimal.Decimal     `json:"price"`
	Cost           decimal.NullDecimal `json:"cost"`
	Stock          int                 `json:"stock"`
	MinStock       int                 `json:"min_stock"`
	TaxRate        decimal.Decimal     `json:"tax_rate"`
	IsActive       bool                `json:"is_active"`
	DeletedAt      *time.Time          `json:"deleted_at,omitempty"`
}

func (p Product) State() RecordState {
	if p.DeletedAt != nil {
		return RecordDeleted
	}
	return RecordActive
}

func (p Product) BelowMinStock() bool {
	return p.Stock <= p.MinStock
}

type Customer struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Name           string          `json:"name"`
	Phone          string          `json:"phone,omitempty"`
	LoyaltyPoints  int64           `json:"loyalty_points"`
	TotalSpent     decimal.Decimal `json:"total_spent"`
	TotalPurchases int             `json:"total_purchases"`
	LastPurchaseAt *time.Time      `json:"last_purchase_at,omitempty"`
	DeletedAt      *time.Time      `json:"deleted_at,omitempty"`
}

func (c Customer) State() RecordState {
	if c.DeletedAt != nil {
		return RecordDeleted
	}
	return RecordActive
}

type SaleStatus string

const (
	SaleStatusDraft     SaleStatus = "draft"
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusCancelled SaleStatus = "cancelled"
	SaleStatusRefunded  SaleStatus = "refunded"
)

// CanReverse reports whether a sale in this status may be cancelled or refunded.
func (s SaleStatus) CanReverse() bool {
	return s == SaleStatusCompleted
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentMobile   PaymentMethod = "mobile"
	PaymentTransfer PaymentMethod = "transfer"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMobile, PaymentTransfer:
		return true
	}
	return false
}

type Sale struct {
	ID                   string          `json:"id"`
	OrganizationID       string          `json:"organization_id"`
	CustomerID           string          `json:"customer_id,omitempty"`
	Status               SaleStatus      `json:"status"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	Discount             decimal.Decimal `json:"discount"`
	DiscountPercentage   decimal.Decimal `json:"discount_percentage"`
	LoyaltyDiscount      decimal.Decimal `json:"loyalty_discount"`
	Tax                  decimal.Decimal `json:"tax"`
	Total                decimal.Decimal `json:"total"`
	PaymentMethod        PaymentMethod   `json:"payment_method,omitempty"`
	PaymentTransactionID string          `json:"payment_transaction_id,omitempty"`
	PaymentStatus        string          `json:"payment_status,omitempty"`
	CashReceived         decimal.Decimal `json:"cash_received"`
	Change               decimal.Decimal `json:"change"`
	LoyaltyPointsEarned  int64           `json:"loyalty_points_earned"`
	LoyaltyPointsUsed    int64           `json:"loyalty_points_used"`
	Notes                string          `json:"notes,omitempty"`
	CreatedBy            string          `json:"created_by"`
	CreatedAt            time.Time       `json:"created_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	CancelledAt          *time.Time      `json:"cancelled_at,omitempty"`
	CancelledBy          string          `json:"cancelled_by,omitempty"`
	CancelReason         string          `json:"cancel_reason,omitempty"`
	Items                []SaleLineItem  `json:"items"`
}

// SaleLineItem captures product data as it was at the moment of sale.
type SaleLineItem struct {
	ID          string          `json:"id"`
	SaleID      string          `json:"sale_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Total       decimal.Decimal `json:"total"`
	Notes       string          `json:"notes,omitempty"`
}

type LoyaltyTransactionType string

const (
	LoyaltyEarn   LoyaltyTransactionType = "earn"
	LoyaltyRedeem LoyaltyTransactionType = "redeem"
	LoyaltyExpire LoyaltyTransactionType = "expire"
	LoyaltyAdjust LoyaltyTransactionType = "adjust"
)

type LoyaltyReason string

const (
	ReasonPurchase   LoyaltyReason = "purchase"
	ReasonRedemption LoyaltyReason = "redemption"
	ReasonManual     LoyaltyReason = "manual"
	ReasonExpiry     LoyaltyReason = "expiry"
)

// LoyaltyTransaction is one append-only ledger row. Balance is the customer
// balance after this entry was applied.
type LoyaltyTransaction struct {
	ID             string                 `json:"id"`
	Seq            int64                  `json:"seq"`
	OrganizationID string                 `json:"organization_id"`
	CustomerID     string                 `json:"customer_id"`
	Type           LoyaltyTransactionType `json:"type"`
	Points         int64                  `json:"points"`
	Balance        int64                  `json:"balance"`
	Reason         LoyaltyReason          `json:"reason"`
	Description    string                 `json:"description,omitempty"`
	RelatedSaleID  string                 `json:"related_sale_id,omitempty"`
	CreatedBy      string                 `json:"created_by"`
	CreatedAt      time.Time              `json:"created_at"`
}

type LoyaltyProgram struct {
	OrganizationID       string          `json:"organization_id"`
	Name                 string          `json:"name"`
	PointsPerCurrency    decimal.Decimal `json:"points_per_currency"`
	CurrencyPerPoint     decimal.Decimal `json:"currency_per_point"`
	MinPurchaseForPoints decimal.Decimal `json:"min_purchase_for_points"`
	IsActive             bool            `json:"is_active"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

type AdjustOp string

const (
	AdjustAdd      AdjustOp = "add"
	AdjustSubtract AdjustOp = "subtract"
	AdjustSet      AdjustOp = "set"
)

func (op AdjustOp) IsValid() bool {
	return op == AdjustAdd || op == AdjustSubtract || op == AdjustSet
}

type SaleItemRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Discount  decimal.Decimal `json:"discount"`
	Notes     string          `json:"notes,omitempty"`
}

type CreateSaleRequest struct {
	CustomerID           string            `json:"customer_id,omitempty"`
	Items                []SaleItemRequest `json:"items"`
	PaymentMethod        PaymentMethod     `json:"payment_method"`
	PaymentTransactionID string            `json:"payment_transaction_id,omitempty"`
	PaymentStatus        string            `json:"payment_status,omitempty"`
	CashReceived         decimal.Decimal   `json:"cash_received"`
	DiscountPercentage   decimal.Decimal   `json:"discount_percentage"`
	LoyaltyPointsUsed    int64             `json:"loyalty_points_used"`
	Notes                string            `json:"notes,omitempty"`
}

type DraftSaleRequest struct {
	CustomerID         string            `json:"customer_id,omitempty"`
	Items              []SaleItemRequest `json:"items"`
	DiscountPercentage decimal.Decimal   `json:"discount_percentage"`
	Notes              string            `json:"notes,omitempty"`
}

type CompleteDraftRequest struct {
	PaymentMethod        PaymentMethod   `json:"payment_method"`
	PaymentTransactionID string          `json:"payment_transaction_id,omitempty"`
	PaymentStatus        string          `json:"payment_status,omitempty"`
	CashReceived         decimal.Decimal `json:"cash_received"`
	LoyaltyPointsUsed    int64           `json:"loyalty_points_used"`
}

type ApplyDiscountRequest struct {
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
}

type CancelSaleRequest struct {
	Reason string `json:"reason"`
}

type SaleResponse struct {
	Sale Sale `json:"sale"`
}

type CreateSaleResponse struct {
	SaleID string `json:"sale_id"`
}

type LoyaltyAdjustRequest struct {
	Points      int64    `json:"points"`
	Op          AdjustOp `json:"op"`
	Description string   `json:"description,omitempty"`
}

type LoyaltyBalanceResponse struct {
	CustomerID string `json:"customer_id"`
	Balance    int64  `json:"balance"`
}

type LoyaltyTransactionListResponse struct {
	CustomerID   string               `json:"customer_id"`
	Transactions []LoyaltyTransaction `json:"transactions"`
}

type StockAdjustRequest struct {
	Quantity int      `json:"quantity"`
	Op       AdjustOp `json:"op"`
}

type StockAdjustResponse struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
}

type SaleEventType string

const (
	EventSaleCompleted SaleEventType = "sale.completed"
	EventSaleCancelled SaleEventType = "sale.cancelled"
	EventSaleRefunded  SaleEventType = "sale.refunded"
)

// SaleEvent is published after a sale state change has committed.
type SaleEvent struct {
	Type           SaleEventType   `json:"type"`
	OrganizationID string          `json:"organization_id"`
	SaleID         string          `json:"sale_id"`
	CustomerID     string          `json:"customer_id,omitempty"`
	Total          decimal.Decimal `json:"total"`
	ActorID        string          `json:"actor_id"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken    string `json:"access_token"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id"`
	ExpiresAt      string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username       string
	Password       string
	Role           string
	OrganizationID string
	Active         bool
	CreatedAt      time.Time
}

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)
