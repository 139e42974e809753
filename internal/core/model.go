package core

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type SaleStatus string

const (
	SaleDraft     SaleStatus = "draft"
	SalePending   SaleStatus = "pending"
	SaleCompleted SaleStatus = "completed"
	SaleCancelled SaleStatus = "cancelled"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// OfflineSale is the working transaction a cashier builds at the till. It is
// identified by a client-generated TempID for its whole local life; ID is
// only present once the remote backend has accepted the sale.
type OfflineSale struct {
	TempID           string            `json:"temp_id"`
	ID               *int64            `json:"id,omitempty"`
	ClientID         *int64            `json:"client_id,omitempty"`
	ClientName       *string           `json:"client_name,omitempty"` // nil means walk-in
	SaleDate         string            `json:"sale_date"`             // YYYY-MM-DD
	Status           SaleStatus        `json:"status"`
	DiscountAmount   decimal.Decimal   `json:"discount_amount"`
	DiscountType     DiscountType      `json:"discount_type"`
	TotalAmount      decimal.Decimal   `json:"total_amount"`
	PaidAmount       decimal.Decimal   `json:"paid_amount"`
	Items            []OfflineSaleItem `json:"items"`
	Payments         []Payment         `json:"payments"`
	OfflineCreatedAt time.Time         `json:"offline_created_at"`
	IsSynced         bool              `json:"is_synced"`
}

// OfflineSaleItem is one line of an offline sale. ProductName is denormalized
// so the line stays displayable with no network and no product cache hit.
type OfflineSaleItem struct {
	TempID                   string          `json:"temp_id"`
	ProductID                int64           `json:"product_id"`
	ProductName              string          `json:"product_name"`
	Quantity                 decimal.Decimal `json:"quantity"`
	UnitPrice                decimal.Decimal `json:"unit_price"`
	IssuedFromPurchaseItemID *int64          `json:"issued_from_purchase_item_id,omitempty"`
}

// Payment is one settlement entry against a sale. Payments are append-only:
// a correction is a new entry (refund method, negative amount), never an edit.
type Payment struct {
	Method          string          `json:"method"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentDate     string          `json:"payment_date"` // YYYY-MM-DD
	ReferenceNumber *string         `json:"reference_number,omitempty"`
}

// Product mirrors a server-side product for offline display, search and
// quantity validation. The mirror may go stale while offline; it is never
// the authority for writes.
type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Barcode       string          `json:"barcode"`
	Category      string          `json:"category"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	StockQuantity decimal.Decimal `json:"stock_quantity"`
	BatchTracked  bool            `json:"batch_tracked"`
}

// Client mirrors a server-side client record for offline lookup.
type Client struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

// Settings is the cached application settings singleton, stored under the
// fixed key "current".
type Settings struct {
	StoreName     string    `json:"store_name"`
	CurrencyCode  string    `json:"currency_code"`
	ReceiptFooter string    `json:"receipt_footer"`
	RefreshedAt   time.Time `json:"refreshed_at"`
}

// SettingsKey is the sentinel key of the settings singleton.
const SettingsKey = "current"

type ActionType string

const (
	ActionCreateSale         ActionType = "CREATE_SALE"
	ActionUpdateSale         ActionType = "UPDATE_SALE"
	ActionDeleteSale         ActionType = "DELETE_SALE"
	ActionUpdateProductStock ActionType = "UPDATE_PRODUCT_STOCK"
)

type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionProcessing ActionStatus = "processing"
	ActionFailed     ActionStatus = "failed"
	// ActionDeadLetter marks an action that exhausted its retry budget.
	// Dead letters stay in the table for operator inspection but are no
	// longer offered to the replay driver.
	ActionDeadLetter ActionStatus = "dead_letter"
)

// SyncAction is one durable, replayable mutating operation destined for the
// remote backend. Actions replay in non-decreasing EnqueuedAt order and an
// action never overtakes an older pending or failed action for the same
// TempID.
type SyncAction struct {
	ID         int64           `json:"id"`
	Type       ActionType      `json:"type"`
	TempID     string          `json:"temp_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Status     ActionStatus    `json:"status"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
}
