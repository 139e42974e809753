package core

import "github.com/shopspring/decimal"

// Action payloads carry everything the replay driver needs to call the
// remote backend, plus the client TempID so a retried request whose first
// outcome was lost can be deduplicated server-side.

type CreateSalePayload struct {
	TempID string      `json:"temp_id" jsonschema_description:"Client-generated stable identity; the server must deduplicate creations by this value"`
	Sale   OfflineSale `json:"sale" jsonschema_description:"Full snapshot of the sale at the time of the last local edit"`
}

type UpdateSalePayload struct {
	TempID   string      `json:"temp_id"`
	ServerID int64       `json:"server_id" jsonschema_description:"Server-assigned sale id returned by the original creation"`
	Sale     OfflineSale `json:"sale"`
}

type DeleteSalePayload struct {
	TempID   string `json:"temp_id"`
	ServerID int64  `json:"server_id"`
}

type StockAdjustmentPayload struct {
	ProductID                int64           `json:"product_id"`
	QuantityDelta            decimal.Decimal `json:"quantity_delta" jsonschema_description:"Signed stock change; sales produce negative deltas"`
	SaleTempID               string          `json:"sale_temp_id" jsonschema_description:"Sale that caused the adjustment, for server-side deduplication"`
	IssuedFromPurchaseItemID *int64          `json:"issued_from_purchase_item_id,omitempty"`
}
