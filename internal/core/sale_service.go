package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"pos-offline/internal/store"
)

// SaleService owns the offline sale lifecycle: draft capture, item and
// discount edits, payments, completion, cancellation and the reconciliation
// write-back once the server has assigned identity.
//
// Every mutation is write-through: the sale record and its queue action are
// persisted in one store transaction, so the caller either sees the whole
// mutation or none of it. A sale that has never been accepted by the server
// keeps exactly one coalesced CREATE_SALE action; a synced sale keeps one
// coalesced UPDATE_SALE action.
type SaleService interface {
	NewSale(ctx context.Context, clientID *int64, clientName *string) (*OfflineSale, error)
	GetSale(ctx context.Context, tempID string) (*OfflineSale, error)
	// PendingSales returns every locally held sale, oldest capture first.
	PendingSales(ctx context.Context) ([]OfflineSale, error)

	AddItem(ctx context.Context, tempID string, item OfflineSaleItem) (*OfflineSale, error)
	SetItemQuantity(ctx context.Context, tempID, itemTempID string, qty decimal.Decimal) (*OfflineSale, error)
	RemoveItem(ctx context.Context, tempID, itemTempID string) (*OfflineSale, error)
	SetClient(ctx context.Context, tempID string, clientID *int64, clientName *string) (*OfflineSale, error)
	SetDiscount(ctx context.Context, tempID string, amount decimal.Decimal, typ DiscountType) (*OfflineSale, error)
	RecordPayment(ctx context.Context, tempID string, payment Payment) (*OfflineSale, error)

	// Complete settles the sale. It requires full payment and an explicit
	// operator confirmation (this call is that confirmation).
	Complete(ctx context.Context, tempID string) (*OfflineSale, error)
	// Cancel marks the sale cancelled. A sale the server already knows about
	// gets a DELETE_SALE action; a never-synced sale is removed locally along
	// with its pending CREATE_SALE action.
	Cancel(ctx context.Context, tempID string) (*OfflineSale, error)

	// MarkSynced writes the server-assigned id back onto the matching record
	// and flips is_synced. Terminal sales are dropped from the pending
	// collection at this point; open sales stay editable under their new
	// server identity.
	MarkSynced(ctx context.Context, tempID string, serverID int64) error
}

type saleService struct {
	store *store.Store
	queue QueueService
	cache CacheService
}

func NewSaleService(st *store.Store, queue QueueService, cache CacheService) SaleService {
	return &saleService{store: st, queue: queue, cache: cache}
}

func (s *saleService) NewSale(ctx context.Context, clientID *int64, clientName *string) (*OfflineSale, error) {
	now := time.Now().UTC()
	sale := &OfflineSale{
		TempID:           uuid.NewString(),
		ClientID:         clientID,
		ClientName:       clientName,
		SaleDate:         now.Format("2006-01-02"),
		Status:           SaleDraft,
		DiscountAmount:   decimal.Zero,
		DiscountType:     DiscountFixed,
		TotalAmount:      decimal.Zero,
		PaidAmount:       decimal.Zero,
		Items:            []OfflineSaleItem{},
		Payments:         []Payment{},
		OfflineCreatedAt: now,
	}

	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		return s.persistTx(ctx, tx, sale)
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *saleService) GetSale(ctx context.Context, tempID string) (*OfflineSale, error) {
	var sale OfflineSale
	if err := s.store.Get(ctx, store.PendingSales, tempID, &sale); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *saleService) PendingSales(ctx context.Context) ([]OfflineSale, error) {
	recs, err := s.store.GetAll(ctx, store.PendingSales)
	if err != nil {
		return nil, err
	}
	sales, err := store.UnmarshalAll[OfflineSale](recs)
	if err != nil {
		return nil, err
	}
	sort.Slice(sales, func(i, j int) bool {
		return sales[i].OfflineCreatedAt.Before(sales[j].OfflineCreatedAt)
	})
	return sales, nil
}

// mutate loads the sale, applies fn, recomputes totals and persists the sale
// together with its coalesced queue action in one transaction. fn returning
// an error blocks the mutation with nothing written.
func (s *saleService) mutate(ctx context.Context, tempID string, fn func(sale *OfflineSale) error) (*OfflineSale, error) {
	sale, err := s.GetSale(ctx, tempID)
	if err != nil {
		return nil, err
	}
	if sale.IsSynced && (sale.Status == SaleCompleted || sale.Status == SaleCancelled) {
		return nil, validationConflict("sale %s is %s and reconciled; no further edits", tempID, sale.Status)
	}
	if sale.Status == SaleCancelled {
		return nil, validationConflict("sale %s is cancelled", tempID)
	}

	if err := fn(sale); err != nil {
		return nil, err
	}
	refreshTotals(sale)

	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		return s.persistTx(ctx, tx, sale)
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// refreshTotals recomputes and stamps the derived monetary figures. Totals
// and persistence always travel together; a sale on disk never carries
// stale amounts.
func refreshTotals(sale *OfflineSale) {
	t := ComputeTotals(sale.Items, sale.DiscountAmount, sale.DiscountType, sale.Payments)
	sale.TotalAmount = t.GrandTotal
	sale.PaidAmount = t.PaidAmount

	// First partial payment moves a draft into pending.
	if sale.Status == SaleDraft && t.PaidAmount.IsPositive() && t.PaidAmount.LessThan(t.GrandTotal) {
		sale.Status = SalePending
	}
}

// persistTx writes the sale and maintains its queue action atomically.
func (s *saleService) persistTx(ctx context.Context, tx pgx.Tx, sale *OfflineSale) error {
	if err := s.store.PutTx(ctx, tx, store.PendingSales, sale.TempID, sale); err != nil {
		return err
	}
	if sale.ID == nil {
		_, err := s.queue.EnqueueTx(ctx, tx, ActionCreateSale, sale.TempID, CreateSalePayload{
			TempID: sale.TempID,
			Sale:   *sale,
		})
		return err
	}
	_, err := s.queue.EnqueueTx(ctx, tx, ActionUpdateSale, sale.TempID, UpdateSalePayload{
		TempID:   sale.TempID,
		ServerID: *sale.ID,
		Sale:     *sale,
	})
	return err
}

func (s *saleService) AddItem(ctx context.Context, tempID string, item OfflineSaleItem) (*OfflineSale, error) {
	if !item.Quantity.IsPositive() {
		return nil, validationConflict("item quantity must be positive, got %s", item.Quantity)
	}
	if item.UnitPrice.IsNegative() {
		return nil, validationConflict("item unit price must not be negative, got %s", item.UnitPrice)
	}

	return s.mutate(ctx, tempID, func(sale *OfflineSale) error {
		// Merge with an existing line for the same product and batch.
		for i := range sale.Items {
			existing := &sale.Items[i]
			if existing.ProductID == item.ProductID && sameBatch(existing.IssuedFromPurchaseItemID, item.IssuedFromPurchaseItemID) {
				newQty := existing.Quantity.Add(item.Quantity)
				if err := s.checkStock(ctx, item.ProductID, newQty); err != nil {
					return err
				}
				existing.Quantity = newQty
				existing.UnitPrice = item.UnitPrice
				return nil
			}
		}

		if err := s.checkStock(ctx, item.ProductID, item.Quantity); err != nil {
			return err
		}
		if item.TempID == "" {
			item.TempID = uuid.NewString()
		}
		sale.Items = append(sale.Items, item)
		return nil
	})
}

func sameBatch(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// checkStock validates a requested quantity against the cached stock figure
// for batch-tracked products. An uncached product is allowed through: the
// mirror is a validation aid, not the authority.
func (s *saleService) checkStock(ctx context.Context, productID int64, qty decimal.Decimal) error {
	p, err := s.cache.Product(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if p.BatchTracked && qty.GreaterThan(p.StockQuantity) {
		return validationConflict("quantity %s exceeds available stock %s for %s", qty, p.StockQuantity, p.Name)
	}
	return nil
}

func (s *saleService) SetItemQuantity(ctx context.Context, tempID, itemTempID string, qty decimal.Decimal) (*OfflineSale, error) {
	if !qty.IsPositive() {
		return nil, validationConflict("item quantity must be positive, got %s", qty)
	}
	return s.mutate(ctx, tempID, func(sale *OfflineSale) error {
		for i := range sale.Items {
			if sale.Items[i].TempID == itemTempID {
				if err := s.checkStock(ctx, sale.Items[i].ProductID, qty); err != nil {
					return err
				}
				sale.Items[i].Quantity = qty
				return nil
			}
		}
		return fmt.Errorf("%w: item %s on sale %s", store.ErrNotFound, itemTempID, tempID)
	})
}

func (s *saleService) RemoveItem(ctx context.Context, tempID, itemTempID string) (*OfflineSale, error) {
	return s.mutate(ctx, tempID, func(sale *OfflineSale) error {
		for i := range sale.Items {
			if sale.Items[i].TempID == itemTempID {
				sale.Items = append(sale.Items[:i], sale.Items[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: item %s on sale %s", store.ErrNotFound, itemTempID, tempID)
	})
}

func (s *saleService) SetClient(ctx context.Context, tempID string, clientID *int64, clientName *string) (*OfflineSale, error) {
	return s.mutate(ctx, tempID, func(sale *OfflineSale) error {
		sale.ClientID = clientID
		sale.ClientName = clientName
		return nil
	})
}

func (s *saleService) SetDiscount(ctx context.Context, tempID string, amount decimal.Decimal, typ DiscountType) (*OfflineSale, error) {
	return s.mutate(ctx, tempID, func(sale *OfflineSale) error {
		subtotal := ComputeTotals(sale.Items, decimal.Zero, DiscountFixed, nil).Subtotal
		if err := ValidateDiscount(amount, typ, subtotal); err != nil {
			return err
		}
		sale.DiscountAmount = amount
		sale.DiscountType = typ
		return nil
	})
}

func (s *saleService) RecordPayment(ctx context.Context, tempID string, payment Payment) (*OfflineSale, error) {
	if payment.Amount.IsZero() {
		return nil, validationConflict("payment amount must not be zero")
	}
	return s.mutate(ctx, tempID, func(sale *OfflineSale) error {
		if payment.PaymentDate == "" {
			payment.PaymentDate = time.Now().UTC().Format("2006-01-02")
		}
		sale.Payments = append(sale.Payments, payment)
		return nil
	})
}

func (s *saleService) Complete(ctx context.Context, tempID string) (*OfflineSale, error) {
	sale, err := s.GetSale(ctx, tempID)
	if err != nil {
		return nil, err
	}
	if sale.Status != SaleDraft && sale.Status != SalePending {
		return nil, validationConflict("sale %s cannot be completed: status is %s", tempID, sale.Status)
	}

	t := ComputeTotals(sale.Items, sale.DiscountAmount, sale.DiscountType, sale.Payments)
	if t.PaidAmount.LessThan(t.GrandTotal) {
		return nil, validationConflict("sale %s is not fully paid: %s of %s", tempID, t.PaidAmount, t.GrandTotal)
	}
	sale.Status = SaleCompleted
	sale.TotalAmount = t.GrandTotal
	sale.PaidAmount = t.PaidAmount

	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.persistTx(ctx, tx, sale); err != nil {
			return err
		}
		// Stock leaves the shop now; queue the server-side adjustments and
		// keep the local mirror roughly honest for later validations.
		for _, item := range sale.Items {
			_, err := s.queue.EnqueueTx(ctx, tx, ActionUpdateProductStock, sale.TempID, StockAdjustmentPayload{
				ProductID:                item.ProductID,
				QuantityDelta:            item.Quantity.Neg(),
				SaleTempID:               sale.TempID,
				IssuedFromPurchaseItemID: item.IssuedFromPurchaseItemID,
			})
			if err != nil {
				return err
			}
			if err := s.cache.DeductStockTx(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *saleService) Cancel(ctx context.Context, tempID string) (*OfflineSale, error) {
	sale, err := s.GetSale(ctx, tempID)
	if err != nil {
		return nil, err
	}
	if sale.Status == SaleCompleted || sale.Status == SaleCancelled {
		return nil, validationConflict("sale %s cannot be cancelled: status is %s", tempID, sale.Status)
	}

	sale.Status = SaleCancelled

	if sale.ID == nil {
		// The server never saw this sale: drop it and its pending creation.
		err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
			if err := s.queue.RemoveByTempIDTx(ctx, tx, tempID, ActionCreateSale, ActionUpdateSale, ActionUpdateProductStock); err != nil {
				return err
			}
			return s.store.DeleteTx(ctx, tx, store.PendingSales, tempID)
		})
		if err != nil {
			return nil, err
		}
		return sale, nil
	}

	// The server knows this sale: keep the cancelled record until the
	// DELETE_SALE action confirms, and drop superseded create/update actions.
	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.PutTx(ctx, tx, store.PendingSales, tempID, sale); err != nil {
			return err
		}
		if err := s.queue.RemoveByTempIDTx(ctx, tx, tempID, ActionCreateSale, ActionUpdateSale); err != nil {
			return err
		}
		_, err := s.queue.EnqueueTx(ctx, tx, ActionDeleteSale, tempID, DeleteSalePayload{
			TempID:   tempID,
			ServerID: *sale.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *saleService) MarkSynced(ctx context.Context, tempID string, serverID int64) error {
	sale, err := s.GetSale(ctx, tempID)
	if err != nil {
		return err
	}
	sale.ID = &serverID
	sale.IsSynced = true

	return s.store.WithTx(ctx, func(tx pgx.Tx) error {
		if sale.Status == SaleCompleted || sale.Status == SaleCancelled {
			return s.store.DeleteTx(ctx, tx, store.PendingSales, tempID)
		}
		return s.store.PutTx(ctx, tx, store.PendingSales, tempID, sale)
	})
}
