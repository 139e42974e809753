package core_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"pos-offline/internal/core"
	"pos-offline/internal/store"
)

// flakyAPI is a scripted reconciliation backend: CreateSale fails a set
// number of times before succeeding, and creations deduplicate by tempId
// like the real backend must.
type flakyAPI struct {
	createFailures int
	nextServerID   int64
	createdByTemp  map[string]int64
	stockCalls     int
	updateCalls    int
	deleteCalls    int
}

func newFlakyAPI(createFailures int) *flakyAPI {
	return &flakyAPI{
		createFailures: createFailures,
		nextServerID:   100,
		createdByTemp:  map[string]int64{},
	}
}

func (f *flakyAPI) CreateSale(_ context.Context, p core.CreateSalePayload) (int64, error) {
	if f.createFailures > 0 {
		f.createFailures--
		return 0, fmt.Errorf("network timeout")
	}
	if id, ok := f.createdByTemp[p.TempID]; ok {
		// Retried creation whose first outcome was lost: same sale, same id.
		return id, nil
	}
	f.nextServerID++
	f.createdByTemp[p.TempID] = f.nextServerID
	return f.nextServerID, nil
}

func (f *flakyAPI) UpdateSale(_ context.Context, _ core.UpdateSalePayload) error {
	f.updateCalls++
	return nil
}

func (f *flakyAPI) DeleteSale(_ context.Context, _ core.DeleteSalePayload) error {
	f.deleteCalls++
	return nil
}

func (f *flakyAPI) UpdateProductStock(_ context.Context, _ core.StockAdjustmentPayload) error {
	f.stockCalls++
	return nil
}

func TestReplayer_RetriesThenSucceeds(t *testing.T) {
	e, ctx := setupEngine(t)
	defer e.pool.Close()

	sale, err := e.sales.NewSale(ctx, nil, nil)
	if err != nil {
		t.Fatalf("NewSale failed: %v", err)
	}
	if _, err := e.sales.AddItem(ctx, sale.TempID, core.OfflineSaleItem{
		ProductID: 1, ProductName: "Widget", Quantity: dec("2"), UnitPrice: dec("10.00"),
	}); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	api := newFlakyAPI(2)
	replayer := core.NewReplayer(e.queue, e.sales, api)

	// Two failing passes.
	for pass := 1; pass <= 2; pass++ {
		stats, err := replayer.Run(ctx)
		if err != nil {
			t.Fatalf("Run %d failed: %v", pass, err)
		}
		if stats.Failed != 1 || stats.Completed != 0 {
			t.Fatalf("pass %d: expected 1 failure, got %+v", pass, stats)
		}
		actions, err := e.queue.PendingActions(ctx)
		if err != nil {
			t.Fatalf("PendingActions failed: %v", err)
		}
		if len(actions) != 1 || actions[0].RetryCount != pass {
			t.Fatalf("pass %d: expected retryCount %d, got %+v", pass, pass, actions)
		}
	}

	// Third pass succeeds and reconciles.
	stats, err := replayer.Run(ctx)
	if err != nil {
		t.Fatalf("Final run failed: %v", err)
	}
	if stats.Completed != 1 {
		t.Fatalf("expected 1 completion, got %+v", stats)
	}

	reconciled, err := e.sales.GetSale(ctx, sale.TempID)
	if err != nil {
		t.Fatalf("GetSale failed: %v", err)
	}
	if !reconciled.IsSynced || reconciled.ID == nil {
		t.Errorf("sale not reconciled: %+v", reconciled)
	}
	if len(api.createdByTemp) != 1 {
		t.Errorf("expected exactly one server-side sale, got %d", len(api.createdByTemp))
	}

	actions, err := e.queue.PendingActions(ctx)
	if err != nil {
		t.Fatalf("PendingActions failed: %v", err)
	}
	if len(actions) != 0 {
		t.Errorf("expected drained queue, got %+v", actions)
	}
}

func TestReplayer_FailureBlocksLaterActionsForSameSale(t *testing.T) {
	e, ctx := setupEngine(t)
	defer e.pool.Close()

	sale, err := e.sales.NewSale(ctx, nil, nil)
	if err != nil {
		t.Fatalf("NewSale failed: %v", err)
	}
	if _, err := e.sales.AddItem(ctx, sale.TempID, core.OfflineSaleItem{
		ProductID: 1, ProductName: "Widget", Quantity: dec("1"), UnitPrice: dec("4.00"),
	}); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if _, err := e.sales.RecordPayment(ctx, sale.TempID, payment("4.00")); err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}
	// Completion queues the stock adjustment behind the pending creation.
	if _, err := e.sales.Complete(ctx, sale.TempID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	api := newFlakyAPI(1)
	replayer := core.NewReplayer(e.queue, e.sales, api)

	stats, err := replayer.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("expected the creation to fail, got %+v", stats)
	}
	// The stock adjustment must not overtake the failed creation.
	if stats.Skipped != 1 || api.stockCalls != 0 {
		t.Errorf("later action overtook a failed one: %+v, stock calls %d", stats, api.stockCalls)
	}

	// Next pass replays creation then the stock adjustment, in order.
	stats, err = replayer.Run(ctx)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if stats.Completed != 2 || api.stockCalls != 1 {
		t.Errorf("expected full drain in order, got %+v, stock calls %d", stats, api.stockCalls)
	}

	// The completed sale is reconciled and leaves the pending collection.
	if _, err := e.sales.GetSale(ctx, sale.TempID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected reconciled terminal sale to be removed, got %v", err)
	}
}

func TestReplayer_DeleteSaleDropsLocalRecord(t *testing.T) {
	e, ctx := setupEngine(t)
	defer e.pool.Close()

	sale, err := e.sales.NewSale(ctx, nil, nil)
	if err != nil {
		t.Fatalf("NewSale failed: %v", err)
	}
	if err := e.sales.MarkSynced(ctx, sale.TempID, 777); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}
	if _, err := e.sales.Cancel(ctx, sale.TempID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	api := newFlakyAPI(0)
	replayer := core.NewReplayer(e.queue, e.sales, api)
	stats, err := replayer.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Completed != 1 || api.deleteCalls != 1 {
		t.Fatalf("expected one replayed deletion, got %+v (%d delete calls)", stats, api.deleteCalls)
	}

	if _, err := e.sales.GetSale(ctx, sale.TempID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cancelled record should be gone after confirmed deletion, got %v", err)
	}
}
