package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pos-offline/internal/store"
)

// RemoteAPI is the narrow surface of the reconciliation backend: one call
// per action type. CreateSale returns the server-assigned sale id. Every
// endpoint must deduplicate by the tempId carried in the payload, because a
// retried request's first outcome may have succeeded with the response lost.
type RemoteAPI interface {
	CreateSale(ctx context.Context, p CreateSalePayload) (int64, error)
	UpdateSale(ctx context.Context, p UpdateSalePayload) error
	DeleteSale(ctx context.Context, p DeleteSalePayload) error
	UpdateProductStock(ctx context.Context, p StockAdjustmentPayload) error
}

// ReplayStats summarizes one replay pass.
type ReplayStats struct {
	Completed int
	Failed    int
	Skipped   int
}

// Replayer drains the sync queue against the remote backend. One Run is one
// pass: actions replay strictly in queue order, and once an action for a
// sale fails, every later action for that same sale is skipped until the
// next pass — creation must land before updates, updates before deletion.
//
// Scheduling and backoff between passes belong to the host; the replayer
// itself only enforces the per-action retry ceiling through the queue.
type Replayer struct {
	queue QueueService
	sales SaleService
	api   RemoteAPI
}

func NewReplayer(queue QueueService, sales SaleService, api RemoteAPI) *Replayer {
	return &Replayer{queue: queue, sales: sales, api: api}
}

func (r *Replayer) Run(ctx context.Context) (ReplayStats, error) {
	var stats ReplayStats

	if _, err := r.queue.RecoverStale(ctx); err != nil {
		return stats, err
	}

	actions, err := r.queue.PendingActions(ctx)
	if err != nil {
		return stats, err
	}

	blocked := make(map[string]bool)
	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if action.TempID != "" && blocked[action.TempID] {
			stats.Skipped++
			continue
		}

		if err := r.queue.MarkProcessing(ctx, action.ID); err != nil {
			return stats, err
		}

		if err := r.replayOne(ctx, action); err != nil {
			if markErr := r.queue.MarkFailed(ctx, action.ID, err); markErr != nil {
				return stats, markErr
			}
			if action.TempID != "" {
				blocked[action.TempID] = true
			}
			stats.Failed++
			continue
		}

		if err := r.queue.Complete(ctx, action.ID); err != nil {
			return stats, err
		}
		stats.Completed++
	}
	return stats, nil
}

func (r *Replayer) replayOne(ctx context.Context, action SyncAction) error {
	switch action.Type {
	case ActionCreateSale:
		var p CreateSalePayload
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return fmt.Errorf("malformed %s payload: %w", action.Type, err)
		}
		serverID, err := r.api.CreateSale(ctx, p)
		if err != nil {
			return err
		}
		if err := r.sales.MarkSynced(ctx, p.TempID, serverID); err != nil {
			// The server accepted the sale; only the local write-back failed.
			// The action stays queued and the retry deduplicates by tempId.
			return fmt.Errorf("sale created remotely but reconciliation write-back failed: %w", err)
		}
		return nil

	case ActionUpdateSale:
		var p UpdateSalePayload
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return fmt.Errorf("malformed %s payload: %w", action.Type, err)
		}
		return r.api.UpdateSale(ctx, p)

	case ActionDeleteSale:
		var p DeleteSalePayload
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return fmt.Errorf("malformed %s payload: %w", action.Type, err)
		}
		if err := r.api.DeleteSale(ctx, p); err != nil {
			return err
		}
		// Deletion confirmed; the cancelled local record can go now.
		if err := r.sales.MarkSynced(ctx, p.TempID, p.ServerID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil

	case ActionUpdateProductStock:
		var p StockAdjustmentPayload
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return fmt.Errorf("malformed %s payload: %w", action.Type, err)
		}
		return r.api.UpdateProductStock(ctx, p)

	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}
