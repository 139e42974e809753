package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultMaxRetries is the retry ceiling before an action is parked as a
// dead letter.
const DefaultMaxRetries = 5

// QueueService is the durable, ordered log of mutating actions awaiting
// replay against the remote backend.
//
// CREATE_SALE and UPDATE_SALE enqueues coalesce: as long as an action of the
// same type for the same TempID is still pending or failed, a new enqueue
// replaces its payload instead of appending a second entry. The action keeps
// its original queue position, so per-sale ordering is preserved and a sale
// edited many times before its first replay still produces exactly one
// server-side creation.
type QueueService interface {
	Enqueue(ctx context.Context, typ ActionType, tempID string, payload any) (int64, error)
	EnqueueTx(ctx context.Context, tx pgx.Tx, typ ActionType, tempID string, payload any) (int64, error)

	// PendingActions returns actions with status pending or failed, ascending
	// by enqueue time then id. Dead letters are excluded.
	PendingActions(ctx context.Context) ([]SyncAction, error)
	DeadLetters(ctx context.Context) ([]SyncAction, error)

	// MarkProcessing flags an action picked up by the replay driver. Once an
	// action is processing there is no cancellation guarantee.
	MarkProcessing(ctx context.Context, actionID int64) error
	// Complete removes a successfully replayed action.
	Complete(ctx context.Context, actionID int64) error
	// MarkFailed increments the retry count and leaves the action queued for
	// a later pass, or parks it as a dead letter once the ceiling is reached.
	MarkFailed(ctx context.Context, actionID int64, cause error) error

	// RecoverStale returns actions stuck in processing to pending. The
	// engine replays single-threaded, so at the start of a pass any
	// processing row is a leftover from a crashed pass.
	RecoverStale(ctx context.Context) (int64, error)

	// Remove cancels a queued action that replay has not picked up yet.
	Remove(ctx context.Context, actionID int64) error
	// RemoveByTempIDTx drops all not-yet-processing actions of the given
	// types for one sale, within a caller-provided transaction.
	RemoveByTempIDTx(ctx context.Context, tx pgx.Tx, tempID string, types ...ActionType) error
}

type queueService struct {
	pool       *pgxpool.Pool
	maxRetries int
}

func NewQueueService(pool *pgxpool.Pool) QueueService {
	return &queueService{pool: pool, maxRetries: DefaultMaxRetries}
}

// NewQueueServiceWithRetries overrides the dead-letter ceiling.
func NewQueueServiceWithRetries(pool *pgxpool.Pool, maxRetries int) QueueService {
	return &queueService{pool: pool, maxRetries: maxRetries}
}

func (s *queueService) Enqueue(ctx context.Context, typ ActionType, tempID string, payload any) (int64, error) {
	var id int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		id, err = s.EnqueueTx(ctx, tx, typ, tempID, payload)
		return err
	})
	return id, err
}

func (s *queueService) EnqueueTx(ctx context.Context, tx pgx.Tx, typ ActionType, tempID string, payload any) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s payload: %w", typ, err)
	}

	// Sale-level create/update actions coalesce per tempId.
	if (typ == ActionCreateSale || typ == ActionUpdateSale) && tempID != "" {
		var id int64
		err := tx.QueryRow(ctx, `
			UPDATE sync_queue
			SET payload = $1
			WHERE id = (
				SELECT id FROM sync_queue
				WHERE type = $2 AND temp_id = $3 AND status IN ('pending', 'failed')
				ORDER BY id
				LIMIT 1
			)
			RETURNING id
		`, body, string(typ), tempID).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("failed to coalesce %s action for %s: %w", typ, tempID, err)
		}
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO sync_queue (type, temp_id, payload, status, retry_count)
		VALUES ($1, $2, $3, 'pending', 0)
		RETURNING id
	`, string(typ), tempID, body).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s action: %w", typ, err)
	}
	return id, nil
}

const actionColumns = "id, type, temp_id, payload, enqueued_at, status, retry_count, last_error"

func scanActions(rows pgx.Rows) ([]SyncAction, error) {
	defer rows.Close()
	var actions []SyncAction
	for rows.Next() {
		var a SyncAction
		if err := rows.Scan(&a.ID, &a.Type, &a.TempID, &a.Payload, &a.EnqueuedAt, &a.Status, &a.RetryCount, &a.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan sync action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (s *queueService) PendingActions(ctx context.Context) ([]SyncAction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+actionColumns+`
		FROM sync_queue
		WHERE status IN ('pending', 'failed')
		ORDER BY enqueued_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending actions: %w", err)
	}
	return scanActions(rows)
}

func (s *queueService) DeadLetters(ctx context.Context) ([]SyncAction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+actionColumns+`
		FROM sync_queue
		WHERE status = 'dead_letter'
		ORDER BY enqueued_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	return scanActions(rows)
}

func (s *queueService) MarkProcessing(ctx context.Context, actionID int64) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE sync_queue SET status = 'processing' WHERE id = $1 AND status IN ('pending', 'failed')",
		actionID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark action %d processing: %w", actionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("action %d is not replayable", actionID)
	}
	return nil
}

func (s *queueService) Complete(ctx context.Context, actionID int64) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM sync_queue WHERE id = $1", actionID)
	if err != nil {
		return fmt.Errorf("failed to complete action %d: %w", actionID, err)
	}
	return nil
}

func (s *queueService) MarkFailed(ctx context.Context, actionID int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_queue
		SET retry_count = retry_count + 1,
		    last_error = $2,
		    status = CASE WHEN retry_count + 1 >= $3 THEN 'dead_letter' ELSE 'failed' END
		WHERE id = $1
	`, actionID, msg, s.maxRetries)
	if err != nil {
		return fmt.Errorf("failed to mark action %d failed: %w", actionID, err)
	}
	return nil
}

func (s *queueService) RecoverStale(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"UPDATE sync_queue SET status = 'pending' WHERE status = 'processing'",
	)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale actions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *queueService) Remove(ctx context.Context, actionID int64) error {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM sync_queue WHERE id = $1 AND status IN ('pending', 'failed', 'dead_letter')",
		actionID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove action %d: %w", actionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("action %d not found or already replaying", actionID)
	}
	return nil
}

func (s *queueService) RemoveByTempIDTx(ctx context.Context, tx pgx.Tx, tempID string, types ...ActionType) error {
	if tempID == "" || len(types) == 0 {
		return nil
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	_, err := tx.Exec(ctx, `
		DELETE FROM sync_queue
		WHERE temp_id = $1 AND type = ANY($2) AND status IN ('pending', 'failed')
	`, tempID, names)
	if err != nil {
		return fmt.Errorf("failed to drop queued actions for %s: %w", tempID, err)
	}
	return nil
}
