package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUnavailable means the persistent store could not be opened. Offline
	// capture cannot work without it, so callers must surface this to the
	// operator instead of swallowing it.
	ErrUnavailable = errors.New("persistent store unavailable")

	// ErrTxAborted means a write batch failed and was rolled back as a whole.
	// The mutation can be retried in full; no partial state was persisted.
	ErrTxAborted = errors.New("transaction aborted")

	// ErrNotFound is returned by point reads for missing keys.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownCollection is returned when a caller names a collection that
	// was never declared in the schema.
	ErrUnknownCollection = errors.New("unknown collection")
)

// Collection names a partition of the local store.
type Collection string

const (
	Products     Collection = "products"
	Clients      Collection = "clients"
	PendingSales Collection = "pending_sales"
	Settings     Collection = "settings"
)

// documentCollections are the collections backed by the generic documents
// table. The sync queue is a dedicated table (see migrations.go) because its
// ordering and coalescing semantics need real SQL columns.
var documentCollections = map[Collection]bool{
	Products:     true,
	Clients:      true,
	PendingSales: true,
	Settings:     true,
}

// execer and rowQuerier are satisfied by both *pgxpool.Pool and pgx.Tx, so
// the same helpers serve standalone and transactional calls.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the handle to the local persistent store. Obtain it once via Open
// at startup and inject it into every component that needs persistence.
type Store struct {
	pool *pgxpool.Pool
}

// Open verifies connectivity and applies any pending schema migrations, then
// returns a ready store handle. It is idempotent: reopening against an
// up-to-date schema is a no-op beyond the version check.
func Open(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s, nil
}

// Pool exposes the underlying connection pool for components that need their
// own SQL (the sync queue service).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Record is one stored document with its primary key.
type Record struct {
	Key string
	Doc []byte
}

// UnmarshalAll decodes a slice of records into typed values.
func UnmarshalAll[T any](recs []Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		var v T
		if err := json.Unmarshal(r.Doc, &v); err != nil {
			return nil, fmt.Errorf("failed to decode record %q: %w", r.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Put upserts a document under (collection, key).
func (s *Store) Put(ctx context.Context, c Collection, key string, doc any) error {
	return putQ(ctx, s.pool, c, key, doc)
}

// PutTx is Put within a caller-provided transaction.
func (s *Store) PutTx(ctx context.Context, tx pgx.Tx, c Collection, key string, doc any) error {
	return putQ(ctx, tx, c, key, doc)
}

func putQ(ctx context.Context, q execer, c Collection, key string, doc any) error {
	if !documentCollections[c] {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, c)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s/%s: %w", c, key, err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO documents (collection, key, doc, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`, string(c), key, body)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", c, key, err)
	}
	return nil
}

// Get reads the document under (collection, key) into out.
func (s *Store) Get(ctx context.Context, c Collection, key string, out any) error {
	return getQ(ctx, s.pool, c, key, out)
}

// GetTx is Get within a caller-provided transaction.
func (s *Store) GetTx(ctx context.Context, tx pgx.Tx, c Collection, key string, out any) error {
	return getQ(ctx, tx, c, key, out)
}

func getQ(ctx context.Context, q rowQuerier, c Collection, key string, out any) error {
	if !documentCollections[c] {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, c)
	}
	var body []byte
	err := q.QueryRow(ctx,
		"SELECT doc FROM documents WHERE collection = $1 AND key = $2",
		string(c), key,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, c, key)
		}
		return fmt.Errorf("failed to read %s/%s: %w", c, key, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", c, key, err)
	}
	return nil
}

// GetAll returns every document in a collection, ordered by key.
func (s *Store) GetAll(ctx context.Context, c Collection) ([]Record, error) {
	if !documentCollections[c] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, c)
	}
	rows, err := s.pool.Query(ctx,
		"SELECT key, doc FROM documents WHERE collection = $1 ORDER BY key",
		string(c),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan collection %s: %w", c, err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Doc); err != nil {
			return nil, fmt.Errorf("failed to scan record in %s: %w", c, err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Search performs a case-insensitive substring match over the named text
// fields of a collection's documents. An empty query returns the whole
// collection; search never fails just because the query is blank.
func (s *Store) Search(ctx context.Context, c Collection, fields []string, query string) ([]Record, error) {
	if !documentCollections[c] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, c)
	}
	query = strings.TrimSpace(query)
	if query == "" || len(fields) == 0 {
		return s.GetAll(ctx, c)
	}

	// Field names come from code-level constants, never from user input.
	conds := make([]string, 0, len(fields))
	for _, f := range fields {
		conds = append(conds, fmt.Sprintf("doc->>'%s' ILIKE $2", f))
	}
	sql := fmt.Sprintf(
		"SELECT key, doc FROM documents WHERE collection = $1 AND (%s) ORDER BY key",
		strings.Join(conds, " OR "),
	)

	rows, err := s.pool.Query(ctx, sql, string(c), "%"+escapeLike(query)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to search collection %s: %w", c, err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Doc); err != nil {
			return nil, fmt.Errorf("failed to scan search hit in %s: %w", c, err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Delete removes the document under (collection, key). Deleting a missing key
// is not an error.
func (s *Store) Delete(ctx context.Context, c Collection, key string) error {
	return deleteQ(ctx, s.pool, c, key)
}

// DeleteTx is Delete within a caller-provided transaction.
func (s *Store) DeleteTx(ctx context.Context, tx pgx.Tx, c Collection, key string) error {
	return deleteQ(ctx, tx, c, key)
}

func deleteQ(ctx context.Context, q execer, c Collection, key string) error {
	if !documentCollections[c] {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, c)
	}
	_, err := q.Exec(ctx,
		"DELETE FROM documents WHERE collection = $1 AND key = $2",
		string(c), key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", c, key, err)
	}
	return nil
}

// Clear removes every document in a collection.
func (s *Store) Clear(ctx context.Context, c Collection) error {
	if !documentCollections[c] {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, c)
	}
	_, err := s.pool.Exec(ctx, "DELETE FROM documents WHERE collection = $1", string(c))
	if err != nil {
		return fmt.Errorf("failed to clear collection %s: %w", c, err)
	}
	return nil
}

// WithTx runs fn inside one store transaction. Every write issued through the
// *Tx method variants lands atomically: if fn returns an error or the commit
// fails, nothing persists and the error is wrapped in ErrTxAborted.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrTxAborted, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return fmt.Errorf("%w: %v", ErrTxAborted, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTxAborted, err)
	}
	return nil
}

// SchemaVersion reports the current schema version of the store.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.pool.QueryRow(ctx, "SELECT version FROM schema_version").Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}
