package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"pos-offline/internal/store"
)

// ReferenceSource delivers fresh reference data from the remote backend.
// It is only consulted by RefreshAll; every other cache operation works
// purely against the local snapshot.
type ReferenceSource interface {
	FetchProducts(ctx context.Context) ([]Product, error)
	FetchClients(ctx context.Context) ([]Client, error)
	FetchSettings(ctx context.Context) (*Settings, error)
}

// CacheService maintains the read-mostly local mirrors of products, clients
// and settings. Saves are upserts keyed by server id and never delete records
// absent from a batch; the mirrors are a display and search aid, not the
// source of truth.
type CacheService interface {
	SaveProducts(ctx context.Context, products []Product) error
	SaveClients(ctx context.Context, clients []Client) error
	SaveSettings(ctx context.Context, s Settings) error

	Products(ctx context.Context) ([]Product, error)
	Clients(ctx context.Context) ([]Client, error)
	Product(ctx context.Context, id int64) (*Product, error)
	Settings(ctx context.Context) (*Settings, error)

	// SearchProducts and SearchClients match case-insensitive substrings over
	// the configured text fields of the local snapshot. An empty query
	// returns the full cached set; search never fails on a blank query.
	SearchProducts(ctx context.Context, query string) ([]Product, error)
	SearchClients(ctx context.Context, query string) ([]Client, error)

	// RefreshAll pulls current products, clients and settings from the remote
	// backend and upserts them locally.
	RefreshAll(ctx context.Context, src ReferenceSource) error

	// DeductStockTx lowers the cached stock figure of a product within a
	// caller-provided transaction, so the snapshot stays usable for quantity
	// validation while offline. Unknown products are skipped.
	DeductStockTx(ctx context.Context, tx pgx.Tx, productID int64, qty decimal.Decimal) error
}

type cacheService struct {
	store *store.Store
}

func NewCacheService(st *store.Store) CacheService {
	return &cacheService{store: st}
}

func productKey(id int64) string { return strconv.FormatInt(id, 10) }
func clientKey(id int64) string  { return strconv.FormatInt(id, 10) }

func (s *cacheService) SaveProducts(ctx context.Context, products []Product) error {
	return s.store.WithTx(ctx, func(tx pgx.Tx) error {
		for _, p := range products {
			if err := s.store.PutTx(ctx, tx, store.Products, productKey(p.ID), p); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *cacheService) SaveClients(ctx context.Context, clients []Client) error {
	return s.store.WithTx(ctx, func(tx pgx.Tx) error {
		for _, c := range clients {
			if err := s.store.PutTx(ctx, tx, store.Clients, clientKey(c.ID), c); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *cacheService) SaveSettings(ctx context.Context, settings Settings) error {
	settings.RefreshedAt = time.Now().UTC()
	return s.store.Put(ctx, store.Settings, SettingsKey, settings)
}

func (s *cacheService) Products(ctx context.Context) ([]Product, error) {
	recs, err := s.store.GetAll(ctx, store.Products)
	if err != nil {
		return nil, err
	}
	return store.UnmarshalAll[Product](recs)
}

func (s *cacheService) Clients(ctx context.Context) ([]Client, error) {
	recs, err := s.store.GetAll(ctx, store.Clients)
	if err != nil {
		return nil, err
	}
	return store.UnmarshalAll[Client](recs)
}

func (s *cacheService) Product(ctx context.Context, id int64) (*Product, error) {
	var p Product
	if err := s.store.Get(ctx, store.Products, productKey(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *cacheService) Settings(ctx context.Context) (*Settings, error) {
	var cfg Settings
	if err := s.store.Get(ctx, store.Settings, SettingsKey, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *cacheService) SearchProducts(ctx context.Context, query string) ([]Product, error) {
	recs, err := s.store.Search(ctx, store.Products, []string{"name", "barcode", "category"}, query)
	if err != nil {
		return nil, err
	}
	return store.UnmarshalAll[Product](recs)
}

func (s *cacheService) SearchClients(ctx context.Context, query string) ([]Client, error) {
	recs, err := s.store.Search(ctx, store.Clients, []string{"name", "phone"}, query)
	if err != nil {
		return nil, err
	}
	return store.UnmarshalAll[Client](recs)
}

func (s *cacheService) DeductStockTx(ctx context.Context, tx pgx.Tx, productID int64, qty decimal.Decimal) error {
	var p Product
	err := s.store.GetTx(ctx, tx, store.Products, productKey(productID), &p)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	p.StockQuantity = p.StockQuantity.Sub(qty)
	return s.store.PutTx(ctx, tx, store.Products, productKey(productID), p)
}

func (s *cacheService) RefreshAll(ctx context.Context, src ReferenceSource) error {
	products, err := src.FetchProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch products: %w", err)
	}
	if err := s.SaveProducts(ctx, products); err != nil {
		return err
	}

	clients, err := src.FetchClients(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch clients: %w", err)
	}
	if err := s.SaveClients(ctx, clients); err != nil {
		return err
	}

	settings, err := src.FetchSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch settings: %w", err)
	}
	return s.SaveSettings(ctx, *settings)
}
