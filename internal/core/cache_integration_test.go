package core_test

import (
	"context"
	"errors"
	"testing"

	"pos-offline/internal/core"
	"pos-offline/internal/store"
)

func TestCacheService_SaveIsUpsertNotReplace(t *testing.T) {
	e, ctx := setupEngine(t)
	defer e.pool.Close()

	if err := e.cache.SaveProducts(ctx, []core.Product{
		{ID: 1, Name: "Blue Pen", UnitPrice: dec("1.50"), StockQuantity: dec("10")},
		{ID: 2, Name: "Red Pencil", UnitPrice: dec("0.80"), StockQuantity: dec("25")},
	}); err != nil {
		t.Fatalf("SaveProducts failed: %v", err)
	}

	// A later batch updates product 1 and omits product 2; the stale entry
	// must survive — the cache never purges on save.
	if err := e.cache.SaveProducts(ctx, []core.Product{
		{ID: 1, Name: "Blue Pen", UnitPrice: dec("1.75"), StockQuantity: dec("8")},
	}); err != nil {
		t.Fatalf("Second SaveProducts failed: %v", err)
	}

	products, err := e.cache.Products(ctx)
	if err != nil {
		t.Fatalf("Products failed: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 cached products, got %d", len(products))
	}

	updated, err := e.cache.Product(ctx, 1)
	if err != nil {
		t.Fatalf("Product failed: %v", err)
	}
	if !updated.UnitPrice.Equal(dec("1.75")) {
		t.Errorf("expected upserted price 1.75, got %s", updated.UnitPrice)
	}
}

func TestCacheService_OfflineSearch(t *testing.T) {
	e, ctx := setupEngine(t)
	defer e.pool.Close()

	if err := e.cache.SaveProducts(ctx, []core.Product{
		{ID: 1, Name: "Blue Ballpoint Pen", Barcode: "890001"},
		{ID: 2, Name: "Red Pencil", Barcode: "890002"},
		{ID: 3, Name: "Stapler", Barcode: "890003"},
	}); err != nil {
		t.Fatalf("SaveProducts failed: %v", err)
	}
	if err := e.cache.SaveClients(ctx, []core.Client{
		{ID: 10, Name: "Acme Corp", Phone: "+880171000001"},
		{ID: 11, Name: "Beta Traders", Phone: "+880171000002"},
	}); err != nil {
		t.Fatalf("SaveClients failed: %v", err)
	}

	hits, err := e.cache.SearchProducts(ctx, "PEN")
	if err != nil {
		t.Fatalf("SearchProducts failed: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("case-insensitive 'PEN' should match Pen and Pencil, got %d", len(hits))
	}

	byBarcode, err := e.cache.SearchProducts(ctx, "890003")
	if err != nil {
		t.Fatalf("Barcode search failed: %v", err)
	}
	if len(byBarcode) != 1 || byBarcode[0].Name != "Stapler" {
		t.Errorf("expected Stapler by barcode, got %+v", byBarcode)
	}

	// Empty query returns the whole cached set.
	all, err := e.cache.SearchProducts(ctx, "")
	if err != nil {
		t.Fatalf("Empty-query search failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected full set for empty query, got %d", len(all))
	}

	byPhone, err := e.cache.SearchClients(ctx, "000002")
	if err != nil {
		t.Fatalf("SearchClients failed: %v", err)
	}
	if len(byPhone) != 1 || byPhone[0].Name != "Beta Traders" {
		t.Errorf("expected Beta Traders by phone fragment, got %+v", byPhone)
	}
}

func TestCacheService_SettingsSingleton(t *testing.T) {
	e, ctx := setupEngine(t)
	defer e.pool.Close()

	if _, err := e.cache.Settings(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound before first save, got %v", err)
	}

	if err := e.cache.SaveSettings(ctx, core.Settings{
		StoreName: "Nine Mart", CurrencyCode: "BDT", ReceiptFooter: "Thank you!",
	}); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
	if err := e.cache.SaveSettings(ctx, core.Settings{
		StoreName: "Nine Mart", CurrencyCode: "USD", ReceiptFooter: "Thank you!",
	}); err != nil {
		t.Fatalf("Second SaveSettings failed: %v", err)
	}

	settings, err := e.cache.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if settings.CurrencyCode != "USD" {
		t.Errorf("expected latest settings, got %+v", settings)
	}
	if settings.RefreshedAt.IsZero() {
		t.Error("refresh timestamp not stamped")
	}
}

type staticSource struct {
	products []core.Product
	clients  []core.Client
	settings core.Settings
}

func (s *staticSource) FetchProducts(context.Context) ([]core.Product, error) {
	return s.products, nil
}
func (s *staticSource) FetchClients(context.Context) ([]core.Client, error) {
	return s.clients, nil
}
func (s *staticSource) FetchSettings(context.Context) (*core.Settings, error) {
	cfg := s.settings
	return &cfg, nil
}

func TestCacheService_RefreshAll(t *testing.T) {
	e, ctx := setupEngine(t)
	defer e.pool.Close()

	src := &staticSource{
		products: []core.Product{{ID: 1, Name: "Blue Pen", UnitPrice: dec("1.50")}},
		clients:  []core.Client{{ID: 10, Name: "Acme Corp"}},
		settings: core.Settings{StoreName: "Nine Mart", CurrencyCode: "BDT"},
	}
	if err := e.cache.RefreshAll(ctx, src); err != nil {
		t.Fatalf("RefreshAll failed: %v", err)
	}

	products, err := e.cache.Products(ctx)
	if err != nil {
		t.Fatalf("Products failed: %v", err)
	}
	clients, err := e.cache.Clients(ctx)
	if err != nil {
		t.Fatalf("Clients failed: %v", err)
	}
	settings, err := e.cache.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if len(products) != 1 || len(clients) != 1 || settings.StoreName != "Nine Mart" {
		t.Errorf("refresh did not land: %d products, %d clients, %+v", len(products), len(clients), settings)
	}
}
