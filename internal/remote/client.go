// Package remote implements the HTTP client for the reconciliation backend.
// It is the only place in the engine that touches the network; everything
// else consumes it through the narrow interfaces in internal/core.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"pos-offline/internal/core"
)

type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the given base URL. An empty baseURL falls
// back to the SYNC_API_BASE_URL environment variable.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("SYNC_API_BASE_URL")
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("remote API base URL not configured")
	}

	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response of %s %s: %w", method, path, err)
		}
	}
	return nil
}

// ── Sync action endpoints ────────────────────────────────────────────────────

// CreateSale submits a new sale; the backend deduplicates by the payload's
// temp_id and returns the server-assigned id either way.
func (c *Client) CreateSale(ctx context.Context, p core.CreateSalePayload) (int64, error) {
	var result struct {
		ID int64 `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/sync/sales", p, &result); err != nil {
		return 0, err
	}
	return result.ID, nil
}

func (c *Client) UpdateSale(ctx context.Context, p core.UpdateSalePayload) error {
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/api/sync/sales/%d", p.ServerID), p, nil)
}

func (c *Client) DeleteSale(ctx context.Context, p core.DeleteSalePayload) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/sync/sales/%d", p.ServerID), p, nil)
}

func (c *Client) UpdateProductStock(ctx context.Context, p core.StockAdjustmentPayload) error {
	return c.doJSON(ctx, http.MethodPost, "/api/sync/stock-adjustments", p, nil)
}

// ── Reference data endpoints ─────────────────────────────────────────────────

func (c *Client) FetchProducts(ctx context.Context) ([]core.Product, error) {
	var products []core.Product
	if err := c.doJSON(ctx, http.MethodGet, "/api/products", nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (c *Client) FetchClients(ctx context.Context) ([]core.Client, error) {
	var clients []core.Client
	if err := c.doJSON(ctx, http.MethodGet, "/api/clients", nil, &clients); err != nil {
		return nil, err
	}
	return clients, nil
}

func (c *Client) FetchSettings(ctx context.Context) (*core.Settings, error) {
	var settings core.Settings
	if err := c.doJSON(ctx, http.MethodGet, "/api/settings", nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}
