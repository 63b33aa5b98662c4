package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fieldops/dayplan/pkg/contracts"
)

// HTTPSupplierLookup calls an external supplier/stock service to resolve
// shortfall items to nearby stores.
type HTTPSupplierLookup struct {
	endpoint string
	client   *http.Client
}

func NewHTTPSupplierLookup(endpoint string) *HTTPSupplierLookup {
	return &HTTPSupplierLookup{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type supplierRequest struct {
	Items []ShortfallItem       `json:"items"`
	Near  contracts.Coordinates `json:"near"`
}

type supplierResponse struct {
	Stores []StoreOffer `json:"stores"`
}

func (c *HTTPSupplierLookup) FindStores(ctx context.Context, items []ShortfallItem, near contracts.Coordinates) ([]StoreOffer, error) {
	jsonBody, err := json.Marshal(supplierRequest{Items: items, Near: near})
	if err != nil {
		return nil, fmt.Errorf("supplier: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("supplier: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supplier: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("supplier: status %d", resp.StatusCode)
	}

	var found supplierResponse
	if err := json.NewDecoder(resp.Body).Decode(&found); err != nil {
		return nil, fmt.Errorf("supplier: decode response: %w", err)
	}
	if len(found.Stores) == 0 {
		return nil, fmt.Errorf("supplier: no stores near %.4f,%.4f", near.Lat, near.Lon)
	}
	return found.Stores, nil
}
