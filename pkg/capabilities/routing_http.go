package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPRoutingSolver calls an external vehicle-routing service. The solver's
// step order is authoritative; the route stage never reorders it.
type HTTPRoutingSolver struct {
	endpoint string
	client   *http.Client
}

func NewHTTPRoutingSolver(endpoint string) *HTTPRoutingSolver {
	return &HTTPRoutingSolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type solveRequest struct {
	Stops   []Stop  `json:"stops"`
	Vehicle Vehicle `json:"vehicle"`
}

type solveResponse struct {
	Code  string    `json:"code"` // "ok" or an error code such as "infeasible"
	Error string    `json:"error,omitempty"`
	Route RoutePlan `json:"route"`
}

func (c *HTTPRoutingSolver) Solve(ctx context.Context, stops []Stop, vehicle Vehicle) (*RoutePlan, error) {
	jsonBody, err := json.Marshal(solveRequest{Stops: stops, Vehicle: vehicle})
	if err != nil {
		return nil, fmt.Errorf("routing: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("routing: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("routing: status %d", resp.StatusCode)
	}

	var solved solveResponse
	if err := json.NewDecoder(resp.Body).Decode(&solved); err != nil {
		return nil, fmt.Errorf("routing: decode response: %w", err)
	}
	if solved.Code != "ok" {
		if solved.Error != "" {
			return nil, fmt.Errorf("routing: solver rejected request: %s", solved.Error)
		}
		return nil, fmt.Errorf("routing: solver rejected request: %s", solved.Code)
	}
	if len(solved.Route.Steps) == 0 {
		return nil, fmt.Errorf("routing: solver returned no steps")
	}
	return &solved.Route, nil
}
