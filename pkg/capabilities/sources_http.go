package capabilities

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fieldops/dayplan/pkg/contracts"
)

// HTTPSources reads jobs, preferences, and stock levels from the product
// backend. All three endpoints are plain GET + JSON.
type HTTPSources struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSources(baseURL string) *HTTPSources {
	return &HTTPSources{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPSources) JobsByID(ctx context.Context, jobIDs []string) ([]contracts.Job, error) {
	u := fmt.Sprintf("%s/jobs?ids=%s", s.baseURL, url.QueryEscape(strings.Join(jobIDs, ",")))
	var jobs []contracts.Job
	if err := s.getJSON(ctx, u, &jobs); err != nil {
		return nil, fmt.Errorf("job source: %w", err)
	}
	return jobs, nil
}

func (s *HTTPSources) PreferencesFor(ctx context.Context, userID string) (contracts.PlanningPreferences, error) {
	u := fmt.Sprintf("%s/users/%s/preferences", s.baseURL, url.PathEscape(userID))
	var prefs contracts.PlanningPreferences
	if err := s.getJSON(ctx, u, &prefs); err != nil {
		return contracts.PlanningPreferences{}, fmt.Errorf("preference source: %w", err)
	}
	return prefs, nil
}

func (s *HTTPSources) OnHand(ctx context.Context, userID string) (map[string]int, error) {
	u := fmt.Sprintf("%s/users/%s/stock", s.baseURL, url.PathEscape(userID))
	var stock map[string]int
	if err := s.getJSON(ctx, u, &stock); err != nil {
		return nil, fmt.Errorf("stock source: %w", err)
	}
	return stock, nil
}

func (s *HTTPSources) getJSON(ctx context.Context, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d from %s", resp.StatusCode, u)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
