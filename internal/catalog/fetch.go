package catalog

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ai-food-diary/internal/food"
)

// Fetcher downloads calorie table pages.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher. A nil client gets a 15 second timeout.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client}
}

// FetchHTML downloads url and parses its calorie tables with ParseHTML.
func (f *Fetcher) FetchHTML(ctx context.Context, url string) ([]food.NutritionProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}
	return ParseHTML(resp.Body)
}
