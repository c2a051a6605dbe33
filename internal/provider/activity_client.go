package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/notifyhub/activity-relay/internal/domain"
)

// ActivityClient reads activity detail from the upstream REST API.
// The base URL is injected from config so tests can point to a local mock.
type ActivityClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewActivityClient(baseURL string, timeout time.Duration) *ActivityClient {
	return &ActivityClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchActivity GETs /activities/{id} with the member's bearer token.
func (c *ActivityClient) FetchActivity(ctx context.Context, itemID, token string) (*domain.Activity, error) {
	endpoint := c.baseURL + "/activities/" + url.PathEscape(itemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch activity: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("activity %s: %w", itemID, domain.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("activity %s: %w", itemID, domain.ErrUnauthorized)
	default:
		return nil, fmt.Errorf("unexpected upstream status: %d", resp.StatusCode)
	}

	var a domain.Activity
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode activity: %w", err)
	}
	return &a, nil
}

// compile-time check that ActivityClient implements ActivityFetcher
var _ ActivityFetcher = (*ActivityClient)(nil)
