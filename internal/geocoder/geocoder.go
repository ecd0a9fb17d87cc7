// Package geocoder provides a best-effort address-to-coordinate lookup used
// by the Match Classifier's Moved fallback (§4.3.1). An empty API key
// disables the feature entirely rather than erroring, per §6.
package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/landregistry/inspire-reconciler/internal/errors"
	"github.com/landregistry/inspire-reconciler/internal/logging"
)

// Candidate is one geocoded location for an address.
type Candidate struct {
	Lat float64
	Lng float64
}

// Client geocodes an address to zero or more candidate coordinates.
type Client interface {
	Geocode(ctx context.Context, address string) ([]Candidate, error)
}

// HTTPClient is the default Client, backed by an external geocoding
// provider API and rate-limited to stay under the provider's quota.
type HTTPClient struct {
	httpClient  *http.Client
	providerURL string
	apiKey      string
	rateLimiter *rate.Limiter
	cache       *Cache // optional; nil disables caching
}

// New creates an HTTPClient. If apiKey is empty, Geocode always returns no
// candidates without making a network call, which gates the Moved tag off.
func New(providerURL, apiKey string, requestsPerSecond int, cache *Cache) *HTTPClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &HTTPClient{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		providerURL: providerURL,
		apiKey:      apiKey,
		rateLimiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		cache:       cache,
	}
}

type geocodeResponse struct {
	Results []struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"results"`
}

// Geocode looks up an address, consulting the cache first when configured.
func (c *HTTPClient) Geocode(ctx context.Context, address string) ([]Candidate, error) {
	if c.apiKey == "" || c.providerURL == "" {
		return nil, nil
	}

	if c.cache != nil {
		if candidates, hit, err := c.cache.Get(ctx, address); err == nil && hit {
			return candidates, nil
		}
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, errors.TransientError(err, "geocoder rate limiter")
	}

	reqURL := fmt.Sprintf("%s?address=%s&key=%s", c.providerURL, url.QueryEscape(address), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.InternalErrorf("building geocoder request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.TransientError(err, "geocoder request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, errors.TransientErrorf(fmt.Errorf("status %d", resp.StatusCode), "geocoder rate-limited or unavailable")
	}
	if resp.StatusCode != http.StatusOK {
		logging.Warn("geocoder non-200 response", "status", resp.StatusCode, "address", address)
		return nil, nil
	}

	var parsed geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.DataRowError(err, "decoding geocoder response")
	}

	candidates := make([]Candidate, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		candidates = append(candidates, Candidate{Lat: r.Lat, Lng: r.Lng})
	}

	if c.cache != nil {
		_ = c.cache.Set(ctx, address, candidates)
	}

	return candidates, nil
}
