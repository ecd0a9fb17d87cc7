// Package ownership implements the Ownership Updater (§4.1): it polls the
// upstream ownership catalogue for CCOD/OCOD snapshot and change-only
// files, streams each as CSV, and applies deletions then upserts to the
// Ownership table in chunks sized to stay below the store's packet-size
// limit.
package ownership

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/landregistry/inspire-reconciler/internal/errors"
)

// FileKind distinguishes the two change-only datasets the upstream
// publishes monthly.
type FileKind string

const (
	KindCCOD FileKind = "CCOD" // UK companies
	KindOCOD FileKind = "OCOD" // overseas companies
)

// CatalogueEntry is one downloadable file the upstream catalogue lists.
type CatalogueEntry struct {
	Kind            FileKind
	PublicationDate time.Time
	DownloadURL     string
	IsFullSnapshot  bool
}

// CatalogueClient polls the upstream's JSON catalogue API, rate-limited to
// stay under the upstream's request quota.
type CatalogueClient struct {
	httpClient   *http.Client
	catalogueURL string
	apiKey       string
	rateLimiter  *rate.Limiter
}

// NewCatalogueClient creates a CatalogueClient. requestsPerSecond <= 0
// defaults to a conservative 2 requests/sec.
func NewCatalogueClient(catalogueURL, apiKey string, requestsPerSecond int) *CatalogueClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	return &CatalogueClient{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		catalogueURL: catalogueURL,
		apiKey:       apiKey,
		rateLimiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

type catalogueResponse struct {
	Files []struct {
		Kind            string `json:"kind"`
		PublicationDate string `json:"publication_date"` // YYYY-MM-DD
		DownloadURL     string `json:"download_url"`
		FullSnapshot    bool   `json:"full_snapshot"`
	} `json:"files"`
}

// ListFiles returns every file the catalogue currently publishes, in no
// particular order; callers filter/sort as needed.
func (c *CatalogueClient) ListFiles(ctx context.Context) ([]CatalogueEntry, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, errors.TransientError(err, "catalogue rate limiter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.catalogueURL, nil)
	if err != nil {
		return nil, errors.InternalError("building catalogue request: " + err.Error())
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.TransientError(err, "catalogue request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, errors.TransientErrorf(fmt.Errorf("status %d", resp.StatusCode), "catalogue rate-limited or unavailable")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.ExternalErrorf(fmt.Errorf("status %d", resp.StatusCode), "catalogue returned non-200")
	}

	var parsed catalogueResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.DataRowError(err, "decoding catalogue response")
	}

	entries := make([]CatalogueEntry, 0, len(parsed.Files))
	for _, f := range parsed.Files {
		date, err := time.Parse("2006-01-02", f.PublicationDate)
		if err != nil {
			continue // malformed catalogue row: skip rather than abort the whole listing
		}
		var kind FileKind
		switch f.Kind {
		case string(KindCCOD):
			kind = KindCCOD
		case string(KindOCOD):
			kind = KindOCOD
		default:
			continue
		}
		entries = append(entries, CatalogueEntry{
			Kind:            kind,
			PublicationDate: date,
			DownloadURL:     f.DownloadURL,
			IsFullSnapshot:  f.FullSnapshot,
		})
	}
	return entries, nil
}

// ChangeFilesAfter returns non-full-snapshot entries published strictly
// after `after`, sorted ascending by publication date (§4.1: "sort
// ascending by date").
func ChangeFilesAfter(entries []CatalogueEntry, after time.Time) []CatalogueEntry {
	var out []CatalogueEntry
	for _, e := range entries {
		if !e.IsFullSnapshot && e.PublicationDate.After(after) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PublicationDate.Before(out[j].PublicationDate)
	})
	return out
}

// FullSnapshot returns the full-snapshot entry, if the catalogue lists one.
func FullSnapshot(entries []CatalogueEntry) (CatalogueEntry, bool) {
	for _, e := range entries {
		if e.IsFullSnapshot {
			return e, true
		}
	}
	return CatalogueEntry{}, false
}
