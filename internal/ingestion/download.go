package ingestion

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/landregistry/inspire-reconciler/internal/errors"
)

// userAgentPool is the small pool of identifying headers the automated
// browsing agent rotates through (§4.2 step 3: "randomises its identifying
// header from a small pool").
var userAgentPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// Downloader fetches council archives, rate-limited the way CatalogueClient
// throttles the ownership catalogue.
type Downloader struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewDownloader creates a Downloader. requestsPerSecond <= 0 defaults to 1,
// a conservative rate for an unauthenticated public index.
func NewDownloader(requestsPerSecond int) *Downloader {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return &Downloader{
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
		rateLimiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// Fetch downloads url to destPath, creating destPath's directory as needed
// (§4.2 step 3: "saves the archive under a filename derived from the
// council name").
func (d *Downloader) Fetch(ctx context.Context, url, destPath string) error {
	if err := d.rateLimiter.Wait(ctx); err != nil {
		return errors.TransientError(err, "download rate limiter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.InternalError("building archive download request: " + err.Error())
	}
	req.Header.Set("User-Agent", userAgentPool[rand.Intn(len(userAgentPool))])

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return errors.NetworkError(err, "downloading council archive")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.ErrorTypeExternal, errors.SeverityHigh,
			fmt.Sprintf("downloading %s: status %d", url, resp.StatusCode))
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return errors.FileSystemError(err, "creating download directory")
	}
	tmp := destPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.FileSystemError(err, "creating archive file")
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.FileSystemError(err, "writing archive file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.FileSystemError(err, "closing archive file")
	}
	if err := os.Rename(tmp, destPath); err != nil {
		return errors.FileSystemError(err, "finalising archive file")
	}
	return nil
}
