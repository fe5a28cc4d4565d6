// Package assets downloads model files that local backends need before
// they can serve. Fetches are idempotent: a completed download leaves a
// marker file next to the asset, and later fetches are no-ops.
package assets

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Fetcher retrieves a named asset into destDir and returns the local path.
type Fetcher interface {
	Fetch(ctx context.Context, name, destDir string) (string, error)
}

const markerSuffix = ".ok"

// fetched reports whether name was already downloaded into destDir.
func fetched(destDir, name string) (string, bool) {
	path := filepath.Join(destDir, name)
	if _, err := os.Stat(path + markerSuffix); err != nil {
		return path, false
	}
	if _, err := os.Stat(path); err != nil {
		return path, false
	}
	return path, true
}

// markFetched writes the completion marker. The marker goes down last so a
// crash mid-download never leaves a marker without a complete asset.
func markFetched(path string) error {
	return os.WriteFile(path+markerSuffix, []byte(time.Now().UTC().Format(time.RFC3339)), 0o644)
}

// HTTPFetcher downloads assets over plain HTTP(S).
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFetcher creates a fetcher rooted at baseURL.
func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

// Fetch downloads baseURL/name into destDir, skipping if already present.
func (f *HTTPFetcher) Fetch(ctx context.Context, name, destDir string) (string, error) {
	path, done := fetched(destDir, name)
	if done {
		slog.Debug("asset already present", "asset", name, "path", path)
		return path, nil
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create asset dir: %w", err)
	}

	url := f.baseURL + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create asset request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch asset %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch asset %s: status %d", name, resp.StatusCode)
	}

	tmp := path + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create asset file: %w", err)
	}
	n, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("download asset %s: %w", name, err)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("flush asset %s: %w", name, closeErr)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize asset %s: %w", name, err)
	}
	if err := markFetched(path); err != nil {
		return "", fmt.Errorf("mark asset %s: %w", name, err)
	}

	slog.Info("asset downloaded", "asset", name, "bytes", n, "path", path)
	return path, nil
}
