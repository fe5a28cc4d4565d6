package assets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestHTTPFetcherDownloadsAndMarks(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/model.bin" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("weights"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewHTTPFetcher(srv.URL)

	path, err := f.Fetch(context.Background(), "model.bin", dir)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "weights" {
		t.Fatalf("asset content = %q", data)
	}
	if _, err := os.Stat(path + markerSuffix); err != nil {
		t.Fatalf("marker missing: %v", err)
	}

	// second fetch is a no-op
	if _, err := f.Fetch(context.Background(), "model.bin", dir); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Fatalf("server hit %d times, want 1", hits.Load())
	}
}

func TestHTTPFetcherErrorLeavesNoMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewHTTPFetcher(srv.URL)

	if _, err := f.Fetch(context.Background(), "model.bin", dir); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(filepath.Join(dir, "model.bin"+markerSuffix)); !os.IsNotExist(err) {
		t.Fatal("marker written on failed fetch")
	}
}

func TestMarkerWithoutAssetIsNotFetched(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "m.bin"+markerSuffix), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, done := fetched(dir, "m.bin"); done {
		t.Fatal("marker without asset counted as fetched")
	}
}
