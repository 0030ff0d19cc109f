package surface

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

func TestCacheReusesFreshFile(t *testing.T) {
	t.Setenv(cacheEnvVar, t.TempDir())

	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Etag", `"v1"`)
		_, _ = w.Write([]byte("%PDF-1.4\nHello"))
	}))
	t.Cleanup(server.Close)

	cache, err := NewCache("", 0, server.Client())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	ctx := context.Background()

	path, err := cache.Fetch(ctx, server.URL+"/docs/report.pdf")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("cached file missing: %v", err)
	}
	path2, err := cache.Fetch(ctx, server.URL+"/docs/report.pdf")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if path != path2 {
		t.Fatalf("paths differ: %s vs %s", path, path2)
	}
	if hits != 1 {
		t.Fatalf("cache miss triggered download, total hits %d", hits)
	}
}

func TestCacheRevalidatesStaleFile(t *testing.T) {
	var conditional string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inm := r.Header.Get("If-None-Match"); inm != "" {
			conditional = inm
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Etag", `"v2"`)
		_, _ = w.Write([]byte("%PDF-1.4\nUpdated"))
	}))
	t.Cleanup(server.Close)

	cache, err := NewCache(t.TempDir(), time.Hour, server.Client())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	ctx := context.Background()
	path, err := cache.Fetch(ctx, server.URL+"/a.pdf")
	if err != nil {
		t.Fatalf("initial fetch: %v", err)
	}

	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if _, err := cache.Fetch(ctx, server.URL+"/a.pdf"); err != nil {
		t.Fatalf("conditional fetch: %v", err)
	}
	if conditional != `"v2"` {
		t.Fatalf("expected If-None-Match with stored etag, got %q", conditional)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if time.Since(info.ModTime()) > time.Minute {
		t.Fatal("304 should refresh the cached file's timestamp")
	}
}

func TestCacheResumesPartialDownload(t *testing.T) {
	var rangeHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader = r.Header.Get("Range")
		w.Header().Set("Etag", `"resume"`)
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("world"))
	}))
	t.Cleanup(server.Close)

	cache, err := NewCache(t.TempDir(), 0, server.Client())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	docURL := server.URL + "/resume.pdf"
	entry := cache.entry(docURL)
	docPath, partPath := entry.path, entry.partial
	if err := os.WriteFile(partPath, []byte("hello "), 0o644); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	entry.meta = cacheMeta{ETag: `"resume"`}
	if err := entry.saveMeta(); err != nil {
		t.Fatalf("write meta: %v", err)
	}

	path, err := cache.Fetch(context.Background(), docURL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if path != docPath {
		t.Fatalf("unexpected path: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read cached doc: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("resume failed, got %q", string(data))
	}
	if rangeHeader != fmt.Sprintf("bytes=%d-", len("hello ")) {
		t.Fatalf("expected range header, got %q", rangeHeader)
	}
	if _, err := os.Stat(partPath); !os.IsNotExist(err) {
		t.Fatalf("partial file should be gone, err=%v", err)
	}
}

func TestCacheRestartsWhenRangeDoesNotContinue(t *testing.T) {
	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Header.Get("Range"))
		if r.Header.Get("Range") != "" {
			w.Header().Set("Content-Range", "bytes 0-10/11")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte("fresh bytes"))
			return
		}
		_, _ = w.Write([]byte("%PDF-1.4\nNew"))
	}))
	t.Cleanup(server.Close)

	cache, err := NewCache(t.TempDir(), 0, server.Client())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	docURL := server.URL + "/moved.pdf"
	entry := cache.entry(docURL)
	if err := os.WriteFile(entry.partial, []byte("old "), 0o644); err != nil {
		t.Fatalf("write partial: %v", err)
	}

	path, err := cache.Fetch(context.Background(), docURL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read cached doc: %v", err)
	}
	if string(data) != "%PDF-1.4\nNew" {
		t.Fatalf("expected a clean download, got %q", string(data))
	}
	if len(requests) != 2 || requests[0] != "bytes=4-" || requests[1] != "" {
		t.Fatalf("expected a ranged request then a plain one, got %q", requests)
	}
}

func TestRangeStartsAt(t *testing.T) {
	t.Parallel()
	tests := []struct {
		header string
		offset int64
		want   bool
	}{
		{"", 6, true},
		{"bytes 6-10/11", 6, true},
		{"bytes 0-10/11", 6, false},
		{"bytes */11", 6, false},
	}
	for _, tt := range tests {
		if got := rangeStartsAt(tt.header, tt.offset); got != tt.want {
			t.Fatalf("rangeStartsAt(%q, %d) = %v, want %v", tt.header, tt.offset, got, tt.want)
		}
	}
}

func TestCacheServesStaleCopyWhenServerFails(t *testing.T) {
	fail := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("%PDF-1.4\nOK"))
	}))
	t.Cleanup(server.Close)

	cache, err := NewCache(t.TempDir(), time.Minute, server.Client())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	path, err := cache.Fetch(context.Background(), server.URL+"/s.pdf")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	_ = os.Chtimes(path, old, old)
	fail = true

	stale, err := cache.Fetch(context.Background(), server.URL+"/s.pdf")
	if err != nil {
		t.Fatalf("expected stale copy, got %v", err)
	}
	if stale != path {
		t.Fatalf("unexpected stale path %s", stale)
	}
}

func TestCacheReportsDownloadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	cache, err := NewCache(t.TempDir(), 0, server.Client())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	_, err = cache.Fetch(context.Background(), server.URL+"/nope.pdf")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

func TestCacheKey(t *testing.T) {
	t.Parallel()
	if got := cacheKey("https://arxiv.org/pdf/2101.00001v2.pdf"); got != "2101.00001v2" {
		t.Fatalf("arxiv key = %q", got)
	}
	if got := cacheKey("https://arxiv.org/abs/hep-th/9901001"); got != "hep-th-9901001" {
		t.Fatalf("old-style key = %q", got)
	}
	key := cacheKey("https://example.com/paper.pdf")
	if len(key) != 40 || strings.ContainsAny(key, "/:") {
		t.Fatalf("expected sha1 hex key, got %q", key)
	}
}
