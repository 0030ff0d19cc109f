package surface

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	cacheEnvVar        = "CHUNKVIEW_CACHE_DIR"
	cacheSubdir        = "chunkview/pdfs"
	defaultCacheTTL    = 24 * time.Hour
	defaultHTTPTimeout = 90 * time.Second
)

// Cache keeps downloaded documents on disk and revalidates them with
// ETag/Last-Modified. Interrupted downloads resume with a Range request.
type Cache struct {
	dir    string
	ttl    time.Duration
	client *http.Client
}

// NewCache creates the cache directory. An empty dir falls back to
// $CHUNKVIEW_CACHE_DIR, then the user cache dir.
func NewCache(dir string, ttl time.Duration, client *http.Client) (*Cache, error) {
	if dir == "" {
		dir = os.Getenv(cacheEnvVar)
	}
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = filepath.Join(os.TempDir(), "chunkview-cache")
		}
		dir = filepath.Join(base, cacheSubdir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if client == nil {
		client = newHTTPClient(defaultHTTPTimeout)
	}
	return &Cache{dir: dir, ttl: ttl, client: client}, nil
}

// Dir returns the directory holding cached documents.
func (c *Cache) Dir() string {
	return c.dir
}

// Fetch returns a local path for the document at docURL, downloading or
// revalidating as needed. A stale copy is served when revalidation fails.
func (c *Cache) Fetch(ctx context.Context, docURL string) (string, error) {
	entry := c.entry(docURL)
	local, hasLocal := entry.local()
	if hasLocal && time.Since(local.ModTime()) < c.ttl {
		return entry.path, nil
	}

	err := c.sync(ctx, entry, hasLocal)
	if err == nil {
		return entry.path, nil
	}
	if hasLocal {
		log.Printf("[cache] serving stale %s: %v", docURL, err)
		return entry.path, nil
	}
	return "", err
}

// sync brings entry up to date with the server. A conditional request is
// only sent when a complete local copy exists to fall back on.
func (c *Cache) sync(ctx context.Context, entry *cacheEntry, conditional bool) error {
	for attempt := 0; attempt < 2; attempt++ {
		req, resumeFrom, err := entry.request(ctx, conditional)
		if err != nil {
			return err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		retry, err := entry.apply(resp, resumeFrom)
		resp.Body.Close()
		if !retry {
			return err
		}
		log.Printf("[cache] restarting download of %s", entry.url)
		entry.reset()
		conditional = false
	}
	return fmt.Errorf("document download failed: %s did not settle", entry.url)
}

// cacheEntry is the on-disk state of one cached document: the completed
// file, an optional partial download and the validators of the last response.
type cacheEntry struct {
	url      string
	path     string
	partial  string
	metaPath string
	meta     cacheMeta
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag"`
	LastModified string    `json:"lastModified"`
	CachedAt     time.Time `json:"cachedAt"`
	Size         int64     `json:"size"`
}

func (c *Cache) entry(docURL string) *cacheEntry {
	base := filepath.Join(c.dir, cacheKey(docURL))
	entry := &cacheEntry{
		url:      docURL,
		path:     base + ".pdf",
		partial:  base + ".part",
		metaPath: base + ".meta",
	}
	if data, err := os.ReadFile(entry.metaPath); err == nil {
		if err := json.Unmarshal(data, &entry.meta); err != nil {
			log.Printf("[cache] ignoring corrupt metadata %s: %v", entry.metaPath, err)
			entry.meta = cacheMeta{}
		}
	}
	return entry
}

// local reports the completed copy, if a non-empty one exists.
func (e *cacheEntry) local() (os.FileInfo, bool) {
	info, err := os.Stat(e.path)
	if err != nil || info.Size() == 0 {
		return nil, false
	}
	return info, true
}

// validator is the value a server compares against to decide whether a
// stored copy or partial download is still current.
func (e *cacheEntry) validator() string {
	if e.meta.ETag != "" {
		return e.meta.ETag
	}
	return e.meta.LastModified
}

func (e *cacheEntry) request(ctx context.Context, conditional bool) (*http.Request, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url, nil)
	if err != nil {
		return nil, 0, err
	}
	if conditional {
		if e.meta.ETag != "" {
			req.Header.Set("If-None-Match", e.meta.ETag)
		}
		if e.meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", e.meta.LastModified)
		}
	}
	var resumeFrom int64
	if info, err := os.Stat(e.partial); err == nil && info.Size() > 0 {
		resumeFrom = info.Size()
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
		if v := e.validator(); v != "" {
			req.Header.Set("If-Range", v)
		}
	}
	return req, resumeFrom, nil
}

// apply stores the outcome of one response. retry asks the caller to start
// over with a plain request.
func (e *cacheEntry) apply(resp *http.Response, resumeFrom int64) (retry bool, err error) {
	switch resp.StatusCode {
	case http.StatusNotModified:
		if _, ok := e.local(); !ok {
			return true, nil
		}
		return false, e.touch()
	case http.StatusOK:
		return false, e.store(resp, false)
	case http.StatusPartialContent:
		if resumeFrom > 0 && !rangeStartsAt(resp.Header.Get("Content-Range"), resumeFrom) {
			return true, nil
		}
		return false, e.store(resp, resumeFrom > 0)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("document download failed: %s (%s)", resp.Status, strings.TrimSpace(string(body)))
	}
}

// touch marks a revalidated copy fresh for another TTL.
func (e *cacheEntry) touch() error {
	now := time.Now()
	_ = os.Chtimes(e.path, now, now)
	e.meta.CachedAt = now.UTC()
	return e.saveMeta()
}

// store streams the body into the partial file and promotes it once
// complete, so a crash never leaves a truncated document at path.
func (e *cacheEntry) store(resp *http.Response, appendPartial bool) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendPartial {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(e.partial, flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(e.partial, e.path); err != nil {
		return err
	}

	e.meta = cacheMeta{
		URL:          resp.Request.URL.String(),
		ETag:         resp.Header.Get("Etag"),
		LastModified: resp.Header.Get("Last-Modified"),
		CachedAt:     time.Now().UTC(),
	}
	if info, err := os.Stat(e.path); err == nil {
		e.meta.Size = info.Size()
	}
	return e.saveMeta()
}

// reset drops the partial download and validators before a fresh request.
func (e *cacheEntry) reset() {
	_ = os.Remove(e.partial)
	e.meta = cacheMeta{}
}

func (e *cacheEntry) saveMeta() error {
	data, err := json.MarshalIndent(e.meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(e.metaPath, data, 0o644)
}

// rangeStartsAt reports whether a Content-Range header continues at offset.
// A missing header is accepted.
func rangeStartsAt(contentRange string, offset int64) bool {
	if contentRange == "" {
		return true
	}
	var start, end int64
	if _, err := fmt.Sscanf(contentRange, "bytes %d-%d", &start, &end); err != nil {
		return false
	}
	return start == offset
}

func cacheKey(docURL string) string {
	if id := arxivIdentifier(docURL); id != "" {
		return sanitizeKey(id)
	}
	sum := sha1.Sum([]byte(docURL))
	return hex.EncodeToString(sum[:])
}

func sanitizeKey(value string) string {
	value = strings.TrimSpace(value)
	value = strings.ReplaceAll(value, "/", "-")
	value = strings.ReplaceAll(value, ":", "-")
	value = strings.ReplaceAll(value, "..", "-")
	return value
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}
