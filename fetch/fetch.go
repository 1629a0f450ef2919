// Package fetch retrieves recipe pages through the two-tier cache: memory
// first, then disk, then the network. Concurrent fetches of the same URL are
// collapsed into a single request, and fetched pages are written back
// through both tiers.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	shoplist "github.com/shoplist-ai/shoplist"
	"github.com/shoplist-ai/shoplist/cache"
	"github.com/shoplist-ai/shoplist/htmlclean"
	"github.com/shoplist-ai/shoplist/storage"
	"github.com/shoplist-ai/shoplist/telemetry"
)

const defaultUserAgent = "Mozilla/5.0 (compatible; shoplist/1.0; +https://github.com/shoplist-ai/shoplist)"

// Config configures a Fetcher.
type Config struct {
	// Timeout bounds each network fetch. Default: 30s.
	Timeout time.Duration

	// MaxContentSize rejects oversized pages. Default: 10 MiB.
	MaxContentSize int64

	// UserAgent sent with each request.
	UserAgent string

	// CleanedContentLimit bounds the reduced HTML handed to the model.
	// Default: 100000 bytes.
	CleanedContentLimit int

	// HTTPClient overrides the default client. Optional.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		MaxContentSize:      10 << 20,
		UserAgent:           defaultUserAgent,
		CleanedContentLimit: 100000,
		Logger:              slog.Default(),
	}
}

// Result is one fetched page.
type Result struct {
	URL        string
	Content    string
	StatusCode int
	FetchedAt  time.Time
	Size       int64

	// Provenance records which tier served the content: memory, disk, or
	// empty for a fresh network fetch.
	Provenance shoplist.Provenance
}

// FromCache reports whether the content came from either cache tier.
func (r *Result) FromCache() bool { return r.Provenance != shoplist.ProvenanceNone }

// Fetcher retrieves pages with read-through caching over both tiers.
type Fetcher struct {
	cfg     Config
	hc      *http.Client
	cache   *cache.Manager
	storage *storage.Manager
	group   singleflight.Group
	logger  *slog.Logger

	now func() time.Time
}

// New creates a Fetcher over the given cache tiers. Either tier may be nil
// when that tier is disabled.
func New(cfg Config, memory *cache.Manager, disk *storage.Manager) *Fetcher {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxContentSize <= 0 {
		cfg.MaxContentSize = def.MaxContentSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.CleanedContentLimit <= 0 {
		cfg.CleanedContentLimit = def.CleanedContentLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: telemetry.NewInstrumentedTransport(nil, "web"),
		}
	}
	return &Fetcher{
		cfg:     cfg,
		hc:      hc,
		cache:   memory,
		storage: disk,
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

// Fetch returns the page at url, serving from memory, then disk, then the
// network. Concurrent calls for the same URL share one network fetch, and a
// caller whose context expires stops waiting without cancelling the fetch
// for the others.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	if r := f.fromMemory(ctx, url); r != nil {
		return r, nil
	}
	if r, err := f.fromDisk(ctx, url); err != nil {
		return nil, err
	} else if r != nil {
		return r, nil
	}

	ch := f.group.DoChan(url, func() (any, error) {
		// Detached context so one caller's cancellation does not stop the
		// fetch for other waiters.
		return f.fetchAndStore(context.WithoutCancel(ctx), url)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			f.group.Forget(url)
			return nil, res.Err
		}
		return res.Val.(*Result), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FetchCleaned fetches a page and reduces it to model-ready content.
func (f *Fetcher) FetchCleaned(ctx context.Context, url string) (*Result, string, error) {
	r, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, "", err
	}
	return r, htmlclean.Reduce(r.Content, f.cfg.CleanedContentLimit), nil
}

func (f *Fetcher) fromMemory(ctx context.Context, url string) *Result {
	if f.cache == nil {
		return nil
	}
	entry := f.cache.Load(url, shoplist.AliasSource)
	telemetry.RecordCacheLookup(ctx, "memory", entry != nil)
	if entry == nil {
		return nil
	}

	content, ok := entry.Data.(string)
	if !ok {
		return nil
	}
	f.logger.Debug("serving cached content", "url", url, "tier", "memory")
	return &Result{
		URL:        url,
		Content:    content,
		StatusCode: http.StatusOK,
		FetchedAt:  entry.Timestamp,
		Size:       entry.DataSize,
		Provenance: shoplist.ProvenanceMemory,
	}
}

func (f *Fetcher) fromDisk(ctx context.Context, url string) (*Result, error) {
	if f.storage == nil {
		return nil, nil
	}

	start := f.now()
	rec, err := f.storage.Load(url, shoplist.AliasSource)
	if err != nil {
		telemetry.RecordStorageOp(ctx, "load", "error", f.now().Sub(start), 0)
		return nil, fmt.Errorf("loading %s from disk: %w", url, err)
	}
	telemetry.RecordCacheLookup(ctx, "disk", rec != nil)
	if rec == nil {
		return nil, nil
	}
	telemetry.RecordStorageOp(ctx, "load", "success", f.now().Sub(start), rec.Metadata.DataSize)

	content, ok := rec.Data.(string)
	if !ok {
		return nil, nil
	}

	// Promote to memory; the disk provenance keeps it from being written
	// back out to disk.
	if f.cache != nil {
		f.cache.Save(url, content, shoplist.AliasSource, shoplist.FormatHTML,
			cache.WithProvenance(shoplist.ProvenanceDisk))
	}

	f.logger.Debug("serving cached content", "url", url, "tier", "disk")
	return &Result{
		URL:        url,
		Content:    content,
		StatusCode: http.StatusOK,
		FetchedAt:  rec.Metadata.Timestamp,
		Size:       rec.Metadata.DataSize,
		Provenance: shoplist.ProvenanceDisk,
	}, nil
}

// fetchAndStore performs the network fetch and writes the page back through
// both tiers.
func (f *Fetcher) fetchAndStore(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}
	if resp.ContentLength > f.cfg.MaxContentSize {
		return nil, fmt.Errorf("fetching %s: content too large: %d bytes (max %d)",
			url, resp.ContentLength, f.cfg.MaxContentSize)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxContentSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	if int64(len(body)) > f.cfg.MaxContentSize {
		return nil, fmt.Errorf("fetching %s: content too large: exceeds %d bytes", url, f.cfg.MaxContentSize)
	}

	// The URL after any redirects, which may differ from the cache key.
	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	content := string(body)
	fetchedAt := f.now()

	if f.cache != nil {
		f.cache.Save(url, content, shoplist.AliasSource, shoplist.FormatHTML)
	}
	if f.storage != nil {
		start := f.now()
		if _, err := f.storage.Save(url, content, shoplist.AliasSource, shoplist.FormatHTML); err != nil {
			telemetry.RecordStorageOp(ctx, "save", "error", f.now().Sub(start), 0)
			f.logger.Warn("persisting fetched page failed", "url", url, "error", err)
		} else {
			telemetry.RecordStorageOp(ctx, "save", "success", f.now().Sub(start), int64(len(body)))
		}
	}

	f.logger.Info("fetched page", "url", finalURL, "status", resp.StatusCode, "size", len(body))
	return &Result{
		URL:        finalURL,
		Content:    content,
		StatusCode: resp.StatusCode,
		FetchedAt:  fetchedAt,
		Size:       int64(len(body)),
	}, nil
}

// ClearCaches empties both tiers and returns the number of entries removed
// from each.
func (f *Fetcher) ClearCaches() (memory int, disk int, err error) {
	if f.cache != nil {
		memory = f.cache.Clear()
	}
	if f.storage != nil {
		disk, err = f.storage.Clear()
	}
	return memory, disk, err
}

// CacheStats returns the memory tier's statistics.
func (f *Fetcher) CacheStats() cache.Stats {
	if f.cache == nil {
		return cache.Stats{}
	}
	return f.cache.Stats()
}

// StorageStats returns the disk tier's statistics.
func (f *Fetcher) StorageStats() storage.Stats {
	if f.storage == nil {
		return storage.Stats{}
	}
	return f.storage.Stats()
}
