package fetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	shoplist "github.com/shoplist-ai/shoplist"
	"github.com/shoplist-ai/shoplist/cache"
	"github.com/shoplist-ai/shoplist/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTiers(t *testing.T) (*cache.Manager, *storage.Manager) {
	t.Helper()
	memCfg := cache.DefaultConfig()
	memCfg.Logger = testLogger()
	diskCfg := storage.DefaultConfig(t.TempDir())
	diskCfg.Logger = testLogger()
	return cache.NewManager(memCfg), storage.NewManager(diskCfg)
}

func newFetcher(t *testing.T, mem *cache.Manager, disk *storage.Manager) *Fetcher {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logger = testLogger()
	return New(cfg, mem, disk)
}

func TestFetchWritesThroughBothTiers(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Contains(t, r.Header.Get("User-Agent"), "shoplist")
		_, _ = w.Write([]byte("<html><body>pasta recipe</body></html>"))
	}))
	defer srv.Close()

	mem, disk := newTiers(t)
	f := newFetcher(t, mem, disk)
	ctx := context.Background()

	r, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	require.False(t, r.FromCache())
	require.Contains(t, r.Content, "pasta recipe")
	require.EqualValues(t, 1, hits.Load())

	// Second fetch is served from memory without touching the network.
	r2, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	require.Equal(t, shoplist.ProvenanceMemory, r2.Provenance)
	require.Equal(t, r.Content, r2.Content)
	require.EqualValues(t, 1, hits.Load())

	// And the page was persisted to disk as well.
	rec, err := disk.Load(srv.URL, shoplist.AliasSource)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, r.Content, rec.Data)
}

func TestFetchPromotesDiskToMemory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected network fetch")
	}))
	defer srv.Close()

	mem, disk := newTiers(t)
	_, err := disk.Save(srv.URL, "<html>stored page</html>", shoplist.AliasSource, shoplist.FormatHTML)
	require.NoError(t, err)

	f := newFetcher(t, mem, disk)
	ctx := context.Background()

	r, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	require.Equal(t, shoplist.ProvenanceDisk, r.Provenance)
	require.Equal(t, "<html>stored page</html>", r.Content)

	// The disk hit landed in memory, so the next fetch is a memory hit.
	r2, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	require.Equal(t, shoplist.ProvenanceMemory, r2.Provenance)
}

func TestFetchDiskHitDoesNotRewriteDisk(t *testing.T) {
	mem, disk := newTiers(t)
	_, err := disk.Save("u", "<p>x</p>", shoplist.AliasSource, shoplist.FormatHTML)
	require.NoError(t, err)
	before := disk.Stats().Entries

	f := newFetcher(t, mem, disk)
	_, err = f.Fetch(context.Background(), "u")
	require.NoError(t, err)
	require.Equal(t, before, disk.Stats().Entries)

	// The memory copy keeps its disk provenance: flushing it back through
	// the memory tier must not produce a second disk write either.
	entry := mem.Load("u", shoplist.AliasSource)
	require.NotNil(t, entry)
}

func TestFetchCollapsesConcurrentRequests(t *testing.T) {
	var hits atomic.Int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte("<html>slow page</html>"))
	}))
	defer srv.Close()

	// No cache tiers so every call races to the network path.
	f := newFetcher(t, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	errs := make([]error, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.Fetch(ctx, srv.URL)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range 8 {
		require.NoError(t, errs[i])
		require.Equal(t, "<html>slow page</html>", results[i].Content)
	}
	require.EqualValues(t, 1, hits.Load())
}

func TestFetchCallerTimeoutDoesNotCancelFetch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		_, _ = w.Write([]byte("<html>late</html>"))
	}))
	defer srv.Close()

	mem, _ := newTiers(t)
	f := newFetcher(t, mem, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, srv.URL)
		done <- err
	}()

	<-started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// The in-flight fetch completes and still populates the cache.
	close(release)
	require.Eventually(t, func() bool {
		return mem.Load(srv.URL, shoplist.AliasSource) != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFetchNon200Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newFetcher(t, nil, nil)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorContains(t, err, "status 404")
}

func TestFetchReportsFinalURLAfterRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		_, _ = w.Write([]byte("<html>moved recipe</html>"))
	}))
	defer srv.Close()

	mem, _ := newTiers(t)
	f := newFetcher(t, mem, nil)

	r, err := f.Fetch(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/new", r.URL)

	// The cache key stays the requested URL.
	require.NotNil(t, mem.Load(srv.URL+"/old", shoplist.AliasSource))
}

func TestFetchContentTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MaxContentSize = 1024
	cfg.Logger = testLogger()
	f := New(cfg, nil, nil)

	_, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorContains(t, err, "content too large")
}

func TestFetchCleaned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><head><script>junk()</script></head><body><p>2 cups flour</p></body></html>"))
	}))
	defer srv.Close()

	f := newFetcher(t, nil, nil)
	r, cleaned, err := f.FetchCleaned(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Contains(t, r.Content, "junk()")
	require.Contains(t, cleaned, "2 cups flour")
	require.NotContains(t, cleaned, "junk()")
}

func TestClearCaches(t *testing.T) {
	mem, disk := newTiers(t)
	mem.Save("a", "x", shoplist.AliasSource, shoplist.FormatText)
	_, err := disk.Save("a", "x", shoplist.AliasSource, shoplist.FormatText)
	require.NoError(t, err)
	_, err = disk.Save("b", "y", shoplist.AliasSource, shoplist.FormatText)
	require.NoError(t, err)

	f := newFetcher(t, mem, disk)
	m, d, err := f.ClearCaches()
	require.NoError(t, err)
	require.Equal(t, 1, m)
	require.Equal(t, 2, d)
	require.Zero(t, f.CacheStats().Entries)
	require.Zero(t, f.StorageStats().Entries)
}
