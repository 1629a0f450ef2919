// Package expiry sweeps the disk storage tier in the background. Records
// older than the TTL are removed first; if the tier is still over its size
// cap, the oldest remaining records are evicted until it fits.
package expiry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shoplist-ai/shoplist/storage"
	"github.com/shoplist-ai/shoplist/telemetry"
)

// Config holds sweep configuration.
type Config struct {
	// TTL is the time-to-live for stored records since they were saved.
	// Zero means no TTL-based expiration.
	TTL time.Duration

	// MaxSize is the maximum total payload size in bytes. When exceeded,
	// the oldest records are evicted until under the limit. Zero means no
	// size limit.
	MaxSize int64

	// CheckInterval is how often to sweep. Default is 1 hour.
	CheckInterval time.Duration

	// Logger for sweep events.
	Logger *slog.Logger
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		TTL:           7 * 24 * time.Hour,
		MaxSize:       1 << 30, // 1 GB
		CheckInterval: time.Hour,
		Logger:        slog.Default(),
	}
}

// Sweeper removes stale and excess records from a storage manager.
type Sweeper struct {
	config Config
	store  *storage.Manager
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweeper creates a sweeper over the given storage tier.
func NewSweeper(store *storage.Manager, cfg Config) *Sweeper {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Sweeper{
		config: cfg,
		store:  store,
		logger: cfg.Logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins background sweeps.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop stops background sweeps and waits for the current one to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// Result contains the outcome of one sweep.
type Result struct {
	TTLExpired  int
	SizeEvicted int
	BytesFreed  int64
	Errors      int
	Duration    time.Duration
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) *Result {
	return s.runOnce(ctx)
}

func (s *Sweeper) runOnce(ctx context.Context) *Result {
	start := s.now()
	result := &Result{}

	s.logger.Debug("starting storage sweep")

	records, err := s.store.List()
	if err != nil {
		s.logger.Error("failed to list storage records", "error", err)
		result.Errors++
		return result
	}

	// Phase 1: TTL expiration
	if s.config.TTL > 0 {
		cutoff := s.now().Add(-s.config.TTL)
		remaining := records[:0]
		for _, meta := range records {
			if !meta.Timestamp.Before(cutoff) {
				remaining = append(remaining, meta)
				continue
			}
			if err := s.store.Remove(meta); err != nil {
				s.logger.Warn("failed to remove expired record",
					"filename", meta.Filename, "error", err)
				result.Errors++
				continue
			}
			result.TTLExpired++
			result.BytesFreed += meta.DataSize
			s.logger.Debug("expired record",
				"filename", meta.Filename, "age", s.now().Sub(meta.Timestamp))
		}
		records = remaining
	}

	// Phase 2: size eviction, oldest first
	if s.config.MaxSize > 0 {
		var totalSize int64
		for _, meta := range records {
			totalSize += meta.DataSize
		}

		if totalSize > s.config.MaxSize {
			sort.Slice(records, func(i, j int) bool {
				return records[i].Timestamp.Before(records[j].Timestamp)
			})

			for _, meta := range records {
				if totalSize <= s.config.MaxSize {
					break
				}
				if err := s.store.Remove(meta); err != nil {
					s.logger.Warn("failed to evict record",
						"filename", meta.Filename, "error", err)
					result.Errors++
					continue
				}
				result.SizeEvicted++
				result.BytesFreed += meta.DataSize
				totalSize -= meta.DataSize
				s.logger.Debug("evicted record over size cap",
					"filename", meta.Filename, "size", meta.DataSize)
			}
		}
	}

	result.Duration = s.now().Sub(start)
	telemetry.RecordStorageOp(ctx, "sweep", "success", result.Duration, result.BytesFreed)

	if result.TTLExpired > 0 || result.SizeEvicted > 0 {
		s.logger.Info("sweep complete",
			"ttl_expired", result.TTLExpired,
			"size_evicted", result.SizeEvicted,
			"bytes_freed", result.BytesFreed,
			"duration", result.Duration,
		)
	} else {
		s.logger.Debug("sweep complete, nothing to remove")
	}

	return result
}
