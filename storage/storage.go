// Package storage provides the disk tier of the content persistence layer:
// format-pluggable records keyed by (content key, alias), each stored as a
// payload file plus a JSON metadata sidecar sharing a digest-derived stem.
//
// The sidecar is the source of truth for which format a record was written
// in when the caller does not specify one at load time. A record whose
// sidecar and payload disagree about existence is corrupt, and loading it
// fails instead of partially succeeding.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	shoplist "github.com/shoplist-ai/shoplist"
)

// Sentinel errors for storage operations.
var (
	// ErrCorrupt marks records whose persisted state cannot be read back:
	// unreadable sidecar JSON, undecodable payloads, or a sidecar/payload
	// pair with one half missing.
	ErrCorrupt = errors.New("storage: corrupt record")
)

// metadataSuffix is appended to the digest stem for sidecar files.
const metadataSuffix = "_metadata.json"

// Config holds storage configuration.
type Config struct {
	// Dir is the storage root. Created on first use if absent.
	Dir string

	// SaveEnabled and LoadEnabled toggle the two directions independently.
	SaveEnabled bool
	LoadEnabled bool

	// Logger for storage events.
	Logger *slog.Logger
}

// DefaultConfig returns the default storage configuration rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		SaveEnabled: true,
		LoadEnabled: true,
		Logger:      slog.Default(),
	}
}

// Metadata is the sidecar record written alongside every payload file.
type Metadata struct {
	Filename   string          `json:"filename"`
	Alias      string          `json:"alias"`
	Timestamp  time.Time       `json:"timestamp"`
	FilePath   string          `json:"file_path"`
	DataSize   int64           `json:"data_size"`
	DataFormat shoplist.Format `json:"data_format"`
}

// Record is a loaded payload together with its sidecar metadata.
type Record struct {
	Metadata

	// Data is the deserialized payload.
	Data any

	// Provenance marks records returned by Load as disk-sourced.
	Provenance shoplist.Provenance
}

// Stats describes the current storage state.
type Stats struct {
	Entries     int
	TotalSize   int64
	Folder      string
	SaveEnabled bool
	LoadEnabled bool
}

// Manager is the disk storage tier.
type Manager struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mkdirOnce sync.Once
	mkdirErr  error
}

// NewManager creates a storage manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Manager{
		config: cfg,
		logger: cfg.Logger,
		now:    time.Now,
	}
	if cfg.SaveEnabled || cfg.LoadEnabled {
		m.logger.Debug("storage configured", "dir", cfg.Dir)
	} else {
		m.logger.Warn("storage disabled")
	}
	return m
}

// SaveOption configures a Save call.
type SaveOption func(*saveOptions)

type saveOptions struct {
	provenance shoplist.Provenance
}

// WithProvenance declares where the value being saved was loaded from.
// Saving a value whose provenance is the disk tier is skipped as a
// redundant self-write.
func WithProvenance(p shoplist.Provenance) SaveOption {
	return func(o *saveOptions) { o.provenance = p }
}

// Save serializes value in the given format and writes the payload file and
// its metadata sidecar. It returns the written metadata, or (nil, nil) when
// saving is disabled or the save was skipped.
func (m *Manager) Save(key string, value any, alias string, format shoplist.Format, opts ...SaveOption) (*Metadata, error) {
	if !m.config.SaveEnabled {
		return nil, nil
	}

	var so saveOptions
	for _, opt := range opts {
		opt(&so)
	}
	if so.provenance == shoplist.ProvenanceDisk {
		m.logger.Debug("skipping save of disk-sourced value", "alias", alias)
		return nil, nil
	}

	if !format.Valid() {
		return nil, fmt.Errorf("%w: %q", shoplist.ErrUnsupportedFormat, format)
	}

	if err := m.ensureDir(); err != nil {
		return nil, err
	}

	payload, err := format.Encode(value)
	if err != nil {
		return nil, fmt.Errorf("serializing value: %w", err)
	}

	stem := shoplist.NewDigest(alias, key).String()
	payloadPath := filepath.Join(m.config.Dir, stem+"."+format.Ext())

	if err := writeFileAtomic(payloadPath, payload); err != nil {
		return nil, fmt.Errorf("writing payload: %w", err)
	}

	meta := &Metadata{
		Filename:   stem,
		Alias:      alias,
		Timestamp:  m.now(),
		FilePath:   payloadPath,
		DataSize:   int64(len(payload)),
		DataFormat: format,
	}
	if err := m.writeMetadata(meta); err != nil {
		return nil, err
	}

	m.logger.Info("saved record", "filename", stem, "alias", alias, "format", format.String(), "size", meta.DataSize)
	return meta, nil
}

// LoadOption configures a Load call.
type LoadOption func(*loadOptions)

type loadOptions struct {
	format shoplist.Format
	model  any
}

// WithFormat forces a specific format instead of auto-detecting from the
// metadata sidecar.
func WithFormat(f shoplist.Format) LoadOption {
	return func(o *loadOptions) { o.format = f }
}

// WithModel supplies the destination for structured decoding. Required for
// JSON records; optional for the self-describing binary formats.
func WithModel(model any) LoadOption {
	return func(o *loadOptions) { o.model = model }
}

// Load reads the record for (key, alias). When no format is forced, the
// sidecar metadata determines it. Returns (nil, nil) when the record simply
// does not exist; a corrupt record or caller misuse returns an error.
func (m *Manager) Load(key, alias string, opts ...LoadOption) (*Record, error) {
	if !m.config.LoadEnabled {
		return nil, nil
	}

	var lo loadOptions
	for _, opt := range opts {
		opt(&lo)
	}
	if lo.format != "" && !lo.format.Valid() {
		return nil, fmt.Errorf("%w: %q", shoplist.ErrUnsupportedFormat, lo.format)
	}

	stem := shoplist.NewDigest(alias, key).String()

	rec := &Record{}
	format := lo.format
	if format == "" {
		meta, err := m.readMetadata(stem)
		if errors.Is(err, fs.ErrNotExist) {
			// No sidecar. An orphaned payload under this stem means the
			// record was half-written, which is corruption, not a miss.
			if orphan := m.findPayload(stem); orphan != "" {
				return nil, fmt.Errorf("%w: payload %s has no metadata sidecar", ErrCorrupt, orphan)
			}
			m.logger.Debug("storage miss", "filename", stem, "alias", alias)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		rec.Metadata = *meta
		format = meta.DataFormat
		if !format.Valid() {
			return nil, fmt.Errorf("%w: metadata declares unknown format %q", ErrCorrupt, meta.DataFormat)
		}
	} else {
		rec.Metadata = Metadata{
			Filename:   stem,
			Alias:      alias,
			DataFormat: format,
		}
	}

	payloadPath := filepath.Join(m.config.Dir, stem+"."+format.Ext())
	payload, err := os.ReadFile(payloadPath)
	if errors.Is(err, fs.ErrNotExist) {
		if lo.format == "" {
			// Sidecar present but payload gone: half a record.
			return nil, fmt.Errorf("%w: metadata for %s exists but payload is missing", ErrCorrupt, stem)
		}
		m.logger.Debug("storage miss", "filename", stem, "alias", alias, "format", format.String())
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}

	data, err := format.Decode(payload, lo.model)
	if err != nil {
		if errors.Is(err, shoplist.ErrModelRequired) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	rec.Data = data
	rec.FilePath = payloadPath
	rec.Provenance = shoplist.ProvenanceDisk

	m.logger.Info("storage hit", "filename", stem, "alias", alias, "format", format.String())
	return rec, nil
}

// Clear removes every file under the storage root and returns the count
// removed. The directory itself is removed best-effort.
func (m *Manager) Clear() (int, error) {
	entries, err := os.ReadDir(m.config.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading storage dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		path := filepath.Join(m.config.Dir, entry.Name())
		if err := os.Remove(path); err != nil {
			m.logger.Warn("failed to remove file", "path", path, "error", err)
			continue
		}
		removed++
	}

	// Non-empty or busy directories are left in place.
	_ = os.Remove(m.config.Dir)

	m.logger.Info("cleared storage", "removed", removed)
	return removed, nil
}

// List returns the metadata of every stored record. Sidecars that fail to
// parse are skipped.
func (m *Manager) List() ([]Metadata, error) {
	entries, err := os.ReadDir(m.config.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading storage dir: %w", err)
	}

	var metas []Metadata
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), metadataSuffix) {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), metadataSuffix)
		meta, err := m.readMetadata(stem)
		if err != nil {
			m.logger.Warn("skipping unreadable metadata", "stem", stem, "error", err)
			continue
		}
		metas = append(metas, *meta)
	}
	return metas, nil
}

// Remove deletes a record's payload and sidecar by its metadata.
func (m *Manager) Remove(meta Metadata) error {
	payload := filepath.Join(m.config.Dir, meta.Filename+"."+meta.DataFormat.Ext())
	if err := os.Remove(payload); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing payload: %w", err)
	}
	sidecar := filepath.Join(m.config.Dir, meta.Filename+metadataSuffix)
	if err := os.Remove(sidecar); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing metadata: %w", err)
	}
	return nil
}

// Stats returns storage statistics. Entries counts records (metadata
// sidecars); TotalSize covers every file under the root.
func (m *Manager) Stats() Stats {
	s := Stats{
		Folder:      m.config.Dir,
		SaveEnabled: m.config.SaveEnabled,
		LoadEnabled: m.config.LoadEnabled,
	}

	entries, err := os.ReadDir(m.config.Dir)
	if err != nil {
		return s
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		s.TotalSize += info.Size()
		if strings.HasSuffix(entry.Name(), metadataSuffix) {
			s.Entries++
		}
	}
	return s
}

func (m *Manager) ensureDir() error {
	m.mkdirOnce.Do(func() {
		if err := os.MkdirAll(m.config.Dir, 0o755); err != nil {
			m.mkdirErr = fmt.Errorf("creating storage dir: %w", err)
		}
	})
	return m.mkdirErr
}

func (m *Manager) writeMetadata(meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	path := filepath.Join(m.config.Dir, meta.Filename+metadataSuffix)
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

func (m *Manager) readMetadata(stem string) (*Metadata, error) {
	path := filepath.Join(m.config.Dir, stem+metadataSuffix)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("reading metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: decoding metadata %s: %v", ErrCorrupt, path, err)
	}
	return &meta, nil
}

// findPayload returns the path of any payload file under the stem, probing
// the closed set of format extensions.
func (m *Manager) findPayload(stem string) string {
	for _, f := range []shoplist.Format{
		shoplist.FormatJSON, shoplist.FormatBinary, shoplist.FormatCompact,
		shoplist.FormatHTML, shoplist.FormatText,
	} {
		path := filepath.Join(m.config.Dir, stem+"."+f.Ext())
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// writeFileAtomic writes data via a temp file and rename so that readers
// never observe a partially written file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}
