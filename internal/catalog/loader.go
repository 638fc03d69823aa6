package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"stratumai/internal/cache"
)

const maxDocumentSize = 10 * 1024 * 1024 // 10 MB

// Document is the on-disk and over-the-wire catalog format. YAML and JSON
// documents use the same field names.
type Document struct {
	Version  int                 `yaml:"version" json:"version"`
	Backends []BackendDescriptor `yaml:"backends" json:"backends"`
}

// Parse decodes a YAML or JSON catalog document and builds a Catalog.
func Parse(source string, raw []byte) (*Catalog, error) {
	var doc Document
	if json.Valid(raw) {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parsing catalog JSON: %w", err)
		}
	} else if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog YAML: %w", err)
	}
	if len(doc.Backends) == 0 {
		return nil, fmt.Errorf("catalog document from %s has no backends", source)
	}
	return New(source, doc.Backends)
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) (*Catalog, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading catalog file: %w", err)
	}
	c, err := Parse("file:"+path, raw)
	if err != nil {
		return nil, nil, err
	}
	return c, raw, nil
}

// Fetch downloads and parses a catalog document from url.
// Returns the parsed Catalog and the raw bytes (for snapshot persistence).
func Fetch(ctx context.Context, url string, timeout time.Duration) (*Catalog, []byte, error) {
	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(raw) > maxDocumentSize {
		return nil, nil, fmt.Errorf("response body too large (exceeds %d bytes)", maxDocumentSize)
	}

	c, err := Parse("url:"+url, raw)
	if err != nil {
		return nil, nil, err
	}
	return c, raw, nil
}

// LoaderConfig selects the catalog source. URL wins over Path; with neither
// set the built-in catalog is used.
type LoaderConfig struct {
	Path    string
	URL     string
	Timeout time.Duration
}

// Loader loads catalogs from the configured source, publishes them to a
// Store and persists them to a snapshot cache for fast startup.
type Loader struct {
	cfg       LoaderConfig
	store     *Store
	snapshots cache.Cache
}

// NewLoader creates a loader publishing into store. snapshots may be nil.
func NewLoader(cfg LoaderConfig, store *Store, snapshots cache.Cache) *Loader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Loader{cfg: cfg, store: store, snapshots: snapshots}
}

// Load reads the configured source without publishing it.
func (l *Loader) Load(ctx context.Context) (*Catalog, []byte, error) {
	switch {
	case l.cfg.URL != "":
		return Fetch(ctx, l.cfg.URL, l.cfg.Timeout)
	case l.cfg.Path != "":
		return LoadFile(l.cfg.Path)
	default:
		c, err := Default()
		if err != nil {
			return nil, nil, err
		}
		raw, err := json.Marshal(Document{Version: 1, Backends: c.All()})
		if err != nil {
			return nil, nil, fmt.Errorf("encoding built-in catalog: %w", err)
		}
		return c, raw, nil
	}
}

// Initialize publishes a persisted snapshot if one exists, then loads the
// configured source and replaces it. A source failure is tolerated only when
// a snapshot was restored.
func (l *Loader) Initialize(ctx context.Context) error {
	restored, err := l.restore(ctx)
	if err != nil {
		slog.Warn("failed to restore catalog snapshot", "error", err)
	}

	if _, err := l.Reload(ctx); err != nil {
		if restored {
			slog.Warn("catalog source unavailable, serving restored snapshot", "error", err)
			return nil
		}
		return err
	}
	return nil
}

// Reload loads the configured source, publishes it, and persists it when the
// contents changed.
func (l *Loader) Reload(ctx context.Context) (bool, error) {
	next, raw, err := l.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("loading catalog: %w", err)
	}

	changed := l.store.Replace(next)
	slog.Info("catalog loaded",
		"source", next.Source(),
		"backends", next.Len(),
		"fingerprint", next.Fingerprint(),
		"changed", changed,
	)

	if changed {
		l.persist(ctx, next, raw)
	}
	return changed, nil
}

// StartBackgroundRefresh reloads the catalog every interval until the
// returned cancel function is called.
func (l *Loader) StartBackgroundRefresh(interval time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshCtx, refreshCancel := context.WithTimeout(ctx, l.cfg.Timeout)
				if _, err := l.Reload(refreshCtx); err != nil {
					slog.Warn("background catalog refresh failed", "error", err)
				}
				refreshCancel()
			}
		}
	}()

	return cancel
}

func (l *Loader) restore(ctx context.Context) (bool, error) {
	if l.snapshots == nil {
		return false, nil
	}
	snapshot, err := l.snapshots.Get(ctx)
	if err != nil || snapshot == nil {
		return false, err
	}
	c, err := Parse(snapshot.Source, snapshot.Backends)
	if err != nil {
		return false, err
	}
	l.store.Replace(c)
	slog.Info("restored catalog snapshot",
		"source", snapshot.Source,
		"backends", c.Len(),
		"snapshot_updated_at", snapshot.UpdatedAt,
	)
	return true, nil
}

func (l *Loader) persist(ctx context.Context, c *Catalog, raw []byte) {
	if l.snapshots == nil {
		return
	}
	// Snapshots are stored as JSON; re-encode YAML sources.
	if !json.Valid(raw) {
		encoded, err := json.Marshal(Document{Version: 1, Backends: c.All()})
		if err != nil {
			slog.Warn("failed to encode catalog snapshot", "error", err)
			return
		}
		raw = encoded
	}
	snapshot := &cache.CatalogSnapshot{
		Version:     cache.SnapshotVersion,
		UpdatedAt:   time.Now().UTC(),
		Source:      c.Source(),
		Fingerprint: c.Fingerprint(),
		Backends:    raw,
	}
	if err := l.snapshots.Set(ctx, snapshot); err != nil {
		slog.Warn("failed to save catalog snapshot", "error", err)
	}
}
