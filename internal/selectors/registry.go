package selectors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Cache persists the last good remote payload between runs.
type Cache interface {
	SaveSelectorCache(payload []byte) error
	LoadSelectorCache() ([]byte, error)
}

// Options configures a Registry. Zero values disable the remote endpoints.
type Options struct {
	RemoteURL  string
	VersionURL string
	HTTPClient *http.Client
	Cache      Cache
}

// Registry serves the current selector table. Lookups always see a whole
// snapshot: updates build a new table and swap the pointer.
type Registry struct {
	current atomic.Pointer[Snapshot]

	remoteURL  string
	versionURL string
	client     *http.Client
	cache      Cache
	log        *logrus.Entry
}

// NewRegistry creates a registry seeded with the bundled table.
func NewRegistry(opts Options) *Registry {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	r := &Registry{
		remoteURL:  opts.RemoteURL,
		versionURL: opts.VersionURL,
		client:     client,
		cache:      opts.Cache,
		log:        logrus.WithField("component", "selectors"),
	}
	r.current.Store(Default())
	return r
}

// Get returns the candidate selectors for key. The returned slice must not be
// modified. A missing key yields (nil, false).
func (r *Registry) Get(key string) ([]string, bool) {
	list, ok := r.current.Load().Selectors[key]
	if !ok || len(list) == 0 {
		return nil, false
	}
	return list, true
}

// Snapshot returns the table currently in use.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Version returns the version string of the table currently in use.
func (r *Registry) Version() string {
	return r.current.Load().Version
}

// LoadCached replaces the bundled table with the cached remote one, if any.
func (r *Registry) LoadCached() error {
	if r.cache == nil {
		return nil
	}
	payload, err := r.cache.LoadSelectorCache()
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	snap, err := ParseRemote(payload)
	if err != nil {
		return fmt.Errorf("cached selector table: %w", err)
	}
	r.install(snap)
	r.log.WithField("version", snap.Version).Info("Loaded cached selector table")
	return nil
}

// Refresh fetches the remote table. On any failure the previous table stays
// in place and the error is returned for logging only.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.remoteURL == "" {
		return nil
	}

	payload, err := r.fetch(ctx, r.remoteURL)
	if err != nil {
		r.log.WithError(err).Warn("Selector refresh failed, keeping current table")
		return err
	}

	snap, err := ParseRemote(payload)
	if err != nil {
		r.log.WithError(err).Warn("Remote selector table rejected, keeping current table")
		return err
	}

	r.install(snap)
	r.log.WithFields(logrus.Fields{"version": snap.Version, "keys": len(snap.Selectors)}).Info("Selector table refreshed")

	if r.cache != nil {
		if err := r.cache.SaveSelectorCache(payload); err != nil {
			r.log.WithError(err).Warn("Failed to cache selector table")
		}
	}
	return nil
}

// CheckVersion asks the version endpoint whether a newer table exists.
func (r *Registry) CheckVersion(ctx context.Context) (bool, error) {
	if r.versionURL == "" {
		return false, nil
	}
	payload, err := r.fetch(ctx, r.versionURL)
	if err != nil {
		return false, err
	}
	remote, err := ParseVersion(payload)
	if err != nil {
		return false, err
	}
	return remote != r.Version(), nil
}

// RefreshIfChanged polls the version endpoint and refreshes when it differs.
func (r *Registry) RefreshIfChanged(ctx context.Context) error {
	changed, err := r.CheckVersion(ctx)
	if err != nil {
		r.log.WithError(err).Debug("Selector version check failed")
		return err
	}
	if !changed {
		return nil
	}
	return r.Refresh(ctx)
}

// ApplyUpdate merges keys into the live table. A running workflow picks the
// new selectors up on its next lookup.
func (r *Registry) ApplyUpdate(partial Table) {
	for {
		old := r.current.Load()
		next := &Snapshot{
			SchemaVersion: old.SchemaVersion,
			Version:       old.Version,
			UpdatedAt:     time.Now(),
			Selectors:     old.Selectors.Clone(),
		}
		for k, v := range partial {
			if list := normalize(v); len(list) > 0 {
				next.Selectors[k] = list
			}
		}
		if r.current.CompareAndSwap(old, next) {
			r.log.WithField("keys", len(partial)).Info("Applied selector update")
			return
		}
	}
}

// install layers a remote snapshot over the bundled defaults so keys the
// remote omits still resolve.
func (r *Registry) install(snap *Snapshot) {
	merged := Default().Selectors
	for k, v := range snap.Selectors {
		if list := normalize(v); len(list) > 0 {
			merged[k] = list
		}
	}
	r.current.Store(&Snapshot{
		SchemaVersion: snap.SchemaVersion,
		Version:       snap.Version,
		UpdatedAt:     snap.UpdatedAt,
		Selectors:     merged,
	})
}

func (r *Registry) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return body, nil
}
