// Package catalog imports playable items from the configured M3U and HLS
// sources into a types.Catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"

	"kptv-player/work/cache"
	"kptv-player/work/client"
	"kptv-player/work/config"
	"kptv-player/work/filter"
	"kptv-player/work/logger"
	"kptv-player/work/metrics"
	"kptv-player/work/types"
	"kptv-player/work/utils"
)

// ErrUnknownSource is returned by RefreshSource for a name not in the config
var ErrUnknownSource = errors.New("unknown source")

const (
	maxPlaylistBytes = 64 << 20
	importTimeout    = 2 * time.Minute
)

// Importer fetches every configured source, turns its entries into
// PlayableItems and swaps them into the catalog.
type Importer struct {
	cfg      *config.Config
	catalog  *types.Catalog
	client   *client.HeaderSettingClient
	pool     *ants.Pool
	cache    *cache.Cache
	filters  *filter.FilterManager
	limiters *xsync.MapOf[string, ratelimit.Limiter]

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewImporter wires an importer. cache may be nil.
func NewImporter(cfg *config.Config, catalog *types.Catalog, httpClient *client.HeaderSettingClient, pool *ants.Pool, c *cache.Cache) *Importer {
	im := &Importer{
		cfg:      cfg,
		catalog:  catalog,
		client:   httpClient,
		pool:     pool,
		cache:    c,
		filters:  filter.NewFilterManager(),
		limiters: xsync.NewMapOf[string, ratelimit.Limiter](),
		stopCh:   make(chan struct{}),
	}
	for i := range cfg.Sources {
		im.limiterFor(&cfg.Sources[i])
	}
	return im
}

// limiterFor returns the request limiter of a source, created on first use.
// MaxConnections doubles as requests per second, 5 when unset.
func (im *Importer) limiterFor(src *config.SourceConfig) ratelimit.Limiter {
	limiter, _ := im.limiters.LoadOrCompute(src.URL, func() ratelimit.Limiter {
		rate := src.MaxConnections
		if rate <= 0 {
			rate = 5
		}
		logger.Debug("{catalog/importer - limiterFor} Created rate limiter for source %s: %d req/sec", src.Name, rate)
		return ratelimit.New(rate)
	})
	return limiter
}

type sourceResult struct {
	src   *config.SourceConfig
	items []*types.PlayableItem
	err   error
}

// Import fetches all sources concurrently and replaces the catalog content.
// Items of a source that failed this round are carried over from the
// previous catalog. An error is returned only when every source failed, in
// which case the catalog is left untouched.
func (im *Importer) Import(ctx context.Context) (int, error) {
	sources := im.cfg.GetSourcesByOrder()
	if len(sources) == 0 {
		logger.Warn("{catalog/importer - Import} No sources configured, skipping import")
		return im.catalog.Len(), nil
	}
	logger.Debug("{catalog/importer - Import} Starting import for %d sources", len(sources))

	ctx, cancel := context.WithTimeout(ctx, importTimeout)
	defer cancel()

	results := make([]sourceResult, len(sources))
	var wg sync.WaitGroup
	for i := range sources {
		wg.Add(1)
		i, src := i, &sources[i]
		err := im.pool.Submit(func() {
			defer wg.Done()
			items, err := im.importSource(ctx, src)
			results[i] = sourceResult{src: src, items: items, err: err}
		})
		if err != nil {
			wg.Done()
			results[i] = sourceResult{src: src, err: fmt.Errorf("submit import of %s: %w", src.Name, err)}
		}
	}
	wg.Wait()

	var (
		errs   []error
		merged = make([]*types.PlayableItem, 0, im.catalog.Len())
		seen   = make(map[string]struct{})
	)
	add := func(it *types.PlayableItem) {
		if _, dup := seen[it.ID]; dup {
			return
		}
		seen[it.ID] = struct{}{}
		merged = append(merged, it)
	}

	for _, res := range results {
		if res.err != nil {
			logger.Error("{catalog/importer - Import} Import of source %s failed: %v", res.src.Name, res.err)
			errs = append(errs, res.err)
			for _, it := range im.catalog.List(types.ItemFilter{}, "id", "asc") {
				if it.Source == res.src.Name {
					add(it)
				}
			}
			continue
		}
		for _, it := range res.items {
			add(it)
		}
	}

	if len(errs) == len(sources) {
		return im.catalog.Len(), fmt.Errorf("catalog import: %w", errors.Join(errs...))
	}

	im.catalog.Replace(merged)
	im.updateMetrics()
	logger.Info("{catalog/importer - Import} Import complete: %d items from %d sources (%d failed)", len(merged), len(sources), len(errs))
	return len(merged), nil
}

// importSource fetches, parses and filters a single source
func (im *Importer) importSource(ctx context.Context, src *config.SourceConfig) ([]*types.PlayableItem, error) {
	body, err := im.fetch(ctx, src)
	if err != nil {
		return nil, err
	}

	entries := ParseM3U(body, src)
	items := make([]*types.PlayableItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, ToItem(e, src, im.proxyBase()))
	}

	before := len(items)
	items = filter.FilterItems(items, src, im.filters)
	logger.Debug("{catalog/importer - importSource} Source %s: %d entries, %d after filters", src.Name, before, len(items))
	return items, nil
}

// proxyBase is where per-item proxy URLs are rooted; empty when the server has no proxy
func (im *Importer) proxyBase() string {
	if !im.cfg.ProxyEnabled {
		return ""
	}
	return im.cfg.ProxyBaseURL
}

// fetch returns the playlist body of src, from the cache when still fresh
func (im *Importer) fetch(ctx context.Context, src *config.SourceConfig) (string, error) {
	if body, ok := im.cache.GetPlaylist(src.URL); ok {
		logger.Debug("{catalog/importer - fetch} Using cached playlist for %s", utils.LogURL(im.cfg, src.URL))
		return body, nil
	}

	im.limiterFor(src).Take()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", src.Name, err)
	}
	resp, err := im.client.DoForSource(req, src)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", utils.LogURL(im.cfg, src.URL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: HTTP %d", utils.LogURL(im.cfg, src.URL), resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", utils.LogURL(im.cfg, src.URL), err)
	}
	body := string(raw)
	im.cache.SetPlaylist(src.URL, body)
	return body, nil
}

func (im *Importer) updateMetrics() {
	counts := map[types.ItemKind]int{types.KindLive: 0, types.KindMovie: 0, types.KindSeries: 0}
	for _, it := range im.catalog.List(types.ItemFilter{}, "id", "asc") {
		counts[it.Kind]++
	}
	for kind, n := range counts {
		metrics.CatalogItems.WithLabelValues(string(kind)).Set(float64(n))
	}
}

// Refresh drops cached playlists and imports again
func (im *Importer) Refresh(ctx context.Context) (int, error) {
	im.cache.Clear()
	return im.Import(ctx)
}

// RefreshSource drops the cached playlist of one source and imports again.
// The other sources are served from the cache while it is fresh.
func (im *Importer) RefreshSource(ctx context.Context, name string) (int, error) {
	src := im.cfg.GetSourceByName(name)
	if src == nil {
		return im.catalog.Len(), fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	logger.Info("{catalog/importer - RefreshSource} Refreshing source %s", src.Name)
	im.cache.Invalidate(src.URL)
	return im.Import(ctx)
}

// StartRefresh re-imports every ImportRefreshInterval until ctx is done or
// Stop is called. It blocks and should run in its own goroutine.
func (im *Importer) StartRefresh(ctx context.Context) {
	interval := im.cfg.ImportRefreshInterval
	if interval <= 0 {
		logger.Debug("{catalog/importer - StartRefresh} Refresh disabled")
		return
	}
	logger.Debug("{catalog/importer - StartRefresh} Starting import refresh loop (interval: %s)", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-im.stopCh:
			logger.Debug("{catalog/importer - StartRefresh} Import refresh loop stopped")
			return
		case <-ticker.C:
			if _, err := im.Import(ctx); err != nil {
				logger.Error("{catalog/importer - StartRefresh} Scheduled refresh failed: %v", err)
			}
		}
	}
}

// Stop ends the refresh loop. Safe to call more than once.
func (im *Importer) Stop() {
	im.stopOnce.Do(func() { close(im.stopCh) })
}
