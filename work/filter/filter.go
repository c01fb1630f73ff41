package filter

import (
	"strings"
	"sync"

	"github.com/grafana/regexp"

	"kptv-player/work/config"
	"kptv-player/work/logger"
	"kptv-player/work/types"
)

// Content type detection regexes, matched against both name and URL
var (
	seriesRegex = regexp.MustCompile(`(?i)24\/7|247|\/series\/|\/shows\/|\/show\/`)
	vodRegex    = regexp.MustCompile(`(?i)\/vods\/|\/vod\/|\/movies\/|\/movie\/`)
)

// CompiledFilter holds compiled regex patterns for a source
type CompiledFilter struct {
	LiveInclude   *regexp.Regexp
	LiveExclude   *regexp.Regexp
	SeriesInclude *regexp.Regexp
	SeriesExclude *regexp.Regexp
	VODInclude    *regexp.Regexp
	VODExclude    *regexp.Regexp
}

// FilterManager manages compiled filters for sources
type FilterManager struct {
	filters map[string]*CompiledFilter
	mu      sync.RWMutex
}

// NewFilterManager creates a new filter manager
func NewFilterManager() *FilterManager {
	return &FilterManager{
		filters: make(map[string]*CompiledFilter),
	}
}

// GetOrCreateFilter gets or creates a compiled filter for a source.
// Invalid patterns are logged and treated as absent.
func (fm *FilterManager) GetOrCreateFilter(source *config.SourceConfig) *CompiledFilter {
	key := source.URL

	fm.mu.RLock()
	f, exists := fm.filters[key]
	fm.mu.RUnlock()
	if exists {
		return f
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()
	if f, exists := fm.filters[key]; exists {
		return f
	}

	f = &CompiledFilter{
		LiveInclude:   compile(source.Name, "liveIncludeRegex", source.LiveIncludeRegex),
		LiveExclude:   compile(source.Name, "liveExcludeRegex", source.LiveExcludeRegex),
		SeriesInclude: compile(source.Name, "seriesIncludeRegex", source.SeriesIncludeRegex),
		SeriesExclude: compile(source.Name, "seriesExcludeRegex", source.SeriesExcludeRegex),
		VODInclude:    compile(source.Name, "vodIncludeRegex", source.VODIncludeRegex),
		VODExclude:    compile(source.Name, "vodExcludeRegex", source.VODExcludeRegex),
	}
	fm.filters[key] = f
	return f
}

func compile(sourceName, field, pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		logger.Error("{filter/filter - compile} source %s: invalid %s %q: %v", sourceName, field, pattern, err)
		return nil
	}
	logger.Debug("{filter/filter - compile} source %s: compiled %s %q", sourceName, field, pattern)
	return re
}

// ClearFilters clears all compiled filters
func (fm *FilterManager) ClearFilters() {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.filters = make(map[string]*CompiledFilter)
}

// RemoveFilter removes a specific filter
func (fm *FilterManager) RemoveFilter(sourceURL string) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	delete(fm.filters, sourceURL)
}

// FilterItems applies the source's include/exclude rules to items
func FilterItems(items []*types.PlayableItem, source *config.SourceConfig, fm *FilterManager) []*types.PlayableItem {
	if !hasRules(source) {
		return items
	}

	f := fm.GetOrCreateFilter(source)
	filtered := make([]*types.PlayableItem, 0, len(items))
	for _, it := range items {
		if shouldInclude(it, f) {
			filtered = append(filtered, it)
		}
	}
	logger.Debug("{filter/filter - FilterItems} Filtered %d -> %d items for source %s", len(items), len(filtered), source.Name)
	return filtered
}

func hasRules(s *config.SourceConfig) bool {
	return s.LiveIncludeRegex != "" || s.LiveExcludeRegex != "" ||
		s.SeriesIncludeRegex != "" || s.SeriesExcludeRegex != "" ||
		s.VODIncludeRegex != "" || s.VODExcludeRegex != ""
}

// shouldInclude checks include rules first: when one exists for the item's
// kind the name must match it. Exclude rules are checked afterwards.
func shouldInclude(it *types.PlayableItem, f *CompiledFilter) bool {
	name := strings.TrimSpace(strings.ToLower(it.Name))

	var include, exclude *regexp.Regexp
	switch it.Kind {
	case types.KindSeries:
		include, exclude = f.SeriesInclude, f.SeriesExclude
	case types.KindMovie:
		include, exclude = f.VODInclude, f.VODExclude
	default:
		include, exclude = f.LiveInclude, f.LiveExclude
	}

	if include != nil && !include.MatchString(name) {
		return false
	}
	if exclude != nil && exclude.MatchString(name) {
		return false
	}
	return true
}

// DetectKind guesses the catalog category of an entry from its name and URL,
// then from its group title. Anything unrecognised is live.
func DetectKind(name, streamURL, group string) types.ItemKind {
	if seriesRegex.MatchString(name) || seriesRegex.MatchString(streamURL) {
		return types.KindSeries
	}
	if vodRegex.MatchString(name) || vodRegex.MatchString(streamURL) {
		return types.KindMovie
	}

	g := strings.ToLower(group)
	switch {
	case strings.Contains(g, "series"):
		return types.KindSeries
	case strings.Contains(g, "vod") || strings.Contains(g, "movie"):
		return types.KindMovie
	}
	return types.KindLive
}
