package types

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// ItemKind is the catalog category of a playable item. It only affects
// labelling and filtering; playback treats all kinds the same.
type ItemKind string

const (
	KindLive   ItemKind = "live"
	KindMovie  ItemKind = "movie"
	KindSeries ItemKind = "series"
)

// PlayableItem is a single channel, movie or series episode the engine can
// play. It is read-only to the engine: the catalog builds it, the session
// controller only reads PrimaryURL and ProxyURL.
//
// PrimaryURL is the canonical origin and is always set. ProxyURL is empty
// when the server offers no restreaming proxy for the item. Every playlist
// attribute spelling (tvg-logo, logo, image, thumbnail) is normalised into
// Logo before an item reaches the catalog.
type PlayableItem struct {
	ID         string   `json:"id"`
	Kind       ItemKind `json:"kind"`
	Name       string   `json:"name"`
	Group      string   `json:"group,omitempty"`
	Language   string   `json:"language,omitempty"`
	Genre      string   `json:"genre,omitempty"`
	Logo       string   `json:"logo,omitempty"`
	Source     string   `json:"source,omitempty"`
	PrimaryURL string   `json:"primaryUrl"`
	ProxyURL   string   `json:"proxyUrl,omitempty"`
}

// HasProxy reports whether an alternate proxied origin exists for the item
func (p *PlayableItem) HasProxy() bool {
	return p != nil && p.ProxyURL != ""
}

// ServerInfo carries the capabilities the backend advertises. ProxyEnabled
// gates proxy resolution entirely, even for items that carry a ProxyURL.
type ServerInfo struct {
	ProxyEnabled bool   `json:"proxyEnabled"`
	ProxyBaseURL string `json:"proxyBaseUrl,omitempty"`
}

// Catalog is the concurrent collection of playable items keyed by ID.
// Replace swaps the whole map at once, so readers see either the previous
// import or the new one, never a mix.
type Catalog struct {
	items atomic.Pointer[xsync.MapOf[string, *PlayableItem]]
}

// NewCatalog returns an empty catalog
func NewCatalog() *Catalog {
	c := &Catalog{}
	c.items.Store(xsync.NewMapOf[string, *PlayableItem]())
	return c
}

// Get returns the item with the given id
func (c *Catalog) Get(id string) (*PlayableItem, bool) {
	return c.items.Load().Load(id)
}

// Len returns the number of items
func (c *Catalog) Len() int {
	return c.items.Load().Size()
}

// Replace swaps the whole content of the catalog for items. Items without
// an id are skipped; on duplicate ids the last one wins.
func (c *Catalog) Replace(items []*PlayableItem) {
	next := xsync.NewMapOf[string, *PlayableItem]()
	for _, it := range items {
		if it == nil || it.ID == "" {
			continue
		}
		next.Store(it.ID, it)
	}
	c.items.Store(next)
}

// ItemFilter selects items in List. Empty fields match everything.
type ItemFilter struct {
	Kind  ItemKind
	Group string
}

// List returns the items matching f sorted by field ("name", "group" or
// "id") in the given direction ("asc" or "desc").
func (c *Catalog) List(f ItemFilter, field, direction string) []*PlayableItem {
	items := c.items.Load()
	out := make([]*PlayableItem, 0, items.Size())
	items.Range(func(_ string, it *PlayableItem) bool {
		if f.Kind != "" && it.Kind != f.Kind {
			return true
		}
		if f.Group != "" && !strings.EqualFold(it.Group, f.Group) {
			return true
		}
		out = append(out, it)
		return true
	})

	key := func(it *PlayableItem) string {
		switch field {
		case "group":
			return strings.ToLower(it.Group)
		case "id":
			return it.ID
		default:
			return strings.ToLower(it.Name)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := key(out[i]), key(out[j])
		if a == b {
			return out[i].ID < out[j].ID
		}
		if direction == "desc" {
			return a > b
		}
		return a < b
	})
	return out
}
