package catalog

import (
	"bufio"
	"fmt"
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/grafana/regexp"
	"github.com/grafov/m3u8"

	"kptv-player/work/config"
	"kptv-player/work/filter"
	"kptv-player/work/logger"
	"kptv-player/work/types"
	"kptv-player/work/utils"
)

// attrRegex matches key="value" pairs of an EXTINF line. Values may hold spaces and commas.
var attrRegex = regexp.MustCompile(`([A-Za-z0-9_-]+)="([^"]*)"`)

// logoAttrs are the playlist spellings of an item's artwork, in order of preference
var logoAttrs = []string{"tvg-logo", "logo", "image", "thumbnail"}

// Entry is one raw playlist entry before it becomes a PlayableItem
type Entry struct {
	URL        string
	Name       string
	Attributes map[string]string
}

// ParseM3U parses a playlist body. HLS playlists go through grafov/m3u8,
// everything else (and HLS the decoder rejects) through the EXTINF scanner.
func ParseM3U(body string, src *config.SourceConfig) []Entry {
	if isHLS(body) {
		playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(body), false)
		if err == nil {
			logger.Debug("{catalog/parser - ParseM3U} Decoded HLS playlist from source %s", src.Name)
			return parseHLS(playlist, listType, src)
		}
		logger.Debug("{catalog/parser - ParseM3U} HLS decode failed for source %s, using fallback parser: %v", src.Name, err)
	}
	return parseExtinf(body, src)
}

func isHLS(body string) bool {
	return strings.Contains(body, "#EXT-X-STREAM-INF") || strings.Contains(body, "#EXT-X-TARGETDURATION")
}

// parseHLS turns a master playlist into one entry per variant. A media
// playlist is a single stream: the source URL itself.
func parseHLS(playlist m3u8.Playlist, listType m3u8.ListType, src *config.SourceConfig) []Entry {
	var entries []Entry

	switch listType {
	case m3u8.MEDIA:
		entries = append(entries, Entry{
			URL:        src.URL,
			Name:       src.Name,
			Attributes: map[string]string{},
		})

	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		for _, variant := range master.Variants {
			if variant == nil {
				break
			}

			name := variant.Name
			switch {
			case name == "" && variant.Resolution != "":
				name = fmt.Sprintf("%s %s", src.Name, variant.Resolution)
			case name == "":
				name = fmt.Sprintf("%s %d", src.Name, variant.Bandwidth)
			}

			attrs := map[string]string{}
			if variant.Bandwidth > 0 {
				attrs["bandwidth"] = fmt.Sprintf("%d", variant.Bandwidth)
			}
			if variant.Resolution != "" {
				attrs["resolution"] = variant.Resolution
			}

			entries = append(entries, Entry{
				URL:        resolveRef(src.URL, variant.URI),
				Name:       name,
				Attributes: attrs,
			})
		}
	}
	return entries
}

// resolveRef resolves a variant URI relative to the playlist it came from
func resolveRef(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func parseExtinf(body string, src *config.SourceConfig) []Entry {
	var entries []Entry
	var current map[string]string

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXTINF:"):
			current = ParseEXTINF(line)
		case strings.HasPrefix(line, "#"):
		case current != nil:
			name := current["tvg-name"]
			if name == "" {
				name = "Unknown"
			}
			entries = append(entries, Entry{URL: line, Name: name, Attributes: current})
			current = nil
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("{catalog/parser - parseExtinf} Stopped reading source %s early: %v", src.Name, err)
	}
	return entries
}

// ParseEXTINF extracts the attributes of an EXTINF line. The display name
// after the last unquoted comma is stored as "tvg-name" when present.
func ParseEXTINF(line string) map[string]string {
	attrs := make(map[string]string)
	line = strings.TrimPrefix(line, "#EXTINF:")

	lastComma := -1
	inQuotes := false
	for i := len(line) - 1; i >= 0; i-- {
		if line[i] == '"' {
			inQuotes = !inQuotes
		} else if line[i] == ',' && !inQuotes {
			lastComma = i
			break
		}
	}

	attrPart := line
	if lastComma != -1 {
		attrPart = line[:lastComma]
		if name := strings.TrimSpace(line[lastComma+1:]); name != "" {
			attrs["tvg-name"] = name
		}
	}

	if fields := strings.Fields(attrPart); len(fields) > 0 && !strings.Contains(fields[0], "=") {
		attrs["duration"] = fields[0]
	}
	for _, m := range attrRegex.FindAllStringSubmatch(attrPart, -1) {
		key := strings.ToLower(m[1])
		if key == "tvg-name" {
			// the display name wins over the attribute
			if _, ok := attrs[key]; ok {
				continue
			}
		}
		attrs[key] = m[2]
	}
	return attrs
}

// ToItem builds the catalog item for a parsed entry. Artwork spellings are
// folded into Logo, the kind is detected from name, URL and group, and the
// proxy URL comes from an explicit proxy-url attribute or is derived from
// proxyBaseURL.
func ToItem(e Entry, src *config.SourceConfig, proxyBaseURL string) *types.PlayableItem {
	group := first(e.Attributes, "group-title", "tvg-group")
	item := &types.PlayableItem{
		ID:         itemID(src, e),
		Kind:       filter.DetectKind(e.Name, e.URL, group),
		Name:       e.Name,
		Group:      group,
		Language:   first(e.Attributes, "tvg-language", "language"),
		Genre:      first(e.Attributes, "tvg-genre", "genre"),
		Logo:       first(e.Attributes, logoAttrs...),
		Source:     src.Name,
		PrimaryURL: e.URL,
		ProxyURL:   e.Attributes["proxy-url"],
	}
	if item.ProxyURL == "" && proxyBaseURL != "" {
		if token := utils.SanitizeName(e.Name); token != "" {
			item.ProxyURL = strings.TrimRight(proxyBaseURL, "/") + "/s/" + token
		}
	}
	return item
}

func first(attrs map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(attrs[k]); v != "" {
			return v
		}
	}
	return ""
}

// itemID is stable across imports: a hash of the source name and stream URL.
// tvg-id alone is not unique since providers reuse it across quality variants.
func itemID(src *config.SourceConfig, e Entry) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(src.Name+"\x00"+e.URL))
}
