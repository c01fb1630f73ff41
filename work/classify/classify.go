// Package classify maps arbitrary media URLs onto the transport families the
// player knows how to drive. Classification is pure and deterministic: the same
// URL always yields the same transport, and nothing is cached.
package classify

import (
	"net/url"
	"strings"

	"github.com/grafana/regexp"
)

// Transport is the media transport family a URL belongs to
type Transport string

const (
	YoutubeVideo    Transport = "youtube_video"
	YoutubeLive     Transport = "youtube_live"
	YoutubePlaylist Transport = "youtube_playlist"
	YoutubeChannel  Transport = "youtube_channel"
	HLS             Transport = "hls"
	MP4             Transport = "mp4"
	MKV             Transport = "mkv"
	IPTV            Transport = "iptv"
	RTMP            Transport = "rtmp"
	GenericStream   Transport = "generic_stream"
	Invalid         Transport = "invalid"
)

// IsYoutube reports whether the transport is handled by the embedded YouTube bridge
func (t Transport) IsYoutube() bool {
	switch t {
	case YoutubeVideo, YoutubeLive, YoutubePlaylist, YoutubeChannel:
		return true
	}
	return false
}

func (t Transport) String() string {
	return string(t)
}

// Classification is the result of classifying a URL
type Classification struct {
	Transport  Transport `json:"transport"`
	IsPlayable bool      `json:"isPlayable"`
}

var (
	mp4QueryRegex  = regexp.MustCompile(`\.(mp4|m4v|mov)\?`)
	portRegex      = regexp.MustCompile(`:\d{4}`)
	videoIDRegex   = regexp.MustCompile(`(?i:youtu\.be/|watch\?v=|/live/|/embed/)([A-Za-z0-9_-]{11})(?:[^A-Za-z0-9_-]|$)`)
	playlistRegex  = regexp.MustCompile(`[?&](?i:list)=([A-Za-z0-9_-]+)`)
	youtubeHostSet = []string{"youtube.com", "youtu.be"}
)

// Classify determines the transport family of a URL.
//
// Rules are evaluated in order and the first match wins:
//  1. empty or whitespace input is Invalid
//  2. YouTube hosts split into live, video, playlist and channel
//  3. HLS markers (.m3u8, m3u, chunklist, /hls/)
//  4. MP4 (any ".mp4" occurrence, or .mp4/.m4v/.mov followed by a query)
//  5. MKV
//  6. IPTV (a ":dddd" port or a "/live/" path)
//  7. RTMP scheme
//  8. any other http(s) URL is a generic progressive stream
//  9. everything else is Invalid
//
// Matching is case-insensitive.
func Classify(rawURL string) Classification {
	t := classify(rawURL)
	return Classification{Transport: t, IsPlayable: t != Invalid}
}

func classify(rawURL string) Transport {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return Invalid
	}
	lower := strings.ToLower(trimmed)

	if isYoutubeHost(lower) {
		return classifyYoutube(lower)
	}

	switch {
	case strings.Contains(lower, ".m3u8"),
		strings.Contains(lower, "m3u"),
		strings.Contains(lower, "chunklist"),
		strings.Contains(lower, "/hls/"):
		return HLS
	case strings.Contains(lower, ".mp4"), mp4QueryRegex.MatchString(lower):
		return MP4
	case strings.Contains(lower, ".mkv"):
		return MKV
	case portRegex.MatchString(lower), strings.Contains(lower, "/live/"):
		return IPTV
	case strings.HasPrefix(lower, "rtmp://"):
		return RTMP
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return GenericStream
	}
	return Invalid
}

// isYoutubeHost checks the host part when the URL parses, and the raw
// string for scheme-less input such as "youtu.be/abc".
func isYoutubeHost(lower string) bool {
	host := lower
	if u, err := url.Parse(lower); err == nil && u.Host != "" {
		host = u.Host
	} else if i := strings.IndexAny(lower, "/?#"); i >= 0 {
		host = lower[:i]
	}
	for _, h := range youtubeHostSet {
		if strings.Contains(host, h) {
			return true
		}
	}
	return false
}

func classifyYoutube(lower string) Transport {
	switch {
	case strings.Contains(lower, "live"):
		return YoutubeLive
	case strings.Contains(lower, "watch?v"):
		return YoutubeVideo
	case strings.Contains(lower, "playlist"), strings.Contains(lower, "list"):
		return YoutubePlaylist
	}

	path := lower
	if u, err := url.Parse(lower); err == nil && u.Host != "" {
		path = u.Path
	}
	if strings.Contains(path, "/c/") || strings.Contains(path, "/@") || strings.Contains(path, "/channel/") {
		return YoutubeChannel
	}
	return YoutubeVideo
}

// ExtractVideoID returns the 11 character YouTube video id following
// "youtu.be/", "watch?v=", "/live/" or "/embed/". Tokens of any other
// length yield ("", false).
func ExtractVideoID(rawURL string) (string, bool) {
	m := videoIDRegex.FindStringSubmatch(rawURL)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// ExtractPlaylistID returns the value of the "list" query parameter
func ExtractPlaylistID(rawURL string) (string, bool) {
	m := playlistRegex.FindStringSubmatch(rawURL)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}
