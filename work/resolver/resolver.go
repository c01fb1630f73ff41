// Package resolver turns a playable item into the concrete parameters a
// player sink needs: which origin to hit, which transport it is, and which
// request headers make the upstream accept the connection.
package resolver

import (
	"errors"
	"fmt"

	"kptv-player/work/classify"
	"kptv-player/work/config"
	"kptv-player/work/types"
	"kptv-player/work/utils"
)

// Code is a stable identifier of a resolution failure
type Code string

const (
	CodeInvalidURL          Code = "invalid_url"
	CodeMalformedYoutubeURL Code = "malformed_youtube_url"
)

// Error is returned when an item cannot be turned into a descriptor.
// Compare with errors.Is against ErrInvalidURL or ErrMalformedYoutubeURL.
type Error struct {
	Code    Code
	Message string
	URL     string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.URL == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, utils.ObfuscateURL(e.URL))
}

// Is matches any *Error carrying the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidURL          = &Error{Code: CodeInvalidURL, Message: "invalid stream url"}
	ErrMalformedYoutubeURL = &Error{Code: CodeMalformedYoutubeURL, Message: "malformed youtube url"}
)

// Descriptor is everything a sink needs to start playback of one origin
type Descriptor struct {
	URI        string             `json:"uri"`
	UsingProxy bool               `json:"usingProxy"`
	Transport  classify.Transport `json:"transport"`
	Headers    map[string]string  `json:"headers,omitempty"`
	VideoID    string             `json:"videoId,omitempty"`
	PlaylistID string             `json:"playlistId,omitempty"`
}

// Resolver builds descriptors with a configurable spoofed user agent
type Resolver struct {
	userAgent string
}

// New returns a Resolver sending userAgent on every non-YouTube request.
// An empty value falls back to config.DefaultUserAgent.
func New(userAgent string) *Resolver {
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	return &Resolver{userAgent: userAgent}
}

var defaultResolver = New("")

// Resolve resolves item with the default desktop user agent
func Resolve(item *types.PlayableItem, preferProxy bool) (Descriptor, error) {
	return defaultResolver.Resolve(item, preferProxy)
}

// Resolve derives the playback descriptor for item.
//
// The item's PrimaryURL is classified first. Invalid URLs fail with
// ErrInvalidURL. YouTube-family URLs never use the proxy and carry no
// headers; the video or playlist id required by the subtype must be
// extractable or ErrMalformedYoutubeURL is returned. For every other
// transport the proxy origin is used only when preferProxy is set and the
// item has a ProxyURL, and the spoofed header set is attached. Referer and
// Origin always come from PrimaryURL, also when the proxy is used.
func (r *Resolver) Resolve(item *types.PlayableItem, preferProxy bool) (Descriptor, error) {
	if item == nil {
		return Descriptor{}, &Error{Code: CodeInvalidURL, Message: ErrInvalidURL.Message}
	}

	c := classify.Classify(item.PrimaryURL)
	if !c.IsPlayable {
		return Descriptor{}, &Error{Code: CodeInvalidURL, Message: ErrInvalidURL.Message, URL: item.PrimaryURL}
	}

	if c.Transport.IsYoutube() {
		return resolveYoutube(item.PrimaryURL, c.Transport)
	}

	d := Descriptor{
		URI:        item.PrimaryURL,
		UsingProxy: preferProxy && item.HasProxy(),
		Transport:  c.Transport,
		Headers:    r.headersFor(item.PrimaryURL),
	}
	if d.UsingProxy {
		d.URI = item.ProxyURL
	}
	return d, nil
}

func resolveYoutube(rawURL string, t classify.Transport) (Descriptor, error) {
	d := Descriptor{URI: rawURL, Transport: t}

	switch t {
	case classify.YoutubeVideo, classify.YoutubeLive:
		id, ok := classify.ExtractVideoID(rawURL)
		if !ok {
			return Descriptor{}, &Error{Code: CodeMalformedYoutubeURL, Message: "youtube url carries no video id", URL: rawURL}
		}
		d.VideoID = id
	case classify.YoutubePlaylist:
		id, ok := classify.ExtractPlaylistID(rawURL)
		if !ok {
			return Descriptor{}, &Error{Code: CodeMalformedYoutubeURL, Message: "youtube url carries no playlist id", URL: rawURL}
		}
		d.PlaylistID = id
	}
	return d, nil
}

// headersFor builds the spoofed request headers for an origin
func (r *Resolver) headersFor(primaryURL string) map[string]string {
	origin := utils.OriginPrefix(primaryURL)
	return map[string]string{
		"User-Agent":      r.userAgent,
		"Referer":         origin,
		"Origin":          origin,
		"Accept":          "*/*",
		"Cache-Control":   "no-cache",
		"Pragma":          "no-cache",
		"Accept-Encoding": "identity",
		"Connection":      "keep-alive",
	}
}
