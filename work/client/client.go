package client

import (
	"net/http"
	"time"

	"kptv-player/work/config"
)

// HeaderSettingClient wraps http.Client to automatically set request headers.
// Catalog imports use the per-source header set, playback probes use the
// header set carried by a resolved descriptor.
type HeaderSettingClient struct {
	Client    *http.Client
	userAgent string
}

// NewHeaderSettingClient builds a client with pooled keep-alive connections.
// There is no overall timeout since callers bound requests with a context;
// headerTimeout only limits the wait for response headers.
func NewHeaderSettingClient(userAgent string, headerTimeout time.Duration) *HeaderSettingClient {
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	if headerTimeout <= 0 {
		headerTimeout = 30 * time.Second
	}

	client := &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: headerTimeout,
		},
	}

	return &HeaderSettingClient{
		Client:    client,
		userAgent: userAgent,
	}
}

// Do sends req with the default header set
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setDefaultHeaders(req)
	return hsc.Client.Do(req)
}

// DoWithHeaders sends req with the default header set overridden by headers
func (hsc *HeaderSettingClient) DoWithHeaders(req *http.Request, headers map[string]string) (*http.Response, error) {
	hsc.setDefaultHeaders(req)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return hsc.Client.Do(req)
}

// DoForSource sends a playlist request with the source's configured UA, Origin and Referer
func (hsc *HeaderSettingClient) DoForSource(req *http.Request, src *config.SourceConfig) (*http.Response, error) {
	hsc.setDefaultHeaders(req)
	if src != nil {
		if src.UserAgent != "" {
			req.Header.Set("User-Agent", src.UserAgent)
		}
		if src.ReqOrigin != "" {
			req.Header.Set("Origin", src.ReqOrigin)
		}
		if src.ReqReferrer != "" {
			req.Header.Set("Referer", src.ReqReferrer)
		}
	}
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setDefaultHeaders(req *http.Request) {
	req.Header.Set("User-Agent", hsc.userAgent)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept", "*/*")
}
