// Package sink holds player sinks usable by the session controller.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grafov/m3u8"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/ratelimit"

	"kptv-player/work/classify"
	"kptv-player/work/client"
	"kptv-player/work/logger"
	"kptv-player/work/metrics"
	"kptv-player/work/resolver"
	"kptv-player/work/session"
	"kptv-player/work/utils"
)

const (
	maxPlaylistBytes = 2 << 20
	defaultMinBytes  = 188 // one MPEG-TS packet
	defaultWorkers   = 2
)

// ProbeOptions tunes a ProbeSink
type ProbeOptions struct {
	Timeout       time.Duration // bound of a single probe
	RatePerSecond int           // outbound probe limit
	MinBytes      int           // bytes a progressive stream must deliver before ready
	Workers       int           // size of the sink's own probe pool
	ObfuscateURLs bool
}

// ProbeSink is a headless player: loading a descriptor connects to the
// stream with the descriptor's headers and reports ready once the upstream
// delivers a valid playlist or the first media bytes. It lets the daemon
// and integration tests exercise the full fallback policy without a decoder.
type ProbeSink struct {
	client  *client.HeaderSettingClient
	pool    *ants.Pool
	limiter ratelimit.Limiter
	opts    ProbeOptions

	mu     sync.Mutex
	cancel context.CancelFunc
	loads  uint64

	paused atomic.Bool
}

// NewProbeSink creates a probe sink with its own non-blocking worker pool.
// Load runs on the session loop, so a full pool is reported as busy
// instead of waiting for a free worker. Call Close to release the pool.
func NewProbeSink(httpClient *client.HeaderSettingClient, opts ProbeOptions) (*ProbeSink, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 10
	}
	if opts.MinBytes <= 0 {
		opts.MinBytes = defaultMinBytes
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}

	pool, err := ants.NewPool(opts.Workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create probe pool: %w", err)
	}

	return &ProbeSink{
		client:  httpClient,
		pool:    pool,
		limiter: ratelimit.New(opts.RatePerSecond),
		opts:    opts,
	}, nil
}

// Close cancels the running probe and releases the worker pool
func (p *ProbeSink) Close() {
	_ = p.Unload(context.Background())
	p.pool.Release()
}

// Load cancels any running probe and starts probing d in the background
func (p *ProbeSink) Load(ctx context.Context, d resolver.Descriptor, rep session.Reporter) error {
	if err := ctx.Err(); err != nil {
		return &session.SinkError{Code: "cancelled", Message: "Loading was cancelled", Err: err}
	}

	probeCtx, cancel := context.WithTimeout(context.Background(), p.opts.Timeout)

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.loads++
	p.mu.Unlock()
	p.paused.Store(false)

	err := p.pool.Submit(func() {
		p.probe(probeCtx, d, rep)
	})
	if err != nil {
		cancel()
		if errors.Is(err, ants.ErrPoolOverload) {
			logger.Warn("{sink/probe - Load} probe pool is full, rejecting %s", utils.LogURLWithFlag(p.opts.ObfuscateURLs, d.URI))
		}
		return &session.SinkError{Code: "busy", Message: "The player is busy, try again", Err: err}
	}
	return nil
}

// Unload cancels the running probe, if any
func (p *ProbeSink) Unload(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	return nil
}

// Play resumes a paused session. The probe sink has no decoder, so this only tracks the flag.
func (p *ProbeSink) Play() error {
	p.paused.Store(false)
	return nil
}

// Pause marks the session paused
func (p *ProbeSink) Pause() error {
	p.paused.Store(true)
	return nil
}

// Loads returns how many descriptors were loaded so far
func (p *ProbeSink) Loads() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads
}

// Paused reports the play/pause flag
func (p *ProbeSink) Paused() bool {
	return p.paused.Load()
}

func (p *ProbeSink) probe(ctx context.Context, d resolver.Descriptor, rep session.Reporter) {
	start := time.Now()
	rep.LoadStart()

	err := p.check(ctx, d)
	if ctx.Err() == context.Canceled {
		// unloaded or superseded, nobody is listening
		return
	}

	result := "ready"
	if err != nil {
		result = "error"
	}
	metrics.ProbeDuration.WithLabelValues(string(d.Transport), result).Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Debug("{sink/probe - probe} probe of %s failed: %v", utils.LogURLWithFlag(p.opts.ObfuscateURLs, d.URI), err)
		rep.Error(err)
		return
	}
	logger.Debug("{sink/probe - probe} %s ready in %s", utils.LogURLWithFlag(p.opts.ObfuscateURLs, d.URI), time.Since(start))
	rep.Ready()
}

// check connects to the descriptor and validates what comes back
func (p *ProbeSink) check(ctx context.Context, d resolver.Descriptor) error {
	if d.Transport == classify.RTMP {
		return &session.SinkError{Code: "unsupported", Message: "RTMP streams cannot be probed over HTTP"}
	}

	p.limiter.Take()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URI, nil)
	if err != nil {
		return &session.SinkError{Code: "invalid_request", Message: "The stream address cannot be requested", Err: err}
	}

	resp, err := p.client.DoWithHeaders(req, d.Headers)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &session.SinkError{Code: "timeout", Message: "The stream did not answer in time", Err: err}
		}
		return &session.SinkError{Code: "network_error", Message: "Could not reach the stream", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return &session.SinkError{
			Code:    "http_status",
			Message: fmt.Sprintf("The stream responded with HTTP %d", resp.StatusCode),
		}
	}

	if isPlaylist(d.Transport, resp.Header.Get("Content-Type")) {
		return checkPlaylist(resp.Body)
	}
	return p.checkBytes(resp.Body)
}

func isPlaylist(t classify.Transport, contentType string) bool {
	if t == classify.HLS {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "mpegurl")
}

// checkPlaylist decodes an HLS playlist and requires at least one variant or segment
func checkPlaylist(body io.Reader) error {
	playlist, listType, err := m3u8.DecodeFrom(io.LimitReader(body, maxPlaylistBytes), false)
	if err != nil {
		return &session.SinkError{Code: "invalid_playlist", Message: "The stream playlist is invalid", Err: err}
	}

	switch listType {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		if len(master.Variants) == 0 {
			return &session.SinkError{Code: "empty_playlist", Message: "The stream playlist has no variants"}
		}
	case m3u8.MEDIA:
		media := playlist.(*m3u8.MediaPlaylist)
		if media.Count() == 0 {
			return &session.SinkError{Code: "empty_playlist", Message: "The stream playlist has no segments"}
		}
	}
	return nil
}

// checkBytes waits for the first MinBytes of a progressive stream
func (p *ProbeSink) checkBytes(body io.Reader) error {
	buf := make([]byte, p.opts.MinBytes)
	if _, err := io.ReadFull(body, buf); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &session.SinkError{Code: "timeout", Message: "The stream did not deliver data in time", Err: err}
		}
		return &session.SinkError{Code: "short_read", Message: "The stream ended before any media arrived", Err: err}
	}
	return nil
}
