// Package session runs the playback session state machine: one selected
// item at a time, driven through an external player sink, with a single
// automatic proxy/direct origin fallback per selection.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kptv-player/work/classify"
	"kptv-player/work/logger"
	"kptv-player/work/metrics"
	"kptv-player/work/resolver"
	"kptv-player/work/types"
	"kptv-player/work/utils"
)

const (
	sinkCallTimeout     = 5 * time.Second
	recordTimeout       = 2 * time.Second
	subscriberQueueSize = 64
)

// FailureRecorder is notified of every terminal failure
type FailureRecorder interface {
	RecordFailure(ctx context.Context, f Failure) error
}

// Options configures a Controller
type Options struct {
	// ServerInfo gates proxy usage. Without ProxyEnabled the proxy origin is
	// never tried, even for items that carry a ProxyURL.
	ServerInfo types.ServerInfo

	// RemoteControlOnly selects the TV / set-top box profile: the sink is
	// released on terminal failure and messages are worded for a remote.
	RemoteControlOnly bool

	// LoadTimeout bounds how long a load may stay pending before it counts as
	// a load error. Zero disables it.
	LoadTimeout time.Duration

	// ObfuscateURLs masks stream URLs in log lines
	ObfuscateURLs bool

	Resolver *resolver.Resolver
	Recorder FailureRecorder
	Logger   *logger.Logger
}

// Controller owns one playback session at a time. All commands and sink
// callbacks are serialised through a single loop goroutine; public methods
// are safe for concurrent use.
type Controller struct {
	sink  Sink
	opts  Options
	res   *resolver.Resolver
	log   *logger.Logger
	inbox *mailbox
	done  chan struct{}

	disposeOnce sync.Once

	mu    sync.RWMutex
	snap  Snapshot
	subs  map[chan Snapshot]struct{}
	alive bool

	// loop owned
	state          State
	item           *types.PlayableItem
	transport      classify.Transport
	descriptor     resolver.Descriptor
	preferProxy    bool
	proxyAttempted bool
	exhausted      bool
	loaded         bool
	generation     uint64
	timer          *time.Timer
	errKind        ErrorKind
	reason         FailureReason
	errMessage     string
	sinkMessage    string
	buffering      bool
	position       time.Duration
}

type selectCmd struct {
	item  *types.PlayableItem
	reply chan error
}

type retryCmd struct{ reply chan error }

type toggleCmd struct{ reply chan error }

type playCmd struct {
	pause bool
	reply chan error
}

type disposeCmd struct{}

type timeoutEvent struct{ gen uint64 }

// New creates a controller driving sink and starts its event loop.
// Call Dispose to stop it.
func New(sink Sink, opts Options) *Controller {
	c := &Controller{
		sink:  sink,
		opts:  opts,
		res:   opts.Resolver,
		log:   opts.Logger,
		inbox: newMailbox(),
		done:  make(chan struct{}),
		subs:  make(map[chan Snapshot]struct{}),
		alive: true,
		state: StateIdle,
	}
	if c.res == nil {
		c.res = resolver.New("")
	}
	if c.log == nil {
		c.log = logger.New(logger.GetLogLevel())
	}
	c.snap = c.buildSnapshot()

	go c.run()
	return c
}

// SelectItem replaces the current session with item. Whatever the sink
// holds is unloaded first and the fallback budget is reset. A resolution
// failure is returned and also reflected in the session as a terminal error.
func (c *Controller) SelectItem(ctx context.Context, item *types.PlayableItem) error {
	if item == nil {
		return ErrNoItem
	}
	return c.send(ctx, func(reply chan error) any { return selectCmd{item: item, reply: reply} })
}

// Retry reloads the current item with the last used origin preference.
// It is only available in a non-exhausted error state.
func (c *Controller) Retry(ctx context.Context) error {
	return c.send(ctx, func(reply chan error) any { return retryCmd{reply: reply} })
}

// ToggleOrigin switches between the proxy and the direct origin of the
// current item. It is only available when the item has an alternate origin.
func (c *Controller) ToggleOrigin(ctx context.Context) error {
	return c.send(ctx, func(reply chan error) any { return toggleCmd{reply: reply} })
}

// Play resumes playback on the sink
func (c *Controller) Play(ctx context.Context) error {
	return c.send(ctx, func(reply chan error) any { return playCmd{reply: reply} })
}

// Pause pauses playback on the sink
func (c *Controller) Pause(ctx context.Context) error {
	return c.send(ctx, func(reply chan error) any { return playCmd{pause: true, reply: reply} })
}

// Dispose stops the controller, unloads the sink if it holds a load and
// closes all subscriptions. It is idempotent, safe before any selection and
// returns once the loop has exited.
func (c *Controller) Dispose() {
	c.disposeOnce.Do(func() {
		c.inbox.post(disposeCmd{})
	})
	<-c.done
}

// Snapshot returns the current observable state
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Subscribe returns a channel receiving every published snapshot, starting
// with the current one. Slow subscribers miss intermediate snapshots. The
// channel is closed by cancel or by Dispose.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberQueueSize)

	c.mu.Lock()
	if !c.alive {
		close(ch)
		c.mu.Unlock()
		return ch, func() {}
	}
	ch <- c.snap
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

// Done is closed once the controller has been disposed
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) send(ctx context.Context, build func(chan error) any) error {
	reply := make(chan error, 1)
	if !c.inbox.post(build(reply)) {
		return ErrDisposed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		// the loop may have answered right before exiting
		select {
		case err := <-reply:
			return err
		default:
			return ErrDisposed
		}
	}
}

func (c *Controller) run() {
	defer close(c.done)
	for range c.inbox.signal {
		for {
			msg, ok := c.inbox.next()
			if !ok {
				break
			}
			if _, stop := msg.(disposeCmd); stop {
				c.shutdown()
				return
			}
			c.handle(msg)
		}
	}
}

func (c *Controller) handle(msg any) {
	switch m := msg.(type) {
	case selectCmd:
		m.reply <- c.selectItem(m.item)
	case retryCmd:
		m.reply <- c.retry()
	case toggleCmd:
		m.reply <- c.toggleOrigin()
	case playCmd:
		m.reply <- c.playPause(m.pause)
	case sinkEvent:
		c.handleSinkEvent(m)
	case timeoutEvent:
		c.handleTimeout(m.gen)
	}
}

func (c *Controller) selectItem(item *types.PlayableItem) error {
	c.item = item
	c.transport = classify.Classify(item.PrimaryURL).Transport
	c.proxyAttempted = false
	c.exhausted = false
	c.preferProxy = c.opts.ServerInfo.ProxyEnabled && !c.transport.IsYoutube()

	c.log.Info("{session/controller - selectItem} selected %q (%s) transport %s", item.Name, item.ID, c.transport)
	return c.startLoad()
}

func (c *Controller) retry() error {
	if c.item == nil {
		return ErrNoItem
	}
	if c.state != StateError || c.exhausted {
		return ErrRetryUnavailable
	}
	c.log.Info("{session/controller - retry} manual retry of %s (proxy: %v)", c.item.ID, c.preferProxy)
	return c.startLoad()
}

func (c *Controller) toggleOrigin() error {
	if c.item == nil || c.state == StateIdle {
		return ErrNoItem
	}
	if c.exhausted || !c.hasAlternate() {
		return ErrNoAlternateOrigin
	}
	c.proxyAttempted = true
	c.preferProxy = !c.descriptor.UsingProxy
	c.log.Info("{session/controller - toggleOrigin} manual switch of %s to proxy: %v", c.item.ID, c.preferProxy)
	return c.startLoad()
}

func (c *Controller) playPause(pause bool) error {
	if c.state != StatePlaying || !c.loaded {
		return ErrNotPlaying
	}
	if pause {
		return c.callSink("pause", c.sink.Pause)
	}
	return c.callSink("play", c.sink.Play)
}

// hasAlternate reports whether the current item can switch between proxy and direct
func (c *Controller) hasAlternate() bool {
	return c.opts.ServerInfo.ProxyEnabled && c.item.HasProxy() && !c.transport.IsYoutube()
}

// startLoad supersedes any in-flight load and loads the current item with
// the current origin preference. Only resolution errors are returned; sink
// failures go through the fallback policy.
func (c *Controller) startLoad() error {
	c.stopTimer()
	c.generation++
	gen := c.generation
	c.unloadSink()
	c.buffering = false
	c.position = 0

	d, err := c.res.Resolve(c.item, c.preferProxy)
	if err != nil {
		c.failResolution(err)
		return err
	}

	c.descriptor = d
	c.transport = d.Transport
	c.state = StateLoading
	c.clearError()
	c.publish()

	origin := "direct"
	if d.UsingProxy {
		origin = "proxy"
	}
	metrics.SessionLoads.WithLabelValues(string(d.Transport), origin).Inc()
	c.log.Debug("{session/controller - startLoad} generation %d loading %s via %s",
		gen, utils.LogURLWithFlag(c.opts.ObfuscateURLs, d.URI), origin)

	ctx, cancel := context.WithTimeout(context.Background(), sinkCallTimeout)
	err = c.callSink("load", func() error {
		return c.sink.Load(ctx, d, reporter{box: c.inbox, gen: gen})
	})
	cancel()
	c.loaded = true

	if err != nil {
		c.handleFailure(gen, ErrorSinkLoad, err)
		return nil
	}

	if c.opts.LoadTimeout > 0 && c.generation == gen && c.state == StateLoading {
		c.timer = time.AfterFunc(c.opts.LoadTimeout, func() {
			c.inbox.post(timeoutEvent{gen: gen})
		})
	}
	return nil
}

func (c *Controller) handleSinkEvent(ev sinkEvent) {
	if ev.gen != c.generation {
		metrics.SupersededEvents.Inc()
		c.log.Debug("{session/controller - handleSinkEvent} dropping event of superseded generation %d (current %d)", ev.gen, c.generation)
		return
	}

	switch ev.kind {
	case sinkLoadStart:
		c.log.Debug("{session/controller - handleSinkEvent} sink started loading generation %d", ev.gen)
	case sinkReady:
		if c.state != StateLoading {
			return
		}
		c.stopTimer()
		c.state = StatePlaying
		c.clearError()
		c.publish()
		c.log.Info("{session/controller - handleSinkEvent} %s is playing (proxy: %v)", c.item.ID, c.descriptor.UsingProxy)
	case sinkError:
		c.handleFailure(ev.gen, c.errorKindForState(), ev.err)
	case sinkStatus:
		if ev.status.Err != nil {
			c.handleFailure(ev.gen, c.errorKindForState(), ev.status.Err)
			return
		}
		if c.state == StatePlaying {
			c.buffering = ev.status.Buffering
			c.position = ev.status.Position
			c.publish()
		}
	}
}

func (c *Controller) handleTimeout(gen uint64) {
	if gen != c.generation || c.state != StateLoading {
		return
	}
	c.log.Warn("{session/controller - handleTimeout} load of %s timed out after %s", c.item.ID, c.opts.LoadTimeout)
	c.handleFailure(gen, ErrorSinkLoad, ErrLoadTimeout)
}

func (c *Controller) errorKindForState() ErrorKind {
	if c.state == StatePlaying {
		return ErrorSinkRuntime
	}
	return ErrorSinkLoad
}

// handleFailure applies the fallback policy to a sink failure of the current
// generation: one automatic origin switch per selection, then terminal.
func (c *Controller) handleFailure(gen uint64, kind ErrorKind, err error) {
	if gen != c.generation {
		metrics.SupersededEvents.Inc()
		return
	}
	if c.state != StateLoading && c.state != StatePlaying {
		return
	}
	c.stopTimer()

	label := string(kind)
	if errors.Is(err, ErrLoadTimeout) {
		label = "timeout"
	}
	metrics.SinkErrors.WithLabelValues(label).Inc()
	c.sinkMessage = describeSinkError(err)
	c.log.Warn("{session/controller - handleFailure} %s on %s (proxy: %v): %v", kind, c.item.ID, c.descriptor.UsingProxy, err)

	if c.hasAlternate() && !c.proxyAttempted {
		c.proxyAttempted = true
		c.preferProxy = !c.descriptor.UsingProxy
		metrics.SessionFallbacks.WithLabelValues(string(c.transport)).Inc()
		c.log.Info("{session/controller - handleFailure} falling back to proxy: %v for %s", c.preferProxy, c.item.ID)
		c.startLoad()
		return
	}

	reason := ReasonNoAlternateOrigin
	switch {
	case c.transport.IsYoutube():
		reason = ReasonYoutubeFailed
	case c.proxyAttempted:
		reason = ReasonBothOriginsFailed
	}
	c.fail(kind, reason, true)
}

// failResolution turns a resolver error into a non-retryable terminal error
func (c *Controller) failResolution(err error) {
	c.descriptor = resolver.Descriptor{}
	c.exhausted = true
	c.sinkMessage = ""

	kind, reason := ErrorInvalidURL, ReasonInvalidURL
	if errors.Is(err, resolver.ErrMalformedYoutubeURL) {
		kind, reason = ErrorMalformedYoutube, ReasonMalformedYoutubeURL
	}
	c.log.Warn("{session/controller - failResolution} cannot resolve %s: %v", c.item.ID, err)
	c.fail(kind, reason, false)
}

func (c *Controller) fail(kind ErrorKind, reason FailureReason, retryable bool) {
	c.state = StateError
	c.errKind = kind
	c.reason = reason
	c.errMessage = failureMessage(reason, c.opts.RemoteControlOnly, retryable, retryable && c.hasAlternate())

	// a remote-only device returns focus to the channel list, so free the decoder
	if c.opts.RemoteControlOnly {
		c.unloadSink()
	}

	metrics.SessionFailures.WithLabelValues(string(reason)).Inc()
	c.publish()
	c.record()
}

func (c *Controller) record() {
	if c.opts.Recorder == nil || c.item == nil {
		return
	}
	f := Failure{
		ItemID:         c.item.ID,
		ItemName:       c.item.Name,
		Transport:      c.transport,
		Kind:           c.errKind,
		Reason:         c.reason,
		Message:        c.sinkMessage,
		UsingProxy:     c.descriptor.UsingProxy,
		ProxyAttempted: c.proxyAttempted,
		At:             time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := c.opts.Recorder.RecordFailure(ctx, f); err != nil {
		c.log.Error("{session/controller - record} failed to record failure for %s: %v", c.item.ID, err)
	}
}

func (c *Controller) clearError() {
	c.errKind = ErrorNone
	c.reason = ReasonNone
	c.errMessage = ""
	c.sinkMessage = ""
}

// unloadSink releases the sink when it holds a load. Failures are logged only.
func (c *Controller) unloadSink() {
	if !c.loaded {
		return
	}
	c.loaded = false
	ctx, cancel := context.WithTimeout(context.Background(), sinkCallTimeout)
	defer cancel()
	if err := c.callSink("unload", func() error { return c.sink.Unload(ctx) }); err != nil {
		c.log.Warn("{session/controller - unloadSink} unload failed: %v", err)
	}
}

// callSink runs a sink operation and converts a panic into an error
func (c *Controller) callSink(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink %s panicked: %v", op, r)
		}
	}()
	return fn()
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) shutdown() {
	c.stopTimer()
	c.generation++
	c.unloadSink()

	for _, msg := range c.inbox.close() {
		switch m := msg.(type) {
		case selectCmd:
			m.reply <- ErrDisposed
		case retryCmd:
			m.reply <- ErrDisposed
		case toggleCmd:
			m.reply <- ErrDisposed
		case playCmd:
			m.reply <- ErrDisposed
		}
	}

	c.state = StateIdle
	c.item = nil
	c.descriptor = resolver.Descriptor{}
	c.clearError()

	c.mu.Lock()
	c.snap = c.buildSnapshot()
	c.snap.Disposed = true
	c.alive = false
	for ch := range c.subs {
		select {
		case ch <- c.snap:
		default:
		}
		close(ch)
		delete(c.subs, ch)
	}
	c.mu.Unlock()

	c.log.Debug("{session/controller - shutdown} controller disposed")
}

func (c *Controller) buildSnapshot() Snapshot {
	s := Snapshot{
		State:                 c.state,
		Terminal:              c.state == StateError,
		Transport:             c.transport,
		URI:                   c.descriptor.URI,
		UsingProxy:            c.descriptor.UsingProxy,
		ProxyAttempted:        c.proxyAttempted,
		ErrorKind:             c.errKind,
		ErrorMessage:          c.errMessage,
		SinkMessage:           c.sinkMessage,
		TerminalFailureReason: c.reason,
		Buffering:             c.buffering,
		Position:              c.position,
		Generation:            c.generation,
	}
	if c.item != nil {
		s.ItemID = c.item.ID
		s.ItemName = c.item.Name
		s.CanRetry = c.state == StateError && !c.exhausted
		s.CanToggleOrigin = c.state != StateIdle && !c.exhausted && c.hasAlternate()
	} else {
		s.Transport = ""
	}
	return s
}

// publish stores a fresh snapshot and fans it out to subscribers
func (c *Controller) publish() {
	snap := c.buildSnapshot()

	c.mu.Lock()
	c.snap = snap
	for ch := range c.subs {
		select {
		case ch <- snap:
		default:
			// slow subscriber, drop
		}
	}
	c.mu.Unlock()

	for _, st := range allStates {
		v := 0.0
		if st == snap.State {
			v = 1
		}
		metrics.SessionState.WithLabelValues(string(st)).Set(v)
	}
}
