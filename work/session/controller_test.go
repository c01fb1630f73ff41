package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"kptv-player/work/classify"
	"kptv-player/work/logger"
	"kptv-player/work/metrics"
	"kptv-player/work/resolver"
	"kptv-player/work/types"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func proxiedItem(id string) *types.PlayableItem {
	return &types.PlayableItem{
		ID:         id,
		Name:       "Channel " + id,
		Kind:       types.KindLive,
		PrimaryURL: "http://origin.example.com/live/user/pass/" + id + ".ts",
		ProxyURL:   "http://proxy.local:9090/s/Channel_" + id,
	}
}

func directItem(id string) *types.PlayableItem {
	return &types.PlayableItem{
		ID:         id,
		Name:       "Movie " + id,
		Kind:       types.KindMovie,
		PrimaryURL: "https://cdn.example.com/movies/" + id + ".mp4",
	}
}

func newTestController(t *testing.T, sink Sink, opts Options) *Controller {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logger.New("ERROR")
	}
	c := New(sink, opts)
	t.Cleanup(c.Dispose)
	return c
}

func proxyOpts() Options {
	return Options{ServerInfo: types.ServerInfo{ProxyEnabled: true}}
}

func waitSnapshot(t *testing.T, c *Controller, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return cond(c.Snapshot()) }, waitFor, tick)
	return c.Snapshot()
}

// barrier returns once every message posted before it has been handled
func barrier(t *testing.T, c *Controller) {
	t.Helper()
	_ = c.Play(context.Background())
}

func TestSelectItemPrefersProxyAndPlays(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, proxyOpts())

	require.NoError(t, c.SelectItem(context.Background(), proxiedItem("1")))
	require.Equal(t, 1, sink.loadCount())

	d := sink.load(0)
	assert.True(t, d.UsingProxy)
	assert.Equal(t, "http://proxy.local:9090/s/Channel_1", d.URI)
	assert.Equal(t, "http://origin.example.com", d.Headers["Referer"])

	snap := c.Snapshot()
	assert.Equal(t, StateLoading, snap.State)
	assert.True(t, snap.UsingProxy)
	assert.Equal(t, classify.IPTV, snap.Transport)
	assert.True(t, snap.CanToggleOrigin)
	assert.False(t, snap.CanRetry)

	sink.reporter(0).LoadStart()
	sink.reporter(0).Ready()
	snap = waitSnapshot(t, c, func(s Snapshot) bool { return s.State == StatePlaying })
	assert.False(t, snap.Terminal)
	assert.Empty(t, snap.ErrorMessage)
}

func TestProxyDisabledNeverUsesProxy(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, Options{})

	require.NoError(t, c.SelectItem(context.Background(), proxiedItem("1")))
	assert.False(t, sink.load(0).UsingProxy)
	assert.False(t, c.Snapshot().CanToggleOrigin)

	sink.reporter(0).Error(errors.New("403"))
	snap := waitSnapshot(t, c, func(s Snapshot) bool { return s.Terminal })
	assert.Equal(t, ReasonNoAlternateOrigin, snap.TerminalFailureReason)
	assert.Equal(t, 1, sink.loadCount())
	assert.ErrorIs(t, c.ToggleOrigin(context.Background()), ErrNoAlternateOrigin)
}

func TestSingleFallbackThenTerminal(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, proxyOpts())
	updates, cancel := c.Subscribe()
	defer cancel()

	fallbacksBefore := testutil.ToFloat64(metrics.SessionFallbacks.WithLabelValues(string(classify.IPTV)))

	require.NoError(t, c.SelectItem(context.Background(), proxiedItem("1")))
	sink.reporter(0).Error(errors.New("proxy refused"))
	require.Eventually(t, func() bool { return sink.loadCount() == 2 }, waitFor, tick)

	second := sink.load(1)
	assert.False(t, second.UsingProxy)
	assert.Equal(t, "http://origin.example.com/live/user/pass/1.ts", second.URI)

	sink.reporter(1).Error(errors.New("origin refused"))
	snap := waitSnapshot(t, c, func(s Snapshot) bool { return s.Terminal })

	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, ErrorSinkLoad, snap.ErrorKind)
	assert.Equal(t, ReasonBothOriginsFailed, snap.TerminalFailureReason)
	assert.Contains(t, snap.ErrorMessage, "both the proxy and the direct origin")
	assert.True(t, snap.CanToggleOrigin)
	assert.Contains(t, snap.ErrorMessage, "switch between the proxy and the direct origin")
	assert.True(t, snap.ProxyAttempted)
	assert.True(t, snap.CanRetry)
	assert.Equal(t, 2, sink.loadCount())
	assert.Equal(t, fallbacksBefore+1, testutil.ToFloat64(metrics.SessionFallbacks.WithLabelValues(string(classify.IPTV))))

	// exactly one Loading re-entry between the two errors
	loadingGenerations := map[uint64]bool{}
	for s := range updates {
		if s.State == StateLoading {
			loadingGenerations[s.Generation] = true
		}
		if s.Terminal {
			break
		}
	}
	assert.Len(t, loadingGenerations, 2)
}

func TestNoProxyFailsTerminalImmediately(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, proxyOpts())
	updates, cancel := c.Subscribe()
	defer cancel()

	require.NoError(t, c.SelectItem(context.Background(), directItem("m1")))
	assert.False(t, sink.load(0).UsingProxy)

	sink.reporter(0).Error(errors.New("404"))
	snap := waitSnapshot(t, c, func(s Snapshot) bool { return s.Terminal })

	assert.Equal(t, ReasonNoAlternateOrigin, snap.TerminalFailureReason)
	assert.Contains(t, snap.ErrorMessage, "no alternate origin")
	assert.NotContains(t, snap.ErrorMessage, "switch between")
	assert.False(t, snap.ProxyAttempted)
	assert.Equal(t, 1, sink.loadCount())

	loading := 0
	for s := range updates {
		if s.State == StateLoading {
			loading++
		}
		if s.Terminal {
			break
		}
	}
	assert.Equal(t, 1, loading)
}

func TestStaleCallbacksAreIgnored(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, proxyOpts())
	ctx := context.Background()

	before := testutil.ToFloat64(metrics.SupersededEvents)

	require.NoError(t, c.SelectItem(ctx, proxiedItem("A")))
	require.NoError(t, c.SelectItem(ctx, proxiedItem("B")))
	require.Equal(t, 2, sink.loadCount())
	assert.Equal(t, 1, sink.unloadCount())

	sink.reporter(0).Error(errors.New("late failure of A"))
	sink.reporter(0).Ready()
	barrier(t, c)

	snap := c.Snapshot()
	assert.Equal(t, "B", snap.ItemID)
	assert.Equal(t, StateLoading, snap.State)
	assert.True(t, snap.UsingProxy)
	assert.False(t, snap.ProxyAttempted)
	assert.Equal(t, 2, sink.loadCount())
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.SupersededEvents))

	sink.reporter(1).Ready()
	snap = waitSnapshot(t, c, func(s Snapshot) bool { return s.State == StatePlaying })
	assert.Equal(t, "B", snap.ItemID)
}

func TestStaleCallbackAfterFallbackIsIgnored(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, proxyOpts())

	require.NoError(t, c.SelectItem(context.Background(), proxiedItem("1")))
	sink.reporter(0).Error(errors.New("proxy down"))
	require.Eventually(t, func() bool { return sink.loadCount() == 2 }, waitFor, tick)

	// a second error from the proxy attempt must not consume the direct attempt
	sink.reporter(0).Error(errors.New("proxy down again"))
	barrier(t, c)
	assert.Equal(t, StateLoading, c.Snapshot().State)

	sink.reporter(1).Ready()
	waitSnapshot(t, c, func(s Snapshot) bool { return s.State == StatePlaying })
}

func TestSelectingNewItemResetsFallbackBudget(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, proxyOpts())
	ctx := context.Background()

	require.NoError(t, c.SelectItem(ctx, proxiedItem("1")))
	sink.reporter(0).Error(errors.New("x"))
	require.Eventually(t, func() bool { return sink.loadCount() == 2 }, waitFor, tick)

	require.NoError(t, c.SelectItem(ctx, proxiedItem("2")))
	snap := c.Snapshot()
	assert.False(t, snap.ProxyAttempted)
	assert.True(t, snap.UsingProxy)

	sink.reporter(2).Error(errors.New("y"))
	require.Eventually(t, func() bool { return sink.loadCount() == 4 }, waitFor, tick)
	assert.False(t, sink.load(3).UsingProxy)
}

func TestRuntimeErrorAfterPlayingFallsBack(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, proxyOpts())

	require.NoError(t, c.SelectItem(context.Background(), proxiedItem("1")))
	sink.reporter(0).Ready()
	waitSnapshot(t, c, func(s Snapshot) bool { return s.State == StatePlaying })

	sink.reporter(0).Status(PlaybackStatus{Position: 3 * time.Second})
	waitSnapshot(t, c, func(s Snapshot) bool { return s.Position == 3*time.Second })

	sink.reporter(0).Status(PlaybackStatus{Err: errors.New("decoder stalled")})
	require.Eventually(t, func() bool { return sink.loadCount() == 2 }, waitFor, tick)

	sink.reporter(1).Ready()
	waitSnapshot(t, c, func(s Snapshot) bool { return s.State == StatePlaying })
	sink.reporter(1).Error(errors.New("dropped"))

	snap := waitSnapshot(t, c, func(s Snapshot) bool { return s.Terminal })
	assert.Equal(t, ErrorSinkRuntime, snap.ErrorKind)
	assert.Equal(t, ReasonBothOriginsFailed, snap.TerminalFailureReason)
}

func TestLoadErrorsReturnedFromSinkFallBack(t *testing.T) {
	sink := &fakeSink{onLoad: func(n int, _ resolver.Descriptor, _ Reporter) error {
		return &SinkError{Code: "http_status", Message: "Stream unavailable"}
	}}
	c := newTestController(t, sink, proxyOpts())

	require.NoError(t, c.SelectItem(context.Background(), proxiedItem("1")))

	snap := c.Snapshot()
	assert.True(t, snap.Terminal)
	assert.Equal(t, ReasonBothOriginsFailed, snap.TerminalFailureReason)
	assert.Equal(t, "Stream unavailable", snap.SinkMessage)
	assert.Equal(t, 2, sink.loadCount())
}

func TestSinkPanicIsRecovered(t *testing.T) {
	sink := &fakeSink{onLoad: func(int, resolver.Descriptor, Reporter) error {
		panic("native player crashed")
	}}
	c := newTestController(t, sink, proxyOpts())

	require.NoError(t, c.SelectItem(context.Background(), directItem("1")))
	snap := c.Snapshot()
	assert.True(t, snap.Terminal)
	assert.Equal(t, ErrorSinkLoad, snap.ErrorKind)
	assert.Equal(t, GenericErrorMessage, snap.SinkMessage)
}

func TestSynchronousReportsFromLoad(t *testing.T) {
	sink := &fakeSink{onLoad: func(_ int, _ resolver.Descriptor, rep Reporter) error {
		rep.LoadStart()
		rep.Ready()
		return nil
	}}
	c := newTestController(t, sink, proxyOpts())

	require.NoError(t, c.SelectItem(context.Background(), proxiedItem("1")))
	waitSnapshot(t, c, func(s Snapshot) bool { return s.State == StatePlaying })
}

func TestLoadTimeout(t *testing.T) {
	sink := &fakeSink{}
	opts := proxyOpts()
	opts.LoadTimeout = 30 * time.Millisecond
	c := newTestController(t, sink, opts)

	require.NoError(t, c.SelectItem(context.Background(), proxiedItem("1")))

	snap := waitSnapshot(t, c, func(s Snapshot) bool { return s.Terminal })
	assert.Equal(t, 2, sink.loadCount())
	assert.Equal(t, ErrorSinkLoad, snap.ErrorKind)
	assert.Equal(t, ReasonBothOriginsFailed, snap.TerminalFailureReason)
	assert.Equal(t, "Timed out waiting for the stream to start", snap.SinkMessage)
}

func TestReadyStopsLoadTimeout(t *testing.T) {
	sink := &fakeSink{onLoad: func(_ int, _ resolver.Descriptor, rep Reporter) error {
		rep.Ready()
		return nil
	}}
	opts := proxyOpts()
	opts.LoadTimeout = 20 * time.Millisecond
	c := newTestController(t, sink, opts)

	require.NoError(t, c.SelectItem(context.Background(), proxiedItem("1")))
	waitSnapshot(t, c, func(s Snapshot) bool { return s.State == StatePlaying })

	time.Sleep(60 * time.Millisecond)
	barrier(t, c)
	assert.Equal(t, StatePlaying, c.Snapshot().State)
	assert.Equal(t, 1, sink.loadCount())
}

func TestManualRetry(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, proxyOpts())
	ctx := context.Background()

	assert.ErrorIs(t, c.Retry(ctx), ErrNoItem)

	require.NoError(t, c.SelectItem(ctx, proxiedItem("1")))
	assert.ErrorIs(t, c.Retry(ctx), ErrRetryUnavailable)

	sink.reporter(0).Error(errors.New("a"))
	require.Eventually(t, func() bool { return sink.loadCount() == 2 }, waitFor, tick)
	sink.reporter(1).Error(errors.New("b"))
	waitSnapshot(t, c, func(s Snapshot) bool { return s.Terminal })

	require.NoError(t, c.Retry(ctx))
	require.Equal(t, 3, sink.loadCount())
	assert.False(t, sink.load(2).UsingProxy, "retry keeps the last used origin")

	snap := c.Snapshot()
	assert.Equal(t, StateLoading, snap.State)
	assert.True(t, snap.ProxyAttempted)

	// the fallback budget is spent, so the next error is terminal right away
	sink.reporter(2).Error(errors.New("c"))
	waitSnapshot(t, c, func(s Snapshot) bool { return s.Terminal })
	assert.Equal(t, 3, sink.loadCount())
}

func TestToggleOrigin(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, proxyOpts())
	ctx := context.Background()

	assert.ErrorIs(t, c.ToggleOrigin(ctx), ErrNoItem)

	require.NoError(t, c.SelectItem(ctx, proxiedItem("1")))
	require.NoError(t, c.ToggleOrigin(ctx))
	require.Equal(t, 2, sink.loadCount())
	assert.False(t, sink.load(1).UsingProxy)
	assert.True(t, c.Snapshot().ProxyAttempted)

	sink.reporter(1).Error(errors.New("direct failed"))
	snap := waitSnapshot(t, c, func(s Snapshot) bool { return s.Terminal })
	assert.Equal(t, ReasonBothOriginsFailed, snap.TerminalFailureReason)
	assert.True(t, snap.CanToggleOrigin)

	require.NoError(t, c.ToggleOrigin(ctx))
	require.Equal(t, 3, sink.loadCount())
	assert.True(t, sink.load(2).UsingProxy)
}

func TestToggleWithoutAlternate(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, proxyOpts())

	require.NoError(t, c.SelectItem(context.Background(), directItem("1")))
	assert.ErrorIs(t, c.ToggleOrigin(context.Background()), ErrNoAlternateOrigin)
	assert.Equal(t, 1, sink.loadCount())
}

func TestInvalidItemIsNotRetryable(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, proxyOpts())
	ctx := context.Background()

	err := c.SelectItem(ctx, &types.PlayableItem{ID: "bad", PrimaryURL: "ftp://nowhere/file", ProxyURL: "http://proxy/s/bad"})
	require.Error(t, err)
	assert.ErrorIs(t, err, resolver.ErrInvalidURL)

	snap := c.Snapshot()
	assert.True(t, snap.Terminal)
	assert.Equal(t, ErrorInvalidURL, snap.ErrorKind)
	assert.Equal(t, ReasonInvalidURL, snap.TerminalFailureReason)
	assert.False(t, snap.CanRetry)
	assert.False(t, snap.CanToggleOrigin)
	assert.Equal(t, 0, sink.loadCount())

	assert.ErrorIs(t, c.Retry(ctx), ErrRetryUnavailable)
	assert.ErrorIs(t, c.ToggleOrigin(ctx), ErrNoAlternateOrigin)
}

func TestMalformedYoutube(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, proxyOpts())

	err := c.SelectItem(context.Background(), &types.PlayableItem{ID: "yt", PrimaryURL: "https://youtu.be/tooShort"})
	assert.ErrorIs(t, err, resolver.ErrMalformedYoutubeURL)
	assert.Equal(t, ReasonMalformedYoutubeURL, c.Snapshot().TerminalFailureReason)
}

func TestYoutubeFailureIsTerminal(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, proxyOpts())

	item := &types.PlayableItem{
		ID:         "yt",
		PrimaryURL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		ProxyURL:   "http://proxy.local/s/yt",
	}
	require.NoError(t, c.SelectItem(context.Background(), item))

	d := sink.load(0)
	assert.False(t, d.UsingProxy)
	assert.Nil(t, d.Headers)
	assert.False(t, c.Snapshot().CanToggleOrigin)

	sink.reporter(0).Error(errors.New("embed blocked"))
	snap := waitSnapshot(t, c, func(s Snapshot) bool { return s.Terminal })
	assert.Equal(t, ReasonYoutubeFailed, snap.TerminalFailureReason)
	assert.Equal(t, 1, sink.loadCount())
}

func TestDeviceProfileTerminalHandling(t *testing.T) {
	tv := &fakeSink{}
	tvc := newTestController(t, tv, Options{RemoteControlOnly: true})
	require.NoError(t, tvc.SelectItem(context.Background(), directItem("1")))
	tv.reporter(0).Error(errors.New("x"))
	snap := waitSnapshot(t, tvc, func(s Snapshot) bool { return s.Terminal })
	assert.Contains(t, snap.ErrorMessage, "Press OK to retry")
	assert.Equal(t, 1, tv.unloadCount(), "remote-only devices release the sink")

	touch := &fakeSink{}
	tc := newTestController(t, touch, Options{})
	require.NoError(t, tc.SelectItem(context.Background(), directItem("1")))
	touch.reporter(0).Error(errors.New("x"))
	snap = waitSnapshot(t, tc, func(s Snapshot) bool { return s.Terminal })
	assert.Contains(t, snap.ErrorMessage, "Tap Retry")
	assert.Equal(t, 0, touch.unloadCount())
}

func TestUnknownSinkErrorsDegradeToGenericMessage(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, Options{})

	require.NoError(t, c.SelectItem(context.Background(), directItem("1")))
	sink.reporter(0).Error(errors.New("0xDEADBEEF"))
	snap := waitSnapshot(t, c, func(s Snapshot) bool { return s.Terminal })
	assert.Equal(t, GenericErrorMessage, snap.SinkMessage)

	require.NoError(t, c.SelectItem(context.Background(), directItem("2")))
	sink.reporter(1).Error(nil)
	snap = waitSnapshot(t, c, func(s Snapshot) bool { return s.Terminal && s.ItemID == "2" })
	assert.Equal(t, GenericErrorMessage, snap.SinkMessage)
}

func TestFailureRecorder(t *testing.T) {
	sink := &fakeSink{}
	rec := &fakeRecorder{}
	c := newTestController(t, sink, Options{ServerInfo: types.ServerInfo{ProxyEnabled: true}, Recorder: rec})

	require.NoError(t, c.SelectItem(context.Background(), proxiedItem("7")))
	sink.reporter(0).Error(errors.New("a"))
	require.Eventually(t, func() bool { return sink.loadCount() == 2 }, waitFor, tick)
	sink.reporter(1).Error(&SinkError{Message: "Geo blocked"})

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, waitFor, tick)
	f := rec.all()[0]
	assert.Equal(t, "7", f.ItemID)
	assert.Equal(t, ReasonBothOriginsFailed, f.Reason)
	assert.Equal(t, "Geo blocked", f.Message)
	assert.True(t, f.ProxyAttempted)
	assert.False(t, f.UsingProxy)
}

func TestPlayPause(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, c.Play(ctx), ErrNotPlaying)

	require.NoError(t, c.SelectItem(ctx, directItem("1")))
	sink.reporter(0).Ready()
	waitSnapshot(t, c, func(s Snapshot) bool { return s.State == StatePlaying })

	require.NoError(t, c.Pause(ctx))
	require.NoError(t, c.Play(ctx))
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 1, sink.pauses)
	assert.Equal(t, 1, sink.plays)
}

func TestDisposeBeforeSelect(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := &fakeSink{}
	c := New(sink, Options{Logger: logger.New("ERROR")})

	assert.NotPanics(t, func() {
		c.Dispose()
		c.Dispose()
	})
	assert.Equal(t, 0, sink.unloadCount())
	assert.True(t, c.Snapshot().Disposed)
}

func TestDisposeIsIdempotentAndReleasesSink(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := &fakeSink{}
	opts := proxyOpts()
	opts.Logger = logger.New("ERROR")
	opts.LoadTimeout = time.Minute
	c := New(sink, opts)
	updates, _ := c.Subscribe()

	require.NoError(t, c.SelectItem(context.Background(), proxiedItem("1")))

	c.Dispose()
	c.Dispose()
	assert.Equal(t, sink.loadCount(), sink.unloadCount(), "no dangling load")

	assert.ErrorIs(t, c.SelectItem(context.Background(), proxiedItem("2")), ErrDisposed)
	assert.ErrorIs(t, c.Retry(context.Background()), ErrDisposed)

	// late callbacks after dispose are harmless
	sink.reporter(0).Error(errors.New("late"))

	var last Snapshot
	for s := range updates {
		last = s
	}
	assert.True(t, last.Disposed)
	assert.Equal(t, StateIdle, last.State)

	closed, _ := c.Subscribe()
	_, open := <-closed
	assert.False(t, open)

	select {
	case <-c.Done():
	default:
		t.Fatal("controller loop still running")
	}
}

func TestConcurrentDispose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := &fakeSink{}
	c := New(sink, Options{Logger: logger.New("ERROR")})
	require.NoError(t, c.SelectItem(context.Background(), directItem("1")))

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			c.Dispose()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	assert.Equal(t, 1, sink.unloadCount())
}

func TestSelectItemRejectsNil(t *testing.T) {
	c := newTestController(t, &fakeSink{}, Options{})
	assert.ErrorIs(t, c.SelectItem(context.Background(), nil), ErrNoItem)
}

func TestCommandHonoursContext(t *testing.T) {
	block := make(chan struct{})
	sink := &fakeSink{onLoad: func(int, resolver.Descriptor, Reporter) error {
		<-block
		return nil
	}}
	c := newTestController(t, sink, Options{})

	go func() { _ = c.SelectItem(context.Background(), directItem("1")) }()
	require.Eventually(t, func() bool { return sink.loadCount() == 1 }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Retry(ctx), context.DeadlineExceeded)
	close(block)
}
