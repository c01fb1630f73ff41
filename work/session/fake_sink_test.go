package session

import (
	"context"
	"sync"

	"kptv-player/work/resolver"
)

// fakeSink records every call and hands the reporters back to the test
type fakeSink struct {
	mu        sync.Mutex
	loads     []resolver.Descriptor
	reporters []Reporter
	unloads   int
	plays     int
	pauses    int

	// onLoad runs inside Load; its error is returned from Load
	onLoad func(n int, d resolver.Descriptor, rep Reporter) error
}

func (f *fakeSink) Load(_ context.Context, d resolver.Descriptor, rep Reporter) error {
	f.mu.Lock()
	n := len(f.loads)
	f.loads = append(f.loads, d)
	f.reporters = append(f.reporters, rep)
	onLoad := f.onLoad
	f.mu.Unlock()

	if onLoad != nil {
		return onLoad(n, d, rep)
	}
	return nil
}

func (f *fakeSink) Unload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloads++
	return nil
}

func (f *fakeSink) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays++
	return nil
}

func (f *fakeSink) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return nil
}

func (f *fakeSink) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

func (f *fakeSink) unloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unloads
}

func (f *fakeSink) load(i int) resolver.Descriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[i]
}

func (f *fakeSink) reporter(i int) Reporter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reporters[i]
}

// fakeRecorder collects recorded failures
type fakeRecorder struct {
	mu       sync.Mutex
	failures []Failure
}

func (r *fakeRecorder) RecordFailure(_ context.Context, f Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
	return nil
}

func (r *fakeRecorder) all() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Failure(nil), r.failures...)
}
