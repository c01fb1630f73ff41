package session

import (
	"context"
	"errors"
	"time"

	"kptv-player/work/resolver"
)

// Sink is the playback primitive a controller drives: a native video
// element, a YouTube bridge or the headless probe sink.
//
// Load starts loading d and must not block until playback starts; progress is
// reported through rep. The ctx only bounds the Load call itself. Unload
// releases whatever the sink holds and must be safe to call when nothing is
// loaded. Reporter methods may be called from any goroutine, including from
// inside Load.
type Sink interface {
	Load(ctx context.Context, d resolver.Descriptor, rep Reporter) error
	Unload(ctx context.Context) error
	Play() error
	Pause() error
}

// Reporter receives sink events for one specific load. Events sent through a
// reporter of a superseded load are dropped by the controller.
type Reporter interface {
	LoadStart()
	Ready()
	Error(err error)
	Status(st PlaybackStatus)
}

// PlaybackStatus is a periodic progress report. A non-nil Err reports a
// playback failure the same way Reporter.Error does.
type PlaybackStatus struct {
	Position  time.Duration
	Buffering bool
	Err       error
}

// SinkError is the error shape sinks use to surface a user facing message
type SinkError struct {
	Code    string
	Message string
	Err     error
}

func (e *SinkError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *SinkError) Unwrap() error { return e.Err }

// describeSinkError returns the user facing message of a sink error.
// Unknown error shapes degrade to GenericErrorMessage.
func describeSinkError(err error) string {
	var se *SinkError
	switch {
	case err == nil:
		return GenericErrorMessage
	case errors.As(err, &se) && se.Message != "":
		return se.Message
	case errors.Is(err, ErrLoadTimeout):
		return "Timed out waiting for the stream to start"
	}
	return GenericErrorMessage
}

type sinkEventKind int

const (
	sinkLoadStart sinkEventKind = iota
	sinkReady
	sinkError
	sinkStatus
)

// sinkEvent is a reporter callback tagged with the load generation it belongs to
type sinkEvent struct {
	gen    uint64
	kind   sinkEventKind
	err    error
	status PlaybackStatus
}

// reporter binds sink callbacks to one load generation
type reporter struct {
	box *mailbox
	gen uint64
}

func (r reporter) LoadStart() {
	r.box.post(sinkEvent{gen: r.gen, kind: sinkLoadStart})
}

func (r reporter) Ready() {
	r.box.post(sinkEvent{gen: r.gen, kind: sinkReady})
}

func (r reporter) Error(err error) {
	r.box.post(sinkEvent{gen: r.gen, kind: sinkError, err: err})
}

func (r reporter) Status(st PlaybackStatus) {
	r.box.post(sinkEvent{gen: r.gen, kind: sinkStatus, status: st})
}
