package session

import (
	"errors"
	"time"

	"kptv-player/work/classify"
)

// State is the lifecycle state of a playback session
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StateError   State = "error"
)

var allStates = []State{StateIdle, StateLoading, StatePlaying, StateError}

// ErrorKind classifies what went wrong in the current session
type ErrorKind string

const (
	ErrorNone             ErrorKind = ""
	ErrorInvalidURL       ErrorKind = "invalid_url"
	ErrorMalformedYoutube ErrorKind = "malformed_youtube_url"
	ErrorSinkLoad         ErrorKind = "sink_load_error"
	ErrorSinkRuntime      ErrorKind = "sink_runtime_error"
)

// FailureReason explains a terminal failure to the user interface
type FailureReason string

const (
	ReasonNone                FailureReason = ""
	ReasonBothOriginsFailed   FailureReason = "both_origins_failed"
	ReasonNoAlternateOrigin   FailureReason = "no_alternate_origin"
	ReasonYoutubeFailed       FailureReason = "youtube_failed"
	ReasonInvalidURL          FailureReason = "invalid_url"
	ReasonMalformedYoutubeURL FailureReason = "malformed_youtube_url"
)

// Command errors
var (
	ErrDisposed          = errors.New("session disposed")
	ErrNoItem            = errors.New("no item selected")
	ErrRetryUnavailable  = errors.New("retry is only available after a retryable failure")
	ErrNoAlternateOrigin = errors.New("no alternate origin available")
	ErrNotPlaying        = errors.New("nothing is playing")
	ErrLoadTimeout       = errors.New("timed out waiting for the stream to start")
)

// GenericErrorMessage is shown for sink errors that carry no usable message
const GenericErrorMessage = "Playback failed"

// Snapshot is the observable state of a controller. It is a value copy and
// safe to keep after the controller moves on.
type Snapshot struct {
	State                 State              `json:"state"`
	Terminal              bool               `json:"terminal"`
	ItemID                string             `json:"itemId,omitempty"`
	ItemName              string             `json:"itemName,omitempty"`
	Transport             classify.Transport `json:"transport,omitempty"`
	URI                   string             `json:"-"`
	UsingProxy            bool               `json:"usingProxy"`
	ProxyAttempted        bool               `json:"proxyAttempted"`
	ErrorKind             ErrorKind          `json:"errorKind,omitempty"`
	ErrorMessage          string             `json:"errorMessage,omitempty"`
	SinkMessage           string             `json:"sinkMessage,omitempty"`
	TerminalFailureReason FailureReason      `json:"terminalFailureReason,omitempty"`
	CanRetry              bool               `json:"canRetry"`
	CanToggleOrigin       bool               `json:"canToggleOrigin"`
	Buffering             bool               `json:"buffering"`
	Position              time.Duration      `json:"position"`
	Generation            uint64             `json:"generation"`
	Disposed              bool               `json:"disposed,omitempty"`
}

// Failure describes a terminal failure handed to a FailureRecorder
type Failure struct {
	ItemID         string
	ItemName       string
	Transport      classify.Transport
	Kind           ErrorKind
	Reason         FailureReason
	Message        string
	UsingProxy     bool
	ProxyAttempted bool
	At             time.Time
}

// reasonText is the device-neutral part of the terminal failure message
func reasonText(r FailureReason) string {
	switch r {
	case ReasonBothOriginsFailed:
		return "Playback failed on both the proxy and the direct origin."
	case ReasonNoAlternateOrigin:
		return "Playback failed and no alternate origin is available."
	case ReasonYoutubeFailed:
		return "YouTube playback failed."
	case ReasonInvalidURL:
		return "This item has an invalid stream address."
	case ReasonMalformedYoutubeURL:
		return "This YouTube link is malformed."
	}
	return GenericErrorMessage + "."
}

// failureMessage words a terminal failure for the device profile and says
// whether switching origin is still on offer
func failureMessage(r FailureReason, remoteOnly, retryable, canToggle bool) string {
	msg := reasonText(r)
	if canToggle {
		msg += " You can still switch between the proxy and the direct origin."
	}
	switch {
	case remoteOnly && retryable:
		return msg + " Press OK to retry or BACK to choose another channel."
	case remoteOnly:
		return msg + " Press BACK to choose another channel."
	case retryable:
		return msg + " Tap Retry or choose another item."
	default:
		return msg + " Choose another item."
	}
}
