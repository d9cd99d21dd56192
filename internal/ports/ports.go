package ports

import (
	"context"
	"io"
	"time"

	"auraly/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live PCM capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// Recording is one in-flight recording owned by a TranscriptionBackend.
type Recording interface {
	ID() string
	StartedAt() time.Time
	// Stop signals the end of capture. It does not read any output.
	Stop() error
	// Collect waits for the result and releases every resource the recording
	// holds. It never fails; problems are reported as a Failure outcome.
	Collect(ctx context.Context) domain.Outcome
	// Abort discards the recording without producing a transcript.
	Abort()
}

// TranscriptionBackend starts recordings that end in a transcription outcome.
type TranscriptionBackend interface {
	Name() string
	Start(ctx context.Context, credential string) (Recording, error)
}

// CredentialStore persists the API credential.
type CredentialStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, credential string) error
	Clear(ctx context.Context) error
}

// Permission reports whether microphone access is granted.
type Permission interface {
	Request(ctx context.Context) (bool, error)
}

// TextFilter transforms successful transcripts using deterministic rules.
type TextFilter interface {
	Apply(text string) (string, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// SessionMetrics records session lifecycle measurements.
type SessionMetrics interface {
	RecordingStarted(ctx context.Context, backend string)
	OutcomeRecorded(ctx context.Context, backend string, outcome domain.Outcome, elapsed time.Duration)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	TranscriptChanged(text string, words int)
	SessionError(code domain.ErrorCode, detail string)
}

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	for _, sink := range m {
		sink.SessionStateChanged(state, reason)
	}
}

func (m MultiSink) TranscriptChanged(text string, words int) {
	for _, sink := range m {
		sink.TranscriptChanged(text, words)
	}
}

func (m MultiSink) SessionError(code domain.ErrorCode, detail string) {
	for _, sink := range m {
		sink.SessionError(code, detail)
	}
}
