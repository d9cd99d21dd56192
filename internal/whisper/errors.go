package whisper

import (
	"fmt"

	"auraly/internal/domain"
)

// ErrorKind classifies transcription failures.
type ErrorKind string

const (
	KindNoSpeech  ErrorKind = "no_speech"
	KindAPI       ErrorKind = "api"
	KindParse     ErrorKind = "parse"
	KindTransport ErrorKind = "transport"
)

// Error is returned by Client.Transcribe for every remote or decoding failure.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transcription %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transcription %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Outcome renders the error the way the transcript area shows it. API
// messages are surfaced verbatim.
func (e *Error) Outcome() domain.Outcome {
	switch e.Kind {
	case KindNoSpeech:
		return domain.NoSpeech()
	default:
		return domain.Failure(e.Message)
	}
}
