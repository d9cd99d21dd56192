// Package backend holds the TranscriptionBackend strategies: a helper process
// that records and transcribes on its own, and a direct path that records PCM
// with ffmpeg and uploads it to the transcription endpoint.
package backend

import (
	"context"

	"auraly/internal/capture"
	"auraly/internal/ports"
)

// Subprocess delegates capture and transcription to a helper process.
type Subprocess struct {
	recorder *capture.Recorder
}

func NewSubprocess(recorder *capture.Recorder) *Subprocess {
	return &Subprocess{recorder: recorder}
}

func (s *Subprocess) Name() string { return "subprocess" }

func (s *Subprocess) Start(ctx context.Context, credential string) (ports.Recording, error) {
	session, err := s.recorder.Start(ctx, credential)
	if err != nil {
		return nil, err
	}
	return session, nil
}
