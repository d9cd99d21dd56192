package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"auraly/internal/capture"
	"auraly/internal/domain"
	"auraly/internal/ports"
	"auraly/internal/whisper"
)

// Transcriber uploads one audio file and returns its transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// DirectConfig controls the ffmpeg-plus-upload backend.
type DirectConfig struct {
	Audio     ports.AudioConfig
	ChunkSize int
	TempDir   string
	// DrainTimeout bounds the wait for the capture stream to end after Stop.
	DrainTimeout time.Duration
}

// Direct records PCM through an AudioCapture and uploads it as WAV.
type Direct struct {
	audio       ports.AudioCapture
	transcriber Transcriber
	permission  ports.Permission
	cfg         DirectConfig
	log         *slog.Logger

	mu     sync.Mutex
	active *directRecording
}

func NewDirect(
	audio ports.AudioCapture,
	transcriber Transcriber,
	permission ports.Permission,
	cfg DirectConfig,
	logger *slog.Logger,
) *Direct {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Direct{
		audio:       audio,
		transcriber: transcriber,
		permission:  permission,
		cfg:         cfg,
		log:         logger.With("component", "backend.Direct"),
	}
}

func (d *Direct) Name() string { return "direct" }

// Start begins capture. The credential is resolved by the transcriber at
// upload time, so the argument is unused here.
func (d *Direct) Start(ctx context.Context, _ string) (ports.Recording, error) {
	if err := capture.RequirePermission(ctx, d.permission); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active != nil {
		return nil, capture.ErrSessionActive
	}

	// The capture outlives the request that started it.
	sessionCtx, cancel := context.WithCancel(context.Background())
	session, err := d.audio.Start(sessionCtx, d.cfg.Audio)
	if err != nil {
		cancel()
		if errors.Is(err, domain.ErrSpawnFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrSpawnFailed, err)
	}

	id := uuid.NewString()
	rec := &directRecording{
		id:        id,
		startedAt: time.Now(),
		backend:   d,
		log:       d.log.With("session_id", id),
		state:     domain.RecordingStateRecording,
		session:   session,
		buffer:    capture.Drain(session, d.cfg.ChunkSize),
		cancel:    cancel,
	}
	d.active = rec
	rec.log.Info("audio capture started")
	return rec, nil
}

func (d *Direct) release(rec *directRecording) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == rec {
		d.active = nil
	}
}

type directRecording struct {
	id        string
	startedAt time.Time
	backend   *Direct
	log       *slog.Logger

	mu      sync.Mutex
	state   domain.RecordingState
	session ports.AudioSession
	buffer  *capture.PCMBuffer
	cancel  context.CancelFunc

	collectOnce sync.Once
	outcome     domain.Outcome
}

func (r *directRecording) ID() string { return r.id }

func (r *directRecording) StartedAt() time.Time { return r.startedAt }

func (r *directRecording) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != domain.RecordingStateRecording {
		return capture.ErrNotRecording
	}
	r.state = domain.RecordingStateStopping
	if err := r.session.Stop(); err != nil {
		r.log.Warn("failed to stop audio capture cleanly", "error", err)
		return fmt.Errorf("stop audio capture: %w", err)
	}
	return nil
}

func (r *directRecording) Collect(ctx context.Context) domain.Outcome {
	r.collectOnce.Do(func() {
		defer r.finish()
		r.outcome = r.collect(ctx)
	})
	return r.outcome
}

func (r *directRecording) Abort() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Collect(ctx)
}

func (r *directRecording) collect(ctx context.Context) domain.Outcome {
	r.mu.Lock()
	recording := r.state == domain.RecordingStateRecording
	r.mu.Unlock()
	if recording {
		_ = r.Stop()
	}
	if ctx.Err() != nil {
		return domain.Failure(domain.MessageCancelled)
	}

	timer := time.NewTimer(r.backend.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-r.buffer.Done():
	case <-timer.C:
		r.log.Warn("audio capture did not end before drain timeout", "timeout", r.backend.cfg.DrainTimeout)
		r.cancel()
		<-r.buffer.Done()
	case <-ctx.Done():
		return domain.Failure(domain.MessageCancelled)
	}

	pcm, err := r.buffer.Result()
	if err != nil {
		r.log.Error("audio capture read failed", "error", err)
		return domain.Failure(domain.MessageProcessingError)
	}
	// A WAV needs at least one 16-bit sample.
	if len(pcm) < 2 {
		return domain.NoSpeech()
	}

	cfg := r.backend.cfg
	path, err := capture.WriteWAVFile(cfg.TempDir, pcm, cfg.Audio.SampleRate, cfg.Audio.Channels)
	if err != nil {
		r.log.Error("failed to write audio file", "error", err)
		return domain.Failure(domain.MessageProcessingError)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.Warn("failed to remove audio file", "path", path, "error", err)
		}
	}()

	text, err := r.backend.transcriber.Transcribe(ctx, path)
	if err != nil && ctx.Err() != nil {
		return domain.Failure(domain.MessageCancelled)
	}
	return whisper.OutcomeFor(text, err)
}

func (r *directRecording) finish() {
	r.cancel()
	<-r.buffer.Done()
	_ = r.session.Close()

	r.mu.Lock()
	r.state = domain.RecordingStateCompleted
	r.mu.Unlock()

	r.backend.release(r)
}
