package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"auraly/internal/domain"
	"auraly/internal/ports"
)

const startupProbe = 250 * time.Millisecond

// FFmpegCapture streams raw s16le microphone audio from an ffmpeg child.
type FFmpegCapture struct {
	command     string
	stopTimeout time.Duration
}

func NewFFmpegCapture(command string, stopTimeout time.Duration) *FFmpegCapture {
	if command == "" {
		command = "ffmpeg"
	}
	if stopTimeout <= 0 {
		stopTimeout = 1200 * time.Millisecond
	}
	return &FFmpegCapture{command: command, stopTimeout: stopTimeout}
}

func withAudioDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func ffmpegArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// Start launches ffmpeg. An ffmpeg that exits inside the startup probe
// window is reported as a spawn failure with its stderr attached.
func (c *FFmpegCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withAudioDefaults(cfg)

	cmd := exec.CommandContext(ctx, c.command, ffmpegArgs(cfg)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg stdout pipe: %v", domain.ErrSpawnFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSpawnFailed, err)
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()

	select {
	case err := <-exited:
		detail := trimmed(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg exited before capture started: %v: %s", domain.ErrSpawnFailed, err, detail)
		}
		return nil, fmt.Errorf("%w: ffmpeg exited before capture started", domain.ErrSpawnFailed)
	case <-time.After(startupProbe):
	}

	return &ffmpegSession{
		stdout:      stdout,
		stderr:      &stderr,
		process:     cmd.Process,
		exited:      exited,
		stopTimeout: c.stopTimeout,
	}, nil
}

type ffmpegSession struct {
	stdout      io.ReadCloser
	stderr      *bytes.Buffer
	process     *os.Process
	exited      <-chan error
	stopTimeout time.Duration

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) Close() error {
	return s.Stop()
}

// Stop interrupts ffmpeg so it flushes, then kills it if it lingers.
func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		_ = s.process.Signal(os.Interrupt)

		var waitErr error
		select {
		case waitErr = <-s.exited:
		case <-time.After(s.stopTimeout):
			_ = s.process.Kill()
			waitErr = <-s.exited
		}
		s.stopErr = normalizeExitErr(waitErr)

		if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = err
		}
		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, trimmed(s.stderr.String()))
		}
	})
	return s.stopErr
}

func trimmed(input string) string {
	return string(bytes.TrimSpace([]byte(input)))
}
