package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"auraly/internal/domain"
	"auraly/internal/ports"
	"auraly/internal/protocol"
)

var (
	ErrNotRecording  = errors.New("recording session is not recording")
	ErrSessionActive = errors.New("a recording session is already active")
)

// ProcessConfig describes how the capture helper is launched.
type ProcessConfig struct {
	Command       []string
	Dir           string
	CredentialEnv string
	ResultTimeout time.Duration
	KillTimeout   time.Duration
}

// Recorder launches capture helper processes, one at a time.
type Recorder struct {
	cfg        ProcessConfig
	permission ports.Permission
	log        *slog.Logger

	mu     sync.Mutex
	active *Session
}

func NewRecorder(cfg ProcessConfig, permission ports.Permission, logger *slog.Logger) *Recorder {
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = 15 * time.Second
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = 1200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:        cfg,
		permission: permission,
		log:        logger.With("component", "capture.Recorder"),
	}
}

// Start checks microphone permission and spawns the helper. The credential
// reaches the child through its environment only.
func (r *Recorder) Start(ctx context.Context, credential string) (*Session, error) {
	if len(r.cfg.Command) == 0 {
		return nil, fmt.Errorf("%w: capture command is empty", domain.ErrSpawnFailed)
	}
	if err := RequirePermission(ctx, r.permission); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return nil, ErrSessionActive
	}

	cmd := exec.Command(r.cfg.Command[0], r.cfg.Command[1:]...)
	cmd.Dir = r.cfg.Dir
	cmd.Env = os.Environ()
	if r.cfg.CredentialEnv != "" && credential != "" {
		cmd.Env = append(cmd.Env, r.cfg.CredentialEnv+"="+credential)
	}
	cmd.WaitDelay = time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", domain.ErrSpawnFailed, err)
	}

	id := uuid.NewString()
	log := r.log.With("session_id", id)
	output := &outputBuffer{}
	cmd.Stdout = output
	cmd.Stderr = newLineLogger(log)

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrSpawnFailed, err)
	}

	session := &Session{
		id:        id,
		startedAt: time.Now(),
		recorder:  r,
		log:       log,
		state:     domain.RecordingStateRecording,
		cmd:       cmd,
		stdin:     stdin,
		output:    output,
		done:      make(chan struct{}),
	}
	go func() {
		session.waitErr = cmd.Wait()
		close(session.done)
	}()

	r.active = session
	log.Info("capture process started", "pid", cmd.Process.Pid)
	return session, nil
}

// Active reports the session currently owning the helper process, if any.
func (r *Recorder) Active() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Recorder) release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == s {
		r.active = nil
	}
}

// Session is one helper process and its three streams.
type Session struct {
	id        string
	startedAt time.Time
	recorder  *Recorder
	log       *slog.Logger

	mu     sync.Mutex
	state  domain.RecordingState
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output *outputBuffer

	done    chan struct{}
	waitErr error

	collectOnce sync.Once
	outcome     domain.Outcome
}

func (s *Session) ID() string { return s.id }

func (s *Session) StartedAt() time.Time { return s.startedAt }

func (s *Session) State() domain.RecordingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stop writes the stop sentinel and closes the helper's stdin.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.RecordingStateRecording {
		return ErrNotRecording
	}
	s.state = domain.RecordingStateStopping

	_, writeErr := io.WriteString(s.stdin, protocol.StopSentinel)
	closeErr := s.stdin.Close()
	s.stdin = nil
	if err := errors.Join(writeErr, closeErr); err != nil {
		s.log.Warn("failed to signal capture process", "error", err)
		return fmt.Errorf("signal capture process: %w", err)
	}
	return nil
}

// Collect waits until the helper exits, the result timeout elapses, or ctx is
// cancelled. It then terminates the helper, decodes its output and releases
// the session. Repeated calls return the first outcome.
func (s *Session) Collect(ctx context.Context) domain.Outcome {
	s.collectOnce.Do(func() {
		if s.State() == domain.RecordingStateRecording {
			_ = s.Stop()
		}

		cancelled := ctx.Err() != nil
		if !cancelled {
			timer := time.NewTimer(s.recorder.cfg.ResultTimeout)
			select {
			case <-s.done:
			case <-timer.C:
				s.log.Warn("capture process did not exit before result timeout", "timeout", s.recorder.cfg.ResultTimeout)
			case <-ctx.Done():
				cancelled = true
			}
			timer.Stop()
		}

		s.terminate()

		if cancelled {
			s.outcome = domain.Failure(domain.MessageCancelled)
		} else {
			s.outcome = protocol.Decode(s.output.Bytes())
		}
		s.finish()
	})
	return s.outcome
}

// Abort discards the recording without decoding any output.
func (s *Session) Abort() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Collect(ctx)
}

func (s *Session) terminate() {
	select {
	case <-s.done:
		s.logExit()
		return
	default:
	}

	process := s.cmd.Process
	if err := process.Signal(syscall.SIGTERM); err != nil {
		_ = process.Kill()
	}

	select {
	case <-s.done:
	case <-time.After(s.recorder.cfg.KillTimeout):
		_ = process.Kill()
		<-s.done
	}
	s.logExit()
}

func (s *Session) logExit() {
	if err := normalizeExitErr(s.waitErr); err != nil {
		s.log.Warn("capture process wait failed", "error", err)
		return
	}
	s.log.Debug("capture process exited", "elapsed", time.Since(s.startedAt))
}

func (s *Session) finish() {
	s.mu.Lock()
	if s.stdin != nil {
		_ = s.stdin.Close()
		s.stdin = nil
	}
	s.cmd = nil
	s.state = domain.RecordingStateCompleted
	s.mu.Unlock()

	s.recorder.release(s)
}

// RequirePermission maps a denied or failed permission check onto
// domain.ErrPermissionDenied.
func RequirePermission(ctx context.Context, permission ports.Permission) error {
	if permission == nil {
		return nil
	}
	granted, err := permission.Request(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	}
	if !granted {
		return domain.ErrPermissionDenied
	}
	return nil
}

func normalizeExitErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

type outputBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *outputBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

// lineLogger forwards complete stderr lines to the logger at debug level.
type lineLogger struct {
	log     *slog.Logger
	mu      sync.Mutex
	partial []byte
}

func newLineLogger(log *slog.Logger) *lineLogger {
	return &lineLogger{log: log}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.partial = append(l.partial, p...)
	for {
		idx := bytes.IndexByte(l.partial, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSpace(l.partial[:idx])
		l.partial = l.partial[idx+1:]
		if len(line) > 0 {
			l.log.Debug("capture stderr", "line", string(line))
		}
	}
	return len(p), nil
}
