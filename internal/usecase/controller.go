package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"auraly/internal/domain"
	"auraly/internal/ports"
)

var (
	ErrNoActiveSession = errors.New("no active recording session")
	ErrSessionBusy     = errors.New("a recording session is already in progress")
)

// Config controls dictation behavior.
type Config struct {
	// AutoCopy writes the transcript to the clipboard after each success.
	AutoCopy bool
}

// SessionController drives Idle -> Recording -> Transcribing -> Idle over a
// TranscriptionBackend and owns the transcript text.
type SessionController struct {
	backend     ports.TranscriptionBackend
	credentials ports.CredentialStore
	clipboard   ports.Clipboard
	events      ports.EventSink
	metrics     ports.SessionMetrics
	finalizer   transcriptFinalizer
	log         *slog.Logger

	transcript transcriptBuffer

	mu       sync.Mutex
	state    domain.SessionState
	starting bool
	aborting bool
	current  *activeSession
}

func NewSessionController(
	backend ports.TranscriptionBackend,
	credentials ports.CredentialStore,
	filter ports.TextFilter,
	clipboard ports.Clipboard,
	events ports.EventSink,
	metrics ports.SessionMetrics,
	logger *slog.Logger,
	cfg Config,
) *SessionController {
	if events == nil {
		events = ports.MultiSink(nil)
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionController{
		backend:     backend,
		credentials: credentials,
		clipboard:   clipboard,
		events:      events,
		metrics:     metrics,
		finalizer:   newTranscriptFinalizer(filter, clipboard, events, cfg.AutoCopy),
		log:         logger.With("component", "usecase.SessionController", "backend", backend.Name()),
		state:       domain.SessionStateIdle,
	}
}

// Toggle starts a recording when idle and stops it when recording. The
// result of a stopped recording is collected in the background. Toggle has
// no effect while a transcription is in progress.
func (c *SessionController) Toggle(ctx context.Context) (domain.Status, error) {
	c.mu.Lock()
	state, busy := c.state, c.starting || c.aborting
	c.mu.Unlock()

	switch {
	case busy || state == domain.SessionStateTranscribing:
		c.log.Debug("toggle ignored", "state", state)
		return c.Status(), nil
	case state == domain.SessionStateRecording:
		active, err := c.beginTranscribing()
		if err != nil {
			return c.Status(), err
		}
		go c.collect(context.WithoutCancel(ctx), active)
		return c.Status(), nil
	default:
		err := c.Start(ctx)
		return c.Status(), err
	}
}

// Start begins a recording. Failures are rendered into the transcript and
// also returned.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.starting || c.aborting || c.state != domain.SessionStateIdle {
		c.mu.Unlock()
		return ErrSessionBusy
	}
	c.starting = true
	c.mu.Unlock()

	rec, err := c.startRecording(ctx)

	c.mu.Lock()
	c.starting = false
	if err != nil {
		c.mu.Unlock()
		c.startFailed(err)
		return err
	}
	active := newActiveSession(rec)
	c.current = active
	c.state = domain.SessionStateRecording
	c.mu.Unlock()

	c.log.Info("recording started", "session_id", rec.ID())
	c.metrics.RecordingStarted(ctx, c.backend.Name())
	c.events.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)
	return nil
}

func (c *SessionController) startRecording(ctx context.Context) (ports.Recording, error) {
	credential, err := c.credentials.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMissingCredential, err)
	}
	if strings.TrimSpace(credential) == "" {
		return nil, domain.ErrMissingCredential
	}
	return c.backend.Start(ctx, credential)
}

func (c *SessionController) startFailed(err error) {
	var (
		code    domain.ErrorCode
		reason  domain.SessionStateReason
		message string
	)
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		code, reason, message = domain.ErrorCodePermission, domain.SessionReasonPermissionDenied, domain.MessagePermissionDenied
	case errors.Is(err, domain.ErrMissingCredential):
		code, reason, message = domain.ErrorCodeCredential, domain.SessionReasonMissingCredential, domain.MessageMissingCredential
	default:
		code, reason, message = domain.ErrorCodeProcess, domain.SessionReasonStartFailed, "Failed to start recording: "+err.Error()
	}

	c.log.Warn("recording did not start", "error", err)
	c.publishTranscript(c.transcript.Replace(message))
	c.events.SessionError(code, err.Error())
	c.events.SessionStateChanged(domain.SessionStateIdle, reason)
}

// Stop ends the active recording and waits for its outcome. Cancelling ctx
// terminates the capture and yields a cancelled failure.
func (c *SessionController) Stop(ctx context.Context) (domain.Outcome, error) {
	active, err := c.beginTranscribing()
	if err != nil {
		return domain.Outcome{}, err
	}
	return c.collect(ctx, active), nil
}

func (c *SessionController) beginTranscribing() (*activeSession, error) {
	c.mu.Lock()
	if c.aborting {
		c.mu.Unlock()
		return nil, ErrSessionBusy
	}
	if c.state != domain.SessionStateRecording || c.current == nil {
		c.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	active := c.current
	c.state = domain.SessionStateTranscribing
	c.mu.Unlock()

	if err := active.rec.Stop(); err != nil {
		c.log.Warn("stop signal failed", "session_id", active.rec.ID(), "error", err)
	}
	c.events.SessionStateChanged(domain.SessionStateTranscribing, domain.SessionReasonTranscribing)
	return active, nil
}

func (c *SessionController) collect(ctx context.Context, active *activeSession) domain.Outcome {
	defer close(active.done)

	collectCtx, stop := mergeCancel(ctx, active.collectCtx)
	defer stop()

	outcome := active.rec.Collect(collectCtx)
	c.resultReady(ctx, active, outcome)
	return outcome
}

// Abort discards the active recording, whether it is still recording or
// already transcribing. The transcript is left untouched. The session stays
// busy until the capture has been torn down.
func (c *SessionController) Abort() error {
	c.mu.Lock()
	active := c.current
	if active == nil || c.aborting {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	state := c.state
	c.aborting = true
	active.discard()
	c.mu.Unlock()

	if state == domain.SessionStateRecording {
		active.rec.Abort()
	} else {
		<-active.done
	}

	c.mu.Lock()
	c.aborting = false
	if c.current == active {
		c.current = nil
		c.state = domain.SessionStateIdle
	}
	c.mu.Unlock()

	c.log.Info("recording discarded", "session_id", active.rec.ID())
	c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonRecordingDiscarded)
	return nil
}

// resultReady applies a finished outcome: success text is appended to the
// transcript, anything else replaces it with a message. Outcomes of a
// discarded session are dropped.
func (c *SessionController) resultReady(ctx context.Context, active *activeSession, outcome domain.Outcome) {
	var rewritten string
	if outcome.Kind == domain.OutcomeSuccess {
		rewritten = c.finalizer.Rewrite(outcome.Text)
	}

	c.mu.Lock()
	if active.discarded.Load() {
		c.mu.Unlock()
		return
	}
	var (
		text   string
		reason domain.SessionStateReason
	)
	switch outcome.Kind {
	case domain.OutcomeSuccess:
		text = c.transcript.Append(rewritten)
	case domain.OutcomeNoSpeech:
		text = c.transcript.Replace(outcome.Display())
		reason = domain.SessionReasonNoSpeech
	default:
		text = c.transcript.Replace(outcome.Display())
		reason = domain.SessionReasonTranscriptionFailed
	}
	if c.current == active {
		c.current = nil
		c.state = domain.SessionStateIdle
	}
	c.mu.Unlock()

	c.metrics.OutcomeRecorded(ctx, c.backend.Name(), outcome, time.Since(active.startedAt))
	switch outcome.Kind {
	case domain.OutcomeSuccess:
		reason = c.finalizer.Publish(ctx, text)
	case domain.OutcomeFailure:
		c.events.SessionError(domain.ErrorCodeTranscription, outcome.Display())
	}

	c.log.Info("transcription finished", "session_id", active.rec.ID(), "outcome", outcome.Kind, "words", WordCount(text))
	c.publishTranscript(text)
	c.events.SessionStateChanged(domain.SessionStateIdle, reason)
}

// Wait blocks until the in-flight transcription, if any, has been applied.
func (c *SessionController) Wait() {
	c.mu.Lock()
	active := c.current
	state := c.state
	c.mu.Unlock()
	if active != nil && state == domain.SessionStateTranscribing {
		<-active.done
	}
}

// Status returns the current session status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	status := domain.Status{State: c.state, Active: c.state != domain.SessionStateIdle}
	if c.current != nil {
		status.SessionID = c.current.rec.ID()
	}
	c.mu.Unlock()

	status.Words = WordCount(c.transcript.Text())
	return status
}

// Transcript returns the current transcript text.
func (c *SessionController) Transcript() string {
	return c.transcript.Text()
}

// SetTranscript replaces the transcript with user-edited text.
func (c *SessionController) SetTranscript(text string) {
	c.publishTranscript(c.transcript.Replace(text))
}

// ClearTranscript empties the transcript.
func (c *SessionController) ClearTranscript() {
	c.publishTranscript(c.transcript.Replace(""))
}

// CopyTranscript writes the full transcript to the clipboard.
func (c *SessionController) CopyTranscript(ctx context.Context) error {
	if c.clipboard == nil {
		return errors.New("clipboard is not available")
	}
	if err := c.clipboard.SetText(ctx, c.transcript.Text()); err != nil {
		c.events.SessionError(domain.ErrorCodeClipboard, err.Error())
		return fmt.Errorf("copy transcript: %w", err)
	}
	return nil
}

func (c *SessionController) publishTranscript(text string) {
	c.events.TranscriptChanged(text, WordCount(text))
}

// mergeCancel returns a context that carries a's values and is cancelled
// when either a or b is.
func mergeCancel(a context.Context, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

type noopMetrics struct{}

func (noopMetrics) RecordingStarted(context.Context, string) {}

func (noopMetrics) OutcomeRecorded(context.Context, string, domain.Outcome, time.Duration) {}
