package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"auraly/internal/bootstrap"
	"auraly/internal/credentials"
	"auraly/internal/domain"
	"auraly/internal/usecase"
)

const (
	eventSession    = "auraly:session"
	eventTranscript = "auraly:transcript"
	eventError      = "auraly:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services *bootstrap.Services
	bootErr  error

	// emit is replaced in tests.
	emit func(ctx context.Context, name string, data ...interface{})
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(ctx, bootstrap.Options{Events: a, Clipboard: &wailsClipboard{}})
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
	if ok, _ := a.HasAPIKey(); !ok {
		a.TranscriptChanged(domain.MessageMissingCredential, usecase.WordCount(domain.MessageMissingCredential))
	}
}

func (a *App) shutdown(ctx context.Context) {
	if a.services == nil {
		return
	}
	if err := a.services.Controller.Abort(); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		a.services.Logger.Warn("failed to discard recording on shutdown", "error", err)
	}
	if err := a.services.Close(ctx); err != nil {
		a.services.Logger.Warn("shutdown cleanup failed", "error", err)
	}
}

// Toggle starts recording when idle and stops it when recording. It is a
// no-op while a transcription is in progress.
func (a *App) Toggle() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	return a.services.Controller.Toggle(a.ctx)
}

// Stop ends the recording and waits for its outcome.
func (a *App) Stop() (domain.Outcome, error) {
	if err := a.requireReady(); err != nil {
		return domain.Outcome{}, err
	}
	return a.services.Controller.Stop(a.ctx)
}

// Abort discards an in-progress recording.
func (a *App) Abort() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.services.Controller.Abort(); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		return err
	}
	return nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.services == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateError, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle}
	}
	return a.services.Controller.Status()
}

// SaveAPIKey persists the API key. Empty input is rejected.
func (a *App) SaveAPIKey(key string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return credentials.ErrEmptyCredential
	}
	if err := a.services.Credentials.Set(a.ctx, key); err != nil {
		a.SessionError(domain.ErrorCodeCredential, err.Error())
		return err
	}
	return nil
}

// ClearAPIKey removes the stored API key.
func (a *App) ClearAPIKey() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.services.Credentials.Clear(a.ctx); err != nil {
		a.SessionError(domain.ErrorCodeCredential, err.Error())
		return err
	}
	return nil
}

// HasAPIKey reports whether a key is available, without revealing it.
func (a *App) HasAPIKey() (bool, error) {
	if err := a.requireReady(); err != nil {
		return false, err
	}
	key, err := a.services.Credentials.Get(a.ctx)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(key) != "", nil
}

func (a *App) GetTranscript() string {
	if a.services == nil {
		return ""
	}
	return a.services.Controller.Transcript()
}

// SetTranscript stores user edits made in the text area.
func (a *App) SetTranscript(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Controller.SetTranscript(text)
	return nil
}

func (a *App) ClearTranscript() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Controller.ClearTranscript()
	return nil
}

func (a *App) CopyTranscript() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.Controller.CopyTranscript(a.ctx)
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	info := map[string]string{
		"backend":   a.services.Backend.Name(),
		"rulesFile": cfg.Rules.Path,
		"autoCopy":  fmt.Sprint(cfg.Session.AutoCopy),
	}
	if key, err := a.services.Credentials.Get(a.ctx); err == nil {
		info["apiKey"] = credentials.Mask(key)
	}
	switch a.services.Backend.Name() {
	case "direct":
		info["model"] = cfg.Whisper.Model
		info["audioInput"] = cfg.Audio.InputDevice
		info["audioInputFormat"] = cfg.Audio.InputFormat
	default:
		info["captureCommand"] = cfg.Capture.Command
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	a.send(eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// TranscriptChanged emits the full transcript after every change.
func (a *App) TranscriptChanged(text string, words int) {
	a.send(eventTranscript, map[string]interface{}{
		"text":  text,
		"words": words,
	})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.send(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func (a *App) send(name string, payload interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, payload)
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready"
	case domain.SessionReasonRecordingStarted:
		return "Listening..."
	case domain.SessionReasonTranscribing:
		return "Transcribing..."
	case domain.SessionReasonTranscriptAppended:
		return "Transcript updated"
	case domain.SessionReasonTranscriptCopied:
		return "Transcript copied to clipboard"
	case domain.SessionReasonNoSpeech:
		return domain.MessageNoSpeech
	case domain.SessionReasonTranscriptionFailed:
		return "Transcription failed"
	case domain.SessionReasonPermissionDenied:
		return "Microphone access denied"
	case domain.SessionReasonStartFailed:
		return "Recording could not start"
	case domain.SessionReasonMissingCredential:
		return "API key required"
	case domain.SessionReasonRecordingDiscarded:
		return "Recording discarded"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodePermission:
		return domain.MessagePermissionDenied
	case domain.ErrorCodeProcess:
		return "Recording process failed"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeCredential:
		return "API key problem"
	case domain.ErrorCodeRules:
		return "Rules processing failed"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
