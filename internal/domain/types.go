package domain

import "errors"

// SessionState models the dictation lifecycle seen by the presentation layer.
type SessionState string

const (
	SessionStateIdle         SessionState = "idle"
	SessionStateRecording    SessionState = "recording"
	SessionStateTranscribing SessionState = "transcribing"
	SessionStateError        SessionState = "error"
)

// RecordingState models one capture process lifecycle.
type RecordingState string

const (
	RecordingStateIdle      RecordingState = "idle"
	RecordingStateRecording RecordingState = "recording"
	RecordingStateStopping  RecordingState = "stopping"
	RecordingStateCompleted RecordingState = "completed"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady               SessionStateReason = "ready"
	SessionReasonRecordingStarted    SessionStateReason = "recording_started"
	SessionReasonTranscribing        SessionStateReason = "transcribing"
	SessionReasonTranscriptAppended  SessionStateReason = "transcript_appended"
	SessionReasonTranscriptCopied    SessionStateReason = "transcript_copied"
	SessionReasonNoSpeech            SessionStateReason = "no_speech"
	SessionReasonTranscriptionFailed SessionStateReason = "transcription_failed"
	SessionReasonPermissionDenied    SessionStateReason = "permission_denied"
	SessionReasonStartFailed         SessionStateReason = "start_failed"
	SessionReasonMissingCredential   SessionStateReason = "missing_credential"
	SessionReasonRecordingDiscarded  SessionStateReason = "recording_discarded"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodePermission    ErrorCode = "permission"
	ErrorCodeProcess       ErrorCode = "process"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeCredential    ErrorCode = "credential"
	ErrorCodeRules         ErrorCode = "rules"
	ErrorCodeClipboard     ErrorCode = "clipboard"
)

var (
	ErrPermissionDenied  = errors.New("microphone access denied")
	ErrSpawnFailed       = errors.New("capture process could not be started")
	ErrMissingCredential = errors.New("api key is not configured")
)

// Status summarizes the current runtime status.
type Status struct {
	State     SessionState `json:"state"`
	Active    bool         `json:"active"`
	SessionID string       `json:"sessionId,omitempty"`
	Words     int          `json:"words"`
	Message   string       `json:"message,omitempty"`
}
