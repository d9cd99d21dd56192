package domain

// OutcomeKind tags which variant of Outcome is populated.
type OutcomeKind string

const (
	OutcomeSuccess  OutcomeKind = "success"
	OutcomeNoSpeech OutcomeKind = "no_speech"
	OutcomeFailure  OutcomeKind = "failure"
)

const (
	MessageNoSpeech          = "No speech detected"
	MessageProcessingError   = "Error processing audio"
	MessageCancelled         = "Transcription cancelled"
	MessagePermissionDenied  = "Microphone access denied. Please enable in System Settings."
	MessageMissingCredential = "Add your OpenAI API key to start dictating"
)

// Outcome is the result of one recording: Success carries Text, Failure
// carries Message, NoSpeech carries neither.
type Outcome struct {
	Kind    OutcomeKind `json:"kind"`
	Text    string      `json:"text,omitempty"`
	Message string      `json:"message,omitempty"`
}

func Success(text string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Text: text}
}

func NoSpeech() Outcome {
	return Outcome{Kind: OutcomeNoSpeech}
}

func Failure(message string) Outcome {
	return Outcome{Kind: OutcomeFailure, Message: message}
}

// Display is the text shown in the transcript area for this outcome.
func (o Outcome) Display() string {
	switch o.Kind {
	case OutcomeSuccess:
		return o.Text
	case OutcomeNoSpeech:
		return MessageNoSpeech
	default:
		if o.Message == "" {
			return MessageProcessingError
		}
		return o.Message
	}
}
