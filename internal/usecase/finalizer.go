package usecase

import (
	"context"

	"auraly/internal/domain"
	"auraly/internal/ports"
)

// transcriptFinalizer post-processes successful text before it reaches the
// transcript and optionally copies the result.
type transcriptFinalizer struct {
	filter    ports.TextFilter
	clipboard ports.Clipboard
	events    ports.EventSink
	autoCopy  bool
}

func newTranscriptFinalizer(filter ports.TextFilter, clipboard ports.Clipboard, events ports.EventSink, autoCopy bool) transcriptFinalizer {
	return transcriptFinalizer{filter: filter, clipboard: clipboard, events: events, autoCopy: autoCopy}
}

// Rewrite applies the text filter. A filter error keeps the raw text.
func (f transcriptFinalizer) Rewrite(raw string) string {
	if f.filter == nil {
		return raw
	}
	transformed, err := f.filter.Apply(raw)
	if err != nil {
		f.events.SessionError(domain.ErrorCodeRules, err.Error())
		return raw
	}
	if transformed == "" {
		return raw
	}
	return transformed
}

// Publish copies the transcript when auto-copy is on and reports which
// reason the session should settle with.
func (f transcriptFinalizer) Publish(ctx context.Context, transcript string) domain.SessionStateReason {
	if !f.autoCopy || f.clipboard == nil {
		return domain.SessionReasonTranscriptAppended
	}
	if err := f.clipboard.SetText(ctx, transcript); err != nil {
		f.events.SessionError(domain.ErrorCodeClipboard, "transcript ready but clipboard write failed")
		return domain.SessionReasonTranscriptAppended
	}
	return domain.SessionReasonTranscriptCopied
}
