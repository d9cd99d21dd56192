package usecase

import (
	"strings"
	"sync"
)

// transcriptBuffer is the editable text shown to the user. Successful
// transcriptions are appended; failures replace the contents with a message.
type transcriptBuffer struct {
	mu   sync.Mutex
	text string
}

func (b *transcriptBuffer) Append(text string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.text == "" {
		b.text = text
	} else {
		b.text += " " + text
	}
	return b.text
}

func (b *transcriptBuffer) Replace(text string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text = text
	return b.text
}

func (b *transcriptBuffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// WordCount counts whitespace-separated tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
