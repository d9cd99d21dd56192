// Package protocol decodes the output stream of the capture helper process.
//
// The helper may print any number of diagnostic lines. Its result is the last
// line that holds a JSON object of the shape
//
//	{"success": bool, "text": string, "error": string}
//
// where text and error are optional.
package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"auraly/internal/domain"
)

// StopSentinel is written to the helper's stdin to end a recording.
const StopSentinel = "STOP\n"

// Decode turns raw helper output into an outcome. It is a pure function.
func Decode(raw []byte) domain.Outcome {
	if !utf8.Valid(raw) {
		return domain.Failure(domain.MessageProcessingError)
	}

	lines := bytes.Split(raw, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if !bytes.Contains(line, []byte("{")) || !bytes.Contains(line, []byte("}")) {
			continue
		}
		result, ok := parseResultLine(line)
		if !ok {
			continue
		}
		return result.outcome()
	}

	return domain.Failure(domain.MessageNoSpeech)
}

type resultLine map[string]any

func parseResultLine(line []byte) (resultLine, bool) {
	var parsed map[string]any
	if err := json.Unmarshal(line, &parsed); err != nil || parsed == nil {
		return nil, false
	}
	return resultLine(parsed), true
}

func (r resultLine) outcome() domain.Outcome {
	if success, _ := r["success"].(bool); success {
		if text, ok := r["text"].(string); ok && strings.TrimSpace(text) != "" {
			return domain.Success(text)
		}
	}
	if message, ok := r["error"].(string); ok {
		return domain.Failure(message)
	}
	return domain.Failure(domain.MessageNoSpeech)
}
