package whisper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"auraly/internal/credentials"
	"auraly/internal/domain"
)

func TestClientTranscribeSendsMultipartRequest(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart failed: %v", err)
		}
		if got := r.FormValue("model"); got != DefaultModel {
			t.Errorf("unexpected model: %q", got)
		}
		if got := r.FormValue("prompt"); got != DefaultPrompt {
			t.Errorf("unexpected prompt: %q", got)
		}
		files := r.MultipartForm.File["file"]
		if len(files) != 1 {
			t.Errorf("expected one file part, got %d", len(files))
		} else {
			if got := files[0].Header.Get("Content-Type"); got != "audio/wav" {
				t.Errorf("unexpected file content type: %q", got)
			}
			if files[0].Filename != "recording.wav" {
				t.Errorf("unexpected filename: %q", files[0].Filename)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text": " Hello there. "}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, "sk-test")
	text, err := client.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if text != "Hello there." {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestClientTranscribeErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		body    string
		kind    ErrorKind
		outcome domain.Outcome
	}{
		{
			name:    "api error on 401",
			status:  http.StatusUnauthorized,
			body:    `{"error":{"message":"invalid key"}}`,
			kind:    KindAPI,
			outcome: domain.Failure("invalid key"),
		},
		{
			name:    "empty text",
			status:  http.StatusOK,
			body:    `{"text":""}`,
			kind:    KindNoSpeech,
			outcome: domain.NoSpeech(),
		},
		{
			name:    "not json",
			status:  http.StatusBadGateway,
			body:    `<html>bad gateway</html>`,
			kind:    KindParse,
			outcome: domain.Failure("Failed to parse response"),
		},
		{
			name:    "neither text nor error",
			status:  http.StatusOK,
			body:    `{"task":"transcribe"}`,
			kind:    KindParse,
			outcome: domain.Failure("Failed to parse response"),
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer server.Close()

			client := newTestClient(server.URL, "sk-test")
			text, err := client.Transcribe(context.Background(), writeAudio(t))

			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if apiErr.Kind != tc.kind {
				t.Fatalf("unexpected kind: %s", apiErr.Kind)
			}
			if apiErr.StatusCode != tc.status {
				t.Fatalf("unexpected status code: %d", apiErr.StatusCode)
			}
			if got := OutcomeFor(text, err); got != tc.outcome {
				t.Fatalf("unexpected outcome: %+v", got)
			}
		})
	}
}

func TestClientTranscribeRequiresCredential(t *testing.T) {
	t.Parallel()

	client := newTestClient("http://127.0.0.1:1", "")
	_, err := client.Transcribe(context.Background(), writeAudio(t))
	if !errors.Is(err, domain.ErrMissingCredential) {
		t.Fatalf("expected missing credential error, got %v", err)
	}
	if got := OutcomeFor("", err); got != domain.Failure(domain.MessageMissingCredential) {
		t.Fatalf("unexpected outcome: %+v", got)
	}
}

func TestClientTranscribeTransportFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(url, "sk-test")
	_, err := client.Transcribe(context.Background(), writeAudio(t))
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind != KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestNewClientDefaults(t *testing.T) {
	t.Parallel()

	client := NewClient(Config{}, credentials.NewMemory(""), nil, nil)
	if client.cfg.Endpoint != DefaultEndpoint || client.cfg.Model != DefaultModel || client.cfg.Prompt != DefaultPrompt {
		t.Fatalf("unexpected defaults: %+v", client.cfg)
	}
	if client.http == nil || client.http.Timeout == 0 {
		t.Fatalf("expected http client with timeout")
	}
}

func newTestClient(endpoint string, credential string) *Client {
	return NewClient(
		Config{Endpoint: endpoint},
		credentials.NewMemory(credential),
		nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o600); err != nil {
		t.Fatalf("write audio failed: %v", err)
	}
	return path
}
