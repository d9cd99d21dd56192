package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	out, _, err := run(t, "", "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Fatalf("unexpected version output: %q", out)
	}
}

func TestKeyCommands(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "", "key", "show")
	if err != nil || !strings.Contains(out, "No API key stored") {
		t.Fatalf("expected empty store, got %q err=%v", out, err)
	}

	out, _, err = run(t, "sk-from-stdin-5678\n", "key", "set")
	if err != nil {
		t.Fatalf("key set failed: %v", err)
	}
	if strings.Contains(out, "sk-from") || !strings.HasSuffix(strings.TrimSpace(out), "5678") {
		t.Fatalf("expected masked confirmation, got %q", out)
	}

	out, _, err = run(t, "", "key", "show")
	if err != nil || strings.TrimSpace(out) != strings.Repeat("*", 14)+"5678" {
		t.Fatalf("unexpected masked key %q err=%v", out, err)
	}

	if _, _, err := run(t, "", "key", "clear"); err != nil {
		t.Fatalf("key clear failed: %v", err)
	}
	out, _, _ = run(t, "", "key", "show")
	if !strings.Contains(out, "No API key stored") {
		t.Fatalf("expected cleared store, got %q", out)
	}

	if _, _, err := run(t, "   \n", "key", "set"); err == nil {
		t.Fatalf("expected blank key to be rejected")
	}
}

func TestRecordCommand(t *testing.T) {
	dir := isolate(t)

	script := filepath.Join(dir, "helper.sh")
	body := "#!/usr/bin/env bash\nread line\necho 'listening...'\necho '{\"success\":true,\"text\":\"from the terminal\"}'\n"
	if err := os.WriteFile(script, []byte(body), 0o700); err != nil {
		t.Fatalf("write script: %v", err)
	}
	t.Setenv("AURALY_CAPTURE_COMMAND", script)
	t.Setenv("AURALY_API_KEY", "sk-env")

	out, stderr, err := run(t, "\n", "record")
	if err != nil {
		t.Fatalf("record failed: %v (stderr %q)", err, stderr)
	}
	if strings.TrimSpace(out) != "from the terminal" {
		t.Fatalf("unexpected transcript: %q", out)
	}
	if !strings.Contains(stderr, "Transcribing...") {
		t.Fatalf("expected progress on stderr, got %q", stderr)
	}
}

func TestRecordCommandWithoutCredential(t *testing.T) {
	isolate(t)

	_, _, err := run(t, "\n", "record")
	if err == nil {
		t.Fatalf("expected missing credential error")
	}
}

func TestTranscribeCommand(t *testing.T) {
	dir := isolate(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-env" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text": " Uploaded. "}`)
	}))
	defer server.Close()
	t.Setenv("AURALY_WHISPER_ENDPOINT", server.URL)
	t.Setenv("AURALY_API_KEY", "sk-env")

	audio := filepath.Join(dir, "clip.wav")
	if err := os.WriteFile(audio, []byte("RIFF"), 0o600); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	out, _, err := run(t, "", "transcribe", audio)
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if strings.TrimSpace(out) != "Uploaded." {
		t.Fatalf("unexpected output: %q", out)
	}

	if _, _, err := run(t, "", "transcribe"); err == nil {
		t.Fatalf("expected missing argument error")
	}
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Chdir(home)
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "AURALY_") {
			t.Setenv(key, "")
		}
	}
	return home
}
