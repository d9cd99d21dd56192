package capture

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"auraly/internal/domain"
	"auraly/internal/ports"
)

func TestFFmpegCaptureDrainAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'pcmdata'\nexec sleep 5\n")
	capture := NewFFmpegCapture(script, 200*time.Millisecond)

	session, err := capture.Start(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	buffer := Drain(session, 512)
	time.Sleep(100 * time.Millisecond)
	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	select {
	case <-buffer.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("pump did not finish after stop")
	}

	pcm, readErr := buffer.Result()
	if readErr != nil {
		t.Fatalf("unexpected read error: %v", readErr)
	}
	if string(pcm) != "pcmdata" {
		t.Fatalf("unexpected pcm: %q", string(pcm))
	}
}

func TestFFmpegCaptureEarlyExitIsSpawnFailure(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'no such device' 1>&2\nexit 1\n")
	capture := NewFFmpegCapture(script, 0)

	_, err := capture.Start(context.Background(), ports.AudioConfig{})
	if !errors.Is(err, domain.ErrSpawnFailed) {
		t.Fatalf("expected spawn failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "no such device") {
		t.Fatalf("expected stderr detail in error: %v", err)
	}
}

func TestFFmpegArgsUseDefaults(t *testing.T) {
	t.Parallel()

	args := strings.Join(ffmpegArgs(withAudioDefaults(ports.AudioConfig{})), " ")
	for _, want := range []string{"-f pulse", "-i default", "-ac 1", "-ar 16000", "-f s16le -"} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in args: %s", want, args)
		}
	}
}

func TestWriteWAVFile(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x01, 0x00, 0xff, 0xff, 0x10, 0x00, 0x7f}
	path, err := WriteWAVFile(t.TempDir(), pcm, 16000, 1)
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		t.Fatalf("expected a valid wav file")
	}
	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoder.SampleRate != 16000 || decoder.NumChans != 1 {
		t.Fatalf("unexpected format: rate=%d channels=%d", decoder.SampleRate, decoder.NumChans)
	}
	want := []int{1, -1, 16}
	if len(buffer.Data) != len(want) {
		t.Fatalf("unexpected sample count: %d", len(buffer.Data))
	}
	for i, sample := range want {
		if buffer.Data[i] != sample {
			t.Fatalf("sample %d: got %d want %d", i, buffer.Data[i], sample)
		}
	}
}

func TestNormalizeExitErrIgnoresExitStatus(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "exit.sh", "#!/usr/bin/env bash\nexit 3\n")
	err := runScript(script)
	if err == nil {
		t.Fatalf("expected script to fail")
	}
	if got := normalizeExitErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func runScript(path string) error {
	return exec.Command(path).Run()
}
