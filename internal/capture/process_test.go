package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"auraly/internal/domain"
)

const echoResultScript = `#!/usr/bin/env bash
echo "listening..."
read line
if [ "$line" != "STOP" ]; then
  echo '{"success": false, "error": "missing stop"}'
  exit 1
fi
echo "{\"success\": true, \"text\": \"key=$TEST_API_KEY args=$#\"}"
`

func TestRecorderStartStopCollect(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "record.sh", echoResultScript)
	recorder := newTestRecorder(ProcessConfig{Command: []string{script}, CredentialEnv: "TEST_API_KEY"}, allow(true))

	session, err := recorder.Start(context.Background(), "sk-secret")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if session.State() != domain.RecordingStateRecording {
		t.Fatalf("unexpected state: %s", session.State())
	}
	if recorder.Active() != session {
		t.Fatalf("expected recorder to track active session")
	}

	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if session.State() != domain.RecordingStateStopping {
		t.Fatalf("expected stopping state, got %s", session.State())
	}

	outcome := session.Collect(context.Background())
	if outcome != domain.Success("key=sk-secret args=0") {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if session.State() != domain.RecordingStateCompleted {
		t.Fatalf("expected completed state, got %s", session.State())
	}
	if recorder.Active() != nil {
		t.Fatalf("expected session to be released")
	}
	if again := session.Collect(context.Background()); again != outcome {
		t.Fatalf("expected repeated collect to return first outcome, got %+v", again)
	}
}

func TestSessionStopTwice(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "record.sh", echoResultScript)
	recorder := newTestRecorder(ProcessConfig{Command: []string{script}}, nil)

	session, err := recorder.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.Abort()

	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := session.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
}

func TestSessionCollectEmptyOutput(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "silent.sh", "#!/usr/bin/env bash\nread line\nexit 0\n")
	recorder := newTestRecorder(ProcessConfig{Command: []string{script}}, nil)

	session, err := recorder.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_ = session.Stop()

	if outcome := session.Collect(context.Background()); outcome != domain.Failure(domain.MessageNoSpeech) {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestSessionCollectTerminatesStuckProcess(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "stuck.sh", "#!/usr/bin/env bash\necho 'warming up'\ntrap '' TERM\nexec sleep 30\n")
	recorder := newTestRecorder(ProcessConfig{
		Command:       []string{script},
		ResultTimeout: 100 * time.Millisecond,
		KillTimeout:   100 * time.Millisecond,
	}, nil)

	session, err := recorder.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_ = session.Stop()

	start := time.Now()
	outcome := session.Collect(context.Background())
	if outcome != domain.Failure(domain.MessageNoSpeech) {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("collect took too long: %s", elapsed)
	}
	if recorder.Active() != nil {
		t.Fatalf("expected session to be released")
	}
}

func TestSessionCollectCancelled(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "slow.sh", "#!/usr/bin/env bash\nread line\nexec sleep 30\n")
	recorder := newTestRecorder(ProcessConfig{Command: []string{script}}, nil)

	session, err := recorder.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_ = session.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if outcome := session.Collect(ctx); outcome != domain.Failure(domain.MessageCancelled) {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestRecorderRejectsSecondSession(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "record.sh", echoResultScript)
	recorder := newTestRecorder(ProcessConfig{Command: []string{script}}, nil)

	first, err := recorder.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer first.Abort()

	if _, err := recorder.Start(context.Background(), ""); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestRecorderPermissionDenied(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "record.sh", echoResultScript)
	recorder := newTestRecorder(ProcessConfig{Command: []string{script}}, allow(false))

	_, err := recorder.Start(context.Background(), "")
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if recorder.Active() != nil {
		t.Fatalf("expected no active session")
	}
}

func TestRecorderSpawnFailure(t *testing.T) {
	t.Parallel()

	recorder := newTestRecorder(ProcessConfig{Command: []string{"/nonexistent/capture-helper"}}, nil)
	_, err := recorder.Start(context.Background(), "")
	if !errors.Is(err, domain.ErrSpawnFailed) {
		t.Fatalf("expected spawn failure, got %v", err)
	}

	empty := newTestRecorder(ProcessConfig{}, nil)
	if _, err := empty.Start(context.Background(), ""); !errors.Is(err, domain.ErrSpawnFailed) {
		t.Fatalf("expected spawn failure for empty command, got %v", err)
	}
}

func TestLineLoggerSplitsLines(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	writer := newLineLogger(logger)

	_, _ = writer.Write([]byte("first li"))
	_, _ = writer.Write([]byte("ne\nsecond\n\npartial"))

	logged := out.String()
	if !strings.Contains(logged, `line="first line"`) || !strings.Contains(logged, "line=second") {
		t.Fatalf("unexpected log output: %s", logged)
	}
	if strings.Contains(logged, "partial") {
		t.Fatalf("partial line should not be logged yet: %s", logged)
	}
}

func newTestRecorder(cfg ProcessConfig, permission *staticPermission) *Recorder {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if permission == nil {
		return NewRecorder(cfg, nil, logger)
	}
	return NewRecorder(cfg, permission, logger)
}

type staticPermission struct {
	granted bool
}

func allow(granted bool) *staticPermission {
	return &staticPermission{granted: granted}
}

func (p *staticPermission) Request(context.Context) (bool, error) {
	return p.granted, nil
}
