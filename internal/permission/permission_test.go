package permission

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestProbeExitStatus(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	grant := writeScript(t, dir, "grant.sh", "#!/usr/bin/env bash\nexit 0\n")
	deny := writeScript(t, dir, "deny.sh", "#!/usr/bin/env bash\necho denied\nexit 1\n")

	granted, err := NewProbe(grant, time.Second, nil)
	if err != nil {
		t.Fatalf("new probe failed: %v", err)
	}
	if ok, err := granted.Request(context.Background()); err != nil || !ok {
		t.Fatalf("expected granted, got ok=%v err=%v", ok, err)
	}

	denied, err := NewProbe(deny, time.Second, nil)
	if err != nil {
		t.Fatalf("new probe failed: %v", err)
	}
	if ok, err := denied.Request(context.Background()); err != nil || ok {
		t.Fatalf("expected denied without error, got ok=%v err=%v", ok, err)
	}
}

func TestProbeMissingCommandIsError(t *testing.T) {
	t.Parallel()

	probe, err := NewProbe("/nonexistent/mic-check --quiet", time.Second, nil)
	if err != nil {
		t.Fatalf("new probe failed: %v", err)
	}
	if _, err := probe.Request(context.Background()); err == nil {
		t.Fatalf("expected error for missing command")
	}
}

func TestNewProbeRejectsEmptyCommand(t *testing.T) {
	t.Parallel()

	if _, err := NewProbe("   ", 0, nil); err == nil {
		t.Fatalf("expected empty command error")
	}
}

func TestGranted(t *testing.T) {
	t.Parallel()

	if ok, err := (Granted{}).Request(context.Background()); !ok || err != nil {
		t.Fatalf("expected granted")
	}
}

func writeScript(t *testing.T, dir string, name string, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("write script failed: %v", err)
	}
	return path
}
