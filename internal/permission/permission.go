package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// Granted always allows microphone access. Used where the platform has no
// permission prompt.
type Granted struct{}

func (Granted) Request(context.Context) (bool, error) { return true, nil }

// Probe asks an external command whether microphone access is granted. Exit
// status 0 means granted, any other exit status means denied.
type Probe struct {
	argv    []string
	timeout time.Duration
	log     *slog.Logger
}

func NewProbe(command string, timeout time.Duration, logger *slog.Logger) (*Probe, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse permission command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("permission command is empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{argv: args, timeout: timeout, log: logger.With("component", "permission.Probe")}, nil
}

func (p *Probe) Request(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...).CombinedOutput()
	if err == nil {
		return true, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		p.log.Info("microphone access denied", "exit_code", exitErr.ExitCode(), "output", strings.TrimSpace(string(out)))
		return false, nil
	}
	return false, fmt.Errorf("run permission command: %w", err)
}
