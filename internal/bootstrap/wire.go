package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"auraly/internal/backend"
	"auraly/internal/bus"
	"auraly/internal/capture"
	"auraly/internal/config"
	"auraly/internal/credentials"
	"auraly/internal/logging"
	"auraly/internal/permission"
	"auraly/internal/ports"
	"auraly/internal/rules"
	"auraly/internal/telemetry"
	"auraly/internal/usecase"
	"auraly/internal/whisper"
)

// Options selects the presentation-side collaborators.
type Options struct {
	ConfigPath string
	Events     ports.EventSink
	Clipboard  ports.Clipboard
	// Logger overrides the configured logger when set.
	Logger *slog.Logger
}

// Services is the assembled runtime graph.
type Services struct {
	Config      config.Config
	Logger      *slog.Logger
	Controller  *usecase.SessionController
	Backend     ports.TranscriptionBackend
	Credentials ports.CredentialStore
	Whisper     *whisper.Client

	closers []func(context.Context) error
}

// Close releases every resource Build opened, in reverse order.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i](ctx))
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Build wires all backend dependencies for the current runtime.
func Build(ctx context.Context, opts Options) (*Services, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	s := &Services{Config: cfg}
	if err := s.build(ctx, opts); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Services) build(ctx context.Context, opts Options) error {
	cfg := s.Config

	logger := opts.Logger
	if logger == nil {
		l, closer, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
		if err != nil {
			return err
		}
		logger = l
		s.onClose(closer)
	}
	s.Logger = logger

	store, err := credentials.OpenSQLite(ctx, cfg.Credentials.DBPath, logger)
	if err != nil {
		return err
	}
	s.onClose(store)
	s.Credentials = credentials.EnvOverride{Store: store, Key: cfg.Credentials.EnvKey}

	perm, err := buildPermission(cfg, logger)
	if err != nil {
		return err
	}

	filter, err := rules.Load(cfg.Rules.Path, cfg.Rules.MaxPasses)
	if err != nil {
		return err
	}
	if filter.Len() > 0 {
		logger.Info("transcript rules loaded", "path", cfg.Rules.Path, "rules", filter.Len())
	}

	if cfg.Telemetry.MetricsAddr != "" || cfg.Telemetry.TraceStdout {
		provider, err := telemetry.Setup(ctx, telemetry.Config{
			MetricsAddr: cfg.Telemetry.MetricsAddr,
			TraceStdout: cfg.Telemetry.TraceStdout,
		}, logger)
		if err != nil {
			return fmt.Errorf("setup telemetry: %w", err)
		}
		s.closers = append(s.closers, provider.Shutdown)
	}
	metrics, err := telemetry.NewSessionMetrics(nil)
	if err != nil {
		return fmt.Errorf("create session metrics: %w", err)
	}

	sinks := ports.MultiSink{}
	if opts.Events != nil {
		sinks = append(sinks, opts.Events)
	}
	if cfg.Bus.URL != "" {
		conn, err := bus.Connect(bus.Config{URL: cfg.Bus.URL, Token: cfg.Bus.Token}, logger)
		if err != nil {
			logger.Warn("event bus disabled", "error", err)
		} else {
			s.closers = append(s.closers, func(context.Context) error { return conn.Drain() })
			sinks = append(sinks, bus.NewEventSink(conn, cfg.Bus.SubjectPrefix, logger))
		}
	}

	s.Whisper = whisper.NewClient(whisper.Config{
		Endpoint: cfg.Whisper.Endpoint,
		Model:    cfg.Whisper.Model,
		Prompt:   cfg.Whisper.Prompt,
		Timeout:  cfg.Whisper.Timeout(),
	}, s.Credentials, nil, logger)

	s.Backend, err = buildBackend(cfg, perm, s.Whisper, logger)
	if err != nil {
		return err
	}

	s.Controller = usecase.NewSessionController(
		s.Backend,
		s.Credentials,
		filter,
		opts.Clipboard,
		sinks,
		metrics,
		logger,
		usecase.Config{AutoCopy: cfg.Session.AutoCopy},
	)
	logger.Info("services ready", "backend", s.Backend.Name(), "credentials_db", cfg.Credentials.DBPath)
	return nil
}

func buildPermission(cfg config.Config, logger *slog.Logger) (ports.Permission, error) {
	if cfg.Permission.Command == "" {
		return permission.Granted{}, nil
	}
	return permission.NewProbe(cfg.Permission.Command, cfg.Permission.Timeout(), logger)
}

func buildBackend(cfg config.Config, perm ports.Permission, client *whisper.Client, logger *slog.Logger) (ports.TranscriptionBackend, error) {
	switch cfg.Backend {
	case config.BackendDirect:
		tempDir := cfg.Audio.TempDir
		if tempDir == "" {
			tempDir = os.TempDir()
		}
		return backend.NewDirect(
			capture.NewFFmpegCapture(cfg.Audio.FFmpegCommand, cfg.Audio.StopTimeout()),
			client,
			perm,
			backend.DirectConfig{
				Audio: ports.AudioConfig{
					SampleRate:  cfg.Audio.SampleRate,
					Channels:    cfg.Audio.Channels,
					InputFormat: cfg.Audio.InputFormat,
					InputDevice: cfg.Audio.InputDevice,
				},
				ChunkSize:    cfg.Audio.ChunkSize,
				TempDir:      tempDir,
				DrainTimeout: cfg.Audio.DrainTimeout(),
			},
			logger,
		), nil
	default:
		argv, err := cfg.CaptureArgv()
		if err != nil {
			return nil, err
		}
		recorder := capture.NewRecorder(capture.ProcessConfig{
			Command:       argv,
			Dir:           cfg.Capture.Dir,
			CredentialEnv: cfg.Capture.CredentialEnv,
			ResultTimeout: cfg.Capture.ResultTimeout(),
			KillTimeout:   cfg.Capture.KillTimeout(),
		}, perm, logger)
		return backend.NewSubprocess(recorder), nil
	}
}

func (s *Services) onClose(c io.Closer) {
	s.closers = append(s.closers, func(context.Context) error { return c.Close() })
}
