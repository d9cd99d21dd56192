package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"
)

const (
	BackendSubprocess = "subprocess"
	BackendDirect     = "direct"
)

// Config stores runtime configuration.
type Config struct {
	Backend     string            `yaml:"backend"`
	Capture     CaptureConfig     `yaml:"capture"`
	Audio       AudioConfig       `yaml:"audio"`
	Whisper     WhisperConfig     `yaml:"whisper"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Permission  PermissionConfig  `yaml:"permission"`
	Rules       RulesConfig       `yaml:"rules"`
	Session     SessionConfig     `yaml:"session"`
	Bus         BusConfig         `yaml:"bus"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Log         LogConfig         `yaml:"log"`
}

// CaptureConfig launches the helper process used by the subprocess backend.
type CaptureConfig struct {
	Command         string `yaml:"command"`
	Dir             string `yaml:"dir"`
	CredentialEnv   string `yaml:"credential_env"`
	ResultTimeoutMS int    `yaml:"result_timeout_ms"`
	KillTimeoutMS   int    `yaml:"kill_timeout_ms"`
}

// AudioConfig drives ffmpeg for the direct backend.
type AudioConfig struct {
	FFmpegCommand  string `yaml:"ffmpeg_command"`
	InputFormat    string `yaml:"input_format"`
	InputDevice    string `yaml:"input_device"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	ChunkSize      int    `yaml:"chunk_size"`
	StopTimeoutMS  int    `yaml:"stop_timeout_ms"`
	DrainTimeoutMS int    `yaml:"drain_timeout_ms"`
	TempDir        string `yaml:"temp_dir"`
}

type WhisperConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	Prompt    string `yaml:"prompt"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type CredentialsConfig struct {
	DBPath string `yaml:"db_path"`
	// EnvKey names an environment variable that overrides the stored key.
	EnvKey string `yaml:"env_key"`
}

type PermissionConfig struct {
	// Command is run before each recording; exit status 0 grants access.
	// Empty means access is always granted.
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type RulesConfig struct {
	Path      string `yaml:"path"`
	MaxPasses int    `yaml:"max_passes"`
}

type SessionConfig struct {
	AutoCopy bool `yaml:"auto_copy"`
}

type BusConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Token         string `yaml:"token"`
}

type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	TraceStdout bool   `yaml:"trace_stdout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the built-in configuration rooted at the user's config
// directory.
func Default() Config {
	base := configDir()
	return Config{
		Backend: BackendSubprocess,
		Capture: CaptureConfig{
			Command:         "python3 " + quoteArg(filepath.Join(base, "continuous_record.py")),
			CredentialEnv:   "OPENAI_API_KEY",
			ResultTimeoutMS: 15000,
			KillTimeoutMS:   1200,
		},
		Audio: AudioConfig{
			FFmpegCommand:  "ffmpeg",
			InputFormat:    "pulse",
			InputDevice:    "default",
			SampleRate:     16000,
			Channels:       1,
			ChunkSize:      4096,
			StopTimeoutMS:  1200,
			DrainTimeoutMS: 5000,
		},
		Whisper: WhisperConfig{
			TimeoutMS: 60000,
		},
		Credentials: CredentialsConfig{
			DBPath: filepath.Join(base, "settings.db"),
			EnvKey: "AURALY_API_KEY",
		},
		Permission: PermissionConfig{
			TimeoutMS: 30000,
		},
		Rules: RulesConfig{
			Path:      filepath.Join(base, "substitutions.rules"),
			MaxPasses: 30,
		},
		Bus: BusConfig{
			SubjectPrefix: "auraly.session",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath is the YAML file read when no path is given.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// Load resolves configuration from defaults, an optional YAML file, an
// optional .env file and AURALY_* environment variables, in that order.
// A missing file at the default path is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// CaptureArgv splits the capture command into argv.
func (c Config) CaptureArgv() ([]string, error) {
	args, err := shellwords.NewParser().Parse(c.Capture.Command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	return args, nil
}

func (c CaptureConfig) ResultTimeout() time.Duration { return millis(c.ResultTimeoutMS) }
func (c CaptureConfig) KillTimeout() time.Duration   { return millis(c.KillTimeoutMS) }
func (a AudioConfig) StopTimeout() time.Duration     { return millis(a.StopTimeoutMS) }
func (a AudioConfig) DrainTimeout() time.Duration    { return millis(a.DrainTimeoutMS) }
func (w WhisperConfig) Timeout() time.Duration       { return millis(w.TimeoutMS) }
func (p PermissionConfig) Timeout() time.Duration    { return millis(p.TimeoutMS) }

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Backend, "AURALY_BACKEND")
	overrideString(&cfg.Capture.Command, "AURALY_CAPTURE_COMMAND")
	overrideString(&cfg.Capture.Dir, "AURALY_CAPTURE_DIR")
	overrideString(&cfg.Capture.CredentialEnv, "AURALY_CAPTURE_CREDENTIAL_ENV")
	overrideInt(&cfg.Capture.ResultTimeoutMS, "AURALY_CAPTURE_RESULT_TIMEOUT_MS")
	overrideInt(&cfg.Capture.KillTimeoutMS, "AURALY_CAPTURE_KILL_TIMEOUT_MS")
	overrideString(&cfg.Audio.FFmpegCommand, "AURALY_FFMPEG_COMMAND")
	overrideString(&cfg.Audio.InputFormat, "AURALY_AUDIO_INPUT_FORMAT")
	overrideString(&cfg.Audio.InputDevice, "AURALY_AUDIO_INPUT_DEVICE")
	overrideInt(&cfg.Audio.SampleRate, "AURALY_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "AURALY_CHANNELS")
	overrideInt(&cfg.Audio.ChunkSize, "AURALY_AUDIO_CHUNK_SIZE")
	overrideString(&cfg.Audio.TempDir, "AURALY_AUDIO_TEMP_DIR")
	overrideString(&cfg.Whisper.Endpoint, "AURALY_WHISPER_ENDPOINT")
	overrideString(&cfg.Whisper.Model, "AURALY_WHISPER_MODEL")
	overrideString(&cfg.Whisper.Prompt, "AURALY_WHISPER_PROMPT")
	overrideInt(&cfg.Whisper.TimeoutMS, "AURALY_WHISPER_TIMEOUT_MS")
	overrideString(&cfg.Credentials.DBPath, "AURALY_CREDENTIALS_DB")
	overrideString(&cfg.Permission.Command, "AURALY_PERMISSION_COMMAND")
	overrideString(&cfg.Rules.Path, "AURALY_RULES_FILE")
	overrideInt(&cfg.Rules.MaxPasses, "AURALY_RULES_MAX_PASSES")
	overrideBool(&cfg.Session.AutoCopy, "AURALY_AUTO_COPY")
	overrideString(&cfg.Bus.URL, "AURALY_NATS_URL")
	overrideString(&cfg.Bus.SubjectPrefix, "AURALY_NATS_SUBJECT_PREFIX")
	overrideString(&cfg.Bus.Token, "AURALY_NATS_TOKEN")
	overrideString(&cfg.Telemetry.MetricsAddr, "AURALY_METRICS_ADDR")
	overrideBool(&cfg.Telemetry.TraceStdout, "AURALY_TRACE_STDOUT")
	overrideString(&cfg.Log.Level, "AURALY_LOG_LEVEL")
	overrideString(&cfg.Log.Format, "AURALY_LOG_FORMAT")
	overrideString(&cfg.Log.File, "AURALY_LOG_FILE")
}

func normalize(cfg *Config) {
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}
	if cfg.Rules.MaxPasses <= 0 {
		cfg.Rules.MaxPasses = 30
	}
	cfg.Capture.Dir = expandHome(cfg.Capture.Dir)
	cfg.Credentials.DBPath = expandHome(cfg.Credentials.DBPath)
	cfg.Rules.Path = expandHome(cfg.Rules.Path)
	cfg.Log.File = expandHome(cfg.Log.File)
}

func validate(cfg Config) error {
	var errs []error
	switch cfg.Backend {
	case BackendSubprocess:
		if args, err := cfg.CaptureArgv(); err != nil {
			errs = append(errs, err)
		} else if len(args) == 0 {
			errs = append(errs, errors.New("capture.command is required for the subprocess backend"))
		}
	case BackendDirect:
		if strings.TrimSpace(cfg.Audio.FFmpegCommand) == "" {
			errs = append(errs, errors.New("audio.ffmpeg_command is required for the direct backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want %s or %s)", cfg.Backend, BackendSubprocess, BackendDirect))
	}
	if cfg.Capture.ResultTimeoutMS < 0 || cfg.Capture.KillTimeoutMS < 0 {
		errs = append(errs, errors.New("capture timeouts must not be negative"))
	}
	if strings.TrimSpace(cfg.Credentials.DBPath) == "" {
		errs = append(errs, errors.New("credentials.db_path is required"))
	}
	return errors.Join(errs...)
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "auraly")
	}
	return ".auraly"
}

// quoteArg single-quotes value so CaptureArgv keeps it as one argument,
// spaces and backslashes included.
func quoteArg(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	value, ok := os.LookupEnv(envKey)
	if !ok {
		return
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		*target = true
	case "0", "false", "no", "off":
		*target = false
	}
}
