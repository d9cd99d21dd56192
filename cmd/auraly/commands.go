package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"auraly/internal/bootstrap"
	"auraly/internal/credentials"
	"auraly/internal/domain"
	"auraly/internal/logging"
	"auraly/internal/ports"
	"auraly/internal/whisper"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "auraly",
		Short:         "Voice dictation from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		newRecordCmd(opts),
		newTranscribeCmd(opts),
		newKeyCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func (o *rootOptions) build(cmd *cobra.Command, events ports.EventSink) (*bootstrap.Services, error) {
	opts := bootstrap.Options{ConfigPath: o.configPath, Events: events, Clipboard: systemClipboard{}}
	if o.logLevel != "" {
		level, err := logging.ParseLevel(o.logLevel)
		if err != nil {
			return nil, err
		}
		opts.Logger = slog.New(logging.NewHandler(cmd.ErrOrStderr(), level, ""))
	}
	return bootstrap.Build(cmd.Context(), opts)
}

func newRecordCmd(opts *rootOptions) *cobra.Command {
	var copyResult bool
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record until Enter is pressed, then print the transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sink := &terminalSink{w: cmd.ErrOrStderr()}
			services, err := opts.build(cmd, sink)
			if err != nil {
				return err
			}
			defer func() { _ = services.Close(context.Background()) }()

			controller := services.Controller
			if err := controller.Start(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "Recording. Press Enter to stop.")

			waitForEnter(cmd.Context(), cmd.InOrStdin())
			if cmd.Context().Err() != nil {
				return controller.Abort()
			}

			outcome, err := controller.Stop(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), outcome.Display())
			if outcome.Kind != domain.OutcomeSuccess {
				return errors.New(outcome.Display())
			}
			if copyResult {
				if err := controller.CopyTranscript(cmd.Context()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&copyResult, "copy", false, "copy the transcript to the clipboard")
	return cmd
}

func newTranscribeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <file.wav>",
		Short: "Upload an existing WAV file and print the transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := opts.build(cmd, nil)
			if err != nil {
				return err
			}
			defer func() { _ = services.Close(context.Background()) }()

			outcome := whisper.OutcomeFor(services.Whisper.Transcribe(cmd.Context(), args[0]))
			fmt.Fprintln(cmd.OutOrStdout(), outcome.Display())
			if outcome.Kind != domain.OutcomeSuccess {
				return errors.New(outcome.Display())
			}
			return nil
		},
	}
}

func newKeyCmd(opts *rootOptions) *cobra.Command {
	key := &cobra.Command{
		Use:   "key",
		Short: "Manage the stored API key",
	}
	key.AddCommand(
		&cobra.Command{
			Use:   "set [key]",
			Short: "Store the API key (read from stdin when omitted)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				value := ""
				if len(args) == 1 {
					value = args[0]
				} else {
					line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
					if err != nil && !errors.Is(err, io.EOF) {
						return err
					}
					value = line
				}
				value = strings.TrimSpace(value)
				if value == "" {
					return credentials.ErrEmptyCredential
				}
				return withServices(cmd, opts, func(s *bootstrap.Services) error {
					if err := s.Credentials.Set(cmd.Context(), value); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Saved", credentials.Mask(value))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the stored API key, masked",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withServices(cmd, opts, func(s *bootstrap.Services) error {
					value, err := s.Credentials.Get(cmd.Context())
					if err != nil {
						return err
					}
					if value == "" {
						fmt.Fprintln(cmd.OutOrStdout(), "No API key stored")
						return nil
					}
					fmt.Fprintln(cmd.OutOrStdout(), credentials.Mask(value))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the stored API key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withServices(cmd, opts, func(s *bootstrap.Services) error {
					if err := s.Credentials.Clear(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "API key removed")
					return nil
				})
			},
		},
	)
	return key
}

func withServices(cmd *cobra.Command, opts *rootOptions, fn func(*bootstrap.Services) error) error {
	services, err := opts.build(cmd, nil)
	if err != nil {
		return err
	}
	defer func() { _ = services.Close(context.Background()) }()
	return fn(services)
}

// waitForEnter returns when a line is read from r or ctx is done.
func waitForEnter(ctx context.Context, r io.Reader) {
	read := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(r).ReadString('\n')
		close(read)
	}()
	select {
	case <-read:
	case <-ctx.Done():
	}
}

var (
	progressStyle = lipgloss.NewStyle().Faint(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// terminalSink prints state changes for interactive use.
type terminalSink struct {
	w io.Writer
}

func (s *terminalSink) SessionStateChanged(state domain.SessionState, _ domain.SessionStateReason) {
	if state == domain.SessionStateTranscribing {
		fmt.Fprintln(s.w, progressStyle.Render("Transcribing..."))
	}
}

func (s *terminalSink) TranscriptChanged(string, int) {}

func (s *terminalSink) SessionError(code domain.ErrorCode, detail string) {
	fmt.Fprintln(s.w, errorStyle.Render(string(code)+":"), detail)
}

type systemClipboard struct{}

func (systemClipboard) SetText(_ context.Context, text string) error {
	return clipboard.WriteAll(text)
}
