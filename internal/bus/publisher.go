// Package bus mirrors dictation events onto NATS subjects so other tools can
// follow sessions without talking to the desktop window.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"auraly/internal/domain"
)

const DefaultSubjectPrefix = "auraly.session"

// Publisher is the subset of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Config describes the NATS connection.
type Config struct {
	URL            string
	SubjectPrefix  string
	ConnectTimeout time.Duration
	Token          string
}

// Connect dials NATS using cfg.
func Connect(cfg Config, logger *slog.Logger) (*nats.Conn, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("no NATS url configured")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	options := []nats.Option{
		nats.Name("auraly"),
		nats.Timeout(cfg.ConnectTimeout),
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	conn, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	if logger != nil {
		logger.Info("connected to NATS", "url", conn.ConnectedUrlRedacted())
	}
	return conn, nil
}

// EventSink publishes session events as JSON. Publish failures are logged
// and never reach the controller.
type EventSink struct {
	pub    Publisher
	prefix string
	log    *slog.Logger
	now    func() time.Time
}

func NewEventSink(pub Publisher, prefix string, logger *slog.Logger) *EventSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSink{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "."),
		log:    logger.With("component", "bus.EventSink"),
		now:    time.Now,
	}
}

type stateMessage struct {
	State  domain.SessionState       `json:"state"`
	Reason domain.SessionStateReason `json:"reason"`
	At     time.Time                 `json:"at"`
}

type transcriptMessage struct {
	Text  string    `json:"text"`
	Words int       `json:"words"`
	At    time.Time `json:"at"`
}

type errorMessage struct {
	Code   domain.ErrorCode `json:"code"`
	Detail string           `json:"detail"`
	At     time.Time        `json:"at"`
}

func (s *EventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.publish("state", stateMessage{State: state, Reason: reason, At: s.now()})
}

func (s *EventSink) TranscriptChanged(text string, words int) {
	s.publish("transcript", transcriptMessage{Text: text, Words: words, At: s.now()})
}

func (s *EventSink) SessionError(code domain.ErrorCode, detail string) {
	s.publish("error", errorMessage{Code: code, Detail: detail, At: s.now()})
}

func (s *EventSink) publish(kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("failed to encode event", "kind", kind, "error", err)
		return
	}
	subject := s.prefix + "." + kind
	if err := s.pub.Publish(subject, data); err != nil {
		s.log.Warn("failed to publish event", "subject", subject, "error", err)
	}
}
