package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"auraly/internal/domain"
	"auraly/internal/ports"
)

const (
	DefaultEndpoint = "https://api.openai.com/v1/audio/transcriptions"
	DefaultModel    = "whisper-1"
	DefaultPrompt   = "Please transcribe with proper punctuation, including periods, commas, question marks, and exclamation points."

	maxResponseBytes = 4 << 20
)

// Config controls the transcription endpoint.
type Config struct {
	Endpoint string
	Model    string
	Prompt   string
	Timeout  time.Duration
}

// Client uploads recorded audio and returns its transcript.
type Client struct {
	cfg         Config
	credentials ports.CredentialStore
	http        *http.Client
	log         *slog.Logger
}

func NewClient(cfg Config, credentials ports.CredentialStore, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:         cfg,
		credentials: credentials,
		http:        httpClient,
		log:         logger.With("component", "whisper.Client"),
	}
}

// Transcribe uploads the WAV file at audioPath in a single request.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (text string, err error) {
	ctx, span := otel.Tracer("auraly/internal/whisper").Start(ctx, "whisper.transcribe",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("whisper.model", c.cfg.Model)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	credential, err := c.credentials.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	if strings.TrimSpace(credential) == "" {
		return "", domain.ErrMissingCredential
	}

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("read audio file: %w", err)
	}

	body, contentType, err := c.buildBody(filepath.Base(audioPath), audio)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", contentType)

	span.SetAttributes(attribute.Int("whisper.audio_bytes", len(audio)))
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: err.Error(), StatusCode: resp.StatusCode, Err: err}
	}

	c.log.Debug("transcription response",
		"status", resp.StatusCode,
		"bytes", len(payload),
		"elapsed", time.Since(start),
	)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("transcription endpoint returned error status", "status", resp.StatusCode)
	}

	return parseResponse(resp.StatusCode, payload)
}

func (c *Client) buildBody(filename string, audio []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", c.cfg.Model); err != nil {
		return nil, "", fmt.Errorf("write model field: %w", err)
	}
	if err := writer.WriteField("prompt", c.cfg.Prompt); err != nil {
		return nil, "", fmt.Errorf("write prompt field: %w", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", "audio/wav")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

type transcriptionResponse struct {
	Text  *string `json:"text"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func parseResponse(status int, payload []byte) (string, error) {
	var decoded transcriptionResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", &Error{Kind: KindParse, Message: "Failed to parse response", StatusCode: status, Err: err}
	}

	if decoded.Text != nil {
		if text := strings.TrimSpace(*decoded.Text); text != "" {
			return text, nil
		}
		return "", &Error{Kind: KindNoSpeech, Message: domain.MessageNoSpeech, StatusCode: status}
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", &Error{Kind: KindAPI, Message: decoded.Error.Message, StatusCode: status}
	}
	return "", &Error{Kind: KindParse, Message: "Failed to parse response", StatusCode: status}
}

// OutcomeFor maps a Transcribe result onto a session outcome.
func OutcomeFor(text string, err error) domain.Outcome {
	if err == nil {
		return domain.Success(text)
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Outcome()
	}
	if errors.Is(err, domain.ErrMissingCredential) {
		return domain.Failure(domain.MessageMissingCredential)
	}
	return domain.Failure(err.Error())
}
