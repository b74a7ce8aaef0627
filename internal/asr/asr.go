// Package asr uploads recordings to an OpenAI-compatible transcription
// endpoint.
package asr

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"dictate/internal/audio/container"
	"dictate/internal/config"
	"dictate/internal/jsonpath"
)

// Defaults per provider.
const (
	OpenAIBaseURL = "https://api.openai.com/v1"
	GroqBaseURL   = "https://api.groq.com/openai/v1"

	OpenAIModel = "whisper-1"
	GroqModel   = "whisper-large-v3"
)

// maxErrorBody bounds the provider body carried in an UploadError.
const maxErrorBody = 300

// ErrMissingAPIKey is returned when the selected provider has no key.
var ErrMissingAPIKey = errors.New("api key is not configured")

// Target is a resolved transcription endpoint.
type Target struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

// Endpoint is the transcription URL.
func (t Target) Endpoint() string {
	return strings.TrimRight(t.BaseURL, "/") + "/audio/transcriptions"
}

// Resolve selects provider, base URL, key and model from cfg.
func Resolve(cfg config.Config) (Target, error) {
	var t Target
	switch strings.ToLower(cfg.STTProviderID) {
	case config.ProviderGroq:
		t = Target{Provider: config.ProviderGroq, BaseURL: GroqBaseURL, APIKey: cfg.GroqAPIKey, Model: GroqModel}
		if cfg.GroqBaseURL != "" {
			t.BaseURL = cfg.GroqBaseURL
		}
	case config.ProviderOpenAI, "":
		t = Target{Provider: config.ProviderOpenAI, BaseURL: OpenAIBaseURL, APIKey: cfg.OpenAIAPIKey, Model: OpenAIModel}
		if cfg.OpenAIBaseURL != "" {
			t.BaseURL = cfg.OpenAIBaseURL
		}
	default:
		return Target{}, fmt.Errorf("unsupported stt provider %q", cfg.STTProviderID)
	}
	if cfg.STTModel != "" {
		t.Model = cfg.STTModel
	}
	if t.APIKey == "" {
		return t, fmt.Errorf("%s: %w", t.Provider, ErrMissingAPIKey)
	}
	return t, nil
}

// UploadError reports a failed upload: either a non-success response or a
// transport failure (Err set, StatusCode zero).
type UploadError struct {
	Provider   string
	StatusCode int
	StatusText string
	Body       string
	Err        error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s upload failed: %v", e.Provider, e.Err)
	}
	return strings.TrimSpace(e.StatusText + " " + e.Body)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Result is a successful transcription.
type Result struct {
	Text    string
	Raw     []byte
	Elapsed time.Duration
}

// Client performs uploads.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
	UserAgent  string
}

// New creates a client. A nil httpClient uses http.DefaultClient.
func New(httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{httpClient: httpClient, logger: logger, UserAgent: "dictate/1.0"}
}

// Transcribe sends payload in a single attempt and returns the transcript.
func (c *Client) Transcribe(ctx context.Context, t Target, payload []byte) (Result, error) {
	if t.APIKey == "" {
		return Result{}, &UploadError{Provider: t.Provider, Err: ErrMissingAPIKey}
	}
	body, contentType, err := buildForm(t.Model, payload)
	if err != nil {
		return Result{}, &UploadError{Provider: t.Provider, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint(), body)
	if err != nil {
		return Result{}, &UploadError{Provider: t.Provider, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+t.APIKey)
	req.Header.Set("User-Agent", c.UserAgent)

	c.logger.Debug("uploading",
		zap.String("provider", t.Provider),
		zap.String("endpoint", t.Endpoint()),
		zap.String("model", t.Model),
		zap.Int("bytes", len(payload)))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return Result{}, &UploadError{Provider: t.Provider, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &UploadError{Provider: t.Provider, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("upload rejected",
			zap.String("provider", t.Provider),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed),
			zap.String("body", formatResponse(raw)))
		return Result{}, &UploadError{
			Provider:   t.Provider,
			StatusCode: resp.StatusCode,
			StatusText: statusText(resp),
			Body:       truncate(string(raw), maxErrorBody),
		}
	}
	c.logger.Debug("upload done", zap.String("provider", t.Provider), zap.Duration("elapsed", elapsed))
	return Result{Text: jsonpath.Text(raw, "text"), Raw: raw, Elapsed: elapsed}, nil
}

func buildForm(model string, payload []byte) (io.Reader, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	ext := container.Sniff(payload)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="recording.%s"`, ext))
	h.Set("Content-Type", container.MIMEType(ext))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}
	if err := writer.WriteField("model", model); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

func statusText(resp *http.Response) string {
	if s := http.StatusText(resp.StatusCode); s != "" {
		return s
	}
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// formatResponse renders a body for logs, hex-encoding binary content.
func formatResponse(b []byte) string {
	if len(b) == 0 {
		return "<empty>"
	}
	const maxText = 1000
	const maxBin = 256

	if utf8.Valid(b) {
		if len(b) > maxText {
			return fmt.Sprintf("%s... (truncated, total %d bytes)", truncate(string(b), maxText), len(b))
		}
		return string(b)
	}
	if len(b) > maxBin {
		return fmt.Sprintf("<binary %d bytes, prefix hex: %s...>", len(b), hex.EncodeToString(b[:maxBin]))
	}
	return fmt.Sprintf("<binary %d bytes, hex: %s>", len(b), hex.EncodeToString(b))
}
