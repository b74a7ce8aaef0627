// Package postprocess rewrites a raw transcript with a chat model.
package postprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"dictate/internal/asr"
	"dictate/internal/config"
	"dictate/internal/jsonpath"
)

// Placeholder is replaced by the transcript inside the prompt.
const Placeholder = "{transcript}"

// Default chat models per provider.
const (
	OpenAIModel = "gpt-4o-mini"
	GroqModel   = "llama-3.3-70b-versatile"
	GeminiModel = "gemini-2.0-flash"
)

// ErrEmptyOutput is returned when the model produced no text.
var ErrEmptyOutput = errors.New("model returned no text")

// Error wraps any post-processing failure.
type Error struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("post-process via %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("post-process via %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Enabled reports whether cfg asks for post-processing.
func Enabled(cfg config.Config) bool {
	return cfg.PostProcessingEnabled && strings.TrimSpace(cfg.PostProcessingPrompt) != ""
}

// BuildPrompt substitutes transcript into prompt, or appends it when the
// prompt has no placeholder.
func BuildPrompt(prompt, transcript string) string {
	if strings.Contains(prompt, Placeholder) {
		return strings.ReplaceAll(prompt, Placeholder, transcript)
	}
	return strings.TrimRight(prompt, "\n") + "\n\n" + transcript
}

// Processor calls the configured chat provider.
type Processor struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a Processor. A nil httpClient uses http.DefaultClient.
func New(httpClient *http.Client, logger *zap.Logger) *Processor {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{httpClient: httpClient, logger: logger}
}

// Process returns the rewritten transcript.
func (p *Processor) Process(ctx context.Context, cfg config.Config, transcript string) (string, error) {
	provider := strings.ToLower(cfg.PostProcessingProviderID)
	if provider == "" {
		provider = config.ProviderOpenAI
	}
	prompt := BuildPrompt(cfg.PostProcessingPrompt, transcript)

	start := time.Now()
	var (
		out string
		err error
	)
	switch provider {
	case config.ProviderOpenAI:
		out, err = p.chat(ctx, provider, firstNonEmpty(cfg.OpenAIBaseURL, asr.OpenAIBaseURL), cfg.OpenAIAPIKey, firstNonEmpty(cfg.ChatModel, OpenAIModel), prompt)
	case config.ProviderGroq:
		out, err = p.chat(ctx, provider, firstNonEmpty(cfg.GroqBaseURL, asr.GroqBaseURL), cfg.GroqAPIKey, firstNonEmpty(cfg.ChatModel, GroqModel), prompt)
	case config.ProviderGemini:
		out, err = p.gemini(ctx, cfg.GeminiBaseURL, cfg.GeminiAPIKey, firstNonEmpty(cfg.ChatModel, GeminiModel), prompt)
	default:
		err = &Error{Provider: provider, Err: errors.New("unsupported provider")}
	}
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &Error{Provider: provider, Err: ErrEmptyOutput}
	}
	p.logger.Debug("transcript post-processed", zap.String("provider", provider), zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// chat posts an OpenAI-compatible chat completion.
func (p *Processor) chat(ctx context.Context, provider, baseURL, apiKey, model, prompt string) (string, error) {
	if apiKey == "" {
		return "", &Error{Provider: provider, Err: asr.ErrMissingAPIKey}
	}
	body, err := json.Marshal(chatRequest{Model: model, Messages: []chatMessage{{Role: "user", Content: prompt}}})
	if err != nil {
		return "", &Error{Provider: provider, Err: err}
	}
	url := strings.TrimRight(baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Provider: provider, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", &Error{Provider: provider, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Provider: provider, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &Error{Provider: provider, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(http.StatusText(resp.StatusCode) + " " + string(raw)))}
	}
	text, err := jsonpath.Lookup(raw, "choices[0].message.content")
	if err != nil {
		return "", &Error{Provider: provider, StatusCode: resp.StatusCode, Err: err}
	}
	return text, nil
}

func (p *Processor) gemini(ctx context.Context, baseURL, apiKey, model, prompt string) (string, error) {
	if apiKey == "" {
		return "", &Error{Provider: config.ProviderGemini, Err: asr.ErrMissingAPIKey}
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return "", &Error{Provider: config.ProviderGemini, Err: fmt.Errorf("create client: %w", err)}
	}
	resp, err := client.Models.GenerateContent(ctx, model, []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, nil)
	if err != nil {
		return "", &Error{Provider: config.ProviderGemini, Err: err}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &Error{Provider: config.ProviderGemini, Err: ErrEmptyOutput}
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}
