package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider identities accepted by sttProviderId and transcriptPostProcessingProviderId.
const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
)

// Config holds configurable parameters.
type Config struct {
	STTProviderID string `json:"sttProviderId" yaml:"sttProviderId"`
	STTModel      string `json:"sttModel" yaml:"sttModel"`
	OpenAIAPIKey  string `json:"openaiApiKey" yaml:"openaiApiKey"`
	OpenAIBaseURL string `json:"openaiBaseUrl" yaml:"openaiBaseUrl"`
	GroqAPIKey    string `json:"groqApiKey" yaml:"groqApiKey"`
	GroqBaseURL   string `json:"groqBaseUrl" yaml:"groqBaseUrl"`
	GeminiAPIKey  string `json:"geminiApiKey" yaml:"geminiApiKey"`
	GeminiBaseURL string `json:"geminiBaseUrl" yaml:"geminiBaseUrl"`

	PostProcessingEnabled    bool   `json:"transcriptPostProcessingEnabled" yaml:"transcriptPostProcessingEnabled"`
	PostProcessingProviderID string `json:"transcriptPostProcessingProviderId" yaml:"transcriptPostProcessingProviderId"`
	PostProcessingPrompt     string `json:"transcriptPostProcessingPrompt" yaml:"transcriptPostProcessingPrompt"`
	ChatModel                string `json:"chatModel" yaml:"chatModel"`

	AudioPreset              string   `json:"audioPreset" yaml:"audioPreset"`
	AudioHighPassHz          *float64 `json:"audioHighPassHz,omitempty" yaml:"audioHighPassHz,omitempty"`
	AudioLowPassHz           *float64 `json:"audioLowPassHz,omitempty" yaml:"audioLowPassHz,omitempty"`
	AudioCompressorThreshold *float64 `json:"audioCompressorThreshold,omitempty" yaml:"audioCompressorThreshold,omitempty"`
	AudioCompressorRatio     *float64 `json:"audioCompressorRatio,omitempty" yaml:"audioCompressorRatio,omitempty"`
	AudioGain                *float64 `json:"audioGain,omitempty" yaml:"audioGain,omitempty"`

	Channels   int    `json:"channels" yaml:"channels"`
	SampleRate int    `json:"sampleRate" yaml:"sampleRate"`
	BitRate    int    `json:"bitRate" yaml:"bitRate"`
	Codec      string `json:"codec" yaml:"codec"`
	Container  string `json:"container" yaml:"container"`

	DataDir        string `json:"dataDir" yaml:"dataDir"`
	CacheDir       string `json:"cacheDir" yaml:"cacheDir"`
	RequestTimeout int    `json:"requestTimeout" yaml:"requestTimeout"`
	EnableHTTP2    bool   `json:"enableHttp2" yaml:"enableHttp2"`
	VerifySSL      bool   `json:"verifySsl" yaml:"verifySsl"`
	Notification   bool   `json:"notification" yaml:"notification"`
	ClipboardPaste bool   `json:"clipboardPaste" yaml:"clipboardPaste"`
	ListenAddr     string `json:"listenAddr" yaml:"listenAddr"`
	LogLevel       string `json:"logLevel" yaml:"logLevel"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		STTProviderID:            ProviderOpenAI,
		PostProcessingProviderID: ProviderOpenAI,
		AudioPreset:              DefaultPreset,
		Channels:                 1,
		SampleRate:               16000,
		BitRate:                  32,
		Codec:                    "pcm",
		Container:                "wav",
		DataDir:                  defaultDataDir(),
		RequestTimeout:           60,
		EnableHTTP2:              true,
		VerifySSL:                true,
		Notification:             true,
		ClipboardPaste:           false,
		ListenAddr:               "127.0.0.1:7312",
		LogLevel:                 "info",
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "dictate")
	}
	return "dictate-data"
}

// Load loads config from a JSON or YAML file if provided.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// SaveDefault writes a default config to the provided path. The format
// follows the file extension.
func SaveDefault(path string) error {
	cfg := DefaultConfig()
	var (
		b   []byte
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		b, err = yaml.Marshal(cfg)
	default:
		b, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0600)
}

// ApplyEnv fills API keys from the environment when the file left them empty.
func ApplyEnv(cfg *Config) {
	if cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.GroqAPIKey == "" {
		cfg.GroqAPIKey = os.Getenv("GROQ_API_KEY")
	}
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	if v := os.Getenv("DICTATE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
}

// Validate verifies config fields and returns an error if any value is invalid.
func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.STTProviderID) {
	case ProviderOpenAI, ProviderGroq:
	default:
		return fmt.Errorf("invalid sttProviderId: %q (allowed: openai, groq)", cfg.STTProviderID)
	}
	if cfg.PostProcessingEnabled {
		switch strings.ToLower(cfg.PostProcessingProviderID) {
		case ProviderOpenAI, ProviderGroq, ProviderGemini:
		default:
			return fmt.Errorf("invalid transcriptPostProcessingProviderId: %q (allowed: openai, groq, gemini)", cfg.PostProcessingProviderID)
		}
	}
	if cfg.Channels < 1 || cfg.Channels > 2 {
		return fmt.Errorf("invalid channels: %d (allowed 1..2)", cfg.Channels)
	}
	if cfg.SampleRate < 8000 || cfg.SampleRate > 96000 {
		return fmt.Errorf("invalid sampleRate: %d (allowed 8000..96000)", cfg.SampleRate)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("invalid requestTimeout: %d (must be > 0)", cfg.RequestTimeout)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("dataDir is empty")
	}
	if _, ok := codecs[strings.ToLower(cfg.Codec)]; !ok {
		return fmt.Errorf("invalid codec: %s (allowed: pcm, opus, vorbis, mp3, flac, aac)", cfg.Codec)
	}
	if !allowedContainers[strings.ToLower(cfg.Container)] {
		return fmt.Errorf("invalid container: %s (allowed: wav, ogg, webm, mp3, flac, m4a)", cfg.Container)
	}
	if err := ValidateAudio(cfg); err != nil {
		return err
	}
	return nil
}

var codecs = map[string]struct{}{
	"pcm":       {},
	"opus":      {},
	"libopus":   {},
	"vorbis":    {},
	"libvorbis": {},
	"mp3":       {},
	"flac":      {},
	"aac":       {},
}

var allowedContainers = map[string]bool{
	"wav":  true,
	"ogg":  true,
	"webm": true,
	"mp3":  true,
	"flac": true,
	"m4a":  true,
}

// InitCacheDir validates/creates the configured cache directory.
// It mutates cfg.CacheDir to an absolute path or clears it on failure.
func InitCacheDir(cfg *Config) error {
	if cfg.CacheDir == "" {
		return nil
	}
	abs, err := filepath.Abs(cfg.CacheDir)
	if err != nil {
		cfg.CacheDir = ""
		return fmt.Errorf("cacheDir path invalid: %w", err)
	}
	info, err := os.Stat(abs)
	if err == nil {
		if !info.IsDir() {
			cfg.CacheDir = ""
			return fmt.Errorf("cacheDir '%s' exists but is not a directory", abs)
		}
		cfg.CacheDir = abs
		return nil
	}
	if !os.IsNotExist(err) {
		cfg.CacheDir = ""
		return fmt.Errorf("cannot access cacheDir '%s': %w", abs, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		cfg.CacheDir = ""
		return fmt.Errorf("cannot create cacheDir '%s': %w", abs, err)
	}
	cfg.CacheDir = abs
	return nil
}

// TempDir returns the directory to use for encoder scratch files.
func TempDir(cfg *Config) string {
	if cfg.CacheDir != "" {
		return cfg.CacheDir
	}
	return os.TempDir()
}

// StagingDir is where payloads wait for a durable outcome.
func StagingDir(cfg *Config) string {
	return filepath.Join(cfg.DataDir, "pending")
}

// HistoryDir holds history.json and committed audio.
func HistoryDir(cfg *Config) string {
	return filepath.Join(cfg.DataDir, "recordings")
}
