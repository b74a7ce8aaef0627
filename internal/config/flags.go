package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// FlagValues holds parsed flags with explicit set tracking.
type FlagValues struct {
	Provider        string
	ProviderSet     bool
	Model           string
	ModelSet        bool
	OpenAIKey       string
	OpenAIKeySet    bool
	OpenAIBase      string
	OpenAIBaseSet   bool
	GroqKey         string
	GroqKeySet      bool
	GroqBase        string
	GroqBaseSet     bool
	GeminiKey       string
	GeminiKeySet    bool
	PostProcess     bool
	PostProcessSet  bool
	PostProvider    string
	PostProviderSet bool
	PostPrompt      string
	PostPromptSet   bool
	ChatModel       string
	ChatModelSet    bool

	Preset        string
	PresetSet     bool
	HighPass      float64
	HighPassSet   bool
	LowPass       float64
	LowPassSet    bool
	Threshold     float64
	ThresholdSet  bool
	Ratio         float64
	RatioSet      bool
	Gain          float64
	GainSet       bool
	Channels      int
	ChannelsSet   bool
	SampleRate    int
	SampleRateSet bool
	BitRate       int
	BitRateSet    bool
	Codec         string
	CodecSet      bool
	Container     string
	ContainerSet  bool

	DataDir           string
	DataDirSet        bool
	CacheDir          string
	CacheDirSet       bool
	RequestTimeout    int
	RequestTimeoutSet bool
	EnableHTTP2       bool
	EnableHTTP2Set    bool
	VerifySSL         bool
	VerifySSLSet      bool
	Notification      bool
	NotificationSet   bool
	ClipboardPaste    bool
	ClipboardPasteSet bool
	ListenAddr        string
	ListenAddrSet     bool
	LogLevel          string
	LogLevelSet       bool
}

type stringFlag struct {
	target *string
	set    *bool
}

func (s *stringFlag) String() string {
	if s == nil || s.target == nil {
		return ""
	}
	return *s.target
}

func (s *stringFlag) Set(v string) error {
	*s.target = v
	*s.set = true
	return nil
}

type intFlag struct {
	target *int
	set    *bool
}

func (i *intFlag) String() string {
	if i == nil || i.target == nil {
		return ""
	}
	return strconv.Itoa(*i.target)
}

func (i *intFlag) Set(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*i.target = n
	*i.set = true
	return nil
}

type floatFlag struct {
	target *float64
	set    *bool
}

func (f *floatFlag) String() string {
	if f == nil || f.target == nil {
		return ""
	}
	return strconv.FormatFloat(*f.target, 'g', -1, 64)
}

func (f *floatFlag) Set(v string) error {
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*f.target = n
	*f.set = true
	return nil
}

type boolFlag struct {
	target *bool
	set    *bool
}

func (b *boolFlag) String() string {
	if b == nil || b.target == nil {
		return ""
	}
	return strconv.FormatBool(*b.target)
}

// IsBoolFlag lets "-flag" be used without a value.
func (b *boolFlag) IsBoolFlag() bool { return true }

func parseBoolExt(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean: %s", v)
}

func (b *boolFlag) Set(v string) error {
	n, err := parseBoolExt(v)
	if err != nil {
		return err
	}
	*b.target = n
	*b.set = true
	return nil
}

// BindFlags registers all config flags and returns the populated FlagValues.
func BindFlags(fs *flag.FlagSet) *FlagValues {
	fv := &FlagValues{}

	fs.Var(&stringFlag{&fv.Provider, &fv.ProviderSet}, "provider", "transcription provider (openai, groq)")
	fs.Var(&stringFlag{&fv.Model, &fv.ModelSet}, "model", "transcription model override")
	fs.Var(&stringFlag{&fv.OpenAIKey, &fv.OpenAIKeySet}, "openai-key", "OpenAI API key")
	fs.Var(&stringFlag{&fv.OpenAIBase, &fv.OpenAIBaseSet}, "openai-base-url", "OpenAI base URL")
	fs.Var(&stringFlag{&fv.GroqKey, &fv.GroqKeySet}, "groq-key", "Groq API key")
	fs.Var(&stringFlag{&fv.GroqBase, &fv.GroqBaseSet}, "groq-base-url", "Groq base URL")
	fs.Var(&stringFlag{&fv.GeminiKey, &fv.GeminiKeySet}, "gemini-key", "Gemini API key")
	fs.Var(&boolFlag{&fv.PostProcess, &fv.PostProcessSet}, "post-process", "enable transcript post-processing (true/false)")
	fs.Var(&stringFlag{&fv.PostProvider, &fv.PostProviderSet}, "post-provider", "post-processing provider (openai, groq, gemini)")
	fs.Var(&stringFlag{&fv.PostPrompt, &fv.PostPromptSet}, "post-prompt", "post-processing prompt, {transcript} is substituted")
	fs.Var(&stringFlag{&fv.ChatModel, &fv.ChatModelSet}, "chat-model", "post-processing model")

	fs.Var(&stringFlag{&fv.Preset, &fv.PresetSet}, "audio-preset", "audio preset (calm, quiet, restaurant, background-music, max-isolation, custom)")
	fs.Var(&floatFlag{&fv.HighPass, &fv.HighPassSet}, "high-pass", "high-pass cutoff Hz (50..400)")
	fs.Var(&floatFlag{&fv.LowPass, &fv.LowPassSet}, "low-pass", "low-pass cutoff Hz (2000..10000)")
	fs.Var(&floatFlag{&fv.Threshold, &fv.ThresholdSet}, "compressor-threshold", "compressor threshold dB (-60..-20)")
	fs.Var(&floatFlag{&fv.Ratio, &fv.RatioSet}, "compressor-ratio", "compressor ratio (2..20)")
	fs.Var(&floatFlag{&fv.Gain, &fv.GainSet}, "gain", "gain stage (1..15)")
	fs.Var(&intFlag{&fv.Channels, &fv.ChannelsSet}, "channels", "channels (int)")
	fs.Var(&intFlag{&fv.SampleRate, &fv.SampleRateSet}, "sampling-rate", "sampling rate (Hz)")
	fs.Var(&intFlag{&fv.BitRate, &fv.BitRateSet}, "bit-rate", "bit rate (kbps) for compressed codecs")
	fs.Var(&stringFlag{&fv.Codec, &fv.CodecSet}, "codec", "audio codec (pcm, opus, vorbis, mp3, flac, aac)")
	fs.Var(&stringFlag{&fv.Container, &fv.ContainerSet}, "container", "audio container (wav, ogg, webm, mp3, flac, m4a)")

	fs.Var(&stringFlag{&fv.DataDir, &fv.DataDirSet}, "data-dir", "directory for pending and committed recordings")
	fs.Var(&stringFlag{&fv.CacheDir, &fv.CacheDirSet}, "cache-dir", "directory for encoder scratch files")
	fs.Var(&intFlag{&fv.RequestTimeout, &fv.RequestTimeoutSet}, "request-timeout", "request timeout seconds")
	fs.Var(&boolFlag{&fv.EnableHTTP2, &fv.EnableHTTP2Set}, "enable-http2", "enable HTTP/2 (true/false)")
	fs.Var(&boolFlag{&fv.VerifySSL, &fv.VerifySSLSet}, "verify-ssl", "verify TLS certificates (true/false)")
	fs.Var(&boolFlag{&fv.Notification, &fv.NotificationSet}, "notification", "enable notifications (true/false)")
	fs.Var(&boolFlag{&fv.ClipboardPaste, &fv.ClipboardPasteSet}, "paste", "paste transcripts into the focused window (true/false)")
	fs.Var(&stringFlag{&fv.ListenAddr, &fv.ListenAddrSet}, "listen", "control API listen address")
	fs.Var(&stringFlag{&fv.LogLevel, &fv.LogLevelSet}, "log-level", "log level (debug, info, warn, error)")

	return fv
}

// ApplyFlags applies present flags to the config.
func ApplyFlags(cfg *Config, fv *FlagValues) {
	setString(&cfg.STTProviderID, fv.Provider, fv.ProviderSet)
	setString(&cfg.STTModel, fv.Model, fv.ModelSet)
	setString(&cfg.OpenAIAPIKey, fv.OpenAIKey, fv.OpenAIKeySet)
	setString(&cfg.OpenAIBaseURL, fv.OpenAIBase, fv.OpenAIBaseSet)
	setString(&cfg.GroqAPIKey, fv.GroqKey, fv.GroqKeySet)
	setString(&cfg.GroqBaseURL, fv.GroqBase, fv.GroqBaseSet)
	setString(&cfg.GeminiAPIKey, fv.GeminiKey, fv.GeminiKeySet)
	if fv.PostProcessSet {
		cfg.PostProcessingEnabled = fv.PostProcess
	}
	setString(&cfg.PostProcessingProviderID, fv.PostProvider, fv.PostProviderSet)
	setString(&cfg.PostProcessingPrompt, fv.PostPrompt, fv.PostPromptSet)
	setString(&cfg.ChatModel, fv.ChatModel, fv.ChatModelSet)

	setString(&cfg.AudioPreset, fv.Preset, fv.PresetSet)
	// Touching an individual stage turns the preset into a custom one.
	if fv.HighPassSet || fv.LowPassSet || fv.ThresholdSet || fv.RatioSet || fv.GainSet {
		if !fv.PresetSet {
			base := ResolveAudio(*cfg)
			cfg.AudioPreset = CustomPreset
			cfg.AudioHighPassHz = Float(base.HighPassHz)
			cfg.AudioLowPassHz = Float(base.LowPassHz)
			cfg.AudioCompressorThreshold = Float(base.CompressorThresholdDB)
			cfg.AudioCompressorRatio = Float(base.CompressorRatio)
			cfg.AudioGain = Float(base.Gain)
		}
		setFloat(&cfg.AudioHighPassHz, fv.HighPass, fv.HighPassSet)
		setFloat(&cfg.AudioLowPassHz, fv.LowPass, fv.LowPassSet)
		setFloat(&cfg.AudioCompressorThreshold, fv.Threshold, fv.ThresholdSet)
		setFloat(&cfg.AudioCompressorRatio, fv.Ratio, fv.RatioSet)
		setFloat(&cfg.AudioGain, fv.Gain, fv.GainSet)
	}
	setInt(&cfg.Channels, fv.Channels, fv.ChannelsSet)
	setInt(&cfg.SampleRate, fv.SampleRate, fv.SampleRateSet)
	setInt(&cfg.BitRate, fv.BitRate, fv.BitRateSet)
	setString(&cfg.Codec, fv.Codec, fv.CodecSet)
	setString(&cfg.Container, fv.Container, fv.ContainerSet)

	setString(&cfg.DataDir, fv.DataDir, fv.DataDirSet)
	setString(&cfg.CacheDir, fv.CacheDir, fv.CacheDirSet)
	setInt(&cfg.RequestTimeout, fv.RequestTimeout, fv.RequestTimeoutSet)
	if fv.EnableHTTP2Set {
		cfg.EnableHTTP2 = fv.EnableHTTP2
	}
	if fv.VerifySSLSet {
		cfg.VerifySSL = fv.VerifySSL
	}
	if fv.NotificationSet {
		cfg.Notification = fv.Notification
	}
	if fv.ClipboardPasteSet {
		cfg.ClipboardPaste = fv.ClipboardPaste
	}
	setString(&cfg.ListenAddr, fv.ListenAddr, fv.ListenAddrSet)
	setString(&cfg.LogLevel, fv.LogLevel, fv.LogLevelSet)
}

func setString(dst *string, v string, set bool) {
	if set {
		*dst = v
	}
}

func setInt(dst *int, v int, set bool) {
	if set {
		*dst = v
	}
}

func setFloat(dst **float64, v float64, set bool) {
	if set {
		*dst = Float(v)
	}
}
