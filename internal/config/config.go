package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Audio       AudioConfig       `yaml:"audio"`
	Transcoder  TranscoderConfig  `yaml:"transcoder"`
	VAD         VADConfig         `yaml:"vad"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Translation TranslationConfig `yaml:"translation"`
	Messages    MessagesConfig    `yaml:"messages"`
	Stream      StreamConfig      `yaml:"stream"`
	History     HistoryConfig     `yaml:"history"`
	Events      EventsConfig      `yaml:"events"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	Address        string `yaml:"address"`
	Port           int    `yaml:"port"`
	ReadTimeout    int    `yaml:"read_timeout"`  // seconds
	WriteTimeout   int    `yaml:"write_timeout"` // seconds
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// AudioConfig contains the PCM target format and request thresholds
type AudioConfig struct {
	SampleRate        int    `yaml:"sample_rate"`
	Channels          int    `yaml:"channels"`
	BitDepth          int    `yaml:"bit_depth"`
	MinUploadBytes    int    `yaml:"min_upload_bytes"`
	MinPCMBytes       int    `yaml:"min_pcm_bytes"`
	DefaultSourceLang string `yaml:"default_source_lang"`
	DefaultTargetLang string `yaml:"default_target_lang"`
}

// TranscoderConfig contains external media converter settings
type TranscoderConfig struct {
	BinaryPath        string `yaml:"binary_path"`
	Timeout           int    `yaml:"timeout"` // seconds, per invocation
	FallbackContainer string `yaml:"fallback_container"`
	TempDir           string `yaml:"temp_dir"`
}

// VADConfig contains speech presence detection settings
type VADConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Threshold     float32 `yaml:"threshold"`
	WindowSize    int     `yaml:"window_size"` // samples
	MinVoiceRatio float64 `yaml:"min_voice_ratio"`
}

// RecognitionConfig contains speech recognition engine settings
type RecognitionConfig struct {
	Engine        string `yaml:"engine"` // openai, http or vosk
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	ModelPath     string `yaml:"model_path"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	FrameBytes    int    `yaml:"frame_bytes"`
}

// TranslationConfig contains translation engine settings
type TranslationConfig struct {
	Engine  string         `yaml:"engine"` // openai, phrasebook or echo
	BaseURL string         `yaml:"base_url"`
	APIKey  string         `yaml:"api_key"`
	Model   string         `yaml:"model"`
	Timeout int            `yaml:"timeout"` // seconds
	Phrases []PhraseConfig `yaml:"phrases"`
}

// PhraseConfig is one phrasebook entry; order in the file is match order
type PhraseConfig struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// MessagesConfig contains the user-facing text shown for non-ok outcomes
type MessagesConfig struct {
	Unintelligible     string `yaml:"unintelligible"`
	ServiceUnavailable string `yaml:"service_unavailable"`
	TranscodeFailure   string `yaml:"transcode_failure"`
	InsufficientAudio  string `yaml:"insufficient_audio"`
	Unhandled          string `yaml:"unhandled"`
}

// StreamConfig contains WebSocket streaming session settings
type StreamConfig struct {
	IdleTimeout     int `yaml:"idle_timeout"`     // seconds
	CleanupInterval int `yaml:"cleanup_interval"` // seconds
	MaxSessions     int `yaml:"max_sessions"`
}

// HistoryConfig contains translation history storage settings
type HistoryConfig struct {
	Driver   string `yaml:"driver"` // memory, postgres or none
	DSN      string `yaml:"dsn"`
	Capacity int    `yaml:"capacity"`
}

// EventsConfig contains MQTT event publishing settings
type EventsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads, expands and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${VAR} references from the environment
func Parse(data []byte) (*Config, error) {
	config := Default()

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Default returns a configuration that runs without any external service
func Default() *Config {
	c := &Config{
		HTTP: HTTPConfig{
			Address: "0.0.0.0",
			Port:    5000,
		},
		VAD: VADConfig{
			Enabled: true,
		},
		Recognition: RecognitionConfig{
			Engine:    "vosk",
			ModelPath: "models/vosk-model-small-pt-0.3",
		},
		Translation: TranslationConfig{
			Engine: "phrasebook",
		},
		History: HistoryConfig{
			Driver: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
	c.applyDefaults()
	return c
}

// applyDefaults fills zero values left by a partial configuration file
func (c *Config) applyDefaults() {
	setInt(&c.HTTP.ReadTimeout, 30)
	setInt(&c.HTTP.WriteTimeout, 60)
	if c.HTTP.MaxUploadBytes == 0 {
		c.HTTP.MaxUploadBytes = 25 << 20
	}

	setInt(&c.Audio.SampleRate, 16000)
	setInt(&c.Audio.Channels, 1)
	setInt(&c.Audio.BitDepth, 16)
	setInt(&c.Audio.MinUploadBytes, 1000)
	setInt(&c.Audio.MinPCMBytes, 3200)
	setString(&c.Audio.DefaultSourceLang, "pt-PT")
	setString(&c.Audio.DefaultTargetLang, "en")

	setString(&c.Transcoder.BinaryPath, "ffmpeg")
	setInt(&c.Transcoder.Timeout, 10)
	setString(&c.Transcoder.FallbackContainer, "webm")

	if c.VAD.Threshold == 0 {
		c.VAD.Threshold = 0.02
	}
	setInt(&c.VAD.WindowSize, 512)
	if c.VAD.MinVoiceRatio == 0 {
		c.VAD.MinVoiceRatio = 0.05
	}

	setInt(&c.Recognition.Timeout, 30)
	setInt(&c.Recognition.MaxConcurrent, 4)
	setInt(&c.Recognition.FrameBytes, 4000)
	if c.Recognition.Engine == "openai" {
		setString(&c.Recognition.Model, "whisper-1")
	}

	setInt(&c.Translation.Timeout, 15)
	if c.Translation.Engine == "openai" {
		setString(&c.Translation.Model, "gpt-4o-mini")
	}

	setString(&c.Messages.Unintelligible, "Não consegui entender o áudio.")
	setString(&c.Messages.ServiceUnavailable, "Erro ao conectar com o serviço de reconhecimento.")
	setString(&c.Messages.TranscodeFailure, "Não foi possível converter o áudio.")
	setString(&c.Messages.InsufficientAudio, "Áudio muito curto ou vazio.")
	setString(&c.Messages.Unhandled, "Erro interno ao processar o áudio.")

	setInt(&c.Stream.IdleTimeout, 60)
	setInt(&c.Stream.CleanupInterval, 15)
	setInt(&c.Stream.MaxSessions, 100)

	setString(&c.History.Driver, "memory")
	setInt(&c.History.Capacity, 200)

	setString(&c.Events.ClientID, "projeto-transcricao")
	setString(&c.Events.TopicPrefix, "transcricao")
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Transcoder.Validate(); err != nil {
		return fmt.Errorf("transcoder config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Recognition.Validate(); err != nil {
		return fmt.Errorf("recognition config: %w", err)
	}

	if err := c.Translation.Validate(); err != nil {
		return fmt.Errorf("translation config: %w", err)
	}

	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history config: %w", err)
	}

	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if h.MaxUploadBytes < 1024 {
		return fmt.Errorf("max_upload_bytes must be at least 1024, got %d", h.MaxUploadBytes)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.MinUploadBytes < 0 {
		return fmt.Errorf("min_upload_bytes cannot be negative, got %d", a.MinUploadBytes)
	}

	if a.MinPCMBytes < 2 {
		return fmt.Errorf("min_pcm_bytes must be at least 2, got %d", a.MinPCMBytes)
	}

	return nil
}

// Validate validates transcoder configuration
func (t *TranscoderConfig) Validate() error {
	if t.BinaryPath == "" {
		return fmt.Errorf("binary_path cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.FallbackContainer == "" {
		return fmt.Errorf("fallback_container cannot be empty")
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.WindowSize < 160 || v.WindowSize > 4096 {
		return fmt.Errorf("window_size must be between 160 and 4096 samples, got %d", v.WindowSize)
	}

	if v.MinVoiceRatio < 0 || v.MinVoiceRatio > 1 {
		return fmt.Errorf("min_voice_ratio must be between 0 and 1, got %f", v.MinVoiceRatio)
	}

	return nil
}

// Validate validates recognition configuration
func (r *RecognitionConfig) Validate() error {
	switch r.Engine {
	case "openai":
		if r.APIKey == "" {
			return fmt.Errorf("api_key cannot be empty for engine openai")
		}
	case "http":
		if r.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for engine http")
		}
	case "vosk":
		if r.ModelPath == "" {
			return fmt.Errorf("model_path cannot be empty for engine vosk")
		}
	default:
		return fmt.Errorf("engine must be one of [openai, http, vosk], got '%s'", r.Engine)
	}

	if r.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", r.Timeout)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", r.MaxRetries)
	}

	if r.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", r.MaxConcurrent)
	}

	if r.FrameBytes < 2 || r.FrameBytes%2 != 0 {
		return fmt.Errorf("frame_bytes must be a positive even number, got %d", r.FrameBytes)
	}

	return nil
}

// Validate validates translation configuration
func (t *TranslationConfig) Validate() error {
	switch t.Engine {
	case "openai":
		if t.APIKey == "" {
			return fmt.Errorf("api_key cannot be empty for engine openai")
		}
	case "phrasebook", "echo":
	default:
		return fmt.Errorf("engine must be one of [openai, phrasebook, echo], got '%s'", t.Engine)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	for i, p := range t.Phrases {
		if p.Source == "" {
			return fmt.Errorf("phrases[%d].source cannot be empty", i)
		}
	}

	return nil
}

// Validate validates stream configuration
func (s *StreamConfig) Validate() error {
	if s.IdleTimeout < 1 {
		return fmt.Errorf("idle_timeout must be at least 1 second, got %d", s.IdleTimeout)
	}

	if s.CleanupInterval < 1 {
		return fmt.Errorf("cleanup_interval must be at least 1 second, got %d", s.CleanupInterval)
	}

	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", s.MaxSessions)
	}

	return nil
}

// Validate validates history configuration
func (h *HistoryConfig) Validate() error {
	switch h.Driver {
	case "memory", "none":
	case "postgres":
		if h.DSN == "" {
			return fmt.Errorf("dsn cannot be empty for driver postgres")
		}
	default:
		return fmt.Errorf("driver must be one of [memory, postgres, none], got '%s'", h.Driver)
	}

	if h.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", h.Capacity)
	}

	return nil
}

// Validate validates events configuration
func (e *EventsConfig) Validate() error {
	if !e.Enabled {
		return nil
	}

	if e.BrokerURL == "" {
		return fmt.Errorf("broker_url cannot be empty when events are enabled")
	}

	if e.QoS < 0 || e.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", e.QoS)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetReadTimeoutDuration returns the HTTP read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the HTTP write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetTimeoutDuration returns the per-invocation converter timeout
func (t *TranscoderConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the recognition timeout as a time.Duration
func (r *RecognitionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}

// GetTimeoutDuration returns the translation timeout as a time.Duration
func (t *TranslationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetIdleTimeoutDuration returns the stream idle timeout as a time.Duration
func (s *StreamConfig) GetIdleTimeoutDuration() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetCleanupIntervalDuration returns the stream cleanup interval as a time.Duration
func (s *StreamConfig) GetCleanupIntervalDuration() time.Duration {
	return time.Duration(s.CleanupInterval) * time.Second
}
