// Package config loads the relay configuration: defaults, then an optional
// YAML file, then a .env file, then VOXRELAY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Secrets are read only from the environment, under their conventional names.
const (
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvOpenAIKey     = "OPENAI_API_KEY"
)

var ErrMissingSecret = errors.New("missing secret")

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"` // 0 disables the health and metrics server
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	Traces       string `yaml:"traces"` // none, stdout or otlp
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	Metrics      bool   `yaml:"metrics"`
}

type NetworkConfig struct {
	Proxy          string `yaml:"proxy_url"` // "", direct, socks5://, http://
	NoProxy        string `yaml:"no_proxy"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	DialTimeoutMS  int    `yaml:"dial_timeout_ms"`
	TLSHandshakeMS int    `yaml:"tls_handshake_ms"`
}

type TelegramConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Greeting    string `yaml:"greeting"`
	PollSeconds int    `yaml:"poll_seconds"`
	Debug       bool   `yaml:"debug"`
	Token       string `yaml:"-"`
}

type BusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	Name        string `yaml:"name"`
	ReconnectMS int    `yaml:"reconnect_ms"`
}

type STTConfig struct {
	Backend     string  `yaml:"backend"` // openai or whisper
	Model       string  `yaml:"model"`
	ModelPath   string  `yaml:"model_path"`
	Language    string  `yaml:"language"`
	Prompt      string  `yaml:"prompt"`
	Temperature float32 `yaml:"temperature"`
	Threads     int     `yaml:"threads"`
}

type ReplyConfig struct {
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
}

type TTSConfig struct {
	Backend  string  `yaml:"backend"` // openai or espeak
	Model    string  `yaml:"model"`
	Voice    string  `yaml:"voice"`
	Format   string  `yaml:"format"` // mp3, wav or ogg
	Speed    float64 `yaml:"speed"`
	Language string  `yaml:"language"` // espeak only
}

type AudioConfig struct {
	TranscriptionRate  int `yaml:"transcription_rate"`
	OpusBitrate        int `yaml:"opus_bitrate"`
	MinDurationMS      int `yaml:"min_duration_ms"`
	MaxDurationSeconds int `yaml:"max_duration_seconds"`
}

type RelayConfig struct {
	FailureNotice       string `yaml:"failure_notice"`
	StageTimeoutSeconds int    `yaml:"stage_timeout_seconds"`
	MaxConcurrentRuns   int    `yaml:"max_concurrent_runs"`
	MaxAudioBytes       int64  `yaml:"max_audio_bytes"`
	ScratchDir          string `yaml:"scratch_dir"`
	SweepAfterMinutes   int    `yaml:"sweep_after_minutes"`
	ShutdownSeconds     int    `yaml:"shutdown_seconds"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"` // ephemeral or persistent
	RetentionDays int    `yaml:"retention_days"`
}

type ControlConfig struct {
	Socket string `yaml:"socket"` // "" disables the control socket
}

type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"-"`
}

type Config struct {
	Environment string          `yaml:"environment"`
	Log         LogConfig       `yaml:"log"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Network     NetworkConfig   `yaml:"network"`
	Telegram    TelegramConfig  `yaml:"telegram"`
	Bus         BusConfig       `yaml:"bus"`
	OpenAI      OpenAIConfig    `yaml:"openai"`
	STT         STTConfig       `yaml:"stt"`
	Reply       ReplyConfig     `yaml:"reply"`
	TTS         TTSConfig       `yaml:"tts"`
	Audio       AudioConfig     `yaml:"audio"`
	Relay       RelayConfig     `yaml:"relay"`
	Journal     JournalConfig   `yaml:"journal"`
	Control     ControlConfig   `yaml:"control"`
}

func Default() Config {
	return Config{
		Environment: "development",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "voxrelay",
			Traces:       "none",
			OTLPInsecure: true,
			Metrics:      true,
		},
		Network: NetworkConfig{
			DialTimeoutMS:  10000,
			TLSHandshakeMS: 10000,
		},
		Telegram: TelegramConfig{
			Enabled:     true,
			PollSeconds: 30,
		},
		Bus: BusConfig{
			Name:        "voxrelay",
			ReconnectMS: 1000,
		},
		STT: STTConfig{
			Backend: "openai",
			Model:   "whisper-1",
		},
		Reply: ReplyConfig{
			Model: "gpt-3.5-turbo",
		},
		TTS: TTSConfig{
			Backend:  "openai",
			Model:    "tts-1",
			Voice:    "alloy",
			Format:   "mp3",
			Language: "en",
		},
		Audio: AudioConfig{
			TranscriptionRate: 16000,
			MinDurationMS:     100,
		},
		Relay: RelayConfig{
			StageTimeoutSeconds: 60,
			MaxConcurrentRuns:   4,
			MaxAudioBytes:       20 << 20,
			SweepAfterMinutes:   60,
			ShutdownSeconds:     30,
		},
		Journal: JournalConfig{
			Path:          "./data/voxrelay.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
		},
	}
}

// Load builds the configuration. path and envFile may be empty; an empty
// envFile still picks up ./.env when present.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := loadDotenv(envFile); err != nil {
		return cfg, err
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadDotenv never overrides variables already set in the process.
func loadDotenv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Telegram.Token = strings.TrimSpace(os.Getenv(EnvTelegramToken))
	cfg.OpenAI.APIKey = strings.TrimSpace(os.Getenv(EnvOpenAIKey))

	overrideString(&cfg.Environment, "VOXRELAY_ENVIRONMENT")
	overrideString(&cfg.Log.Level, "VOXRELAY_LOG_LEVEL")
	overrideString(&cfg.Log.Format, "VOXRELAY_LOG_FORMAT")
	overrideString(&cfg.HTTP.Bind, "VOXRELAY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXRELAY_HTTP_PORT")
	overrideString(&cfg.Telemetry.ServiceName, "VOXRELAY_TELEMETRY_SERVICE_NAME")
	overrideString(&cfg.Telemetry.Traces, "VOXRELAY_TELEMETRY_TRACES")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXRELAY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXRELAY_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.Metrics, "VOXRELAY_TELEMETRY_METRICS")
	overrideString(&cfg.Network.Proxy, "VOXRELAY_NETWORK_PROXY_URL")
	overrideString(&cfg.Network.NoProxy, "VOXRELAY_NETWORK_NO_PROXY")
	overrideInt(&cfg.Network.TimeoutSeconds, "VOXRELAY_NETWORK_TIMEOUT_SECONDS")
	overrideInt(&cfg.Network.DialTimeoutMS, "VOXRELAY_NETWORK_DIAL_TIMEOUT_MS")
	overrideInt(&cfg.Network.TLSHandshakeMS, "VOXRELAY_NETWORK_TLS_HANDSHAKE_MS")
	overrideBool(&cfg.Telegram.Enabled, "VOXRELAY_TELEGRAM_ENABLED")
	overrideString(&cfg.Telegram.Greeting, "VOXRELAY_TELEGRAM_GREETING")
	overrideInt(&cfg.Telegram.PollSeconds, "VOXRELAY_TELEGRAM_POLL_SECONDS")
	overrideBool(&cfg.Telegram.Debug, "VOXRELAY_TELEGRAM_DEBUG")
	overrideBool(&cfg.Bus.Enabled, "VOXRELAY_BUS_ENABLED")
	overrideString(&cfg.Bus.URL, "VOXRELAY_BUS_URL")
	overrideString(&cfg.Bus.Name, "VOXRELAY_BUS_NAME")
	overrideInt(&cfg.Bus.ReconnectMS, "VOXRELAY_BUS_RECONNECT_MS")
	overrideString(&cfg.OpenAI.BaseURL, "VOXRELAY_OPENAI_BASE_URL")
	overrideString(&cfg.STT.Backend, "VOXRELAY_STT_BACKEND")
	overrideString(&cfg.STT.Model, "VOXRELAY_STT_MODEL")
	overrideString(&cfg.STT.ModelPath, "VOXRELAY_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "VOXRELAY_STT_LANGUAGE")
	overrideString(&cfg.STT.Prompt, "VOXRELAY_STT_PROMPT")
	overrideInt(&cfg.STT.Threads, "VOXRELAY_STT_THREADS")
	overrideString(&cfg.Reply.Model, "VOXRELAY_REPLY_MODEL")
	overrideString(&cfg.Reply.SystemPrompt, "VOXRELAY_REPLY_SYSTEM_PROMPT")
	overrideInt(&cfg.Reply.MaxTokens, "VOXRELAY_REPLY_MAX_TOKENS")
	overrideFloat(&cfg.Reply.Temperature, "VOXRELAY_REPLY_TEMPERATURE")
	overrideString(&cfg.TTS.Backend, "VOXRELAY_TTS_BACKEND")
	overrideString(&cfg.TTS.Model, "VOXRELAY_TTS_MODEL")
	overrideString(&cfg.TTS.Voice, "VOXRELAY_TTS_VOICE")
	overrideString(&cfg.TTS.Format, "VOXRELAY_TTS_FORMAT")
	overrideFloat(&cfg.TTS.Speed, "VOXRELAY_TTS_SPEED")
	overrideString(&cfg.TTS.Language, "VOXRELAY_TTS_LANGUAGE")
	overrideInt(&cfg.Audio.TranscriptionRate, "VOXRELAY_AUDIO_TRANSCRIPTION_RATE")
	overrideInt(&cfg.Audio.OpusBitrate, "VOXRELAY_AUDIO_OPUS_BITRATE")
	overrideInt(&cfg.Audio.MinDurationMS, "VOXRELAY_AUDIO_MIN_DURATION_MS")
	overrideInt(&cfg.Audio.MaxDurationSeconds, "VOXRELAY_AUDIO_MAX_DURATION_SECONDS")
	overrideString(&cfg.Relay.FailureNotice, "VOXRELAY_RELAY_FAILURE_NOTICE")
	overrideInt(&cfg.Relay.StageTimeoutSeconds, "VOXRELAY_RELAY_STAGE_TIMEOUT_SECONDS")
	overrideInt(&cfg.Relay.MaxConcurrentRuns, "VOXRELAY_RELAY_MAX_CONCURRENT_RUNS")
	overrideInt64(&cfg.Relay.MaxAudioBytes, "VOXRELAY_RELAY_MAX_AUDIO_BYTES")
	overrideString(&cfg.Relay.ScratchDir, "VOXRELAY_RELAY_SCRATCH_DIR")
	overrideInt(&cfg.Relay.SweepAfterMinutes, "VOXRELAY_RELAY_SWEEP_AFTER_MINUTES")
	overrideInt(&cfg.Relay.ShutdownSeconds, "VOXRELAY_RELAY_SHUTDOWN_SECONDS")
	overrideString(&cfg.Journal.Path, "VOXRELAY_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "VOXRELAY_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "VOXRELAY_JOURNAL_RETENTION_DAYS")
	overrideString(&cfg.Control.Socket, "VOXRELAY_CONTROL_SOCKET")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func (c Config) StageTimeout() time.Duration {
	return time.Duration(c.Relay.StageTimeoutSeconds) * time.Second
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Relay.ShutdownSeconds) * time.Second
}

func validate(cfg Config) error {
	if !cfg.Telegram.Enabled && !cfg.Bus.Enabled {
		return errors.New("at least one of telegram.enabled or bus.enabled must be set")
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		return fmt.Errorf("%w: %s must be set when telegram is enabled", ErrMissingSecret, EnvTelegramToken)
	}
	// reply generation always goes through OpenAI
	if cfg.OpenAI.APIKey == "" {
		return fmt.Errorf("%w: %s must be set", ErrMissingSecret, EnvOpenAIKey)
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.URL == "" {
			return errors.New("bus.url must be set when the bus is enabled")
		}
		if cfg.Bus.Name == "" {
			return errors.New("bus.name must not be empty")
		}
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		return errors.New("log.format must be one of text|json")
	}
	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 0 and 65535")
	}
	switch cfg.Telemetry.Traces {
	case "none", "stdout":
	case "otlp":
		if cfg.Telemetry.OTLPEndpoint == "" {
			return errors.New("telemetry.otlp_endpoint must be set when traces=otlp")
		}
	default:
		return errors.New("telemetry.traces must be one of none|stdout|otlp")
	}
	switch cfg.STT.Backend {
	case "openai":
	case "whisper":
		if cfg.STT.ModelPath == "" {
			return errors.New("stt.model_path must be set when backend=whisper")
		}
	default:
		return errors.New("stt.backend must be one of openai|whisper")
	}
	switch cfg.TTS.Backend {
	case "openai", "espeak":
	default:
		return errors.New("tts.backend must be one of openai|espeak")
	}
	switch cfg.TTS.Format {
	case "mp3", "wav", "ogg":
	default:
		return errors.New("tts.format must be one of mp3|wav|ogg")
	}
	if cfg.Reply.Model == "" {
		return errors.New("reply.model must not be empty")
	}
	if cfg.Reply.MaxTokens < 0 {
		return errors.New("reply.max_tokens must be >= 0")
	}
	if cfg.Audio.TranscriptionRate < 8000 || cfg.Audio.TranscriptionRate > 48000 {
		return errors.New("audio.transcription_rate must be between 8000 and 48000")
	}
	if cfg.Relay.StageTimeoutSeconds <= 0 {
		return errors.New("relay.stage_timeout_seconds must be positive")
	}
	if cfg.Relay.MaxConcurrentRuns <= 0 {
		return errors.New("relay.max_concurrent_runs must be >= 1")
	}
	if cfg.Relay.MaxAudioBytes <= 0 {
		return errors.New("relay.max_audio_bytes must be positive")
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral":
	case "persistent":
		if cfg.Journal.Path == "" {
			return errors.New("journal.path must not be empty when retention_mode=persistent")
		}
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	return nil
}
