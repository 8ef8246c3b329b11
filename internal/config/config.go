package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// AudioConfig bounds the per-session frame buffer and window assembly.
type AudioConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	WindowTargetMS  int `yaml:"window_target_ms"`
	WindowMinMS     int `yaml:"window_min_ms"`
	NoiseFloorMS    int `yaml:"noise_floor_ms"`
	MaxBufferMS     int `yaml:"max_buffer_ms"`
	WindowOverlapMS int `yaml:"window_overlap_ms"`
}

// RecognizerConfig selects and bounds the recognition backend.
type RecognizerConfig struct {
	Mode       string `yaml:"mode"` // mock, exec, openai
	Command    string `yaml:"command"`
	ModelPath  string `yaml:"model_path"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	Workers    int    `yaml:"workers"`
	QueueDepth int    `yaml:"queue_depth"`
}

// SessionConfig governs session lifecycle and failure policy.
type SessionConfig struct {
	DrainTimeoutMS  int      `yaml:"drain_timeout_ms"`
	IdleTimeoutMS   int      `yaml:"idle_timeout_ms"`
	SweepIntervalMS int      `yaml:"sweep_interval_ms"`
	MaxFailures     int      `yaml:"max_consecutive_failures"`
	Languages       []string `yaml:"languages"`
	DefaultLanguage string   `yaml:"default_language"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Audio       AudioConfig      `yaml:"audio"`
	Recognizer  RecognizerConfig `yaml:"recognizer"`
	Session     SessionConfig    `yaml:"session"`
	Store       StoreConfig      `yaml:"store"`
}

func Default() Config {
	return Config{
		RuntimeName: "soro-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			SampleRate:     16000,
			Channels:       1,
			WindowTargetMS: 2000,
			WindowMinMS:    1000,
			NoiseFloorMS:   100,
			MaxBufferMS:    20000,
		},
		Recognizer: RecognizerConfig{
			Mode:       "mock",
			Model:      "whisper-1",
			TimeoutMS:  15000,
			Workers:    4,
			QueueDepth: 16,
		},
		Session: SessionConfig{
			DrainTimeoutMS:  8000,
			IdleTimeoutMS:   120000,
			SweepIntervalMS: 15000,
			MaxFailures:     3,
			Languages:       []string{"auto", "en", "yo", "ig", "ha"},
			DefaultLanguage: "auto",
		},
		Store: StoreConfig{
			Path:          "./data/soro-transcripts.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
	}
}

func Load(path string) (Config, error) {
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

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SORO_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SORO_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SORO_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SORO_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SORO_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SORO_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SORO_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SORO_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "SORO_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SORO_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SORO_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SORO_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SORO_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SORO_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SORO_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SORO_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SORO_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Audio.SampleRate, "SORO_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "SORO_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.WindowTargetMS, "SORO_AUDIO_WINDOW_TARGET_MS")
	overrideInt(&cfg.Audio.WindowMinMS, "SORO_AUDIO_WINDOW_MIN_MS")
	overrideInt(&cfg.Audio.NoiseFloorMS, "SORO_AUDIO_NOISE_FLOOR_MS")
	overrideInt(&cfg.Audio.MaxBufferMS, "SORO_AUDIO_MAX_BUFFER_MS")
	overrideInt(&cfg.Audio.WindowOverlapMS, "SORO_AUDIO_WINDOW_OVERLAP_MS")
	overrideString(&cfg.Recognizer.Mode, "SORO_RECOGNIZER_MODE")
	overrideString(&cfg.Recognizer.Command, "SORO_RECOGNIZER_COMMAND")
	overrideString(&cfg.Recognizer.ModelPath, "SORO_RECOGNIZER_MODEL_PATH")
	overrideString(&cfg.Recognizer.Model, "SORO_RECOGNIZER_MODEL")
	overrideString(&cfg.Recognizer.APIKey, "SORO_RECOGNIZER_API_KEY")
	overrideInt(&cfg.Recognizer.TimeoutMS, "SORO_RECOGNIZER_TIMEOUT_MS")
	overrideInt(&cfg.Recognizer.Workers, "SORO_RECOGNIZER_WORKERS")
	overrideInt(&cfg.Recognizer.QueueDepth, "SORO_RECOGNIZER_QUEUE_DEPTH")
	overrideInt(&cfg.Session.DrainTimeoutMS, "SORO_SESSION_DRAIN_TIMEOUT_MS")
	overrideInt(&cfg.Session.IdleTimeoutMS, "SORO_SESSION_IDLE_TIMEOUT_MS")
	overrideInt(&cfg.Session.SweepIntervalMS, "SORO_SESSION_SWEEP_INTERVAL_MS")
	overrideInt(&cfg.Session.MaxFailures, "SORO_SESSION_MAX_CONSECUTIVE_FAILURES")
	overrideStringSlice(&cfg.Session.Languages, "SORO_SESSION_LANGUAGES")
	overrideString(&cfg.Session.DefaultLanguage, "SORO_SESSION_DEFAULT_LANGUAGE")
	overrideString(&cfg.Store.Path, "SORO_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "SORO_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "SORO_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxSessions, "SORO_STORE_MAX_SESSIONS")
	overrideBool(&cfg.Store.VacuumOnStart, "SORO_STORE_VACUUM_ON_START")
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

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.WindowMinMS <= 0 {
		return errors.New("audio.window_min_ms must be positive")
	}
	if cfg.Audio.WindowTargetMS < cfg.Audio.WindowMinMS {
		return errors.New("audio.window_target_ms must be >= audio.window_min_ms")
	}
	if cfg.Audio.NoiseFloorMS < 0 || cfg.Audio.NoiseFloorMS > cfg.Audio.WindowMinMS {
		return errors.New("audio.noise_floor_ms must be between 0 and audio.window_min_ms")
	}
	if cfg.Audio.MaxBufferMS < cfg.Audio.WindowTargetMS {
		return errors.New("audio.max_buffer_ms must be >= audio.window_target_ms")
	}
	if cfg.Audio.WindowOverlapMS < 0 || cfg.Audio.WindowOverlapMS >= cfg.Audio.WindowMinMS {
		return errors.New("audio.window_overlap_ms must be >= 0 and below audio.window_min_ms")
	}
	switch cfg.Recognizer.Mode {
	case "mock", "exec", "openai":
	default:
		return errors.New("recognizer.mode must be one of mock|exec|openai")
	}
	if cfg.Recognizer.Mode == "exec" && cfg.Recognizer.Command == "" {
		return errors.New("recognizer.command must be set when mode=exec")
	}
	if cfg.Recognizer.Mode == "openai" && cfg.Recognizer.APIKey == "" {
		return errors.New("recognizer.api_key must be set when mode=openai")
	}
	if cfg.Recognizer.TimeoutMS <= 0 {
		return errors.New("recognizer.timeout_ms must be positive")
	}
	if cfg.Recognizer.Workers <= 0 {
		return errors.New("recognizer.workers must be >= 1")
	}
	if cfg.Recognizer.QueueDepth < 0 {
		return errors.New("recognizer.queue_depth must be >= 0")
	}
	if cfg.Session.DrainTimeoutMS <= 0 {
		return errors.New("session.drain_timeout_ms must be positive")
	}
	if cfg.Session.IdleTimeoutMS <= 0 {
		return errors.New("session.idle_timeout_ms must be positive")
	}
	if cfg.Session.SweepIntervalMS <= 0 {
		return errors.New("session.sweep_interval_ms must be positive")
	}
	if cfg.Session.MaxFailures <= 0 {
		return errors.New("session.max_consecutive_failures must be >= 1")
	}
	if len(cfg.Session.Languages) == 0 {
		return errors.New("session.languages must not be empty")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	return nil
}
