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

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Explain     ExplainConfig    `yaml:"explain"`
	Synth       SynthConfig      `yaml:"synth"`
	Playback    PlaybackConfig   `yaml:"playback"`
	Tutor       TutorConfig      `yaml:"tutor"`
	Registry    RegistryConfig   `yaml:"registry"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ExplainConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama, exec
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	System      string  `yaml:"system"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type SynthConfig struct {
	Mode      string `yaml:"mode"` // mock, http, exec
	Endpoint  string `yaml:"endpoint"`
	Command   string `yaml:"command"`
	Voice     string `yaml:"voice"`
	Format    string `yaml:"format"` // mp3, wav
	TimeoutMS int    `yaml:"timeout_ms"`
}

type PlaybackConfig struct {
	Sink            string `yaml:"sink"` // portaudio, null
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
}

type TutorConfig struct {
	MaxQuestions int    `yaml:"max_questions"`
	AskTimeoutMS int    `yaml:"ask_timeout_ms"`
	Voice        string `yaml:"voice"`
}

type RegistryConfig struct {
	Enabled            bool `yaml:"enabled"`
	HeartbeatTimeoutMS int  `yaml:"heartbeat_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "quizowl-tutor",
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
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/tutor-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Explain: ExplainConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   256,
			Temperature: 0.7,
			TimeoutMS:   60000,
		},
		Synth: SynthConfig{
			Mode:      "mock",
			Voice:     "en-US-child-friendly",
			Format:    "mp3",
			TimeoutMS: 15000,
		},
		Playback: PlaybackConfig{
			Sink:            "null",
			SampleRate:      22050,
			Channels:        1,
			FramesPerBuffer: 1024,
		},
		Tutor: TutorConfig{
			MaxQuestions: 3,
			AskTimeoutMS: 120000,
		},
		Registry: RegistryConfig{
			Enabled:            true,
			HeartbeatTimeoutMS: 6000,
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
	overrideString(&cfg.RuntimeName, "QUIZOWL_RUNTIME_NAME")
	overrideString(&cfg.Environment, "QUIZOWL_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "QUIZOWL_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "QUIZOWL_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "QUIZOWL_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "QUIZOWL_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "QUIZOWL_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "QUIZOWL_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "QUIZOWL_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "QUIZOWL_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "QUIZOWL_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "QUIZOWL_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "QUIZOWL_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "QUIZOWL_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "QUIZOWL_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "QUIZOWL_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "QUIZOWL_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "QUIZOWL_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "QUIZOWL_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "QUIZOWL_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "QUIZOWL_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Explain.Mode, "QUIZOWL_EXPLAIN_MODE")
	overrideString(&cfg.Explain.Endpoint, "QUIZOWL_EXPLAIN_ENDPOINT")
	overrideString(&cfg.Explain.Command, "QUIZOWL_EXPLAIN_COMMAND")
	overrideString(&cfg.Explain.Model, "QUIZOWL_EXPLAIN_MODEL")
	overrideString(&cfg.Explain.System, "QUIZOWL_EXPLAIN_SYSTEM")
	overrideInt(&cfg.Explain.MaxTokens, "QUIZOWL_EXPLAIN_MAX_TOKENS")
	overrideFloat(&cfg.Explain.Temperature, "QUIZOWL_EXPLAIN_TEMPERATURE")
	overrideInt(&cfg.Explain.TimeoutMS, "QUIZOWL_EXPLAIN_TIMEOUT_MS")
	overrideString(&cfg.Synth.Mode, "QUIZOWL_SYNTH_MODE")
	overrideString(&cfg.Synth.Endpoint, "QUIZOWL_SYNTH_ENDPOINT")
	overrideString(&cfg.Synth.Command, "QUIZOWL_SYNTH_COMMAND")
	overrideString(&cfg.Synth.Voice, "QUIZOWL_SYNTH_VOICE")
	overrideString(&cfg.Synth.Format, "QUIZOWL_SYNTH_FORMAT")
	overrideInt(&cfg.Synth.TimeoutMS, "QUIZOWL_SYNTH_TIMEOUT_MS")
	overrideString(&cfg.Playback.Sink, "QUIZOWL_PLAYBACK_SINK")
	overrideInt(&cfg.Playback.SampleRate, "QUIZOWL_PLAYBACK_SAMPLE_RATE")
	overrideInt(&cfg.Playback.Channels, "QUIZOWL_PLAYBACK_CHANNELS")
	overrideInt(&cfg.Playback.FramesPerBuffer, "QUIZOWL_PLAYBACK_FRAMES_PER_BUFFER")
	overrideInt(&cfg.Tutor.MaxQuestions, "QUIZOWL_TUTOR_MAX_QUESTIONS")
	overrideInt(&cfg.Tutor.AskTimeoutMS, "QUIZOWL_TUTOR_ASK_TIMEOUT_MS")
	overrideString(&cfg.Tutor.Voice, "QUIZOWL_TUTOR_VOICE")
	overrideBool(&cfg.Registry.Enabled, "QUIZOWL_REGISTRY_ENABLED")
	overrideInt(&cfg.Registry.HeartbeatTimeoutMS, "QUIZOWL_REGISTRY_HEARTBEAT_TIMEOUT_MS")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Explain.Mode {
	case "mock", "ollama", "exec":
	default:
		return errors.New("explain.mode must be one of mock|ollama|exec")
	}
	if cfg.Explain.Mode == "ollama" && cfg.Explain.Endpoint == "" {
		return errors.New("explain.endpoint must be set when mode=ollama")
	}
	if cfg.Explain.Mode == "exec" && cfg.Explain.Command == "" {
		return errors.New("explain.command must be set when mode=exec")
	}
	if cfg.Explain.MaxTokens < 0 {
		return errors.New("explain.max_tokens must be >= 0")
	}
	switch cfg.Synth.Mode {
	case "mock", "http", "exec":
	default:
		return errors.New("synth.mode must be one of mock|http|exec")
	}
	if cfg.Synth.Mode == "http" && cfg.Synth.Endpoint == "" {
		return errors.New("synth.endpoint must be set when mode=http")
	}
	if cfg.Synth.Mode == "exec" && cfg.Synth.Command == "" {
		return errors.New("synth.command must be set when mode=exec")
	}
	switch cfg.Synth.Format {
	case "mp3", "wav":
	default:
		return errors.New("synth.format must be one of mp3|wav")
	}
	if cfg.Synth.TimeoutMS <= 0 {
		return errors.New("synth.timeout_ms must be positive")
	}
	switch cfg.Playback.Sink {
	case "portaudio", "null":
	default:
		return errors.New("playback.sink must be one of portaudio|null")
	}
	if cfg.Playback.SampleRate <= 0 {
		return errors.New("playback.sample_rate must be positive")
	}
	if cfg.Playback.Channels <= 0 {
		return errors.New("playback.channels must be positive")
	}
	if cfg.Playback.FramesPerBuffer <= 0 {
		return errors.New("playback.frames_per_buffer must be positive")
	}
	if cfg.Tutor.MaxQuestions <= 0 {
		return errors.New("tutor.max_questions must be >= 1")
	}
	if cfg.Tutor.AskTimeoutMS <= 0 {
		return errors.New("tutor.ask_timeout_ms must be positive")
	}
	if cfg.Registry.Enabled && cfg.Registry.HeartbeatTimeoutMS <= 0 {
		return errors.New("registry.heartbeat_timeout_ms must be positive when registry is enabled")
	}
	return nil
}
