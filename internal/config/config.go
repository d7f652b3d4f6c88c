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

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ConversationConfig struct {
	MaxHistory       int    `yaml:"max_history"`
	SystemPrompt     string `yaml:"system_prompt"`
	SaveAudio        bool   `yaml:"save_audio"`
	AudioInputDir    string `yaml:"audio_input_dir"`
	AudioOutputDir   string `yaml:"audio_output_dir"`
	BatchConcurrency int    `yaml:"batch_concurrency"`
}

type ASRProviderConfig struct {
	Kind             string   `yaml:"kind"` // mock, exec
	Command          string   `yaml:"command"`
	Model            string   `yaml:"model"`
	Device           string   `yaml:"device"`
	Language         string   `yaml:"language"`
	Hotwords         []string `yaml:"hotwords"`
	VADModel         string   `yaml:"vad_model"`
	PunctuationModel string   `yaml:"punctuation_model"`
}

type ASRConfig struct {
	Active         string                       `yaml:"active"`
	SampleRate     int                          `yaml:"sample_rate"`
	Channels       int                          `yaml:"channels"`
	StageTimeoutMS int                          `yaml:"stage_timeout_ms"`
	Providers      map[string]ASRProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	Kind          string  `yaml:"kind"` // mock, openai, ollama, exec
	Endpoint      string  `yaml:"endpoint"`
	CredentialEnv string  `yaml:"credential_env"`
	Command       string  `yaml:"command"`
	Model         string  `yaml:"model"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	TopP          float64 `yaml:"top_p"`
	MaxRetries    int     `yaml:"max_retries"`
}

type LLMConfig struct {
	Active         string                       `yaml:"active"`
	StageTimeoutMS int                          `yaml:"stage_timeout_ms"`
	Providers      map[string]LLMProviderConfig `yaml:"providers"`
}

type TTSProviderConfig struct {
	Kind            string  `yaml:"kind"` // mock, exec
	Command         string  `yaml:"command"`
	ModelPath       string  `yaml:"model_path"`
	Device          string  `yaml:"device"`
	Speaker         string  `yaml:"speaker"`
	Speed           float64 `yaml:"speed"`
	Pitch           float64 `yaml:"pitch"`
	SampleRate      int     `yaml:"sample_rate"`
	Channels        int     `yaml:"channels"`
	Emotion         string  `yaml:"emotion"`
	EmotionStrength float64 `yaml:"emotion_strength"`
}

type TTSConfig struct {
	Active         string                       `yaml:"active"`
	Fallback       []string                     `yaml:"fallback"`
	StageTimeoutMS int                          `yaml:"stage_timeout_ms"`
	Providers      map[string]TTSProviderConfig `yaml:"providers"`
}

type Config struct {
	ServiceName  string             `yaml:"service_name"`
	Environment  string             `yaml:"environment"`
	HTTP         HTTPConfig         `yaml:"http"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Bus          BusConfig          `yaml:"bus"`
	Store        StoreConfig        `yaml:"store"`
	Conversation ConversationConfig `yaml:"conversation"`
	ASR          ASRConfig          `yaml:"asr"`
	LLM          LLMConfig          `yaml:"llm"`
	TTS          TTSConfig          `yaml:"tts"`
}

func Default() Config {
	return Config{
		ServiceName: "parley",
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
		Store: StoreConfig{
			Path:          "./data/parley-turns.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Conversation: ConversationConfig{
			MaxHistory:       10,
			SystemPrompt:     "You are a friendly study companion.",
			SaveAudio:        true,
			AudioInputDir:    "./data/audio_input",
			AudioOutputDir:   "./data/audio_output",
			BatchConcurrency: 1,
		},
		ASR: ASRConfig{
			Active:         "mock",
			SampleRate:     16000,
			Channels:       1,
			StageTimeoutMS: 45000,
			Providers: map[string]ASRProviderConfig{
				"mock": {Kind: "mock"},
			},
		},
		LLM: LLMConfig{
			Active:         "mock",
			StageTimeoutMS: 60000,
			Providers: map[string]LLMProviderConfig{
				"mock": {Kind: "mock", Temperature: 0.7, MaxTokens: 2000, TopP: 0.95},
			},
		},
		TTS: TTSConfig{
			Active:         "mock",
			StageTimeoutMS: 45000,
			Providers: map[string]TTSProviderConfig{
				"mock": {Kind: "mock", Speed: 1.0, Pitch: 1.0, SampleRate: 22050, Channels: 1},
			},
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
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "PARLEY_SERVICE_NAME")
	overrideString(&cfg.Environment, "PARLEY_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PARLEY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PARLEY_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PARLEY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PARLEY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PARLEY_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "PARLEY_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "PARLEY_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "PARLEY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PARLEY_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "PARLEY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PARLEY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PARLEY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PARLEY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PARLEY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PARLEY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "PARLEY_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "PARLEY_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "PARLEY_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxSessions, "PARLEY_STORE_MAX_SESSIONS")
	overrideBool(&cfg.Store.VacuumOnStart, "PARLEY_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Conversation.MaxHistory, "PARLEY_CONVERSATION_MAX_HISTORY")
	overrideString(&cfg.Conversation.SystemPrompt, "PARLEY_CONVERSATION_SYSTEM_PROMPT")
	overrideBool(&cfg.Conversation.SaveAudio, "PARLEY_CONVERSATION_SAVE_AUDIO")
	overrideString(&cfg.Conversation.AudioInputDir, "PARLEY_CONVERSATION_AUDIO_INPUT_DIR")
	overrideString(&cfg.Conversation.AudioOutputDir, "PARLEY_CONVERSATION_AUDIO_OUTPUT_DIR")
	overrideInt(&cfg.Conversation.BatchConcurrency, "PARLEY_CONVERSATION_BATCH_CONCURRENCY")
	overrideString(&cfg.ASR.Active, "PARLEY_ASR_ACTIVE")
	overrideInt(&cfg.ASR.SampleRate, "PARLEY_ASR_SAMPLE_RATE")
	overrideInt(&cfg.ASR.Channels, "PARLEY_ASR_CHANNELS")
	overrideInt(&cfg.ASR.StageTimeoutMS, "PARLEY_ASR_STAGE_TIMEOUT_MS")
	overrideString(&cfg.LLM.Active, "PARLEY_LLM_ACTIVE")
	overrideInt(&cfg.LLM.StageTimeoutMS, "PARLEY_LLM_STAGE_TIMEOUT_MS")
	overrideString(&cfg.TTS.Active, "PARLEY_TTS_ACTIVE")
	overrideInt(&cfg.TTS.StageTimeoutMS, "PARLEY_TTS_STAGE_TIMEOUT_MS")
	overrideStringSlice(&cfg.TTS.Fallback, "PARLEY_TTS_FALLBACK")
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

// Validate checks structural invariants. Provider kinds are a closed
// set; unknown kinds fail here rather than at first use.
func Validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
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
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Conversation.MaxHistory <= 0 {
		return errors.New("conversation.max_history must be >= 1")
	}
	if cfg.Conversation.BatchConcurrency <= 0 {
		return errors.New("conversation.batch_concurrency must be >= 1")
	}
	if cfg.Conversation.SaveAudio {
		if cfg.Conversation.AudioInputDir == "" || cfg.Conversation.AudioOutputDir == "" {
			return errors.New("conversation audio directories must be set when save_audio is enabled")
		}
	}
	if cfg.ASR.SampleRate <= 0 {
		return errors.New("asr.sample_rate must be positive")
	}
	if cfg.ASR.Channels <= 0 {
		return errors.New("asr.channels must be positive")
	}
	if len(cfg.ASR.Providers) == 0 {
		return errors.New("asr.providers must not be empty")
	}
	for id, p := range cfg.ASR.Providers {
		switch p.Kind {
		case "mock", "exec":
		default:
			return fmt.Errorf("asr.providers.%s.kind must be one of mock|exec", id)
		}
		if p.Kind == "exec" && p.Command == "" {
			return fmt.Errorf("asr.providers.%s.command must be set when kind=exec", id)
		}
	}
	if _, ok := cfg.ASR.Providers[cfg.ASR.Active]; !ok {
		return fmt.Errorf("asr.active %q is not a configured provider", cfg.ASR.Active)
	}
	if len(cfg.LLM.Providers) == 0 {
		return errors.New("llm.providers must not be empty")
	}
	for id, p := range cfg.LLM.Providers {
		switch p.Kind {
		case "mock", "openai", "ollama", "exec":
		default:
			return fmt.Errorf("llm.providers.%s.kind must be one of mock|openai|ollama|exec", id)
		}
		if (p.Kind == "openai" || p.Kind == "ollama") && p.Endpoint == "" {
			return fmt.Errorf("llm.providers.%s.endpoint must be set when kind=%s", id, p.Kind)
		}
		if p.Kind == "exec" && p.Command == "" {
			return fmt.Errorf("llm.providers.%s.command must be set when kind=exec", id)
		}
		if p.MaxTokens < 0 {
			return fmt.Errorf("llm.providers.%s.max_tokens must be >= 0", id)
		}
		if p.MaxRetries < 0 {
			return fmt.Errorf("llm.providers.%s.max_retries must be >= 0", id)
		}
	}
	if _, ok := cfg.LLM.Providers[cfg.LLM.Active]; !ok {
		return fmt.Errorf("llm.active %q is not a configured provider", cfg.LLM.Active)
	}
	if len(cfg.TTS.Providers) == 0 {
		return errors.New("tts.providers must not be empty")
	}
	for id, p := range cfg.TTS.Providers {
		switch p.Kind {
		case "mock", "exec":
		default:
			return fmt.Errorf("tts.providers.%s.kind must be one of mock|exec", id)
		}
		if p.Kind == "exec" && p.Command == "" {
			return fmt.Errorf("tts.providers.%s.command must be set when kind=exec", id)
		}
		if p.SampleRate <= 0 {
			return fmt.Errorf("tts.providers.%s.sample_rate must be positive", id)
		}
		if p.Channels <= 0 {
			return fmt.Errorf("tts.providers.%s.channels must be positive", id)
		}
	}
	if _, ok := cfg.TTS.Providers[cfg.TTS.Active]; !ok {
		return fmt.Errorf("tts.active %q is not a configured provider", cfg.TTS.Active)
	}
	for _, id := range cfg.TTS.Fallback {
		if _, ok := cfg.TTS.Providers[id]; !ok {
			return fmt.Errorf("tts.fallback references unknown provider %q", id)
		}
	}
	return nil
}
