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
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Audit       AuditConfig     `yaml:"audit"`
	Stream      StreamConfig    `yaml:"stream"`
	Provider    ProviderConfig  `yaml:"provider"`
	Ledger      LedgerConfig    `yaml:"ledger"`
	Payment     PaymentConfig   `yaml:"payment"`
	Tools       ToolsConfig     `yaml:"tools"`
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

type AuditConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxCalls      int    `yaml:"max_calls"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// StreamConfig drives the media-stream endpoint and turn framing.
type StreamConfig struct {
	WebhookPath        string `yaml:"webhook_path"`
	MediaPath          string `yaml:"media_path"`
	PublicStreamURL    string `yaml:"public_stream_url"`
	TurnThresholdBytes int    `yaml:"turn_threshold_bytes"`
	SampleRate         int    `yaml:"sample_rate"`
}

type ProviderConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	STTModel    string  `yaml:"stt_model"`
	ChatModel   string  `yaml:"chat_model"`
	TTSModel    string  `yaml:"tts_model"`
	Voice       string  `yaml:"voice"`
	SampleRate  int     `yaml:"sample_rate"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type LedgerConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type PaymentConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type ToolsConfig struct {
	ExpenseSummaryLimit int `yaml:"expense_summary_limit"`
}

func Default() Config {
	return Config{
		ServiceName: "voxpay-core",
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
			Embedded:       false,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audit: AuditConfig{
			Path:          "./data/voxpay-audit.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxCalls:      10000,
		},
		Stream: StreamConfig{
			WebhookPath:        "/incoming_call",
			MediaPath:          "/ws",
			PublicStreamURL:    "",
			TurnThresholdBytes: 24000,
			SampleRate:         8000,
		},
		Provider: ProviderConfig{
			BaseURL:     "https://api.sarvam.ai",
			STTModel:    "saaras:v2.5",
			ChatModel:   "sarvam-m",
			TTSModel:    "bulbul:v2",
			Voice:       "anushka",
			SampleRate:  8000,
			MaxTokens:   200,
			Temperature: 0.7,
			TimeoutMS:   30000,
		},
		Ledger: LedgerConfig{
			TimeoutMS: 10000,
		},
		Payment: PaymentConfig{
			TimeoutMS: 10000,
		},
		Tools: ToolsConfig{
			ExpenseSummaryLimit: 15,
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
	overrideString(&cfg.ServiceName, "VOXPAY_SERVICE_NAME")
	overrideString(&cfg.Environment, "VOXPAY_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXPAY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXPAY_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXPAY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXPAY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXPAY_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXPAY_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "VOXPAY_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOXPAY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXPAY_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOXPAY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXPAY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXPAY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXPAY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXPAY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXPAY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Audit.Path, "VOXPAY_AUDIT_PATH")
	overrideString(&cfg.Audit.RetentionMode, "VOXPAY_AUDIT_RETENTION_MODE")
	overrideInt(&cfg.Audit.RetentionDays, "VOXPAY_AUDIT_RETENTION_DAYS")
	overrideInt(&cfg.Audit.MaxCalls, "VOXPAY_AUDIT_MAX_CALLS")
	overrideBool(&cfg.Audit.VacuumOnStart, "VOXPAY_AUDIT_VACUUM_ON_START")
	overrideString(&cfg.Stream.WebhookPath, "VOXPAY_STREAM_WEBHOOK_PATH")
	overrideString(&cfg.Stream.MediaPath, "VOXPAY_STREAM_MEDIA_PATH")
	overrideString(&cfg.Stream.PublicStreamURL, "VOXPAY_STREAM_PUBLIC_URL")
	overrideInt(&cfg.Stream.TurnThresholdBytes, "VOXPAY_STREAM_TURN_THRESHOLD_BYTES")
	overrideInt(&cfg.Stream.SampleRate, "VOXPAY_STREAM_SAMPLE_RATE")
	overrideString(&cfg.Provider.APIKey, "VOXPAY_PROVIDER_API_KEY")
	overrideString(&cfg.Provider.BaseURL, "VOXPAY_PROVIDER_BASE_URL")
	overrideString(&cfg.Provider.STTModel, "VOXPAY_PROVIDER_STT_MODEL")
	overrideString(&cfg.Provider.ChatModel, "VOXPAY_PROVIDER_CHAT_MODEL")
	overrideString(&cfg.Provider.TTSModel, "VOXPAY_PROVIDER_TTS_MODEL")
	overrideString(&cfg.Provider.Voice, "VOXPAY_PROVIDER_VOICE")
	overrideInt(&cfg.Provider.SampleRate, "VOXPAY_PROVIDER_SAMPLE_RATE")
	overrideInt(&cfg.Provider.MaxTokens, "VOXPAY_PROVIDER_MAX_TOKENS")
	overrideFloat(&cfg.Provider.Temperature, "VOXPAY_PROVIDER_TEMPERATURE")
	overrideInt(&cfg.Provider.TimeoutMS, "VOXPAY_PROVIDER_TIMEOUT_MS")
	overrideString(&cfg.Ledger.BaseURL, "VOXPAY_LEDGER_BASE_URL")
	overrideString(&cfg.Ledger.APIKey, "VOXPAY_LEDGER_API_KEY")
	overrideInt(&cfg.Ledger.TimeoutMS, "VOXPAY_LEDGER_TIMEOUT_MS")
	overrideString(&cfg.Payment.BaseURL, "VOXPAY_PAYMENT_BASE_URL")
	overrideString(&cfg.Payment.APIKey, "VOXPAY_PAYMENT_API_KEY")
	overrideInt(&cfg.Payment.TimeoutMS, "VOXPAY_PAYMENT_TIMEOUT_MS")
	overrideInt(&cfg.Tools.ExpenseSummaryLimit, "VOXPAY_TOOLS_EXPENSE_SUMMARY_LIMIT")
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
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled && len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when the bus is enabled")
	}
	if cfg.Audit.Path == "" {
		return errors.New("audit.path must not be empty")
	}
	switch cfg.Audit.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("audit.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Audit.RetentionDays < 0 {
		return errors.New("audit.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if !strings.HasPrefix(cfg.Stream.WebhookPath, "/") {
		return errors.New("stream.webhook_path must start with /")
	}
	if !strings.HasPrefix(cfg.Stream.MediaPath, "/") {
		return errors.New("stream.media_path must start with /")
	}
	if cfg.Stream.TurnThresholdBytes <= 0 {
		return errors.New("stream.turn_threshold_bytes must be positive")
	}
	if cfg.Stream.SampleRate <= 0 {
		return errors.New("stream.sample_rate must be positive")
	}
	if cfg.Provider.BaseURL == "" {
		return errors.New("provider.base_url must not be empty")
	}
	if cfg.Provider.SampleRate <= 0 {
		return errors.New("provider.sample_rate must be positive")
	}
	if cfg.Provider.MaxTokens < 0 {
		return errors.New("provider.max_tokens must be >= 0")
	}
	if cfg.Tools.ExpenseSummaryLimit <= 0 {
		return errors.New("tools.expense_summary_limit must be >= 1")
	}
	return nil
}
