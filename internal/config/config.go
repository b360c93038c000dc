package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	// LogFile receives logs while the terminal UI owns the screen.
	LogFile string `yaml:"log_file"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Dictation   DictationConfig `yaml:"dictation"`
	Speech      SpeechConfig    `yaml:"speech"`
	Messaging   MessagingConfig `yaml:"messaging"`
	Notify      NotifyConfig    `yaml:"notify"`
	UI          UIConfig        `yaml:"ui"`
	Presence    PresenceConfig  `yaml:"presence"`
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

// DictationConfig mirrors the knobs a speech engine accepts at start.
type DictationConfig struct {
	Language        string `yaml:"language"`
	InterimResults  bool   `yaml:"interim_results"`
	Continuous      bool   `yaml:"continuous"`
	MaxAlternatives int    `yaml:"max_alternatives"`
}

type SpeechConfig struct {
	Mode          string `yaml:"mode"` // bus, exec, script, server, none
	Command       string `yaml:"command"`
	ScriptPath    string `yaml:"script_path"`
	ScriptDelayMS int    `yaml:"script_delay_ms"`
}

type MessagingConfig struct {
	BaseURL          string `yaml:"base_url"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
	Push             string `yaml:"push"` // bus, websocket, none
	PushURL          string `yaml:"push_url"`
}

type NotifyConfig struct {
	ErrorTTLMS        int `yaml:"error_ttl_ms"`
	AlertTTLMS        int `yaml:"alert_ttl_ms"`
	CopyFeedbackTTLMS int `yaml:"copy_feedback_ms"`
}

// PresenceConfig controls node announcements on the bus. It has no effect
// while the bus is disabled. With
// RequireRecognizer set, bus dictation is unavailable until a peer
// advertising the stt capability is heard from.
type PresenceConfig struct {
	Enabled             bool   `yaml:"enabled"`
	NodeID              string `yaml:"node_id"`
	HeartbeatIntervalMS int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMS  int    `yaml:"heartbeat_timeout_ms"`
	RequireRecognizer   bool   `yaml:"require_recognizer"`
}

type UIConfig struct {
	Mode string `yaml:"mode"` // tui, log
	// SampleQuestions are cycled into the question input on request.
	SampleQuestions []string `yaml:"sample_questions"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-companion",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8081,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9092",
			LogFile:        "loqa-companion.log",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       false,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Dictation: DictationConfig{
			Language:        "en-US",
			InterimResults:  true,
			Continuous:      true,
			MaxAlternatives: 1,
		},
		Speech: SpeechConfig{
			Mode:          "bus",
			ScriptDelayMS: 250,
		},
		Messaging: MessagingConfig{
			BaseURL:          "http://localhost:5000",
			RequestTimeoutMS: 60000,
			Push:             "bus",
			PushURL:          "ws://localhost:5000/events",
		},
		Notify: NotifyConfig{
			ErrorTTLMS:        5000,
			AlertTTLMS:        30000,
			CopyFeedbackTTLMS: 2000,
		},
		UI: UIConfig{
			Mode: "tui",
			SampleQuestions: []string{
				"Tell me about yourself.",
				"What are your greatest strengths?",
				"Describe a challenging project you worked on.",
				"Why do you want to work here?",
			},
		},
		Presence: PresenceConfig{
			Enabled:             true,
			HeartbeatIntervalMS: 2000,
			HeartbeatTimeoutMS:  6000,
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

	if err := loadDotEnv(); err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadDotEnv reads .env (or COMPANION_ENV_FILE) without clobbering variables
// already present in the process environment.
func loadDotEnv() error {
	path := ".env"
	if custom, ok := os.LookupEnv("COMPANION_ENV_FILE"); ok && strings.TrimSpace(custom) != "" {
		path = custom
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "COMPANION_RUNTIME_NAME")
	overrideString(&cfg.Environment, "COMPANION_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "COMPANION_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "COMPANION_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "COMPANION_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "COMPANION_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "COMPANION_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "COMPANION_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "COMPANION_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Telemetry.LogFile, "COMPANION_TELEMETRY_LOG_FILE")
	overrideBool(&cfg.Bus.Enabled, "COMPANION_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "COMPANION_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "COMPANION_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "COMPANION_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "COMPANION_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "COMPANION_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "COMPANION_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "COMPANION_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "COMPANION_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Dictation.Language, "COMPANION_DICTATION_LANGUAGE")
	overrideBool(&cfg.Dictation.InterimResults, "COMPANION_DICTATION_INTERIM_RESULTS")
	overrideBool(&cfg.Dictation.Continuous, "COMPANION_DICTATION_CONTINUOUS")
	overrideInt(&cfg.Dictation.MaxAlternatives, "COMPANION_DICTATION_MAX_ALTERNATIVES")
	overrideString(&cfg.Speech.Mode, "COMPANION_SPEECH_MODE")
	overrideString(&cfg.Speech.Command, "COMPANION_SPEECH_COMMAND")
	overrideString(&cfg.Speech.ScriptPath, "COMPANION_SPEECH_SCRIPT_PATH")
	overrideInt(&cfg.Speech.ScriptDelayMS, "COMPANION_SPEECH_SCRIPT_DELAY_MS")
	overrideString(&cfg.Messaging.BaseURL, "COMPANION_MESSAGING_BASE_URL")
	overrideInt(&cfg.Messaging.RequestTimeoutMS, "COMPANION_MESSAGING_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.Messaging.Push, "COMPANION_MESSAGING_PUSH")
	overrideString(&cfg.Messaging.PushURL, "COMPANION_MESSAGING_PUSH_URL")
	overrideInt(&cfg.Notify.ErrorTTLMS, "COMPANION_NOTIFY_ERROR_TTL_MS")
	overrideInt(&cfg.Notify.AlertTTLMS, "COMPANION_NOTIFY_ALERT_TTL_MS")
	overrideInt(&cfg.Notify.CopyFeedbackTTLMS, "COMPANION_NOTIFY_COPY_FEEDBACK_MS")
	overrideString(&cfg.UI.Mode, "COMPANION_UI_MODE")
	overrideStringSlice(&cfg.UI.SampleQuestions, "COMPANION_UI_SAMPLE_QUESTIONS")
	overrideBool(&cfg.Presence.Enabled, "COMPANION_PRESENCE_ENABLED")
	overrideString(&cfg.Presence.NodeID, "COMPANION_PRESENCE_NODE_ID")
	overrideInt(&cfg.Presence.HeartbeatIntervalMS, "COMPANION_PRESENCE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Presence.HeartbeatTimeoutMS, "COMPANION_PRESENCE_HEARTBEAT_TIMEOUT_MS")
	overrideBool(&cfg.Presence.RequireRecognizer, "COMPANION_PRESENCE_REQUIRE_RECOGNIZER")
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
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			// -1 lets the embedded server pick a free port
			if cfg.Bus.Port != -1 && (cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535) {
				return errors.New("bus.port must be -1 or between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Dictation.Language == "" {
		return errors.New("dictation.language must not be empty")
	}
	if cfg.Dictation.MaxAlternatives <= 0 {
		return errors.New("dictation.max_alternatives must be >= 1")
	}
	switch cfg.Speech.Mode {
	case "bus":
		if !cfg.Bus.Enabled {
			return errors.New("speech.mode=bus requires bus.enabled")
		}
	case "exec":
		if cfg.Speech.Command == "" {
			return errors.New("speech.command must be set when mode=exec")
		}
	case "script":
		if cfg.Speech.ScriptPath == "" {
			return errors.New("speech.script_path must be set when mode=script")
		}
		if cfg.Speech.ScriptDelayMS < 0 {
			return errors.New("speech.script_delay_ms must be >= 0")
		}
	case "server", "none":
	default:
		return errors.New("speech.mode must be one of bus|exec|script|server|none")
	}
	if cfg.Messaging.BaseURL == "" {
		return errors.New("messaging.base_url must not be empty")
	}
	if cfg.Messaging.RequestTimeoutMS <= 0 {
		return errors.New("messaging.request_timeout_ms must be positive")
	}
	switch cfg.Messaging.Push {
	case "bus":
		if !cfg.Bus.Enabled {
			return errors.New("messaging.push=bus requires bus.enabled")
		}
	case "websocket":
		if cfg.Messaging.PushURL == "" {
			return errors.New("messaging.push_url must be set when push=websocket")
		}
	case "none":
	default:
		return errors.New("messaging.push must be one of bus|websocket|none")
	}
	if cfg.Speech.Mode == "server" && cfg.Messaging.Push == "none" {
		return errors.New("speech.mode=server needs a push channel for transcription updates")
	}
	if cfg.Notify.ErrorTTLMS <= 0 || cfg.Notify.AlertTTLMS <= 0 || cfg.Notify.CopyFeedbackTTLMS <= 0 {
		return errors.New("notify ttl values must be positive")
	}
	if cfg.Presence.Enabled && cfg.Bus.Enabled {
		if cfg.Presence.HeartbeatIntervalMS <= 0 {
			return errors.New("presence.heartbeat_interval_ms must be positive")
		}
		if cfg.Presence.HeartbeatTimeoutMS < cfg.Presence.HeartbeatIntervalMS {
			return errors.New("presence.heartbeat_timeout_ms must be >= heartbeat_interval_ms")
		}
	}
	switch cfg.UI.Mode {
	case "tui", "log":
	default:
		return errors.New("ui.mode must be one of tui|log")
	}
	return nil
}
