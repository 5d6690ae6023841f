package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Transport names.
const (
	TransportCloudAPI  = "cloudapi"
	TransportWhatsmeow = "whatsmeow"
)

// Backend names shared by profiles, queue and sessions.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendFile   = "file"
)

// Transcription providers.
const (
	TranscribeNone   = "none"
	TranscribeWebApp = "webapp"
	TranscribeOpenAI = "openai"
)

// Config holds all application configuration.
type Config struct {
	// Logging
	LogLevel string `json:"log_level" env:"CABILDO_LOG_LEVEL"`

	// Storage
	StorePath string `json:"store_path" env:"CABILDO_STORE_PATH"`

	// HTTP listeners. Port mirrors the PORT variable of container platforms
	// and wins over Listen when set.
	Listen      string `json:"listen" env:"CABILDO_LISTEN"`
	Port        int    `json:"-" env:"PORT"`
	DebugListen string `json:"debug_listen" env:"CABILDO_DEBUG_LISTEN"`

	// Transport selects how messages reach participants.
	Transport string `json:"transport" env:"CABILDO_TRANSPORT"`

	CloudAPI      CloudAPIConfig      `json:"cloud_api"`
	WhatsApp      WhatsAppConfig      `json:"whatsapp"`
	Storage       StorageConfig       `json:"storage"`
	Redis         RedisConfig         `json:"redis"`
	WebApp        WebAppConfig        `json:"web_app"`
	Transcription TranscriptionConfig `json:"transcription"`
	Survey        SurveyConfig        `json:"survey"`
	Worker        WorkerConfig        `json:"worker"`
}

// CloudAPIConfig configures the WhatsApp Cloud API webhook transport.
type CloudAPIConfig struct {
	VerifyToken   string `json:"verify_token" env:"WHATSAPP_VERIFY_TOKEN"`
	Token         string `json:"token" env:"WHATSAPP_TOKEN"`
	PhoneNumberID string `json:"phone_number_id" env:"WHATSAPP_PHONE_NUMBER_ID"`
	AppSecret     string `json:"app_secret" env:"APP_SECRET"`
	APIVersion    string `json:"api_version" env:"GRAPH_API_VERSION"`
	GraphBaseURL  string `json:"graph_base_url" env:"CABILDO_GRAPH_BASE_URL"`
	MarkRead      bool   `json:"mark_read" env:"CABILDO_MARK_READ"`
}

// DryRun reports whether outbound sends should only be logged.
func (c CloudAPIConfig) DryRun() bool {
	return c.Token == "" || c.PhoneNumberID == ""
}

// WhatsAppConfig configures the whatsmeow multi-device transport.
type WhatsAppConfig struct {
	DeviceName string `json:"device_name" env:"CABILDO_DEVICE_NAME"`
	QRFile     string `json:"qr_file" env:"CABILDO_QR_FILE"`
}

// StorageConfig selects backends for each durable or shared concern.
type StorageConfig struct {
	Profiles string `json:"profiles" env:"CABILDO_PROFILE_BACKEND"`
	Queue    string `json:"queue" env:"CABILDO_QUEUE_BACKEND"`
	Sessions string `json:"sessions" env:"CABILDO_SESSION_BACKEND"`
	Dedup    string `json:"dedup" env:"CABILDO_DEDUP_BACKEND"`
}

// RedisConfig configures the shared redis connection.
type RedisConfig struct {
	URL       string `json:"url" env:"REDIS_URL"`
	QueueName string `json:"queue_name" env:"CABILDO_QUEUE_NAME"`
}

// WebAppConfig configures the external survey web application.
type WebAppConfig struct {
	BaseURL string        `json:"base_url" env:"WEB_APP_BASE_URL"`
	Timeout time.Duration `json:"timeout" env:"CABILDO_WEB_APP_TIMEOUT"`
}

// TranscriptionConfig configures voice clip transcription.
type TranscriptionConfig struct {
	Provider string        `json:"provider" env:"CABILDO_TRANSCRIPTION"`
	Language string        `json:"language" env:"CABILDO_TRANSCRIPTION_LANG"`
	Timeout  time.Duration `json:"timeout" env:"CABILDO_TRANSCRIPTION_TIMEOUT"`
	OpenAI   OpenAIConfig  `json:"openai"`
}

// OpenAIConfig configures the OpenAI-compatible transcription endpoint.
type OpenAIConfig struct {
	APIKey  string `json:"api_key" env:"OPENAI_API_KEY"`
	BaseURL string `json:"base_url" env:"OPENAI_BASE_URL"`
	Model   string `json:"model" env:"CABILDO_OPENAI_MODEL"`
}

// SurveyConfig holds conversation timing and script variants.
type SurveyConfig struct {
	IdleTimeout   time.Duration `json:"idle_timeout" env:"CABILDO_IDLE_TIMEOUT"`
	DedupWindow   time.Duration `json:"dedup_window" env:"CABILDO_DEDUP_WINDOW"`
	LegacyConsent bool          `json:"legacy_consent" env:"CABILDO_LEGACY_CONSENT"`
	VentEnabled   bool          `json:"vent_enabled" env:"CABILDO_VENT_ENABLED"`
	ResetKeyword  string        `json:"reset_keyword" env:"CABILDO_RESET_KEYWORD"`
}

// WorkerConfig configures the background job worker.
type WorkerConfig struct {
	Concurrency  int           `json:"concurrency" env:"CABILDO_WORKER_CONCURRENCY"`
	MaxAttempts  int           `json:"max_attempts" env:"CABILDO_WORKER_MAX_ATTEMPTS"`
	PollInterval time.Duration `json:"poll_interval" env:"CABILDO_WORKER_POLL_INTERVAL"`
	RetryBackoff time.Duration `json:"retry_backoff" env:"CABILDO_WORKER_RETRY_BACKOFF"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultStore := filepath.Join(homeDir, ".cabildo-bot", "store")

	return &Config{
		LogLevel:    "INFO",
		StorePath:   defaultStore,
		Listen:      ":3000",
		DebugListen: "127.0.0.1:3001",
		Transport:   TransportCloudAPI,
		CloudAPI: CloudAPIConfig{
			VerifyToken:  "YA_TOCA_WHATSAPP_VERIFY",
			APIVersion:   "v21.0",
			GraphBaseURL: "https://graph.facebook.com",
			MarkRead:     true,
		},
		WhatsApp: WhatsAppConfig{
			DeviceName: "Cabildo Bot",
		},
		Storage: StorageConfig{
			Profiles: BackendSQLite,
			Queue:    BackendSQLite,
			Sessions: BackendMemory,
			Dedup:    BackendMemory,
		},
		Redis: RedisConfig{
			URL:       "redis://localhost:6379",
			QueueName: "ya-toca-bg",
		},
		WebApp: WebAppConfig{
			Timeout: 15 * time.Second,
		},
		Transcription: TranscriptionConfig{
			Provider: TranscribeWebApp,
			Language: "es",
			Timeout:  60 * time.Second,
			OpenAI: OpenAIConfig{
				Model: "whisper-1",
			},
		},
		Survey: SurveyConfig{
			IdleTimeout:  15 * time.Minute,
			DedupWindow:  5 * time.Minute,
			ResetKeyword: "zurücksetzen",
		},
		Worker: WorkerConfig{
			Concurrency:  2,
			MaxAttempts:  5,
			PollInterval: time.Second,
			RetryBackoff: 2 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a JSON file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if file doesn't exist
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds the configuration: defaults, then the optional JSON file,
// then environment variable overrides.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	if configPath != "" {
		var err error
		cfg, err = LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.Port > 0 {
		cfg.Listen = fmt.Sprintf(":%d", cfg.Port)
	}
	cfg.WebApp.BaseURL = strings.TrimRight(cfg.WebApp.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportCloudAPI, TransportWhatsmeow:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if err := oneOf("storage.profiles", c.Storage.Profiles, BackendMemory, BackendSQLite, BackendRedis, BackendFile); err != nil {
		return err
	}
	if err := oneOf("storage.queue", c.Storage.Queue, BackendMemory, BackendSQLite, BackendRedis); err != nil {
		return err
	}
	if err := oneOf("storage.sessions", c.Storage.Sessions, BackendMemory, BackendRedis); err != nil {
		return err
	}
	if err := oneOf("storage.dedup", c.Storage.Dedup, BackendMemory, BackendRedis); err != nil {
		return err
	}
	if err := oneOf("transcription.provider", c.Transcription.Provider, TranscribeNone, TranscribeWebApp, TranscribeOpenAI); err != nil {
		return err
	}
	if c.Survey.IdleTimeout <= 0 || c.Survey.DedupWindow <= 0 {
		return fmt.Errorf("survey timeouts must be positive")
	}
	return nil
}

// UsesRedis reports whether any backend needs the redis connection.
func (c *Config) UsesRedis() bool {
	s := c.Storage
	return s.Profiles == BackendRedis || s.Queue == BackendRedis ||
		s.Sessions == BackendRedis || s.Dedup == BackendRedis
}

// UsesSQLite reports whether the local database must be opened.
func (c *Config) UsesSQLite() bool {
	return c.Storage.Profiles == BackendSQLite || c.Storage.Queue == BackendSQLite ||
		c.Transport == TransportWhatsmeow
}

// EnsureStorePath creates the store directory if it doesn't exist.
func (c *Config) EnsureStorePath() error {
	return os.MkdirAll(c.StorePath, 0755)
}

func oneOf(field, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unknown value %q (want one of %s)", field, v, strings.Join(allowed, ", "))
}
