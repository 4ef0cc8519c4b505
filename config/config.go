package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the meeting pipeline services
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	STT       STTConfig       `mapstructure:"stt"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Listen    string `mapstructure:"listen"`
	LogLevel  string `mapstructure:"log_level"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Env       string `mapstructure:"env"`
	// PublicURL prefixes share links, e.g. https://meetingmind.example.
	PublicURL string `mapstructure:"public_url"`
}

// STTConfig contains the speech-to-text provider settings
type STTConfig struct {
	Provider         string        `mapstructure:"provider"` // deepgram
	APIKey           string        `mapstructure:"api_key"`
	URL              string        `mapstructure:"url"`
	Model            string        `mapstructure:"model"`
	Language         string        `mapstructure:"language"`
	Encoding         string        `mapstructure:"encoding"`
	SampleRate       int           `mapstructure:"sample_rate"`
	MaxReconnects    int           `mapstructure:"max_reconnects"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	KeepAlive        time.Duration `mapstructure:"keep_alive"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// Normalize applies defaults for unset values.
func (s STTConfig) Normalize() STTConfig {
	if strings.TrimSpace(s.Provider) == "" {
		s.Provider = "deepgram"
	}
	if strings.TrimSpace(s.URL) == "" {
		s.URL = "wss://api.deepgram.com/v1/listen"
	}
	if strings.TrimSpace(s.Model) == "" {
		s.Model = "nova-2"
	}
	if strings.TrimSpace(s.Language) == "" {
		s.Language = "en-US"
	}
	if s.MaxReconnects < 0 {
		s.MaxReconnects = 0
	}
	if s.ReconnectBackoff <= 0 {
		s.ReconnectBackoff = 500 * time.Millisecond
	}
	if s.KeepAlive <= 0 {
		s.KeepAlive = 5 * time.Second
	}
	if s.HandshakeTimeout <= 0 {
		s.HandshakeTimeout = 10 * time.Second
	}
	return s
}

func (s STTConfig) Validate() error {
	if s.Provider != "deepgram" {
		return fmt.Errorf("stt.provider %q not supported", s.Provider)
	}
	if strings.TrimSpace(s.APIKey) == "" {
		return fmt.Errorf("stt.api_key required")
	}
	return nil
}

// LLMConfig contains the language model provider settings
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Normalize applies defaults for unset values.
func (l LLMConfig) Normalize() LLMConfig {
	if strings.TrimSpace(l.Provider) == "" {
		l.Provider = "openai"
	}
	if strings.TrimSpace(l.Model) == "" {
		l.Model = "gpt-4o"
	}
	if l.MaxRetries <= 0 {
		l.MaxRetries = 2
	}
	if l.Timeout <= 0 {
		l.Timeout = 60 * time.Second
	}
	return l
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.APIKey) == "" {
		return fmt.Errorf("llm.api_key required")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0,2]")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds the connection string, preferring the explicit url.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// QueueConfig contains post-processing job queue settings
type QueueConfig struct {
	Stream   string        `mapstructure:"stream"`
	Group    string        `mapstructure:"group"`
	Consumer string        `mapstructure:"consumer"`
	MaxLen   int64         `mapstructure:"max_len"`
	Block    time.Duration `mapstructure:"block"`
	MinIdle  time.Duration `mapstructure:"min_idle"`
}

// Normalize applies defaults for unset values.
func (q QueueConfig) Normalize() QueueConfig {
	if strings.TrimSpace(q.Stream) == "" {
		q.Stream = "post-processing"
	}
	if strings.TrimSpace(q.Group) == "" {
		q.Group = "meetingmind-worker"
	}
	if strings.TrimSpace(q.Consumer) == "" {
		host, _ := os.Hostname()
		q.Consumer = "worker-" + host
	}
	if q.MaxLen <= 0 {
		q.MaxLen = 10000
	}
	if q.Block <= 0 {
		q.Block = 5 * time.Second
	}
	if q.MinIdle <= 0 {
		q.MinIdle = time.Minute
	}
	return q
}

// envKeys are commonly injected through the environment and have no file default.
var envKeys = []string{
	"general.jwt_secret",
	"general.env",
	"stt.api_key",
	"llm.api_key",
	"llm.base_url",
	"storage.postgres.url",
	"storage.postgres.password",
	"storage.redis.host",
	"storage.redis.port",
	"storage.redis.password",
}

// LoadConfig loads config from file and environment (MEETINGMIND_*)
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.SetDefault("general.listen", ":10001")
	v.SetDefault("general.log_level", "info")
	v.SetDefault("pipeline.insight_batch_size", 5)
	v.SetDefault("pipeline.summary_char_budget", 15000)
	v.SetDefault("stt.provider", "deepgram")
	v.SetDefault("stt.max_reconnects", 3)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("telemetry.enabled", false)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("MEETINGMIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Pipeline = cfg.Pipeline.Normalize()
	cfg.STT = cfg.STT.Normalize()
	cfg.LLM = cfg.LLM.Normalize()
	cfg.Queue = cfg.Queue.Normalize()

	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
