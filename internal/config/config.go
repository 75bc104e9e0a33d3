// Package config defines runtime defaults, file and environment loading, and
// validation for the Nexus social server.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RateLimitConfig defines the parameters for per-connection event rate limiting.
type RateLimitConfig struct {
	Burst          int      `yaml:"burst"`
	RefillInterval Duration `yaml:"refill_interval"`
}

// ServerConfig holds transport settings including security controls.
type ServerConfig struct {
	Port            string          `yaml:"port"`
	AllowedOrigins  []string        `yaml:"allowed_origins"`
	MaxMessageSize  ByteSize        `yaml:"max_message_size"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	HTTPRateLimit   RateLimitConfig `yaml:"http_rate_limit"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"`
}

// AuthConfig holds the secret used to verify actor tokens. An empty secret
// switches the server into development mode where the X-User-ID header is trusted.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// StoreConfig describes how the Identity Store is reached.
type StoreConfig struct {
	Kind           string   `yaml:"kind"` // memory | http
	BaseURL        string   `yaml:"base_url"`
	AuthToken      string   `yaml:"auth_token"`
	UsersFolder    string   `yaml:"users_folder"`
	RequestTimeout Duration `yaml:"request_timeout"`
	MaxRetries     int      `yaml:"max_retries"`
}

// MessagesConfig selects the conversation log and the text codec.
type MessagesConfig struct {
	LogKind        string   `yaml:"log_kind"` // memory | pebble | document
	PebblePath     string   `yaml:"pebble_path"`
	Codec          string   `yaml:"codec"` // plain | sealed
	CodecSecret    string   `yaml:"codec_secret"`
	PersistTimeout Duration `yaml:"persist_timeout"`
}

// ChatConfig controls group fan-out. "subscribers" delivers to channels that
// joined the group room; "members" delivers to every participant's user room.
type ChatConfig struct {
	GroupFanout string `yaml:"group_fanout"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Store    StoreConfig    `yaml:"store"`
	Messages MessagesConfig `yaml:"messages"`
	Chat     ChatConfig     `yaml:"chat"`
	Log      LogConfig      `yaml:"log"`
}

const (
	StoreMemory = "memory"
	StoreHTTP   = "http"

	LogMemory   = "memory"
	LogPebble   = "pebble"
	LogDocument = "document"

	CodecPlain  = "plain"
	CodecSealed = "sealed"

	FanoutSubscribers = "subscribers"
	FanoutMembers     = "members"
)

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port: ":8080",
			AllowedOrigins: []string{
				"http://localhost:8080",
			},
			MaxMessageSize: 64 * 1024,
			RateLimit: RateLimitConfig{
				Burst:          20,
				RefillInterval: Duration(time.Second),
			},
			HTTPRateLimit: RateLimitConfig{
				Burst:          10,
				RefillInterval: Duration(time.Second),
			},
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Store: StoreConfig{
			Kind:           StoreMemory,
			UsersFolder:    "others",
			RequestTimeout: Duration(5 * time.Second),
			MaxRetries:     3,
		},
		Messages: MessagesConfig{
			LogKind:        LogMemory,
			PebblePath:     "data/messages",
			Codec:          CodecPlain,
			PersistTimeout: Duration(5 * time.Second),
		},
		Chat: ChatConfig{
			GroupFanout: FanoutSubscribers,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional .env file and finally the process environment. A missing .env is
// not an error; a missing YAML file named explicitly is.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	_ = godotenv.Load(".env")
	applyEnv(&cfg)

	sanitized := Sanitize(cfg)
	if err := sanitized.Validate(); err != nil {
		return nil, err
	}
	return &sanitized, nil
}

// NewConfigFromEnv creates a Config from environment variables only.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	applyEnv(&cfg)
	sanitized := Sanitize(cfg)
	return &sanitized
}

// Sanitize replaces zero or invalid values with defaults.
func Sanitize(cfg Config) Config {
	def := defaultConfig()

	if cfg.Server.Port == "" {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.MaxMessageSize <= 0 {
		cfg.Server.MaxMessageSize = def.Server.MaxMessageSize
	}
	cfg.Server.RateLimit = sanitizeRateLimit(cfg.Server.RateLimit, def.Server.RateLimit)
	cfg.Server.HTTPRateLimit = sanitizeRateLimit(cfg.Server.HTTPRateLimit, def.Server.HTTPRateLimit)
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	cfg.Server.AllowedOrigins = append([]string(nil), cfg.Server.AllowedOrigins...)

	cfg.Store.Kind = strings.ToLower(strings.TrimSpace(cfg.Store.Kind))
	if cfg.Store.Kind == "" {
		cfg.Store.Kind = def.Store.Kind
	}
	if cfg.Store.UsersFolder == "" {
		cfg.Store.UsersFolder = def.Store.UsersFolder
	}
	if cfg.Store.RequestTimeout <= 0 {
		cfg.Store.RequestTimeout = def.Store.RequestTimeout
	}
	if cfg.Store.MaxRetries < 0 {
		cfg.Store.MaxRetries = def.Store.MaxRetries
	}

	cfg.Messages.LogKind = strings.ToLower(strings.TrimSpace(cfg.Messages.LogKind))
	if cfg.Messages.LogKind == "" {
		cfg.Messages.LogKind = def.Messages.LogKind
	}
	if cfg.Messages.PebblePath == "" {
		cfg.Messages.PebblePath = def.Messages.PebblePath
	}
	cfg.Messages.Codec = strings.ToLower(strings.TrimSpace(cfg.Messages.Codec))
	if cfg.Messages.Codec == "" {
		cfg.Messages.Codec = def.Messages.Codec
	}
	if cfg.Messages.PersistTimeout <= 0 {
		cfg.Messages.PersistTimeout = def.Messages.PersistTimeout
	}

	cfg.Chat.GroupFanout = strings.ToLower(strings.TrimSpace(cfg.Chat.GroupFanout))
	if cfg.Chat.GroupFanout == "" {
		cfg.Chat.GroupFanout = def.Chat.GroupFanout
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	return cfg
}

func sanitizeRateLimit(rl, def RateLimitConfig) RateLimitConfig {
	if rl.Burst <= 0 {
		rl.Burst = def.Burst
	}
	if rl.RefillInterval <= 0 {
		rl.RefillInterval = def.RefillInterval
	}
	return rl
}

// Validate reports combinations that cannot run.
func (c Config) Validate() error {
	switch c.Store.Kind {
	case StoreMemory:
	case StoreHTTP:
		if c.Store.BaseURL == "" {
			return fmt.Errorf("store.base_url is required for the http identity store")
		}
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}

	switch c.Messages.LogKind {
	case LogMemory, LogPebble:
	case LogDocument:
		if c.Store.Kind != StoreHTTP {
			return fmt.Errorf("messages.log_kind=document requires store.kind=http")
		}
	default:
		return fmt.Errorf("unknown message log kind %q", c.Messages.LogKind)
	}

	switch c.Messages.Codec {
	case CodecPlain:
	case CodecSealed:
		if c.Messages.CodecSecret == "" {
			return fmt.Errorf("messages.codec_secret is required for the sealed codec")
		}
	default:
		return fmt.Errorf("unknown message codec %q", c.Messages.Codec)
	}

	switch c.Chat.GroupFanout {
	case FanoutSubscribers, FanoutMembers:
	default:
		return fmt.Errorf("unknown group fanout mode %q", c.Chat.GroupFanout)
	}
	return nil
}
