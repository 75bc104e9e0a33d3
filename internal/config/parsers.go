package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Duration accepts Go duration syntax ("1500ms") or whole seconds ("5").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, ok := parseDuration(node.Value)
	if !ok {
		return fmt.Errorf("invalid duration %q", node.Value)
	}
	*d = Duration(parsed)
	return nil
}

// ByteSize accepts plain byte counts or human sizes such as "64KB".
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	parsed, ok := parseByteSize(node.Value)
	if !ok {
		return fmt.Errorf("invalid size %q", node.Value)
	}
	*b = ByteSize(parsed)
	return nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		if size, ok := parseByteSize(maxSize); ok {
			cfg.Server.MaxMessageSize = ByteSize(size)
		}
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.Server.RateLimit.Burst = parseIntValue(burst, cfg.Server.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.Server.RateLimit.RefillInterval = parseDurationValue(interval, cfg.Server.RateLimit.RefillInterval)
	}
	if burst := os.Getenv("HTTP_RATE_LIMIT_BURST"); burst != "" {
		cfg.Server.HTTPRateLimit.Burst = parseIntValue(burst, cfg.Server.HTTPRateLimit.Burst)
	}
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.Server.ShutdownTimeout = parseDurationValue(timeout, cfg.Server.ShutdownTimeout)
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	if kind := os.Getenv("IDENTITY_STORE"); kind != "" {
		cfg.Store.Kind = kind
	}
	if base := os.Getenv("CDN_BASE_URL"); base != "" {
		cfg.Store.BaseURL = base
	}
	if token := os.Getenv("CDN_AUTH_TOKEN"); token != "" {
		cfg.Store.AuthToken = token
	}
	if folder := os.Getenv("CDN_USERS_FOLDER"); folder != "" {
		cfg.Store.UsersFolder = folder
	}
	if timeout := os.Getenv("STORE_REQUEST_TIMEOUT"); timeout != "" {
		cfg.Store.RequestTimeout = parseDurationValue(timeout, cfg.Store.RequestTimeout)
	}
	if retries := os.Getenv("STORE_MAX_RETRIES"); retries != "" {
		cfg.Store.MaxRetries = parseIntValue(retries, cfg.Store.MaxRetries)
	}

	if kind := os.Getenv("MESSAGE_LOG"); kind != "" {
		cfg.Messages.LogKind = kind
	}
	if path := os.Getenv("MESSAGE_LOG_PATH"); path != "" {
		cfg.Messages.PebblePath = path
	}
	if codec := os.Getenv("MESSAGE_CODEC"); codec != "" {
		cfg.Messages.Codec = codec
	}
	if secret := os.Getenv("MESSAGE_CODEC_SECRET"); secret != "" {
		cfg.Messages.CodecSecret = secret
	}
	if timeout := os.Getenv("MESSAGE_PERSIST_TIMEOUT"); timeout != "" {
		cfg.Messages.PersistTimeout = parseDurationValue(timeout, cfg.Messages.PersistTimeout)
	}

	if mode := os.Getenv("GROUP_FANOUT"); mode != "" {
		cfg.Chat.GroupFanout = mode
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseDurationValue(value string, defaultValue Duration) Duration {
	if parsed, ok := parseDuration(value); ok && parsed > 0 {
		return Duration(parsed)
	}
	return defaultValue
}

func parseDuration(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, true
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d, true
	}
	return 0, false
}

func parseByteSize(value string) (int64, bool) {
	value = strings.TrimSpace(value)
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n, n > 0
	}
	n, err := humanize.ParseBytes(value)
	if err != nil || n == 0 {
		return 0, false
	}
	return int64(n), true
}
