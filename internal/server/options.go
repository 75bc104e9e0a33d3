package server

import (
	"time"

	"github.com/Tyrowin/nexus-social/internal/config"
)

// RateLimit is a token bucket: Burst events, refilled over RefillInterval.
type RateLimit struct {
	Burst          int
	RefillInterval time.Duration
}

// Options holds the transport settings of a Server.
type Options struct {
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimit
	HTTPRateLimit  RateLimit
	JWTSecret      string
	// StoreTimeout bounds Identity Store lookups made while handling an event.
	StoreTimeout time.Duration
}

// OptionsFromConfig maps the loaded configuration onto server options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		AllowedOrigins: append([]string(nil), cfg.Server.AllowedOrigins...),
		MaxMessageSize: int64(cfg.Server.MaxMessageSize),
		RateLimit: RateLimit{
			Burst:          cfg.Server.RateLimit.Burst,
			RefillInterval: cfg.Server.RateLimit.RefillInterval.Std(),
		},
		HTTPRateLimit: RateLimit{
			Burst:          cfg.Server.HTTPRateLimit.Burst,
			RefillInterval: cfg.Server.HTTPRateLimit.RefillInterval.Std(),
		},
		JWTSecret:    cfg.Auth.JWTSecret,
		StoreTimeout: cfg.Store.RequestTimeout.Std(),
	}
}

func sanitizeRateLimit(rl RateLimit, burst int) RateLimit {
	if rl.Burst <= 0 {
		rl.Burst = burst
	}
	if rl.RefillInterval <= 0 {
		rl.RefillInterval = time.Second
	}
	return rl
}

func sanitizeOptions(opts Options) Options {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	opts.RateLimit = sanitizeRateLimit(opts.RateLimit, 20)
	opts.HTTPRateLimit = sanitizeRateLimit(opts.HTTPRateLimit, 10)
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return opts
}
