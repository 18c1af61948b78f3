package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/pawpal/petnotify"
)

// newEngine creates an engine from the stored configuration.
func newEngine(cfg *Config, log zerolog.Logger, extra ...petnotify.Option) (*petnotify.Engine, error) {
	if cfg.Default.Server == "" {
		return nil, fmt.Errorf("no server configured. Run 'petnotify config set default.server <url>' first")
	}
	if cfg.Auth.Token == "" {
		return nil, fmt.Errorf("no auth token. Run 'petnotify init <token>' first")
	}

	opts := []petnotify.Option{petnotify.WithLogger(log)}
	if cfg.Default.Transport != "" {
		opts = append(opts, petnotify.WithTransport(cfg.Default.Transport))
	}
	if cfg.Default.MaxReconnectAttempts != 0 {
		opts = append(opts, petnotify.WithMaxReconnectAttempts(cfg.Default.MaxReconnectAttempts))
	}
	if cfg.Notifications.RateLimit > 0 {
		opts = append(opts, petnotify.WithNativeRateLimit(rate.Limit(cfg.Notifications.RateLimit), cfg.Notifications.Burst))
	}
	opts = append(opts, extra...)

	return petnotify.New(cfg.Default.Server, opts...), nil
}

// maskToken shows the first 6 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:6] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
