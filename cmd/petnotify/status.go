package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pawpal/petnotify"
)

var (
	statusProbe   bool
	statusTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusProbe, "probe", true, "try a live connection to the notification server")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 10*time.Second, "how long the probe may take")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and connection status",
	Long:  "Display the current configuration, check whether the token is expired, and probe the notification server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Server:      %s\n", valueOrDefault(cfg.Default.Server, "(not set)"))
		fmt.Fprintf(out, "  Transport:   %s\n", valueOrDefault(cfg.Default.Transport, petnotify.TransportWebSocket))
		fmt.Fprintf(out, "  Native:      %t\n", cfg.Notifications.Native)
		if len(cfg.Notifications.Muted) > 0 {
			fmt.Fprintf(out, "  Muted:       %v\n", cfg.Notifications.Muted)
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Auth:")
		fmt.Fprintf(out, "  Token:       %s\n", tokenStatus(cfg.Auth, time.Now()))

		if !statusProbe || cfg.Default.Server == "" || cfg.Auth.Token == "" {
			return nil
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Live status:")
		engine, err := newEngine(cfg, newLogger(), petnotify.WithMaxReconnectAttempts(1))
		if err != nil {
			return err
		}
		defer engine.Destroy()

		ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
		defer cancel()
		fmt.Fprintf(out, "  Connection:  %s\n", probe(ctx, engine, cfg.Auth.Token))
		return nil
	},
}

// probe connects once and reports the first decisive outcome.
func probe(ctx context.Context, engine *petnotify.Engine, token string) string {
	result := make(chan string, 1)
	report := func(s string) {
		select {
		case result <- s:
		default:
		}
	}
	engine.OnConnected(func(ok bool) {
		if ok {
			report("connected")
		}
	})
	engine.OnExhausted(func(ev petnotify.ExhaustedEvent) {
		if ev.Reason == petnotify.ReasonUnauthorized {
			report("token rejected by server")
			return
		}
		report(fmt.Sprintf("unreachable after %d attempts", ev.Attempts))
	})

	engine.Connect(token)
	select {
	case s := <-result:
		return s
	case <-ctx.Done():
		return fmt.Sprintf("no answer (state %s)", engine.ConnectionState())
	}
}

func tokenStatus(auth ConfigAuth, now time.Time) string {
	if auth.Token == "" {
		return "none"
	}
	masked := maskToken(auth.Token)
	if auth.TokenExpires == "" {
		return masked + " (no expiry set)"
	}
	expires, err := time.Parse(time.RFC3339, auth.TokenExpires)
	if err != nil {
		return fmt.Sprintf("%s (unparseable expiry: %s)", masked, auth.TokenExpires)
	}
	if now.Before(expires) {
		return fmt.Sprintf("%s valid (expires %s)", masked, expires.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s EXPIRED (expired %s)", masked, expires.Format(time.RFC3339))
}
