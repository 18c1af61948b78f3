package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pawpal/petnotify"
)

var (
	listenJSON        bool
	listenMetricsAddr string
)

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().BoolVar(&listenJSON, "json", false, "print notifications as JSON lines")
	listenCmd.Flags().StringVar(&listenMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9102)")
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stream notifications until interrupted",
	Long: "Connect to the notification server and print notifications as they arrive.\n" +
		"Native notifications follow the [notifications] config section, which is reloaded on change;\n" +
		"turning notifications.native on while listening requests permission right away.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		path, err := configPath()
		if err != nil {
			return err
		}
		log := newLogger()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		settings := newFileSettings(cfg.Notifications)
		engine, err := newEngine(cfg, log,
			petnotify.WithPlatform(petnotify.NewWriterPlatform(cmd.ErrOrStderr())),
			petnotify.WithSettings(settings),
		)
		if err != nil {
			return err
		}
		defer engine.Destroy()

		printer := &notificationPrinter{w: cmd.OutOrStdout(), json: listenJSON}
		engine.OnNotification(printer.print)
		engine.OnNotificationClick(func(n petnotify.NotificationEvent) {
			log.Info().Str("id", string(n.ID)).Msg("notification clicked")
		})
		engine.OnReconnecting(func(ev petnotify.ReconnectingEvent) {
			log.Warn().Int("attempt", ev.Attempt).Dur("delay", ev.Delay).Msg("connection lost, retrying")
		})
		engine.OnUnreadCount(func(n int) {
			log.Debug().Int("unread", n).Msg("unread count changed")
		})

		exhausted := make(chan petnotify.ExhaustedEvent, 1)
		engine.OnExhausted(func(ev petnotify.ExhaustedEvent) {
			select {
			case exhausted <- ev:
			default:
			}
		})

		requestPermission := func() {
			perm := engine.RequestNotificationPermission(ctx)
			log.Info().Str("permission", string(perm)).Msg("native notifications")
		}
		settings.OnNativeEnabled(requestPermission)
		if cfg.Notifications.Native {
			requestPermission()
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return watchSettings(ctx, path, settings, log)
		})
		if listenMetricsAddr != "" {
			g.Go(func() error {
				return serveMetrics(ctx, listenMetricsAddr, log)
			})
		}
		g.Go(func() error {
			engine.Connect(cfg.Auth.Token)
			select {
			case <-ctx.Done():
				engine.Disconnect()
				return nil
			case ev := <-exhausted:
				return fmt.Errorf("giving up on notification server: %s after %d attempts", ev.Reason, ev.Attempts)
			}
		})
		return g.Wait()
	},
}

type notificationPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

func (p *notificationPrinter) print(n petnotify.NotificationEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		data, err := json.Marshal(n)
		if err != nil {
			return
		}
		fmt.Fprintln(p.w, string(data))
		return
	}
	ts := n.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(p.w, "[%s] %-18s %s", ts.Local().Format("15:04:05"), valueOrDefault(n.Category, "-"), n.Title)
	if n.Body != "" {
		fmt.Fprintf(p.w, ": %s", n.Body)
	}
	fmt.Fprintln(p.w)
}

// serveMetrics exposes the Prometheus registry until ctx is done.
func serveMetrics(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
