package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const settingsReloadDebounce = 200 * time.Millisecond

// fileSettings serves the [notifications] section of the config file to the
// engine and follows edits to it.
type fileSettings struct {
	mu       sync.RWMutex
	native   bool
	muted    map[string]struct{}
	onEnable func()
}

func newFileSettings(n ConfigNotifications) *fileSettings {
	s := &fileSettings{}
	s.apply(n)
	return s
}

// NativeNotificationsEnabled reports whether category may raise a native
// notification.
func (s *fileSettings) NativeNotificationsEnabled(category string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.native {
		return false
	}
	_, muted := s.muted[strings.ToUpper(category)]
	return !muted
}

// OnNativeEnabled registers fn to run whenever a reload turns native
// notifications on.
func (s *fileSettings) OnNativeEnabled(fn func()) {
	s.mu.Lock()
	s.onEnable = fn
	s.mu.Unlock()
}

func (s *fileSettings) apply(n ConfigNotifications) {
	muted := make(map[string]struct{}, len(n.Muted))
	for _, c := range n.Muted {
		muted[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	s.mu.Lock()
	enabled := n.Native && !s.native
	s.native = n.Native
	s.muted = muted
	hook := s.onEnable
	s.mu.Unlock()

	if enabled && hook != nil {
		hook()
	}
}

// watchSettings reloads path into s whenever the file changes, until ctx is
// done. The directory is watched so editors that replace the file are seen.
func watchSettings(ctx context.Context, path string, s *fileSettings, log zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	log = log.With().Str("component", "settings").Str("path", path).Logger()

	reload := func() {
		cfg, err := loadConfigFrom(path)
		if err != nil {
			log.Warn().Err(err).Msg("settings reload failed, keeping previous values")
			return
		}
		s.apply(cfg.Notifications)
		log.Info().
			Bool("native", cfg.Notifications.Native).
			Strs("muted", cfg.Notifications.Muted).
			Msg("notification settings reloaded")
	}

	// debounce to avoid reading partial writes
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			log.Debug().Str("op", ev.Op.String()).Msg("settings change detected")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(settingsReloadDebounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("settings watcher error")
		}
	}
}
