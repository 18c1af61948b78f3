package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.petnotify/config.toml.
type Config struct {
	Default       ConfigDefault       `toml:"default"`
	Auth          ConfigAuth          `toml:"auth"`
	Notifications ConfigNotifications `toml:"notifications"`
}

// ConfigDefault holds connection settings.
type ConfigDefault struct {
	Server               string `toml:"server"`
	Transport            string `toml:"transport"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
}

// ConfigAuth holds the notification service credentials.
type ConfigAuth struct {
	Token        string `toml:"token"`
	TokenExpires string `toml:"token_expires"`
}

// ConfigNotifications holds native notification preferences. This section
// is reloaded while `petnotify listen` runs.
type ConfigNotifications struct {
	Native    bool     `toml:"native"`
	Muted     []string `toml:"muted"`
	RateLimit float64  `toml:"rate_limit"`
	Burst     int      `toml:"burst"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.petnotify, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".petnotify")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return loadConfigFrom(path)
}

func loadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.server").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.server)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "server":
			cfg.Default.Server = value
		case "transport":
			v := strings.ToLower(value)
			if v != "websocket" && v != "sse" {
				return fmt.Errorf("transport must be websocket or sse, got %q", value)
			}
			cfg.Default.Transport = v
		case "max_reconnect_attempts":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("max_reconnect_attempts: %w", err)
			}
			cfg.Default.MaxReconnectAttempts = n
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "token_expires":
			cfg.Auth.TokenExpires = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	case "notifications":
		switch field {
		case "native":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("native: %w", err)
			}
			cfg.Notifications.Native = b
		case "muted":
			cfg.Notifications.Muted = splitList(value)
		case "rate_limit":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("rate_limit: %w", err)
			}
			cfg.Notifications.RateLimit = f
		case "burst":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("burst: %w", err)
			}
			cfg.Notifications.Burst = n
		default:
			return fmt.Errorf("unknown field %q in section [notifications]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth, notifications)", section)
	}
	return nil
}

// splitList parses a comma-separated value, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ============================================================================
// config command
// ============================================================================

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage petnotify configuration",
	Long:  "View or modify the petnotify configuration stored in ~/.petnotify/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "No configuration file found. Run 'petnotify init <token>' to create one.")
				return nil
			}
			return fmt.Errorf("cannot read config file: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value using dot notation.\n" +
		"Example: petnotify config set notifications.muted MARKETING,SYSTEM",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		display := value
		if key == "auth.token" {
			display = maskToken(value)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, display)
		return nil
	},
}
