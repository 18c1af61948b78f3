package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initServer string

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initServer, "server", "", "notification server address (e.g. https://api.pawpal.example)")
}

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store the auth token in ~/.petnotify/config.toml",
	Long:  "Initialize petnotify by storing your auth token (and optionally the server address) in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = args[0]
		if initServer != "" {
			cfg.Default.Server = initServer
		}
		if cfg.Default.Transport == "" {
			cfg.Default.Transport = "websocket"
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", path)
		if cfg.Default.Server == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "Set the server with 'petnotify config set default.server <url>'.")
		}
		return nil
	},
}
