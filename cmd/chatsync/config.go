package main

import (
	"fmt"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

func init() {
	configCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration (file plus environment), token masked",
			Args:  cobra.NoArgs,
			RunE:  runConfigShow,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the configuration file location",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := configPath()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			},
		},
		&cobra.Command{
			Use:     "set <section.field> <value>",
			Short:   "Set a configuration value",
			Example: "  chatsync config set sync.reconnect_delay 2s\n  chatsync config set default.ws_url wss://chat.example.com/ws",
			Args:    cobra.ExactArgs(2),
			RunE:    runConfigSet,
		},
	)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change ~/.chatsync/config.toml",
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	shown := *cfg
	if shown.Default.Token != "" {
		shown.Default.Token = maskKey(shown.Default.Token)
	}
	data, err := toml.Marshal(shown)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// runConfigSet edits the file only; environment overrides are not persisted.
func runConfigSet(cmd *cobra.Command, args []string) error {
	cfg, err := readConfigFile()
	if err != nil {
		return err
	}

	key, value := args[0], args[1]
	if err := setConfigValue(cfg, key, value); err != nil {
		return err
	}
	if err := saveConfig(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	if key == "default.token" {
		value = maskKey(value)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, value)
	return nil
}
