package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tulip/internal/config"
)

func newConfigCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and modify tulip configuration",
		Long: "Config reads and writes scalar settings in the tulip config files.\n" +
			"Backend definitions live in [backends.<id>] tables and are edited in\n" +
			"the TOML file directly; inspect them with: tulip backends",
	}

	cmd.AddCommand(newConfigGetCmd(cfg))
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigGetCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a config value",
		Long:  "Get prints the resolved value of one key.\n\nKeys: " + strings.Join(config.AllowedKeys(), ", "),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if !config.IsAllowedKey(key) {
				return fmt.Errorf("unknown key: %s (allowed: %v)", key, config.AllowedKeys())
			}
			value, err := cfg.Get(key)
			if err != nil {
				return err
			}
			return writePlain("%s\n", value)
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config value",
		Long: "Set writes one key into the project config file (or the global file\n" +
			"with --global). Nested keys use dots, e.g. verify.sample_rate.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			var path string
			var err error
			if global {
				path, err = config.GlobalPath()
			} else {
				path, err = config.ProjectPath()
			}
			if err != nil {
				return err
			}

			return config.SetKey(path, key, value)
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "write to global config (~/.tulip.toml)")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			globalPath, err := config.GlobalPath()
			if err != nil {
				return err
			}
			projectPath, err := config.ProjectPath()
			if err != nil {
				return err
			}
			if err := writePlain("global:  %s\n", globalPath); err != nil {
				return err
			}
			return writePlain("project: %s\n", projectPath)
		},
	}
}
