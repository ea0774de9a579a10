package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tulip/internal/config"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var jsonOutput bool
	var logLevel string

	cmd := &cobra.Command{
		Use:   "tulip",
		Short: "Tulip is a content-addressed object repository with a consistency catalog",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			warning, err := configureLoggerForCLI(logLevel, cfg.LogLevel)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newIngestCmd(cfg, &jsonOutput),
		newGetCmd(cfg),
		newShowCmd(cfg, &jsonOutput),
		newListCmd(cfg, &jsonOutput),
		newDeleteCmd(cfg, &jsonOutput),
		newLocationsCmd(cfg, &jsonOutput),
		newVerifyCmd(cfg, &jsonOutput),
		newBackendsCmd(cfg, &jsonOutput),
		newConfigCmd(cfg),
	)

	return cmd
}
