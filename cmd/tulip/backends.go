package main

import (
	"github.com/spf13/cobra"

	"tulip/internal/config"
)

func newBackendsCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List configured storage backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			if *jsonOutput {
				return writeJSON(cfg.Backends)
			}
			for _, id := range cfg.BackendIDs() {
				b := cfg.Backends[id]
				target := b.Root
				if b.Type == "s3" {
					target = b.Bucket
				}
				marker := " "
				if id == cfg.DefaultBackend {
					marker = "*"
				}
				if err := writePlain("%s %s (%s: %s)\n", marker, id, b.Type, target); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
