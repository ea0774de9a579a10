package main

import (
	"github.com/spf13/cobra"

	"tulip/internal/config"
	"tulip/internal/digest"
	"tulip/internal/repo"
)

func newDeleteCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <address>",
		Short: "Delete an object from every backend and the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := digest.Parse(args[0])
			if err != nil {
				return err
			}
			return withRepository(cmd.Context(), cfg, func(r *repo.Repository) error {
				if err := r.Delete(cmd.Context(), address); err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(map[string]any{"deleted": address})
				}
				return writePlain("deleted %s\n", address)
			})
		},
	}
}
