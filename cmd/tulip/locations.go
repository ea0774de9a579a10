package main

import (
	"github.com/spf13/cobra"

	"tulip/internal/config"
	"tulip/internal/digest"
	"tulip/internal/repo"
)

func newLocationsCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	locationsCmd := &cobra.Command{
		Use:   "locations",
		Short: "Inspect and repair object locations",
	}

	listCmd := &cobra.Command{
		Use:   "list <address>",
		Short: "List the backend locations of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := digest.Parse(args[0])
			if err != nil {
				return err
			}
			return withRepository(cmd.Context(), cfg, func(r *repo.Repository) error {
				locations, err := r.Catalog().ListLocations(cmd.Context(), address)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(locations)
				}
				for _, location := range locations {
					if err := writePlain("%s: %s (%s)\n", location.BackendID, location.BackendPath, location.Encoding); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	// Catalog-only repair: drops the record of a backend holding the bytes
	// without touching the backend itself.
	removeCmd := &cobra.Command{
		Use:   "remove <address> <backend-id>",
		Short: "Remove an object's location records for a backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := digest.Parse(args[0])
			if err != nil {
				return err
			}
			backendID := args[1]
			return withRepository(cmd.Context(), cfg, func(r *repo.Repository) error {
				locations, err := r.Catalog().ListLocations(cmd.Context(), address)
				if err != nil {
					return err
				}
				removed := 0
				for _, location := range locations {
					if location.BackendID != backendID {
						continue
					}
					if err := r.Catalog().RemoveLocation(cmd.Context(), address, location.BackendID, location.BackendPath); err != nil {
						return err
					}
					removed++
				}
				if *jsonOutput {
					return writeJSON(map[string]any{"address": address, "backend_id": backendID, "removed": removed})
				}
				return writePlain("removed %d location(s)\n", removed)
			})
		},
	}

	locationsCmd.AddCommand(listCmd, removeCmd)
	return locationsCmd
}
