package main

import (
	"github.com/spf13/cobra"

	"tulip/internal/config"
	"tulip/internal/digest"
	"tulip/internal/models"
	"tulip/internal/repo"
)

func newShowCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "show <address> [<address>...]",
		Short: "Show object details",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(cmd.Context(), cfg, func(r *repo.Repository) error {
				objects := make([]models.Object, 0, len(args))
				for _, arg := range args {
					address, err := digest.Parse(arg)
					if err != nil {
						return err
					}
					object, err := r.Catalog().GetObject(cmd.Context(), address)
					if err != nil {
						return err
					}
					objects = append(objects, *object)
				}

				if *jsonOutput {
					if len(objects) == 1 {
						return writeJSON(objects[0])
					}
					return writeJSON(objects)
				}
				if len(objects) == 1 {
					return writeObjectDetail(&objects[0])
				}
				return writeObjectList(objects)
			})
		},
	}
}
