package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"tulip/internal/config"
	"tulip/internal/digest"
	"tulip/internal/repo"
)

func newGetCmd(cfg *config.Config) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "get <address>",
		Short: "Retrieve an object's bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := digest.Parse(args[0])
			if err != nil {
				return err
			}

			return withRepository(cmd.Context(), cfg, func(r *repo.Repository) error {
				rc, err := r.Get(cmd.Context(), address)
				if err != nil {
					return err
				}
				defer rc.Close()

				dst := cmd.OutOrStdout()
				if outputPath != "" {
					f, err := os.Create(outputPath)
					if err != nil {
						return err
					}
					defer f.Close()
					dst = f
				}
				_, err = io.Copy(dst, rc)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write bytes to file instead of stdout")
	return cmd
}
