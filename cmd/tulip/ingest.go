package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tulip/internal/config"
	"tulip/internal/models"
	"tulip/internal/repo"
)

type ingestCmdOptions struct {
	backendID string
	metaKV    []string
	metaFile  string
}

func newIngestCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	opts := &ingestCmdOptions{}
	cmd := &cobra.Command{
		Use:   "ingest <file> [<file>...]",
		Short: "Ingest files into the repository",
		Long:  "Ingest streams each file into a backend and records it in the catalog. Pass '-' to read from stdin.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, cfg, opts, jsonOutput, args)
		},
	}

	cmd.Flags().StringVarP(&opts.backendID, "backend", "b", "", "target backend id")
	cmd.Flags().StringSliceVarP(&opts.metaKV, "meta", "m", nil, "metadata key=value (repeatable)")
	cmd.Flags().StringVar(&opts.metaFile, "meta-file", "", "YAML file with metadata")
	return cmd
}

func runIngest(cmd *cobra.Command, cfg *config.Config, opts *ingestCmdOptions, jsonOutput *bool, args []string) error {
	backendID, err := resolveBackendID(cfg, opts.backendID)
	if err != nil {
		return err
	}
	metadata, err := buildMetadata(opts.metaKV, opts.metaFile)
	if err != nil {
		return err
	}

	return withRepository(cmd.Context(), cfg, func(r *repo.Repository) error {
		ingested := make([]models.Object, 0, len(args))
		for _, arg := range args {
			object, err := ingestOne(cmd, r, backendID, arg, metadata)
			if err != nil {
				return fmt.Errorf("ingest %s: %w", arg, err)
			}
			ingested = append(ingested, *object)
		}

		if *jsonOutput {
			return writeJSON(ingested)
		}
		for _, object := range ingested {
			if err := writePlain("%s\n", object.ContentAddress); err != nil {
				return err
			}
		}
		return nil
	})
}

func ingestOne(cmd *cobra.Command, r *repo.Repository, backendID, source string, metadata map[string]any) (*models.Object, error) {
	if source == "-" {
		return r.Ingest(cmd.Context(), cmd.InOrStdin(), backendID, metadata)
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return r.Ingest(cmd.Context(), f, backendID, metadata)
}

// buildMetadata merges a YAML metadata file with key=value flags; flags win.
func buildMetadata(kvPairs []string, metaFile string) (map[string]any, error) {
	metadata := map[string]any{}

	if metaFile != "" {
		data, err := os.ReadFile(metaFile)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &metadata); err != nil {
			return nil, fmt.Errorf("parse %s: %w", metaFile, err)
		}
	}

	for _, pair := range kvPairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.New("metadata must be key=value")
		}
		metadata[key] = value
	}

	if len(metadata) == 0 {
		return nil, nil
	}
	return metadata, nil
}
