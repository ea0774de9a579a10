package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tulip/internal/catalog"
	"tulip/internal/config"
	"tulip/internal/models"
	"tulip/internal/repo"
)

type listCmdOptions struct {
	statuses []string
	prefix   string
	metaKV   []string
	backend  string
	since    string
	until    string
	limit    int
	offset   int
}

func newListCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	opts := &listCmdOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := buildListFilter(opts)
			if err != nil {
				return err
			}
			return withRepository(cmd.Context(), cfg, func(r *repo.Repository) error {
				objects, err := r.Catalog().Query(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(objects)
				}
				return writeObjectList(objects)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&opts.statuses, "status", "s", nil, "filter by status (repeatable)")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "filter by content address prefix")
	cmd.Flags().StringSliceVarP(&opts.metaKV, "meta", "m", nil, "filter by metadata key=value (repeatable)")
	cmd.Flags().StringVarP(&opts.backend, "backend", "b", "", "filter by backend id")
	cmd.Flags().StringVar(&opts.since, "since", "", "ingested after (RFC3339)")
	cmd.Flags().StringVar(&opts.until, "until", "", "ingested before (RFC3339)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum results")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "skip results")
	return cmd
}

func buildListFilter(opts *listCmdOptions) (catalog.Filter, error) {
	filter := catalog.Filter{
		AddressPrefix: opts.prefix,
		BackendID:     opts.backend,
		Limit:         opts.limit,
		Offset:        opts.offset,
	}

	for _, raw := range opts.statuses {
		status, err := models.ParseStatus(raw)
		if err != nil {
			return catalog.Filter{}, err
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	if len(opts.metaKV) > 0 {
		filter.MetadataEquals = map[string]string{}
		for _, pair := range opts.metaKV {
			key, value, ok := strings.Cut(pair, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return catalog.Filter{}, errors.New("metadata filter must be key=value")
			}
			filter.MetadataEquals[key] = value
		}
	}

	var err error
	if filter.IngestedAfter, err = parseTimeFlag("since", opts.since); err != nil {
		return catalog.Filter{}, err
	}
	if filter.IngestedBefore, err = parseTimeFlag("until", opts.until); err != nil {
		return catalog.Filter{}, err
	}
	return filter, nil
}

func parseTimeFlag(name, raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return &t, nil
}
