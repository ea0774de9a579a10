package main

import (
	"os"

	"github.com/spf13/cobra"

	"tulip/internal/config"
	"tulip/internal/digest"
	"tulip/internal/format"
	"tulip/internal/repo"
	"tulip/internal/verify"
)

type verifyCmdOptions struct {
	sampleRate   float64
	batchSize    int
	outputFormat string
}

func newVerifyCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	opts := &verifyCmdOptions{}
	cmd := &cobra.Command{
		Use:   "verify [<address>]",
		Short: "Reconcile the catalog against backend state",
		Long: "Verify checks that every catalogued location still holds its bytes and " +
			"re-hashes a sample of them. With an address it verifies that single object.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("sample") {
				opts.sampleRate = cfg.Verify.SampleRate
			}
			if !cmd.Flags().Changed("batch") {
				opts.batchSize = cfg.Verify.BatchSize
			}
			return runVerify(cmd, cfg, opts, jsonOutput, args)
		},
	}

	cmd.Flags().Float64Var(&opts.sampleRate, "sample", 0, "fraction of locations to re-hash (0..1)")
	cmd.Flags().IntVar(&opts.batchSize, "batch", 0, "location records per catalog scan page")
	cmd.Flags().StringVar(&opts.outputFormat, "format", "", "report format (json or yaml)")
	return cmd
}

func runVerify(cmd *cobra.Command, cfg *config.Config, opts *verifyCmdOptions, jsonOutput *bool, args []string) error {
	return withRepository(cmd.Context(), cfg, func(r *repo.Repository) error {
		v, err := verify.New(r.Catalog(), r.Backends(), verify.Options{
			SampleRate: opts.sampleRate,
			BatchSize:  opts.batchSize,
		})
		if err != nil {
			return err
		}

		if len(args) == 1 {
			address, err := digest.Parse(args[0])
			if err != nil {
				return err
			}
			status, err := v.RunObject(cmd.Context(), address)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return writeJSON(map[string]any{"address": address, "status": status})
			}
			return writePlain("%s: %s\n", address, status)
		}

		report, err := v.Run(cmd.Context())
		if err != nil {
			return err
		}
		return writeVerifyReport(report, opts.outputFormat, *jsonOutput)
	})
}

func writeVerifyReport(report *verify.Report, outputFormat string, jsonOutput bool) error {
	if jsonOutput && outputFormat == "" {
		outputFormat = "json"
	}
	if outputFormat != "" {
		formatter, err := format.ForName(outputFormat)
		if err != nil {
			return err
		}
		return formatter.Write(os.Stdout, report)
	}

	if err := writePlain("checked: %d\nsampled: %d\nmissing: %d\ncorrupt: %d\norphaned: %d\n",
		report.CheckedLocations, report.SampledDigests, report.MissingLocations, report.CorruptLocations, report.OrphanedPaths); err != nil {
		return err
	}
	for address, status := range report.Statuses {
		if err := writePlain("%s: %s\n", address, status); err != nil {
			return err
		}
	}
	for backendID, paths := range report.Orphans {
		for _, path := range paths {
			if err := writePlain("orphan %s: %s\n", backendID, path); err != nil {
				return err
			}
		}
	}
	return nil
}
