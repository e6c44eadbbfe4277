package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odkit/odkit/pkg/dataset/csv"
	"github.com/odkit/odkit/pkg/detectors/iforest"
)

func newTrainCmd() *cobra.Command {
	var (
		input         string
		output        string
		noHeader      bool
		trees         int
		maxSamples    int
		contamination float64
		bootstrap     bool
		workers       int
		seed          int64
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit an isolation forest on a CSV dataset and save the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			reader, err := csv.Open(input, csv.WithHeader(!noHeader))
			if err != nil {
				return err
			}
			defer reader.Close()

			data, err := reader.Read()
			if err != nil {
				return err
			}
			if skipped := reader.Skipped(); skipped > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %d malformed rows\n", skipped)
			}

			detector := iforest.New(
				iforest.WithTrees(trees),
				iforest.WithMaxSamples(maxSamples),
				iforest.WithContamination(contamination),
				iforest.WithBootstrap(bootstrap),
				iforest.WithWorkers(workers),
				iforest.WithSeed(seed),
				iforest.WithLogger(logger),
			)
			if err := detector.Fit(data); err != nil {
				return err
			}

			model, err := detector.Save()
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, model, 0o644); err != nil {
				return fmt.Errorf("write model: %w", err)
			}

			threshold, err := detector.Threshold()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trained on %d samples, threshold %.4f, model written to %s\n",
				len(data), threshold, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "training data CSV (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "model.gob", "model output path")
	cmd.Flags().BoolVar(&noHeader, "no-header", false, "input CSV has no header row")
	cmd.Flags().IntVar(&trees, "trees", 100, "number of isolation trees")
	cmd.Flags().IntVar(&maxSamples, "max-samples", 256, "rows drawn per tree")
	cmd.Flags().Float64Var(&contamination, "contamination", 0.1, "expected outlier proportion")
	cmd.Flags().BoolVar(&bootstrap, "bootstrap", false, "draw per-tree rows with replacement")
	cmd.Flags().IntVar(&workers, "workers", 0, "goroutines used while fitting, 0 = all cores")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	cmd.MarkFlagRequired("input")

	return cmd
}
