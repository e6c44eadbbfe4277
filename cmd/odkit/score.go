package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odkit/odkit/pkg/dataset"
	"github.com/odkit/odkit/pkg/dataset/csv"
	"github.com/odkit/odkit/pkg/detectors/iforest"
)

func newScoreCmd() *cobra.Command {
	var (
		model        string
		input        string
		noHeader     bool
		withFeatures bool
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a CSV dataset with a trained model, one JSON record per row",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(model)
			if err != nil {
				return fmt.Errorf("read model: %w", err)
			}
			detector := iforest.New()
			if err := detector.Load(raw); err != nil {
				return err
			}

			reader, err := csv.Open(input, csv.WithHeader(!noHeader))
			if err != nil {
				return err
			}
			defer reader.Close()

			data, err := reader.Read()
			if err != nil {
				return err
			}

			scores, err := detector.DecisionFunction(data)
			if err != nil {
				return err
			}
			labels, err := detector.Predict(data)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for i := range scores {
				record := dataset.Record{
					Index:     i,
					Score:     scores[i],
					IsOutlier: labels[i] == 1,
				}
				if withFeatures {
					record.Features = data[i]
				}
				if err := enc.Encode(record); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "model.gob", "trained model path")
	cmd.Flags().StringVarP(&input, "input", "i", "", "data CSV to score (required)")
	cmd.Flags().BoolVar(&noHeader, "no-header", false, "input CSV has no header row")
	cmd.Flags().BoolVar(&withFeatures, "features", false, "include input features in output records")
	cmd.MarkFlagRequired("input")

	return cmd
}
