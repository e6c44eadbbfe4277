package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odkit/odkit/pkg/datagen"
	"github.com/odkit/odkit/pkg/detectors"
	"github.com/odkit/odkit/pkg/detectors/iforest"
	"github.com/odkit/odkit/pkg/detectors/mad"
	"github.com/odkit/odkit/pkg/detectors/pca"
	"github.com/odkit/odkit/pkg/metrics"
)

func newDemoCmd() *cobra.Command {
	var (
		nTrain        int
		nTest         int
		nFeatures     int
		contamination float64
		seed          int64
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run every detector on a synthetic dataset and report ROC AUC",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ds, err := datagen.Generate(nTrain, nTest, nFeatures, contamination, seed)
			if err != nil {
				return err
			}

			candidates := []struct {
				name     string
				detector detectors.Detector
			}{
				{"iforest", iforest.New(
					iforest.WithContamination(contamination),
					iforest.WithSeed(seed),
					iforest.WithLogger(logger),
				)},
				{"pca", pca.New(pca.WithContamination(contamination))},
				{"mad", mad.New(mad.WithContamination(contamination))},
			}

			fmt.Fprintf(cmd.OutOrStdout(), "train %d x %d, test %d, contamination %.2f\n\n",
				nTrain, nFeatures, nTest, contamination)

			for _, c := range candidates {
				if err := c.detector.Fit(ds.XTrain); err != nil {
					return fmt.Errorf("%s: %w", c.name, err)
				}
				scores, err := c.detector.DecisionFunction(ds.XTest)
				if err != nil {
					return fmt.Errorf("%s: %w", c.name, err)
				}
				auc, err := metrics.ROCAUC(ds.YTest, scores)
				if err != nil {
					return fmt.Errorf("%s: %w", c.name, err)
				}
				precision, err := metrics.PrecisionAtN(ds.YTest, scores, 0)
				if err != nil {
					return fmt.Errorf("%s: %w", c.name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s roc_auc=%.4f precision@n=%.4f\n",
					c.name, auc, precision)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&nTrain, "train", 1000, "training samples")
	cmd.Flags().IntVar(&nTest, "test", 500, "test samples")
	cmd.Flags().IntVar(&nFeatures, "features", 5, "feature count")
	cmd.Flags().Float64Var(&contamination, "contamination", 0.1, "outlier proportion")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")

	return cmd
}
