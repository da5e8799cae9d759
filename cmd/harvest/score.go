package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score",
		Short: "Compute FNI scores for the whole registry",
		Long: `Load the registry, compute popularity, velocity, credibility and utility
sub-scores, anomaly flags and commentary for every entity, and write the
scores back. Entities are never archived by a scoring pass.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}
			a := mustApp(cmd.Context())
			sum, err := a.scorer.run(cmd.Context())
			if err != nil {
				return err
			}

			if done, err := printStructured(os.Stdout, format, sum); done || err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Scored:           %d\n", sum.Scored)
			fmt.Fprintf(os.Stdout, "Skipped:          %d\n", sum.Skipped)
			fmt.Fprintf(os.Stdout, "Average velocity: %.2f\n", sum.AverageVelocity)
			return nil
		},
	}
}
