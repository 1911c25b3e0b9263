package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Beacon/internal/config"
	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
	"github.com/SmitUplenchwar2687/Beacon/pkg/generate"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate sample record files and config",
		Long: `Generates sample data for testing and experimentation.

Use "generate records" to create a sample records JSON file.
Use "generate config" to create an example YAML config file.`,
	}

	cmd.AddCommand(newGenerateRecordsCmd(), newGenerateConfigCmd())
	return cmd
}

func newGenerateRecordsCmd() *cobra.Command {
	var (
		output     string
		opts       = generate.DefaultOptions()
		categories []string
	)

	cmd := &cobra.Command{
		Use:   "records",
		Short: "Generate a sample records JSON file",
		Long: `Creates a file of synthetic records that "beacon replay" can read.

Patterns:
  steady    Evenly distributed records
  burst     Error storms with quiet periods in between
  ramp      Gradually increasing record rate`,
		Example: `  beacon generate records --output records.json --count 100 --sessions 5
  beacon generate records --output burst.json --count 200 --pattern burst --duration 10m
  beacon generate records --category errors,stuck_points --seed 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, c := range categories {
				cat, err := telemetry.ParseCategory(c)
				if err != nil {
					return err
				}
				opts.Categories = append(opts.Categories, cat)
			}

			records, err := generate.GenerateRecords(&opts)
			if err != nil {
				return err
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating file: %w", err)
			}
			defer f.Close()
			if err := writeJSONOut(f, records); err != nil {
				return fmt.Errorf("writing records: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Generated %d records to %s\n", len(records), output)
			fmt.Fprintf(out, "  Sessions: %d\n", opts.Sessions)
			fmt.Fprintf(out, "  Duration: %s\n", opts.Duration)
			fmt.Fprintf(out, "  Pattern:  %s\n", opts.Pattern)
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "records.json", "output file path")
	cmd.Flags().IntVar(&opts.Count, "count", opts.Count, "number of records to generate")
	cmd.Flags().IntVar(&opts.Sessions, "sessions", opts.Sessions, "number of distinct sessions")
	cmd.Flags().DurationVar(&opts.Duration, "duration", opts.Duration, "time span for generated records")
	cmd.Flags().StringVar(&opts.Pattern, "pattern", opts.Pattern, "record pattern (steady, burst, ramp)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "random seed (0 = time based)")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "categories to draw from (default all)")

	return cmd
}

func newGenerateConfigCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Generate an example YAML config file",
		Example: `  beacon generate config --output beacon.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteExample(output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated example config at %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "beacon.yaml", "output file path")
	return cmd
}
