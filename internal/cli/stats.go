package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/pstore/internal/inspect"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	DatabasePath string
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "stats",
		Short:         "Summarize a database",
		Long:          "Count the objects, root items and references of a database file.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DatabasePath, "db", "", "path to the database file (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runStats(opts *StatsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	dump, err := loadSnapshot(cmd.Context(), opts.RootOptions, formatter, opts.DatabasePath)
	if err != nil {
		return err
	}

	stats := inspect.Summarize(dump)
	if formatter.Format == "json" {
		return formatter.Success(stats)
	}
	return inspect.WriteStatsText(formatter.Writer, stats)
}
