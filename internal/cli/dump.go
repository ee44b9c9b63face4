package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/pstore/internal/inspect"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	DatabasePath string
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every row of a database",
		Long: `Print the globals, root items and objects of a database file.

References between objects are shown as {"$ref": oid}. The classes of the
objects do not need to be known.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DatabasePath, "db", "", "path to the database file (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runDump(opts *DumpOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	dump, err := loadSnapshot(cmd.Context(), opts.RootOptions, formatter, opts.DatabasePath)
	if err != nil {
		return err
	}

	if formatter.Format == "json" {
		return formatter.Success(dump)
	}
	return inspect.WriteText(formatter.Writer, dump)
}
