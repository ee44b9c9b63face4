package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pstore/internal/inspect"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	DatabasePath string
}

// VerifyResult is the JSON payload of the verify command.
type VerifyResult struct {
	Consistent bool              `json:"consistent"`
	Problems   []inspect.Problem `json:"problems,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check reference counts and reachability",
		Long: `Recount every reference in a database file and compare the result
with the stored reference counts.

Reports counts that disagree, references to missing rows, rows without a
count, counts without a row, and rows that cannot be reached from the root.
Exits with code 1 if any problem is found.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DatabasePath, "db", "", "path to the database file (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	dump, err := loadSnapshot(cmd.Context(), opts.RootOptions, formatter, opts.DatabasePath)
	if err != nil {
		return err
	}

	problems := inspect.Verify(dump)
	if len(problems) == 0 {
		if formatter.Format == "json" {
			return formatter.Success(VerifyResult{Consistent: true})
		}
		fmt.Fprintln(formatter.Writer, "✓ store consistent")
		return nil
	}

	opts.logger().Warn("store is inconsistent", "path", opts.DatabasePath, "problems", len(problems))
	return outputProblems(formatter, problems)
}

// outputProblems reports verification failures (exit code 1).
func outputProblems(formatter *OutputFormatter, problems []inspect.Problem) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("verification failed with %d problem(s)", len(problems)))

	if formatter.Format == "json" {
		err := formatter.Failure(ErrCodeInconsistent, failure.Message,
			VerifyResult{Consistent: false, Problems: problems})
		if err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Verification failed")
	fmt.Fprintln(formatter.Writer)
	for _, p := range problems {
		fmt.Fprintf(formatter.Writer, "  %s\n", p)
	}
	return failure
}
