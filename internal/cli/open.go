package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/pstore/internal/inspect"
	"github.com/roach88/pstore/internal/store"
)

// loadSnapshot opens the database at path and reads a snapshot of it.
// A missing file is a command error; store.Open would otherwise create it.
func loadSnapshot(ctx context.Context, opts *RootOptions, formatter *OutputFormatter, path string) (*inspect.Dump, error) {
	if path == "" {
		return nil, outputCommandError(formatter, ErrCodeGeneric, "--db is required", nil)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, outputCommandError(formatter, ErrCodeNotFound,
				fmt.Sprintf("database not found: %s", path), nil)
		}
		return nil, outputCommandError(formatter, ErrCodeOpen, err.Error(), nil)
	}

	st, err := store.Open(path, opts.Config.StoreOptions())
	if err != nil {
		return nil, outputCommandError(formatter, ErrCodeOpen, "failed to open database", err.Error())
	}
	defer st.Close()
	opts.logger().Debug("database opened", "path", path)

	dump, err := inspect.Snapshot(ctx, st)
	if err != nil {
		return nil, outputCommandError(formatter, ErrCodeOpen, "failed to read database", err.Error())
	}
	formatter.VerboseLog("Read %d object(s) and %d root item(s) from %s", len(dump.Objects), len(dump.Roots), path)
	return dump, nil
}

// outputCommandError reports a command-level error (exit code 2).
func outputCommandError(formatter *OutputFormatter, code ErrorCode, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
