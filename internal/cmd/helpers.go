package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orderdesk/orderdesk-cli/internal/dryrun"
	"github.com/orderdesk/orderdesk-cli/internal/iocontext"
	"github.com/orderdesk/orderdesk-cli/internal/outfmt"
)

// printJSON outputs data as JSON with optional query filtering
func printJSON(cmd *cobra.Command, v any) error {
	ctx := cmd.Context()
	ioStreams := iocontext.GetIO(ctx)
	return outfmt.WriteJSONFiltered(ioStreams.Out, v, outfmt.GetQuery(ctx), outfmt.IsCompact(ctx))
}

// printRecord writes one streamed record as a JSONL line.
func printRecord(cmd *cobra.Command, v any) error {
	ctx := cmd.Context()
	return outfmt.WriteRecord(iocontext.GetIO(ctx).Out, v, outfmt.GetQuery(ctx))
}

func newFormatter(cmd *cobra.Command) *outfmt.Formatter {
	ioStreams := iocontext.GetIO(cmd.Context())
	return outfmt.NewFormatter(cmd.Context(), ioStreams.Out, ioStreams.ErrOut)
}

// maybeDryRun prints preview and reports true when --dry-run is set.
func maybeDryRun(cmd *cobra.Command, preview *dryrun.Preview) (bool, error) {
	if !dryrun.IsEnabled(cmd.Context()) {
		return false, nil
	}
	if isJSON(cmd) {
		return true, printJSON(cmd, map[string]any{"dry_run": true, "preview": preview})
	}
	preview.Write(iocontext.GetIO(cmd.Context()).Out)
	return true, nil
}

func isJSON(cmd *cobra.Command) bool {
	return outfmt.IsJSON(cmd.Context())
}

// printText writes a line in text mode only.
func printText(cmd *cobra.Command, format string, args ...any) {
	if isJSON(cmd) {
		return
	}
	_, _ = fmt.Fprintf(iocontext.GetIO(cmd.Context()).Out, format, args...)
}

// errAlreadyHandled is a sentinel error indicating the error was already printed to stderr.
// Commands using RunE return this to signal Cobra that an error occurred (for exit code)
// without Cobra printing it again (since SilenceErrors is true on root command).
var errAlreadyHandled = errors.New("error already handled")

type handledError struct {
	err      error
	exitCode int
}

func (e *handledError) Error() string {
	return e.err.Error()
}

func (e *handledError) Unwrap() error {
	return errAlreadyHandled
}

func (e *handledError) ExitCode() int {
	return e.exitCode
}

type jsonError struct {
	Error    string `json:"error"`
	ExitCode int    `json:"exit_code"`
}

// RunE wraps a command function with enhanced error handling
func RunE(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if err == nil {
			return nil
		}
		code := ExitCode(err)
		errOut := iocontext.GetIO(cmd.Context()).ErrOut
		if isJSON(cmd) {
			_ = outfmt.WriteJSONMaybeCompact(errOut, jsonError{Error: err.Error(), ExitCode: code}, outfmt.IsCompact(cmd.Context()))
		} else {
			_, _ = fmt.Fprint(errOut, HandleError(err))
		}
		// Return a handled error so tests can still inspect the original message.
		return &handledError{err: err, exitCode: code}
	}
}
