package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/kursadbilgin/message-dispatch/internal/config"
	"github.com/kursadbilgin/message-dispatch/internal/lifecycle"
	"github.com/spf13/cobra"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
)

// exitError carries an explicit process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var summaryOnly bool

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Send the configured message batch through the messaging gateway",
		Long: `Send every configured text message, newest first, followed by one media
message, recording each attempt in the local outcome store.

Examples:
  dispatch
  dispatch --summary`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if summaryOnly {
				return runSummary(cmd.Context(), stdout)
			}
			return runDispatch(cmd.Context(), stdout)
		},
	}
	cmd.Flags().BoolVar(&summaryOnly, "summary", false, "print the delivery summary from the outcome store and exit")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: exitConfig, err: err}
	})

	return cmd
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	code := exitCode(err)
	switch {
	case code == lifecycle.ExitInterrupted:
		fmt.Fprintln(stderr, "interrupted")
	case err != nil:
		fmt.Fprintf(stderr, "error: %v\n", err)
	}
	return code
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		return exitConfig
	}
	return exitFailure
}
