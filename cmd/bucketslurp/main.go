package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitInvalidArgs  = 2
	ExitStorageError = 5
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &app{stdout: stdout, stderr: stderr}
	cmd := app.rootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)

	var usage *usageError
	switch {
	case app.interrupted:
		fmt.Fprintln(stderr, "\n[bucketslurp] interrupted by user")
		return ExitSuccess
	case err == nil:
		return ExitSuccess
	case errors.As(err, &usage):
		fmt.Fprintf(stderr, "Error: %v\n\n", usage.err)
		fmt.Fprint(stderr, cmd.UsageString())
		return ExitInvalidArgs
	case errors.Is(err, errStorage):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitStorageError
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
}

// usageError marks errors caused by invalid command-line input.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

var errStorage = errors.New("output storage unavailable")
