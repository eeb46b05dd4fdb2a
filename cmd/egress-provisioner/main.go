package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/open-sspm/egress-provisioner/internal/logging"
	"github.com/open-sspm/egress-provisioner/internal/provision"
)

func main() {
	code := runMain(Execute, os.Stderr)
	if code != 0 {
		os.Exit(code)
	}
}

func runMain(execute func() error, stderr io.Writer) int {
	if err := execute(); err != nil {
		return exitCodeForError(err, stderr)
	}
	return 0
}

func exitCodeForError(err error, stderr io.Writer) int {
	code, message := exitCodeFailure, "command failed"
	var ee *exitError
	switch {
	case errors.As(err, &ee):
		if ee.silent {
			return ee.code
		}
		code, err = ee.code, resolveErrorForExitError(ee, err)
		if code == exitCodeCanceled {
			message = "command canceled"
		}
	case errors.Is(err, context.Canceled):
		code, message = exitCodeCanceled, "command canceled"
	}
	emitCommandError(err, message, code, stderr)
	return code
}

func emitCommandError(err error, message string, exitCode int, stderr io.Writer) {
	ctx := currentCommandExecutionContext()
	if !ctx.UsesStructuredLog {
		if exitCode == exitCodeCanceled {
			fmt.Fprintln(stderr, "canceled")
			return
		}
		fmt.Fprintln(stderr, err)
		return
	}

	logger := loggerForFatalPath(ctx, stderr)
	logger.Error(message, append([]any{"exit_code", exitCode, "error", err}, failureAttrs(err)...)...)
}

// failureAttrs names the step and failure kind of a provisioning error so
// log pipelines can group failures without parsing messages.
func failureAttrs(err error) []any {
	var se *provision.StepError
	if !errors.As(err, &se) {
		return nil
	}
	return []any{"step", string(se.Step), "kind", string(se.Kind)}
}

func loggerForFatalPath(ctx commandExecutionContext, stderr io.Writer) *slog.Logger {
	cfg, err := logging.LoadConfigFromEnv()
	if err != nil {
		cfg = logging.DefaultConfig()
	}
	return logging.NewLogger(cfg, stderr, ctx.CommandPath)
}

func resolveErrorForExitError(ee *exitError, fallback error) error {
	if ee != nil && ee.err != nil {
		return ee.err
	}
	return fallback
}
