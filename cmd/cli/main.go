package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vk/meshrun/internal/app"
	"github.com/vk/meshrun/internal/cli"
	"github.com/vk/meshrun/internal/hcl"
)

// main is the entrypoint for the meshrun application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// SIGINT and SIGTERM abort the run; the driver still writes its abort
	// checkpoint before exiting.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The real main function handles errors and exit codes.
	if err := run(ctx, os.Stdout, os.Args[1:]); err != nil {
		exitErr := cli.AsExitError(err)
		fmt.Fprintln(os.Stderr, exitErr.Message)
		stop()
		os.Exit(exitErr.Code)
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(ctx context.Context, outW io.Writer, args []string) (err error) {
	appConfig, shouldExit, err := cli.Parse(ctx, args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	// Turn a panic during startup or the run into an error so the process
	// exits with a message instead of a stack trace.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("application startup panicked: %v", r)
		}
	}()

	// Instantiate the concrete HCL loader to pass to the app.
	loader := hcl.NewLoader()
	meshApp, err := app.NewApp(outW, appConfig, loader)
	if err != nil {
		return err
	}

	_, err = meshApp.Run(ctx)
	return err
}
