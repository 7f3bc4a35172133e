package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/policity/policity/internal/logger"
	"github.com/policity/policity/internal/persistence"
	"github.com/policity/policity/internal/telemetry"
)

func Server() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "serve [flags]",
			Short: "Start the report pipeline API server",
			Long: `Launch the Policity HTTP server.

The server accepts incident runs, executes the report pipeline in the
background and exposes run records, aggregated results, a live progress
event stream, Prometheus metrics and a health endpoint. A retention
janitor removes runs older than the configured window.

Flags:
  --host string      Host address to bind to (overrides config)
  --port string      Port number to listen on (overrides config)
  --pipeline string  Pipeline definition file instead of the builtin pipeline

Example:
  policity serve --host=0.0.0.0 --port=8080
  policity serve --pipeline=./pipelines/bridge-repair.yaml
`,
		}, serverFlags, runServer,
	)
}

var serverFlags = []commandLineFlag{hostFlag, portFlag, pipelineFlag}

func runServer(ctx *Context, _ []string) error {
	logger.Info(ctx, "Server initialization",
		"host", ctx.Config.Server.Host, "port", ctx.Config.Server.Port)

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint: ctx.Config.Telemetry.Endpoint,
		Insecure: ctx.Config.Telemetry.Insecure,
	})
	if err != nil {
		logger.Warn(ctx, "Telemetry setup failed, traces disabled", "err", err)
	} else {
		defer func() { _ = shutdownTelemetry(ctx) }()
	}

	server, store, err := ctx.NewServer()
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	defer func() { _ = store.Close() }()

	if ctx.Config.Retention.Days >= 0 {
		janitor, err := persistence.NewJanitor(store, ctx.Config.Retention.Schedule, ctx.Config.Retention.Days)
		if err != nil {
			return fmt.Errorf("failed to initialize retention janitor: %w", err)
		}
		go janitor.Start(ctx)
	}

	if err := server.Serve(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}
