package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	flag "github.com/spf13/pflag"

	"github.com/loopos/loopos/cmd/loopos/cli"
	"github.com/loopos/loopos/internal/app"
	"github.com/loopos/loopos/internal/seed"
	"github.com/loopos/loopos/jobs"
)

const usage = `usage: loopos <command> [flags]

commands:
  serve                     run the HTTP API (default)
  reconcile [--json]        repair plant memberships from assignments
  seed --file <path>        load plants, users and assignments from YAML
  jobs trigger <job>        enqueue a background job (reconcile)
  jobs stats                print queue statistics
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	switch command {
	case "help", "-h", "--help":
		_, _ = fmt.Fprint(stdout, usage)
		return 0
	case "serve", "reconcile", "seed", "jobs":
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", command, usage)
		return 2
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}
	logger := app.NewLogger(cfg)

	switch command {
	case "reconcile":
		fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
		fs.SetOutput(stderr)
		asJSON := fs.Bool("json", false, "print the result as JSON")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		return withRuntime(ctx, cfg, logger, func(rt *app.Runtime) int {
			return cli.ReconcileCommand(ctx, rt.Synchronizer, cli.ReconcileOptions{JSONOutput: *asJSON, Stdout: stdout, Stderr: stderr})
		})
	case "seed":
		fs := flag.NewFlagSet("seed", flag.ContinueOnError)
		fs.SetOutput(stderr)
		path := fs.StringP("file", "f", cfg.SeedFile, "seed YAML file")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		return withRuntime(ctx, cfg, logger, func(rt *app.Runtime) int {
			loader := seed.NewLoader(rt.Backend, rt.Synchronizer, logger)
			return cli.SeedCommand(ctx, loader, cli.SeedOptions{Path: *path, Stdout: stdout, Stderr: stderr})
		})
	case "jobs":
		opts := cli.JobsOptions{Stdout: stdout, Stderr: stderr}
		if len(args) > 0 {
			opts.Action = args[0]
		}
		if len(args) > 1 {
			opts.Job = args[1]
		}
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer func() {
			if err := jobsCLI.Close(); err != nil {
				logger.Warn("jobs cli close", slog.Any("error", err))
			}
		}()
		return jobsCLI.JobsCommand(ctx, opts)
	}
	return serve(ctx, cfg, logger)
}

func withRuntime(ctx context.Context, cfg *app.Config, logger *slog.Logger, fn func(*app.Runtime) int) int {
	rt, err := app.NewRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("init runtime", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("runtime close", slog.Any("error", err))
		}
	}()
	return fn(rt)
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	return withRuntime(ctx, cfg, logger, func(rt *app.Runtime) int {
		if cfg.SeedFile != "" {
			f, err := seed.ParseFile(cfg.SeedFile)
			if err != nil {
				logger.Error("read seed file", slog.Any("error", err))
				return 1
			}
			if _, err := seed.NewLoader(rt.Backend, rt.Synchronizer, logger).Apply(ctx, f); err != nil {
				logger.Error("apply seed file", slog.Any("error", err))
				return 1
			}
		}

		inspector := asynq.NewInspector(rt.RedisOpts())
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler := jobs.NewHandler(inspector, logger)

		server := &http.Server{
			Addr:         cfg.AppAddr,
			Handler:      rt.Router(jobHandler),
			ReadTimeout:  cfg.AppReadTimeout,
			WriteTimeout: cfg.AppWriteTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			logger.Error("http server", slog.Any("error", err))
			return 1
		}
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown", slog.Any("error", err))
			return 1
		}
		return 0
	})
}
