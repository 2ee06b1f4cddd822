package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	dt "github.com/RobinTMiller/dt-sub002"
	"github.com/RobinTMiller/dt-sub002/middleware"
	"github.com/RobinTMiller/dt-sub002/observability"
	"github.com/RobinTMiller/dt-sub002/signals"
	"github.com/RobinTMiller/dt-sub002/supervisor"
)

// exitError carries the engine's normalized exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func asExitError(err error, target **exitError) bool {
	return errors.As(err, target)
}

func newRunCmd() *cobra.Command {
	var (
		logJSON  bool
		logLevel string
		trace    bool
	)

	cmd := &cobra.Command{
		Use:   "run <workload.yaml>",
		Short: "Run the jobs described by a workload file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			return runWorkload(cmd.Context(), cfg, logJSON, trace)
		},
	}
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "emit JSON logs instead of text")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides the workload file)")
	cmd.Flags().BoolVar(&trace, "trace", false, "add per-operation tracing spans")
	return cmd
}

func newLogger(cfg *fileConfig, logJSON bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if logJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

func runWorkload(ctx context.Context, cfg *fileConfig, logJSON, trace bool) error {
	logger := newLogger(cfg, logJSON)

	mw := []middleware.Middleware{
		middleware.Recover(logger),
		middleware.Metrics(),
	}
	if trace {
		mw = append(mw, middleware.Tracing())
	}

	sup := supervisor.New(cfg.engineConfig(),
		supervisor.WithLogger(logger),
		supervisor.WithExtensions(observability.NewMetrics()),
		supervisor.WithMiddleware(mw...),
	)
	sup.Start()

	coord := signals.Notify(sup, logger)
	defer coord.Stop()

	for i := range cfg.Jobs {
		spec, err := cfg.Jobs[i].jobSpec()
		if err != nil {
			_ = sup.Shutdown(ctx)
			return err
		}
		if _, err := sup.Initiate(ctx, spec); err != nil {
			_ = sup.Shutdown(ctx)
			return err
		}
	}

	status, err := sup.WaitAll(ctx)
	if err != nil {
		_ = sup.Shutdown(ctx)
		return err
	}
	if err := sup.Shutdown(ctx); err != nil {
		return err
	}

	logger.Info("all jobs finished", slog.String("status", status.String()))
	if code := status.Code(); code != dt.ExitSuccess {
		return &exitError{code: code, msg: fmt.Sprintf("finished with status %s", status)}
	}
	return nil
}
