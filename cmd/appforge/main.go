// Package main provides the appforge binary entry point.
// appforge turns a one-line application request into files on disk by
// running a plan, architect and coder stage against a language model.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	// Register LLM providers via init()
	_ "github.com/c360studio/appforge/llm/providers"

	"github.com/spf13/cobra"

	"github.com/c360studio/appforge/config"
	"github.com/c360studio/appforge/display"
	"github.com/c360studio/appforge/workflow"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "appforge"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, display.Error(err))
		var stageErr *workflow.StageError
		if errors.As(err, &stageErr) && stageErr.Retryable {
			fmt.Fprintln(os.Stderr, "The failure is retryable: run `appforge resume <run-id>` to continue.")
		}
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath  string
	root        string
	logLevel    string
	logFormat   string
	metricsAddr string
	backend     string
}

func rootCmd() *cobra.Command {
	var g globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Generate a small application from a one-line request",
		Long: `appforge turns a one-line request such as "create a simple calculator web
application" into a set of files on disk.

A run goes through three stages:
- plan: a structured project plan (name, tech stack, features, files)
- architect: an ordered list of implementation tasks, one file each
- coder: one file generated and written per task until every task is done

Every stage checkpoints the run, so an interrupted run can be resumed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML)")
	pf.StringVar(&g.root, "root", "", "Project root files are written into (default: git root or cwd)")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&g.logFormat, "log-format", "", "Log format (text, json)")
	pf.StringVar(&g.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	pf.StringVar(&g.backend, "backend", "", "State backend (file, kv)")

	cmd.AddCommand(
		runCmd(&g),
		resumeCmd(&g),
		statusCmd(&g),
		listCmd(&g),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}

func runCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <request>",
		Short: "Start a new run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, app *App) error {
				state, err := app.StartRun(ctx, strings.Join(args, " "))
				return report(cmd.OutOrStdout(), state, err)
			})
		},
	}
}

func resumeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a persisted run from its last checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, app *App) error {
				state, err := app.ResumeRun(ctx, args[0])
				return report(cmd.OutOrStdout(), state, err)
			})
		},
	}
}

func statusCmd(g *globalFlags) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the progress of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, app *App) error {
				out := cmd.OutOrStdout()
				if !follow {
					state, err := app.Store().Load(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(out, display.State(state))
					if locked, err := app.RunInProgress(state.RunID); err == nil && locked {
						fmt.Fprintln(out, "Another appforge process is driving this run.")
					}
					return nil
				}

				w, ok := app.Watcher()
				if !ok {
					return fmt.Errorf("state backend %q cannot be followed", app.cfg.State.Backend)
				}
				updates, err := w.Watch(ctx, args[0])
				if err != nil {
					return err
				}
				for state := range updates {
					fmt.Fprintln(out, display.State(state))
					if state.Done() {
						return nil
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Re-render on every checkpoint until the run is done")
	return cmd
}

func listCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List persisted runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, app *App) error {
				runs, err := app.Store().List(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), display.RunList(runs))
				return nil
			})
		},
	}
}

// report prints the run outcome. The run id is always printed so a failed
// run can be resumed.
func report(w io.Writer, state workflow.State, err error) error {
	if state.RunID != "" {
		fmt.Fprintln(w, display.State(state))
	}
	if err != nil {
		if state.RunID != "" {
			return fmt.Errorf("run %s: %w", state.RunID, err)
		}
		return err
	}
	fmt.Fprintf(w, "Run %s complete: %d files written to the project root\n", state.RunID, state.Steps())
	return nil
}

// withApp loads configuration, starts the App, runs fn and shuts down.
func withApp(cmd *cobra.Command, g *globalFlags, fn func(context.Context, *App) error) error {
	cfg, logger, err := loadConfig(g, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := app.Start(ctx); err != nil {
		app.Shutdown(5 * time.Second)
		return err
	}
	defer app.Shutdown(5 * time.Second)

	return fn(ctx, app)
}

// loadConfig applies command-line overrides on top of the layered config and
// builds the logger.
func loadConfig(g *globalFlags, logOut io.Writer) (*config.Config, *slog.Logger, error) {
	bootstrap := newLogger(logOut, g.logLevel, g.logFormat)

	override := &config.Config{
		Project: config.ProjectConfig{Root: g.root},
		State:   config.StateConfig{Backend: g.backend},
		Metrics: config.MetricsConfig{Addr: g.metricsAddr},
		Log:     config.LogConfig{Level: g.logLevel, Format: g.logFormat},
	}

	loader := config.NewLoader(bootstrap)
	// First run: write the defaults where the user can edit them.
	if err := loader.EnsureUserConfig(); err != nil {
		bootstrap.Warn("Failed to create user config", "error", err)
	}

	cfg, err := loader.Load(g.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Merge(override)
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(logOut, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newLogger builds a text or JSON handler at the given level. Unknown levels
// fall back to info.
func newLogger(w io.Writer, levelName, format string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
