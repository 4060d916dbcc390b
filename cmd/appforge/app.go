package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"slices"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/appforge/config"
	"github.com/c360studio/appforge/events"
	"github.com/c360studio/appforge/llm"
	"github.com/c360studio/appforge/metrics"
	"github.com/c360studio/appforge/processor/architect"
	"github.com/c360studio/appforge/processor/coder"
	"github.com/c360studio/appforge/processor/planner"
	"github.com/c360studio/appforge/storage"
	"github.com/c360studio/appforge/tools/file"
	"github.com/c360studio/appforge/workflow"
	"github.com/c360studio/appforge/workflow/driver"
)

// App is the main application that wires together all components.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// NATS
	embeddedServer *server.Server
	natsConn       *nats.Conn
	js             jetstream.JetStream

	// Storage
	store     storage.StateStore
	fileState *storage.FileStore
	files     *file.Store

	metrics       *metrics.Metrics
	metricsServer *http.Server

	// completer overrides the LLM client built from config.
	completer llm.Completer
}

// AppOption configures an App.
type AppOption func(*App)

// WithCompleter replaces the configured LLM client.
func WithCompleter(c llm.Completer) AppOption {
	return func(a *App) {
		a.completer = c
	}
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger, opts ...AppOption) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	protected := append(slices.Clone(file.DefaultProtected), cfg.Project.Protected...)
	files, err := file.NewStore(cfg.Project.Root, file.WithProtected(protected...))
	if err != nil {
		return nil, fmt.Errorf("open project root: %w", err)
	}

	app := &App{
		cfg:     cfg,
		logger:  logger,
		files:   files,
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app, nil
}

// Start initializes the state store and, when configured, NATS and the
// metrics endpoint.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.NeedsNATS() {
		if err := a.startNATS(ctx); err != nil {
			return fmt.Errorf("start NATS: %w", err)
		}
	}

	switch a.cfg.State.Backend {
	case config.BackendKV:
		store, err := storage.NewKVStore(ctx, a.js, a.logger)
		if err != nil {
			return fmt.Errorf("initialize storage: %w", err)
		}
		a.store = store
	default:
		store, err := storage.NewFileStore(a.files.Root(), a.logger)
		if err != nil {
			return fmt.Errorf("initialize storage: %w", err)
		}
		a.store = store
		a.fileState = store
	}

	if a.cfg.Metrics.Addr != "" {
		if err := a.startMetrics(); err != nil {
			return fmt.Errorf("start metrics: %w", err)
		}
	}
	return nil
}

func (a *App) startNATS(ctx context.Context) error {
	if a.cfg.NATS.URL != "" && !a.cfg.NATS.Embedded {
		// Connect to external NATS
		a.logger.Info("Connecting to NATS", "url", a.cfg.NATS.URL)
		conn, err := nats.Connect(a.cfg.NATS.URL, nats.Name("appforge"))
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.natsConn = conn
	} else {
		storeDir := a.cfg.NATS.StoreDir
		if storeDir == "" {
			storeDir = filepath.Join(a.files.Root(), ".appforge", "nats")
		}
		a.logger.Debug("Starting embedded NATS server", "store_dir", storeDir)
		opts := &server.Options{
			Port:      -1, // Random available port
			JetStream: true,
			StoreDir:  storeDir,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("create embedded NATS server: %w", err)
		}

		go ns.Start()

		// Wait for server to be ready
		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server failed to start")
		}

		a.embeddedServer = ns

		// Connect to embedded server
		conn, err := nats.Connect(ns.ClientURL())
		if err != nil {
			ns.Shutdown()
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
		a.natsConn = conn
	}

	// Get JetStream context
	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js

	return nil
}

func (a *App) startMetrics() error {
	ln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("Serving metrics", "addr", ln.Addr().String())
	return nil
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown(timeout time.Duration) {
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		_ = a.metricsServer.Shutdown(ctx)
		cancel()
	}

	// Close NATS connection
	if a.natsConn != nil {
		_ = a.natsConn.Drain()
		a.natsConn.Close()
	}

	// Shutdown embedded server
	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}
}

// Store returns the configured state store. Valid after Start.
func (a *App) Store() storage.StateStore {
	return a.store
}

// Watcher returns the store as a Watcher for status --follow.
func (a *App) Watcher() (storage.Watcher, bool) {
	w, ok := a.store.(storage.Watcher)
	return w, ok
}

// newRunner builds the stages and the driver from configuration.
func (a *App) newRunner() (*driver.Runner, error) {
	completer := a.completer
	if completer == nil {
		registry, err := a.cfg.ModelRegistry()
		if err != nil {
			return nil, err
		}
		completer = llm.NewClient(registry,
			llm.WithTimeout(a.cfg.Model.Timeout),
			llm.WithLogger(a.logger),
			llm.WithRecorder(a.metrics))
	}

	wf := a.cfg.Workflow
	p, err := planner.New(wf.Planner, completer, a.logger)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	arch, err := architect.New(wf.Architect, completer, a.files, a.logger)
	if err != nil {
		return nil, fmt.Errorf("architect: %w", err)
	}
	c, err := coder.New(wf.Coder, coder.NewGenerator(wf.Coder, completer), a.files, a.logger,
		coder.WithRecorder(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("coder: %w", err)
	}

	graph, err := driver.DefaultGraph(p, arch, c)
	if err != nil {
		return nil, err
	}

	opts := []driver.Option{
		driver.WithStore(a.store),
		driver.WithRecorder(a.metrics),
		driver.WithLogger(a.logger),
		driver.WithTaskRetries(wf.TaskRetries, wf.RetryDelay),
	}
	var publisher driver.Publisher = events.NopPublisher{}
	if a.cfg.NATS.PublishEvents && a.natsConn != nil {
		publisher = events.NewNATSPublisher(a.natsConn)
	}
	opts = append(opts, driver.WithPublisher(publisher))
	return driver.NewRunner(graph, opts...)
}

// StartRun begins a new run for prompt and drives it to completion or the
// first unrecoverable failure.
func (a *App) StartRun(ctx context.Context, prompt string) (workflow.State, error) {
	state, err := workflow.NewState(prompt)
	if err != nil {
		return workflow.State{}, err
	}
	runner, err := a.newRunner()
	if err != nil {
		return state, err
	}

	release, err := a.lock(state.RunID)
	if err != nil {
		return state, err
	}
	defer release()

	return runner.Run(ctx, state)
}

// ResumeRun continues a persisted run.
func (a *App) ResumeRun(ctx context.Context, runID string) (workflow.State, error) {
	if _, err := a.store.Load(ctx, runID); err != nil {
		return workflow.State{}, err
	}
	release, err := a.lock(runID)
	if err != nil {
		return workflow.State{}, err
	}
	defer release()

	// Re-read under the lock; another process may have advanced the run.
	state, err := a.store.Load(ctx, runID)
	if err != nil {
		return workflow.State{}, err
	}
	runner, err := a.newRunner()
	if err != nil {
		return state, err
	}
	return runner.Resume(ctx, state)
}

// RunInProgress reports whether another live process holds the run lock.
// Always false for the KV backend, which has no lock.
func (a *App) RunInProgress(runID string) (bool, error) {
	if a.fileState == nil {
		return false, nil
	}
	if err := storage.ValidateRunID(runID); err != nil {
		return false, err
	}
	return storage.NewRunLock(a.fileState.RunDir(runID)).IsLocked()
}

// lock takes the run lock for file-backed runs.
func (a *App) lock(runID string) (func(), error) {
	if a.fileState == nil {
		return func() {}, nil
	}
	if err := storage.ValidateRunID(runID); err != nil {
		return nil, err
	}
	l := storage.NewRunLock(a.fileState.RunDir(runID))
	if err := l.Acquire(); err != nil {
		return nil, err
	}
	return func() {
		if err := l.Release(); err != nil {
			a.logger.Warn("Failed to release run lock", "run_id", runID, "error", err)
		}
	}, nil
}
