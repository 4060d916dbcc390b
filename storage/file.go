package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/c360studio/appforge/workflow"
	"github.com/fsnotify/fsnotify"
)

const (
	// RunsDir is where snapshots live, relative to the project root.
	RunsDir = ".appforge/runs"

	stateFileName = "state.json"
)

// FileStore keeps one JSON snapshot per run at
// <root>/.appforge/runs/<run-id>/state.json.
type FileStore struct {
	dir      string
	logger   *slog.Logger
	debounce time.Duration
}

// NewFileStore returns a store rooted at the project directory root.
func NewFileStore(root string, logger *slog.Logger) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(abs, filepath.FromSlash(RunsDir))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create runs directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger, debounce: 50 * time.Millisecond}, nil
}

// RunDir returns the directory holding a run's snapshot and lock.
func (s *FileStore) RunDir(runID string) string {
	return filepath.Join(s.dir, runID)
}

func (s *FileStore) statePath(runID string) string {
	return filepath.Join(s.RunDir(runID), stateFileName)
}

// Save writes the snapshot atomically: readers see the old or the new
// version, never a partial file.
func (s *FileStore) Save(ctx context.Context, st workflow.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(st)
	if err != nil {
		return err
	}

	runDir := s.RunDir(st.RunID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}

	tmp, err := os.CreateTemp(runDir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.statePath(st.RunID)); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads a run's snapshot.
func (s *FileStore) Load(ctx context.Context, runID string) (workflow.State, error) {
	if err := ctx.Err(); err != nil {
		return workflow.State{}, err
	}
	if err := ValidateRunID(runID); err != nil {
		return workflow.State{}, err
	}
	data, err := os.ReadFile(s.statePath(runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return workflow.State{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return workflow.State{}, fmt.Errorf("read snapshot: %w", err)
	}
	return decode(data)
}

// List returns every readable snapshot, newest first. Unreadable snapshots
// are logged and skipped.
func (s *FileStore) List(ctx context.Context) ([]workflow.State, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read runs directory: %w", err)
	}

	runs := make([]workflow.State, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || ValidateRunID(e.Name()) != nil {
			continue
		}
		st, err := s.Load(ctx, e.Name())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("Skipping unreadable run", "run_id", e.Name(), "error", err)
			continue
		}
		runs = append(runs, st)
	}
	sortNewestFirst(runs)
	return runs, nil
}

// Watch sends the current snapshot, then a fresh copy after every change to
// it. Bursts of filesystem events are coalesced.
func (s *FileStore) Watch(ctx context.Context, runID string) (<-chan workflow.State, error) {
	current, err := s.Load(ctx, runID)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Snapshots are replaced by rename, so the directory is watched rather
	// than the file.
	if err := fsw.Add(s.RunDir(runID)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch run directory: %w", err)
	}

	out := make(chan workflow.State, 1)
	out <- current

	go func() {
		defer close(out)
		defer fsw.Close()

		ticker := time.NewTicker(s.debounce)
		defer ticker.Stop()
		pending := false

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) == stateFileName &&
					(event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename)) {
					pending = true
				}

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				s.logger.Error("Watcher error", "run_id", runID, "error", err)

			case <-ticker.C:
				if !pending {
					continue
				}
				pending = false
				st, err := s.Load(ctx, runID)
				if err != nil {
					s.logger.Debug("Snapshot not readable yet", "run_id", runID, "error", err)
					continue
				}
				select {
				case out <- st:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
