package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/c360studio/appforge/workflow"
	"github.com/nats-io/nats.go/jetstream"
)

// BucketRuns is the KV bucket holding run snapshots, keyed by run id.
const BucketRuns = "APPFORGE_RUNS"

// KVStore keeps run snapshots in a NATS JetStream key-value bucket.
type KVStore struct {
	runs   jetstream.KeyValue
	logger *slog.Logger
}

// NewKVStore opens the runs bucket, creating it if it does not exist.
func NewKVStore(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) (*KVStore, error) {
	runs, err := getOrCreateBucket(ctx, js, BucketRuns)
	if err != nil {
		return nil, fmt.Errorf("create runs bucket: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{runs: runs, logger: logger}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, err
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "appforge run snapshots",
		History:     5, // Keep last 5 revisions
	})
}

// Save puts the snapshot under its run id.
func (s *KVStore) Save(ctx context.Context, st workflow.State) error {
	data, err := encode(st)
	if err != nil {
		return err
	}
	if _, err := s.runs.Put(ctx, st.RunID, data); err != nil {
		return fmt.Errorf("put run %s: %w", st.RunID, err)
	}
	return nil
}

// Load returns the latest snapshot of a run.
func (s *KVStore) Load(ctx context.Context, runID string) (workflow.State, error) {
	if err := ValidateRunID(runID); err != nil {
		return workflow.State{}, err
	}
	entry, err := s.runs.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return workflow.State{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return workflow.State{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return decode(entry.Value())
}

// List returns every run in the bucket, newest first.
func (s *KVStore) List(ctx context.Context) ([]workflow.State, error) {
	lister, err := s.runs.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list run keys: %w", err)
	}
	defer lister.Stop()

	var runs []workflow.State
	for key := range lister.Keys() {
		st, err := s.Load(ctx, key)
		if err != nil {
			s.logger.Warn("Skipping unreadable run", "run_id", key, "error", err)
			continue
		}
		runs = append(runs, st)
	}
	sortNewestFirst(runs)
	return runs, nil
}

// History returns up to the bucket's history depth of past snapshots for a
// run, oldest first.
func (s *KVStore) History(ctx context.Context, runID string) ([]workflow.State, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	entries, err := s.runs.History(ctx, runID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("history of run %s: %w", runID, err)
	}
	out := make([]workflow.State, 0, len(entries))
	for _, e := range entries {
		if e.Operation() != jetstream.KeyValuePut {
			continue
		}
		st, err := decode(e.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Watch sends the current snapshot and every later revision of it.
func (s *KVStore) Watch(ctx context.Context, runID string) (<-chan workflow.State, error) {
	if _, err := s.Load(ctx, runID); err != nil {
		return nil, err
	}
	w, err := s.runs.Watch(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("watch run %s: %w", runID, err)
	}

	out := make(chan workflow.State, 1)
	go func() {
		defer close(out)
		defer w.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-w.Updates():
				if !ok {
					return
				}
				// A nil entry marks the end of the initial values.
				if entry == nil || entry.Operation() != jetstream.KeyValuePut {
					continue
				}
				st, err := decode(entry.Value())
				if err != nil {
					s.logger.Warn("Skipping undecodable snapshot", "run_id", runID, "error", err)
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
