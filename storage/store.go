// Package storage persists workflow.State snapshots so interrupted runs can
// resume. Two backends exist: files under the project root and a NATS
// JetStream key-value bucket.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/c360studio/appforge/workflow"
)

// StateStore saves and loads run snapshots keyed by run id.
type StateStore interface {
	Save(ctx context.Context, s workflow.State) error
	Load(ctx context.Context, runID string) (workflow.State, error)
	List(ctx context.Context) ([]workflow.State, error)
}

// Watcher streams a run's snapshot every time it changes. The channel closes
// when ctx ends.
type Watcher interface {
	Watch(ctx context.Context, runID string) (<-chan workflow.State, error)
}

// runIDPattern accepts uuids and other simple slugs. Ids end up in file paths
// and KV keys, so separators and dots are excluded.
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateRunID rejects ids that are unsafe as a path segment or KV key.
func ValidateRunID(id string) error {
	if !runIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, id)
	}
	return nil
}

func encode(s workflow.State) ([]byte, error) {
	if err := ValidateRunID(s.RunID); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

func decode(data []byte) (workflow.State, error) {
	var s workflow.State
	if err := json.Unmarshal(data, &s); err != nil {
		return workflow.State{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return s, nil
}

// sortNewestFirst orders runs by creation time, newest first.
func sortNewestFirst(runs []workflow.State) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}
