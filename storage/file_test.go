package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360studio/appforge/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState(t *testing.T, prompt string) workflow.State {
	t.Helper()
	s, err := workflow.NewState(prompt)
	require.NoError(t, err)
	s, err = s.Apply(workflow.Update{Plan: &workflow.Plan{
		Name:        "Simple Calculator",
		Description: "calc",
		Techstack:   "javascript, html, css",
		Files:       []workflow.File{{Path: "index.html", Purpose: "page"}},
	}})
	require.NoError(t, err)
	return s
}

func TestFileStoreSaveLoad(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root, nil)
	require.NoError(t, err)
	ctx := context.Background()

	s := sampleState(t, "create a simple calculator web application")
	require.NoError(t, store.Save(ctx, s))

	path := filepath.Join(root, ".appforge", "runs", s.RunID, "state.json")
	assert.FileExists(t, path)

	loaded, err := store.Load(ctx, s.RunID)
	require.NoError(t, err)
	assert.Equal(t, s.RunID, loaded.RunID)
	assert.Equal(t, s.UserPrompt, loaded.UserPrompt)
	assert.Equal(t, "Simple Calculator", loaded.Plan.Name)
	assert.Equal(t, workflow.StatusRunning, loaded.Status)
	assert.True(t, s.CreatedAt.Equal(loaded.CreatedAt))

	// Overwrite leaves no temp files behind.
	s.LastError = "boom"
	require.NoError(t, store.Save(ctx, s))
	entries, err := os.ReadDir(store.RunDir(s.RunID))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestFileStoreLoadMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = store.Load(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreRejectsUnsafeRunID(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	for _, id := range []string{"", "../escape", "a/b", "a.b"} {
		_, err := store.Load(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidRunID, id)
	}

	s := sampleState(t, "x")
	s.RunID = "../../etc"
	assert.ErrorIs(t, store.Save(context.Background(), s), ErrInvalidRunID)
}

func TestFileStoreList(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root, nil)
	require.NoError(t, err)
	ctx := context.Background()

	older := sampleState(t, "first")
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := sampleState(t, "second")
	require.NoError(t, store.Save(ctx, older))
	require.NoError(t, store.Save(ctx, newer))

	// A corrupt snapshot is skipped.
	bad := filepath.Join(root, ".appforge", "runs", "corrupt")
	require.NoError(t, os.MkdirAll(bad, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "state.json"), []byte("{"), 0644))

	runs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.RunID, runs[0].RunID)
	assert.Equal(t, older.RunID, runs[1].RunID)
}

func TestFileStoreWatch(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := sampleState(t, "create a simple calculator web application")
	require.NoError(t, store.Save(ctx, s))

	updates, err := store.Watch(ctx, s.RunID)
	require.NoError(t, err)

	first := <-updates
	assert.Equal(t, s.RunID, first.RunID)
	assert.Empty(t, first.LastError)

	s.LastError = "coder: task 1 (script.js): boom"
	require.NoError(t, store.Save(ctx, s))

	select {
	case got := <-updates:
		assert.Equal(t, s.LastError, got.LastError)
	case <-time.After(5 * time.Second):
		t.Fatal("no update after save")
	}

	cancel()
	for range updates {
	}
}

func TestFileStoreWatchMissingRun(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = store.Watch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
