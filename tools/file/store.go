// Package file provides the project file store used by the coder stage.
// Every path is relative to a project root and confined to it.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/appforge/workflow"
)

// Sentinel errors. Failures wrap one of them together with the path.
var (
	ErrUnsafePath = errors.New("unsafe path")
	ErrRead       = errors.New("read failed")
	ErrWrite      = errors.New("write failed")
)

// DefaultProtected are never written by generated tasks.
var DefaultProtected = []string{
	".git/**",
	".appforge/**",
	".env",
	"**/.env",
}

// Store reads and writes project files under a root directory.
type Store struct {
	root      string
	protected []string
}

// Option configures a Store.
type Option func(*Store)

// WithProtected replaces the protected glob patterns. Patterns use doublestar
// syntax and match slash-separated relative paths.
func WithProtected(patterns ...string) Option {
	return func(s *Store) {
		s.protected = patterns
	}
}

// NewStore returns a store rooted at root, creating the directory if needed.
func NewStore(root string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	// Compare against the resolved root so symlinked temp dirs still work.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	s := &Store{root: abs, protected: DefaultProtected}
	for _, opt := range opts {
		opt(s)
	}
	for _, p := range s.protected {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid protected pattern %q", p)
		}
	}
	return s, nil
}

// Root returns the absolute project root.
func (s *Store) Root() string {
	return s.root
}

// Check normalizes path and rejects anything outside the root or matching a
// protected pattern. It returns the cleaned relative path.
func (s *Store) Check(path string) (string, error) {
	rel, err := workflow.CleanPath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	for _, pattern := range s.protected {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return "", fmt.Errorf("%w: %s is protected by %q", ErrUnsafePath, rel, pattern)
		}
	}
	return rel, nil
}

// resolve maps a relative path to an absolute one and makes sure no symlink
// along the existing part of the path leads outside the root.
func (s *Store) resolve(path string) (string, string, error) {
	rel, err := s.Check(path)
	if err != nil {
		return "", "", err
	}
	full := filepath.Join(s.root, filepath.FromSlash(rel))

	existing := full
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s: %v", ErrUnsafePath, rel, err)
	}
	if resolved != s.root && !strings.HasPrefix(resolved, s.root+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %s resolves outside the project root", ErrUnsafePath, rel)
	}
	return rel, full, nil
}

// Read returns the file's content. A missing file is not an error: ok is
// false and content is empty.
func (s *Store) Read(ctx context.Context, path string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	rel, full, err := s.resolve(path)
	if err != nil {
		return "", false, err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %s: %v", ErrRead, rel, err)
	}
	return string(data), true, nil
}

// Write replaces the file's content, creating parent directories. The content
// is written to a temp file and renamed into place so readers never see a
// partial file.
func (s *Store) Write(ctx context.Context, path, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, full, err := s.resolve(path)
	if err != nil {
		return err
	}

	if info, err := os.Stat(full); err == nil && info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrWrite, rel)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, rel, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, rel, err)
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.WriteString(content)
	closeErr := tmp.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr == nil {
		writeErr = os.Chmod(tmpName, 0644)
	}
	if writeErr == nil {
		writeErr = os.Rename(tmpName, full)
	}
	if writeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrWrite, rel, writeErr)
	}
	return nil
}
