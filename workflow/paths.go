package workflow

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidPath is returned by CleanPath for paths that cannot name a file
// inside the project root.
var ErrInvalidPath = errors.New("invalid project path")

// CleanPath normalizes a project-relative path to slash form ("./a//b" becomes
// "a/b"). Absolute paths, paths that climb out of the root and empty paths are
// rejected.
func CleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.HasPrefix(p, "/") || (len(p) >= 2 && p[1] == ':') {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidPath, p)
	}

	cleaned := path.Clean(p)
	if cleaned == "." || strings.HasSuffix(p, "/") {
		return "", fmt.Errorf("%w: %q is not a file", ErrInvalidPath, p)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q escapes the project root", ErrInvalidPath, p)
	}
	return cleaned, nil
}
