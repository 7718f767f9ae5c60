// Package paths canonicalizes the file paths carried by extracted symbols
// and edges. Symbol IDs embed the file path, so every loader must store the
// same form: repo-relative, forward slashes.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// Normalize converts a path to forward slashes. Extractor output written on
// Windows otherwise produces symbol IDs that never match.
func Normalize(path string) string {
	return filepath.ToSlash(path)
}

// Canonicalize converts an absolute path to a repo-relative canonical path:
// symlinks resolved, relative to repoRoot, forward slashes. Paths that are
// already relative are normalized as-is.
func Canonicalize(path, repoRoot string) (string, error) {
	if !filepath.IsAbs(path) {
		return Normalize(path), nil
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		resolved = path
	}
	rootResolved, err := filepath.EvalSymlinks(repoRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		rootResolved = repoRoot
	}

	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return "", err
	}
	return Normalize(rel), nil
}

// WithinRepo reports whether a path stays inside the repository root.
func WithinRepo(path, repoRoot string) bool {
	canonical, err := Canonicalize(path, repoRoot)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(canonical, "..")
}
