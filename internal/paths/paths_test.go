package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeBackslashes(t *testing.T) {
	// ToSlash is a no-op on unix; the relative form must survive unchanged
	if got := Normalize("src/routes/auth.js"); got != "src/routes/auth.js" {
		t.Errorf("Normalize altered a clean path: %q", got)
	}
}

func TestCanonicalizeRelativePassesThrough(t *testing.T) {
	got, err := Canonicalize("src/app.js", "/repo")
	if err != nil {
		t.Fatal(err)
	}
	if got != "src/app.js" {
		t.Errorf("relative path should pass through: %q", got)
	}
}

func TestCanonicalizeAbsolute(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "src", "app.js")
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := Canonicalize(file, root)
	if err != nil {
		t.Fatal(err)
	}
	if got != "src/app.js" {
		t.Errorf("Canonicalize = %q, want src/app.js", got)
	}
}

func TestWithinRepo(t *testing.T) {
	root := t.TempDir()
	if !WithinRepo(filepath.Join(root, "src", "app.js"), root) {
		t.Error("file under root reported outside")
	}
	if WithinRepo(filepath.Join(root, "..", "other.js"), root) {
		t.Error("file outside root reported inside")
	}
}
