package version

import (
	"strings"
	"testing"
)

func TestInfoWithoutCommit(t *testing.T) {
	origVersion, origCommit := Version, Commit
	defer func() { Version, Commit = origVersion, origCommit }()

	Version = "2.1.0"
	Commit = "unknown"
	if Info() != "2.1.0" {
		t.Errorf("Info() = %q, want bare version", Info())
	}
}

func TestInfoWithCommit(t *testing.T) {
	origVersion, origCommit := Version, Commit
	defer func() { Version, Commit = origVersion, origCommit }()

	Version = "2.1.0"
	Commit = "abcdef1234567890"
	if Info() != "2.1.0 (abcdef1)" {
		t.Errorf("Info() = %q, want version with short commit", Info())
	}
}

func TestFullContainsAllFields(t *testing.T) {
	full := Full()
	for _, want := range []string{"tracer version", "Commit:", "Built:"} {
		if !strings.Contains(full, want) {
			t.Errorf("Full() missing %q: %s", want, full)
		}
	}
}
