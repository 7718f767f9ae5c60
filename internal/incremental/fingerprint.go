// Package incremental recomputes the graph after partial re-extraction.
// Symbol fingerprints decide what actually changed; only edges, pathways and
// issues touching changed symbols are recomputed, everything else is reused.
package incremental

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"tracer/internal/model"
)

// Fingerprint hashes the identity of a symbol: kind, names, location and
// signature. Two extractions of an unchanged symbol produce the same value,
// so a re-ingest of an untouched file is a no-op.
func Fingerprint(sym *model.Symbol) string {
	var b strings.Builder
	b.WriteString(string(sym.Kind))
	b.WriteByte(0)
	b.WriteString(sym.Name)
	b.WriteByte(0)
	b.WriteString(sym.QualifiedName)
	b.WriteByte(0)
	fmt.Fprintf(&b, "%s:%d-%d", sym.Location.File, sym.Location.StartLine, sym.Location.EndLine)
	b.WriteByte(0)
	b.WriteString(sym.Visibility)
	if sym.Exported {
		b.WriteString("+exported")
	}
	if sig := sym.Signature; sig != nil {
		for _, p := range sig.Params {
			b.WriteByte(0)
			b.WriteString(p.Name)
			b.WriteByte(':')
			b.WriteString(p.Type)
		}
		b.WriteByte(0)
		b.WriteString(sig.ReturnType)
		if sig.Async {
			b.WriteString("+async")
		}
	}

	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

// Diff lists the symbol IDs whose fingerprints differ between two
// extractions of the same files.
type Diff struct {
	Added   []string `json:"added,omitempty"`
	Changed []string `json:"changed,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// Empty reports whether nothing changed.
func (d *Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

// Touched returns every symbol ID the diff names, in a single slice.
func (d *Diff) Touched() []string {
	out := make([]string, 0, len(d.Added)+len(d.Changed)+len(d.Removed))
	out = append(out, d.Added...)
	out = append(out, d.Changed...)
	out = append(out, d.Removed...)
	return out
}

// DiffSymbols compares the stored symbols against a fresh extraction of the
// same files. Both sides are keyed by symbol ID; fingerprints decide whether
// a surviving ID counts as changed.
func DiffSymbols(stored, fresh []model.Symbol) *Diff {
	prev := make(map[string]string, len(stored))
	for i := range stored {
		fp := stored[i].Fingerprint
		if fp == "" {
			fp = Fingerprint(&stored[i])
		}
		prev[stored[i].ID] = fp
	}

	diff := &Diff{}
	seen := make(map[string]bool, len(fresh))
	for i := range fresh {
		sym := &fresh[i]
		seen[sym.ID] = true
		fp := sym.Fingerprint
		if fp == "" {
			fp = Fingerprint(sym)
		}
		old, existed := prev[sym.ID]
		switch {
		case !existed:
			diff.Added = append(diff.Added, sym.ID)
		case old != fp:
			diff.Changed = append(diff.Changed, sym.ID)
		}
	}
	for id := range prev {
		if !seen[id] {
			diff.Removed = append(diff.Removed, id)
		}
	}
	return diff
}
