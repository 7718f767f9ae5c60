package resolver

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"tracer/internal/errors"
)

// PatternsFile is the default filename for project resolution patterns.
const PatternsFile = "PATTERNS.toml"

// Pattern is one project-declared resolution rule: a regexp over the raw
// target expression and the verdict to apply when it matches. Rewrite, when
// set, turns the expression into a concrete symbol name to look up instead
// of settling the edge outright.
type Pattern struct {
	// Match is a regexp applied to the edge's target key or raw expression
	Match string `toml:"match"`

	// Verdict is one of external, dead_end, rewrite
	Verdict string `toml:"verdict"`

	// Rewrite is the replacement template for verdict = "rewrite",
	// expanded with the regexp's capture groups
	Rewrite string `toml:"rewrite,omitempty"`

	// Note documents why the rule exists
	Note string `toml:"note,omitempty"`

	re *regexp.Regexp
}

// patternsFile is the root structure of PATTERNS.toml.
type patternsFile struct {
	Patterns []Pattern `toml:"pattern"`
}

// externalPrefixes are well-known runtime and library roots. A target key
// rooted in one of these resolves as external without an oracle.
var externalPrefixes = []string{
	"console.", "JSON.", "Math.", "Object.", "Array.", "Promise.", "Date.",
	"process.", "Buffer.", "require(", "fetch", "axios.", "axios(",
	"fs.", "path.", "crypto.", "http.", "https.", "os.", "util.",
	"String(", "Number(", "Boolean(", "parseInt", "parseFloat",
	"setTimeout", "setInterval", "clearTimeout", "clearInterval",
}

// Patterns is an ordered resolution rule set: project rules first, then the
// built-in external prefix table.
type Patterns struct {
	rules []Pattern
}

// LoadPatterns reads PATTERNS.toml if present. A missing file yields the
// built-ins alone.
func LoadPatterns(path string) (*Patterns, error) {
	if path == "" {
		return &Patterns{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Patterns{}, nil
		}
		return nil, errors.New(errors.MalformedRecord,
			fmt.Sprintf("cannot read patterns file %s", path), err)
	}

	var parsed patternsFile
	if err := toml.Unmarshal(data, &parsed); err != nil {
		return nil, errors.New(errors.MalformedRecord,
			fmt.Sprintf("malformed patterns file %s", path), err)
	}

	for i := range parsed.Patterns {
		p := &parsed.Patterns[i]
		if p.Match == "" {
			return nil, errors.New(errors.MalformedRecord,
				fmt.Sprintf("pattern %d in %s has no match expression", i, path), nil)
		}
		switch p.Verdict {
		case "external", "dead_end":
		case "rewrite":
			if p.Rewrite == "" {
				return nil, errors.New(errors.MalformedRecord,
					fmt.Sprintf("rewrite pattern %q has no rewrite template", p.Match), nil)
			}
		default:
			return nil, errors.New(errors.MalformedRecord,
				fmt.Sprintf("pattern %q has unknown verdict %q", p.Match, p.Verdict), nil)
		}
		re, err := regexp.Compile(p.Match)
		if err != nil {
			return nil, errors.New(errors.MalformedRecord,
				fmt.Sprintf("pattern %q does not compile", p.Match), err)
		}
		p.re = re
	}

	return &Patterns{rules: parsed.Patterns}, nil
}

// PatternVerdict is the outcome of matching a target expression against the
// rule set.
type PatternVerdict struct {
	// Kind is "", "external", "dead_end" or "rewrite"
	Kind    string
	Rewrite string
	Note    string
}

// Apply returns the first matching verdict for a target expression, falling
// back to the built-in external prefix table. A zero verdict means no rule
// applied.
func (p *Patterns) Apply(targetKey string) PatternVerdict {
	for i := range p.rules {
		rule := &p.rules[i]
		if !rule.re.MatchString(targetKey) {
			continue
		}
		v := PatternVerdict{Kind: rule.Verdict, Note: rule.Note}
		if rule.Verdict == "rewrite" {
			v.Rewrite = rule.re.ReplaceAllString(targetKey, rule.Rewrite)
		}
		return v
	}

	for _, prefix := range externalPrefixes {
		if strings.HasPrefix(targetKey, prefix) {
			return PatternVerdict{Kind: "external"}
		}
	}
	return PatternVerdict{}
}
