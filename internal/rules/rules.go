// Package rules holds the classification taxonomies: which symbols count as
// entry points and which as final outcomes. The built-in taxonomy covers the
// common shapes; a project overrides or extends it with a rules.yaml file.
package rules

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"tracer/internal/errors"
	"tracer/internal/model"
)

// Rule matches symbols into one classification category. All listed criteria
// must hold; empty criteria are ignored. Patterns are Go regexps matched
// against the full string.
type Rule struct {
	Category     string   `yaml:"category"`
	Label        string   `yaml:"label,omitempty"`
	Kinds        []string `yaml:"kinds,omitempty"`
	NamePatterns []string `yaml:"namePatterns,omitempty"`
	FilePatterns []string `yaml:"filePatterns,omitempty"`
	CallPatterns []string `yaml:"callPatterns,omitempty"`

	nameRes []*regexp.Regexp
	fileRes []*regexp.Regexp
	callRes []*regexp.Regexp
}

// RuleSet is the full taxonomy: entry-point rules and final-outcome rules,
// evaluated in order. The first matching rule wins, which keeps
// classification deterministic under re-runs.
type RuleSet struct {
	Entries  []Rule `yaml:"entryPoints"`
	Outcomes []Rule `yaml:"finalOutcomes"`
}

// Load reads a taxonomy from a YAML file and merges it in front of the
// built-in defaults, so project rules take precedence. An empty path returns
// the defaults alone.
func Load(path string) (*RuleSet, error) {
	defaults := Defaults()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaults, nil
		}
		return nil, errors.New(errors.MalformedRecord,
			fmt.Sprintf("cannot read rules file %s", path), err)
	}

	var custom RuleSet
	if err := yaml.Unmarshal(data, &custom); err != nil {
		return nil, errors.New(errors.MalformedRecord,
			fmt.Sprintf("malformed rules file %s", path), err)
	}

	merged := &RuleSet{
		Entries:  append(custom.Entries, defaults.Entries...),
		Outcomes: append(custom.Outcomes, defaults.Outcomes...),
	}
	if err := merged.compile(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (rs *RuleSet) compile() error {
	for i := range rs.Entries {
		if err := rs.Entries[i].compile(); err != nil {
			return err
		}
	}
	for i := range rs.Outcomes {
		if err := rs.Outcomes[i].compile(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rule) compile() error {
	if r.Category == "" {
		return errors.New(errors.MalformedRecord, "rule without category", nil)
	}
	var err error
	if r.nameRes, err = compilePatterns(r.NamePatterns); err != nil {
		return errors.New(errors.MalformedRecord,
			fmt.Sprintf("rule %s: bad name pattern", r.Category), err)
	}
	if r.fileRes, err = compilePatterns(r.FilePatterns); err != nil {
		return errors.New(errors.MalformedRecord,
			fmt.Sprintf("rule %s: bad file pattern", r.Category), err)
	}
	if r.callRes, err = compilePatterns(r.CallPatterns); err != nil {
		return errors.New(errors.MalformedRecord,
			fmt.Sprintf("rule %s: bad call pattern", r.Category), err)
	}
	return nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		res = append(res, re)
	}
	return res, nil
}

// Matches reports whether the rule applies to a symbol given the target keys
// of its outgoing edges.
func (r *Rule) Matches(sym *model.Symbol, calleeKeys []string) bool {
	if len(r.Kinds) > 0 && !contains(r.Kinds, string(sym.Kind)) {
		return false
	}
	if len(r.nameRes) > 0 && !anyMatch(r.nameRes, sym.Name) && !anyMatch(r.nameRes, sym.QualifiedName) {
		return false
	}
	if len(r.fileRes) > 0 && !anyMatch(r.fileRes, sym.Location.File) {
		return false
	}
	if len(r.callRes) > 0 {
		hit := false
		for _, key := range calleeKeys {
			if anyMatch(r.callRes, key) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// MatchEntry returns the first entry-point rule matching the symbol, or nil.
func (rs *RuleSet) MatchEntry(sym *model.Symbol, calleeKeys []string) *Rule {
	return firstMatch(rs.Entries, sym, calleeKeys)
}

// MatchOutcome returns the first final-outcome rule matching the symbol, or nil.
func (rs *RuleSet) MatchOutcome(sym *model.Symbol, calleeKeys []string) *Rule {
	return firstMatch(rs.Outcomes, sym, calleeKeys)
}

func firstMatch(rules []Rule, sym *model.Symbol, calleeKeys []string) *Rule {
	for i := range rules {
		if rules[i].Matches(sym, calleeKeys) {
			return &rules[i]
		}
	}
	return nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func anyMatch(res []*regexp.Regexp, s string) bool {
	if s == "" {
		return false
	}
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
