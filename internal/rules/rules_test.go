package rules

import (
	"os"
	"path/filepath"
	"testing"

	"tracer/internal/model"
)

func TestDefaultsClassifyRouteAsEntry(t *testing.T) {
	rs := Defaults()

	sym := &model.Symbol{
		ID:   "src/routes.js:GET /users",
		Kind: model.KindRoute,
		Name: "GET /users",
	}
	rule := rs.MatchEntry(sym, nil)
	if rule == nil {
		t.Fatal("route symbol should classify as entry point")
	}
	if rule.Category != model.EntryRequestHandler {
		t.Errorf("expected %s, got %s", model.EntryRequestHandler, rule.Category)
	}
}

func TestDefaultsClassifyDBWriteAsOutcome(t *testing.T) {
	rs := Defaults()

	sym := &model.Symbol{
		ID:   "src/users.js:createUser",
		Kind: model.KindFunction,
		Name: "createUser",
	}
	rule := rs.MatchOutcome(sym, []string{"db.users.insertOne"})
	if rule == nil {
		t.Fatal("symbol calling insertOne should classify as outcome")
	}
	if rule.Category != model.OutcomeDataMutation {
		t.Errorf("expected %s, got %s", model.OutcomeDataMutation, rule.Category)
	}
}

func TestDefaultsDoNotClassifyPlainHelper(t *testing.T) {
	rs := Defaults()

	sym := &model.Symbol{
		ID:   "src/util.js:formatDate",
		Kind: model.KindFunction,
		Name: "formatDate",
	}
	if rule := rs.MatchEntry(sym, []string{"pad"}); rule != nil {
		t.Errorf("helper classified as entry: %s", rule.Category)
	}
	if rule := rs.MatchOutcome(sym, []string{"pad"}); rule != nil {
		t.Errorf("helper classified as outcome: %s", rule.Category)
	}
}

func TestClassificationIsDeterministic(t *testing.T) {
	rs := Defaults()
	sym := &model.Symbol{
		ID:   "src/hooks.js:beforeInsertUser",
		Kind: model.KindFunction,
		Name: "beforeInsertUser",
	}

	first := rs.MatchEntry(sym, nil)
	if first == nil {
		t.Fatal("lifecycle hook should classify as entry")
	}
	for i := 0; i < 5; i++ {
		again := rs.MatchEntry(sym, nil)
		if again == nil || again.Category != first.Category {
			t.Fatalf("classification changed on run %d", i)
		}
	}
}

func TestLoadMergesCustomRulesFirst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	custom := `
entryPoints:
  - category: request_handler
    label: legacy controller
    namePatterns:
      - "Controller$"
`
	if err := os.WriteFile(path, []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	rs, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	sym := &model.Symbol{
		ID:   "src/legacy.js:UserController",
		Kind: model.KindClass,
		Name: "UserController",
	}
	rule := rs.MatchEntry(sym, nil)
	if rule == nil {
		t.Fatal("custom rule did not match")
	}
	if rule.Label != "legacy controller" {
		t.Errorf("expected custom rule to win, got %+v", rule)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	rs, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rs.Entries) == 0 || len(rs.Outcomes) == 0 {
		t.Error("defaults missing after fallback")
	}
}

func TestLoadRejectsBadPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	bad := "entryPoints:\n  - category: request_handler\n    namePatterns: [\"([\"]\n"
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid regexp")
	}
}
