package rules

import (
	"bytes"
	"fmt"
	"testing"

	"tracer/internal/model"
	"tracer/internal/testutil"
)

// The built-in taxonomy is a contract with every stored classification; this
// pins its verdicts over a representative symbol table.
func TestDefaultTaxonomyGolden(t *testing.T) {
	type probe struct {
		sym     model.Symbol
		callees []string
	}
	probes := []probe{
		{sym: model.Symbol{ID: "routes/users.js:GET /users", Kind: model.KindRoute,
			Name: "GET /users", Location: model.Location{File: "routes/users.js", StartLine: 4}}},
		{sym: model.Symbol{ID: "views/profile.js:renderProfile", Kind: model.KindFunction,
			Name: "renderProfile", Location: model.Location{File: "views/profile.js", StartLine: 10}},
			callees: []string{"res.render"}},
		{sym: model.Symbol{ID: "jobs/cleanup.js:cronCleanup", Kind: model.KindFunction,
			Name: "cronCleanup", Location: model.Location{File: "jobs/cleanup.js", StartLine: 1}}},
		{sym: model.Symbol{ID: "workers/email.worker.js:onUserMessage", Kind: model.KindFunction,
			Name: "onUserMessage", Location: model.Location{File: "workers/email.worker.js", StartLine: 7}}},
		{sym: model.Symbol{ID: "db/triggers.sql:users_audit", Kind: model.KindTrigger,
			Name: "users_audit", Location: model.Location{File: "db/triggers.sql", StartLine: 12}}},
		{sym: model.Symbol{ID: "db/procs.sql:sp_insert_user", Kind: model.KindProcedure,
			Name: "sp_insert_user", Location: model.Location{File: "db/procs.sql", StartLine: 30}}},
		{sym: model.Symbol{ID: "services/orders.js:saveOrder", Kind: model.KindFunction,
			Name: "saveOrder", Location: model.Location{File: "services/orders.js", StartLine: 5}},
			callees: []string{"db.orders.insertOne"}},
		{sym: model.Symbol{ID: "services/notify.js:notifyUser", Kind: model.KindFunction,
			Name: "notifyUser", Location: model.Location{File: "services/notify.js", StartLine: 3}},
			callees: []string{"sendEmail"}},
		{sym: model.Symbol{ID: "lib/util.js:helper", Kind: model.KindFunction,
			Name: "helper", Location: model.Location{File: "lib/util.js", StartLine: 1}}},
	}

	rs := Defaults()
	var buf bytes.Buffer
	for _, p := range probes {
		entry, outcome := "-", "-"
		if rule := rs.MatchEntry(&p.sym, p.callees); rule != nil {
			entry = rule.Category
		}
		if rule := rs.MatchOutcome(&p.sym, p.callees); rule != nil {
			outcome = rule.Category
		}
		fmt.Fprintf(&buf, "%s entry=%s outcome=%s\n", p.sym.ID, entry, outcome)
	}

	testutil.Golden(t, "classification.golden", buf.Bytes())
}
