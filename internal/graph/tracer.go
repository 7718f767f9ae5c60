package graph

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"tracer/internal/logging"
	"tracer/internal/model"
	"tracer/internal/storage"
)

// DefaultMaxPathLength bounds a single pathway. Traces past this length have
// almost always wandered into cross-cutting infrastructure.
const DefaultMaxPathLength = 30

// DefaultSharedCallerThreshold is the minimum number of distinct callers for
// a leaf symbol to count as shared infrastructure rather than a dead end.
const DefaultSharedCallerThreshold = 2

// Tracer enumerates every pathway from each entry point. Tracing is
// partitioned by entry point; each entry's pathways are replaced atomically.
type Tracer struct {
	symbols *storage.SymbolStore
	edges   *storage.EdgeStore
	graph   *storage.GraphStore
	logger  *logging.Logger

	MaxPathLength         int
	SharedCallerThreshold int
}

// NewTracer creates a tracer with default limits.
func NewTracer(symbols *storage.SymbolStore, edges *storage.EdgeStore,
	graph *storage.GraphStore, logger *logging.Logger) *Tracer {
	return &Tracer{
		symbols:               symbols,
		edges:                 edges,
		graph:                 graph,
		logger:                logger,
		MaxPathLength:         DefaultMaxPathLength,
		SharedCallerThreshold: DefaultSharedCallerThreshold,
	}
}

// TraceResult summarises one tracing run.
type TraceResult struct {
	Entries   int      `json:"entries"`
	Pathways  int      `json:"pathways"`
	Truncated int      `json:"truncated"`
	DeadEnds  []string `json:"deadEnds,omitempty"`
}

// traceContext is the immutable view of the graph built once per run and
// shared by every entry point's traversal.
type traceContext struct {
	adjacency map[string][]model.Edge
	outcomes  map[string]model.FinalOutcome
	locations map[string]model.Location
	infra     map[string]bool
	fanouts   map[string]model.FanOutPoint
}

// Prepare snapshots the resolved graph for traversal.
func (t *Tracer) prepare() (*traceContext, error) {
	all, err := t.edges.AllEdges()
	if err != nil {
		return nil, err
	}
	outcomes, err := t.graph.FinalOutcomes()
	if err != nil {
		return nil, err
	}
	symbols, err := t.symbols.AllSymbols()
	if err != nil {
		return nil, err
	}
	points, err := t.graph.FanOutPoints()
	if err != nil {
		return nil, err
	}

	tc := &traceContext{
		adjacency: make(map[string][]model.Edge),
		outcomes:  make(map[string]model.FinalOutcome, len(outcomes)),
		locations: make(map[string]model.Location, len(symbols)),
		infra:     make(map[string]bool),
		fanouts:   make(map[string]model.FanOutPoint, len(points)),
	}

	callers := make(map[string]map[string]bool)
	for _, e := range all {
		if e.State != model.StateResolved || e.TargetID == "" {
			continue
		}
		tc.adjacency[e.SourceID] = append(tc.adjacency[e.SourceID], e)
		if callers[e.TargetID] == nil {
			callers[e.TargetID] = make(map[string]bool)
		}
		callers[e.TargetID][e.SourceID] = true
	}
	for source := range tc.adjacency {
		edges := tc.adjacency[source]
		sort.Slice(edges, func(a, b int) bool {
			if edges[a].TargetKey != edges[b].TargetKey {
				return edges[a].TargetKey < edges[b].TargetKey
			}
			return edges[a].TargetID < edges[b].TargetID
		})
	}

	for _, o := range outcomes {
		tc.outcomes[o.SymbolID] = o
	}
	for _, s := range symbols {
		tc.locations[s.ID] = s.Location
	}
	for _, fp := range points {
		tc.fanouts[fp.SourceID+"|"+fp.TargetKey] = fp
	}

	// Shared infrastructure: leaf symbols with no path-defining role that
	// enough distinct callers reference. They annotate steps instead of
	// becoming steps.
	for target, sources := range callers {
		if len(tc.adjacency[target]) > 0 {
			continue
		}
		if _, isOutcome := tc.outcomes[target]; isOutcome {
			continue
		}
		if len(sources) >= t.SharedCallerThreshold {
			tc.infra[target] = true
		}
	}

	return tc, nil
}

// TraceAll retraces every live entry point and replaces its pathways.
func (t *Tracer) TraceAll(ctx context.Context) (*TraceResult, error) {
	entries, err := t.graph.EntryPoints()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(entries))
	for i, ep := range entries {
		ids[i] = ep.SymbolID
	}
	return t.TraceEntries(ctx, ids)
}

// TraceEntries retraces the given entry points only; the incremental updater
// uses this to bound recomputation to affected entries.
func (t *Tracer) TraceEntries(ctx context.Context, entryIDs []string) (*TraceResult, error) {
	tc, err := t.prepare()
	if err != nil {
		return nil, err
	}

	result := &TraceResult{Entries: len(entryIDs)}
	deadEnds := make(map[string]bool)

	for _, entryID := range entryIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		pathways := t.traceEntry(tc, entryID, deadEnds)
		if err := t.graph.ReplacePathwaysForEntry(entryID, pathways); err != nil {
			return result, err
		}

		result.Pathways += len(pathways)
		for i := range pathways {
			if len(pathways[i].Flags) > 0 {
				result.Truncated++
			}
		}
	}

	for id := range deadEnds {
		result.DeadEnds = append(result.DeadEnds, id)
	}
	sort.Strings(result.DeadEnds)

	t.logger.Info("tracing complete", logging.Fields{
		"entries": result.Entries, "pathways": result.Pathways,
		"truncated": result.Truncated, "dead_ends": len(result.DeadEnds),
	})
	return result, nil
}

// path is one pathway under construction. Clones fork at branch points; the
// visited set is per-path so a symbol revisited on a sibling path traces
// independently.
type path struct {
	steps   []model.PathwayStep
	visited map[string]bool
	lineage []model.FanOutRef
}

func (p *path) clone() *path {
	c := &path{
		steps:   make([]model.PathwayStep, len(p.steps)),
		visited: make(map[string]bool, len(p.visited)),
		lineage: make([]model.FanOutRef, len(p.lineage)),
	}
	copy(c.steps, p.steps)
	copy(c.lineage, p.lineage)
	for k := range p.visited {
		c.visited[k] = true
	}
	return c
}

// traceEntry enumerates every pathway from one entry point.
func (t *Tracer) traceEntry(tc *traceContext, entryID string, deadEnds map[string]bool) []model.Pathway {
	// A symbol satisfying both taxonomies is its own terminal step: a
	// zero-length pathway, traced no further.
	if _, ok := tc.outcomes[entryID]; ok {
		return []model.Pathway{{
			ID:            uuid.NewString(),
			EntrySymbol:   entryID,
			OutcomeSymbol: entryID,
			Steps: []model.PathwayStep{{
				SymbolID: entryID,
				Type:     model.StepEntry,
				Location: tc.locations[entryID],
			}},
		}}
	}

	var out []model.Pathway
	t.walk(tc, entryID, entryID, &path{visited: make(map[string]bool)}, &out, deadEnds)
	return out
}

func (t *Tracer) walk(tc *traceContext, entryID, current string, p *path,
	out *[]model.Pathway, deadEnds map[string]bool) {

	// Termination rules, in priority order
	if _, ok := tc.outcomes[current]; ok && len(p.steps) > 0 {
		p.steps = append(p.steps, model.PathwayStep{
			SymbolID: current,
			Type:     model.StepOutcome,
			Location: tc.locations[current],
		})
		*out = append(*out, t.emit(entryID, current, p, nil))
		return
	}

	if p.visited[current] {
		*out = append(*out, t.emit(entryID, "", p, []model.PathwayFlag{model.FlagCycleTruncated}))
		return
	}

	if len(p.steps) >= t.MaxPathLength {
		*out = append(*out, t.emit(entryID, "", p, []model.PathwayFlag{model.FlagLengthTruncated}))
		return
	}

	stepType := model.StepCall
	if len(p.steps) == 0 {
		stepType = model.StepEntry
	}
	p.steps = append(p.steps, model.PathwayStep{
		SymbolID: current,
		Type:     stepType,
		Location: tc.locations[current],
	})
	p.visited[current] = true

	linear, fanouts := t.splitOutgoing(tc, current, p)

	if len(linear) == 0 && len(fanouts) == 0 {
		deadEnds[current] = true
		return
	}

	for _, target := range linear {
		t.walk(tc, entryID, target, p.clone(), out, deadEnds)
	}

	for _, group := range fanouts {
		fp := t.fanOutPoint(tc, current, group)

		// The fan-out itself is a step shared by every branch
		base := p.clone()
		base.steps = append(base.steps, model.PathwayStep{
			SymbolID: group.key,
			Type:     model.StepFanOut,
			Location: fp.Location,
		})

		for i, target := range group.targets {
			branch := base.clone()
			branch.lineage = append(branch.lineage, model.FanOutRef{
				FanOutID:    fp.ID,
				BranchIndex: i,
			})
			t.walk(tc, entryID, target, branch, out, deadEnds)
		}
	}
}

// fanOutGroup is every branch target reachable through one fan-out key.
type fanOutGroup struct {
	key     string
	kind    model.EdgeKind
	targets []string
}

// splitOutgoing partitions a symbol's outgoing resolved edges into linear
// continuations and fan-out groups, absorbing shared-infrastructure targets
// into annotations on the current step.
func (t *Tracer) splitOutgoing(tc *traceContext, current string, p *path) ([]string, []fanOutGroup) {
	var linear []string
	grouped := make(map[string]*fanOutGroup)
	currentStep := &p.steps[len(p.steps)-1]

	for _, e := range tc.adjacency[current] {
		if tc.infra[e.TargetID] {
			currentStep.Infrastructure = append(currentStep.Infrastructure, model.InfraAnnotation{
				SymbolID: e.TargetID,
				Role:     "utility",
			})
			continue
		}

		if model.FanOutKinds[e.Kind] {
			g, ok := grouped[e.TargetKey]
			if !ok {
				g = &fanOutGroup{key: e.TargetKey, kind: e.Kind}
				grouped[e.TargetKey] = g
			}
			g.targets = append(g.targets, e.TargetID)
			continue
		}

		linear = append(linear, e.TargetID)
	}

	var fanouts []fanOutGroup
	for _, g := range grouped {
		sort.Strings(g.targets)
		if len(g.targets) == 1 {
			// Single listener: a linear step, not a branch point
			if _, hasPoint := tc.fanouts[current+"|"+g.key]; !hasPoint {
				linear = append(linear, g.targets[0])
				continue
			}
		}
		fanouts = append(fanouts, *g)
	}
	sort.Slice(fanouts, func(a, b int) bool { return fanouts[a].key < fanouts[b].key })
	sort.Strings(linear)

	return linear, fanouts
}

// fanOutPoint returns the recorded fan-out point for a group, creating one if
// resolution ran before the point was recorded.
func (t *Tracer) fanOutPoint(tc *traceContext, source string, group fanOutGroup) model.FanOutPoint {
	if fp, ok := tc.fanouts[source+"|"+group.key]; ok {
		return fp
	}

	fp := model.FanOutPoint{
		ID:          uuid.NewString(),
		SourceID:    source,
		TargetKey:   group.key,
		Kind:        group.kind,
		Location:    tc.locations[source],
		BranchCount: len(group.targets),
	}
	id, err := t.graph.UpsertFanOutPoint(fp)
	if err != nil {
		t.logger.Warn("could not record fan-out point", logging.Fields{
			"source": source, "key": group.key, "error": err.Error(),
		})
	} else {
		fp.ID = id
	}
	tc.fanouts[source+"|"+group.key] = fp
	return fp
}

func (t *Tracer) emit(entryID, outcomeID string, p *path, flags []model.PathwayFlag) model.Pathway {
	steps := make([]model.PathwayStep, len(p.steps))
	copy(steps, p.steps)
	lineage := make([]model.FanOutRef, len(p.lineage))
	copy(lineage, p.lineage)

	return model.Pathway{
		ID:            uuid.NewString(),
		EntrySymbol:   entryID,
		OutcomeSymbol: outcomeID,
		Steps:         steps,
		Lineage:       lineage,
		Flags:         flags,
	}
}
