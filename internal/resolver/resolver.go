// Package resolver settles the unresolved edge backlog. Each edge moves from
// unresolved to exactly one of resolved, dead_end or external, and never
// back; re-running the resolver over a settled store is a no-op.
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"tracer/internal/logging"
	"tracer/internal/model"
	"tracer/internal/oracle"
	"tracer/internal/storage"
)

// Resolver binds edges to target symbols using, in order: project patterns,
// symbol lookup, and the oracle for the genuinely ambiguous remainder.
type Resolver struct {
	symbols   *storage.SymbolStore
	edges     *storage.EdgeStore
	graph     *storage.GraphStore
	patterns  *Patterns
	oracle    oracle.Oracle
	logger    *logging.Logger
	batchSize int
}

// New creates a resolver. The oracle may be nil; ambiguous edges then stay
// unresolved until a later run provides one.
func New(symbols *storage.SymbolStore, edges *storage.EdgeStore, graph *storage.GraphStore,
	patterns *Patterns, o oracle.Oracle, logger *logging.Logger, batchSize int) *Resolver {
	if patterns == nil {
		patterns = &Patterns{}
	}
	return &Resolver{
		symbols:   symbols,
		edges:     edges,
		graph:     graph,
		patterns:  patterns,
		oracle:    o,
		logger:    logger,
		batchSize: batchSize,
	}
}

// Stats summarises one resolution run.
type Stats struct {
	Resolved  int `json:"resolved"`
	DeadEnds  int `json:"deadEnds"`
	External  int `json:"external"`
	Escalated int `json:"escalated"`
	Remaining int `json:"remaining"`
}

// ResolveAll works through the whole unresolved backlog: first the fan-out
// groups, which span files and must settle as single units, then the rest
// file by file. Files are the unit of work so runs can be parallelised and
// interrupted cleanly.
func (r *Resolver) ResolveAll(ctx context.Context) (*Stats, error) {
	total, err := r.ResolveFanOuts(ctx)
	if err != nil {
		return total, err
	}

	files, err := r.edges.UnresolvedFiles()
	if err != nil {
		return total, err
	}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		stats, err := r.ResolveFile(ctx, file)
		if err != nil {
			return total, err
		}
		total.Resolved += stats.Resolved
		total.DeadEnds += stats.DeadEnds
		total.External += stats.External
		total.Escalated += stats.Escalated
		total.Remaining += stats.Remaining
	}

	r.logger.Info("resolution pass complete", logging.Fields{
		"files": len(files), "resolved": total.Resolved, "dead_ends": total.DeadEnds,
		"external": total.External, "remaining": total.Remaining,
	})
	return total, nil
}

// ResolveFile settles the unresolved edges whose source location is in one
// file.
func (r *Resolver) ResolveFile(ctx context.Context, file string) (*Stats, error) {
	backlog, err := r.edges.GetUnresolvedEdges(file)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	type escalation struct {
		edge     model.Edge
		question oracle.Question
	}
	var escalations []escalation

	for _, edge := range backlog {
		if model.FanOutKinds[edge.Kind] {
			// One-to-many edges span files and are settled as groups by
			// ResolveFanOuts before the per-file pass reaches them.
			continue
		}

		verdict, candidates, err := r.examine(edge)
		if err != nil {
			return stats, err
		}

		switch {
		case verdict == model.StateResolved:
			edge.State = model.StateResolved
			edge.TargetID = candidates[0].ID
			if err := r.edges.UpsertEdge(edge); err != nil {
				return stats, err
			}
			stats.Resolved++

		case verdict == model.StateExternal:
			edge.State = model.StateExternal
			if err := r.edges.UpsertEdge(edge); err != nil {
				return stats, err
			}
			stats.External++

		case verdict == model.StateDeadEnd:
			edge.State = model.StateDeadEnd
			if err := r.edges.UpsertEdge(edge); err != nil {
				return stats, err
			}
			stats.DeadEnds++

		default:
			// Ambiguous: several candidates and no rule to pick one
			options := make([]string, len(candidates))
			for i, c := range candidates {
				options[i] = c.ID
			}
			escalations = append(escalations, escalation{
				edge: edge,
				question: oracle.Question{
					ID:        uuid.NewString(),
					SubjectID: edge.DedupKey(),
					Observation: fmt.Sprintf("%s references %q, which matches %d symbols",
						edge.SourceID, edge.TargetKey, len(candidates)),
					Prompt:  "Which symbol does this reference resolve to?",
					Options: options,
				},
			})
		}
	}

	if len(escalations) == 0 {
		return stats, nil
	}
	stats.Escalated = len(escalations)

	if r.oracle == nil {
		stats.Remaining = len(escalations)
		r.logger.Debug("no oracle configured, leaving ambiguous edges open", logging.Fields{
			"file": file, "count": len(escalations),
		})
		return stats, nil
	}

	questions := make([]oracle.Question, len(escalations))
	byQuestion := make(map[string]model.Edge, len(escalations))
	for i, esc := range escalations {
		questions[i] = esc.question
		byQuestion[esc.question.ID] = esc.edge
	}

	answers, err := oracle.ResolveBatched(ctx, r.oracle, questions, r.batchSize)
	if err != nil {
		stats.Remaining = len(escalations)
		r.logger.Warn("oracle unavailable, leaving ambiguous edges open", logging.Fields{
			"file": file, "count": len(escalations), "error": err.Error(),
		})
		return stats, nil
	}

	answered := make(map[string]bool, len(answers))
	for _, a := range answers {
		edge := byQuestion[a.QuestionID]
		edge.State = model.StateResolved
		edge.TargetID = a.Choice
		if err := r.edges.UpsertEdge(edge); err != nil {
			return stats, err
		}
		answered[a.QuestionID] = true
		stats.Resolved++
	}
	stats.Remaining = len(escalations) - len(answered)
	return stats, nil
}

// ResolveFanOuts settles the one-to-many backlog. All unresolved edges
// sharing a fan-out key are settled together as one unit of work, so the
// emit/listen rendezvous binds the same direction no matter which file the
// resolver reaches first. A group whose key matches no listeners anywhere
// falls through to the ordinary examination.
func (r *Resolver) ResolveFanOuts(ctx context.Context) (*Stats, error) {
	backlog, err := r.edges.GetUnresolvedEdges("")
	if err != nil {
		return nil, err
	}

	type groupKey struct {
		kind model.EdgeKind
		key  string
	}
	groups := make(map[groupKey][]model.Edge)
	var order []groupKey
	for _, edge := range backlog {
		if !model.FanOutKinds[edge.Kind] {
			continue
		}
		gk := groupKey{edge.Kind, edge.TargetKey}
		if _, ok := groups[gk]; !ok {
			order = append(order, gk)
		}
		groups[gk] = append(groups[gk], edge)
	}
	sort.Slice(order, func(a, b int) bool {
		if order[a].kind != order[b].kind {
			return order[a].kind < order[b].kind
		}
		return order[a].key < order[b].key
	})

	stats := &Stats{}
	for _, gk := range order {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		leftover, n, err := r.settleFanOutGroup(groups[gk])
		if err != nil {
			return stats, err
		}
		stats.Resolved += n

		for _, edge := range leftover {
			verdict, candidates, err := r.examine(edge)
			if err != nil {
				return stats, err
			}
			switch verdict {
			case model.StateResolved:
				edge.State = model.StateResolved
				edge.TargetID = candidates[0].ID
				if err := r.edges.UpsertEdge(edge); err != nil {
					return stats, err
				}
				stats.Resolved++
			case model.StateExternal:
				edge.State = model.StateExternal
				if err := r.edges.UpsertEdge(edge); err != nil {
					return stats, err
				}
				stats.External++
			case model.StateDeadEnd:
				edge.State = model.StateDeadEnd
				if err := r.edges.UpsertEdge(edge); err != nil {
					return stats, err
				}
				stats.DeadEnds++
			default:
				stats.Remaining++
			}
		}
	}
	return stats, nil
}

// Role of an edge within an emit/listen pair, decided from its recorded
// expression text with the source symbol name as fallback.
const (
	roleUnknown = iota
	roleEmit
	roleListen
)

var (
	emitSide   = regexp.MustCompile(`(?i:emit|publish|dispatch|broadcast|fire|produce)`)
	listenSide = regexp.MustCompile(`(?i:subscribe|listen|consum|receiv|handle)|on[A-Z]|\.on\(`)
)

func fanRole(text string) int {
	e, l := emitSide.MatchString(text), listenSide.MatchString(text)
	switch {
	case e && !l:
		return roleEmit
	case l && !e:
		return roleListen
	}
	return roleUnknown
}

func edgeRole(edge model.Edge) int {
	if role := fanRole(edge.RawExpression); role != roleUnknown {
		return role
	}
	name := edge.SourceID
	if idx := strings.LastIndex(name, ":"); idx >= 0 {
		name = name[idx+1:]
	}
	return fanRole(name)
}

// settleFanOutGroup settles the unresolved edges sharing one fan-out key.
// The emit side anchors: every listener becomes a resolved branch edge
// written at the listener's defining location so the rows stay distinct
// under the dedup key, the emit-site row settles with no target, and a
// FanOutPoint records the branch count. Listen-side registrations settle
// the same way as the anchor, never as a reverse edge. Which side is which
// is decided canonically from the edges themselves, so the group settles
// identically regardless of processing order. Edges the group cannot bind
// are returned for ordinary examination.
func (r *Resolver) settleFanOutGroup(group []model.Edge) ([]model.Edge, int, error) {
	resolved := 0
	var emitters, registrations, unknowns []model.Edge
	for _, edge := range group {
		// An emit site in an earlier run may have already bound this symbol
		// as a listener under the same key; this row is then the listen-side
		// registration of that connection.
		bound, err := r.boundAsListener(edge)
		if err != nil {
			return nil, resolved, err
		}
		if bound {
			edge.State = model.StateResolved
			edge.TargetID = ""
			if err := r.edges.UpsertEdge(edge); err != nil {
				return nil, resolved, err
			}
			continue
		}
		switch edgeRole(edge) {
		case roleEmit:
			emitters = append(emitters, edge)
		case roleListen:
			registrations = append(registrations, edge)
		default:
			unknowns = append(unknowns, edge)
		}
	}

	if len(emitters) == 0 && len(unknowns) > 0 {
		// Nothing marks the emit side; the smallest source anchors.
		sortEdgesBySource(unknowns)
		emitters, unknowns = unknowns[:1], unknowns[1:]
	}
	registrations = append(registrations, unknowns...)

	if len(emitters) == 0 {
		// Registrations with no emit site anywhere; nothing to anchor.
		return registrations, resolved, nil
	}

	emitterSources := make(map[string]bool, len(emitters))
	for _, em := range emitters {
		emitterSources[em.SourceID] = true
	}

	listeners, err := r.groupListeners(emitters[0], emitterSources, registrations)
	if err != nil {
		return nil, resolved, err
	}
	if len(listeners) == 0 {
		return append(emitters, registrations...), resolved, nil
	}

	for _, em := range emitters {
		for _, listener := range listeners {
			branch := model.Edge{
				SourceID:      em.SourceID,
				TargetKey:     em.TargetKey,
				TargetID:      listener.ID,
				Kind:          em.Kind,
				Location:      listener.Location,
				State:         model.StateResolved,
				RawExpression: em.RawExpression,
			}
			if err := r.edges.UpsertEdge(branch); err != nil {
				return nil, resolved, err
			}
			resolved++
		}

		em.State = model.StateResolved
		em.TargetID = ""
		if err := r.edges.UpsertEdge(em); err != nil {
			return nil, resolved, err
		}

		if _, err := r.graph.UpsertFanOutPoint(model.FanOutPoint{
			ID:          uuid.NewString(),
			SourceID:    em.SourceID,
			TargetKey:   em.TargetKey,
			Kind:        em.Kind,
			Location:    em.Location,
			BranchCount: len(listeners),
		}); err != nil {
			return nil, resolved, err
		}
	}

	for _, reg := range registrations {
		reg.State = model.StateResolved
		reg.TargetID = ""
		if err := r.edges.UpsertEdge(reg); err != nil {
			return nil, resolved, err
		}
	}
	return nil, resolved, nil
}

// boundAsListener reports whether an emit site already resolved a branch
// edge to this symbol under the same kind and key.
func (r *Resolver) boundAsListener(edge model.Edge) (bool, error) {
	incoming, err := r.edges.GetEdgesTo(edge.SourceID)
	if err != nil {
		return false, err
	}
	for _, in := range incoming {
		if in.Kind == edge.Kind && in.TargetKey == edge.TargetKey && in.State == model.StateResolved {
			return true, nil
		}
	}
	return false, nil
}

// groupListeners collects the listener symbols of a fan-out key: direct name
// matches, the group's own listen-side registrations, and registrations
// settled under the same key in an earlier run.
func (r *Resolver) groupListeners(sample model.Edge, emitterSources map[string]bool,
	registrations []model.Edge) ([]model.Symbol, error) {
	seen := make(map[string]bool)
	var listeners []model.Symbol
	add := func(sym model.Symbol) {
		if !seen[sym.ID] && !emitterSources[sym.ID] {
			seen[sym.ID] = true
			listeners = append(listeners, sym)
		}
	}

	candidates, err := r.lookup(sample.TargetKey)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		add(c)
	}

	for _, reg := range registrations {
		sym, err := r.symbols.GetSymbol(reg.SourceID)
		if err != nil {
			return nil, err
		}
		if sym != nil {
			add(*sym)
		}
	}

	sources, err := r.edges.RegistrationSources(sample.Kind, sample.TargetKey, sample.SourceID)
	if err != nil {
		return nil, err
	}
	for _, id := range sources {
		if emitterSources[id] {
			continue
		}
		if edgeRole(model.Edge{SourceID: id}) == roleEmit {
			continue
		}
		sym, err := r.symbols.GetSymbol(id)
		if err != nil {
			return nil, err
		}
		if sym != nil {
			add(*sym)
		}
	}

	sortSymbolsByID(listeners)
	return listeners, nil
}

func sortSymbolsByID(symbols []model.Symbol) {
	sort.Slice(symbols, func(a, b int) bool { return symbols[a].ID < symbols[b].ID })
}

func sortEdgesBySource(edges []model.Edge) {
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].SourceID != edges[b].SourceID {
			return edges[a].SourceID < edges[b].SourceID
		}
		if edges[a].Location.File != edges[b].Location.File {
			return edges[a].Location.File < edges[b].Location.File
		}
		return edges[a].Location.StartLine < edges[b].Location.StartLine
	})
}

// examine decides an edge's fate without touching the store. It returns the
// target state plus candidates: exactly one for resolved, the ambiguous set
// for the zero-state escalation case.
func (r *Resolver) examine(edge model.Edge) (model.ResolutionState, []model.Symbol, error) {
	key := edge.TargetKey

	verdict := r.patterns.Apply(key)
	switch verdict.Kind {
	case "external":
		return model.StateExternal, nil, nil
	case "dead_end":
		return model.StateDeadEnd, nil, nil
	case "rewrite":
		key = verdict.Rewrite
	}

	candidates, err := r.lookup(key)
	if err != nil {
		return "", nil, err
	}

	switch len(candidates) {
	case 0:
		return model.StateDeadEnd, nil, nil
	case 1:
		return model.StateResolved, candidates, nil
	}

	// Prefer a candidate defined in the edge's own file
	var sameFile []model.Symbol
	for _, c := range candidates {
		if c.Location.File == edge.Location.File {
			sameFile = append(sameFile, c)
		}
	}
	if len(sameFile) == 1 {
		return model.StateResolved, sameFile, nil
	}

	return "", candidates, nil
}

// lookup finds candidate symbols for a raw target key. Qualified references
// like Service.create match on the qualified name; bare names match on the
// simple name.
func (r *Resolver) lookup(key string) ([]model.Symbol, error) {
	simple := key
	if idx := strings.LastIndex(key, "."); idx >= 0 {
		simple = key[idx+1:]
	}
	simple = strings.TrimSuffix(simple, "()")
	if simple == "" {
		return nil, nil
	}

	candidates, err := r.symbols.GetSymbolsByName(simple)
	if err != nil {
		return nil, err
	}
	if len(candidates) <= 1 || !strings.Contains(key, ".") {
		return candidates, nil
	}

	// Qualified reference: narrow by qualified-name suffix
	var narrowed []model.Symbol
	for _, c := range candidates {
		if c.QualifiedName == key || strings.HasSuffix(key, "."+c.QualifiedName) {
			narrowed = append(narrowed, c)
		}
	}
	if len(narrowed) > 0 {
		return narrowed, nil
	}
	return candidates, nil
}
