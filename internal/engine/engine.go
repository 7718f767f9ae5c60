// Package engine wires the pipeline together: ingest, resolve, classify,
// trace, validate, and the oracle-driven convergence loop on top.
package engine

import (
	"context"
	stderrors "errors"

	"tracer/internal/config"
	"tracer/internal/errors"
	"tracer/internal/export"
	"tracer/internal/graph"
	"tracer/internal/incremental"
	"tracer/internal/ingest"
	"tracer/internal/jobs"
	"tracer/internal/logging"
	"tracer/internal/oracle"
	"tracer/internal/resolver"
	"tracer/internal/rules"
	"tracer/internal/storage"
	"tracer/internal/validate"
)

// Engine owns the store and every pipeline stage for one repository.
type Engine struct {
	cfg    *config.Config
	db     *storage.DB
	logger *logging.Logger

	symbols *storage.SymbolStore
	edges   *storage.EdgeStore
	store   *storage.GraphStore
	issues  *storage.IssueStore

	resolver   *resolver.Resolver
	classifier *graph.Classifier
	tracer     *graph.Tracer
	validator  *validate.Validator
	updater    *incremental.Updater
	exporter   *export.Exporter

	oracle oracle.Oracle
}

// Open opens the store under repoRoot and builds the pipeline from config.
func Open(repoRoot string, cfg *config.Config, logger *logging.Logger) (*Engine, error) {
	db, err := storage.Open(repoRoot, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		db:      db,
		logger:  logger,
		symbols: storage.NewSymbolStore(db),
		edges:   storage.NewEdgeStore(db),
		store:   storage.NewGraphStore(db),
		issues:  storage.NewIssueStore(db),
	}

	var patterns *resolver.Patterns
	if cfg.Resolver.PatternsFile != "" {
		patterns, err = resolver.LoadPatterns(cfg.Resolver.PatternsFile)
		if err != nil {
			db.Close() //nolint:errcheck
			return nil, err
		}
	}

	if cfg.Resolver.AnswersFile != "" {
		o, err := oracle.NewFileOracle(cfg.Resolver.AnswersFile)
		if err != nil {
			logger.Warn("answers file unavailable, continuing without oracle", logging.Fields{
				"path": cfg.Resolver.AnswersFile, "error": err.Error(),
			})
		} else {
			e.oracle = o
		}
	}

	var ruleSet *rules.RuleSet
	if cfg.Tracing.RulesFile != "" {
		ruleSet, err = rules.Load(cfg.Tracing.RulesFile)
		if err != nil {
			db.Close() //nolint:errcheck
			return nil, err
		}
	}

	e.resolver = resolver.New(e.symbols, e.edges, e.store, patterns, e.oracle,
		logger, cfg.Resolver.OracleBatchSize)
	e.classifier = graph.NewClassifier(e.symbols, e.edges, e.store, ruleSet, logger)

	e.tracer = graph.NewTracer(e.symbols, e.edges, e.store, logger)
	if cfg.Tracing.MaxPathLength > 0 {
		e.tracer.MaxPathLength = cfg.Tracing.MaxPathLength
	}
	if cfg.Tracing.SharedCallerThreshold > 0 {
		e.tracer.SharedCallerThreshold = cfg.Tracing.SharedCallerThreshold
	}

	e.validator = validate.New(e.symbols, e.edges, e.store, e.issues, logger)
	e.updater = incremental.New(e.symbols, e.edges, e.store,
		e.resolver, e.classifier, e.tracer, e.validator, logger)
	e.exporter = export.New(e.symbols, e.edges, e.store, e.issues, logger)

	return e, nil
}

// Close releases the store.
func (e *Engine) Close() error {
	return e.db.Close()
}

// IngestStats summarises one index load.
type IngestStats struct {
	Symbols int `json:"symbols"`
	Edges   int `json:"edges"`
	Hints   int `json:"hints"`
	Skipped int `json:"skipped"`
}

// Ingest loads an extractor index (and optional hints file) into the store.
// Re-ingesting an index is idempotent: edges the resolver already settled
// keep their state.
func (e *Engine) Ingest(ctx context.Context, indexPath, hintsPath string) (*IngestStats, error) {
	result, err := ingest.LoadJSONL(indexPath, hintsPath, e.logger)
	if err != nil {
		return nil, err
	}
	return e.persist(ctx, result)
}

// persist writes a loaded index into the store.
func (e *Engine) persist(ctx context.Context, result *ingest.Result) (*IngestStats, error) {
	for i := range result.Symbols {
		result.Symbols[i].Fingerprint = incremental.Fingerprint(&result.Symbols[i])
	}
	if err := e.symbols.UpsertSymbols(result.Symbols); err != nil {
		return nil, err
	}

	for _, edge := range result.Edges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.edges.UpsertEdge(edge); err != nil {
			// A settled edge re-ingested as unresolved keeps its resolution
			var te *errors.TracerError
			if stderrors.As(err, &te) && te.Code == errors.InvalidTransition {
				continue
			}
			return nil, err
		}
	}

	stats := &IngestStats{
		Symbols: len(result.Symbols),
		Edges:   len(result.Edges),
		Hints:   len(result.Hints),
		Skipped: result.Skipped,
	}
	e.logger.Info("index ingested", logging.Fields{
		"symbols": stats.Symbols, "edges": stats.Edges,
		"hints": stats.Hints, "skipped": stats.Skipped,
	})
	return stats, nil
}

// IngestSCIP loads a SCIP protobuf index instead of the JSONL form.
func (e *Engine) IngestSCIP(ctx context.Context, path string) (*IngestStats, error) {
	result, err := ingest.LoadSCIP(path, e.logger)
	if err != nil {
		return nil, err
	}
	return e.persist(ctx, result)
}

// BuildResult summarises one full build.
type BuildResult struct {
	Passes     int                `json:"passes"`
	Resolution *resolver.Stats    `json:"resolution,omitempty"`
	Trace      *graph.TraceResult `json:"trace,omitempty"`
	Report     *validate.Report   `json:"report,omitempty"`
}

// Build runs the full pipeline until the graph validates complete, the
// oracle stops making progress, or the pass limit is reached.
func (e *Engine) Build(ctx context.Context) (*BuildResult, error) {
	maxPasses := e.cfg.Validator.MaxPasses
	if maxPasses < 1 {
		maxPasses = 1
	}

	result := &BuildResult{}
	for pass := 1; pass <= maxPasses; pass++ {
		result.Passes = pass

		stats, err := e.Resolve(ctx)
		if err != nil {
			return result, err
		}
		result.Resolution = stats

		if _, _, err := e.classifier.Run(); err != nil {
			return result, err
		}

		trace, err := e.Trace(ctx)
		if err != nil {
			return result, err
		}
		result.Trace = trace

		report, err := e.validator.Run()
		if err != nil {
			return result, err
		}
		result.Report = report
		if report.Complete {
			break
		}

		applied, err := e.validator.ApplyAnswers(ctx, e.oracle, e.cfg.Resolver.OracleBatchSize)
		if err != nil {
			return result, err
		}
		if applied.Answered == 0 {
			// No oracle or no new verdicts: another pass changes nothing
			break
		}
		e.logger.Info("oracle verdicts applied, repeating pass", logging.Fields{
			"pass": pass, "answered": applied.Answered,
			"dead": len(applied.Dead), "external": len(applied.External),
		})
	}

	// The report reflects the final pass, including any verdicts applied
	report, err := e.validator.BuildReport()
	if err != nil {
		return result, err
	}
	result.Report = report
	return result, nil
}

// Resolve works the unresolved backlog: fan-out groups first in a single
// serial pass, since each group must settle as one unit of work, then the
// remaining files in parallel.
func (e *Engine) Resolve(ctx context.Context) (*resolver.Stats, error) {
	total, err := e.resolver.ResolveFanOuts(ctx)
	if err != nil {
		return total, err
	}

	files, err := e.edges.UnresolvedFiles()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return total, nil
	}

	tasks := make([]jobs.Task, len(files))
	results := make([]*resolver.Stats, len(files))
	for i, file := range files {
		i, file := i, file
		tasks[i] = jobs.Task{Name: "resolve " + file, Run: func(ctx context.Context) error {
			stats, err := e.resolver.ResolveFile(ctx, file)
			results[i] = stats
			return err
		}}
	}

	pool := jobs.NewPool(e.cfg.Workers.ResolveWorkers, e.logger)
	run, err := pool.Run(ctx, tasks)
	if err != nil {
		return nil, err
	}
	if len(run.Failed) > 0 {
		return nil, run.Failed[0].Err
	}

	for _, stats := range results {
		if stats == nil {
			continue
		}
		total.Resolved += stats.Resolved
		total.DeadEnds += stats.DeadEnds
		total.External += stats.External
		total.Escalated += stats.Escalated
		total.Remaining += stats.Remaining
	}
	return total, nil
}

// Trace retraces every entry point, entries in parallel.
func (e *Engine) Trace(ctx context.Context) (*graph.TraceResult, error) {
	entries, err := e.store.EntryPoints()
	if err != nil {
		return nil, err
	}

	total := &graph.TraceResult{}
	if len(entries) == 0 {
		return total, nil
	}

	tasks := make([]jobs.Task, len(entries))
	results := make([]*graph.TraceResult, len(entries))
	for i, ep := range entries {
		i, id := i, ep.SymbolID
		tasks[i] = jobs.Task{Name: "trace " + id, Run: func(ctx context.Context) error {
			r, err := e.tracer.TraceEntries(ctx, []string{id})
			results[i] = r
			return err
		}}
	}

	pool := jobs.NewPool(e.cfg.Workers.TraceWorkers, e.logger)
	run, err := pool.Run(ctx, tasks)
	if err != nil {
		return nil, err
	}
	if len(run.Failed) > 0 {
		return nil, run.Failed[0].Err
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		total.Entries += r.Entries
		total.Pathways += r.Pathways
		total.Truncated += r.Truncated
		total.DeadEnds = append(total.DeadEnds, r.DeadEnds...)
	}
	return total, nil
}

// Validate recomputes the invariants. With applyAnswers, recorded oracle
// verdicts are applied and affected entries retraced before the final report.
func (e *Engine) Validate(ctx context.Context, applyAnswers bool) (*validate.Report, error) {
	report, err := e.validator.Run()
	if err != nil {
		return nil, err
	}
	if !applyAnswers || report.Complete {
		return report, nil
	}

	applied, err := e.validator.ApplyAnswers(ctx, e.oracle, e.cfg.Resolver.OracleBatchSize)
	if err != nil {
		return nil, err
	}
	if applied.Answered == 0 {
		return report, nil
	}

	// Missing-link verdicts need the resolver and tracer to pick up the fix
	if len(applied.MissingLinks) > 0 {
		if _, err := e.Resolve(ctx); err != nil {
			return nil, err
		}
		if _, err := e.Trace(ctx); err != nil {
			return nil, err
		}
	}
	return e.validator.Run()
}

// Update applies a partial re-extraction incrementally.
func (e *Engine) Update(ctx context.Context, indexPath, hintsPath string) (*incremental.UpdateResult, error) {
	result, err := ingest.LoadJSONL(indexPath, hintsPath, e.logger)
	if err != nil {
		return nil, err
	}
	for i := range result.Symbols {
		result.Symbols[i].Fingerprint = incremental.Fingerprint(&result.Symbols[i])
	}

	if limit := e.cfg.Incremental.MaxChangedSymbols; limit > 0 && len(result.Symbols) > limit {
		e.logger.Info("change set too large, rebuilding", logging.Fields{
			"symbols": len(result.Symbols), "limit": limit,
		})
		if _, err := e.Ingest(ctx, indexPath, hintsPath); err != nil {
			return nil, err
		}
		build, err := e.Build(ctx)
		if err != nil {
			return nil, err
		}
		return &incremental.UpdateResult{
			EntriesRetraced: build.Trace.Entries,
			Report:          build.Report,
		}, nil
	}

	return e.updater.Update(ctx, result)
}

// Export writes the graph snapshot to path.
func (e *Engine) Export(path string) error {
	return e.exporter.WriteFile(path)
}

// Status describes the current state of the store.
type Status struct {
	Symbols  int                              `json:"symbols"`
	Edges    map[string]int                   `json:"edges"`
	Entries  int                              `json:"entryPoints"`
	Outcomes int                              `json:"finalOutcomes"`
	Pathways int                              `json:"pathways"`
	Issues   map[string]int                   `json:"openIssues"`
	Complete bool                             `json:"complete"`
}

// Status reports store counts and completeness.
func (e *Engine) Status() (*Status, error) {
	st := &Status{Edges: make(map[string]int), Issues: make(map[string]int)}

	var err error
	if st.Symbols, err = e.symbols.Count(); err != nil {
		return nil, err
	}
	byState, err := e.edges.CountByState()
	if err != nil {
		return nil, err
	}
	for state, n := range byState {
		st.Edges[string(state)] = n
	}

	entries, err := e.store.EntryPoints()
	if err != nil {
		return nil, err
	}
	st.Entries = len(entries)
	outcomes, err := e.store.FinalOutcomes()
	if err != nil {
		return nil, err
	}
	st.Outcomes = len(outcomes)
	pathways, err := e.store.Pathways()
	if err != nil {
		return nil, err
	}
	st.Pathways = len(pathways)

	byKind, err := e.issues.OpenCountByKind()
	if err != nil {
		return nil, err
	}
	for kind, n := range byKind {
		st.Issues[string(kind)] = n
	}

	report, err := e.validator.BuildReport()
	if err != nil {
		return nil, err
	}
	st.Complete = report.Complete
	return st, nil
}
