// Package model defines the records shared by the store, resolver, builder,
// validator and updater: symbols, edges, entry points, outcomes, pathways,
// fan-out points and validation issues.
package model

import (
	"fmt"
	"strings"
)

// Location is a file:line range back-reference into the indexed codebase.
type Location struct {
	File      string `json:"file"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine,omitempty"`
}

// String renders the location as file:line for logs and source maps.
func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.StartLine)
}

// SymbolKind classifies an extracted symbol.
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindClass     SymbolKind = "class"
	KindRoute     SymbolKind = "route"
	KindHandler   SymbolKind = "handler"
	KindTrigger   SymbolKind = "trigger"
	KindTable     SymbolKind = "table"
	KindView      SymbolKind = "view"
	KindProcedure SymbolKind = "procedure"
	KindVariable  SymbolKind = "variable"
	KindImport    SymbolKind = "import"
)

// Param is one parameter in a symbol signature.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Signature holds the callable metadata recorded by the indexer.
type Signature struct {
	Params     []Param `json:"params,omitempty"`
	ReturnType string  `json:"returnType,omitempty"`
	Async      bool    `json:"async,omitempty"`
}

// Symbol is an immutable record extracted by the external indexer. Symbols
// are replaced wholesale when their source file is re-extracted.
type Symbol struct {
	ID            string     `json:"id"`
	Kind          SymbolKind `json:"kind"`
	Name          string     `json:"name"`
	QualifiedName string     `json:"qualifiedName,omitempty"`
	Location      Location   `json:"location"`
	Visibility    string     `json:"visibility,omitempty"`
	Exported      bool       `json:"exported,omitempty"`
	Signature     *Signature `json:"signature,omitempty"`
	Fingerprint   string     `json:"fingerprint,omitempty"`
}

// EdgeKind is the connection type between two symbols.
type EdgeKind string

const (
	EdgeDirectCall EdgeKind = "direct_call"
	EdgeEvent      EdgeKind = "event"
	EdgeIPC        EdgeKind = "ipc"
	EdgePubSub     EdgeKind = "pubsub"
	EdgeDBHook     EdgeKind = "db_hook"
	EdgeInjection  EdgeKind = "di"
	EdgeRouting    EdgeKind = "route"
	EdgeReflection EdgeKind = "reflection"
)

// FanOutKinds are the edge kinds that split one incoming path into multiple
// independent continuations.
var FanOutKinds = map[EdgeKind]bool{
	EdgeEvent:  true,
	EdgePubSub: true,
	EdgeDBHook: true,
}

// ResolutionState tracks an edge through the resolver.
// Transitions are monotonic: unresolved -> resolved | dead_end | external.
type ResolutionState string

const (
	StateUnresolved ResolutionState = "unresolved"
	StateResolved   ResolutionState = "resolved"
	StateDeadEnd    ResolutionState = "dead_end"
	StateExternal   ResolutionState = "external"
)

// CanTransition reports whether an edge may move from one state to another.
func CanTransition(from, to ResolutionState) bool {
	if from == to {
		return true
	}
	return from == StateUnresolved
}

// Edge connects a source symbol to a target symbol or an as-yet-unresolved
// target name. TargetID is empty until the resolver binds the edge.
type Edge struct {
	SourceID      string          `json:"sourceId"`
	TargetKey     string          `json:"targetKey"`
	TargetID      string          `json:"targetId,omitempty"`
	Kind          EdgeKind        `json:"kind"`
	Location      Location        `json:"location"`
	State         ResolutionState `json:"state"`
	RawExpression string          `json:"rawExpression,omitempty"`
}

// DedupKey is the uniqueness key for an edge. The same logical connection
// discovered from both ends collapses to one row under this key.
func (e Edge) DedupKey() string {
	return strings.Join([]string{string(e.Kind), e.SourceID, e.TargetKey, e.Location.String()}, "|")
}

// EntryPoint tags a symbol as an externally triggered start of execution.
type EntryPoint struct {
	SymbolID     string `json:"symbolId"`
	Category     string `json:"category"`
	Label        string `json:"label,omitempty"`
	AuthRequired bool   `json:"authRequired,omitempty"`
}

// FinalOutcome tags a symbol as an externally observable effect.
type FinalOutcome struct {
	SymbolID string `json:"symbolId"`
	Category string `json:"category"`
	Target   string `json:"target,omitempty"`
}

// Entry-point categories.
const (
	EntryRequestHandler  = "request_handler"
	EntryScheduledJob    = "scheduled_job"
	EntryMessageConsumer = "message_consumer"
	EntryLifecycleHook   = "lifecycle_hook"
	EntryUIEvent         = "ui_event"
)

// Final-outcome categories.
const (
	OutcomeDataMutation  = "data_mutation"
	OutcomeResponse      = "response_emission"
	OutcomeOutboundCall  = "outbound_call"
	OutcomeNotification  = "notification_dispatch"
	OutcomeFileWrite     = "file_write"
	OutcomeQueuePublish  = "queue_publish"
	OutcomeCacheMutation = "cache_mutation"
	OutcomeUIStateChange = "ui_state_change"
	OutcomeExternalCall  = "external_call"
)

// StepType classifies one step within a pathway.
type StepType string

const (
	StepEntry   StepType = "entry"
	StepCall    StepType = "call"
	StepFanOut  StepType = "fanout"
	StepOutcome StepType = "outcome"
)

// InfraAnnotation records a utility symbol referenced by a step without being
// a step itself.
type InfraAnnotation struct {
	SymbolID string `json:"symbolId"`
	Role     string `json:"role,omitempty"`
}

// PathwayStep is one symbol visit on a pathway, in traversal order.
type PathwayStep struct {
	SymbolID       string            `json:"symbolId"`
	Type           StepType          `json:"type"`
	Location       Location          `json:"location"`
	Infrastructure []InfraAnnotation `json:"infrastructure,omitempty"`
}

// PathwayFlag marks a non-fatal anomaly recorded during tracing.
type PathwayFlag string

const (
	FlagCycleTruncated  PathwayFlag = "cycle_truncated"
	FlagLengthTruncated PathwayFlag = "length_truncated"
)

// FanOutRef records which fan-out point a pathway passed through and which
// branch it took.
type FanOutRef struct {
	FanOutID    string `json:"fanOutId"`
	BranchIndex int    `json:"branchIndex"`
}

// Pathway is one ordered chain of steps from an entry point to a final
// outcome. Pathways are created and destroyed wholesale, never mutated.
type Pathway struct {
	ID            string        `json:"id"`
	EntrySymbol   string        `json:"entrySymbol"`
	OutcomeSymbol string        `json:"outcomeSymbol,omitempty"`
	Steps         []PathwayStep `json:"steps"`
	Lineage       []FanOutRef   `json:"lineage,omitempty"`
	Flags         []PathwayFlag `json:"flags,omitempty"`
}

// HasFlag reports whether the pathway carries the given flag.
func (p *Pathway) HasFlag(f PathwayFlag) bool {
	for _, have := range p.Flags {
		if have == f {
			return true
		}
	}
	return false
}

// FanOutPoint is a one-to-many edge with its recorded branch count.
type FanOutPoint struct {
	ID          string   `json:"id"`
	SourceID    string   `json:"sourceId"`
	TargetKey   string   `json:"targetKey"`
	Kind        EdgeKind `json:"kind"`
	Location    Location `json:"location"`
	BranchCount int      `json:"branchCount"`
}

// IssueKind classifies a validation issue.
type IssueKind string

const (
	IssueOrphanEntry        IssueKind = "orphan_entry"
	IssueUnreachableOutcome IssueKind = "unreachable_outcome"
	IssueGraphGap           IssueKind = "graph_gap"
	IssueIncompleteFanOut   IssueKind = "incomplete_fan_out"
)

// IssueStatus tracks whether an issue is still open.
type IssueStatus string

const (
	IssueOpen     IssueStatus = "open"
	IssueResolved IssueStatus = "resolved"
)

// ValidationIssue is an actionable gap found by the validator. Issues are
// closed by oracle resolution, never silently.
type ValidationIssue struct {
	ID          string      `json:"id"`
	Kind        IssueKind   `json:"kind"`
	SubjectID   string      `json:"subjectId"`
	Observation string      `json:"observation"`
	Question    string      `json:"question,omitempty"`
	Options     []string    `json:"options,omitempty"`
	Status      IssueStatus `json:"status"`
	Resolution  string      `json:"resolution,omitempty"`
	Explanation string      `json:"explanation,omitempty"`
}

// ConnectionHint is a raw indirect-reference record from the indexer backlog,
// awaiting resolution into a concrete edge.
type ConnectionHint struct {
	Type       string   `json:"type"`
	SourceID   string   `json:"sourceId,omitempty"`
	Location   Location `json:"location"`
	Expression string   `json:"expression,omitempty"`
	Note       string   `json:"note,omitempty"`
}
