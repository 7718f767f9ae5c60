package errors

import (
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// StoreUnavailable indicates the symbol/edge store cannot be opened or written
	StoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// WriteConflict indicates a store write conflict that exhausted its retries
	WriteConflict ErrorCode = "WRITE_CONFLICT"
	// MalformedRecord indicates an index record is missing required fields
	MalformedRecord ErrorCode = "MALFORMED_RECORD"
	// EdgeUnresolved indicates an edge could not be resolved automatically
	EdgeUnresolved ErrorCode = "EDGE_UNRESOLVED"
	// OracleUnavailable indicates no oracle is wired up for an ambiguous case
	OracleUnavailable ErrorCode = "ORACLE_UNAVAILABLE"
	// PathLimitExceeded indicates a trace exceeded the configured max path length
	PathLimitExceeded ErrorCode = "PATH_LIMIT_EXCEEDED"
	// SymbolNotFound indicates a referenced symbol doesn't exist in the store
	SymbolNotFound ErrorCode = "SYMBOL_NOT_FOUND"
	// IndexMissing indicates the input index file was not found
	IndexMissing ErrorCode = "INDEX_MISSING"
	// InvalidTransition indicates an attempt to revert a settled edge state
	InvalidTransition ErrorCode = "INVALID_TRANSITION"
	// GraphIncomplete indicates the completeness gate has open issues
	GraphIncomplete ErrorCode = "GRAPH_INCOMPLETE"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// OpenDocs suggests opening documentation
	OpenDocs FixActionType = "open-docs"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
}

// TracerError represents an engine error with code, message, and suggestions
type TracerError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a new TracerError
func New(code ErrorCode, message string, cause error) *TracerError {
	return &TracerError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Error implements the error interface
func (e *TracerError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *TracerError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *TracerError) WithDetails(details interface{}) *TracerError {
	e.Details = details
	return e
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	IndexMissing: {
		{
			Type:        RunCommand,
			Command:     "tracer ingest --index <index.jsonl>",
			Safe:        true,
			Description: "Load a symbol/edge index into the store",
		},
	},
	EdgeUnresolved: {
		{
			Type:        RunCommand,
			Command:     "tracer resolve",
			Safe:        true,
			Description: "Run connection resolution over the unresolved backlog",
		},
	},
	OracleUnavailable: {
		{
			Type:        RunCommand,
			Command:     "tracer resolve --answers answers.toml",
			Safe:        true,
			Description: "Apply pre-recorded oracle answers from a file",
		},
	},
	GraphIncomplete: {
		{
			Type:        RunCommand,
			Command:     "tracer validate",
			Safe:        true,
			Description: "List open validation issues blocking completeness",
		},
	},
	StoreUnavailable: {
		{
			Type:        RunCommand,
			Command:     "tracer init",
			Safe:        true,
			Description: "Initialize the .tracer store in this repository",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
