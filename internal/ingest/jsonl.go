// Package ingest loads raw symbol/edge indexes into engine records. The JSONL
// loader reads the extractor's native output; the SCIP loader accepts a
// standard SCIP protobuf index as an alternative source.
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"tracer/internal/errors"
	"tracer/internal/logging"
	"tracer/internal/model"
	"tracer/internal/paths"
)

// maxLineBytes bounds a single JSONL record. Generated files occasionally
// carry very long lines; beyond this the record is treated as malformed.
const maxLineBytes = 4 * 1024 * 1024

// rawSymbol mirrors one extractor JSONL record. Members nest recursively for
// classes; calls carry the raw callee text for edge creation.
type rawSymbol struct {
	Type          string        `json:"type"`
	Name          string        `json:"name"`
	QualifiedName string        `json:"qualified_name"`
	File          string        `json:"file"`
	LineStart     int           `json:"line_start"`
	LineEnd       int           `json:"line_end"`
	Signature     *rawSignature `json:"signature"`
	IsAsync       bool          `json:"is_async"`
	Visibility    string        `json:"visibility"`
	Exports       []string      `json:"exports"`
	Calls         []rawCall     `json:"calls"`
	Members       []rawSymbol   `json:"members"`
	Source        string        `json:"source"`

	// Summary record fields
	FilesProcessed   int  `json:"files_processed"`
	FilesFailed      int  `json:"files_failed"`
	SymbolsExtracted int  `json:"symbols_extracted"`
	ValidationPassed bool `json:"validation_passed"`
}

type rawSignature struct {
	Params     []rawParam `json:"params"`
	ReturnType string     `json:"return_type"`
}

type rawParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type rawCall struct {
	Name string `json:"name"`
	Line int    `json:"line"`
}

// rawHint mirrors one record of the extractor's hints JSONL.
type rawHint struct {
	HintType string `json:"hint_type"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Text     string `json:"text"`
}

// Summary is the extractor's trailing bookkeeping record.
type Summary struct {
	FilesProcessed   int
	FilesFailed      int
	SymbolsExtracted int
	ValidationPassed bool
}

// Result is a parsed index ready for persistence: symbols, the unresolved
// edge backlog derived from calls and hints, and load statistics.
type Result struct {
	Symbols []model.Symbol
	Edges   []model.Edge
	Hints   []model.ConnectionHint
	Summary *Summary
	Skipped int
}

// hintEdgeKinds maps extractor hint types to the edge kind the resolver will
// work on. Unknown hint types are kept as hints but produce no edge.
var hintEdgeKinds = map[string]model.EdgeKind{
	"dynamic_call":        model.EdgeDirectCall,
	"string_key_dispatch": model.EdgeDirectCall,
	"data_store_access":   model.EdgeDBHook,
	"reflection":          model.EdgeReflection,
	"framework_magic":     model.EdgeInjection,
}

// symbolKinds maps extractor symbol types onto the engine's kinds. Types not
// listed here (exports, type aliases) carry no graph semantics and are
// skipped without a warning.
var symbolKinds = map[string]model.SymbolKind{
	"function":  model.KindFunction,
	"method":    model.KindMethod,
	"class":     model.KindClass,
	"struct":    model.KindClass,
	"interface": model.KindClass,
	"enum":      model.KindClass,
	"variable":  model.KindVariable,
	"constant":  model.KindVariable,
	"property":  model.KindVariable,
	"field":     model.KindVariable,
	"import":    model.KindImport,
	"table":     model.KindTable,
	"view":      model.KindView,
	"procedure": model.KindProcedure,
	"trigger":   model.KindTrigger,
	"route":     model.KindRoute,
	"handler":   model.KindHandler,
}

// LoadJSONL reads an extractor index file. Malformed records are skipped with
// a warning rather than failing the load; the extractor's own validation is
// the gate for correctness, this loader only guards the store.
func LoadJSONL(indexPath, hintsPath string, logger *logging.Logger) (*Result, error) {
	f, err := os.Open(indexPath)
	if err != nil {
		return nil, errors.New(errors.IndexMissing,
			fmt.Sprintf("index file %s not found", indexPath), err)
	}
	defer f.Close() //nolint:errcheck

	result := &Result{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw rawSymbol
		if err := json.Unmarshal(line, &raw); err != nil {
			logger.Warn("skipping malformed record", logging.Fields{
				"file": indexPath, "line": lineNo, "error": err.Error(),
			})
			result.Skipped++
			continue
		}

		if raw.Type == "summary" {
			result.Summary = &Summary{
				FilesProcessed:   raw.FilesProcessed,
				FilesFailed:      raw.FilesFailed,
				SymbolsExtracted: raw.SymbolsExtracted,
				ValidationPassed: raw.ValidationPassed,
			}
			continue
		}

		if err := appendSymbol(result, raw, ""); err != nil {
			logger.Warn("skipping invalid symbol", logging.Fields{
				"file": indexPath, "line": lineNo, "error": err.Error(),
			})
			result.Skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(errors.MalformedRecord,
			fmt.Sprintf("reading %s", indexPath), err)
	}

	if hintsPath != "" {
		if err := loadHints(result, hintsPath, logger); err != nil {
			return nil, err
		}
	}

	if result.Summary != nil && result.Summary.SymbolsExtracted != len(result.Symbols)+result.Skipped {
		logger.Warn("summary symbol count does not match records", logging.Fields{
			"declared": result.Summary.SymbolsExtracted,
			"loaded":   len(result.Symbols),
			"skipped":  result.Skipped,
		})
	}

	logger.Info("index loaded", logging.Fields{
		"symbols": len(result.Symbols),
		"edges":   len(result.Edges),
		"hints":   len(result.Hints),
		"skipped": result.Skipped,
	})
	return result, nil
}

// appendSymbol converts one raw record (and its nested members) into model
// symbols and unresolved call edges.
func appendSymbol(result *Result, raw rawSymbol, parentName string) error {
	raw.File = paths.Normalize(raw.File)
	kind, ok := symbolKinds[raw.Type]
	if !ok {
		return nil
	}
	if raw.File == "" || raw.LineStart == 0 {
		return fmt.Errorf("record of type %s missing file or line", raw.Type)
	}
	if raw.Name == "" && kind != model.KindImport {
		return fmt.Errorf("%s record at %s:%d has no name", raw.Type, raw.File, raw.LineStart)
	}

	name := raw.Name
	if kind == model.KindImport && name == "" {
		name = raw.Source
	}
	qualified := raw.QualifiedName
	if qualified == "" {
		qualified = name
		if parentName != "" {
			qualified = parentName + "." + name
		}
	}

	sym := model.Symbol{
		ID:            raw.File + ":" + qualified,
		Kind:          kind,
		Name:          name,
		QualifiedName: qualified,
		Location:      model.Location{File: raw.File, StartLine: raw.LineStart, EndLine: raw.LineEnd},
		Visibility:    raw.Visibility,
		Exported:      len(raw.Exports) > 0,
	}
	if raw.Signature != nil {
		sig := &model.Signature{ReturnType: raw.Signature.ReturnType, Async: raw.IsAsync}
		for _, p := range raw.Signature.Params {
			sig.Params = append(sig.Params, model.Param{Name: p.Name, Type: p.Type})
		}
		sym.Signature = sig
	}
	result.Symbols = append(result.Symbols, sym)

	for _, call := range raw.Calls {
		if call.Name == "" {
			continue
		}
		result.Edges = append(result.Edges, model.Edge{
			SourceID:  sym.ID,
			TargetKey: call.Name,
			Kind:      model.EdgeDirectCall,
			Location:  model.Location{File: raw.File, StartLine: call.Line},
			State:     model.StateUnresolved,
		})
	}

	for _, member := range raw.Members {
		if err := appendSymbol(result, member, name); err != nil {
			return err
		}
	}
	return nil
}

// loadHints reads the hints JSONL and converts each hint into a connection
// hint plus, where the enclosing symbol can be found, an unresolved edge for
// the resolver backlog.
func loadHints(result *Result, path string, logger *logging.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.New(errors.IndexMissing,
			fmt.Sprintf("hints file %s", path), err)
	}
	defer f.Close() //nolint:errcheck

	index := newEnclosureIndex(result.Symbols)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw rawHint
		if err := json.Unmarshal(line, &raw); err != nil {
			logger.Warn("skipping malformed hint", logging.Fields{
				"file": path, "line": lineNo, "error": err.Error(),
			})
			result.Skipped++
			continue
		}
		if raw.File == "" || raw.Line == 0 {
			result.Skipped++
			continue
		}
		raw.File = paths.Normalize(raw.File)

		hint := model.ConnectionHint{
			Type:       raw.HintType,
			Location:   model.Location{File: raw.File, StartLine: raw.Line},
			Expression: raw.Text,
		}
		if enclosing := index.find(raw.File, raw.Line); enclosing != nil {
			hint.SourceID = enclosing.ID
		}
		result.Hints = append(result.Hints, hint)

		kind, ok := hintEdgeKinds[raw.HintType]
		if !ok || hint.SourceID == "" {
			continue
		}
		result.Edges = append(result.Edges, model.Edge{
			SourceID:      hint.SourceID,
			TargetKey:     raw.Text,
			Kind:          kind,
			Location:      hint.Location,
			State:         model.StateUnresolved,
			RawExpression: raw.Text,
		})
	}
	return scanner.Err()
}

// enclosureIndex finds the innermost symbol containing a file:line position.
type enclosureIndex struct {
	byFile map[string][]*model.Symbol
}

func newEnclosureIndex(symbols []model.Symbol) *enclosureIndex {
	idx := &enclosureIndex{byFile: make(map[string][]*model.Symbol)}
	for i := range symbols {
		sym := &symbols[i]
		if sym.Kind == model.KindImport {
			continue
		}
		idx.byFile[sym.Location.File] = append(idx.byFile[sym.Location.File], sym)
	}
	for _, syms := range idx.byFile {
		sort.Slice(syms, func(a, b int) bool {
			return syms[a].Location.StartLine < syms[b].Location.StartLine
		})
	}
	return idx
}

func (idx *enclosureIndex) find(file string, line int) *model.Symbol {
	var best *model.Symbol
	for _, sym := range idx.byFile[file] {
		if sym.Location.StartLine > line {
			break
		}
		end := sym.Location.EndLine
		if end == 0 {
			end = sym.Location.StartLine
		}
		if line <= end {
			// Later symbols start closer to the line, so keep overwriting
			best = sym
		}
	}
	return best
}
