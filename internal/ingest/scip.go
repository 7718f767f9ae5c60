package ingest

import (
	"fmt"
	"os"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
	"google.golang.org/protobuf/proto"

	"tracer/internal/errors"
	"tracer/internal/logging"
	"tracer/internal/model"
	"tracer/internal/paths"
)

// scipKinds maps SCIP symbol kinds onto the engine's kinds. Kinds outside
// this table carry no graph semantics and are skipped.
var scipKinds = map[scippb.SymbolInformation_Kind]model.SymbolKind{
	scippb.SymbolInformation_Function:    model.KindFunction,
	scippb.SymbolInformation_Method:      model.KindMethod,
	scippb.SymbolInformation_Constructor: model.KindMethod,
	scippb.SymbolInformation_Class:       model.KindClass,
	scippb.SymbolInformation_Struct:      model.KindClass,
	scippb.SymbolInformation_Interface:   model.KindClass,
	scippb.SymbolInformation_Enum:        model.KindClass,
	scippb.SymbolInformation_Variable:    model.KindVariable,
	scippb.SymbolInformation_Constant:    model.KindVariable,
	scippb.SymbolInformation_Property:    model.KindVariable,
	scippb.SymbolInformation_Field:       model.KindVariable,
}

// pendingRef is a reference occurrence awaiting an enclosing definition.
type pendingRef struct {
	file      string
	line      int
	targetKey string
}

// LoadSCIP reads a SCIP protobuf index and converts it into engine records.
// Definitions become symbols; references become unresolved direct-call edges
// from their enclosing definition, which the resolver then binds.
func LoadSCIP(path string, logger *logging.Logger) (*Result, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.New(errors.IndexMissing,
			fmt.Sprintf("SCIP index not found at %s", path), err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.InternalError,
			fmt.Sprintf("failed to read SCIP index from %s", path), err)
	}

	var index scippb.Index
	if err := proto.Unmarshal(data, &index); err != nil {
		return nil, errors.New(errors.MalformedRecord,
			fmt.Sprintf("failed to parse SCIP index from %s", path), err)
	}

	result := &Result{}
	var refs []pendingRef
	for _, doc := range index.Documents {
		refs = convertDocument(result, doc, refs)
	}

	// References carry SCIP symbol strings as target keys; attach their
	// source symbols now that every document's definitions are loaded.
	enclosures := newEnclosureIndex(result.Symbols)
	for _, ref := range refs {
		enclosing := enclosures.find(ref.file, ref.line)
		if enclosing == nil {
			continue
		}
		result.Edges = append(result.Edges, model.Edge{
			SourceID:  enclosing.ID,
			TargetKey: ref.targetKey,
			Kind:      model.EdgeDirectCall,
			Location:  model.Location{File: ref.file, StartLine: ref.line},
			State:     model.StateUnresolved,
		})
	}

	logger.Info("SCIP index loaded", logging.Fields{
		"documents": len(index.Documents),
		"symbols":   len(result.Symbols),
		"edges":     len(result.Edges),
	})
	return result, nil
}

func convertDocument(result *Result, doc *scippb.Document, refs []pendingRef) []pendingRef {
	docPath := paths.Normalize(doc.RelativePath)
	info := make(map[string]*scippb.SymbolInformation, len(doc.Symbols))
	for _, sym := range doc.Symbols {
		info[sym.Symbol] = sym
	}

	for _, occ := range doc.Occurrences {
		if len(occ.Range) < 3 {
			continue
		}
		startLine := int(occ.Range[0]) + 1
		endLine := startLine
		if len(occ.Range) == 4 {
			endLine = int(occ.Range[2]) + 1
		}
		if len(occ.EnclosingRange) >= 3 {
			endLine = int(occ.EnclosingRange[2]) + 1
		}

		if occ.SymbolRoles&int32(scippb.SymbolRole_Definition) == 0 {
			refs = append(refs, pendingRef{
				file:      docPath,
				line:      startLine,
				targetKey: occ.Symbol,
			})
			continue
		}

		si := info[occ.Symbol]
		if si == nil {
			continue
		}
		kind, ok := scipKinds[si.Kind]
		if !ok {
			continue
		}
		name := si.DisplayName
		if name == "" {
			name = occ.Symbol
		}

		result.Symbols = append(result.Symbols, model.Symbol{
			ID:            docPath + ":" + name,
			Kind:          kind,
			Name:          name,
			QualifiedName: name,
			Location:      model.Location{File: docPath, StartLine: startLine, EndLine: endLine},
			Exported:      true,
		})
	}
	return refs
}
