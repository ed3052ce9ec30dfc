package transform

import (
	"github.com/volsch/logship/internal/config"
	"github.com/volsch/logship/internal/document"
)

// Transformer holds one tail instruction per file id and runs the
// decode/extract/mutate pipeline for lines arriving from that file.
type Transformer struct {
	instructions map[string]config.TailInstruction
}

// New indexes the configured tail instructions by file path (the file id
// the line source uses).
func New(instructions []config.TailInstruction) *Transformer {
	byFile := make(map[string]config.TailInstruction, len(instructions))
	for _, ti := range instructions {
		byFile[ti.File] = ti
	}
	return &Transformer{instructions: byFile}
}

// Process runs one line from fileID through decode, extract, mutate and
// metadata stamping. It returns (nil, false) when the line produced an
// empty document (decode/extract miss) or when fileID has no matching
// instruction — both are silent drops, never fatal; neither is counted.
func (t *Transformer) Process(fileID, line string) (*document.Document, bool) {
	ti, ok := t.instructions[fileID]
	if !ok {
		return nil, false
	}

	doc := document.New()
	decode(doc, ti.Decode, line)
	extract(doc, ti.Extract, line)

	if doc.Empty() {
		return nil, false
	}

	// _raw/_path are stamped before mutate so remove/prune can still act on
	// them.
	doc.StampMeta(line, fileID)
	mutate(doc, ti.Mutate)
	doc.ApplyIndexType(ti.Index, ti.Type)

	return doc, true
}
