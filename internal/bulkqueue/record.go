// Package bulkqueue renders documents into bulk records and accumulates
// them into a queue the indexer flushes by size or timer (spec.md §4.C).
package bulkqueue

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/volsch/logship/internal/document"
)

// indexMeta is the envelope's "index" action body.
type indexMeta struct {
	Index string `json:"_index"`
	Type  string `json:"_type"`
	ID    string `json:"_id,omitempty"`
}

// Render produces the two-line bulk record for doc: an index envelope
// line followed by the stripped document body, each newline-terminated.
// _index resolves to doc._index if set, else the default pattern
// strftime-expanded against doc._epoch (or now) in local time. _type
// resolves to doc._type if set, else defaultType. _id is included only if
// present on the document.
func Render(doc *document.Document, defaultIndexPattern, defaultType string, now time.Time) ([]byte, error) {
	index, ok := doc.ResolvedIndex()
	if !ok {
		epoch, hasEpoch := doc.ResolvedEpoch()
		if !hasEpoch {
			epoch = now
		}
		index = expandPattern(defaultIndexPattern, epoch.Local())
	}

	typ, ok := doc.ResolvedType()
	if !ok {
		typ = defaultType
	}

	id, _ := doc.ResolvedID()

	envelope := struct {
		Index indexMeta `json:"index"`
	}{Index: indexMeta{Index: index, Type: typ, ID: id}}

	envelopeBytes, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	bodyBytes, err := json.Marshal(doc.Strip())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(envelopeBytes) + len(bodyBytes) + 2)
	buf.Write(envelopeBytes)
	buf.WriteByte('\n')
	buf.Write(bodyBytes)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
