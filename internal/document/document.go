// Package document defines the tagged-tree document model shipped through
// the indexer: an arbitrary JSON-compatible value tree plus a reserved
// metadata record that is lifted out of the tree before a bulk record is
// rendered.
package document

import "time"

// reserved metadata keys. _index/_type/_id/_epoch are stripped from the
// payload before emission; _raw/_path stay in the document body.
const (
	KeyIndex = "_index"
	KeyType  = "_type"
	KeyID    = "_id"
	KeyEpoch = "_epoch"
	KeyRaw   = "_raw"
	KeyPath  = "_path"
)

// Meta holds the reserved bulk-envelope fields lifted out of a Document's
// fields. A zero value means "not set"; Index/Type/ID/Epoch are optional,
// Raw/Path are stamped by the transformer for every emitted document.
type Meta struct {
	Index string
	Type  string
	ID    string
	Epoch *time.Time
	Raw   string
	Path  string
}

// Document is a mapping from string keys to JSON-compatible values (the
// natural shape `encoding/json` decodes into: map[string]any, []any,
// string, float64, bool, nil), plus the Meta record the reserved keys
// belong to.
type Document struct {
	Fields map[string]any
	Meta   Meta
}

// New returns an empty Document ready for decode/extract/mutate.
func New() *Document {
	return &Document{Fields: make(map[string]any)}
}

// Empty reports whether the document carries no fields at all. Used by the
// transformer to decide whether to emit anything after decode+extract.
func (d *Document) Empty() bool {
	return d == nil || len(d.Fields) == 0
}

// Get returns a field, and whether it was present.
func (d *Document) Get(key string) (any, bool) {
	v, ok := d.Fields[key]
	return v, ok
}

// GetString returns a field as a string; ok is false if absent or not a
// string.
func (d *Document) GetString(key string) (string, bool) {
	v, ok := d.Fields[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set assigns a field.
func (d *Document) Set(key string, value any) {
	d.Fields[key] = value
}

// Delete removes a field.
func (d *Document) Delete(key string) {
	delete(d.Fields, key)
}

// Merge copies every key from other into d, overwriting on conflict. Used by
// the decode stage to fold a decoder's partial result into the running
// document.
func (d *Document) Merge(other map[string]any) {
	for k, v := range other {
		d.Fields[k] = v
	}
}

// Replace discards the current fields and installs other wholesale. Used by
// decoders (like syslog) whose contract is "replace, don't merge".
func (d *Document) Replace(other map[string]any) {
	d.Fields = other
}

// StampMeta assigns the reserved Raw/Path fields both into Meta and into the
// field map, before the mutate stage runs, so mutators (remove/prune) can
// still see and affect them.
func (d *Document) StampMeta(raw, path string) {
	d.Meta.Raw = raw
	d.Meta.Path = path
	d.Fields[KeyRaw] = raw
	d.Fields[KeyPath] = path
}

// ApplyIndexType copies instruction-level index/type overrides into the
// reserved fields, if provided.
func (d *Document) ApplyIndexType(index, typ string) {
	if index != "" {
		d.Meta.Index = index
		d.Fields[KeyIndex] = index
	}
	if typ != "" {
		d.Meta.Type = typ
		d.Fields[KeyType] = typ
	}
}

// Strip returns a copy of the field map with the bulk-envelope keys
// (_index, _type, _id, _epoch) removed, suitable for use as the bulk
// record's document body. _raw and _path are kept.
func (d *Document) Strip() map[string]any {
	out := make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		switch k {
		case KeyIndex, KeyType, KeyID, KeyEpoch:
			continue
		default:
			out[k] = v
		}
	}
	return out
}

// ResolvedIndex returns the document's own _index field, if present and a
// string.
func (d *Document) ResolvedIndex() (string, bool) {
	return d.GetString(KeyIndex)
}

// ResolvedType returns the document's own _type field, if present and a
// string.
func (d *Document) ResolvedType() (string, bool) {
	return d.GetString(KeyType)
}

// ResolvedID returns the document's own _id field, if present and a string.
func (d *Document) ResolvedID() (string, bool) {
	return d.GetString(KeyID)
}

// ResolvedEpoch returns the time the index template should expand against:
// doc._epoch if present and parseable as RFC3339, else the zero Time (caller
// substitutes "now").
func (d *Document) ResolvedEpoch() (time.Time, bool) {
	v, ok := d.Fields[KeyEpoch]
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}
