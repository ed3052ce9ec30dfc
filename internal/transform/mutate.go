package transform

import (
	"github.com/volsch/logship/internal/config"
	"github.com/volsch/logship/internal/document"
)

// mutate applies the fixed-order mutate stage: copy, rename, remove,
// append, prune.
func mutate(doc *document.Document, cfg config.MutateConfig) {
	applyCopy(doc, cfg.Copy)
	applyRename(doc, cfg.Rename)
	applyRemove(doc, cfg.Remove)
	applyAppend(doc, cfg.Append)
	if cfg.Prune {
		applyPrune(doc)
	}
}

// applyCopy sets doc[dst] = doc[src] for every src -> dst (or list of dst)
// pair. A missing source copies absence, i.e. is a no-op.
func applyCopy(doc *document.Document, copy map[string][]string) {
	for src, dsts := range copy {
		v, ok := doc.Get(src)
		if !ok {
			continue
		}
		for _, dst := range dsts {
			doc.Set(dst, v)
		}
	}
}

// applyRename moves doc[old] to doc[new] if old exists.
func applyRename(doc *document.Document, rename map[string]string) {
	for oldKey, newKey := range rename {
		v, ok := doc.Get(oldKey)
		if !ok {
			continue
		}
		doc.Delete(oldKey)
		doc.Set(newKey, v)
	}
}

// applyRemove deletes every listed key.
func applyRemove(doc *document.Document, remove []string) {
	for _, k := range remove {
		doc.Delete(k)
	}
}

// applyAppend unconditionally sets every listed key/value pair.
func applyAppend(doc *document.Document, appendFields map[string]any) {
	for k, v := range appendFields {
		doc.Set(k, v)
	}
}

// applyPrune deletes keys whose value is absent or an empty string.
func applyPrune(doc *document.Document) {
	for k, v := range doc.Fields {
		if v == nil {
			doc.Delete(k)
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			doc.Delete(k)
		}
	}
}
