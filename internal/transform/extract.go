package transform

import (
	"regexp"
	"strings"
	"sync"

	"github.com/volsch/logship/internal/config"
	"github.com/volsch/logship/internal/document"
)

// regexCache memoizes compiled extractor regexes across invocations; the
// same config.ExtractStep is evaluated once per line for the lifetime of
// the process.
var regexCache sync.Map // string -> *regexp.Regexp

func compileRegex(pattern string) (*regexp.Regexp, error) {
	if v, ok := regexCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// extract runs the ordered extract stage, each step reading either the raw
// line or a named document field and writing results back into doc.
func extract(doc *document.Document, steps []config.ExtractStep, line string) {
	for _, step := range steps {
		source, ok := extractSource(doc, step, line)
		if !ok {
			continue
		}
		if step.When != "" {
			re, err := compileRegex(step.When)
			if err != nil || !re.MatchString(source) {
				continue
			}
		}

		switch step.By {
		case "split":
			applySplit(doc, step, source)
		case "regex":
			// reserved for future use; accept and ignore.
		default:
		}
	}
}

// extractSource resolves the input a step reads from: doc[From] if set
// (must exist and be a string), else the raw line.
func extractSource(doc *document.Document, step config.ExtractStep, line string) (string, bool) {
	if step.From == "" {
		return line, true
	}
	return doc.GetString(step.From)
}

// applySplit splits source on step.SplitOn (a regex) and assigns the
// pieces per step's contract.
func applySplit(doc *document.Document, step config.ExtractStep, source string) {
	re, err := compileRegex(step.SplitOn)
	if err != nil {
		return
	}
	parts := re.Split(source, -1)

	if len(step.SplitParts) == 0 {
		assignUnnamed(doc, step.Into, step.From, parts)
		return
	}

	target := doc.Fields
	if step.Into != "" {
		nested, ok := doc.Fields[step.Into].(map[string]any)
		if !ok {
			nested = make(map[string]any)
			doc.Fields[step.Into] = nested
		}
		target = nested
	}

	for i, name := range step.SplitParts {
		if i >= len(parts) {
			break
		}
		if isNullName(name) {
			continue
		}
		if parts[i] == "" {
			continue
		}
		target[name] = parts[i]
	}
}

// assignUnnamed stores an unnamed split result: a single element becomes a
// scalar, multiple elements become an array, both under into (or from if
// into is unset).
func assignUnnamed(doc *document.Document, into, from string, parts []string) {
	key := into
	if key == "" {
		key = from
	}
	if key == "" {
		return
	}
	if len(parts) == 1 {
		doc.Fields[key] = parts[0]
		return
	}
	vals := make([]any, len(parts))
	for i, p := range parts {
		vals[i] = p
	}
	doc.Fields[key] = vals
}

func isNullName(name string) bool {
	lower := strings.ToLower(name)
	return lower == "null" || lower == "undef"
}
