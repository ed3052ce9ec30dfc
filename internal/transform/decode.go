// Package transform implements the Transformer component: decode raw lines
// into a partial document, extract named fields, mutate/rename/prune, stamp
// metadata, and hand off a finished document to the bulk queue.
package transform

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/volsch/logship/internal/document"
)

// decode runs the ordered decoder chain for one line, merging each
// decoder's result left-to-right into doc (syslog replaces the document
// instead of merging into it). A decoder that fails to produce
// anything is skipped; it never aborts the line.
func decode(doc *document.Document, decoders []string, line string) {
	for _, d := range decoders {
		switch d {
		case "json":
			decodeJSON(doc, line)
		case "syslog":
			decodeSyslog(doc, line)
		default:
			// unknown decoder names are ignored, matching the "skip, don't
			// abort" contract for decode failures.
		}
	}
}

// decodeJSON locates the first '{' in the line and decodes a JSON object
// from that offset, merging its fields into doc. A missing brace or a
// decode failure is a silent skip.
func decodeJSON(doc *document.Document, line string) {
	idx := strings.IndexByte(line, '{')
	if idx < 0 {
		return
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(line[idx:]), &fields); err != nil {
		return
	}
	doc.Merge(fields)
}

// decodeSyslog parses a classic BSD syslog line (RFC 3164 style:
// "<PRI>Mon  2 15:04:05 host tag[pid]: message") into a flat key/value map,
// replacing whatever document state came before it.
func decodeSyslog(doc *document.Document, line string) {
	fields, ok := parseSyslog(line)
	if !ok {
		return
	}
	doc.Replace(fields)
}

// parseSyslog is a best-effort BSD syslog parser. It never errors and
// always reports ok. It does not validate the header shape: a line of 15 or
// more characters has its first 15 taken as "timestamp" and its next word
// as "host" whatever they contain, and whatever is left ends up in
// "message", so non-conforming input still yields a document.
func parseSyslog(line string) (map[string]any, bool) {
	rest := line
	pri, facility, severity, hasPri := parsePriority(rest)
	if hasPri {
		rest = rest[strings.IndexByte(rest, '>')+1:]
	}

	fields := make(map[string]any)
	if hasPri {
		fields["priority"] = pri
		fields["facility"] = facilityName(facility)
		fields["severity"] = severityName(severity)
	}

	// Timestamp is a fixed-width "Mon  2 15:04:05" (15 chars incl. the two
	// leading spaces variant for single-digit days); header fields after it
	// are "host tag[pid]: message" or "host tag: message".
	rest = strings.TrimLeft(rest, " ")
	if len(rest) >= 15 {
		fields["timestamp"] = strings.TrimSpace(rest[:15])
		rest = strings.TrimLeft(rest[15:], " ")
	}

	hostEnd := strings.IndexByte(rest, ' ')
	if hostEnd < 0 {
		fields["message"] = rest
		return fields, true
	}
	fields["host"] = rest[:hostEnd]
	rest = rest[hostEnd+1:]

	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		fields["message"] = rest
		return fields, true
	}
	tagPart := rest[:colon]
	message := strings.TrimPrefix(rest[colon+1:], " ")

	if open := strings.IndexByte(tagPart, '['); open >= 0 && strings.HasSuffix(tagPart, "]") {
		fields["tag"] = tagPart[:open]
		fields["pid"] = tagPart[open+1 : len(tagPart)-1]
	} else {
		fields["tag"] = tagPart
	}
	fields["message"] = message

	return fields, true
}

// parsePriority reads a leading "<NNN>" priority value and splits it into
// facility (value / 8) and severity (value % 8), per RFC 3164 §4.1.1.
func parsePriority(line string) (pri, facility, severity int, ok bool) {
	if !strings.HasPrefix(line, "<") {
		return 0, 0, 0, false
	}
	end := strings.IndexByte(line, '>')
	if end < 0 {
		return 0, 0, 0, false
	}
	n, err := strconv.Atoi(line[1:end])
	if err != nil {
		return 0, 0, 0, false
	}
	return n, n / 8, n % 8, true
}

var facilityNames = []string{
	"kern", "user", "mail", "daemon", "auth", "syslog", "lpr", "news",
	"uucp", "cron", "authpriv", "ftp", "ntp", "security", "console", "solaris-cron",
	"local0", "local1", "local2", "local3", "local4", "local5", "local6", "local7",
}

func facilityName(f int) string {
	if f >= 0 && f < len(facilityNames) {
		return facilityNames[f]
	}
	return strconv.Itoa(f)
}

var severityNames = []string{
	"emerg", "alert", "crit", "err", "warning", "notice", "info", "debug",
}

func severityName(s int) string {
	if s >= 0 && s < len(severityNames) {
		return severityNames[s]
	}
	return strconv.Itoa(s)
}
