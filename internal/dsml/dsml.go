// Package dsml implements the fallback tool-call encoding the agent
// loop falls back to when a provider's native tool-calling is
// unavailable or the model chooses to write calls as text. Models
// emit blocks shaped like:
//
//	<|DSML|invoke name="search">
//	<|DSML|parameter name="query">weather in nyc</|DSML|parameter>
//	</|DSML|invoke>
//
// using either the ASCII pipe or the fullwidth CJK pipe U+FF5C
// interchangeably, and the loop must accept both.
package dsml

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
)

// pipe matches either the ASCII '|' or the fullwidth '｜' (U+FF5C);
// models trained on CJK tokenizers sometimes emit the latter.
const pipe = `[\|\x{FF5C}]`

var (
	invokeRe = regexp.MustCompile(`(?i)<` + pipe + `DSML` + pipe + `\s*invoke\s+name="([^"]+)"\s*>`)
	// A parameter tag may carry trailing attributes after name="...",
	// e.g. <|DSML|parameter name="text" type="string">; tolerate
	// anything up to the closing '>'.
	paramRe = regexp.MustCompile(`(?is)<` + pipe + `DSML` + pipe + `parameter\s+name="([^"]+)"[^>]*>(.*?)</` + pipe + `DSML` + pipe + `parameter>`)
)

// Call is one parsed invoke block: a tool name and its string-valued
// parameters, plus a synthesized call id so it can flow through the
// loop identically to a natively-encoded tool call.
type Call struct {
	ID         string
	Name       string
	Parameters map[string]string
}

// Detect reports whether content looks like it contains DSML tool
// calls at all, a cheap pre-check so ordinary assistant text never
// pays the cost of the invoke/parameter regexes.
func Detect(content string) bool {
	return strings.Contains(content, "invoke") && strings.Contains(content, "DSML")
}

// Parse extracts every invoke block from content in order. Each block
// is bounded by the next invoke opener (or end of string) so that
// parameters belonging to one call are never attributed to another.
func Parse(content string) []Call {
	if !Detect(content) {
		return nil
	}

	matches := invokeRe.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return nil
	}

	calls := make([]Call, 0, len(matches))
	for i, m := range matches {
		name := content[m[2]:m[3]]
		blockStart := m[1]
		blockEnd := len(content)
		if i+1 < len(matches) {
			blockEnd = matches[i+1][0]
		}
		block := content[blockStart:blockEnd]

		params := map[string]string{}
		for _, pm := range paramRe.FindAllStringSubmatch(block, -1) {
			params[pm[1]] = strings.TrimSpace(pm[2])
		}

		calls = append(calls, Call{ID: newCallID(), Name: name, Parameters: params})
	}
	return calls
}

// newCallID synthesizes an opaque call id: a dsml_ prefix plus 8
// lowercase hex characters.
func newCallID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return "dsml_" + hex.EncodeToString(b[:])
}
