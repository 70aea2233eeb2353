// Package context implements the agent loop's message-list compaction
// and tool-result truncation: keeping a session's history
// within a provider's context budget without ever producing an invalid
// message list (an orphan role=tool record with no preceding call).
package context

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/nexuscore/agentcore/pkg/models"
)

// Default budgets, overridden per call site: 30/3000 for the main
// agent, 25/2000 for subagents.
const (
	DefaultMaxContextMessages  = 30
	SubagentMaxContextMessages = 25
	DefaultMaxToolResultChars  = 3000
	SubagentMaxToolResultChars = 2000
)

// Compact trims messages to maxMessages while always retaining
// messages[0] (system) and messages[1] (first user) and never letting
// the retained tail begin with a role=tool record.
func Compact(messages []models.ChatMessage, maxMessages int) []models.ChatMessage {
	if maxMessages <= 0 || len(messages) <= maxMessages {
		return messages
	}
	if len(messages) < 2 {
		return messages
	}

	head := messages[:2]
	rest := messages[2:]

	budget := maxMessages - 2
	if budget < 0 {
		budget = 0
	}
	if len(rest) > budget {
		rest = rest[len(rest)-budget:]
	}
	for len(rest) > 0 && rest[0].Role == models.RoleTool {
		rest = rest[1:]
	}

	out := make([]models.ChatMessage, 0, len(head)+len(rest))
	out = append(out, head...)
	out = append(out, rest...)
	return out
}

// CompactGrouped is Compact's subagent variant:
// every assistant{tool_calls} message is kept atomically together with
// the role=tool records that answer it, dropping whole blocks from the
// oldest end until the budget fits rather than ever splitting one.
func CompactGrouped(messages []models.ChatMessage, maxMessages int) []models.ChatMessage {
	if maxMessages <= 0 || len(messages) <= maxMessages {
		return messages
	}
	if len(messages) < 2 {
		return messages
	}

	head := messages[:2]
	rest := messages[2:]
	budget := maxMessages - 2
	if budget < 0 {
		budget = 0
	}

	blocks := groupIntoBlocks(rest)
	total := 0
	for _, b := range blocks {
		total += len(b)
	}
	start := 0
	for total > budget && start < len(blocks) {
		total -= len(blocks[start])
		start++
	}

	out := make([]models.ChatMessage, 0, len(head)+total)
	out = append(out, head...)
	for _, b := range blocks[start:] {
		out = append(out, b...)
	}
	return out
}

// groupIntoBlocks partitions a tail of history into atomic units: a
// lone non-tool-calling message is its own block; an assistant message
// with ToolCalls is grouped with every role=tool record that follows
// it until the next non-tool record.
func groupIntoBlocks(messages []models.ChatMessage) [][]models.ChatMessage {
	var blocks [][]models.ChatMessage
	i := 0
	for i < len(messages) {
		m := messages[i]
		if m.Role == models.RoleAssistant && len(m.ToolCalls) > 0 {
			block := []models.ChatMessage{m}
			j := i + 1
			for j < len(messages) && messages[j].Role == models.RoleTool {
				block = append(block, messages[j])
				j++
			}
			blocks = append(blocks, block)
			i = j
			continue
		}
		blocks = append(blocks, []models.ChatMessage{m})
		i++
	}
	return blocks
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// TruncateToolResult strips ANSI escapes and, if the cleaned content
// still exceeds maxChars, prefix-truncates it with a sentinel that
// tells the model not to retry the tool for more output.
func TruncateToolResult(content string, maxChars int) string {
	cleaned := ansiEscape.ReplaceAllString(content, "")
	if maxChars <= 0 || len(cleaned) <= maxChars {
		return cleaned
	}

	trimmed := strings.TrimSpace(cleaned)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			if pretty, err := json.MarshalIndent(v, "", "  "); err == nil {
				return truncateWithSentinel(string(pretty), maxChars, "JSON")
			}
		}
	}
	return truncateHeadTail(cleaned, maxChars)
}

func truncateWithSentinel(s string, maxChars int, kind string) string {
	shown := s
	if len(shown) > maxChars {
		shown = shown[:maxChars]
	}
	return shown + sentinel(kind, len(shown), len(s))
}

// truncateHeadTail keeps the first and last halves of the budget,
// joined by the same truncation sentinel, for non-JSON content too
// long to show in full.
func truncateHeadTail(s string, maxChars int) string {
	half := maxChars / 2
	if half <= 0 {
		return sentinel("text", 0, len(s))
	}
	head := s[:half]
	tailStart := len(s) - half
	if tailStart < half {
		tailStart = half
	}
	tail := s[tailStart:]
	shown := half + (len(s) - tailStart)
	return head + sentinel("text", shown, len(s)) + tail
}

func sentinel(kind string, shown, total int) string {
	label := "truncated"
	if kind == "JSON" {
		label = "JSON truncated"
	}
	return "\n[" + label + " — showed " + strconv.Itoa(shown) + " of " + strconv.Itoa(total) +
		" chars. Do NOT re-run this tool to see more.]\n"
}
