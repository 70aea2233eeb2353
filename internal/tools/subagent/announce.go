package subagent

import (
	"fmt"
	"strings"
	"time"
)

// maxAnnounceChars caps the result text carried back to the parent so
// one verbose subagent cannot blow up the parent's context window.
const maxAnnounceChars = 3000

// RunOutcome represents the result of a subagent run.
type RunOutcome struct {
	Status string // "ok", "error", "timeout", "unknown"
	Error  string
}

// FormatDurationShort formats duration in human-readable form.
func FormatDurationShort(d time.Duration) string {
	if d <= 0 {
		return "n/a"
	}

	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// truncateHeadTail bounds s at max characters, keeping the head and
// tail halves joined by an elision marker so both the opening context
// and the conclusion survive.
func truncateHeadTail(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	const marker = "\n...[truncated]...\n"
	keep := max - len(marker)
	if keep <= 1 {
		return s[:max]
	}
	head := keep / 2
	tail := keep - head
	return s[:head] + marker + s[len(s)-tail:]
}

// TriggerMessageParams describes one finished run for BuildTriggerMessage.
type TriggerMessageParams struct {
	Label   string
	Task    string
	Outcome *RunOutcome
	Reply   string
	Runtime time.Duration
}

// BuildTriggerMessage builds the announce content delivered to the main
// agent when a subagent finishes: label, status, the original task, and
// the (bounded) result, phrased so the agent summarizes rather than
// relays it raw.
func BuildTriggerMessage(params TriggerMessageParams) string {
	taskLabel := params.Label
	if taskLabel == "" {
		taskLabel = params.Task
	}
	if taskLabel == "" {
		taskLabel = "background task"
	}

	statusLabel := "finished with unknown status"
	if params.Outcome != nil {
		switch params.Outcome.Status {
		case "ok":
			statusLabel = "completed successfully"
		case "timeout":
			statusLabel = "timed out"
		case "error":
			if params.Outcome.Error != "" {
				statusLabel = fmt.Sprintf("failed: %s", params.Outcome.Error)
			} else {
				statusLabel = "failed: unknown error"
			}
		}
	}

	reply := truncateHeadTail(params.Reply, maxAnnounceChars)
	if reply == "" {
		reply = "(no output)"
	}

	var lines []string
	lines = append(lines, fmt.Sprintf(`A background task "%s" just %s.`, taskLabel, statusLabel))
	lines = append(lines, "")
	lines = append(lines, "Task: "+params.Task)
	lines = append(lines, "")
	lines = append(lines, "Findings:")
	lines = append(lines, reply)
	lines = append(lines, "")
	lines = append(lines, "Runtime: "+FormatDurationShort(params.Runtime))
	lines = append(lines, "")
	lines = append(lines, "Summarize this naturally for the user. Keep it brief (1-2 sentences).")
	lines = append(lines, "You can respond with NO_REPLY if no announcement is needed.")

	return strings.Join(lines, "\n")
}
