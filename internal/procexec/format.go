package procexec

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// isBinary reports whether text looks like binary garbage: at least 10%
// of its first 1000 bytes are non-printable control characters.
func isBinary(text string) bool {
	if text == "" {
		return false
	}
	sample := text
	if len(sample) > 1000 {
		sample = sample[:1000]
	}

	nonPrintable := 0
	count := 0
	for _, r := range sample {
		count++
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			nonPrintable++
		}
	}
	if count == 0 {
		return false
	}
	return float64(nonPrintable) >= float64(count)*0.1
}

// formatOutput shapes a completed CommandLog into a RunResult per the
// truncation rules: binary detection, noisy suppression, tail-biased
// truncation on failure, full output under verbose.
func (e *Executor) formatOutput(log *CommandLog, verbose bool) *RunResult {
	all := log.allLines()
	total := len(all)

	sample := joinLines(firstN(all, 10))
	if !utf8.ValidString(sample) || isBinary(sample) {
		return &RunResult{
			CmdID:      log.CmdID,
			ExitCode:   log.exitCodeOrDefault(-1),
			Status:     "completed",
			Output:     "[Binary output detected. Cannot display.]",
			TotalLines: total,
		}
	}

	noisy := isNoisy(log.Command)
	success := log.exitCodeOrDefault(-1) == 0

	var output string
	var truncated bool
	var shown []string

	switch {
	case verbose:
		output = joinLines(all)
	case success && noisy:
		output = fmt.Sprintf("Completed successfully. [%d lines suppressed]", total)
		truncated = true
	case success:
		shown = lastN(all, 10)
		output = joinLines(shown)
		truncated = total > len(shown)
	default:
		shown = lastN(all, e.cfg.DefaultTailLines)
		output = joinLines(shown)
		truncated = total > len(shown)
	}

	result := &RunResult{
		CmdID:      log.CmdID,
		ExitCode:   log.exitCodeOrDefault(-1),
		Status:     "completed",
		Output:     strings.TrimRight(output, "\n"),
		TotalLines: total,
	}

	if truncated && !(success && noisy) {
		result.Hint = fmt.Sprintf("Use read_log(%q) to see more. Showing last %d of %d lines.", log.CmdID, len(shown), total)
	}

	return result
}

func firstN(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[:n]
}

func lastN(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
