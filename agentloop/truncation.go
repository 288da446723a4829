package agentloop

import (
	"fmt"
	"strings"
)

// Truncation only shapes what the operator sees in events and logs. Tool
// results sent to the model are never truncated.

// DefaultPreviewCharLimits are per-tool character limits for event previews.
var DefaultPreviewCharLimits = map[string]int{
	"src_list_files": 4000,
	"dst_list_files": 4000,
	"src_read_file":  2000,
	"dst_read_file":  2000,
	"dst_write_file": 500,
}

// DefaultPreviewLineLimits are per-tool line limits applied after the
// character limit.
var DefaultPreviewLineLimits = map[string]int{
	"src_list_files": 200,
	"dst_list_files": 200,
	"src_read_file":  60,
	"dst_read_file":  60,
}

const defaultPreviewChars = 2000

// TruncateOutput keeps the head and tail of output within maxChars,
// marking how many characters were dropped in between.
func TruncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}

	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n[... %d characters omitted ...]\n", len(output)-maxChars) +
		output[len(output)-half:]
}

// TruncateLines applies line-based truncation using head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// PreviewToolOutput shortens a tool payload for display:
// characters first, then lines.
func PreviewToolOutput(output, toolName string) string {
	maxChars, ok := DefaultPreviewCharLimits[toolName]
	if !ok {
		maxChars = defaultPreviewChars
	}
	result := TruncateOutput(output, maxChars)
	if maxLines, ok := DefaultPreviewLineLimits[toolName]; ok {
		result = TruncateLines(result, maxLines)
	}
	return result
}
