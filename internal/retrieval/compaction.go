package retrieval

import "strings"

// maxCompactedTurns bounds how many recent turns a compacted history keeps
// verbatim; anything older is summarized into a single rollup line.
const maxCompactedTurns = 20

// Compact bounds a session's turn history to maxCompactedTurns, folding
// anything beyond that into a single leading summary line so the memory
// stage never hands the prompt builder an unbounded history.
func Compact(turns []string) []string {
	if len(turns) <= maxCompactedTurns {
		return turns
	}

	overflow := turns[:len(turns)-maxCompactedTurns]
	recent := turns[len(turns)-maxCompactedTurns:]

	summary := "[earlier conversation summary: " + summarize(overflow) + "]"
	compacted := make([]string, 0, len(recent)+1)
	compacted = append(compacted, summary)
	compacted = append(compacted, recent...)
	return compacted
}

// summarize produces a short rollup of dropped turns. It is a heuristic
// truncation, not a model call: the compaction boundary must stay cheap
// since it runs on every memory-stage lookup once history grows past the
// window.
func summarize(turns []string) string {
	const maxLen = 280
	joined := strings.Join(turns, " ")
	joined = strings.Join(strings.Fields(joined), " ")
	if len(joined) <= maxLen {
		return joined
	}
	return joined[:maxLen] + "…"
}
