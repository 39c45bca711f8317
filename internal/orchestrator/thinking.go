package orchestrator

import "strings"

// thinkOpen/thinkClose delimit a reasoning block the backend interleaves
// with its user-visible output; the extractor mirrors complete blocks into
// a side-channel `thinking` event while stripping them from the token
// stream the user sees.
const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// sentenceEnders are the characters that close a "complete sentence" for
// the purpose of coalescing thinking output — one thinking event per
// sentence rather than one per token, per the ordering contract.
var sentenceEnders = []byte{'.', '!', '?', '\n'}

// thinkingExtractor consumes backend token fragments incrementally,
// separating visible text from bracketed reasoning blocks and batching
// reasoning text into sentence-sized chunks.
type thinkingExtractor struct {
	inBlock  bool
	pending  string // raw fragment not yet resolved as inside/outside a block
	thinkBuf strings.Builder
}

// newThinkingExtractor builds an extractor in the initial (not-thinking)
// state.
func newThinkingExtractor() *thinkingExtractor {
	return &thinkingExtractor{}
}

// Feed processes one raw token fragment, returning the user-visible text
// extracted from it and any complete thinking sentences ready to emit.
func (e *thinkingExtractor) Feed(fragment string) (visible string, thoughts []string) {
	e.pending += fragment

	for {
		if !e.inBlock {
			idx := strings.Index(e.pending, thinkOpen)
			if idx == -1 {
				// No full open tag yet; hold back a tail that might be a
				// partial tag so we don't leak "<thi" as visible text.
				keep := maxTagSuffixLen(e.pending, thinkOpen)
				visible += e.pending[:len(e.pending)-keep]
				e.pending = e.pending[len(e.pending)-keep:]
				return visible, thoughts
			}
			visible += e.pending[:idx]
			e.pending = e.pending[idx+len(thinkOpen):]
			e.inBlock = true
			continue
		}

		idx := strings.Index(e.pending, thinkClose)
		if idx == -1 {
			e.thinkBuf.WriteString(e.pending)
			e.pending = ""
			thoughts = append(thoughts, e.drainSentences(false)...)
			return visible, thoughts
		}
		e.thinkBuf.WriteString(e.pending[:idx])
		e.pending = e.pending[idx+len(thinkClose):]
		e.inBlock = false
		thoughts = append(thoughts, e.drainSentences(true)...)
	}
}

// drainSentences extracts complete sentences from the accumulated thinking
// buffer. When flush is true (block just closed), any remainder is
// emitted too rather than held for a sentence boundary that will never
// come.
func (e *thinkingExtractor) drainSentences(flush bool) []string {
	var out []string
	buf := e.thinkBuf.String()
	start := 0
	for i := 0; i < len(buf); i++ {
		if containsByte(sentenceEnders, buf[i]) {
			sentence := strings.TrimSpace(buf[start : i+1])
			if sentence != "" {
				out = append(out, sentence)
			}
			start = i + 1
		}
	}
	remainder := buf[start:]
	if flush {
		if trimmed := strings.TrimSpace(remainder); trimmed != "" {
			out = append(out, trimmed)
		}
		e.thinkBuf.Reset()
	} else {
		e.thinkBuf.Reset()
		e.thinkBuf.WriteString(remainder)
	}
	return out
}

func containsByte(set []byte, b byte) bool {
	for _, c := range set {
		if c == b {
			return true
		}
	}
	return false
}

// maxTagSuffixLen returns how many trailing bytes of s could be the start
// of an occurrence of tag, so they can be withheld until more input
// arrives rather than emitted as visible text.
func maxTagSuffixLen(s, tag string) int {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
