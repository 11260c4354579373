package llm

import "strings"

// SentenceBuffer accumulates streamed tokens and releases complete
// sentences as they form, so a caller can pipeline finished sentences to
// TTS without waiting for the full LLM response (the orchestrator's session
// loop does not use it). Grounded on
// the teacher's sentenceBuffer (pipeline/sentence.go).
type SentenceBuffer struct {
	buf strings.Builder
}

var sentenceEnders = map[byte]bool{'.': true, '!': true, '?': true}

// Add appends a token and returns a complete sentence if one is now
// available, or "" if more tokens are needed.
func (s *SentenceBuffer) Add(token string) string {
	s.buf.WriteString(token)
	text := s.buf.String()

	sentence, rest := splitAtSentence(text)
	if sentence == "" {
		return ""
	}
	s.buf.Reset()
	s.buf.WriteString(rest)
	return sentence
}

// Flush returns and clears any remaining buffered text, for use once the
// stream ends (a final fragment with no terminating punctuation).
func (s *SentenceBuffer) Flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return rest
}

func splitAtSentence(text string) (sentence, rest string) {
	for i := 0; i < len(text); i++ {
		if !sentenceEnders[text[i]] {
			continue
		}
		// require a word boundary after the terminator so "3.14" doesn't
		// split early; "Mr. Smith" still splits after "Mr."
		if i+1 < len(text) && !isWordBoundary(text[i+1]) {
			continue
		}
		return strings.TrimSpace(text[:i+1]), strings.TrimSpace(text[i+1:])
	}
	return "", text
}

func isWordBoundary(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\t'
}
