package pipeline

import (
	"strings"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// encoding is loaded once at package init. When the embedded BPE ranks
// can't be loaded (offline build, vendoring gap), it stays nil and every
// function below falls back to a rune/word heuristic.
var encoding *tiktoken.Tiktoken

func init() {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err == nil {
		encoding = enc
	}
}

// CountTokens returns text's exact tiktoken count when available, else an
// EstimateFast approximation.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return EstimateFast(text)
}

// EstimateFast is a cheap, allocation-light approximation used when exact
// tiktoken encoding isn't available or isn't worth its cost (e.g. live
// per-keystroke context-budget UI feedback): the larger of rune-count/4 and
// word count, since short highly-tokenized text (single words, punctuation)
// undercounts on the rune heuristic alone.
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runeEstimate := len([]rune(trimmed)) / 4
	wordCount := len(strings.Fields(trimmed))
	if wordCount > runeEstimate {
		return wordCount
	}
	return runeEstimate
}

// TruncateToTokens truncates text to at most maxTokens tokens (tiktoken
// exact, else EstimateFast-bounded), appending "..." when truncation
// occurred. maxTokens<=0 is a no-op.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if CountTokens(text) <= maxTokens {
		return text
	}
	if encoding != nil {
		tokens := encoding.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		truncated := encoding.Decode(tokens[:maxTokens])
		return truncated + "..."
	}
	// Fallback: approximate 4 runes/token.
	maxRunes := maxTokens * 4
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "..."
}
