package engine

import "strings"

// EstimateTokens gives a rough token count for text, used to keep turn
// metrics moving during streaming before the provider reports real usage.
// Heuristic: ~4 characters per token for English/code, discounted for
// whitespace-heavy text.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}

	charCount := len([]rune(text))
	whitespaceCount := strings.Count(text, " ") + strings.Count(text, "\n") + strings.Count(text, "\t")

	estimated := (charCount / 4) + (whitespaceCount / 6)
	if estimated < 1 {
		return 1
	}
	return estimated
}

// EstimateTokensForMessages estimates tokens across a message slice,
// including a small per-message overhead for role framing.
func EstimateTokensForMessages(messages []ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content) + 4
	}
	return total
}
