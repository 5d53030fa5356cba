// Package tokens approximates token counts for budget decisions.
package tokens

// CharsPerToken is the fixed divisor used for estimation.
const CharsPerToken = 4

// Estimate returns an approximate token count for text. It is never below 1,
// so empty and very short strings still carry weight in budget sums.
func Estimate(text string) int {
	return len(text)/CharsPerToken + 1
}

// Budget converts a token budget to a character budget.
func Budget(tokens int) int {
	return tokens * CharsPerToken
}
