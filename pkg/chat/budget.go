package chat

// Token budget for an upstream call, computed from input size so cost and
// latency stay bounded. Roughly four characters per token.
const (
	baseTokenAllowance = 256
	maxTokenBudget     = 1024

	messageCharsPerToken = 4
	historyCharsPerToken = 16
)

// tokenBudget returns the max_tokens to request: a base allowance plus a
// scaled contribution from the message and the history window, capped at a
// hard ceiling.
func tokenBudget(message string, history []Turn) int {
	budget := baseTokenAllowance + len(message)/messageCharsPerToken

	historyChars := 0
	for _, t := range history {
		historyChars += len(t.Content)
	}
	budget += historyChars / historyCharsPerToken

	if budget > maxTokenBudget {
		budget = maxTokenBudget
	}
	return budget
}
