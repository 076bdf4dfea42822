package prompt

// TokenCounter counts tokens the way the oracle model will.
type TokenCounter interface {
	Count(text string) int
}
