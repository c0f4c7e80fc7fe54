package llm

import "context"

// Narrator turns structured monitoring state into short natural
// language. Implementations handle generation details; callers attach
// the output to responses and never branch on it.
type Narrator interface {
	// Generate produces a response for the prompt, bounded by maxTokens.
	// kind labels the response (status_summary, emergency_notification,
	// recommendation) for logging and template selection.
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64, kind string) (string, error)
}

// Config holds common configuration for narrators. BaseURL and APIKey
// only matter for HTTP-backed implementations.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64
	BaseURL     string
	APIKey      string
}
