// Package llm defines the provider-neutral request, response and failure
// types shared by every LLM backend variant.
package llm

import "strings"

// Request is one text generation call
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Model        string   // "" = the provider's configured default
	Temperature  *float64 // nil = provider default
	MaxTokens    *int     // nil = provider default

	// Attribution for usage tracking
	OperationType string // e.g. "chunk-summary", "reduce"
	EntityID      string // job id
}

// Response is the generated text plus whatever usage the backend reported
type Response struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// TotalTokens returns prompt + completion tokens
func (r *Response) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Truncate shortens s for inclusion in error messages and logs
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
