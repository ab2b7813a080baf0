package ports

import "context"

// GenerationResult is returned to the client of the generation endpoint.
type GenerationResult struct {
	IsPlaceholder bool   `json:"isPlaceholder"`
	Image         string `json:"image,omitempty"`
	Prompt        string `json:"prompt,omitempty"`
	Message       string `json:"message,omitempty"`
	RetryAfter    string `json:"retryAfter,omitempty"`
}

// Generator produces an image for a prompt once a license has been consumed.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*GenerationResult, error)
}
