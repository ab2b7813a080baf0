package generator

import (
	"context"

	"github.com/layer-3/tollgate/ports"
)

// Placeholder answers every prompt with a placeholder marker. It is used when
// no upstream generator is configured.
type Placeholder struct{}

var _ ports.Generator = Placeholder{}

func (Placeholder) Generate(ctx context.Context, prompt string) (*ports.GenerationResult, error) {
	return &ports.GenerationResult{
		IsPlaceholder: true,
		Prompt:        prompt,
		Message:       "API token not configured. Using placeholder.",
	}, nil
}
