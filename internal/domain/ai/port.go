package ai

import "context"

// Provider is the external text-analysis capability: an instruction and a
// prompt in, free text out.
type Provider interface {
	Complete(ctx context.Context, instruction, prompt string) (string, error)
	Name() string
}
