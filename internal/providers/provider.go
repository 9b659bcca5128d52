package providers

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai/jsonschema"
)

var ErrAttemptsExhausted = errors.New("structured output attempts exhausted")

// StructuredRequest asks a model for a single JSON value matching Schema.
type StructuredRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	SchemaName   string
	Schema       jsonschema.Definition
	// Validate inspects a candidate. A non-nil error is fed back to the model
	// and costs one attempt.
	Validate func(raw []byte) error
}

// StructuredProvider retries internally and either returns output that passed
// Validate or fails once.
type StructuredProvider interface {
	GenerateStructured(ctx context.Context, req StructuredRequest) ([]byte, error)
}
