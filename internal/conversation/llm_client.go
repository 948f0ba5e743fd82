package conversation

import (
	"context"
	"errors"
	"fmt"
)

// ChatMessage is one turn in an LLM conversation.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// LLMRequest is a provider-agnostic generation request.
type LLMRequest struct {
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// LLMResponse is a provider-agnostic generation result.
type LLMResponse struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// LLMClient generates free-form replies when no deterministic template
// applies. Implementations must respect ctx cancellation.
type LLMClient interface {
	Generate(ctx context.Context, req LLMRequest) (*LLMResponse, error)
	Name() string
}

// GenerationErrorKind classifies generation failures for retry decisions.
type GenerationErrorKind string

const (
	GenerationRateLimited   GenerationErrorKind = "rate_limited"
	GenerationTimeout       GenerationErrorKind = "timeout"
	GenerationContentPolicy GenerationErrorKind = "content_policy"
	GenerationUnavailable   GenerationErrorKind = "unavailable"
)

// GenerationError wraps provider failures with a retryability classification.
// RateLimited and Timeout are transient; ContentPolicy is permanent.
type GenerationError struct {
	Kind GenerationErrorKind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("conversation: generation failed (%s): %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Transient reports whether retrying the same request could succeed.
func (e *GenerationError) Transient() bool {
	return e.Kind == GenerationRateLimited || e.Kind == GenerationTimeout || e.Kind == GenerationUnavailable
}

// IsTransientGeneration reports whether err is a retryable generation failure.
func IsTransientGeneration(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr) && genErr.Transient()
}
