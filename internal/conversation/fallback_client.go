package conversation

import (
	"context"

	"github.com/stayware/cohost-platform/pkg/logging"
)

// FallbackLLMClient wraps a primary provider with a secondary one. Content
// policy rejections are never retried on the fallback; the request itself is
// the problem, not the provider.
type FallbackLLMClient struct {
	primary  LLMClient
	fallback LLMClient
	logger   *logging.Logger
}

// NewFallbackLLMClient creates a fallback-enabled client. A nil fallback
// means only the primary is used.
func NewFallbackLLMClient(primary, fallback LLMClient, logger *logging.Logger) *FallbackLLMClient {
	if primary == nil {
		panic("conversation: primary llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackLLMClient{primary: primary, fallback: fallback, logger: logger}
}

func (c *FallbackLLMClient) Name() string { return c.primary.Name() }

func (c *FallbackLLMClient) Generate(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	resp, err := c.primary.Generate(ctx, req)
	if err == nil {
		return resp, nil
	}
	if c.fallback == nil || !IsTransientGeneration(err) || ctx.Err() != nil {
		return nil, err
	}

	c.logger.Warn("primary generation provider failed, attempting fallback",
		"primary", c.primary.Name(),
		"fallback", c.fallback.Name(),
		"error", err.Error(),
	)

	fallbackResp, fallbackErr := c.fallback.Generate(ctx, req)
	if fallbackErr != nil {
		c.logger.Error("fallback generation provider also failed",
			"primary_error", err.Error(),
			"fallback_error", fallbackErr.Error(),
		)
		return nil, fallbackErr
	}
	return fallbackResp, nil
}
