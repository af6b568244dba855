// Package llm wraps the hosted models used to summarize call transcripts.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetflow/broker-comms/pkg/metrics"
)

// Provider names a hosted model vendor.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// CompletionRequest is a single-turn prompt with an optional system
// instruction.
type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completion is a model reply.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
}

// Client completes prompts against one provider.
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
	Provider() Provider
}

// NewClient creates a client for provider. An empty baseURL uses the
// provider's public endpoint.
func NewClient(provider Provider, apiKey, baseURL string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey, baseURL)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey, baseURL)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

const defaultMaxTokens = 256

func maxTokens(req *CompletionRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}

func observe(provider Provider, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.LLMRequests.WithLabelValues(string(provider), status).Inc()
	metrics.LLMLatency.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())
}
