package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fleetflow/broker-comms/pkg/logger"
)

const summarySystemPrompt = `You summarize phone calls between a freight broker and a shipper.
Reply with one sentence of at most 40 words stating what was agreed and the next step.
Do not add any preamble.`

// maxTranscriptRunes bounds the prompt; simulated transcripts are far
// shorter, recorded ones may not be.
const maxTranscriptRunes = 12000

// CallSummarizer condenses call transcripts with an LLM.
type CallSummarizer struct {
	client Client
	model  string
	logger *logger.Logger
}

// NewCallSummarizer wraps client. An empty model uses the provider default.
func NewCallSummarizer(client Client, model string, log *logger.Logger) *CallSummarizer {
	if log == nil {
		log = logger.NewNop()
	}
	return &CallSummarizer{client: client, model: model, logger: log}
}

// Summarize returns a single line describing the call.
func (s *CallSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	if runes := []rune(transcript); len(runes) > maxTranscriptRunes {
		transcript = string(runes[:maxTranscriptRunes])
	}

	resp, err := s.client.Complete(ctx, &CompletionRequest{
		Model:       s.model,
		System:      summarySystemPrompt,
		Prompt:      "Transcript:\n" + transcript,
		MaxTokens:   120,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("summarize call: %w", err)
	}

	summary := strings.Join(strings.Fields(resp.Text), " ")
	if summary == "" {
		return "", fmt.Errorf("summarize call: %w", errEmptySummary)
	}

	s.logger.Debug("call summarized",
		zap.String("provider", string(s.client.Provider())),
		zap.String("model", resp.Model),
		zap.Int("input_tokens", resp.InputTokens),
		zap.Int("output_tokens", resp.OutputTokens),
		zap.Duration("latency", resp.Latency),
	)
	return summary, nil
}

var errEmptySummary = errors.New("model returned an empty summary")
