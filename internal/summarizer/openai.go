package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"crewloop.app/core/core/config"
)

const systemPrompt = "You are a retrospective facilitator for a multi-agent development system. " +
	"Keep the tone encouraging and constructive. Maximum 200 words."

const promptTemplate = `**Agent Metrics:**
%s

**Agent Learnings:**
%s

**Insights:**
%s

**Action Items:**
%s

Please synthesize a concise retrospective summary in the following format:

## Retrospective Summary

**What went well:**
- [List 2-3 positive observations]

**What could be improved:**
- [List 2-3 areas for improvement]

**Key learnings:**
- [List 2-3 key insights]

**Next cycle focus:**
- [List 1-2 priorities for next cycle]
`

type openAISummarizer struct {
	client    openai.Client
	model     string
	maxTokens int
}

// NewOpenAI builds a Summarizer over the OpenAI chat completions API.
func NewOpenAI(cfg config.SummarizerConfig) (Summarizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("summarizer API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	return &openAISummarizer{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func (s *openAISummarizer) Summarize(ctx context.Context, payload Payload) (string, error) {
	start := time.Now()

	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(payload)),
		},
		MaxCompletionTokens: openai.Int(int64(s.maxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("summarizer chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in summarizer response")
	}

	slog.DebugContext(ctx, "retrospective narrative synthesized",
		"model", s.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return resp.Choices[0].Message.Content, nil
}

func buildPrompt(payload Payload) string {
	var insights strings.Builder
	for _, insight := range payload.Insights {
		fmt.Fprintf(&insights, "- %s\n", insight)
	}

	return fmt.Sprintf(promptTemplate,
		mustJSON(payload.AgentMetrics),
		mustJSON(payload.AgentLearnings),
		insights.String(),
		mustJSON(payload.ActionItems))
}

func mustJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}
