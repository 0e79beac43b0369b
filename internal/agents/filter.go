package agents

import (
	"context"
	"strings"

	"curator/internal/agents/llm"
	"curator/internal/queue"
	"curator/internal/services"
)

const defaultFilterPrompt = `You judge whether an article is relevant to the curated feed.
Respond with JSON only: {"relevant": true|false, "score": 0.0-1.0, "reason": "short explanation"}.

Title: {{title}}
URL: {{url}}
Content:
{{content}}`

// Filter asks the model whether fetched content belongs in the feed.
type Filter struct {
	client *llm.Client
}

func NewFilter(client *llm.Client) *Filter {
	return &Filter{client: client}
}

func (f *Filter) Name() string { return "filter" }

func (f *Filter) Run(ctx context.Context, item *queue.Item, opts Options) (Result, error) {
	doc, err := item.Payload()
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "filter", "payload", "decode payload", err)
	}
	content := doc.String("content")
	if strings.TrimSpace(content) == "" {
		return Result{}, services.Wrap(services.ErrValidation, "filter", "payload", "no fetched content to judge", nil)
	}

	prompt := renderPrompt(promptTemplate(opts, defaultFilterPrompt), map[string]string{
		"title":   firstNonEmpty(doc.String("title"), item.Title),
		"url":     item.URL,
		"content": content,
	})
	raw, usage, err := f.client.CompleteJSON(ctx, "You are a strict content relevance judge. Respond with JSON only.", prompt)
	if err != nil {
		return Result{}, services.Wrap(services.ErrAgent, "filter", "complete", "relevance judgment", err)
	}

	var verdict struct {
		Relevant bool    `json:"relevant"`
		Score    float64 `json:"score"`
		Reason   string  `json:"reason"`
	}
	if err := llm.DecodeJSON(raw, &verdict); err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "filter", "decode", "parse relevance verdict", err)
	}

	fields := map[string]any{
		"relevant":        verdict.Relevant,
		"relevance_score": verdict.Score,
	}
	if !verdict.Relevant {
		fields["rejection_reason"] = strings.TrimSpace(verdict.Reason)
	}
	return Result{Fields: fields, Model: f.client.Model(), Usage: usage}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
