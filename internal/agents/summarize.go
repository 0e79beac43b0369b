package agents

import (
	"context"
	"strings"

	"curator/internal/agents/llm"
	"curator/internal/queue"
	"curator/internal/services"
)

const defaultSummarizePrompt = `Summarize the article below in 2-4 sentences for a curated feed.
Respond with JSON only: {"summary": "..."}.

Title: {{title}}
Content:
{{content}}`

// Summarizer produces the feed summary for an item.
type Summarizer struct {
	client *llm.Client
}

func NewSummarizer(client *llm.Client) *Summarizer {
	return &Summarizer{client: client}
}

func (s *Summarizer) Name() string { return "summarize" }

func (s *Summarizer) Run(ctx context.Context, item *queue.Item, opts Options) (Result, error) {
	doc, err := item.Payload()
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "summarize", "payload", "decode payload", err)
	}
	content := doc.String("content")
	if strings.TrimSpace(content) == "" {
		return Result{}, services.Wrap(services.ErrValidation, "summarize", "payload", "no content to summarize", nil)
	}

	prompt := renderPrompt(promptTemplate(opts, defaultSummarizePrompt), map[string]string{
		"title":   firstNonEmpty(doc.String("title"), item.Title),
		"content": content,
	})
	raw, usage, err := s.client.CompleteJSON(ctx, "You write tight, factual article summaries. Respond with JSON only.", prompt)
	if err != nil {
		return Result{}, services.Wrap(services.ErrAgent, "summarize", "complete", "summary generation", err)
	}

	var parsed struct {
		Summary string `json:"summary"`
	}
	if err := llm.DecodeJSON(raw, &parsed); err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "summarize", "decode", "parse summary", err)
	}
	summary := strings.TrimSpace(parsed.Summary)
	if summary == "" {
		return Result{}, services.Wrap(services.ErrValidation, "summarize", "decode", "model returned empty summary", nil)
	}

	return Result{
		Fields: map[string]any{"summary": summary},
		Model:  s.client.Model(),
		Usage:  usage,
	}, nil
}
