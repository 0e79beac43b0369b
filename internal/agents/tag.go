package agents

import (
	"context"
	"strings"

	"curator/internal/agents/llm"
	"curator/internal/queue"
	"curator/internal/services"
)

const defaultTagPrompt = `Assign 2-6 topical tags to the article below.
Respond with JSON only: {"tags": ["tag-one", "tag-two"]}.
Tags are lowercase, hyphenated, and specific.

Title: {{title}}
Summary: {{summary}}
Content:
{{content}}`

const maxTags = 6

// Tagger assigns topical tags to an item.
type Tagger struct {
	client *llm.Client
}

func NewTagger(client *llm.Client) *Tagger {
	return &Tagger{client: client}
}

func (t *Tagger) Name() string { return "tag" }

func (t *Tagger) Run(ctx context.Context, item *queue.Item, opts Options) (Result, error) {
	doc, err := item.Payload()
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "tag", "payload", "decode payload", err)
	}
	content := doc.String("content")
	if strings.TrimSpace(content) == "" {
		return Result{}, services.Wrap(services.ErrValidation, "tag", "payload", "no content to tag", nil)
	}

	prompt := renderPrompt(promptTemplate(opts, defaultTagPrompt), map[string]string{
		"title":   firstNonEmpty(doc.String("title"), item.Title),
		"summary": doc.String("summary"),
		"content": content,
	})
	raw, usage, err := t.client.CompleteJSON(ctx, "You label articles with precise topical tags. Respond with JSON only.", prompt)
	if err != nil {
		return Result{}, services.Wrap(services.ErrAgent, "tag", "complete", "tag generation", err)
	}

	var parsed struct {
		Tags []string `json:"tags"`
	}
	if err := llm.DecodeJSON(raw, &parsed); err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "tag", "decode", "parse tags", err)
	}

	tags := normalizeTags(parsed.Tags)
	if len(tags) == 0 {
		return Result{}, services.Wrap(services.ErrValidation, "tag", "decode", "model returned no usable tags", nil)
	}

	return Result{
		Fields: map[string]any{"tags": tags},
		Model:  t.client.Model(),
		Usage:  usage,
	}, nil
}

func normalizeTags(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	var tags []string
	for _, tag := range raw {
		tag = strings.ToLower(strings.TrimSpace(tag))
		tag = strings.ReplaceAll(tag, " ", "-")
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}
