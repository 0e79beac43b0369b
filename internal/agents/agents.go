// Package agents defines the contract between the orchestrator and the
// external collaborators that do the per-step work: fetching content,
// judging relevance, summarizing, tagging, and rendering thumbnails.
package agents

import (
	"context"
	"errors"
	"strings"

	"curator/internal/agents/llm"
	"curator/internal/queue"
)

// ErrUnreachable marks fetch failures where the source itself is gone or
// refusing us, as opposed to transient trouble. The orchestrator routes
// these items to the unreachable terminal state instead of failed.
var ErrUnreachable = errors.New("source unreachable")

// Options carries per-invocation inputs. The prompt version is resolved by
// the orchestrator before the call so the step run records exactly what the
// agent saw.
type Options struct {
	Prompt *queue.PromptVersion
}

// Result is what an agent produced. Fields are folded into the item payload
// by the orchestrator; RawRef is only set by the fetch agent.
type Result struct {
	Fields map[string]any
	RawRef string
	Model  string
	Usage  llm.Usage
}

// Agent runs one pipeline step against one item.
type Agent interface {
	Name() string
	Run(ctx context.Context, item *queue.Item, opts Options) (Result, error)
}

// renderPrompt substitutes {{key}} placeholders in a template.
func renderPrompt(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// promptTemplate prefers the recorded prompt version over the built-in
// default.
func promptTemplate(opts Options, fallback string) string {
	if opts.Prompt != nil && strings.TrimSpace(opts.Prompt.Template) != "" {
		return opts.Prompt.Template
	}
	return fallback
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
