// Package step defines the closed set of pipeline steps and binds each one
// to the agent that executes it. Step names are a contract shared with the
// run records, the replay engine, and the CLI; adding a step means adding
// it here, never dispatching on a free-form string.
package step

import (
	"fmt"

	"curator/internal/agents"
	"curator/internal/services"
)

// Kind is one pipeline step.
type Kind string

const (
	Fetch     Kind = "fetch"
	Filter    Kind = "filter"
	Summarize Kind = "summarize"
	Tag       Kind = "tag"
	Thumbnail Kind = "thumbnail"
)

// FinalStatusName is where an item lands after the last enrichment step.
const FinalStatusName = "enriched"

var order = []Kind{Fetch, Filter, Summarize, Tag, Thumbnail}

var statusNames = map[Kind][3]string{
	Fetch:     {"to_fetch", "fetching", "fetched"},
	Filter:    {"to_filter", "filtering", "filtered"},
	Summarize: {"to_summarize", "summarizing", "summarized"},
	Tag:       {"to_tag", "tagging", "tagged"},
	Thumbnail: {"to_thumbnail", "thumbnailing", "thumbnailed"},
}

// Kinds returns all steps in pipeline order.
func Kinds() []Kind {
	return append([]Kind(nil), order...)
}

// ParseKind validates a step name. Unknown names fail loudly; there is no
// default step.
func ParseKind(name string) (Kind, error) {
	k := Kind(name)
	if _, ok := statusNames[k]; !ok {
		return "", services.Wrap(services.ErrValidation, "", "parse step", fmt.Sprintf("unknown step %q", name), nil)
	}
	return k, nil
}

func (k Kind) String() string { return string(k) }

// EntryStatusName is the ready state the step picks work up from.
func (k Kind) EntryStatusName() string { return statusNames[k][0] }

// WorkingStatusName is the in-progress state while the agent runs.
func (k Kind) WorkingStatusName() string { return statusNames[k][1] }

// DoneStatusName is the step-complete state used by scoped single-step runs.
func (k Kind) DoneStatusName() string { return statusNames[k][2] }

// Next returns the following step in pipeline order.
func (k Kind) Next() (Kind, bool) {
	for i, cur := range order {
		if cur == k && i+1 < len(order) {
			return order[i+1], true
		}
	}
	return "", false
}

// Registry binds steps to agents.
type Registry struct {
	byKind map[Kind]agents.Agent
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[Kind]agents.Agent)}
}

// Register binds an agent to a step, replacing any previous binding.
func (r *Registry) Register(k Kind, agent agents.Agent) {
	r.byKind[k] = agent
}

// Resolve returns the agent bound to a step.
func (r *Registry) Resolve(k Kind) (agents.Agent, error) {
	agent, ok := r.byKind[k]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, k.String(), "resolve", "no agent registered", nil)
	}
	return agent, nil
}
