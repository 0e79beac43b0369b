package queue

import (
	"time"

	"curator/internal/payload"
)

// Item is one piece of content moving through the pipeline.
type Item struct {
	ID               int64
	URL              string
	Title            string
	StatusCode       int
	PayloadJSON      string
	FailureCount     int
	LastFailedStep   string
	ErrorMessage     string
	CurrentRunID     string
	RawRef           string
	StorageDeletedAt *time.Time
	DeletionReason   string
	ReviewedBy       string
	ReviewedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Payload decodes the item's payload document.
func (i *Item) Payload() (payload.Doc, error) {
	return payload.Unmarshal(i.PayloadJSON)
}

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSuccess   = "success"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Run records one orchestrated pass over an item: a full enrichment, a
// scoped re-enrichment, or a single-step invocation.
type Run struct {
	ID           string
	ItemID       int64
	Trigger      string
	Status       string
	ErrorMessage string
	CreatedBy    string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// StepRun records one agent invocation within a run. The input snapshot and
// prompt version are captured before the agent is called so the run can be
// replayed later.
type StepRun struct {
	ID              int64
	RunID           string
	Step            string
	Status          string
	Attempt         int
	PromptVersionID int64
	InputSnapshot   string
	OutputJSON      string
	ErrorMessage    string
	StartedAt       time.Time
	CompletedAt     *time.Time
}

// PromptVersion is a versioned prompt template for an agent step.
type PromptVersion struct {
	ID        int64
	Step      string
	Version   string
	Template  string
	Active    bool
	CreatedAt time.Time
}

// Transition is one audit row from the transition log.
type Transition struct {
	ID        int64
	ItemID    int64
	FromCode  int
	ToCode    int
	Actor     string
	Reason    string
	Manual    bool
	CreatedAt time.Time
}

// Metric is one recorded measurement for a run, typically token usage.
type Metric struct {
	ID        int64
	RunID     string
	StepRunID int64
	Name      string
	Value     float64
	Unit      string
	Agent     string
	Model     string
	CreatedAt time.Time
}

// HealthSummary aggregates queue counts for diagnostics.
type HealthSummary struct {
	Total    int
	Ready    int
	Working  int
	Review   int
	Terminal int
}
