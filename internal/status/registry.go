package status

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"curator/internal/services"
)

//go:embed codes.yaml
var codesYAML []byte

// Category groups status codes by pipeline phase.
type Category string

const (
	CategoryDiscovery  Category = "discovery"
	CategoryEnrichment Category = "enrichment"
	CategoryReview     Category = "review"
	CategoryPublished  Category = "published"
	CategoryTerminal   Category = "terminal"
)

// Row is one entry of the status lookup table.
type Row struct {
	Code     int      `yaml:"code"`
	Name     string   `yaml:"name"`
	Category Category `yaml:"category"`
}

// Seed parses the embedded canonical status table. It is used to populate
// the status_lookup table on first open and by tests.
func Seed() ([]Row, error) {
	var rows []Row
	if err := yaml.Unmarshal(codesYAML, &rows); err != nil {
		return nil, fmt.Errorf("parse status seed: %w", err)
	}
	return rows, nil
}

// Source provides the persisted status lookup rows.
type Source interface {
	StatusRows(ctx context.Context) ([]Row, error)
}

// Registry resolves status names to stable integer codes and back. It is
// constructed once at startup and passed by reference to every component
// that needs lookups; it is immutable afterwards.
type Registry struct {
	byName map[string]Row
	byCode map[int]Row
}

var titleCaser = cases.Title(language.English)

// Load builds a Registry from the persisted lookup table.
func Load(ctx context.Context, src Source) (*Registry, error) {
	rows, err := src.StatusRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("load status rows: %w", err)
	}
	return NewRegistry(rows)
}

// NewRegistry builds a Registry from rows, rejecting duplicates.
func NewRegistry(rows []Row) (*Registry, error) {
	if len(rows) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "", "status registry", "no status rows loaded", nil)
	}
	reg := &Registry{
		byName: make(map[string]Row, len(rows)),
		byCode: make(map[int]Row, len(rows)),
	}
	for _, row := range rows {
		name := strings.ToLower(strings.TrimSpace(row.Name))
		if name == "" {
			return nil, services.Wrap(services.ErrConfiguration, "", "status registry", fmt.Sprintf("status code %d has no name", row.Code), nil)
		}
		if _, ok := reg.byName[name]; ok {
			return nil, services.Wrap(services.ErrConfiguration, "", "status registry", fmt.Sprintf("duplicate status name %q", name), nil)
		}
		if _, ok := reg.byCode[row.Code]; ok {
			return nil, services.Wrap(services.ErrConfiguration, "", "status registry", fmt.Sprintf("duplicate status code %d", row.Code), nil)
		}
		row.Name = name
		reg.byName[name] = row
		reg.byCode[row.Code] = row
	}
	return reg, nil
}

// Code resolves a status name to its integer code. Unknown names fail with
// ErrNotFound; call sites must never default silently.
func (r *Registry) Code(name string) (int, error) {
	row, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, services.Wrap(services.ErrNotFound, "", "status lookup", fmt.Sprintf("unknown status name %q", name), nil)
	}
	return row.Code, nil
}

// Codes resolves several names at once, failing if any name is unresolved.
func (r *Registry) Codes(names ...string) (map[string]int, error) {
	out := make(map[string]int, len(names))
	for _, name := range names {
		code, err := r.Code(name)
		if err != nil {
			return nil, err
		}
		out[name] = code
	}
	return out, nil
}

// Name resolves a code to its canonical name.
func (r *Registry) Name(code int) (string, error) {
	row, ok := r.byCode[code]
	if !ok {
		return "", services.Wrap(services.ErrNotFound, "", "status lookup", fmt.Sprintf("unknown status code %d", code), nil)
	}
	return row.Name, nil
}

// Category returns the category of a known code.
func (r *Registry) Category(code int) (Category, error) {
	row, ok := r.byCode[code]
	if !ok {
		return "", services.Wrap(services.ErrNotFound, "", "status lookup", fmt.Sprintf("unknown status code %d", code), nil)
	}
	return row.Category, nil
}

// DisplayName renders a code for human-facing output ("pending_review" ->
// "Pending Review"). Unknown codes render as "Unknown (<code>)".
func (r *Registry) DisplayName(code int) string {
	row, ok := r.byCode[code]
	if !ok {
		return fmt.Sprintf("Unknown (%d)", code)
	}
	return titleCaser.String(strings.ReplaceAll(row.Name, "_", " "))
}

// Rows returns all known rows ordered by code.
func (r *Registry) Rows() []Row {
	rows := make([]Row, 0, len(r.byCode))
	for _, row := range r.byCode {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Code < rows[j].Code })
	return rows
}

// IsReady reports whether a code is a stage entry state (ends in 0,
// below the terminal band).
func IsReady(code int) bool { return code%10 == 0 && code < 500 }

// IsWorking reports whether a code is an in-progress state (ends in 1).
func IsWorking(code int) bool { return code%10 == 1 && code < 500 }

// IsComplete reports whether a code is a stage-complete state (ends in 2).
func IsComplete(code int) bool { return code%10 == 2 && code < 500 }

// IsTerminal reports whether a code is in the terminal/error band.
func IsTerminal(code int) bool { return code >= 500 }

// ReturnStatusName maps the category an item held before re-enrichment to
// the status it should land on once the scoped rerun completes. Published
// and in-review items must pass human review again; everything else returns
// to the pre-publish enriched state.
func ReturnStatusName(cat Category) string {
	switch cat {
	case CategoryPublished, CategoryReview:
		return "pending_review"
	default:
		return "enriched"
	}
}
