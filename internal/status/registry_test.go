package status_test

import (
	"errors"
	"testing"

	"curator/internal/services"
	"curator/internal/status"
)

func mustRegistry(t *testing.T) *status.Registry {
	t.Helper()
	rows, err := status.Seed()
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	reg, err := status.NewRegistry(rows)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return reg
}

func TestCodeLookup(t *testing.T) {
	reg := mustRegistry(t)

	code, err := reg.Code("pending_review")
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	if code != 300 {
		t.Fatalf("expected pending_review = 300, got %d", code)
	}

	name, err := reg.Name(500)
	if err != nil {
		t.Fatalf("Name failed: %v", err)
	}
	if name != "failed" {
		t.Fatalf("expected failed, got %q", name)
	}
}

func TestUnknownNameFailsLoudly(t *testing.T) {
	reg := mustRegistry(t)

	if _, err := reg.Code("totally_unknown"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := reg.Codes("to_fetch", "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Codes, got %v", err)
	}
}

func TestCodesResolvesAll(t *testing.T) {
	reg := mustRegistry(t)

	codes, err := reg.Codes("to_fetch", "to_summarize", "failed")
	if err != nil {
		t.Fatalf("Codes failed: %v", err)
	}
	if codes["to_fetch"] != 110 || codes["to_summarize"] != 210 || codes["failed"] != 500 {
		t.Fatalf("unexpected codes %#v", codes)
	}
}

func TestDuplicateRowsRejected(t *testing.T) {
	rows := []status.Row{
		{Code: 100, Name: "discovered", Category: status.CategoryDiscovery},
		{Code: 100, Name: "other", Category: status.CategoryDiscovery},
	}
	if _, err := status.NewRegistry(rows); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for duplicate code, got %v", err)
	}
}

func TestCategoryHelpers(t *testing.T) {
	if !status.IsReady(110) || status.IsReady(111) {
		t.Fatal("ready detection wrong")
	}
	if !status.IsWorking(221) || status.IsWorking(220) {
		t.Fatal("working detection wrong")
	}
	if !status.IsTerminal(530) || status.IsTerminal(400) {
		t.Fatal("terminal detection wrong")
	}
}

func TestDisplayName(t *testing.T) {
	reg := mustRegistry(t)
	if got := reg.DisplayName(300); got != "Pending Review" {
		t.Fatalf("expected Pending Review, got %q", got)
	}
	if got := reg.DisplayName(999); got != "Unknown (999)" {
		t.Fatalf("expected Unknown (999), got %q", got)
	}
}

func TestValidTransition(t *testing.T) {
	reg := mustRegistry(t)

	cases := []struct {
		from, to int
		manual   bool
		want     bool
	}{
		{110, 111, false, true},   // entry -> working
		{111, 120, false, true},   // fetch success -> filter entry
		{121, 530, false, true},   // filter reject -> irrelevant
		{200, 111, false, true},   // pending enrichment restarts at fetch
		{200, 211, false, false},  // pending enrichment cannot skip to summarize
		{231, 300, false, true},   // thumbnail honoring return status
		{112, 222, false, false},  // skipping stages is not allowed
		{400, 300, false, false},  // published back to review needs manual
		{400, 300, true, true},    // manual re-enrichment of published item
		{500, 220, true, true},    // manual retry to a stage entry
		{221, 110, true, true},    // re-enrichment supersedes in-flight work
		{221, 530, true, false},   // manual moves never target terminal states
		{300, 300, false, true},   // idempotent same-state update
	}
	for _, tc := range cases {
		if got := reg.ValidTransition(tc.from, tc.to, tc.manual); got != tc.want {
			t.Errorf("ValidTransition(%d, %d, manual=%v) = %v, want %v", tc.from, tc.to, tc.manual, got, tc.want)
		}
	}
}

func TestValidateTransitionError(t *testing.T) {
	reg := mustRegistry(t)
	err := reg.ValidateTransition(112, 222, false)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestReturnStatusName(t *testing.T) {
	if got := status.ReturnStatusName(status.CategoryPublished); got != "pending_review" {
		t.Fatalf("published return status = %q", got)
	}
	if got := status.ReturnStatusName(status.CategoryReview); got != "pending_review" {
		t.Fatalf("review return status = %q", got)
	}
	if got := status.ReturnStatusName(status.CategoryEnrichment); got != "enriched" {
		t.Fatalf("enrichment return status = %q", got)
	}
}
