package status

import (
	"fmt"

	"curator/internal/services"
)

// normalTransitions mirrors the persisted state-transition table: the edges
// forward processing is allowed to take without a manual override.
var normalTransitions = map[int][]int{
	100: {110},
	110: {111},
	111: {112, 120, 500, 510},
	112: {120},
	120: {121},
	121: {122, 210, 500, 530},
	122: {210},
	200: {110, 111},
	210: {211},
	211: {212, 220, 500},
	212: {220},
	220: {221},
	221: {222, 230, 500},
	222: {230},
	230: {231},
	231: {232, 240, 300, 500},
	232: {240},
	240: {300},
	300: {310, 320, 330},
	310: {320, 330, 540},
	320: {330},
	330: {400},
	400: {410},
	410: {},
}

// ValidTransition reports whether moving from one code to another is legal.
// Same-state transitions are always valid (idempotent updates). Manual
// overrides additionally allow routing an item to any stage entry state or
// back to pending review, which covers retry and re-enrichment flows.
// Superseding an in-flight item this way is safe: the stale run's final
// write fails its compare-and-set and gets discarded.
func (r *Registry) ValidTransition(from, to int, manual bool) bool {
	if from == to {
		return true
	}
	if _, ok := r.byCode[to]; !ok {
		return false
	}
	for _, next := range normalTransitions[from] {
		if next == to {
			return true
		}
	}
	if manual {
		if IsReady(to) {
			return true
		}
		if name, err := r.Name(to); err == nil && name == "pending_review" {
			return true
		}
	}
	return false
}

// ValidateTransition returns a descriptive validation error when a
// transition is not allowed.
func (r *Registry) ValidateTransition(from, to int, manual bool) error {
	if r.ValidTransition(from, to, manual) {
		return nil
	}
	detail := fmt.Sprintf("invalid state transition: %s (%d) -> %s (%d)", r.DisplayName(from), from, r.DisplayName(to), to)
	return services.Wrap(services.ErrValidation, "", "transition", detail, nil)
}

// NextStates returns the codes reachable from a state without a manual
// override, for diagnostics.
func (r *Registry) NextStates(from int) []int {
	return append([]int(nil), normalTransitions[from]...)
}
