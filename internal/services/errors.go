package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration marks fatal misconfiguration: unknown status names,
	// unsupported step names, missing prompt versions. Never defaulted.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks missing rows or lookups.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed agent output or invalid transitions.
	ErrValidation = errors.New("validation error")
	// ErrAgent marks agent execution failures (network, upstream errors).
	ErrAgent = errors.New("agent error")
	// ErrStorage marks blob-store failures.
	ErrStorage = errors.New("storage error")
	// ErrStale marks writes rejected because a newer run superseded them.
	ErrStale = errors.New("stale run")
)

// Wrap builds an error message that includes step context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, step, operation, message string, err error) error {
	detail := buildDetail(step, operation, message)
	if marker == nil {
		marker = ErrAgent
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsFatal reports whether an error represents misconfiguration that should
// abort the process rather than be recorded against a single item.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func buildDetail(step, operation, message string) string {
	parts := make([]string, 0, 3)
	if step = strings.TrimSpace(step); step != "" {
		parts = append(parts, step)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
