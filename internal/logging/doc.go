// Package logging configures structured slog output for curator with
// console and JSON handlers and shared attribute helpers.
package logging
