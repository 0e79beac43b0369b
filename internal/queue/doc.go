// Package queue persists pipeline items, runs, step runs, transitions,
// prompt versions, and run metrics in a local SQLite database. Status codes
// are stored as integers against the seeded status_lookup table; only the
// transition engine writes status_code, through ApplyTransition.
package queue
