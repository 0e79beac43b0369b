// Package status maps human-readable pipeline stage names to stable integer
// codes and enforces the legal transitions between them. The Registry is an
// explicit value constructed at startup and injected into every component
// that needs lookups; there is no package-level cache.
package status
