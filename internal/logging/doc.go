// Package logging assembles the structured slog loggers used across grabber.
//
// It owns the console and JSON handlers, level and output plumbing, an
// in-memory stream of recent events for the HTTP API, and context helpers
// that tag lines with load item and correlation ids. NewNop gives tests and
// optional wiring a logger that cannot fail.
package logging
