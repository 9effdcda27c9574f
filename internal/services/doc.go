// Package services defines shared utilities consumed by the download pipeline
// and its transports.
//
// Key responsibilities:
//   - Context helpers that stamp load item ids and correlation identifiers for
//     logging.
//   - Structured error markers plus the Wrap helper, so callers can decide
//     whether a failure is retryable and which HTTP status it maps to.
package services
