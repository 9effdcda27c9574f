// Package preflight provides readiness checks for the filesystem paths and
// external services grabber depends on.
//
// The daemon runs RunAll at startup and logs every failed check; the CLI
// "grabber status --check" prints the same results. Notification checks are
// skipped when no ntfy topic is configured.
package preflight
