// Package transfer provides the download host the orchestrator drives.
//
// Host abstracts a download manager with ids, control operations, search and
// an event stream. Engine implements it with net/http: one goroutine per
// transfer, partial data in a ".part" file, Range requests after a pause and
// an atomic rename on completion.
package transfer
