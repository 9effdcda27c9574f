// Package downloads schedules and supervises load items.
//
// The Manager pulls load items off the pending queue within the parallel
// limits, resolves their URLs through a site loader, hands the files to the
// transfer host and reacts to its events: completion queues the secondary
// file or finishes the load item, interruption schedules a retry alarm, and
// exhausted retries apply the configured failure action. The Reconciler
// compares the active list with the running transfers so a restart can
// resume or cancel what an unclean shutdown left behind.
package downloads
