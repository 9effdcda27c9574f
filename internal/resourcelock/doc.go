// Package resourcelock provides the locking primitives the download pipeline
// is built on.
//
// PriorityMutex is an exclusive lock that serves waiters by priority and then
// by arrival. SoftLockMutex adds a soft-lock state: a holder busy with a long
// operation (such as resolving stream URLs) can mark itself preemptible, let
// a higher-priority request (such as a cancellation) run a short sub-task,
// and then resume knowing whether it was interrupted.
//
// Registry maps (type, id) resource targets to lazily created SoftLockMutex
// instances. It is constructed once per process and injected wherever
// per-resource serialization is needed.
package resourcelock
