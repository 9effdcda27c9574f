// Package queue persists download bookkeeping in SQLite and resolves file
// item lineages.
//
// The Store owns load items, their shared load configs, per-movie url
// details, file items, the pending queue of groups and the list of active
// load item ids. File items form a singly linked chain through
// DependentFileItemID; CreateFile refuses links that would fork the chain or
// point forward, and SortChain/ActiveFile walk it to find the live record.
//
// The package does not lock anything itself. Callers serialize mutations of
// one load item through the resource lock registry.
//
// Schema changes bump the version in schema.go; users delete the database to
// adopt the new schema.
package queue
