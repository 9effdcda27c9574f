package queue

import "errors"

var (
	// ErrInvalidChain is returned when file items do not form a single
	// acyclic lineage, or when a new file item would break one.
	ErrInvalidChain = errors.New("invalid file item chain")

	// ErrLoadItemNotFound is returned by mutations that target a missing load item.
	ErrLoadItemNotFound = errors.New("load item not found")

	// ErrFileItemNotFound is returned by mutations that target a missing file item.
	ErrFileItemNotFound = errors.New("file item not found")
)
