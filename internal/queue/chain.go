package queue

import (
	"fmt"
	"slices"
)

// SortChain orders the file items of one load item from the root (no
// dependency) to the head (not referenced by anyone). The items must form a
// single linked lineage.
func SortChain(files []*FileItem) ([]*FileItem, error) {
	if len(files) == 0 {
		return nil, nil
	}

	byID := make(map[int64]*FileItem, len(files))
	for _, file := range files {
		if file == nil {
			return nil, fmt.Errorf("%w: nil file item", ErrInvalidChain)
		}
		if _, dup := byID[file.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate file item %d", ErrInvalidChain, file.ID)
		}
		byID[file.ID] = file
	}

	referenced := make(map[int64]struct{}, len(files))
	for _, file := range files {
		if file.DependentFileItemID == nil {
			continue
		}
		dep := *file.DependentFileItemID
		if _, ok := byID[dep]; !ok {
			return nil, fmt.Errorf("%w: file item %d references missing %d", ErrInvalidChain, file.ID, dep)
		}
		if _, seen := referenced[dep]; seen {
			return nil, fmt.Errorf("%w: file item %d has more than one successor", ErrInvalidChain, dep)
		}
		referenced[dep] = struct{}{}
	}

	var head *FileItem
	for _, file := range files {
		if _, ok := referenced[file.ID]; ok {
			continue
		}
		if head != nil {
			return nil, fmt.Errorf("%w: multiple heads (%d, %d)", ErrInvalidChain, head.ID, file.ID)
		}
		head = file
	}
	if head == nil {
		return nil, fmt.Errorf("%w: cycle without head", ErrInvalidChain)
	}

	lineage := make([]*FileItem, 0, len(files))
	visited := make(map[int64]struct{}, len(files))
	for cur := head; cur != nil; {
		if _, ok := visited[cur.ID]; ok {
			return nil, fmt.Errorf("%w: cycle at file item %d", ErrInvalidChain, cur.ID)
		}
		visited[cur.ID] = struct{}{}
		lineage = append(lineage, cur)
		if cur.DependentFileItemID == nil {
			break
		}
		cur = byID[*cur.DependentFileItemID]
	}
	if len(lineage) != len(files) {
		return nil, fmt.Errorf("%w: %d file items unreachable from head %d", ErrInvalidChain, len(files)-len(lineage), head.ID)
	}

	slices.Reverse(lineage)
	return lineage, nil
}

// ActiveFile returns the live file item of a lineage: the first item whose
// successor is still a candidate, or the head when no such item exists. An
// empty input yields nil.
func ActiveFile(files []*FileItem) (*FileItem, error) {
	lineage, err := SortChain(files)
	if err != nil || len(lineage) == 0 {
		return nil, err
	}
	for i := 0; i < len(lineage)-1; i++ {
		if lineage[i+1].Status == StatusCandidate {
			return lineage[i], nil
		}
	}
	return lineage[len(lineage)-1], nil
}
