package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// PendingGroups returns the pending queue in insertion order.
func (s *Store) PendingGroups(ctx context.Context) ([]QueueGroup, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT position, load_item_ids_json, is_batch FROM queue_groups ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("pending groups: %w", err)
	}
	defer rows.Close()

	var groups []QueueGroup
	for rows.Next() {
		var (
			group QueueGroup
			raw   string
			batch int
		)
		if err := rows.Scan(&group.Position, &raw, &batch); err != nil {
			return nil, err
		}
		group.Batch = batch != 0
		if err := json.Unmarshal([]byte(raw), &group.LoadItemIDs); err != nil {
			return nil, fmt.Errorf("decode queue group %d: %w", group.Position, err)
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// ActiveIDs returns the load item ids currently being downloaded, oldest first.
func (s *Store) ActiveIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT load_item_id FROM active_downloads ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("active ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsActive reports whether the load item is in the active list.
func (s *Store) IsActive(ctx context.Context, loadItemID int64) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM active_downloads WHERE load_item_id = ?`, loadItemID,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("is active: %w", err)
	}
	return count > 0, nil
}

// Activate moves loadItemID out of the pending group at position and appends
// it to the active list. The group is dropped once it empties.
func (s *Store) Activate(ctx context.Context, position, loadItemID int64) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := removeFromGroup(ctx, tx, position, loadItemID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO active_downloads (load_item_id) VALUES (?)`, loadItemID)
		return err
	})
	if err != nil {
		return fmt.Errorf("activate %d: %w", loadItemID, err)
	}
	return nil
}

// RemoveActive drops a load item from the active list and reports whether it was present.
func (s *Store) RemoveActive(ctx context.Context, loadItemID int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM active_downloads WHERE load_item_id = ?`, loadItemID)
	if err != nil {
		return false, fmt.Errorf("remove active %d: %w", loadItemID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RemoveFromQueue drops a load item from whichever pending group holds it and
// reports whether it was found.
func (s *Store) RemoveFromQueue(ctx context.Context, loadItemID int64) (bool, error) {
	var found bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		found = false
		rows, err := tx.QueryContext(ctx, `SELECT position, load_item_ids_json FROM queue_groups ORDER BY position`)
		if err != nil {
			return err
		}
		var position int64 = -1
		for rows.Next() {
			var (
				pos int64
				raw string
				ids []int64
			)
			if err := rows.Scan(&pos, &raw); err != nil {
				rows.Close()
				return err
			}
			if err := json.Unmarshal([]byte(raw), &ids); err != nil {
				rows.Close()
				return err
			}
			if slices.Contains(ids, loadItemID) {
				position = pos
				break
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if position < 0 {
			return nil
		}
		found, err = removeFromGroup(ctx, tx, position, loadItemID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("remove %d from queue: %w", loadItemID, err)
	}
	return found, nil
}

func removeFromGroup(ctx context.Context, tx *sql.Tx, position, loadItemID int64) (bool, error) {
	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT load_item_ids_json FROM queue_groups WHERE position = ?`, position).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return false, err
	}
	idx := slices.Index(ids, loadItemID)
	if idx < 0 {
		return false, nil
	}
	ids = slices.Delete(ids, idx, idx+1)
	if len(ids) == 0 {
		_, err := tx.ExecContext(ctx, `DELETE FROM queue_groups WHERE position = ?`, position)
		return true, err
	}
	updated, err := json.Marshal(ids)
	if err != nil {
		return false, err
	}
	_, err = tx.ExecContext(ctx, `UPDATE queue_groups SET load_item_ids_json = ? WHERE position = ?`, string(updated), position)
	return true, err
}
