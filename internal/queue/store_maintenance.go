package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Stats returns a count of load items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM load_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("load item stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// PhaseSummary aggregates load item counts per lifecycle phase.
type PhaseSummary struct {
	Total      int `json:"total"`
	Candidate  int `json:"candidate"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// Summary folds Stats into phases.
func (s *Store) Summary(ctx context.Context) (PhaseSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return PhaseSummary{}, err
	}
	var summary PhaseSummary
	for status, count := range stats {
		summary.Total += count
		switch status.Phase() {
		case PhaseCandidate:
			summary.Candidate += count
		case PhaseInProgress:
			summary.InProgress += count
		case PhaseCompleted:
			summary.Completed += count
		case PhaseFailed:
			summary.Failed += count
		case PhaseCancelled:
			summary.Cancelled += count
		}
	}
	return summary, nil
}

// Reset deletes every persisted record while keeping the schema.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"active_downloads",
		"queue_groups",
		"file_items",
		"load_config_items",
		"load_configs",
		"load_items",
		"url_details",
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// file_items references itself; clear the links before deleting rows.
		if _, err := tx.ExecContext(ctx, `UPDATE file_items SET dependent_file_item_id = NULL`); err != nil {
			return err
		}
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM sqlite_sequence`)
		return err
	})
	if err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	return nil
}

// DatabaseHealth describes the state database for diagnostics.
type DatabaseHealth struct {
	DBPath           string `json:"db_path"`
	DatabaseExists   bool   `json:"database_exists"`
	DatabaseReadable bool   `json:"database_readable"`
	SchemaVersion    int    `json:"schema_version"`
	TotalLoadItems   int    `json:"total_load_items"`
	TotalFileItems   int    `json:"total_file_items"`
	IntegrityCheck   bool   `json:"integrity_check"`
	Error            string `json:"error,omitempty"`
}

// CheckHealth returns diagnostic information about the state database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("state database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat state database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("state database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping state database: %w", err)
	}
	health.DatabaseReadable = true

	checks := []struct {
		query string
		dest  *int
	}{
		{"SELECT version FROM schema_version LIMIT 1", &health.SchemaVersion},
		{"SELECT COUNT(*) FROM load_items", &health.TotalLoadItems},
		{"SELECT COUNT(*) FROM file_items", &health.TotalFileItems},
	}
	for _, check := range checks {
		if err := s.db.QueryRowContext(connCtx, check.query).Scan(check.dest); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("health query %q: %w", check.query, err)
		}
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")
	return health, nil
}
