package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateFile inserts a file item and assigns its id. A dependency must name
// an existing, strictly older file item of the same load item that no other
// file item already depends on; anything else returns ErrInvalidChain.
func (s *Store) CreateFile(ctx context.Context, file *FileItem) error {
	if file == nil {
		return errors.New("file item is nil")
	}
	if file.Status == "" {
		file.Status = StatusCandidate
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if dep := file.DependentFileItemID; dep != nil {
			if err := checkPredecessor(ctx, tx, file.RelatedLoadItemID, *dep); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO file_items (file_type, load_item_id, dependent_file_item_id, download_id, file_name,
                 url, save_as, retry_attempts, status, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			file.FileType, file.RelatedLoadItemID, nullableInt64(file.DependentFileItemID), nullableInt64(file.DownloadID),
			file.FileName, nullableString(file.URL), boolToInt(file.SaveAs), file.RetryAttempts, file.Status,
			formatTime(file.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert file item: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		file.ID = id
		return nil
	})
	if err != nil {
		return fmt.Errorf("create file item: %w", err)
	}
	return nil
}

func checkPredecessor(ctx context.Context, tx *sql.Tx, loadItemID, dep int64) error {
	var owner int64
	err := tx.QueryRowContext(ctx, `SELECT load_item_id FROM file_items WHERE id = ?`, dep).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: predecessor %d does not exist", ErrInvalidChain, dep)
	}
	if err != nil {
		return err
	}
	if owner != loadItemID {
		return fmt.Errorf("%w: predecessor %d belongs to load item %d", ErrInvalidChain, dep, owner)
	}
	// AUTOINCREMENT ids only grow, so an existing predecessor is always older
	// than the row about to be inserted.
	var successors int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM file_items WHERE dependent_file_item_id = ?`, dep).Scan(&successors); err != nil {
		return err
	}
	if successors > 0 {
		return fmt.Errorf("%w: predecessor %d already has a successor", ErrInvalidChain, dep)
	}
	return nil
}

// GetFile fetches a file item by identifier. A missing item yields nil.
func (s *Store) GetFile(ctx context.Context, id int64) (*FileItem, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+fileItemColumns+` FROM file_items WHERE id = ?`, id)
	file, err := scanFileItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file item: %w", err)
	}
	return file, nil
}

// FilesForLoadItem returns the file items of a load item in id order.
func (s *Store) FilesForLoadItem(ctx context.Context, loadItemID int64) ([]*FileItem, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+fileItemColumns+` FROM file_items WHERE load_item_id = ? ORDER BY id`, loadItemID)
	if err != nil {
		return nil, fmt.Errorf("files for load item: %w", err)
	}
	return collectFileItems(rows)
}

// ActiveFileFor resolves the live file item of a load item. A load item
// without files yields nil.
func (s *Store) ActiveFileFor(ctx context.Context, loadItemID int64) (*FileItem, error) {
	files, err := s.FilesForLoadItem(ctx, loadItemID)
	if err != nil {
		return nil, err
	}
	return ActiveFile(files)
}

// FindByDownloadID returns the newest file item carrying the transfer id.
// Transfer ids restart after a process restart, so several rows may share one.
func (s *Store) FindByDownloadID(ctx context.Context, downloadID int64) (*FileItem, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+fileItemColumns+` FROM file_items WHERE download_id = ? ORDER BY id DESC LIMIT 1`,
		downloadID,
	)
	file, err := scanFileItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by download id: %w", err)
	}
	return file, nil
}

// MaxDownloadID returns the highest transfer id ever recorded, or 0.
func (s *Store) MaxDownloadID(ctx context.Context) (int64, error) {
	var highest sql.NullInt64
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT MAX(download_id) FROM file_items`).Scan(&highest); err != nil {
		return 0, fmt.Errorf("max download id: %w", err)
	}
	return highest.Int64, nil
}

// UpdateFile persists the mutable fields of a file item: transfer id, name,
// URL, retry count and status.
func (s *Store) UpdateFile(ctx context.Context, file *FileItem) error {
	if file == nil {
		return errors.New("file item is nil")
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE file_items SET download_id = ?, file_name = ?, url = ?, save_as = ?, retry_attempts = ?, status = ?
         WHERE id = ?`,
		nullableInt64(file.DownloadID), file.FileName, nullableString(file.URL), boolToInt(file.SaveAs),
		file.RetryAttempts, file.Status, file.ID,
	)
	if err != nil {
		return fmt.Errorf("update file item: %w", err)
	}
	return requireAffected(res, ErrFileItemNotFound, file.ID)
}

// UpdateFileStatus sets the status of a file item.
func (s *Store) UpdateFileStatus(ctx context.Context, id int64, status Status) error {
	res, err := s.execWithRetry(ctx, `UPDATE file_items SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update file status: %w", err)
	}
	return requireAffected(res, ErrFileItemNotFound, id)
}
