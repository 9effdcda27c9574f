package downloads

import (
	"context"
	"fmt"

	"grabber/internal/logging"
	"grabber/internal/queue"
	"grabber/internal/resourcelock"
	"grabber/internal/services"
)

// PauseResult names the transfer a pause or resume was sent to. The file
// status follows once the host reports the change.
type PauseResult struct {
	LoadItemID int64 `json:"load_item_id"`
	FileItemID int64 `json:"file_item_id"`
	DownloadID int64 `json:"download_id"`
}

// Pause suspends the running transfer of a load item.
func (m *Manager) Pause(ctx context.Context, loadItemID int64) (PauseResult, error) {
	return m.setPaused(ctx, loadItemID, true)
}

// Resume continues the paused transfer of a load item.
func (m *Manager) Resume(ctx context.Context, loadItemID int64) (PauseResult, error) {
	return m.setPaused(ctx, loadItemID, false)
}

func (m *Manager) setPaused(ctx context.Context, loadItemID int64, pause bool) (PauseResult, error) {
	op, from := "resume", queue.StatusPaused
	if pause {
		op, from = "pause", queue.StatusDownloading
	}
	result := PauseResult{LoadItemID: loadItemID}
	err := m.locks.Run(ctx, loadItemTarget(loadItemID), resourcelock.DefaultPriority, func(ctx context.Context) error {
		item, err := m.store.GetLoadItem(ctx, loadItemID)
		if err != nil {
			return err
		}
		if item == nil {
			return services.Wrap(services.ErrNotFound, "downloads", op, fmt.Sprintf("load item %d", loadItemID), nil)
		}
		if item.Status.IsTerminal() {
			return services.Wrap(services.ErrConflict, "downloads", op,
				fmt.Sprintf("load item %d is %s", loadItemID, item.Status), nil)
		}
		file, err := m.store.ActiveFileFor(ctx, loadItemID)
		if err != nil {
			return err
		}
		if file == nil || file.DownloadID == nil || file.Status != from {
			return services.Wrap(services.ErrConflict, "downloads", op,
				fmt.Sprintf("load item %d has no %s transfer", loadItemID, from), nil)
		}
		result.FileItemID, result.DownloadID = file.ID, *file.DownloadID

		if pause {
			err = m.host.Pause(ctx, *file.DownloadID)
		} else {
			err = m.host.Resume(ctx, *file.DownloadID)
		}
		if err != nil {
			return services.Wrap(services.ErrConflict, "downloads", op, "transfer host refused", err)
		}
		m.itemLogger(ctx, loadItemID).Info("transfer "+op+" requested",
			logging.Int64(logging.FieldFileItemID, file.ID),
			logging.Int64(logging.FieldDownloadID, *file.DownloadID),
		)
		return nil
	})
	return result, err
}
