package downloads

import (
	"context"

	"grabber/internal/logging"
	"grabber/internal/notifications"
	"grabber/internal/queue"
	"grabber/internal/resourcelock"
	"grabber/internal/transfer"
)

// HandleEvent applies one transfer host event to the file item carrying its
// transfer id. Events for transfers this daemon does not know, and events
// for files that already reached a terminal status, are ignored.
func (m *Manager) HandleEvent(ctx context.Context, ev transfer.Event) error {
	// Holding launchMu waits out a launch that has not persisted its
	// transfer id yet.
	m.launchMu.Lock()
	file, err := m.store.FindByDownloadID(ctx, ev.ID)
	m.launchMu.Unlock()
	if err != nil {
		return err
	}
	if file == nil {
		m.logger.Debug("event for unknown transfer ignored",
			logging.Int64(logging.FieldDownloadID, ev.ID),
			logging.String(logging.FieldEventType, string(ev.Type)),
		)
		return nil
	}

	loadItemID, fileID := file.RelatedLoadItemID, file.ID
	return m.locks.Run(ctx, loadItemTarget(loadItemID), resourcelock.DefaultPriority, func(ctx context.Context) error {
		file, err := m.store.GetFile(ctx, fileID)
		if err != nil || file == nil {
			return err
		}
		logger := m.itemLogger(ctx, loadItemID).With(
			logging.Int64(logging.FieldFileItemID, fileID),
			logging.Int64(logging.FieldDownloadID, ev.ID),
			logging.String(logging.FieldEventType, string(ev.Type)),
		)

		if ev.Type == transfer.EventCreated {
			return m.onCreated(ctx, file, ev.ID)
		}
		if file.Status.IsTerminal() {
			logger.Debug("event for finished file ignored", logging.String("status", string(file.Status)))
			return nil
		}

		switch ev.Type {
		case transfer.EventCompleted:
			return m.onCompleted(ctx, file)
		case transfer.EventInterrupted:
			if ev.Error == transfer.ErrUserCanceled {
				return m.onUserCanceled(ctx, file)
			}
			logger.Warn("transfer interrupted", logging.String("error", string(ev.Error)))
			return m.retry(ctx, file, queue.StatusFailed)
		case transfer.EventPaused:
			return m.store.UpdateFileStatus(ctx, file.ID, queue.StatusPaused)
		case transfer.EventResumed:
			return m.store.UpdateFileStatus(ctx, file.ID, queue.StatusDownloading)
		default:
			logger.Warn("unknown transfer event")
			return nil
		}
	})
}

func (m *Manager) onCreated(ctx context.Context, file *queue.FileItem, downloadID int64) error {
	if file.Status == queue.StatusCancelled {
		// The transfer started after its file was cancelled.
		if err := m.host.Cancel(ctx, downloadID); err != nil {
			m.logger.Debug("late transfer not cancelled", logging.Int64(logging.FieldDownloadID, downloadID), logging.Error(err))
		}
		if err := m.host.Erase(ctx, downloadID); err != nil {
			m.logger.Debug("late transfer not erased", logging.Int64(logging.FieldDownloadID, downloadID), logging.Error(err))
		}
		m.itemLogger(ctx, file.RelatedLoadItemID).Warn("late transfer of cancelled file stopped",
			logging.Int64(logging.FieldFileItemID, file.ID))
		return nil
	}
	if file.Status.IsTerminal() {
		return nil
	}
	if file.Status != queue.StatusDownloading {
		if err := m.store.UpdateFileStatus(ctx, file.ID, queue.StatusDownloading); err != nil {
			return err
		}
	}
	item, err := m.store.GetLoadItem(ctx, file.RelatedLoadItemID)
	if err != nil || item == nil {
		return err
	}
	if item.Status != queue.StatusDownloading && !item.Status.IsTerminal() {
		return m.store.UpdateLoadItemStatus(ctx, item.ID, queue.StatusDownloading)
	}
	return nil
}

func (m *Manager) onCompleted(ctx context.Context, file *queue.FileItem) error {
	logger := m.itemLogger(ctx, file.RelatedLoadItemID).With(logging.Int64(logging.FieldFileItemID, file.ID))
	if err := m.store.UpdateFileStatus(ctx, file.ID, queue.StatusCompleted); err != nil {
		return err
	}
	logger.Info("file downloaded", logging.String("file", file.FileName))

	next, err := m.secondaryFile(ctx, file)
	if err != nil {
		return err
	}
	if next != nil {
		logger.Info("secondary file queued",
			logging.Int64("next_file_item_id", next.ID),
			logging.String("file_type", string(next.FileType)),
		)
		loadItemID, nextID := next.RelatedLoadItemID, next.ID
		m.background(func(ctx context.Context) {
			if err := m.ExecuteRetry(ctx, loadItemID, nextID); err != nil && ctx.Err() == nil {
				m.itemLogger(ctx, loadItemID).Error("secondary file start failed", logging.Error(err))
			}
		})
		return nil
	}

	item, err := m.store.GetLoadItem(ctx, file.RelatedLoadItemID)
	if err != nil {
		return err
	}
	if err := m.store.UpdateLoadItemStatus(ctx, file.RelatedLoadItemID, queue.StatusCompleted); err != nil {
		return err
	}
	if _, err := m.store.RemoveActive(ctx, file.RelatedLoadItemID); err != nil {
		return err
	}
	logger.Info("load item completed")
	if item != nil {
		title := m.movieTitle(ctx, item.MovieID)
		fileName := file.FileName
		m.notify("download completed", func(ctx context.Context, svc notifications.Service) error {
			return svc.NotifyDownloadCompleted(ctx, title, fileName)
		})
	}
	m.kick()
	return nil
}

// secondaryFile creates the other file type's first record once the primary
// completed, when the config asks for it and it does not exist yet.
func (m *Manager) secondaryFile(ctx context.Context, completed *queue.FileItem) (*queue.FileItem, error) {
	cfg, err := m.store.ConfigForLoadItem(ctx, completed.RelatedLoadItemID)
	if err != nil || cfg == nil {
		return nil, err
	}
	other := completed.FileType.Other()
	if !cfg.Wants(other) {
		return nil, nil
	}
	files, err := m.store.FilesForLoadItem(ctx, completed.RelatedLoadItemID)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if f.FileType == other {
			return nil, nil
		}
	}
	predecessor := completed.ID
	next := &queue.FileItem{
		FileType:            other,
		RelatedLoadItemID:   completed.RelatedLoadItemID,
		DependentFileItemID: &predecessor,
		Status:              queue.StatusCandidate,
	}
	if err := m.store.CreateFile(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (m *Manager) onUserCanceled(ctx context.Context, file *queue.FileItem) error {
	m.itemLogger(ctx, file.RelatedLoadItemID).Info("transfer cancelled outside the daemon",
		logging.Int64(logging.FieldFileItemID, file.ID))
	if file.DownloadID != nil {
		if found, err := m.host.Search(ctx, transfer.Query{ID: *file.DownloadID}); err == nil && len(found) > 0 && found[0].State == transfer.StateInProgress {
			if err := m.host.Cancel(ctx, *file.DownloadID); err != nil {
				m.logger.Debug("cancelled transfer not stopped", logging.Int64(logging.FieldDownloadID, *file.DownloadID), logging.Error(err))
			}
		}
	}
	return m.breakWithError(ctx, file, queue.StatusCancelled)
}
