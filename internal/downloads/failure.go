package downloads

import (
	"context"

	"grabber/internal/alarms"
	"grabber/internal/config"
	"grabber/internal/logging"
	"grabber/internal/notifications"
	"grabber/internal/queue"
)

// retry schedules another attempt of file after it ended with cause, or
// breaks the load item once the attempts are used up. Callers hold the load
// item lock.
func (m *Manager) retry(ctx context.Context, file *queue.FileItem, cause queue.Status) error {
	logger := m.itemLogger(ctx, file.RelatedLoadItemID).With(logging.Int64(logging.FieldFileItemID, file.ID))
	if file.Status == queue.StatusCancelled {
		logger.Info("retry skipped; file was cancelled")
		m.kick()
		return nil
	}
	if file.RetryAttempts >= m.cfg.Downloads.MaxAttemptRetries {
		logging.WarnWithContext(logger, "retry attempts exhausted", "download_failed",
			logging.Int("attempts", file.RetryAttempts),
			logging.String("cause", string(cause)),
		)
		return m.breakWithError(ctx, file, cause)
	}

	if file.DownloadID != nil {
		if err := m.host.Erase(ctx, *file.DownloadID); err != nil {
			logger.Debug("stale transfer not erased", logging.Int64(logging.FieldDownloadID, *file.DownloadID), logging.Error(err))
		}
	}
	file.Status = cause
	if err := m.store.UpdateFile(ctx, file); err != nil {
		return err
	}
	predecessor := file.ID
	next := &queue.FileItem{
		FileType:            file.FileType,
		RelatedLoadItemID:   file.RelatedLoadItemID,
		DependentFileItemID: &predecessor,
		FileName:            file.FileName,
		SaveAs:              file.SaveAs,
		RetryAttempts:       file.RetryAttempts + 1,
		Status:              queue.StatusCandidate,
	}
	if err := m.store.CreateFile(ctx, next); err != nil {
		return err
	}
	name := alarms.RetryAlarmName(file.RelatedLoadItemID, next.ID)
	if err := m.alarms.Schedule(name, m.cfg.RetryDelay()); err != nil {
		return err
	}
	logger.Info("retry scheduled",
		logging.String("alarm", name),
		logging.Int("attempt", next.RetryAttempts),
		logging.Duration("delay", m.cfg.RetryDelay()),
	)
	return nil
}

// breakWithError ends file and its load item with cause.
func (m *Manager) breakWithError(ctx context.Context, file *queue.FileItem, cause queue.Status) error {
	file.Status = cause
	if err := m.store.UpdateFile(ctx, file); err != nil {
		return err
	}
	if err := m.failLoad(ctx, file, cause); err != nil {
		return err
	}
	m.kick()
	return nil
}

// failLoad ends the load item of file with cause and applies the configured
// failure action. The failing file, and every file when the cause is a
// cancellation, takes cause; other unfinished files become
// initiation_error. Callers hold the load item lock.
func (m *Manager) failLoad(ctx context.Context, file *queue.FileItem, cause queue.Status) error {
	loadItemID := file.RelatedLoadItemID
	logger := m.itemLogger(ctx, loadItemID)
	item, err := m.store.GetLoadItem(ctx, loadItemID)
	if err != nil {
		return err
	}
	if item == nil {
		_, err := m.store.RemoveActive(ctx, loadItemID)
		return err
	}
	if err := m.store.UpdateLoadItemStatus(ctx, loadItemID, cause); err != nil {
		return err
	}

	files, err := m.store.FilesForLoadItem(ctx, loadItemID)
	if err != nil {
		return err
	}
	for _, related := range files {
		if related.Status.IsTerminal() {
			continue
		}
		status := queue.StatusInitiationError
		if related.ID == file.ID || cause == queue.StatusCancelled {
			status = cause
		}
		if err := m.store.UpdateFileStatus(ctx, related.ID, status); err != nil {
			return err
		}
	}
	if _, err := m.store.RemoveActive(ctx, loadItemID); err != nil {
		return err
	}
	if cause == queue.StatusCancelled {
		logger.Info("download cancelled")
		return nil
	}

	downloads := m.cfg.Downloads
	if !file.HasURL() {
		action := downloads.ActionOnNoQuality
		if file.FileType == queue.FileSubtitle {
			action = downloads.ActionOnNoSubtitles
		}
		switch {
		case action == config.ActionStop:
			m.applyStop(item)
			return nil
		case action == config.ActionSkip:
			m.applySkip(item)
			return nil
		case action == config.ActionIgnore && file.FileType == queue.FileSubtitle:
			logger.Warn("subtitle unavailable; download ignored", logging.Int64(logging.FieldFileItemID, file.ID))
			return nil
		}
	}

	logging.ErrorWithContext(logger, "download failed", "download_failed",
		logging.Int64(logging.FieldFileItemID, file.ID),
		logging.String("cause", string(cause)),
		logging.String("file_type", string(file.FileType)),
	)
	action := downloads.ActionOnLoadVideoError
	if file.FileType == queue.FileSubtitle {
		action = downloads.ActionOnLoadSubtitleError
	}
	if action == config.ActionStop {
		m.applyStop(item)
	} else {
		m.applySkip(item)
	}
	return nil
}

// applyStop cancels the rest of the movie in the background; the caller
// still holds a load item lock the cancellation needs.
func (m *Manager) applyStop(item *queue.LoadItem) {
	movieID := item.MovieID
	m.background(func(ctx context.Context) {
		m.stopMovie(ctx, movieID)
	})
}

func (m *Manager) applySkip(item *queue.LoadItem) {
	movieID := item.MovieID
	m.background(func(ctx context.Context) {
		title := m.movieTitle(ctx, movieID)
		m.notify("download skipped", func(ctx context.Context, svc notifications.Service) error {
			return svc.NotifyDownloadSkipped(ctx, movieID, title)
		})
	})
}
