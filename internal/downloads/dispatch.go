package downloads

import (
	"context"
	"fmt"

	"grabber/internal/logging"
	"grabber/internal/network"
	"grabber/internal/notifications"
	"grabber/internal/queue"
	"grabber/internal/resourcelock"
	"grabber/internal/services"
	"grabber/internal/siteloader"
	"grabber/internal/transfer"
)

// Dispatch starts queued load items until the parallel limits are reached
// or the queue is drained. Passes are serialized.
func (m *Manager) Dispatch(ctx context.Context) error {
	return m.dispatchMu.RunExclusive(ctx, resourcelock.DefaultPriority, func(ctx context.Context) error {
		m.kickPending.Store(false)
		for {
			id, ok, err := m.pickNext(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := m.startLoadItem(ctx, id); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				m.itemLogger(ctx, id).Error("load item start failed", logging.Error(err))
			}
		}
	})
}

// pickNext moves the next eligible load item from the pending queue to the
// active list. A batch group yields its first id only while fewer than
// max_parallel_episodes items of its config are active.
func (m *Manager) pickNext(ctx context.Context) (int64, bool, error) {
	groups, err := m.store.PendingGroups(ctx)
	if err != nil {
		return 0, false, err
	}
	if len(groups) == 0 {
		return 0, false, nil
	}
	active, err := m.store.ActiveIDs(ctx)
	if err != nil {
		return 0, false, err
	}
	if len(active) >= m.cfg.Downloads.MaxParallelDownloads {
		return 0, false, nil
	}

	for _, group := range groups {
		if len(group.LoadItemIDs) == 0 {
			continue
		}
		next := group.LoadItemIDs[0]
		if group.Batch {
			cfg, err := m.store.ConfigForLoadItem(ctx, next)
			if err != nil {
				return 0, false, err
			}
			if cfg != nil && countActive(active, cfg.LoadItemIDs) >= m.cfg.Downloads.MaxParallelEpisodes {
				continue
			}
		}
		if err := m.store.Activate(ctx, group.Position, next); err != nil {
			return 0, false, err
		}
		return next, true, nil
	}
	return 0, false, nil
}

func countActive(active, ids []int64) int {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	count := 0
	for _, id := range active {
		if _, ok := set[id]; ok {
			count++
		}
	}
	return count
}

func (m *Manager) startLoadItem(ctx context.Context, id int64) error {
	return m.locks.Run(ctx, loadItemTarget(id), resourcelock.DefaultPriority, func(ctx context.Context) error {
		logger := m.itemLogger(ctx, id)
		item, err := m.store.GetLoadItem(ctx, id)
		if err != nil {
			return err
		}
		if item == nil || item.Status != queue.StatusCandidate {
			if item == nil || item.Status.IsTerminal() {
				_, err := m.store.RemoveActive(ctx, id)
				return err
			}
			logger.Warn("start skipped; load item already started", logging.String("status", string(item.Status)))
			return nil
		}
		if err := m.store.UpdateLoadItemStatus(ctx, id, queue.StatusInitiating); err != nil {
			return err
		}

		loader, cfg, details, err := m.buildLoader(ctx, item)
		if err != nil {
			return m.abortStart(ctx, item, err)
		}
		fileType := m.primaryType(cfg)
		url, proceed, err := m.resolveURL(ctx, id, loader, fileType)
		if err != nil {
			return err
		}
		if !proceed {
			logger.Info("start abandoned; load item finished while resolving")
			return nil
		}

		file := &queue.FileItem{
			FileType:          fileType,
			RelatedLoadItemID: id,
			FileName:          loader.FileName(fileType, m.now()),
			URL:               url,
			Status:            queue.StatusInitiating,
		}
		if err := m.store.CreateFile(ctx, file); err != nil {
			return err
		}
		logger.Info("load item started",
			logging.Int64(logging.FieldFileItemID, file.ID),
			logging.String("file_type", string(fileType)),
		)
		return m.launch(ctx, file, details.SiteURL)
	})
}

// abortStart ends a load item whose loader could not be built.
func (m *Manager) abortStart(ctx context.Context, item *queue.LoadItem, cause error) error {
	logging.ErrorWithContext(m.itemLogger(ctx, item.ID), "site loader unavailable", "load_item_start",
		logging.Error(cause),
		logging.String(logging.FieldImpact, "download cannot start"),
	)
	if err := m.store.UpdateLoadItemStatus(ctx, item.ID, queue.StatusInitiationError); err != nil {
		return err
	}
	if _, err := m.store.RemoveActive(ctx, item.ID); err != nil {
		return err
	}
	m.notify("load item start", func(ctx context.Context, svc notifications.Service) error {
		return svc.NotifyError(ctx, cause, fmt.Sprintf("movie %d", item.MovieID))
	})
	return nil
}

func (m *Manager) buildLoader(ctx context.Context, item *queue.LoadItem) (siteloader.SiteLoader, queue.LoadConfig, queue.UrlDetails, error) {
	cfg, err := m.store.ConfigForLoadItem(ctx, item.ID)
	if err != nil {
		return nil, queue.LoadConfig{}, queue.UrlDetails{}, err
	}
	if cfg == nil {
		return nil, queue.LoadConfig{}, queue.UrlDetails{}, services.Wrap(services.ErrNotFound, "downloads", "build loader",
			fmt.Sprintf("no load config for load item %d", item.ID), nil)
	}
	details, err := m.store.URLDetails(ctx, item.MovieID)
	if err != nil {
		return nil, queue.LoadConfig{}, queue.UrlDetails{}, err
	}
	if details == nil {
		return nil, queue.LoadConfig{}, queue.UrlDetails{}, services.Wrap(services.ErrNotFound, "downloads", "build loader",
			fmt.Sprintf("no url details for movie %d", item.MovieID), nil)
	}
	loader, err := m.loaders.Build(*item, *cfg, *details)
	if err != nil {
		return nil, queue.LoadConfig{}, queue.UrlDetails{}, err
	}
	return loader, *cfg, *details, nil
}

// primaryType is the preferred file type when the config asks for it,
// otherwise the other one.
func (m *Manager) primaryType(cfg queue.LoadConfig) queue.FileType {
	preferred := queue.FileType(m.cfg.Downloads.FileTypePriority)
	if preferred != queue.FileVideo && preferred != queue.FileSubtitle {
		preferred = queue.FileVideo
	}
	if cfg.Wants(preferred) {
		return preferred
	}
	return preferred.Other()
}

// resolveURL looks up the file's URL with the load item soft-locked, so a
// cancellation can run while the site is queried. proceed is false when the
// load item reached a terminal status in the meantime. Resolution failures
// yield an empty URL.
func (m *Manager) resolveURL(ctx context.Context, id int64, loader siteloader.SiteLoader, fileType queue.FileType) (string, bool, error) {
	soft, err := m.locks.MarkAsSoftLock(loadItemTarget(id))
	if err != nil {
		return "", false, err
	}
	var url string
	var resolveErr error
	if fileType == queue.FileSubtitle {
		url, resolveErr = loader.SubtitleURL(ctx)
	} else {
		url, resolveErr = loader.VideoURL(ctx)
	}
	interrupted, err := soft.Resume()
	if err != nil {
		return "", false, err
	}
	if resolveErr != nil {
		m.itemLogger(ctx, id).Warn("url resolution failed",
			logging.String("file_type", string(fileType)),
			logging.Error(resolveErr),
		)
		url = ""
	}
	if interrupted {
		item, err := m.store.GetLoadItem(ctx, id)
		if err != nil {
			return "", false, err
		}
		if item == nil || item.Status.IsTerminal() {
			return "", false, nil
		}
	}
	return url, true, nil
}

// launch hands an initiating file to the transfer host. A missing URL or a
// refused transfer goes through retry. Callers hold the load item lock.
func (m *Manager) launch(ctx context.Context, file *queue.FileItem, siteURL string) error {
	logger := m.itemLogger(ctx, file.RelatedLoadItemID).With(logging.Int64(logging.FieldFileItemID, file.ID))
	if !file.HasURL() {
		logger.Warn("file has no url", logging.String("file_type", string(file.FileType)))
		return m.retry(ctx, file, queue.StatusInitiationError)
	}

	req := transfer.Request{
		URL:      file.URL,
		FileName: file.FileName,
		Owner:    m.owner,
		Headers:  network.SiteHeaders(file.URL, siteURL, m.cfg.Network.UserAgent),
	}
	m.launchMu.Lock()
	downloadID, err := m.host.Download(ctx, req)
	var saveErr error
	if err == nil {
		file.DownloadID = &downloadID
		file.Status = queue.StatusDownloading
		saveErr = m.store.UpdateFile(ctx, file)
	}
	m.launchMu.Unlock()

	if err != nil {
		logger.Error("transfer start failed", logging.Error(err))
		return m.retry(ctx, file, queue.StatusInitiationError)
	}
	if saveErr != nil {
		return saveErr
	}
	logger.Info("transfer started", logging.Int64(logging.FieldDownloadID, downloadID), logging.String("file", file.FileName))
	return nil
}

// ExecuteRetry runs a file item scheduled by a retry alarm, or a secondary
// file created after its predecessor completed.
func (m *Manager) ExecuteRetry(ctx context.Context, loadItemID, fileID int64) error {
	return m.locks.Run(ctx, loadItemTarget(loadItemID), resourcelock.DefaultPriority, func(ctx context.Context) error {
		return m.startFile(ctx, loadItemID, fileID)
	})
}

func (m *Manager) startFile(ctx context.Context, loadItemID, fileID int64) error {
	logger := m.itemLogger(ctx, loadItemID).With(logging.Int64(logging.FieldFileItemID, fileID))
	item, err := m.store.GetLoadItem(ctx, loadItemID)
	if err != nil {
		return err
	}
	if item == nil || item.Status.IsTerminal() {
		logger.Debug("file start skipped; load item finished")
		return nil
	}
	file, err := m.store.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if file == nil || file.RelatedLoadItemID != loadItemID || file.Status != queue.StatusCandidate {
		logger.Debug("file start skipped; file is not a candidate")
		return nil
	}

	loader, _, details, err := m.buildLoader(ctx, item)
	if err != nil {
		logger.Error("site loader unavailable", logging.Error(err))
		return m.breakWithError(ctx, file, queue.StatusInitiationError)
	}
	url, proceed, err := m.resolveURL(ctx, loadItemID, loader, file.FileType)
	if err != nil || !proceed {
		return err
	}

	file, err = m.store.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if file == nil || file.Status != queue.StatusCandidate {
		return nil
	}
	file.URL = url
	if file.FileName == "" {
		file.FileName = loader.FileName(file.FileType, m.now())
	}
	file.Status = queue.StatusInitiating
	if err := m.store.UpdateFile(ctx, file); err != nil {
		return err
	}
	return m.launch(ctx, file, details.SiteURL)
}
