package downloads

import (
	"context"
	"errors"
	"slices"

	"grabber/internal/logging"
	"grabber/internal/notifications"
	"grabber/internal/queue"
	"grabber/internal/resourcelock"
	"grabber/internal/siteloader"
	"grabber/internal/transfer"
)

// TriggerResult reports what a trigger did. Started is false when the
// trigger cancelled the movie's unfinished downloads instead.
type TriggerResult struct {
	Started     bool    `json:"started"`
	LoadItemIDs []int64 `json:"load_item_ids,omitempty"`
	Cancelled   []int64 `json:"cancelled,omitempty"`
}

// Trigger queues the downloads an initiator describes. A movie that still
// has unfinished load items is toggled off instead: those items are
// cancelled and nothing new is queued.
func (m *Manager) Trigger(ctx context.Context, initiator siteloader.Initiator) (TriggerResult, error) {
	movieID, err := initiator.ParsedMovieID()
	if err != nil {
		return TriggerResult{}, err
	}
	factory, err := m.loaders.Factory(initiator.SiteType)
	if err != nil {
		return TriggerResult{}, err
	}
	logger := m.logger.With(logging.Int64(logging.FieldMovieID, movieID))

	var result TriggerResult
	err = m.locks.Run(ctx, movieTarget(movieID), resourcelock.DefaultPriority, func(ctx context.Context) error {
		live, err := m.unfinished(ctx, movieID)
		if err != nil {
			return err
		}
		if len(live) > 0 {
			logger.Info("cancelling unfinished downloads of movie", logging.Int("count", len(live)))
			cancelled, err := m.cancelItems(ctx, live, queue.StatusCancelled)
			result.Cancelled = cancelled
			return err
		}

		download, err := factory.NewDownload(initiator)
		if err != nil {
			return err
		}
		ids, err := m.store.CreateDownload(ctx, download)
		if err != nil {
			return err
		}
		result.Started = true
		result.LoadItemIDs = ids
		logger.Info("downloads queued", logging.Any("load_item_ids", ids))
		return nil
	})
	if err != nil {
		return result, err
	}
	m.kick()
	return result, nil
}

func (m *Manager) unfinished(ctx context.Context, movieID int64) ([]int64, error) {
	items, err := m.store.ListByMovie(ctx, movieID)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, item := range items {
		if !item.Status.IsTerminal() {
			ids = append(ids, item.ID)
		}
	}
	return ids, nil
}

// CancelAll cancels every active and pending load item.
func (m *Manager) CancelAll(ctx context.Context) ([]int64, error) {
	active, err := m.store.ActiveIDs(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := m.store.PendingGroups(ctx)
	if err != nil {
		return nil, err
	}
	ids := slices.Clone(active)
	for _, group := range groups {
		ids = append(ids, group.LoadItemIDs...)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	cancelled, err := m.cancelItems(ctx, ids, queue.StatusCancelled)
	m.kick()
	return cancelled, err
}

// cancelItems moves the listed load items to cause while holding all their
// locks at cancel priority. Items resolving URLs under a soft lock are
// preempted rather than waited for.
func (m *Manager) cancelItems(ctx context.Context, ids []int64, cause queue.Status) ([]int64, error) {
	release, err := m.locks.MassLock(ctx, resourcelock.ResourceLoadItem, ids, resourcelock.CancelPriority)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		cancelled []int64
		errs      []error
	)
	for _, id := range ids {
		ok, err := m.cancelLoadItem(ctx, id, cause)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			cancelled = append(cancelled, id)
		}
	}
	return cancelled, errors.Join(errs...)
}

// cancelLoadItem must run under the load item lock.
func (m *Manager) cancelLoadItem(ctx context.Context, id int64, cause queue.Status) (bool, error) {
	item, err := m.store.GetLoadItem(ctx, id)
	if err != nil {
		return false, err
	}
	if item == nil || item.Status.IsTerminal() {
		return false, nil
	}
	logger := m.itemLogger(ctx, id)
	if err := m.store.UpdateLoadItemStatus(ctx, id, cause); err != nil {
		return false, err
	}

	active, err := m.store.IsActive(ctx, id)
	if err != nil {
		return false, err
	}
	if !active {
		if _, err := m.store.RemoveFromQueue(ctx, id); err != nil {
			return false, err
		}
		logger.Info("pending download removed", logging.String("cause", string(cause)))
		return true, nil
	}

	files, err := m.store.FilesForLoadItem(ctx, id)
	if err != nil {
		return false, err
	}
	for _, file := range files {
		if file.DownloadID == nil {
			continue
		}
		found, err := m.host.Search(ctx, transfer.Query{ID: *file.DownloadID})
		if err != nil || len(found) == 0 {
			continue
		}
		// failLoad first so the file keeps cause instead of the
		// USER_CANCELED the transfer is about to report.
		if err := m.failLoad(ctx, file, cause); err != nil {
			return false, err
		}
		if found[0].State == transfer.StateInProgress {
			if err := m.host.Cancel(ctx, *file.DownloadID); err != nil {
				logger.Warn("transfer cancel failed", logging.Int64(logging.FieldDownloadID, *file.DownloadID), logging.Error(err))
			}
		}
		logger.Info("active download cancelled", logging.String("cause", string(cause)))
		return true, nil
	}

	if len(files) == 0 {
		if _, err := m.store.RemoveActive(ctx, id); err != nil {
			return false, err
		}
		return true, nil
	}
	logger.Warn("no transfer found for active download; cancelling its files directly")
	if err := m.failLoad(ctx, files[0], cause); err != nil {
		return false, err
	}
	return true, nil
}

// stopMovie cancels the movie's unfinished items after one of them failed
// under the stop action.
func (m *Manager) stopMovie(ctx context.Context, movieID int64) {
	err := m.locks.Run(ctx, movieTarget(movieID), resourcelock.CancelPriority, func(ctx context.Context) error {
		live, err := m.unfinished(ctx, movieID)
		if err != nil || len(live) == 0 {
			return err
		}
		_, err = m.cancelItems(ctx, live, queue.StatusCancelled)
		return err
	})
	if err != nil {
		m.logger.Warn("stopping movie downloads failed", logging.Int64(logging.FieldMovieID, movieID), logging.Error(err))
	}
	title := m.movieTitle(ctx, movieID)
	m.notify("download stopped", func(ctx context.Context, svc notifications.Service) error {
		return svc.NotifyDownloadStopped(ctx, movieID, title)
	})
	m.kick()
}
