package downloads

import (
	"context"

	"grabber/internal/logging"
	"grabber/internal/queue"
	"grabber/internal/transfer"
)

// DownloadView is a load item with its live file and transfer progress.
type DownloadView struct {
	Item       *queue.LoadItem `json:"item"`
	ActiveFile *queue.FileItem `json:"active_file,omitempty"`
	Transfer   *transfer.Item  `json:"transfer,omitempty"`
	Active     bool            `json:"active"`
}

// Downloads lists load items filtered by status, or all of them.
func (m *Manager) Downloads(ctx context.Context, statuses ...queue.Status) ([]DownloadView, error) {
	items, err := m.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	activeIDs, err := m.store.ActiveIDs(ctx)
	if err != nil {
		return nil, err
	}
	active := make(map[int64]struct{}, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = struct{}{}
	}

	views := make([]DownloadView, 0, len(items))
	for _, item := range items {
		view := DownloadView{Item: item}
		_, view.Active = active[item.ID]
		file, err := m.store.ActiveFileFor(ctx, item.ID)
		if err != nil {
			// A broken chain still lists the item.
			m.itemLogger(ctx, item.ID).Debug("live file unavailable", logging.Error(err))
		}
		view.ActiveFile = file
		if file != nil && file.DownloadID != nil {
			if found, err := m.host.Search(ctx, transfer.Query{ID: *file.DownloadID}); err == nil && len(found) > 0 {
				view.Transfer = &found[0]
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// StatusView summarizes the scheduler state.
type StatusView struct {
	Active   []int64               `json:"active"`
	Pending  []queue.QueueGroup    `json:"pending"`
	Summary  queue.PhaseSummary    `json:"summary"`
	Restore  *RestorePrompt        `json:"restore,omitempty"`
	Database *queue.DatabaseHealth `json:"database,omitempty"`
}

// Status reports the active list, the pending queue, the load item counts
// and the state database health. A failed health check is reported in the
// view rather than returned.
func (m *Manager) Status(ctx context.Context) (StatusView, error) {
	var view StatusView
	var err error
	if view.Active, err = m.store.ActiveIDs(ctx); err != nil {
		return view, err
	}
	if view.Pending, err = m.store.PendingGroups(ctx); err != nil {
		return view, err
	}
	if view.Summary, err = m.store.Summary(ctx); err != nil {
		return view, err
	}
	view.Restore = m.PendingRestore()

	health, err := m.store.CheckHealth(ctx)
	if err != nil {
		m.logger.Warn("state database health check failed", logging.Error(err))
		if health.Error == "" {
			health.Error = err.Error()
		}
	}
	view.Database = &health
	return view, nil
}
