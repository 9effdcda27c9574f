package downloads

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"grabber/internal/logging"
	"grabber/internal/notifications"
	"grabber/internal/queue"
	"grabber/internal/resourcelock"
	"grabber/internal/transfer"
)

// Reasons attached to broken load items.
const (
	ReasonNoTransfer   = "transfer not running"
	ReasonNoDownloadID = "no transfer id"
	ReasonInvalidChain = "invalid file chain"
)

// BrokenItem is an active load item whose live file has no running transfer.
type BrokenItem struct {
	LoadItemID int64  `json:"load_item_id"`
	FileItemID int64  `json:"file_item_id,omitempty"`
	DownloadID *int64 `json:"download_id,omitempty"`
	Reason     string `json:"reason"`
}

// ReconcileReport lists the mismatches between the persisted active list and
// the transfer host. Orphans are active ids without any file item.
type ReconcileReport struct {
	Strict  bool         `json:"strict"`
	Broken  []BrokenItem `json:"broken"`
	Orphans []int64      `json:"orphans"`
}

// Empty reports whether nothing needs attention.
func (r ReconcileReport) Empty() bool {
	return len(r.Broken) == 0 && len(r.Orphans) == 0
}

// BrokenIDs returns the ids of the broken load items.
func (r ReconcileReport) BrokenIDs() []int64 {
	ids := make([]int64, 0, len(r.Broken))
	for _, b := range r.Broken {
		ids = append(ids, b.LoadItemID)
	}
	return ids
}

// Reconciler cross-checks the active list, the live file of each active load
// item and the transfers the host is running for owner.
type Reconciler struct {
	store  *queue.Store
	host   transfer.Host
	owner  string
	logger *slog.Logger
}

// NewReconciler builds a reconciler for transfers tagged with owner.
func NewReconciler(store *queue.Store, host transfer.Host, owner string, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, host: host, owner: owner, logger: logger}
}

// Run builds a report. In strict mode every live file without a running
// transfer is broken; this is the mode for a fresh process, where no
// completion event can still be on its way. Lenient mode excuses a file
// whose transfer already finished, a file whose transfer is still being
// launched, and a file whose successor is waiting to start.
func (r *Reconciler) Run(ctx context.Context, strict bool) (ReconcileReport, error) {
	report := ReconcileReport{Strict: strict}
	active, err := r.store.ActiveIDs(ctx)
	if err != nil {
		return report, err
	}
	if len(active) == 0 {
		return report, nil
	}
	items, err := r.host.Search(ctx, transfer.Query{State: transfer.StateInProgress, Owner: r.owner})
	if err != nil {
		return report, err
	}
	running := make(map[int64]struct{}, len(items))
	for _, item := range items {
		running[item.ID] = struct{}{}
	}

	for _, id := range active {
		files, err := r.store.FilesForLoadItem(ctx, id)
		if err != nil {
			return report, err
		}
		if len(files) == 0 {
			report.Orphans = append(report.Orphans, id)
			continue
		}
		live, err := queue.ActiveFile(files)
		if err != nil {
			report.Broken = append(report.Broken, BrokenItem{LoadItemID: id, Reason: ReasonInvalidChain})
			continue
		}
		if reason, broken := r.check(ctx, live, files, running, strict); broken {
			report.Broken = append(report.Broken, BrokenItem{
				LoadItemID: id,
				FileItemID: live.ID,
				DownloadID: live.DownloadID,
				Reason:     reason,
			})
		}
	}
	if !report.Empty() {
		r.logger.Info("download state mismatch found",
			logging.Bool("strict", strict),
			logging.Int("broken", len(report.Broken)),
			logging.Int("orphans", len(report.Orphans)),
		)
	}
	return report, nil
}

func (r *Reconciler) check(ctx context.Context, live *queue.FileItem, files []*queue.FileItem, running map[int64]struct{}, strict bool) (string, bool) {
	if live.DownloadID != nil {
		if _, ok := running[*live.DownloadID]; ok {
			return "", false
		}
	}
	if !strict && candidateSuccessor(files, live) != nil {
		return "", false
	}
	if live.DownloadID == nil {
		switch live.Status {
		case queue.StatusDownloading, queue.StatusPaused:
			return ReasonNoDownloadID, true
		default:
			return ReasonNoDownloadID, strict
		}
	}
	if !strict {
		found, err := r.host.Search(ctx, transfer.Query{ID: *live.DownloadID})
		if err == nil && len(found) > 0 && found[0].State != transfer.StateInProgress {
			return "", false
		}
	}
	return ReasonNoTransfer, true
}

func candidateSuccessor(files []*queue.FileItem, file *queue.FileItem) *queue.FileItem {
	for _, f := range files {
		if f.DependentFileItemID != nil && *f.DependentFileItemID == file.ID && f.Status == queue.StatusCandidate {
			return f
		}
	}
	return nil
}

// Reconcile runs the state reconciler.
func (m *Manager) Reconcile(ctx context.Context, strict bool) (ReconcileReport, error) {
	return m.reconciler.Run(ctx, strict)
}

// RestorePrompt is a pending question to the user: resume the downloads an
// unclean shutdown left behind, or cancel them.
type RestorePrompt struct {
	Report     ReconcileReport `json:"report"`
	DetectedAt time.Time       `json:"detected_at"`
}

// CheckState runs a strict reconcile and records a restore prompt when
// anything is broken. The daemon calls it once at startup.
func (m *Manager) CheckState(ctx context.Context) (*RestorePrompt, error) {
	report, err := m.Reconcile(ctx, true)
	if err != nil {
		return nil, err
	}
	if report.Empty() {
		m.DiscardRestorePrompt()
		return nil, nil
	}
	prompt := &RestorePrompt{Report: report, DetectedAt: m.now()}
	m.mu.Lock()
	m.prompt = prompt
	m.mu.Unlock()

	count := len(report.Broken) + len(report.Orphans)
	logging.WarnWithContext(m.logger, "interrupted downloads need a restore decision", "restore_required",
		logging.Int("count", count),
		logging.String(logging.FieldErrorHint, "run grabber restore --yes or --no"),
	)
	m.notify("restore required", func(ctx context.Context, svc notifications.Service) error {
		return svc.NotifyRestoreRequired(ctx, count)
	})
	return prompt, nil
}

// PendingRestore returns the unanswered restore prompt, if any.
func (m *Manager) PendingRestore() *RestorePrompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prompt == nil {
		return nil
	}
	prompt := *m.prompt
	return &prompt
}

// DiscardRestorePrompt forgets the pending restore prompt.
func (m *Manager) DiscardRestorePrompt() {
	m.mu.Lock()
	m.prompt = nil
	m.mu.Unlock()
}

// StabilizeResult lists what Stabilize did.
type StabilizeResult struct {
	Restored  []int64 `json:"restored,omitempty"`
	Cancelled []int64 `json:"cancelled,omitempty"`
}

// Stabilize answers the restore prompt. With permission the broken items are
// relaunched; without it they are cancelled. Orphans are cancelled either
// way. Without a pending prompt a lenient reconcile decides what is broken.
func (m *Manager) Stabilize(ctx context.Context, permission bool) (StabilizeResult, error) {
	m.mu.Lock()
	prompt := m.prompt
	m.prompt = nil
	m.mu.Unlock()

	var report ReconcileReport
	if prompt != nil {
		report = prompt.Report
	} else {
		var err error
		if report, err = m.Reconcile(ctx, false); err != nil {
			return StabilizeResult{}, err
		}
	}

	var result StabilizeResult
	defer m.kick()
	if len(report.Orphans) > 0 {
		cancelled, err := m.cancelItems(ctx, report.Orphans, queue.StatusCancelled)
		result.Cancelled = append(result.Cancelled, cancelled...)
		if err != nil {
			return result, err
		}
	}

	broken := report.BrokenIDs()
	slices.Sort(broken)
	broken = slices.Compact(broken)
	if !permission {
		cancelled, err := m.cancelItems(ctx, broken, queue.StatusCancelled)
		result.Cancelled = append(result.Cancelled, cancelled...)
		m.logger.Info("interrupted downloads cancelled", logging.Int("count", len(cancelled)))
		return result, err
	}

	for _, id := range broken {
		var restored bool
		err := m.locks.Run(ctx, loadItemTarget(id), resourcelock.DefaultPriority, func(ctx context.Context) error {
			var err error
			restored, err = m.restoreItem(ctx, id)
			return err
		})
		if err != nil {
			m.itemLogger(ctx, id).Error("restore failed", logging.Error(err))
			continue
		}
		if restored {
			result.Restored = append(result.Restored, id)
		}
	}
	m.logger.Info("interrupted downloads restored", logging.Int("count", len(result.Restored)))
	return result, nil
}

// restoreItem relaunches the live file of an active load item. Callers hold
// the load item lock.
func (m *Manager) restoreItem(ctx context.Context, id int64) (bool, error) {
	item, err := m.store.GetLoadItem(ctx, id)
	if err != nil || item == nil || item.Status.IsTerminal() {
		return false, err
	}
	active, err := m.store.IsActive(ctx, id)
	if err != nil || !active {
		return false, err
	}
	files, err := m.store.FilesForLoadItem(ctx, id)
	if err != nil {
		return false, err
	}
	live, err := queue.ActiveFile(files)
	if err != nil {
		return false, err
	}
	if live == nil {
		return false, nil
	}

	if next := candidateSuccessor(files, live); next != nil {
		return true, m.startFile(ctx, id, next.ID)
	}
	switch {
	case live.Status == queue.StatusCandidate:
		return true, m.startFile(ctx, id, live.ID)
	case live.Status == queue.StatusCompleted:
		if err := m.store.UpdateLoadItemStatus(ctx, id, queue.StatusCompleted); err != nil {
			return false, err
		}
		_, err := m.store.RemoveActive(ctx, id)
		return true, err
	case live.Status.IsTerminal():
		return true, m.retry(ctx, live, queue.StatusFailed)
	case !live.HasURL():
		return true, m.retry(ctx, live, queue.StatusInitiationError)
	}

	if live.DownloadID != nil {
		if err := m.host.Erase(ctx, *live.DownloadID); err != nil {
			m.itemLogger(ctx, id).Debug("stale transfer not erased", logging.Int64(logging.FieldDownloadID, *live.DownloadID), logging.Error(err))
		}
	}
	live.DownloadID = nil
	live.Status = queue.StatusInitiating
	if err := m.store.UpdateFile(ctx, live); err != nil {
		return false, err
	}
	details, err := m.store.URLDetails(ctx, item.MovieID)
	if err != nil {
		return false, err
	}
	siteURL := ""
	if details != nil {
		siteURL = details.SiteURL
	}
	m.itemLogger(ctx, id).Info("relaunching interrupted file", logging.Int64(logging.FieldFileItemID, live.ID))
	return true, m.launch(ctx, live, siteURL)
}
