package downloads_test

import (
	"context"
	"slices"
	"testing"

	"grabber/internal/downloads"
	"grabber/internal/queue"
	"grabber/internal/testsupport"
	"grabber/internal/transfer"
)

// activeMovie creates a film load item and moves it straight to the active
// list, the way a crashed daemon leaves it.
func activeMovie(t *testing.T, h *harness, movieID int64) int64 {
	t.Helper()
	ctx := context.Background()
	id := testsupport.NewMovie(t, h.store, movieID, queue.Quality1080p)
	groups, err := h.store.PendingGroups(ctx)
	if err != nil {
		t.Fatalf("PendingGroups: %v", err)
	}
	if err := h.store.Activate(ctx, groups[len(groups)-1].Position, id); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := h.store.UpdateLoadItemStatus(ctx, id, queue.StatusDownloading); err != nil {
		t.Fatalf("UpdateLoadItemStatus: %v", err)
	}
	return id
}

func addFile(t *testing.T, h *harness, file *queue.FileItem) *queue.FileItem {
	t.Helper()
	if file.FileType == "" {
		file.FileType = queue.FileVideo
	}
	if err := h.store.CreateFile(context.Background(), file); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	return file
}

func ptr(v int64) *int64 { return &v }

func brokenIDs(report downloads.ReconcileReport) []int64 {
	ids := report.BrokenIDs()
	slices.Sort(ids)
	return ids
}

func TestReconcileStrictAndLenient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	launching := activeMovie(t, h, 1)
	addFile(t, h, &queue.FileItem{RelatedLoadItemID: launching, URL: "https://cdn.test/a.mp4", FileName: "a.mp4", Status: queue.StatusInitiating})

	lost := activeMovie(t, h, 2)
	addFile(t, h, &queue.FileItem{RelatedLoadItemID: lost, URL: "https://cdn.test/b.mp4", FileName: "b.mp4", DownloadID: ptr(99), Status: queue.StatusDownloading})

	running := activeMovie(t, h, 3)
	downloadID, err := h.host.Download(ctx, transfer.Request{URL: "https://cdn.test/c.mp4", Owner: downloads.DefaultOwner})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	addFile(t, h, &queue.FileItem{RelatedLoadItemID: running, URL: "https://cdn.test/c.mp4", FileName: "c.mp4", DownloadID: &downloadID, Status: queue.StatusDownloading})

	orphan := activeMovie(t, h, 4)

	tests := []struct {
		name   string
		strict bool
		broken []int64
	}{
		{name: "strict", strict: true, broken: []int64{launching, lost}},
		{name: "lenient", strict: false, broken: []int64{lost}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := h.manager.Reconcile(ctx, tt.strict)
			if err != nil {
				t.Fatalf("Reconcile: %v", err)
			}
			if got := brokenIDs(report); !slices.Equal(got, tt.broken) {
				t.Fatalf("broken = %v, want %v", got, tt.broken)
			}
			if !slices.Equal(report.Orphans, []int64{orphan}) {
				t.Fatalf("orphans = %v, want [%d]", report.Orphans, orphan)
			}
		})
	}
}

func TestLenientReconcileExcusesPendingSuccessor(t *testing.T) {
	h := newHarness(t)
	id := activeMovie(t, h, 1)
	failed := addFile(t, h, &queue.FileItem{RelatedLoadItemID: id, URL: "https://cdn.test/a.mp4", FileName: "a.mp4", Status: queue.StatusFailed})
	addFile(t, h, &queue.FileItem{RelatedLoadItemID: id, DependentFileItemID: &failed.ID, FileName: "a.mp4", RetryAttempts: 1})

	lenient, err := h.manager.Reconcile(context.Background(), false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !lenient.Empty() {
		t.Fatalf("lenient report should be empty, got %+v", lenient)
	}
	strict, err := h.manager.Reconcile(context.Background(), true)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := brokenIDs(strict); !slices.Equal(got, []int64{id}) {
		t.Fatalf("strict broken = %v", got)
	}
}

func TestCheckStateThenRestore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := activeMovie(t, h, 42)
	file := addFile(t, h, &queue.FileItem{RelatedLoadItemID: id, URL: "https://cdn.test/film.mp4", FileName: "film.mp4", DownloadID: ptr(99), Status: queue.StatusDownloading})

	prompt, err := h.manager.CheckState(ctx)
	if err != nil {
		t.Fatalf("CheckState: %v", err)
	}
	if prompt == nil || len(prompt.Report.Broken) != 1 || prompt.Report.Broken[0].Reason != downloads.ReasonNoTransfer {
		t.Fatalf("unexpected prompt: %+v", prompt)
	}
	if h.manager.PendingRestore() == nil {
		t.Fatal("prompt should stay pending until answered")
	}
	eventually(t, "restore notification", func() bool { return h.notifier.has("restore:1") })

	result, err := h.manager.Stabilize(ctx, true)
	if err != nil {
		t.Fatalf("Stabilize: %v", err)
	}
	if !slices.Equal(result.Restored, []int64{id}) {
		t.Fatalf("restored = %v", result.Restored)
	}
	if h.manager.PendingRestore() != nil {
		t.Fatal("prompt should be cleared")
	}

	h.waitRequests(t, 1)
	if urls := h.host.requestURLs(); urls[0] != "https://cdn.test/film.mp4" {
		t.Fatalf("relaunched url = %s", urls[0])
	}
	relaunched, err := h.store.GetFile(ctx, file.ID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if relaunched.DownloadID == nil || *relaunched.DownloadID != 1 {
		t.Fatalf("relaunched file download id = %v", relaunched.DownloadID)
	}
	h.host.complete(1)
	h.waitItemStatus(t, id, queue.StatusCompleted)
}

func TestRestoreStartsPendingSuccessor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := activeMovie(t, h, 42)
	failed := addFile(t, h, &queue.FileItem{RelatedLoadItemID: id, URL: "https://cdn.test/old.mp4", FileName: "film.mp4", Status: queue.StatusFailed})
	next := addFile(t, h, &queue.FileItem{RelatedLoadItemID: id, DependentFileItemID: &failed.ID, FileName: "film.mp4", RetryAttempts: 1})

	if _, err := h.manager.CheckState(ctx); err != nil {
		t.Fatalf("CheckState: %v", err)
	}
	if _, err := h.manager.Stabilize(ctx, true); err != nil {
		t.Fatalf("Stabilize: %v", err)
	}
	h.waitRequests(t, 1)
	started, err := h.store.GetFile(ctx, next.ID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if started.URL != "https://cdn.test/film.mp4" || started.DownloadID == nil {
		t.Fatalf("successor not started: %+v", started)
	}
}

func TestStabilizeWithoutPermissionCancels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	broken := activeMovie(t, h, 1)
	addFile(t, h, &queue.FileItem{RelatedLoadItemID: broken, URL: "https://cdn.test/a.mp4", FileName: "a.mp4", DownloadID: ptr(7), Status: queue.StatusPaused})
	orphan := activeMovie(t, h, 2)

	if _, err := h.manager.CheckState(ctx); err != nil {
		t.Fatalf("CheckState: %v", err)
	}
	result, err := h.manager.Stabilize(ctx, false)
	if err != nil {
		t.Fatalf("Stabilize: %v", err)
	}
	cancelled := slices.Clone(result.Cancelled)
	slices.Sort(cancelled)
	if !slices.Equal(cancelled, []int64{broken, orphan}) {
		t.Fatalf("cancelled = %v", cancelled)
	}
	for _, id := range []int64{broken, orphan} {
		if got := h.itemStatus(t, id); got != queue.StatusCancelled {
			t.Fatalf("load item %d status = %s, want cancelled", id, got)
		}
	}
	active, err := h.store.ActiveIDs(ctx)
	if err != nil || len(active) != 0 {
		t.Fatalf("active = %v, err %v", active, err)
	}
	if n := len(h.host.requestURLs()); n != 0 {
		t.Fatalf("expected no transfers, got %d", n)
	}
}

func TestCheckStateCleanStore(t *testing.T) {
	h := newHarness(t)
	prompt, err := h.manager.CheckState(context.Background())
	if err != nil {
		t.Fatalf("CheckState: %v", err)
	}
	if prompt != nil || h.manager.PendingRestore() != nil {
		t.Fatalf("expected no prompt, got %+v", prompt)
	}
}
