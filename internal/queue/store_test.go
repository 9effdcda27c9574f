package queue_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"grabber/internal/queue"
	"grabber/internal/testsupport"
)

func newSeries(t *testing.T, store *queue.Store, movieID int64, episodes int) []int64 {
	t.Helper()
	items := make([]queue.LoadItem, 0, episodes)
	for i := 1; i <= episodes; i++ {
		items = append(items, queue.LoadItem{
			SiteType: queue.SiteHDrezka,
			MovieID:  movieID,
			Season:   &queue.Season{ID: "1", Title: "Сезон 1"},
			Episode:  &queue.Episode{ID: string(rune('0' + i)), Title: "Серия"},
		})
	}
	ids, err := store.CreateDownload(context.Background(), queue.NewDownload{
		Details: queue.UrlDetails{MovieID: movieID, SiteURL: "https://hdrezka.test/series/1-show.html", Title: queue.FilmTitle{Localized: "Шоу"}},
		Config: queue.LoadConfig{
			VoiceOver: queue.VoiceOver{ID: "110", Title: "Оригинал"},
			Quality:   queue.Quality720p,
			Subtitle:  &queue.Subtitle{Lang: "English", Code: "en"},
		},
		Items: items,
	})
	if err != nil {
		t.Fatalf("CreateDownload: %v", err)
	}
	return ids
}

func TestCreateDownloadPersistsRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	id := testsupport.NewMovie(t, store, 42, queue.Quality1080p)

	item, err := store.GetLoadItem(ctx, id)
	if err != nil {
		t.Fatalf("GetLoadItem: %v", err)
	}
	if item == nil || item.MovieID != 42 || item.Status != queue.StatusCandidate || item.Content != queue.ContentBoth {
		t.Fatalf("unexpected load item %+v", item)
	}
	if item.AvailableQualities != nil || item.AvailableSubtitles != nil {
		t.Fatalf("availability should be unresolved, got %+v", item)
	}
	if item.Season != nil || item.IsSeries() {
		t.Fatalf("film should have no season, got %+v", item.Season)
	}

	loadCfg, err := store.ConfigForLoadItem(ctx, id)
	if err != nil {
		t.Fatalf("ConfigForLoadItem: %v", err)
	}
	if loadCfg == nil || loadCfg.Quality != queue.Quality1080p || loadCfg.VoiceOver.ID != "56" || loadCfg.Subtitle != nil {
		t.Fatalf("unexpected config %+v", loadCfg)
	}
	if !slices.Equal(loadCfg.LoadItemIDs, []int64{id}) || loadCfg.Position(id) != 1 {
		t.Fatalf("unexpected config ids %v", loadCfg.LoadItemIDs)
	}

	details, err := store.URLDetails(ctx, 42)
	if err != nil {
		t.Fatalf("URLDetails: %v", err)
	}
	if details == nil || details.Title.Original != "Film" || len(details.LoadRegistry) != 1 {
		t.Fatalf("unexpected details %+v", details)
	}

	groups, err := store.PendingGroups(ctx)
	if err != nil {
		t.Fatalf("PendingGroups: %v", err)
	}
	if len(groups) != 1 || groups[0].Batch || !slices.Equal(groups[0].LoadItemIDs, []int64{id}) {
		t.Fatalf("unexpected groups %+v", groups)
	}

	missing, err := store.GetLoadItem(ctx, 999)
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing item, got %+v %v", missing, err)
	}
}

func TestCreateDownloadReusesURLDetails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewMovie(t, store, 7, queue.Quality720p)
	testsupport.NewMovie(t, store, 7, queue.Quality480p)

	details, err := store.URLDetails(ctx, 7)
	if err != nil {
		t.Fatalf("URLDetails: %v", err)
	}
	if len(details.LoadRegistry) != 2 {
		t.Fatalf("expected registry to grow, got %v", details.LoadRegistry)
	}
	items, err := store.ListByMovie(ctx, 7)
	if err != nil || len(items) != 2 {
		t.Fatalf("ListByMovie = %d items, %v", len(items), err)
	}
}

func TestSeriesBatchDrainsAsBatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	ids := newSeries(t, store, 100, 2)
	loadCfg, err := store.ConfigForLoadItem(ctx, ids[1])
	if err != nil || loadCfg == nil {
		t.Fatalf("ConfigForLoadItem: %+v %v", loadCfg, err)
	}
	if !slices.Equal(loadCfg.LoadItemIDs, ids) || loadCfg.Subtitle == nil || loadCfg.Subtitle.Code != "en" {
		t.Fatalf("unexpected config %+v", loadCfg)
	}

	groups, _ := store.PendingGroups(ctx)
	if len(groups) != 1 || !groups[0].Batch {
		t.Fatalf("expected one batch group, got %+v", groups)
	}
	if err := store.Activate(ctx, groups[0].Position, ids[0]); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	groups, _ = store.PendingGroups(ctx)
	if len(groups) != 1 || !groups[0].Batch || !slices.Equal(groups[0].LoadItemIDs, ids[1:]) {
		t.Fatalf("expected drained batch, got %+v", groups)
	}
	active, _ := store.ActiveIDs(ctx)
	if !slices.Equal(active, ids[:1]) {
		t.Fatalf("active = %v", active)
	}

	if err := store.Activate(ctx, groups[0].Position, ids[1]); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	groups, _ = store.PendingGroups(ctx)
	if len(groups) != 0 {
		t.Fatalf("expected empty queue, got %+v", groups)
	}
}

func TestRemoveFromQueueAndActive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	film := testsupport.NewMovie(t, store, 1, queue.Quality720p)
	series := newSeries(t, store, 2, 3)

	found, err := store.RemoveFromQueue(ctx, series[1])
	if err != nil || !found {
		t.Fatalf("RemoveFromQueue = %v, %v", found, err)
	}
	found, err = store.RemoveFromQueue(ctx, film)
	if err != nil || !found {
		t.Fatalf("RemoveFromQueue = %v, %v", found, err)
	}
	found, _ = store.RemoveFromQueue(ctx, film)
	if found {
		t.Fatal("second removal should report not found")
	}
	groups, _ := store.PendingGroups(ctx)
	if len(groups) != 1 || !slices.Equal(groups[0].LoadItemIDs, []int64{series[0], series[2]}) {
		t.Fatalf("unexpected groups %+v", groups)
	}

	if err := store.Activate(ctx, groups[0].Position, film); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := store.Activate(ctx, groups[0].Position, film); err != nil {
		t.Fatalf("Activate twice: %v", err)
	}
	if active, _ := store.ActiveIDs(ctx); !slices.Equal(active, []int64{film}) {
		t.Fatalf("active = %v, want [%d]", active, film)
	}
	if active, _ := store.IsActive(ctx, film); !active {
		t.Fatal("expected film to be active")
	}
	removed, err := store.RemoveActive(ctx, film)
	if err != nil || !removed {
		t.Fatalf("RemoveActive = %v, %v", removed, err)
	}
	if removed, _ := store.RemoveActive(ctx, film); removed {
		t.Fatal("second RemoveActive should report false")
	}
}

func TestCreateFileEnforcesChain(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.NewMovie(t, store, 1, queue.Quality720p)
	other := testsupport.NewMovie(t, store, 2, queue.Quality720p)

	root := &queue.FileItem{FileType: queue.FileVideo, RelatedLoadItemID: first, FileName: "Film.mp4", URL: "https://cdn.test/a.mp4"}
	if err := store.CreateFile(ctx, root); err != nil {
		t.Fatalf("CreateFile root: %v", err)
	}
	if root.ID == 0 || root.Status != queue.StatusCandidate {
		t.Fatalf("unexpected root %+v", root)
	}

	retry := &queue.FileItem{FileType: queue.FileVideo, RelatedLoadItemID: first, FileName: "Film.mp4", DependentFileItemID: &root.ID, RetryAttempts: 1}
	if err := store.CreateFile(ctx, retry); err != nil {
		t.Fatalf("CreateFile retry: %v", err)
	}

	tests := []struct {
		name string
		file *queue.FileItem
	}{
		{"fork", &queue.FileItem{FileType: queue.FileVideo, RelatedLoadItemID: first, FileName: "x", DependentFileItemID: &root.ID}},
		{"missing predecessor", &queue.FileItem{FileType: queue.FileVideo, RelatedLoadItemID: first, FileName: "x", DependentFileItemID: ptr(999)}},
		{"other load item", &queue.FileItem{FileType: queue.FileVideo, RelatedLoadItemID: other, FileName: "x", DependentFileItemID: &retry.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.CreateFile(ctx, tt.file); !errors.Is(err, queue.ErrInvalidChain) {
				t.Fatalf("expected ErrInvalidChain, got %v", err)
			}
		})
	}

	active, err := store.ActiveFileFor(ctx, first)
	if err != nil {
		t.Fatalf("ActiveFileFor: %v", err)
	}
	if active.ID != root.ID {
		t.Fatalf("candidate successor keeps root active, got %d", active.ID)
	}

	retry.Status = queue.StatusInitiating
	if err := store.UpdateFile(ctx, retry); err != nil {
		t.Fatalf("UpdateFile: %v", err)
	}
	active, _ = store.ActiveFileFor(ctx, first)
	if active.ID != retry.ID || active.RetryAttempts != 1 {
		t.Fatalf("expected retry to be active, got %+v", active)
	}
}

func TestFindByDownloadIDPrefersNewest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.NewMovie(t, store, 1, queue.Quality720p)
	b := testsupport.NewMovie(t, store, 2, queue.Quality720p)

	old := &queue.FileItem{FileType: queue.FileVideo, RelatedLoadItemID: a, FileName: "old", DownloadID: ptr(3), Status: queue.StatusCompleted}
	newer := &queue.FileItem{FileType: queue.FileVideo, RelatedLoadItemID: b, FileName: "new", DownloadID: ptr(3), Status: queue.StatusDownloading}
	for _, f := range []*queue.FileItem{old, newer} {
		if err := store.CreateFile(ctx, f); err != nil {
			t.Fatalf("CreateFile: %v", err)
		}
	}

	found, err := store.FindByDownloadID(ctx, 3)
	if err != nil {
		t.Fatalf("FindByDownloadID: %v", err)
	}
	if found == nil || found.ID != newer.ID {
		t.Fatalf("expected newest file, got %+v", found)
	}
	if missing, err := store.FindByDownloadID(ctx, 77); err != nil || missing != nil {
		t.Fatalf("expected nil, got %+v %v", missing, err)
	}
	if highest, err := store.MaxDownloadID(ctx); err != nil || highest != 3 {
		t.Fatalf("MaxDownloadID = %d, %v", highest, err)
	}
}

func TestStatusUpdatesAndAvailability(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	id := testsupport.NewMovie(t, store, 5, queue.Quality1080p)
	if err := store.UpdateLoadItemStatus(ctx, id, queue.StatusDownloading); err != nil {
		t.Fatalf("UpdateLoadItemStatus: %v", err)
	}
	if err := store.SetAvailability(ctx, id, []queue.Quality{queue.Quality720p, queue.Quality1080p}, []string{}); err != nil {
		t.Fatalf("SetAvailability: %v", err)
	}
	item, _ := store.GetLoadItem(ctx, id)
	if item.Status != queue.StatusDownloading || len(item.AvailableQualities) != 2 {
		t.Fatalf("unexpected item %+v", item)
	}
	if item.AvailableSubtitles == nil || len(item.AvailableSubtitles) != 0 {
		t.Fatalf("resolved-empty subtitles should survive as empty, got %#v", item.AvailableSubtitles)
	}

	if err := store.UpdateLoadItemStatus(ctx, 999, queue.StatusFailed); !errors.Is(err, queue.ErrLoadItemNotFound) {
		t.Fatalf("expected ErrLoadItemNotFound, got %v", err)
	}
	if err := store.UpdateFileStatus(ctx, 999, queue.StatusFailed); !errors.Is(err, queue.ErrFileItemNotFound) {
		t.Fatalf("expected ErrFileItemNotFound, got %v", err)
	}

	summary, err := store.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Total != 1 || summary.InProgress != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestResetClearsEverything(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	id := testsupport.NewMovie(t, store, 1, queue.Quality720p)
	root := &queue.FileItem{FileType: queue.FileVideo, RelatedLoadItemID: id, FileName: "a"}
	if err := store.CreateFile(ctx, root); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := store.CreateFile(ctx, &queue.FileItem{FileType: queue.FileVideo, RelatedLoadItemID: id, FileName: "a", DependentFileItemID: &root.ID}); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	pending, _ := store.PendingGroups(ctx)
	if err := store.Activate(ctx, pending[0].Position, id); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	if err := store.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	items, _ := store.List(ctx)
	groups, _ := store.PendingGroups(ctx)
	active, _ := store.ActiveIDs(ctx)
	if len(items) != 0 || len(groups) != 0 || len(active) != 0 {
		t.Fatalf("expected empty store, got %d items %d groups %d active", len(items), len(groups), len(active))
	}

	again := testsupport.NewMovie(t, store, 1, queue.Quality720p)
	if again != 1 {
		t.Fatalf("expected ids to restart after reset, got %d", again)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := testsupport.NewMovie(t, store, 1, queue.Quality720p)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	item, err := reopened.GetLoadItem(context.Background(), id)
	if err != nil || item == nil {
		t.Fatalf("expected item after reopen, got %+v %v", item, err)
	}
	health, err := reopened.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.IntegrityCheck || health.TotalLoadItems != 1 || health.SchemaVersion != 1 {
		t.Fatalf("unexpected health %+v", health)
	}
}

func ptr(v int64) *int64 { return &v }
