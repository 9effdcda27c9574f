package downloads_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"grabber/internal/config"
	"grabber/internal/downloads"
	"grabber/internal/logging"
	"grabber/internal/network"
	"grabber/internal/queue"
	"grabber/internal/resourcelock"
	"grabber/internal/siteloader"
	"grabber/internal/testsupport"
	"grabber/internal/transfer"
)

// fakeHost is an in-memory transfer host. Transfers stay in progress until
// the test completes or fails them.
type fakeHost struct {
	mu       sync.Mutex
	next     int64
	items    map[int64]*transfer.Item
	requests []transfer.Request
	refuse   error
	events   chan transfer.Event
}

func newFakeHost() *fakeHost {
	return &fakeHost{items: make(map[int64]*transfer.Item), events: make(chan transfer.Event, 256)}
}

func (h *fakeHost) Download(_ context.Context, req transfer.Request) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refuse != nil {
		return 0, h.refuse
	}
	h.next++
	id := h.next
	h.items[id] = &transfer.Item{ID: id, URL: req.URL, FileName: req.FileName, Owner: req.Owner, State: transfer.StateInProgress}
	h.requests = append(h.requests, req)
	h.events <- transfer.Event{Type: transfer.EventCreated, ID: id}
	return id, nil
}

func (h *fakeHost) Cancel(_ context.Context, id int64) error {
	return h.interrupt(id, transfer.ErrUserCanceled)
}

func (h *fakeHost) Pause(_ context.Context, id int64) error {
	return h.setPaused(id, true, transfer.EventPaused)
}

func (h *fakeHost) Resume(_ context.Context, id int64) error {
	return h.setPaused(id, false, transfer.EventResumed)
}

func (h *fakeHost) Erase(_ context.Context, id int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.items[id]; !ok {
		return errors.New("unknown transfer")
	}
	delete(h.items, id)
	return nil
}

func (h *fakeHost) Search(_ context.Context, query transfer.Query) ([]transfer.Item, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []transfer.Item
	for _, item := range h.items {
		if query.ID != 0 && item.ID != query.ID {
			continue
		}
		if query.State != "" && item.State != query.State {
			continue
		}
		if query.Owner != "" && item.Owner != query.Owner {
			continue
		}
		out = append(out, *item)
	}
	slices.SortFunc(out, func(a, b transfer.Item) int { return int(a.ID - b.ID) })
	return out, nil
}

func (h *fakeHost) Events() <-chan transfer.Event { return h.events }

func (h *fakeHost) complete(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items[id].State = transfer.StateComplete
	h.events <- transfer.Event{Type: transfer.EventCompleted, ID: id}
}

func (h *fakeHost) fail(id int64, code transfer.ErrorCode) {
	if err := h.interrupt(id, code); err != nil {
		panic(err)
	}
}

func (h *fakeHost) interrupt(id int64, code transfer.ErrorCode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	item, ok := h.items[id]
	if !ok || item.State != transfer.StateInProgress {
		return errors.New("transfer not in progress")
	}
	item.State = transfer.StateInterrupted
	item.Error = code
	h.events <- transfer.Event{Type: transfer.EventInterrupted, ID: id, Error: code}
	return nil
}

func (h *fakeHost) setPaused(id int64, paused bool, evType transfer.EventType) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	item, ok := h.items[id]
	if !ok || item.State != transfer.StateInProgress {
		return errors.New("transfer not in progress")
	}
	item.Paused = paused
	h.events <- transfer.Event{Type: evType, ID: id}
	return nil
}

func (h *fakeHost) requestURLs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	urls := make([]string, 0, len(h.requests))
	for _, req := range h.requests {
		urls = append(urls, req.URL)
	}
	return urls
}

func (h *fakeHost) lastID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.next
}

func (h *fakeHost) state(id int64) transfer.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if item, ok := h.items[id]; ok {
		return item.State
	}
	return ""
}

// fakeSite resolves every load item to fixed URLs. A load item with a hold
// channel blocks in VideoURL until the channel closes. It records how many
// resolutions of each load item overlapped at most.
type fakeSite struct {
	mu          sync.Mutex
	videoURL    string
	subtitleURL string
	hold        map[int64]chan struct{}
	resolving   map[int64]int
	peak        map[int64]int
}

func (s *fakeSite) Build(item queue.LoadItem, cfg queue.LoadConfig, details queue.UrlDetails) siteloader.SiteLoader {
	return &fakeLoader{site: s, item: item}
}

func (s *fakeSite) NewDownload(initiator siteloader.Initiator) (queue.NewDownload, error) {
	if err := initiator.Validate(); err != nil {
		return queue.NewDownload{}, err
	}
	movieID, _ := initiator.ParsedMovieID()
	var items []queue.LoadItem
	for _, season := range initiator.Range {
		for _, episode := range season.Episodes {
			items = append(items, queue.LoadItem{
				SiteType: queue.SiteHDrezka,
				MovieID:  movieID,
				Season:   &queue.Season{ID: season.ID, Title: season.Title},
				Episode:  &queue.Episode{ID: episode.ID, Title: episode.Title},
			})
		}
	}
	if len(items) == 0 {
		items = append(items, queue.LoadItem{SiteType: queue.SiteHDrezka, MovieID: movieID})
	}
	return queue.NewDownload{
		Details: queue.UrlDetails{MovieID: movieID, SiteURL: initiator.SiteURL, Title: initiator.FilmName},
		Config: queue.LoadConfig{
			VoiceOver: initiator.VoiceOver,
			Quality:   initiator.Quality,
			Subtitle:  initiator.Subtitle,
		},
		Items: items,
	}, nil
}

func (s *fakeSite) UpdateVideoInfo(context.Context, string, map[string]string) (*siteloader.VideoInfo, error) {
	return &siteloader.VideoInfo{}, nil
}

func (s *fakeSite) setVideoURL(url string) {
	s.mu.Lock()
	s.videoURL = url
	s.mu.Unlock()
}

func (s *fakeSite) holdItem(id int64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hold == nil {
		s.hold = make(map[int64]chan struct{})
	}
	ch := make(chan struct{})
	s.hold[id] = ch
	return ch
}

func (s *fakeSite) enter(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolving == nil {
		s.resolving = make(map[int64]int)
		s.peak = make(map[int64]int)
	}
	s.resolving[id]++
	s.peak[id] = max(s.peak[id], s.resolving[id])
}

func (s *fakeSite) exit(id int64) {
	s.mu.Lock()
	s.resolving[id]--
	s.mu.Unlock()
}

func (s *fakeSite) inFlight(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolving[id]
}

func (s *fakeSite) maxInFlight(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak[id]
}

type fakeLoader struct {
	site *fakeSite
	item queue.LoadItem
}

func (l *fakeLoader) ResolveMetadata(context.Context) (*network.VideoData, error) {
	return &network.VideoData{}, nil
}

func (l *fakeLoader) VideoURL(ctx context.Context) (string, error) {
	l.site.enter(l.item.ID)
	defer l.site.exit(l.item.ID)
	l.site.mu.Lock()
	hold := l.site.hold[l.item.ID]
	url := l.site.videoURL
	l.site.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return url, nil
}

func (l *fakeLoader) SubtitleURL(context.Context) (string, error) {
	l.site.enter(l.item.ID)
	defer l.site.exit(l.item.ID)
	l.site.mu.Lock()
	defer l.site.mu.Unlock()
	return l.site.subtitleURL, nil
}

func (l *fakeLoader) FileName(fileType queue.FileType, _ time.Time) string {
	ext := "mp4"
	if fileType == queue.FileSubtitle {
		ext = "vtt"
	}
	return fmt.Sprintf("HDrezkaGrabber/item-%d.%s", l.item.ID, ext)
}

type recordingAlarms struct {
	mu        sync.Mutex
	scheduled []string
}

func (a *recordingAlarms) Schedule(name string, _ time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scheduled = append(a.scheduled, name)
	return nil
}

func (a *recordingAlarms) Clear(string) bool { return false }

func (a *recordingAlarms) ClearAll() {}

func (a *recordingAlarms) names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.scheduled)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) record(call string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, call)
	return nil
}

func (n *recordingNotifier) NotifyDownloadStopped(_ context.Context, movieID int64, _ string) error {
	return n.record(fmt.Sprintf("stopped:%d", movieID))
}

func (n *recordingNotifier) NotifyDownloadSkipped(_ context.Context, movieID int64, _ string) error {
	return n.record(fmt.Sprintf("skipped:%d", movieID))
}

func (n *recordingNotifier) NotifyDownloadCompleted(_ context.Context, _ string, fileName string) error {
	return n.record("completed:" + fileName)
}

func (n *recordingNotifier) NotifyRestoreRequired(_ context.Context, count int) error {
	return n.record(fmt.Sprintf("restore:%d", count))
}

func (n *recordingNotifier) NotifyError(context.Context, error, string) error {
	return n.record("error")
}

func (n *recordingNotifier) TestNotification(context.Context) error {
	return n.record("test")
}

func (n *recordingNotifier) has(call string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Contains(n.calls, call)
}

type harness struct {
	cfg      *config.Config
	store    *queue.Store
	host     *fakeHost
	site     *fakeSite
	alarms   *recordingAlarms
	notifier *recordingNotifier
	manager  *downloads.Manager
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	h := &harness{
		cfg:      cfg,
		store:    store,
		host:     newFakeHost(),
		site:     &fakeSite{videoURL: "https://cdn.test/film.mp4", subtitleURL: "https://cdn.test/film.vtt"},
		alarms:   &recordingAlarms{},
		notifier: &recordingNotifier{},
	}
	loaders := siteloader.NewRegistry()
	loaders.Register(queue.SiteHDrezka, h.site)
	h.manager = downloads.NewManager(downloads.Deps{
		Store:    store,
		Locks:    resourcelock.NewRegistry(logging.NewNop()),
		Loaders:  loaders,
		Host:     h.host,
		Alarms:   h.alarms,
		Notifier: h.notifier,
		Config:   cfg,
		Logger:   logging.NewNop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.manager.Start(ctx)
	t.Cleanup(func() {
		cancel()
		h.manager.Wait()
	})
	return h
}

func film(movieID string) siteloader.Initiator {
	return siteloader.Initiator{
		MovieID:   movieID,
		SiteType:  queue.SiteHDrezka,
		SiteURL:   "https://hdrezka.test/films/action/" + movieID + "-film.html",
		FilmName:  queue.FilmTitle{Localized: "Фильм", Original: "Film"},
		VoiceOver: queue.VoiceOver{ID: "56", Title: "Дубляж"},
		Quality:   queue.Quality1080p,
	}
}

func series(movieID string, episodes int) siteloader.Initiator {
	initiator := film(movieID)
	entry := siteloader.SeasonEntry{ID: "1", Title: "Сезон 1"}
	for i := 1; i <= episodes; i++ {
		entry.Episodes = append(entry.Episodes, queue.Episode{ID: fmt.Sprint(i), Title: fmt.Sprintf("Серия %d", i)})
	}
	initiator.Range = siteloader.Seasons{entry}
	return initiator
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) itemStatus(t *testing.T, id int64) queue.Status {
	t.Helper()
	item, err := h.store.GetLoadItem(context.Background(), id)
	if err != nil {
		t.Fatalf("GetLoadItem: %v", err)
	}
	if item == nil {
		return ""
	}
	return item.Status
}

func (h *harness) waitItemStatus(t *testing.T, id int64, want queue.Status) {
	t.Helper()
	eventually(t, fmt.Sprintf("load item %d to become %s", id, want), func() bool {
		return h.itemStatus(t, id) == want
	})
}

func (h *harness) waitRequests(t *testing.T, n int) {
	t.Helper()
	eventually(t, fmt.Sprintf("%d transfer requests", n), func() bool {
		return len(h.host.requestURLs()) >= n
	})
}

func (h *harness) files(t *testing.T, id int64) []*queue.FileItem {
	t.Helper()
	files, err := h.store.FilesForLoadItem(context.Background(), id)
	if err != nil {
		t.Fatalf("FilesForLoadItem: %v", err)
	}
	return files
}

func (h *harness) trigger(t *testing.T, initiator siteloader.Initiator) downloads.TriggerResult {
	t.Helper()
	result, err := h.manager.Trigger(context.Background(), initiator)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	return result
}
