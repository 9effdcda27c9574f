package transfer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"grabber/internal/config"
	"grabber/internal/fileutil"
	"grabber/internal/logging"
	"grabber/internal/network"
	"grabber/internal/services"
)

const (
	partSuffix   = ".part"
	eventBacklog = 256
)

// Engine downloads files over HTTP into the download directory. Data lands
// in "<name>.part" and is renamed into place once complete; pausing keeps the
// partial file and resuming continues it with a Range request.
type Engine struct {
	dir    string
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	transfers map[int64]*transfer
	reserved  map[string]int64
	nextID    int64
	closed    bool

	events   chan Event
	stopping chan struct{}
	wg       sync.WaitGroup
}

var _ Host = (*Engine)(nil)

// Option customizes an Engine.
type Option func(*Engine)

// WithHTTPClient replaces the HTTP client used for transfers.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) {
		if client != nil {
			e.client = client
		}
	}
}

// WithFirstID makes transfer ids start at id. Ids persisted by an earlier
// process stay distinct from new ones.
func WithFirstID(id int64) Option {
	return func(e *Engine) {
		if id > 0 {
			e.nextID = id
		}
	}
}

// NewEngine builds an engine writing under cfg's download directory.
func NewEngine(cfg *config.Config, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		dir:       cfg.Paths.DownloadDir,
		client:    &http.Client{},
		logger:    logging.NewComponentLogger(logger, "transfer"),
		now:       time.Now,
		transfers: make(map[int64]*transfer),
		reserved:  make(map[string]int64),
		nextID:    1,
		events:    make(chan Event, eventBacklog),
		stopping:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Events delivers state changes. The channel closes after Close.
func (e *Engine) Events() <-chan Event {
	return e.events
}

type transfer struct {
	mu       sync.Mutex
	item     Item
	headers  http.Header
	path     string
	cancel   context.CancelFunc
	paused   bool
	canceled bool
	erased   bool
	shutdown bool
	wake     chan struct{}
}

func (t *transfer) snapshot() Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.item
}

func (t *transfer) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Download starts fetching req in the background and returns its id. A
// name already taken on disk or by another transfer gets a " (n)" suffix.
func (e *Engine) Download(_ context.Context, req Request) (int64, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return 0, services.Wrap(services.ErrValidation, "transfer", "download", fmt.Sprintf("invalid url %q", req.URL), err)
	}
	name := filepath.Clean(filepath.FromSlash(req.FileName))
	if req.FileName == "" || filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
		return 0, services.Wrap(services.ErrValidation, "transfer", "download", fmt.Sprintf("invalid file name %q", req.FileName), nil)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, services.Wrap(services.ErrConflict, "transfer", "download", "engine closed", nil)
	}
	path, err := fileutil.UniquePath(filepath.Join(e.dir, name), func(candidate string) bool {
		_, held := e.reserved[candidate]
		return held || fileutil.Exists(candidate) || fileutil.Exists(candidate+partSuffix)
	})
	if err != nil {
		e.mu.Unlock()
		return 0, services.Wrap(services.ErrConflict, "transfer", "download", "resolve file name", err)
	}
	id := e.nextID
	e.nextID++
	t := &transfer{
		item: Item{
			ID:        id,
			URL:       req.URL,
			FileName:  path,
			Owner:     req.Owner,
			State:     StateInProgress,
			StartedAt: e.now(),
		},
		headers: req.Headers.Clone(),
		path:    path,
		wake:    make(chan struct{}, 1),
	}
	e.transfers[id] = t
	e.reserved[path] = id
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Debug("transfer started", logging.Int64("download_id", id), logging.String("file", path))
	go e.run(t)
	return id, nil
}

func (e *Engine) lookup(op string, id int64) (*transfer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.transfers[id]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "transfer", op, "download "+strconv.FormatInt(id, 10), nil)
	}
	return t, nil
}

// Cancel stops a running transfer and discards its partial data.
func (e *Engine) Cancel(_ context.Context, id int64) error {
	t, err := e.lookup("cancel", id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.item.State != StateInProgress {
		return services.Wrap(services.ErrConflict, "transfer", "cancel", fmt.Sprintf("download %d is %s", id, t.item.State), nil)
	}
	t.canceled = true
	if t.cancel != nil {
		t.cancel()
	}
	t.signal()
	return nil
}

// Pause suspends a running transfer, keeping its partial data.
func (e *Engine) Pause(_ context.Context, id int64) error {
	t, err := e.lookup("pause", id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.item.State != StateInProgress {
		return services.Wrap(services.ErrConflict, "transfer", "pause", fmt.Sprintf("download %d is %s", id, t.item.State), nil)
	}
	if t.paused {
		return nil
	}
	t.paused = true
	t.item.Paused = true
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

// Resume continues a paused transfer.
func (e *Engine) Resume(_ context.Context, id int64) error {
	t, err := e.lookup("resume", id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.item.State != StateInProgress {
		return services.Wrap(services.ErrConflict, "transfer", "resume", fmt.Sprintf("download %d is %s", id, t.item.State), nil)
	}
	if !t.paused {
		return nil
	}
	t.paused = false
	t.item.Paused = false
	t.signal()
	return nil
}

// Erase forgets a transfer. A running transfer is stopped first without
// reporting an event. Completed files stay on disk.
func (e *Engine) Erase(_ context.Context, id int64) error {
	e.mu.Lock()
	t, ok := e.transfers[id]
	if !ok {
		e.mu.Unlock()
		return services.Wrap(services.ErrNotFound, "transfer", "erase", "download "+strconv.FormatInt(id, 10), nil)
	}
	delete(e.transfers, id)
	e.mu.Unlock()

	t.mu.Lock()
	if t.item.State == StateInProgress {
		t.erased = true
		t.canceled = true
		if t.cancel != nil {
			t.cancel()
		}
		t.signal()
	}
	t.mu.Unlock()
	return nil
}

// Search returns snapshots of the transfers matching query, oldest first.
func (e *Engine) Search(_ context.Context, query Query) ([]Item, error) {
	e.mu.RLock()
	transfers := make([]*transfer, 0, len(e.transfers))
	for _, t := range e.transfers {
		transfers = append(transfers, t)
	}
	e.mu.RUnlock()

	items := make([]Item, 0, len(transfers))
	for _, t := range transfers {
		if item := t.snapshot(); query.matches(item) {
			items = append(items, item)
		}
	}
	slices.SortFunc(items, func(a, b Item) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return items, nil
}

// Close stops every running transfer without reporting events, waits for
// the workers and closes the event channel.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.stopping)
	for _, t := range e.transfers {
		t.mu.Lock()
		t.shutdown = true
		if t.cancel != nil {
			t.cancel()
		}
		t.signal()
		t.mu.Unlock()
	}
	e.mu.Unlock()

	e.wg.Wait()
	close(e.events)
	return nil
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	case <-e.stopping:
	}
}

type step int

const (
	stepFetch step = iota
	stepWait
	stepCancel
	stepShutdown
)

// next decides what the worker does and, for a fetch, installs the attempt's
// cancel func so control calls can interrupt it.
func (t *transfer) next() (step, context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.shutdown:
		return stepShutdown, nil
	case t.canceled:
		return stepCancel, nil
	case t.paused:
		return stepWait, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	return stepFetch, ctx
}

func (t *transfer) endAttempt() {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.mu.Unlock()
}

func (e *Engine) run(t *transfer) {
	defer e.wg.Done()
	id := t.snapshot().ID
	e.emit(Event{Type: EventCreated, ID: id})

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		e.interrupt(t, ErrFileFailed, err)
		return
	}

	waiting := false
	for {
		action, ctx := t.next()
		switch action {
		case stepShutdown:
			e.finish(t, StateInterrupted, ErrUserCanceled, false)
			return
		case stepCancel:
			e.interrupt(t, ErrUserCanceled, nil)
			return
		case stepWait:
			if !waiting {
				waiting = true
				e.emit(Event{Type: EventPaused, ID: id})
			}
			<-t.wake
			continue
		}
		if waiting {
			waiting = false
			e.emit(Event{Type: EventResumed, ID: id})
		}

		err := e.fetch(ctx, t)
		interrupted := ctx.Err() != nil
		t.endAttempt()
		if err == nil {
			e.complete(t)
			return
		}
		if interrupted {
			continue
		}
		var ferr *fetchError
		code := ErrNetworkFailed
		if errors.As(err, &ferr) {
			code = ferr.code
		}
		e.interrupt(t, code, err)
		return
	}
}

type fetchError struct {
	code ErrorCode
	err  error
}

func (f *fetchError) Error() string { return string(f.code) + ": " + f.err.Error() }
func (f *fetchError) Unwrap() error { return f.err }

func failed(code ErrorCode, format string, args ...any) error {
	return &fetchError{code: code, err: fmt.Errorf(format, args...)}
}

// fetch downloads the remainder of the file into the part file.
func (e *Engine) fetch(ctx context.Context, t *transfer) error {
	part := t.path + partSuffix
	var offset int64
	if info, err := os.Stat(part); err == nil {
		offset = info.Size()
	}

	item := t.snapshot()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return failed(ErrNetworkFailed, "build request: %w", err)
	}
	for key, values := range t.headers {
		req.Header[key] = values
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return failed(ErrNetworkFailed, "request: %w", err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	var total int64
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		flags |= os.O_APPEND
		total = network.ParseContentRangeTotal(resp.Header.Get("Content-Range"))
	case resp.StatusCode == http.StatusOK:
		offset = 0
		flags |= os.O_TRUNC
		total = max(resp.ContentLength, 0)
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 &&
		network.ParseContentRangeTotal(resp.Header.Get("Content-Range")) == offset:
		t.progress(offset, offset)
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return failed(ErrServerBadContent, "status %d", resp.StatusCode)
	default:
		return failed(ErrNetworkFailed, "status %d", resp.StatusCode)
	}
	t.progress(offset, total)

	file, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return failed(ErrFileFailed, "open part file: %w", err)
	}
	written, copyErr := io.Copy(file, &progressReader{r: resp.Body, t: t, received: offset})
	closeErr := file.Close()
	if copyErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return failed(ErrNetworkFailed, "read body: %w", copyErr)
	}
	if closeErr != nil {
		return failed(ErrFileFailed, "close part file: %w", closeErr)
	}
	if total > 0 && offset+written != total {
		return failed(ErrNetworkFailed, "short body: got %d of %d bytes", offset+written, total)
	}
	return nil
}

func (t *transfer) progress(received, total int64) {
	t.mu.Lock()
	t.item.BytesReceived = received
	if total > 0 {
		t.item.TotalBytes = total
	}
	t.mu.Unlock()
}

type progressReader struct {
	r        io.Reader
	t        *transfer
	received int64
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.received += int64(n)
		p.t.progress(p.received, 0)
	}
	return n, err
}

func (e *Engine) complete(t *transfer) {
	if err := fileutil.MoveIntoPlace(t.path+partSuffix, t.path); err != nil {
		e.interrupt(t, ErrFileFailed, err)
		return
	}
	e.finish(t, StateComplete, "", true)
}

func (e *Engine) interrupt(t *transfer, code ErrorCode, cause error) {
	if cause != nil {
		e.logger.Warn("transfer interrupted",
			logging.Int64("download_id", t.snapshot().ID),
			logging.String("code", string(code)),
			logging.Error(cause),
		)
	}
	e.finish(t, StateInterrupted, code, true)
}

func (e *Engine) finish(t *transfer, state State, code ErrorCode, report bool) {
	t.mu.Lock()
	t.item.State = state
	t.item.Error = code
	t.item.Paused = false
	t.item.EndedAt = e.now()
	id := t.item.ID
	silent := t.erased || t.shutdown
	t.mu.Unlock()

	if state != StateComplete {
		_ = os.Remove(t.path + partSuffix)
	}

	e.mu.Lock()
	if e.reserved[t.path] == id {
		delete(e.reserved, t.path)
	}
	e.mu.Unlock()

	if !report || silent {
		return
	}
	switch state {
	case StateComplete:
		e.emit(Event{Type: EventCompleted, ID: id})
	case StateInterrupted:
		e.emit(Event{Type: EventInterrupted, ID: id, Error: code})
	}
}
