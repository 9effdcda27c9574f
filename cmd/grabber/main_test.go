package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"grabber/internal/api"
	"grabber/internal/downloads"
	"grabber/internal/logging"
	"grabber/internal/messages"
	"grabber/internal/queue"
	"grabber/internal/services"
	"grabber/internal/siteloader"
	"grabber/internal/transfer"
)

type fakeDispatcher struct {
	got []messages.Request
	err error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req messages.Request) (messages.Result, error) {
	f.got = append(f.got, req)
	result := messages.Result{RequestID: "req-1", Command: req.Command()}
	if f.err != nil {
		return result, f.err
	}
	switch r := req.(type) {
	case messages.TriggerRequest:
		result.Data = downloads.TriggerResult{Started: true, LoadItemIDs: []int64{11, 12}}
	case messages.RestoreStateRequest:
		result.Data = downloads.StabilizeResult{Restored: []int64{5}}
	case messages.PauseDownloadRequest:
		result.Data = downloads.PauseResult{LoadItemID: r.LoadItemID, DownloadID: 3}
	case messages.ResumeDownloadRequest:
		result.Data = downloads.PauseResult{LoadItemID: r.LoadItemID, DownloadID: 3}
	}
	return result, nil
}

type fakeViews struct{}

func (fakeViews) Downloads(_ context.Context, statuses ...queue.Status) ([]downloads.DownloadView, error) {
	views := []downloads.DownloadView{
		{
			Item: &queue.LoadItem{ID: 7, MovieID: 42, Status: queue.StatusDownloading},
			ActiveFile: &queue.FileItem{
				ID: 1, FileType: queue.FileVideo, RelatedLoadItemID: 7, FileName: "Movie.mp4",
			},
			Transfer: &transfer.Item{BytesReceived: 512, TotalBytes: 1024},
			Active:   true,
		},
		{
			Item: &queue.LoadItem{
				ID: 8, MovieID: 43, Status: queue.StatusCompleted,
				Season: &queue.Season{ID: "1"}, Episode: &queue.Episode{ID: "2"},
			},
		},
	}
	if len(statuses) == 0 {
		return views, nil
	}
	var filtered []downloads.DownloadView
	for _, view := range views {
		for _, status := range statuses {
			if view.Item.Status == status {
				filtered = append(filtered, view)
			}
		}
	}
	return filtered, nil
}

func (fakeViews) Status(context.Context) (downloads.StatusView, error) {
	return downloads.StatusView{
		Active:  []int64{7},
		Pending: []queue.QueueGroup{{Position: 1, LoadItemIDs: []int64{8, 9}, Batch: true}},
		Summary: queue.PhaseSummary{Total: 3, InProgress: 1, Candidate: 2},
	}, nil
}

type cliTestEnv struct {
	configPath string
	dispatcher *fakeDispatcher
	baseDir    string
}

// setupCLITestEnv serves the API from an in-process handler and writes a
// config that points at it.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	dispatcher := &fakeDispatcher{}
	hub := logging.NewStreamHub(16)
	hub.Publish(logging.LogEvent{Level: "info", Message: "download started", Component: "downloads", LoadItemID: 7})
	srv := httptest.NewServer(api.NewHandler(api.Deps{
		Messages: dispatcher,
		Views:    fakeViews{},
		Logs:     hub,
		Runtime: func() api.Runtime {
			return api.Runtime{Running: true, PID: 4242, QueueDBPath: "/state/queue.db"}
		},
	}))
	t.Cleanup(srv.Close)

	bind := strings.TrimPrefix(srv.URL, "http://")
	return writeCLIConfig(t, bind, dispatcher)
}

func writeCLIConfig(t *testing.T, bind string, dispatcher *fakeDispatcher) *cliTestEnv {
	t.Helper()
	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
state_dir = %q
download_dir = %q
log_dir = %q
api_bind = %q
`, filepath.Join(base, "state"), filepath.Join(base, "downloads"), filepath.Join(base, "logs"), bind)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{configPath: configPath, dispatcher: dispatcher, baseDir: base}
}

func runCLI(t *testing.T, env *cliTestEnv, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func TestTriggerReadsInitiatorFile(t *testing.T) {
	env := setupCLITestEnv(t)
	initiator := siteloader.Initiator{
		MovieID:   "42",
		SiteType:  queue.SiteHDrezka,
		SiteURL:   "https://example.test/films/42",
		FilmName:  queue.FilmTitle{Localized: "Movie"},
		VoiceOver: queue.VoiceOver{ID: "56", Title: "Original"},
		Quality:   queue.Quality1080p,
	}
	data, err := json.Marshal(initiator)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(env.baseDir, "initiator.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write initiator: %v", err)
	}

	out, err := runCLI(t, env, "", "trigger", path)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	requireContains(t, out, "Queued load items 11, 12")

	if len(env.dispatcher.got) != 1 {
		t.Fatalf("dispatched %d requests", len(env.dispatcher.got))
	}
	req, ok := env.dispatcher.got[0].(messages.TriggerRequest)
	if !ok {
		t.Fatalf("dispatched %T", env.dispatcher.got[0])
	}
	if req.Initiator.MovieID != "42" || req.Initiator.Quality != queue.Quality1080p {
		t.Fatalf("initiator = %+v", req.Initiator)
	}
}

func TestTriggerReadsStdin(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := runCLI(t, env, `{"movieId":"42","site_type":"hdrezka","site_url":"https://example.test"}`, "trigger")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	requireContains(t, out, "Queued load items")
}

func TestTriggerReportsDaemonError(t *testing.T) {
	env := setupCLITestEnv(t)
	env.dispatcher.err = services.Wrap(services.ErrValidation, "siteloader", "initiator", "site_type is required", nil)

	_, err := runCLI(t, env, `{"movieId":"42"}`, "trigger")
	if err == nil {
		t.Fatal("expected trigger error")
	}
	if !strings.HasPrefix(err.Error(), "trigger failed:") {
		t.Fatalf("error = %v", err)
	}
}

func TestRestoreRequiresExactlyOneAnswer(t *testing.T) {
	env := setupCLITestEnv(t)
	for _, args := range [][]string{{"restore"}, {"restore", "--yes", "--no"}} {
		if _, err := runCLI(t, env, "", args...); err == nil {
			t.Fatalf("%v: expected error", args)
		}
	}
	if len(env.dispatcher.got) != 0 {
		t.Fatalf("dispatched %d requests", len(env.dispatcher.got))
	}

	out, err := runCLI(t, env, "", "restore", "--yes")
	if err != nil {
		t.Fatalf("restore --yes: %v", err)
	}
	requireContains(t, out, "Restored: 5")
	requireContains(t, out, "Cancelled: none")
	req, ok := env.dispatcher.got[0].(messages.RestoreStateRequest)
	if !ok || !req.Permission {
		t.Fatalf("dispatched %#v", env.dispatcher.got[0])
	}
}

func TestDeleteDataRequiresConfirmation(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := runCLI(t, env, "", "delete-data"); err == nil {
		t.Fatal("expected error without --yes")
	}
	out, err := runCLI(t, env, "", "delete-data", "--yes")
	if err != nil {
		t.Fatalf("delete-data: %v", err)
	}
	requireContains(t, out, "All data deleted")
}

func TestPauseAndResumeCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := runCLI(t, env, "", "pause", "abc"); err == nil {
		t.Fatal("expected error for a non-numeric id")
	}
	if len(env.dispatcher.got) != 0 {
		t.Fatalf("dispatched %d requests", len(env.dispatcher.got))
	}

	out, err := runCLI(t, env, "", "pause", "7")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	requireContains(t, out, "Paused load item 7 (transfer 3)")
	out, err = runCLI(t, env, "", "resume", "7")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	requireContains(t, out, "Resumed load item 7 (transfer 3)")

	if req, ok := env.dispatcher.got[0].(messages.PauseDownloadRequest); !ok || req.LoadItemID != 7 {
		t.Fatalf("dispatched %#v", env.dispatcher.got[0])
	}
	if req, ok := env.dispatcher.got[1].(messages.ResumeDownloadRequest); !ok || req.LoadItemID != 7 {
		t.Fatalf("dispatched %#v", env.dispatcher.got[1])
	}
}

func TestDownloadsTableAndJSON(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "", "downloads")
	if err != nil {
		t.Fatalf("downloads: %v", err)
	}
	requireContains(t, out, "Movie.mp4 (video)")
	requireContains(t, out, "50% of 1.0 kB")
	requireContains(t, out, "s1 e2")

	out, err = runCLI(t, env, "", "downloads", "--status", "completed", "--json")
	if err != nil {
		t.Fatalf("downloads --json: %v", err)
	}
	var views []downloads.DownloadView
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("decode json: %v\n%s", err, out)
	}
	if len(views) != 1 || views[0].Item.ID != 8 {
		t.Fatalf("views = %+v", views)
	}

	if _, err := runCLI(t, env, "", "downloads", "--status", "bogus"); err == nil {
		t.Fatal("expected unknown status error")
	}
}

func TestStatusRendersQueue(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := runCLI(t, env, "", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "pid 4242")
	requireContains(t, out, "[8, 9]")
	requireContains(t, out, "3 items: 2 queued, 1 in progress")
}

func TestStatusWhenDaemonUnreachable(t *testing.T) {
	srv := httptest.NewServer(nil)
	bind := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()
	env := writeCLIConfig(t, bind, nil)

	out, err := runCLI(t, env, "", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Not running")

	_, err = runCLI(t, env, "", "downloads")
	if err == nil || !strings.Contains(err.Error(), "grabber daemon") {
		t.Fatalf("downloads error = %v", err)
	}
}

func TestLogsPrintsEvents(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := runCLI(t, env, "", "logs", "--component", "downloads")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "[downloads] download started load_item=7")
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "", "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, err = runCLI(t, env, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, err := runCLI(t, env, "", "config", "init", "--path", target); err == nil {
		t.Fatal("expected error when config exists")
	}
	if _, err := runCLI(t, env, "", "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	_, err := runCLI(t, env, "", "test-notify")
	if err == nil || !strings.Contains(err.Error(), "ntfy_topic") {
		t.Fatalf("error = %v", err)
	}
}
