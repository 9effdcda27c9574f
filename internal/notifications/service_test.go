package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"grabber/internal/config"
	"grabber/internal/notifications"
	"grabber/internal/testsupport"
)

type captured struct {
	title    string
	message  string
	tags     string
	priority string
}

func newCaptureServer(t *testing.T) (*httptest.Server, chan captured) {
	t.Helper()
	requests := make(chan captured, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests <- captured{
			title:    r.Header.Get("Title"),
			message:  string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc := notifications.NewService(cfg)
	if err := svc.NotifyDownloadStopped(context.Background(), 42, "Film"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "stopped",
			send: func(s notifications.Service) error {
				return s.NotifyDownloadStopped(context.Background(), 42, "Interstellar")
			},
			expectTitle:    "Grabber - Download Stopped",
			expectMessage:  "⏹ Download stopped: Interstellar",
			expectTags:     "grabber,download,stopped",
			expectPriority: "high",
		},
		{
			name: "skipped without title",
			send: func(s notifications.Service) error {
				return s.NotifyDownloadSkipped(context.Background(), 42, " ")
			},
			expectTitle:   "Grabber - Download Failed",
			expectMessage: "⚠️ Download failed and was skipped: movie 42",
			expectTags:    "grabber,download,failed",
		},
		{
			name: "completed",
			send: func(s notifications.Service) error {
				return s.NotifyDownloadCompleted(context.Background(), "Interstellar", "HDrezkaGrabber/Interstellar.mp4")
			},
			expectTitle:   "Grabber - Download Complete",
			expectMessage: "✅ Downloaded: Interstellar\nFile: HDrezkaGrabber/Interstellar.mp4",
			expectTags:    "grabber,download,completed",
		},
		{
			name: "restore",
			send: func(s notifications.Service) error {
				return s.NotifyRestoreRequired(context.Background(), 1)
			},
			expectTitle:    "Grabber - Restore Required",
			expectMessage:  "1 download was interrupted. Run `grabber restore --yes` to resume or `--no` to cancel.",
			expectTags:     "grabber,restore,pending",
			expectPriority: "high",
		},
		{
			name: "error",
			send: func(s notifications.Service) error {
				return s.NotifyError(context.Background(), errors.New("disk full"), "movie 42")
			},
			expectTitle:    "Grabber - Error",
			expectMessage:  "❌ Error with movie 42: disk full",
			expectTags:     "grabber,error,alert",
			expectPriority: "high",
		},
		{
			name:           "test",
			send:           func(s notifications.Service) error { return s.TestNotification(context.Background()) },
			expectTitle:    "Grabber - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "grabber,test",
			expectPriority: "low",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, requests := newCaptureServer(t)
			svc := notifications.NewService(testsupport.NewConfig(t, testsupport.WithNtfyTopic(srv.URL)))
			if err := tt.send(svc); err != nil {
				t.Fatalf("send: %v", err)
			}
			got := <-requests
			if got.title != tt.expectTitle || got.message != tt.expectMessage || got.tags != tt.expectTags || got.priority != tt.expectPriority {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestDisabledCategoriesAreNotSent(t *testing.T) {
	srv, requests := newCaptureServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithNtfyTopic(srv.URL))
	cfg.Notifications.Completed = false
	cfg.Notifications.Failures = false
	cfg.Notifications.Restore = false
	svc := notifications.NewService(cfg)

	ctx := context.Background()
	_ = svc.NotifyDownloadCompleted(ctx, "a", "b")
	_ = svc.NotifyDownloadStopped(ctx, 1, "a")
	_ = svc.NotifyDownloadSkipped(ctx, 1, "a")
	_ = svc.NotifyRestoreRequired(ctx, 2)
	_ = svc.NotifyError(ctx, errors.New("x"), "")
	if len(requests) != 0 {
		t.Fatalf("sent %d disabled notifications", len(requests))
	}
}

func TestNtfyErrorStatusIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic blocked", http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)
	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
