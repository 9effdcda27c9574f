package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"grabber/internal/config"
)

const userAgent = "Grabber-Go/0.1.0"

// Service defines the notification surface exposed to the download manager.
type Service interface {
	NotifyDownloadStopped(ctx context.Context, movieID int64, title string) error
	NotifyDownloadSkipped(ctx context.Context, movieID int64, title string) error
	NotifyDownloadCompleted(ctx context.Context, title, fileName string) error
	NotifyRestoreRequired(ctx context.Context, count int) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		completed: cfg.Notifications.Completed,
		failures:  cfg.Notifications.Failures,
		restore:   cfg.Notifications.Restore,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client

	completed bool
	failures  bool
	restore   bool
}

func (n *ntfyService) NotifyDownloadStopped(ctx context.Context, movieID int64, title string) error {
	if !n.failures {
		return nil
	}
	data := payload{
		title:    "Grabber - Download Stopped",
		message:  fmt.Sprintf("⏹ Download stopped: %s", describeMovie(movieID, title)),
		tags:     []string{"grabber", "download", "stopped"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDownloadSkipped(ctx context.Context, movieID int64, title string) error {
	if !n.failures {
		return nil
	}
	data := payload{
		title:   "Grabber - Download Failed",
		message: fmt.Sprintf("⚠️ Download failed and was skipped: %s", describeMovie(movieID, title)),
		tags:    []string{"grabber", "download", "failed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDownloadCompleted(ctx context.Context, title, fileName string) error {
	if !n.completed {
		return nil
	}
	message := fmt.Sprintf("✅ Downloaded: %s", strings.TrimSpace(title))
	if fileName = strings.TrimSpace(fileName); fileName != "" {
		message = fmt.Sprintf("%s\nFile: %s", message, fileName)
	}
	data := payload{
		title:   "Grabber - Download Complete",
		message: message,
		tags:    []string{"grabber", "download", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRestoreRequired(ctx context.Context, count int) error {
	if !n.restore {
		return nil
	}
	noun := "downloads were"
	if count == 1 {
		noun = "download was"
	}
	data := payload{
		title:    "Grabber - Restore Required",
		message:  fmt.Sprintf("%d %s interrupted. Run `grabber restore --yes` to resume or `--no` to cancel.", count, noun),
		tags:     []string{"grabber", "restore", "pending"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.failures {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Grabber - Error",
		message:  builder.String(),
		tags:     []string{"grabber", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Grabber - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"grabber", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func describeMovie(movieID int64, title string) string {
	if title = strings.TrimSpace(title); title != "" {
		return title
	}
	return fmt.Sprintf("movie %d", movieID)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyDownloadStopped(context.Context, int64, string) error    { return nil }
func (noopService) NotifyDownloadSkipped(context.Context, int64, string) error    { return nil }
func (noopService) NotifyDownloadCompleted(context.Context, string, string) error { return nil }
func (noopService) NotifyRestoreRequired(context.Context, int) error              { return nil }
func (noopService) NotifyError(context.Context, error, string) error              { return nil }
func (noopService) TestNotification(context.Context) error                        { return nil }
