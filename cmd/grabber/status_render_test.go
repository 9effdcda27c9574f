package main

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"grabber/internal/api"
	"grabber/internal/downloads"
	"grabber/internal/queue"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestPhaseKind(t *testing.T) {
	tests := []struct {
		status queue.Status
		want   statusKind
	}{
		{queue.StatusCandidate, statusInfo},
		{queue.StatusDownloading, statusInfo},
		{queue.StatusCompleted, statusOK},
		{queue.StatusInitiationError, statusError},
		{queue.StatusCancelled, statusWarn},
	}
	for _, tt := range tests {
		if got := phaseKind(tt.status); got != tt.want {
			t.Errorf("phaseKind(%s) = %d, want %d", tt.status, got, tt.want)
		}
	}
}

func TestRenderStatusShowsRestorePrompt(t *testing.T) {
	status := api.StatusResponse{
		Runtime: api.Runtime{Running: true, PID: 10},
		Downloads: downloads.StatusView{
			Restore: &downloads.RestorePrompt{Report: downloads.ReconcileReport{
				Broken: []downloads.BrokenItem{{LoadItemID: 3, Reason: "transfer missing"}},
			}},
		},
	}
	joined := strings.Join(renderStatus(status, false), "\n")
	for _, want := range []string{"[WARN] 1 interrupted downloads", "load item 3: transfer missing", "Pending:", "[INFO] none"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in:\n%s", want, joined)
		}
	}
}

func TestRenderStatusShowsDatabaseHealth(t *testing.T) {
	status := api.StatusResponse{
		Runtime: api.Runtime{Running: true, PID: 10},
		Downloads: downloads.StatusView{
			Database: &queue.DatabaseHealth{DatabaseExists: true, DatabaseReadable: true, IntegrityCheck: true, SchemaVersion: 1, TotalLoadItems: 4, TotalFileItems: 6},
		},
	}
	joined := strings.Join(renderStatus(status, false), "\n")
	if !strings.Contains(joined, "[OK] schema v1, 4 load items, 6 files") {
		t.Fatalf("missing database line in:\n%s", joined)
	}

	status.Downloads.Database = &queue.DatabaseHealth{DatabaseExists: true, Error: "database is locked"}
	joined = strings.Join(renderStatus(status, false), "\n")
	if !strings.Contains(joined, "[ERROR] database is locked") {
		t.Fatalf("missing database error in:\n%s", joined)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}

func TestRenderTableAlignsColumns(t *testing.T) {
	out := renderTable([]tableColumn{{Header: "ID", Align: alignRight}, {Header: "Name"}}, [][]string{{"7", "film"}, {"12"}})
	if !strings.Contains(out, "ID") || !strings.Contains(out, "film") {
		t.Fatalf("unexpected table:\n%s", out)
	}
	if renderTable(nil, nil) != "" {
		t.Fatal("expected empty output without columns")
	}
}
