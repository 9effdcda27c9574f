package services_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"grabber/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternal, "network", "size", "head failed", base)
	if !errors.Is(err, services.ErrExternal) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"network", "size", "head failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err)
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		status    int
	}{
		{"validation", services.Wrap(services.ErrValidation, "messages", "decode", "bad payload", nil), false, http.StatusBadRequest},
		{"not found", services.Wrap(services.ErrNotFound, "queue", "get", "missing", nil), false, http.StatusNotFound},
		{"conflict", services.Wrap(services.ErrConflict, "downloads", "trigger", "busy", nil), false, http.StatusConflict},
		{"timeout", services.Wrap(services.ErrTimeout, "network", "fetch", "slow", nil), true, http.StatusGatewayTimeout},
		{"external", services.Wrap(services.ErrExternal, "transfer", "get", "503", nil), true, http.StatusBadGateway},
		{"transient", services.Wrap(services.ErrTransient, "cache", "get", "busy", nil), true, http.StatusServiceUnavailable},
		{"plain", errors.New("plain"), true, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.Retryable(tt.err); got != tt.retryable {
				t.Fatalf("Retryable = %v, want %v", got, tt.retryable)
			}
			if got := services.HTTPStatus(tt.err); got != tt.status {
				t.Fatalf("HTTPStatus = %d, want %d", got, tt.status)
			}
		})
	}
	if services.Retryable(nil) {
		t.Fatal("nil error must not be retryable")
	}
}
