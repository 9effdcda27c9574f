package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"grabber/internal/downloads"
	"grabber/internal/logging"
	"grabber/internal/messages"
	"grabber/internal/queue"
	"grabber/internal/services"
)

const (
	maxMessageBytes = 1 << 20
	// followWait stays below the client timeout so an idle follow returns empty.
	followWait = 20 * time.Second
)

// MessageDispatcher runs decoded messages.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, req messages.Request) (messages.Result, error)
}

// Views supplies the read-only download listings.
type Views interface {
	Downloads(ctx context.Context, statuses ...queue.Status) ([]downloads.DownloadView, error)
	Status(ctx context.Context) (downloads.StatusView, error)
}

// Deps wires the handler to the daemon.
type Deps struct {
	Messages MessageDispatcher
	Views    Views
	Runtime  func() Runtime
	Logs     *logging.StreamHub
	Token    string
	Logger   *slog.Logger
}

type handler struct {
	deps   Deps
	logger *slog.Logger
}

// NewHandler builds the chi router serving the daemon API.
func NewHandler(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &handler{deps: deps, logger: logger.With(logging.String("component", "api"))}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)
	r.Use(bearerAuth(deps.Token))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		h.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", h.handleMessage)
		r.Get("/downloads", h.handleDownloads)
		r.Get("/status", h.handleStatus)
		r.Get("/logs", h.handleLogs)
	})
	return r
}

func (h *handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}

func (h *handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		h.writeMessageError(w, messages.Result{}, services.Wrap(services.ErrValidation, "api", "read message", "request body unreadable", err))
		return
	}
	req, err := messages.Decode(body)
	if err != nil {
		h.writeMessageError(w, messages.Result{}, err)
		return
	}
	if h.deps.Messages == nil {
		h.writeMessageError(w, messages.Result{Command: req.Command()},
			services.Wrap(services.ErrConfiguration, "api", "dispatch", "no dispatcher configured", nil))
		return
	}
	result, err := h.deps.Messages.Dispatch(r.Context(), req)
	if err != nil {
		h.writeMessageError(w, result, err)
		return
	}
	resp := MessageResponse{OK: true, RequestID: result.RequestID, Command: result.Command}
	if result.Data != nil {
		raw, err := json.Marshal(result.Data)
		if err != nil {
			h.writeMessageError(w, result, err)
			return
		}
		resp.Result = raw
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

func (h *handler) writeMessageError(w http.ResponseWriter, result messages.Result, err error) {
	writeJSON(w, h.logger, services.HTTPStatus(err), MessageResponse{
		OK:        false,
		RequestID: result.RequestID,
		Command:   result.Command,
		Error:     err.Error(),
	})
}

func (h *handler) handleDownloads(w http.ResponseWriter, r *http.Request) {
	if h.deps.Views == nil {
		writeJSON(w, h.logger, http.StatusOK, DownloadsResponse{Items: nil})
		return
	}
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		if strings.TrimSpace(value) == "" {
			continue
		}
		status, ok := queue.ParseStatus(value)
		if !ok {
			h.writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(value))
			return
		}
		statuses = append(statuses, status)
	}
	items, err := h.deps.Views.Downloads(r.Context(), statuses...)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, h.logger, http.StatusOK, DownloadsResponse{Items: items})
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	var resp StatusResponse
	if h.deps.Runtime != nil {
		resp.Runtime = h.deps.Runtime()
	}
	if h.deps.Views != nil {
		view, err := h.deps.Views.Status(r.Context())
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Downloads = view
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

func (h *handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	hub := h.deps.Logs
	if hub == nil {
		writeJSON(w, h.logger, http.StatusOK, LogStreamResponse{})
		return
	}

	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	follow := queryFlag(query.Get("follow"))
	tail := queryFlag(query.Get("tail"))
	var filterItem int64
	if value := strings.TrimSpace(query.Get("item")); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			filterItem = parsed
		}
	}
	component := strings.TrimSpace(query.Get("component"))

	var (
		events []logging.LogEvent
		next   uint64
	)
	if tail && since == 0 && !follow {
		events, next = hub.Tail(limit)
	} else {
		ctx := r.Context()
		if follow {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, followWait)
			defer cancel()
		}
		var err error
		events, next, err = hub.Fetch(ctx, since, limit, follow)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			h.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	filtered := make([]logging.LogEvent, 0, len(events))
	for _, evt := range events {
		if filterItem != 0 && evt.LoadItemID != filterItem {
			continue
		}
		if component != "" && !strings.EqualFold(component, evt.Component) {
			continue
		}
		filtered = append(filtered, evt)
	}
	writeJSON(w, h.logger, http.StatusOK, LogStreamResponse{Events: filtered, Next: next})
}

func queryFlag(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}

func (h *handler) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, h.logger, status, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Error("failed to encode response", logging.Error(err))
	}
}
