// Package httpapi provides previewd's HTTP API handler. It delegates
// all business logic to auth.Service and orchestrator.Orchestrator.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jxucoder/previewd/internal/auth"
	"github.com/jxucoder/previewd/internal/devpreview"
	"github.com/jxucoder/previewd/internal/orchestrator"
)

// Handler provides the HTTP API for previewd.
type Handler struct {
	auth   *auth.Service
	engine *orchestrator.Orchestrator
	router chi.Router

	devHub *devpreview.Hub
}

// SetDevPreviewHub mirrors every streamed event into hub, for local
// `previewd watch` tooling to tail alongside the SSE subscriber. A nil
// hub (the default) disables mirroring entirely.
func (h *Handler) SetDevPreviewHub(hub *devpreview.Hub) {
	h.devHub = hub
}

// New creates a new HTTP API handler.
func New(authSvc *auth.Service, engine *orchestrator.Orchestrator, corsOrigins []string) *Handler {
	h := &Handler{auth: authSvc, engine: engine}
	h.router = h.buildRouter(corsOrigins)
	return h
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	return h.router
}

func (h *Handler) buildRouter(corsOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/auth/me", h.handleMe)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/sessions", h.handleCreateSession)
			r.Get("/sessions", h.handleListSessions)
			r.Get("/sessions/{id}", h.handleGetSession)
			r.Patch("/sessions/{id}", h.handleUpdateSession)
			r.Delete("/sessions/{id}", h.handleDeleteSession)
			r.Post("/sessions/{id}/message", h.handleSendMessage)
			r.Get("/sessions/{id}/messages", h.handleGetMessages)
			r.Get("/sessions/{id}/files", h.handleListFiles)
			r.Get("/sessions/{id}/files/*", h.handleReadFile)
			r.Put("/sessions/{id}/files/*", h.handleWriteFile)
			r.Get("/sessions/{id}/download", h.handleDownload)
			r.Post("/sessions/{id}/stop", h.handleStopSession)
		})
		// SSE streams run indefinitely; kept outside the timeout group.
		r.Get("/sessions/{id}/sse", h.handleSessionSSE)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// --- Response helpers ---

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusForError maps orchestrator/auth sentinel errors onto spec.md §7's
// taxonomy: AuthorizationError and not-found are deliberately
// indistinguishable, busy is a conflict, wrong state is a bad request.
func statusForError(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, orchestrator.ErrNotFound), errors.Is(err, orchestrator.ErrNoSandbox):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, orchestrator.ErrConcurrency):
		return http.StatusConflict, "session busy"
	case errors.Is(err, orchestrator.ErrState):
		return http.StatusBadRequest, "session in wrong state"
	case errors.Is(err, orchestrator.ErrNoPending):
		return http.StatusBadRequest, "no pending message for session"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
