package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	sess, err := h.engine.CreateSession(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	sessions, err := h.engine.ListSessions(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	id := chi.URLParam(r, "id")
	sess, err := h.engine.GetSession(id, user.ID)
	if err != nil {
		status, msg := statusForError(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type updateSessionRequest struct {
	Title *string `json:"title"`
}

func (h *Handler) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	id := chi.URLParam(r, "id")

	var req updateSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == nil {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	sess, err := h.engine.SetTitle(id, user.ID, strings.TrimSpace(*req.Title))
	if err != nil {
		status, msg := statusForError(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	id := chi.URLParam(r, "id")

	if err := h.engine.DeleteSession(r.Context(), id, user.ID); err != nil {
		status, msg := statusForError(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

func (h *Handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	id := chi.URLParam(r, "id")

	msgs, err := h.engine.GetMessages(id, user.ID)
	if err != nil {
		status, msg := statusForError(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type sendMessageResponse struct {
	Status    string `json:"status"`
	StreamURL string `json:"stream_url"`
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	id := chi.URLParam(r, "id")

	var req sendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	if err := h.engine.SendMessage(id, user.ID, req.Content); err != nil {
		status, msg := statusForError(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusAccepted, sendMessageResponse{
		Status:    "processing",
		StreamURL: "/sessions/" + id + "/sse",
	})
}

func (h *Handler) handleStopSession(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	id := chi.URLParam(r, "id")

	// Best-effort cancel: the real cancellation path is the caller
	// dropping its SSE subscription, which already propagates context
	// cancellation through the in-flight turn. This endpoint only
	// confirms the session is the caller's to stop.
	if _, err := h.engine.GetSession(id, user.ID); err != nil {
		status, msg := statusForError(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
