package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jxucoder/previewd/internal/orchestrator"
)

// handleSessionSSE streams one turn's events per spec.md §6.2's
// taxonomy. A subscriber disconnecting (request context cancelled)
// propagates into the orchestrator's in-flight turn as a cancellation.
func (h *Handler) handleSessionSSE(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	id := chi.URLParam(r, "id")

	ch, err := h.engine.StreamEvents(r.Context(), id, user.ID)
	if err != nil {
		status, msg := statusForError(err)
		writeError(w, status, msg)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range ch {
		payload, kind := ssePayload(ev)
		writeSSE(w, kind, payload)
		flusher.Flush()
		if h.devHub != nil {
			h.devHub.Publish(id, map[string]any{"event": kind, "data": payload})
		}
	}
}

func writeSSE(w http.ResponseWriter, kind orchestrator.Kind, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("httpapi: sse marshal error: %v", err)
		return
	}
	if _, err := w.Write([]byte("event: " + string(kind) + "\ndata: " + string(data) + "\n\n")); err != nil {
		log.Printf("httpapi: sse write error: %v", err)
	}
}

func ssePayload(ev orchestrator.Event) (any, orchestrator.Kind) {
	switch ev.Kind {
	case orchestrator.EventPreviewURL:
		return map[string]string{"url": ev.URL}, ev.Kind
	case orchestrator.EventToken:
		return map[string]string{"content": ev.Content}, ev.Kind
	case orchestrator.EventUserMessage:
		return map[string]string{"content": ev.Content}, ev.Kind
	case orchestrator.EventToolStart:
		return map[string]any{"tool": ev.Tool, "step": ev.Step}, ev.Kind
	case orchestrator.EventToolEnd:
		return map[string]string{"tool": ev.Tool, "step_id": ev.StepID}, ev.Kind
	case orchestrator.EventPreviewReady:
		return map[string]any{"url": ev.URL, "step": ev.Step}, ev.Kind
	case orchestrator.EventError:
		return map[string]string{"message": ev.Message}, ev.Kind
	case orchestrator.EventDone:
		body := map[string]string{}
		if ev.URL != "" {
			body["preview_url"] = ev.URL
		}
		return body, ev.Kind
	default:
		return map[string]string{}, ev.Kind
	}
}
