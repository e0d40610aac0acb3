package httpapi

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/jxucoder/previewd/internal/filebackend"
)

type fileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
}

func (h *Handler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	id := chi.URLParam(r, "id")
	path := r.URL.Query().Get("path")

	entries, err := h.engine.ListFiles(r.Context(), id, user.ID, path)
	if err != nil {
		status, msg := statusForError(err)
		writeError(w, status, msg)
		return
	}

	out := make([]fileEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, fileEntry{Name: e.Name, IsDir: e.IsDir})
	}
	writeJSON(w, http.StatusOK, out)
}

type fileContentResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (h *Handler) handleReadFile(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	id := chi.URLParam(r, "id")
	path := chi.URLParam(r, "*")

	content, err := h.engine.ReadFile(r.Context(), id, user.ID, path)
	if err != nil {
		status, msg := statusForError(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, fileContentResponse{Path: path, Content: content})
}

type writeFileRequest struct {
	Content string `json:"content"`
}

func (h *Handler) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	id := chi.URLParam(r, "id")
	path := chi.URLParam(r, "*")

	var req writeFileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.engine.WriteFile(r.Context(), id, user.ID, path, req.Content); err != nil {
		status, msg := statusForError(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, fileContentResponse{Path: path, Content: req.Content})
}

// handleDownload tars and gzips the session's workspace, excluding VCS
// metadata and build outputs, and streams it directly to the client.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	id := chi.URLParam(r, "id")

	root, err := h.engine.WorkspaceRoot(id, user.ID)
	if err != nil {
		status, msg := statusForError(err)
		writeError(w, status, msg)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=project-%s.tar.gz", id))

	gz := gzip.NewWriter(w)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if excludedFromDownload(info.Name()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return nil
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		log.Printf("httpapi: download archive error: %v", err)
	}
}

func excludedFromDownload(name string) bool {
	if name == "e2b.toml" || name == "e2b.Dockerfile" {
		return true
	}
	_, ok := filebackend.DefaultIgnore[name]
	return ok
}
