package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/convertarr/internal/storage"
)

// OutputHandler serves converted files for download.
type OutputHandler struct {
	sandbox *storage.Sandbox
	logger  *slog.Logger
}

// NewOutputHandler creates a new output handler.
func NewOutputHandler(sandbox *storage.Sandbox) *OutputHandler {
	return &OutputHandler{
		sandbox: sandbox,
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger for the handler.
func (h *OutputHandler) WithLogger(logger *slog.Logger) *OutputHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// RegisterFileServer registers the download route.
// Routes:
//   - GET /output/{filename} - Serve a converted file
func (h *OutputHandler) RegisterFileServer(router chi.Router) {
	router.Get("/output/{filename}", h.serveOutput)
	router.Head("/output/{filename}", h.serveOutput)
}

// serveOutput handles direct HTTP requests for output files. Range requests
// are handled by http.ServeContent.
func (h *OutputHandler) serveOutput(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" || filename != filepath.Base(filename) {
		http.Error(w, "invalid filename", http.StatusBadRequest)
		return
	}

	path, err := h.sandbox.ResolvePath(filename)
	if err != nil {
		http.Error(w, "invalid filename", http.StatusBadRequest)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, fmt.Sprintf("output %s not found", filename), http.StatusNotFound)
			return
		}
		h.logger.Error("failed to open output file",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
		http.Error(w, "failed to read output file", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		http.Error(w, fmt.Sprintf("output %s not found", filename), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeContent(w, r, filename, info.ModTime(), f)
}
