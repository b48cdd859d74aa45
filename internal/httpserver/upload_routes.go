package httpserver

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"parcelchat/internal/blob"
)

var imageExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {},
}

var audioExts = map[string]struct{}{
	".mp3": {}, ".wav": {}, ".ogg": {}, ".m4a": {}, ".webm": {},
}

// handleUpload stores a multipart "file" field whose extension is in allowed
// and returns the URL the message payload should carry.
func handleUpload(storage blob.Storage, allowed map[string]struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(50 << 20); err != nil {
			http.Error(w, "failed to parse multipart form", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if _, ok := allowed[ext]; !ok {
			http.Error(w, "unsupported file type", http.StatusBadRequest)
			return
		}

		filename := strconv.FormatInt(time.Now().UnixNano(), 10) + ext
		url, err := storage.Store(r.Context(), filename, file)
		if err != nil {
			http.Error(w, "could not save file", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"url":      url,
			"filename": filename,
		})
	}
}

// UploadRoutes returns the sub-router mounted at /api/uploads that serves
// stored attachments back.
func UploadRoutes(storage blob.Storage) chi.Router {
	r := chi.NewRouter()

	r.Get("/{filename}", func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		if filename == "" {
			http.Error(w, "missing filename", http.StatusBadRequest)
			return
		}
		f, modTime, err := storage.Open(r.Context(), filename)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		defer f.Close()
		http.ServeContent(w, r, filename, modTime, f)
	})

	return r
}
