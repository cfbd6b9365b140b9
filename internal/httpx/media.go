package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/haukened/storyhost/internal/store"
)

// VideoDurationHeader carries the story duration on HEAD /video requests.
const VideoDurationHeader = "X-Video-Duration"

// handleThumbnail implements GET /thumbnail/{id}.jpg.
func (h *Handler) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	id, ok := strings.CutSuffix(r.PathValue("file"), ".jpg")
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "not found")
		return
	}
	a, err := h.Service.Thumbnail(r.Context(), id)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	defer a.Close()
	serveArtifact(w, r, a, id+".jpg", "image/jpeg", "public, max-age=86400, immutable")
}

// handleVideo implements GET and HEAD /video/{key}/{id}.webm. HEAD answers
// from metadata alone and reports the duration in seconds.
func (h *Handler) handleVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := strings.CutSuffix(r.PathValue("file"), ".webm")
	if !ok {
		writeError(ctx, w, http.StatusNotFound, "not found")
		return
	}
	key := r.PathValue("key")
	if r.Method == http.MethodHead {
		meta, err := h.Service.VideoMeta(ctx, key, id)
		if err != nil {
			h.mapServiceError(ctx, w, err)
			return
		}
		w.Header().Set(VideoDurationHeader, strconv.FormatFloat(meta.Duration, 'f', -1, 64))
		w.WriteHeader(http.StatusOK)
		return
	}
	a, err := h.Service.Video(ctx, key, id)
	if err != nil {
		h.mapServiceError(ctx, w, err)
		return
	}
	defer a.Close()
	serveArtifact(w, r, a, id+".webm", "video/webm", "private, max-age=3600")
}

// serveArtifact streams a stored file with range support.
func serveArtifact(w http.ResponseWriter, r *http.Request, a store.Artifact, name, contentType, cacheControl string) {
	var modTime time.Time
	if fi, err := a.Stat(); err == nil {
		modTime = fi.ModTime()
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", cacheControl)
	w.Header().Del("Pragma")
	http.ServeContent(w, r, name, modTime, a)
}

