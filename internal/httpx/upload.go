package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/haukened/storyhost/internal/app"
	"github.com/haukened/storyhost/internal/domain"
)

// Upload part roles, carried as the file name of each multipart file part.
const (
	RoleVideo     = "video"
	RoleThumbnail = "thumbnail"
)

// maxFileParts is the number of file parts an upload may carry.
const maxFileParts = 2

// maxFieldBytes bounds non-file form fields, which are read and discarded.
const maxFieldBytes = 4 << 10

// uploadOverhead is the allowance for multipart framing and form fields on
// top of the file parts themselves.
const uploadOverhead = 1 << 20

// handleUpload implements POST /upload/{key}/{duration}.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.PathValue("key")
	// Reject before the body is read; Upload repeats both checks atomically.
	if err := h.Service.AdmitUpload(key); err != nil {
		h.mapServiceError(ctx, w, err)
		return
	}
	if h.MaxPart > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxFileParts*h.MaxPart+uploadOverhead)
	}
	up, err := h.readUpload(r)
	if err != nil {
		h.Service.RejectUpload(err)
		h.mapServiceError(ctx, w, err)
		return
	}
	up.Duration = domain.ParseDuration(r.PathValue("duration"))
	id, err := h.Service.Upload(ctx, key, up)
	if err != nil {
		h.mapServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(struct {
		UUID string `json:"uuid"`
	}{UUID: id.String()})
}

// readUpload streams the multipart body and picks the video and thumbnail by
// role. Parts with other file names are counted but dropped. Any read failure
// (including a client that disconnects) rejects the payload.
func (h *Handler) readUpload(r *http.Request) (app.Upload, error) {
	var up app.Upload
	mr, err := r.MultipartReader()
	if err != nil {
		return up, fmt.Errorf("%w: %w", domain.ErrPayloadRejected, err)
	}
	files := 0
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return up, fmt.Errorf("%w: %w", domain.ErrPayloadRejected, err)
		}
		if part.FileName() == "" {
			_, err = io.Copy(io.Discard, io.LimitReader(part, maxFieldBytes))
			part.Close()
			if err != nil {
				return up, fmt.Errorf("%w: %w", domain.ErrPayloadRejected, err)
			}
			continue
		}
		files++
		if files > maxFileParts {
			part.Close()
			return up, fmt.Errorf("%w: more than %d files", domain.ErrPayloadRejected, maxFileParts)
		}
		data, err := h.readPart(part)
		part.Close()
		if err != nil {
			return up, err
		}
		switch part.FileName() {
		case RoleVideo:
			up.Video = data
		case RoleThumbnail:
			up.Thumbnail = data
		}
	}
	if up.Video == nil || up.Thumbnail == nil {
		return up, fmt.Errorf("%w: missing part", domain.ErrPayloadRejected)
	}
	return up, nil
}

// readPart reads one file part, failing when it exceeds MaxPart.
func (h *Handler) readPart(p *multipart.Part) ([]byte, error) {
	src := io.Reader(p)
	if h.MaxPart > 0 {
		src = io.LimitReader(p, h.MaxPart+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPayloadRejected, err)
	}
	if h.MaxPart > 0 && int64(len(data)) > h.MaxPart {
		return nil, fmt.Errorf("%w: part %q truncated", domain.ErrPayloadRejected, p.FileName())
	}
	return data, nil
}
