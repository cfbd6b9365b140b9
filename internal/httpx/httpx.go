// Package httpx contains the HTTP delivery layer (net/http handlers) for the
// storyhost service. It maps HTTP requests to the application service while
// enforcing the admin shared secret, per-part size limits, security headers,
// and error translation.
// Handlers are split across files (admin.go, media.go, upload.go, health.go, errors.go).
package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/haukened/storyhost/internal/app"
	"github.com/haukened/storyhost/internal/domain"
	"github.com/haukened/storyhost/internal/store"
)

// ServicePort abstracts the subset of app.Service used by the HTTP layer.
// It is satisfied by *app.Service in production and mocked in tests.
type ServicePort interface {
	AdmitUpload(key string) error
	RejectUpload(err error)
	Upload(ctx context.Context, key string, up app.Upload) (domain.StoryID, error)
	Thumbnail(ctx context.Context, id string) (store.Artifact, error)
	VideoMeta(ctx context.Context, key, id string) (domain.StoryMeta, error)
	Video(ctx context.Context, key, id string) (store.Artifact, error)
	AddKey(key, old string)
	RemoveKey(key string)
	Delete(ctx context.Context, id string) error
	Reset(ctx context.Context, ids []string) (int, error)
}

// Handler wires HTTP endpoints to the application service.
// It is safe for concurrent use. Zero-value is not valid; construct via New.
type Handler struct {
	Service   ServicePort
	AuthKey   string                      // shared secret of the admin channel
	MaxPart   int64                       // per-part upload ceiling in bytes
	Readiness func(context.Context) error // optional readiness check
	Metrics   http.Handler                // optional metrics endpoint
	Logger    *slog.Logger

	validate *validator.Validate
}

// New returns a configured Handler.
// svc: application service port implementation.
// authKey: admin shared secret (empty rejects every admin request).
// maxPart: maximum size of one uploaded file part (0 disables the check).
// readiness: optional check function for /readyz (nil => always ready).
func New(svc ServicePort, authKey string, maxPart int64, readiness func(context.Context) error) *Handler {
	return &Handler{
		Service:   svc,
		AuthKey:   authKey,
		MaxPart:   maxPart,
		Readiness: readiness,
		Logger:    slog.Default(),
		validate:  validator.New(),
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Router constructs and returns an http.Handler with all routes mounted and
// the middleware chain applied.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /internal", h.handleInternal)
	mux.HandleFunc("GET /thumbnail/{file}", h.handleThumbnail)
	mux.HandleFunc("GET /video/{key}/{file}", h.handleVideo) // GET patterns also match HEAD
	mux.HandleFunc("POST /upload/{key}/{duration}", h.handleUpload)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /readyz", h.handleReady)
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	// Logging wraps recovery so a recovered panic still gets its access line.
	chain := ChainMiddleware(
		CorrelationIDMiddleware,
		LoggingMiddleware(h.logger()),
		RecoveryMiddleware(h.logger()),
		h.secureHeaders,
	)
	return chain(mux)
}

// secureHeaders middleware adds standard security & cache control headers.
// Media handlers override Cache-Control on success.
func (h *Handler) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		if ct := w.Header().Get("Content-Type"); ct == "" {
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Pragma", "no-cache")
		}
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
		next.ServeHTTP(w, r)
	})
}
