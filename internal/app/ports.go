// Package app defines the application layer "ports" (interfaces) and the
// service that implements the story use-cases on top of them. It follows a
// hexagonal (ports & adapters) design: this package declares what the core
// needs, while adapter packages (filesystem item store, HTTP layer, janitor,
// metrics) provide or consume concrete implementations. No HTTP, SQL or
// logging concerns belong here.
package app

import (
	"context"
	"time"

	"github.com/haukened/storyhost/internal/domain"
	"github.com/haukened/storyhost/internal/store"
)

// Clock abstracts time to enable deterministic testing of creation timestamps.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// ItemStore is the storage port for stories. Implementations own the on-disk
// layout and path safety; counting and admission are handled by Service.
type ItemStore interface {
	store.Items
	store.MediaItems

	// Create writes a new story and returns its generated id. A story whose
	// metadata was not written must not be left behind as existing.
	Create(ctx context.Context, thumbnail, video []byte, meta domain.StoryMeta) (domain.StoryID, error)
	// Delete removes all artifacts of id and reports whether its metadata existed.
	Delete(id string) (bool, error)
	// ReadMeta returns the metadata record of id or domain.ErrNotFound.
	ReadMeta(id string) (domain.StoryMeta, error)
	// OpenThumbnail opens the thumbnail of id or returns domain.ErrNotFound.
	OpenThumbnail(id string) (store.Artifact, error)
	// OpenVideo opens the video of id or returns domain.ErrNotFound.
	OpenVideo(id string) (store.Artifact, error)
}

// KeyRegistry is the set of access keys consulted by the gateway.
type KeyRegistry interface {
	Add(key, old string)
	Remove(key string)
	Contains(key string) bool
}

// Counter tracks the number of stored stories.
type Counter interface {
	Current() int
	Admit(ceiling int) bool
	Reserve(ceiling int) bool
	Release()
	Decrement()
	RecomputeFrom(n int)
}

// Recorder receives operational counters. *metrics.Manager satisfies it.
type Recorder interface {
	Inc(name string, delta int64)
	Observe(name string, value int64)
}

type nopRecorder struct{}

func (nopRecorder) Inc(string, int64)     {}
func (nopRecorder) Observe(string, int64) {}
