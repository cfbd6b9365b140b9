// Package store defines the persistence ports the reconciliation routines work
// against and implements those routines: the keep-list reconciliation used by
// the administrative reset command, the metadata scan that seeds the capacity
// counter, and the orphan media sweep run by the janitor. The concrete on-disk
// layout lives in the filesystem sub-package.
package store

import (
	"io"
	"io/fs"
	"iter"
	"time"
)

// Kind identifies one of the three artifacts that make up a story.
type Kind int

const (
	KindMeta Kind = iota
	KindThumbnail
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindMeta:
		return "meta"
	case KindThumbnail:
		return "thumbnail"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Items is the view of the item store needed to enumerate and prune stories.
type Items interface {
	// IDs lazily yields the id of every story whose metadata exists. The
	// sequence is single-use.
	IDs() iter.Seq2[string, error]
	// RemoveMedia deletes the thumbnail and video of id; missing files are not errors.
	RemoveMedia(id string) error
	// RemoveMeta deletes the metadata record of id and reports whether it existed.
	RemoveMeta(id string) (bool, error)
}

// MediaFile describes one thumbnail or video file found on disk, or, with
// Kind KindMeta, a metadata record that was written but never renamed into
// place.
type MediaFile struct {
	Kind    Kind
	ID      string
	ModTime time.Time
}

// MediaItems is the view of the item store needed to find media left behind
// without metadata.
type MediaItems interface {
	// Media lazily yields every thumbnail and video file, then every
	// unfinished metadata record.
	Media() iter.Seq2[MediaFile, error]
	// HasMeta reports whether the metadata record of id exists.
	HasMeta(id string) (bool, error)
	// RemoveArtifact deletes one artifact; missing files are not errors.
	RemoveArtifact(kind Kind, id string) error
	// RemoveMetaTemp deletes the unfinished metadata record of id; a missing
	// file is not an error.
	RemoveMetaTemp(id string) error
}

// Artifact is an open thumbnail or video ready to be served.
type Artifact interface {
	io.ReadSeeker
	io.Closer
	Stat() (fs.FileInfo, error)
}
