// Package filesystem provides the item store backed by the local filesystem.
// Each story is three files sharing its id: a JSON metadata record, a JPEG
// thumbnail and a WebM video, kept in three sibling directories.
package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/haukened/storyhost/internal/domain"
	"github.com/haukened/storyhost/internal/store"
)

// Subdirectory names under the storage root.
const (
	MetaDir      = "meta"
	ThumbnailDir = "thumbnails"
	VideoDir     = "videos"
)

const (
	metaExt      = ".json"
	thumbnailExt = ".jpg"
	videoExt     = ".webm"
	tmpSuffix    = ".tmp"
	readDirBatch = 128
)

// Ensure ItemStore implements the store ports.
var (
	_ store.Items      = (*ItemStore)(nil)
	_ store.MediaItems = (*ItemStore)(nil)
)

// ItemStore implements the story item store using the local filesystem.
// It is safe for concurrent use; cross-file consistency is the caller's concern.
type ItemStore struct {
	dirs [3]string // absolute, indexed by store.Kind
}

// New returns an item store rooted at root, creating the three storage
// subdirectories when missing.
func New(root string) (*ItemStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	s := &ItemStore{}
	for kind, name := range map[store.Kind]string{
		store.KindMeta:      MetaDir,
		store.KindThumbnail: ThumbnailDir,
		store.KindVideo:     VideoDir,
	} {
		dir := filepath.Join(abs, name)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", name, err)
		}
		fi, err := os.Stat(dir)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", dir)
		}
		s.dirs[kind] = dir
	}
	return s, nil
}

// Dir returns the absolute directory holding artifacts of kind.
func (s *ItemStore) Dir(kind store.Kind) string { return s.dirs[kind] }

func ext(kind store.Kind) string {
	switch kind {
	case store.KindThumbnail:
		return thumbnailExt
	case store.KindVideo:
		return videoExt
	default:
		return metaExt
	}
}

// path builds the artifact path for id and checks that the cleaned result is
// a direct child of the kind's directory. Anything that escapes it (parent
// references, separators, absolute ids) is rejected with domain.ErrInvalidID
// before the filesystem is touched.
func (s *ItemStore) path(kind store.Kind, id string) (string, error) {
	if id == "" || strings.ContainsRune(id, 0) {
		return "", domain.ErrInvalidID
	}
	dir := s.dirs[kind]
	p := filepath.Join(dir, id+ext(kind))
	if filepath.Dir(p) != dir {
		return "", domain.ErrInvalidID
	}
	return p, nil
}

// Create writes the thumbnail, the video and finally the metadata record of a
// new story and returns its generated id. The metadata record is written
// last, through a rename, so a story never exists without its media. When any
// step fails, or ctx is cancelled before the metadata lands, the files written
// so far are removed best-effort and an error wrapping domain.ErrStorageWrite
// (or the context error) is returned.
func (s *ItemStore) Create(ctx context.Context, thumbnail, video []byte, meta domain.StoryMeta) (domain.StoryID, error) {
	id, err := domain.NewID()
	if err != nil {
		return "", fmt.Errorf("%w: generate id: %w", domain.ErrStorageWrite, err)
	}
	written := make([]string, 0, 2)
	cleanup := func() {
		for _, p := range written {
			_ = os.Remove(p)
		}
	}
	for _, part := range []struct {
		kind store.Kind
		data []byte
	}{
		{store.KindThumbnail, thumbnail},
		{store.KindVideo, video},
	} {
		p, err := s.path(part.kind, id.String())
		if err != nil {
			cleanup()
			return "", err
		}
		if err := writeFile(p, part.data); err != nil {
			cleanup()
			return "", fmt.Errorf("%w: %s: %w", domain.ErrStorageWrite, part.kind, err)
		}
		written = append(written, p)
	}
	if err := ctx.Err(); err != nil {
		cleanup()
		return "", err
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		cleanup()
		return "", fmt.Errorf("%w: encode meta: %w", domain.ErrStorageWrite, err)
	}
	mp, err := s.path(store.KindMeta, id.String())
	if err != nil {
		cleanup()
		return "", err
	}
	tmp := mp + tmpSuffix
	if err := writeFile(tmp, raw); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: meta: %w", domain.ErrStorageWrite, err)
	}
	if err := os.Rename(tmp, mp); err != nil {
		_ = os.Remove(tmp)
		cleanup()
		return "", fmt.Errorf("%w: meta: %w", domain.ErrStorageWrite, err)
	}
	return id, nil
}

// writeFile creates p exclusively and fsyncs data into it. A partial file is
// removed on failure. Returned errors wrap the underlying *fs.PathError.
func writeFile(p string, data []byte) (err error) {
	// #nosec G304: p is produced by path() and confined to a storage directory.
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("close: %w", cErr)
		}
		if err != nil {
			_ = os.Remove(p)
		}
	}()
	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// Delete removes all three artifacts of id, metadata last, and reports whether
// the metadata record existed. Missing artifacts are not errors, so Delete is
// idempotent.
func (s *ItemStore) Delete(id string) (bool, error) {
	if err := s.RemoveMedia(id); err != nil {
		return false, err
	}
	return s.RemoveMeta(id)
}

// RemoveMedia deletes the thumbnail and video of id.
func (s *ItemStore) RemoveMedia(id string) error {
	if err := s.RemoveArtifact(store.KindThumbnail, id); err != nil {
		return err
	}
	return s.RemoveArtifact(store.KindVideo, id)
}

// RemoveMeta deletes the metadata record of id and reports whether it existed.
func (s *ItemStore) RemoveMeta(id string) (bool, error) {
	p, err := s.path(store.KindMeta, id)
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RemoveArtifact deletes a single artifact of id.
func (s *ItemStore) RemoveArtifact(kind store.Kind, id string) error {
	p, err := s.path(kind, id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveMetaTemp deletes the unfinished metadata record of id.
func (s *ItemStore) RemoveMetaTemp(id string) error {
	p, err := s.path(store.KindMeta, id)
	if err != nil {
		return err
	}
	if err := os.Remove(p + tmpSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ReadMeta loads the metadata record of id.
func (s *ItemStore) ReadMeta(id string) (domain.StoryMeta, error) {
	var meta domain.StoryMeta
	p, err := s.path(store.KindMeta, id)
	if err != nil {
		return meta, err
	}
	raw, err := os.ReadFile(p) // #nosec G304 path confined by path()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, domain.ErrNotFound
		}
		return meta, err
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("decode meta: %w", err)
	}
	return meta, nil
}

// HasMeta reports whether the metadata record of id exists.
func (s *ItemStore) HasMeta(id string) (bool, error) {
	p, err := s.path(store.KindMeta, id)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// OpenThumbnail opens the thumbnail of id for reading.
func (s *ItemStore) OpenThumbnail(id string) (store.Artifact, error) {
	return s.open(store.KindThumbnail, id)
}

// OpenVideo opens the video of id for reading.
func (s *ItemStore) OpenVideo(id string) (store.Artifact, error) {
	return s.open(store.KindVideo, id)
}

func (s *ItemStore) open(kind store.Kind, id string) (store.Artifact, error) {
	p, err := s.path(kind, id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p) // #nosec G304 path confined by path()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// IDs lazily yields the id of every story with a metadata record. The
// directory is read in batches; iteration stops at the first error, which is
// yielded once.
func (s *ItemStore) IDs() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for e, err := range readDir(s.dirs[store.KindMeta]) {
			if err != nil {
				yield("", err)
				return
			}
			name := e.Name()
			if !e.Type().IsRegular() || !strings.HasSuffix(name, metaExt) {
				continue
			}
			if !yield(strings.TrimSuffix(name, metaExt), nil) {
				return
			}
		}
	}
}

// Media lazily yields every thumbnail and video file, then every metadata
// temp file left behind by a Create that never reached its rename. Temp files
// are reported with Kind store.KindMeta.
func (s *ItemStore) Media() iter.Seq2[store.MediaFile, error] {
	return func(yield func(store.MediaFile, error) bool) {
		for _, kind := range []store.Kind{store.KindThumbnail, store.KindVideo, store.KindMeta} {
			suffix := ext(kind)
			if kind == store.KindMeta {
				suffix += tmpSuffix
			}
			for e, err := range readDir(s.dirs[kind]) {
				if err != nil {
					yield(store.MediaFile{}, err)
					return
				}
				name := e.Name()
				if !e.Type().IsRegular() || !strings.HasSuffix(name, suffix) {
					continue
				}
				info, err := e.Info()
				if err != nil {
					// removed between listing and stat
					if errors.Is(err, fs.ErrNotExist) {
						continue
					}
					yield(store.MediaFile{}, err)
					return
				}
				f := store.MediaFile{Kind: kind, ID: strings.TrimSuffix(name, suffix), ModTime: info.ModTime()}
				if !yield(f, nil) {
					return
				}
			}
		}
	}
}

// readDir yields the entries of dir in batches without loading the whole
// listing into memory.
func readDir(dir string) iter.Seq2[fs.DirEntry, error] {
	return func(yield func(fs.DirEntry, error) bool) {
		d, err := os.Open(dir) // #nosec G304 fixed storage directory
		if err != nil {
			yield(nil, err)
			return
		}
		defer d.Close()
		for {
			entries, err := d.ReadDir(readDirBatch)
			for _, e := range entries {
				if !yield(e, nil) {
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield(nil, err)
				return
			}
		}
	}
}
