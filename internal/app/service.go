// Package app contains the application orchestration layer for storyhost. It
// enforces the admission rules (access keys, capacity, payload shape, id
// validity) and keeps the capacity counter in step with the item store.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haukened/storyhost/internal/domain"
	"github.com/haukened/storyhost/internal/store"
)

// Metric names recorded by Service.
const (
	CounterUploaded       = "stories_uploaded_total"
	CounterDeleted        = "stories_deleted_total"
	CounterResetDeleted   = "stories_reset_deleted_total"
	CounterUploadRejected = "uploads_rejected_total"
	CounterOrphansSwept   = "orphans_swept_total"
)

// Upload is a parsed upload request.
type Upload struct {
	Thumbnail []byte
	Video     []byte
	Duration  float64 // seconds, already coerced by domain.ParseDuration
}

// Service implements the admission gateway and the administrative operations.
// Construct it with a struct literal; the zero mutex is ready to use.
//
// Uploads and single deletes run concurrently under the read side of mu; the
// whole-store operations (Reset, Recount, SweepOrphans) take the write side so
// they never observe an upload between its capacity reservation and its
// metadata write.
type Service struct {
	Items          ItemStore
	Keys           KeyRegistry
	Capacity       Counter
	Clock          Clock
	Metrics        Recorder // optional
	MaxStories     int
	MaxUploadBytes int64

	mu sync.RWMutex
}

func (s *Service) recorder() Recorder {
	if s.Metrics == nil {
		return nopRecorder{}
	}
	return s.Metrics
}

// AdmitUpload performs the checks that do not need the request body: the key
// must be registered and the store must have room. The HTTP layer calls it
// before reading any upload data; Upload repeats both checks atomically.
func (s *Service) AdmitUpload(key string) error {
	if !s.Keys.Contains(key) {
		return domain.ErrUnauthorized
	}
	if !s.Capacity.Admit(s.MaxStories) {
		s.recorder().Inc(CounterUploadRejected, 1)
		return domain.ErrCapacityExceeded
	}
	return nil
}

// RejectUpload records an upload the delivery layer refused after admission,
// such as a malformed or oversized multipart body. Errors other than
// domain.ErrPayloadRejected are not rejections and are ignored.
func (s *Service) RejectUpload(err error) {
	if errors.Is(err, domain.ErrPayloadRejected) {
		s.recorder().Inc(CounterUploadRejected, 1)
	}
}

// Upload stores a new story for a key holder and returns its id. The capacity
// slot is reserved before any file is written and released again if the store
// fails, so the counter only ever includes stories whose metadata landed.
func (s *Service) Upload(ctx context.Context, key string, up Upload) (domain.StoryID, error) {
	if !s.Keys.Contains(key) {
		return "", domain.ErrUnauthorized
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.Capacity.Reserve(s.MaxStories) {
		s.recorder().Inc(CounterUploadRejected, 1)
		return "", domain.ErrCapacityExceeded
	}
	if err := s.checkPayload(up); err != nil {
		s.Capacity.Release()
		s.recorder().Inc(CounterUploadRejected, 1)
		return "", err
	}
	meta := domain.NewStoryMeta(s.Clock.Now(), up.Duration)
	id, err := s.Items.Create(ctx, up.Thumbnail, up.Video, meta)
	if err != nil {
		s.Capacity.Release()
		return "", err
	}
	s.recorder().Inc(CounterUploaded, 1)
	return id, nil
}

func (s *Service) checkPayload(up Upload) error {
	if len(up.Thumbnail) == 0 || len(up.Video) == 0 {
		return fmt.Errorf("%w: empty part", domain.ErrPayloadRejected)
	}
	if s.MaxUploadBytes > 0 && (int64(len(up.Thumbnail)) > s.MaxUploadBytes || int64(len(up.Video)) > s.MaxUploadBytes) {
		return fmt.Errorf("%w: part too large", domain.ErrPayloadRejected)
	}
	return nil
}

// Thumbnail opens the thumbnail of a story. Thumbnails are previews and need
// no key.
func (s *Service) Thumbnail(_ context.Context, idStr string) (store.Artifact, error) {
	id, err := domain.ParseID(idStr)
	if err != nil {
		return nil, err
	}
	return s.Items.OpenThumbnail(id.String())
}

// VideoMeta returns the metadata of a story for a key holder without opening
// the video itself.
func (s *Service) VideoMeta(_ context.Context, key, idStr string) (domain.StoryMeta, error) {
	if !s.Keys.Contains(key) {
		return domain.StoryMeta{}, domain.ErrUnauthorized
	}
	id, err := domain.ParseID(idStr)
	if err != nil {
		return domain.StoryMeta{}, err
	}
	return s.Items.ReadMeta(id.String())
}

// Video opens the video of a story for a key holder.
func (s *Service) Video(_ context.Context, key, idStr string) (store.Artifact, error) {
	if !s.Keys.Contains(key) {
		return nil, domain.ErrUnauthorized
	}
	id, err := domain.ParseID(idStr)
	if err != nil {
		return nil, err
	}
	return s.Items.OpenVideo(id.String())
}

// AddKey registers key, retiring old first when it is non-empty.
func (s *Service) AddKey(key, old string) { s.Keys.Add(key, old) }

// RemoveKey deregisters key.
func (s *Service) RemoveKey(key string) { s.Keys.Remove(key) }

// Delete removes one story. Deleting a missing story succeeds. Any id that
// names a file inside the storage directories is accepted, so records that
// Recount counts can always be deleted one by one; ids escaping a directory
// fail with domain.ErrInvalidID.
func (s *Service) Delete(_ context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existed, err := s.Items.Delete(id)
	if err != nil {
		return err
	}
	if existed {
		s.Capacity.Decrement()
		s.recorder().Inc(CounterDeleted, 1)
	}
	return nil
}

// Reset keeps only the stories listed in ids, deletes every other story and
// recomputes the capacity counter. It returns the new count. Listed ids that
// are not stored are ignored.
func (s *Service) Reset(ctx context.Context, ids []string) (int, error) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := store.Reconcile(ctx, s.Items, keep)
	s.recorder().Inc(CounterResetDeleted, int64(res.Removed))
	if err != nil {
		// The sweep stopped part way; the counter must still match the disk.
		if _, cErr := s.recountLocked(context.WithoutCancel(ctx)); cErr != nil {
			return 0, errors.Join(err, cErr)
		}
		return 0, err
	}
	s.Capacity.RecomputeFrom(res.Kept)
	return res.Kept, nil
}

// Recount rescans the metadata directory and replaces the capacity counter
// with the result. It runs at startup and whenever the janitor suspects drift.
func (s *Service) Recount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recountLocked(ctx)
}

func (s *Service) recountLocked(ctx context.Context) (int, error) {
	n, err := store.Count(ctx, s.Items)
	if err != nil {
		return 0, err
	}
	s.Capacity.RecomputeFrom(n)
	return n, nil
}

// SweepOrphans removes media files older than grace that have no metadata
// record, typically left by an upload interrupted by a crash.
func (s *Service) SweepOrphans(ctx context.Context, grace time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := store.SweepOrphans(ctx, s.Items, s.Clock.Now().Add(-grace))
	s.recorder().Inc(CounterOrphansSwept, int64(n))
	return n, err
}

// Stored returns the current capacity counter.
func (s *Service) Stored() int { return s.Capacity.Current() }
