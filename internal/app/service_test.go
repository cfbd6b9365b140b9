package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/storyhost/internal/capacity"
	"github.com/haukened/storyhost/internal/domain"
	"github.com/haukened/storyhost/internal/keys"
	"github.com/haukened/storyhost/internal/store"
	"github.com/haukened/storyhost/internal/store/filesystem"
)

// fixedClock implements Clock returning a fixed instant.
type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

// countingRecorder implements Recorder for assertions.
type countingRecorder struct {
	mu       sync.Mutex
	counters map[string]int64
}

func (c *countingRecorder) Inc(name string, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counters == nil {
		c.counters = map[string]int64{}
	}
	c.counters[name] += delta
}
func (c *countingRecorder) Observe(string, int64) {}

// failingStore wraps a real item store and fails Create on demand.
type failingStore struct {
	*filesystem.ItemStore
	createErr error
}

func (f *failingStore) Create(ctx context.Context, thumb, video []byte, meta domain.StoryMeta) (domain.StoryID, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.ItemStore.Create(ctx, thumb, video, meta)
}

var now = time.UnixMilli(1700000000000).UTC()

func newTestService(t *testing.T, maxStories int) (*Service, string) {
	t.Helper()
	root := t.TempDir()
	items, err := filesystem.New(root)
	require.NoError(t, err)
	return &Service{
		Items:          items,
		Keys:           keys.New(),
		Capacity:       capacity.New(0),
		Clock:          fixedClock{now: now},
		Metrics:        &countingRecorder{},
		MaxStories:     maxStories,
		MaxUploadBytes: 1024,
	}, root
}

func validUpload(d float64) Upload {
	return Upload{Thumbnail: []byte("jpeg"), Video: []byte("webm"), Duration: d}
}

func countDir(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestUploadIncrementsCounter(t *testing.T) {
	svc, _ := newTestService(t, 10)
	svc.AddKey("k1", "")
	seen := map[domain.StoryID]bool{}
	for i := 1; i <= 3; i++ {
		id, err := svc.Upload(context.Background(), "k1", validUpload(1))
		require.NoError(t, err)
		assert.False(t, seen[id], "ids must be unique")
		seen[id] = true
		assert.Equal(t, i, svc.Stored())
	}
	rec := svc.Metrics.(*countingRecorder)
	assert.EqualValues(t, 3, rec.counters[CounterUploaded])
}

func TestUploadUnauthorized(t *testing.T) {
	svc, root := newTestService(t, 10)
	_, err := svc.Upload(context.Background(), "nope", validUpload(1))
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.ErrorIs(t, svc.AdmitUpload("nope"), domain.ErrUnauthorized)
	assert.Equal(t, 0, svc.Stored())
	assert.Equal(t, 0, countDir(t, filepath.Join(root, filesystem.MetaDir)))
}

func TestUploadAtCeiling(t *testing.T) {
	svc, root := newTestService(t, 1)
	svc.AddKey("k1", "")
	_, err := svc.Upload(context.Background(), "k1", validUpload(1))
	require.NoError(t, err)

	require.ErrorIs(t, svc.AdmitUpload("k1"), domain.ErrCapacityExceeded)
	_, err = svc.Upload(context.Background(), "k1", validUpload(1))
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)
	assert.Equal(t, 1, svc.Stored())
	for _, d := range []string{filesystem.MetaDir, filesystem.ThumbnailDir, filesystem.VideoDir} {
		assert.Equal(t, 1, countDir(t, filepath.Join(root, d)), d)
	}
}

func TestUploadPayloadRejected(t *testing.T) {
	svc, _ := newTestService(t, 10)
	svc.AddKey("k1", "")
	cases := map[string]Upload{
		"missing video":     {Thumbnail: []byte("t")},
		"missing thumbnail": {Video: []byte("v")},
		"oversized video":   {Thumbnail: []byte("t"), Video: make([]byte, 1025)},
	}
	for name, up := range cases {
		_, err := svc.Upload(context.Background(), "k1", up)
		assert.ErrorIs(t, err, domain.ErrPayloadRejected, name)
	}
	assert.Equal(t, 0, svc.Stored(), "rejected uploads must release their slot")
}

func TestUploadStorageFailureReleasesSlot(t *testing.T) {
	svc, _ := newTestService(t, 10)
	svc.Items = &failingStore{ItemStore: svc.Items.(*filesystem.ItemStore), createErr: domain.ErrStorageWrite}
	svc.AddKey("k1", "")
	_, err := svc.Upload(context.Background(), "k1", validUpload(1))
	require.ErrorIs(t, err, domain.ErrStorageWrite)
	assert.Equal(t, 0, svc.Stored())
}

func TestUploadConcurrentNeverOvershoots(t *testing.T) {
	const ceiling = 5
	svc, root := newTestService(t, ceiling)
	svc.AddKey("k1", "")
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, full int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Upload(context.Background(), "k1", validUpload(1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrCapacityExceeded):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, ceiling, ok)
	assert.Equal(t, 15, full)
	assert.Equal(t, ceiling, svc.Stored())
	assert.Equal(t, ceiling, countDir(t, filepath.Join(root, filesystem.MetaDir)))
}

func TestFetchValidation(t *testing.T) {
	svc, _ := newTestService(t, 10)
	svc.AddKey("k1", "")
	ctx := context.Background()

	_, err := svc.Thumbnail(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
	_, err = svc.Thumbnail(ctx, "0f8fad5b-d9cb-469f-a165-70867728950e")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Video(ctx, "", "0f8fad5b-d9cb-469f-a165-70867728950e")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = svc.Video(ctx, "k1", "../meta/x")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
	_, err = svc.VideoMeta(ctx, "k2", "0f8fad5b-d9cb-469f-a165-70867728950e")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = svc.VideoMeta(ctx, "k1", "0f8fad5b-d9cb-469f-a165-70867728950e")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteIdempotentAndCounted(t *testing.T) {
	svc, _ := newTestService(t, 10)
	svc.AddKey("k1", "")
	ctx := context.Background()
	id, err := svc.Upload(ctx, "k1", validUpload(2))
	require.NoError(t, err)
	require.Equal(t, 1, svc.Stored())

	require.NoError(t, svc.Delete(ctx, id.String()))
	assert.Equal(t, 0, svc.Stored())
	_, err = svc.Items.ReadMeta(id.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, svc.Delete(ctx, id.String()))
	assert.Equal(t, 0, svc.Stored())
	assert.ErrorIs(t, svc.Delete(ctx, "../x"), domain.ErrInvalidID)
}

func TestKeyRotation(t *testing.T) {
	svc, _ := newTestService(t, 10)
	svc.AddKey("old", "")
	svc.AddKey("new", "old")
	assert.ErrorIs(t, svc.AdmitUpload("old"), domain.ErrUnauthorized)
	assert.NoError(t, svc.AdmitUpload("new"))
	svc.RemoveKey("new")
	assert.ErrorIs(t, svc.AdmitUpload("new"), domain.ErrUnauthorized)
}

func TestResetKeepAllIsNoop(t *testing.T) {
	svc, root := newTestService(t, 10)
	svc.AddKey("k1", "")
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := svc.Upload(ctx, "k1", validUpload(1))
		require.NoError(t, err)
		ids = append(ids, id.String())
	}
	n, err := svc.Reset(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, svc.Stored())
	assert.Equal(t, 3, countDir(t, filepath.Join(root, filesystem.VideoDir)))
}

func TestResetEmptyDeletesEverything(t *testing.T) {
	svc, root := newTestService(t, 10)
	svc.AddKey("k1", "")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Upload(ctx, "k1", validUpload(1))
		require.NoError(t, err)
	}
	n, err := svc.Reset(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, svc.Stored())
	for _, d := range []string{filesystem.MetaDir, filesystem.ThumbnailDir, filesystem.VideoDir} {
		assert.Equal(t, 0, countDir(t, filepath.Join(root, d)), d)
	}
	rec := svc.Metrics.(*countingRecorder)
	assert.EqualValues(t, 3, rec.counters[CounterResetDeleted])
}

func TestResetIgnoresUnknownIDs(t *testing.T) {
	svc, _ := newTestService(t, 10)
	svc.AddKey("k1", "")
	ctx := context.Background()
	id, err := svc.Upload(ctx, "k1", validUpload(1))
	require.NoError(t, err)
	n, err := svc.Reset(ctx, []string{id.String(), "0f8fad5b-d9cb-469f-a165-70867728950e", "../junk"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// brokenItems fails metadata removal to exercise the recount fallback.
type brokenItems struct {
	*filesystem.ItemStore
}

func (b brokenItems) RemoveMeta(string) (bool, error) { return false, errors.New("disk gone") }

func TestResetErrorRecountsFromDisk(t *testing.T) {
	svc, _ := newTestService(t, 10)
	svc.AddKey("k1", "")
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := svc.Upload(ctx, "k1", validUpload(1))
		require.NoError(t, err)
	}
	svc.Capacity.RecomputeFrom(7) // drifted
	svc.Items = brokenItems{svc.Items.(*filesystem.ItemStore)}
	_, err := svc.Reset(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, 2, svc.Stored(), "counter must match the metadata still on disk")
}

func TestRecount(t *testing.T) {
	svc, root := newTestService(t, 10)
	svc.AddKey("k1", "")
	ctx := context.Background()
	id, err := svc.Upload(ctx, "k1", validUpload(1))
	require.NoError(t, err)
	_, err = svc.Upload(ctx, "k1", validUpload(1))
	require.NoError(t, err)

	// metadata removed behind the service's back
	require.NoError(t, os.Remove(filepath.Join(root, filesystem.MetaDir, id.String()+".json")))
	n, err := svc.Recount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, svc.Stored())
}

func TestSweepOrphans(t *testing.T) {
	svc, root := newTestService(t, 10)
	svc.Clock = fixedClock{now: time.Now()}
	p := filepath.Join(root, filesystem.ThumbnailDir, "lost.jpg")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(p, old, old))

	n, err := svc.SweepOrphans(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rec := svc.Metrics.(*countingRecorder)
	assert.EqualValues(t, 1, rec.counters[CounterOrphansSwept])
}

func TestEndToEndScenario(t *testing.T) {
	svc, _ := newTestService(t, 2)
	svc.Metrics = nil
	ctx := context.Background()
	svc.AddKey("k1", "")

	first, err := svc.Upload(ctx, "k1", validUpload(domain.ParseDuration("abc")))
	require.NoError(t, err)
	second, err := svc.Upload(ctx, "k1", validUpload(domain.ParseDuration("4.5")))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = svc.Upload(ctx, "k1", validUpload(1))
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)

	thumb, err := svc.Thumbnail(ctx, first.String())
	require.NoError(t, err)
	b, _ := io.ReadAll(thumb)
	_ = thumb.Close()
	assert.Equal(t, "jpeg", string(b))

	_, err = svc.Video(ctx, "", first.String())
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	video, err := svc.Video(ctx, "k1", first.String())
	require.NoError(t, err)
	_ = video.Close()
	meta, err := svc.VideoMeta(ctx, "k1", first.String())
	require.NoError(t, err)
	assert.Equal(t, 0.0, meta.Duration)
	assert.True(t, meta.CreatedAt().Equal(now))

	meta, err = svc.VideoMeta(ctx, "k1", second.String())
	require.NoError(t, err)
	assert.Equal(t, 4.5, meta.Duration)
}

var _ store.Items = brokenItems{}

func TestDeleteNonCanonicalRecord(t *testing.T) {
	svc, root := newTestService(t, 10)
	ctx := context.Background()
	for dir, name := range map[string]string{
		filesystem.MetaDir:      "legacy-name.json",
		filesystem.ThumbnailDir: "legacy-name.jpg",
		filesystem.VideoDir:     "legacy-name.webm",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(root, dir, name), []byte("{}"), 0o600))
	}
	n, err := svc.Recount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, svc.Delete(ctx, "legacy-name"))
	assert.Equal(t, 0, svc.Stored())
	for _, d := range []string{filesystem.MetaDir, filesystem.ThumbnailDir, filesystem.VideoDir} {
		assert.Zero(t, countDir(t, filepath.Join(root, d)))
	}
	assert.ErrorIs(t, svc.Delete(ctx, "../legacy-name"), domain.ErrInvalidID)
}

func TestAdmitAndRejectUploadCounted(t *testing.T) {
	svc, _ := newTestService(t, 1)
	svc.AddKey("k1", "")
	rec := svc.Metrics.(*countingRecorder)

	assert.ErrorIs(t, svc.AdmitUpload("nope"), domain.ErrUnauthorized)
	require.NoError(t, svc.AdmitUpload("k1"))
	svc.RejectUpload(errors.New("client went away"))
	assert.Zero(t, rec.counters[CounterUploadRejected])

	svc.RejectUpload(fmt.Errorf("%w: missing part", domain.ErrPayloadRejected))
	assert.EqualValues(t, 1, rec.counters[CounterUploadRejected])

	_, err := svc.Upload(context.Background(), "k1", validUpload(1))
	require.NoError(t, err)
	assert.ErrorIs(t, svc.AdmitUpload("k1"), domain.ErrCapacityExceeded)
	assert.EqualValues(t, 2, rec.counters[CounterUploadRejected])
}
