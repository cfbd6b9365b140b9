package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/storyhost/internal/app"
	"github.com/haukened/storyhost/internal/capacity"
	"github.com/haukened/storyhost/internal/domain"
	"github.com/haukened/storyhost/internal/httpx"
	"github.com/haukened/storyhost/internal/keys"
	"github.com/haukened/storyhost/internal/store/filesystem"
)

const secret = "admin-secret"

type clock struct{}

func (clock) Now() time.Time { return time.Now().UTC() }

func newStack(t *testing.T) (*app.Service, *httptest.Server) {
	t.Helper()
	items, err := filesystem.New(t.TempDir())
	require.NoError(t, err)
	svc := &app.Service{
		Items:      items,
		Keys:       keys.New(),
		Capacity:   capacity.New(0),
		Clock:      clock{},
		MaxStories: 10,
	}
	srv := httptest.NewServer(httpx.New(svc, secret, 1024, nil).Router())
	t.Cleanup(srv.Close)
	return svc, srv
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("", secret)
	assert.ErrorIs(t, err, ErrServerURLRequired)
	_, err = NewClient("http://127.0.0.1:35540", "")
	assert.ErrorIs(t, err, ErrAuthKeyRequired)
	_, err = NewClient("127.0.0.1:35540", secret)
	assert.Error(t, err)

	c, err := NewClient("http://127.0.0.1:35540/", secret, WithHTTPClient(http.DefaultClient))
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:35540/internal", c.endpoint)
	assert.Same(t, http.DefaultClient, c.httpClient)
}

func TestClientAgainstServer(t *testing.T) {
	svc, srv := newStack(t)
	c, err := NewClient(srv.URL, secret)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.AddKey(ctx, "k1", ""))
	require.NoError(t, svc.AdmitUpload("k1"))

	require.NoError(t, c.AddKey(ctx, "k2", "k1"))
	assert.ErrorIs(t, svc.AdmitUpload("k1"), domain.ErrUnauthorized)
	require.NoError(t, svc.AdmitUpload("k2"))

	require.NoError(t, c.RemoveKey(ctx, "k2"))
	assert.ErrorIs(t, svc.AdmitUpload("k2"), domain.ErrUnauthorized)

	up := app.Upload{Thumbnail: []byte("t"), Video: []byte("v"), Duration: 2}
	require.NoError(t, c.AddKey(ctx, "k3", ""))
	id1, err := svc.Upload(ctx, "k3", up)
	require.NoError(t, err)
	id2, err := svc.Upload(ctx, "k3", up)
	require.NoError(t, err)
	id3, err := svc.Upload(ctx, "k3", up)
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, id1.String()))
	assert.Equal(t, 2, svc.Stored())

	require.NoError(t, c.Reset(ctx, []string{id2.String()}))
	assert.Equal(t, 1, svc.Stored())
	_, err = svc.Thumbnail(ctx, id3.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, c.Reset(ctx, nil))
	assert.Equal(t, 0, svc.Stored())
}

func TestClientErrors(t *testing.T) {
	_, srv := newStack(t)
	ctx := context.Background()

	wrong, err := NewClient(srv.URL, "wrong")
	require.NoError(t, err)
	assert.ErrorIs(t, wrong.AddKey(ctx, "k1", ""), ErrUnauthorized)

	c, err := NewClient(srv.URL, secret)
	require.NoError(t, err)
	err = c.Delete(ctx, "../not-a-uuid")
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "invalid id")
	assert.ErrorIs(t, c.AddKey(ctx, "", ""), ErrRejected)
	assert.NoError(t, c.Delete(ctx, uuid.NewString()))
}

func TestClientServerError(t *testing.T) {
	var got httpx.Command
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal", r.URL.Path)
		assert.Equal(t, secret, r.Header.Get(httpx.AuthKeyHeader))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"storage write"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, secret)
	require.NoError(t, err)
	err = c.Reset(context.Background(), nil)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Contains(t, err.Error(), "storage write")
	assert.Equal(t, httpx.CommandReset, got.Type)
	assert.JSONEq(t, `[]`, string(got.Data))
}

func TestClientTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, secret)
	require.NoError(t, err)
	assert.Error(t, c.RemoveKey(context.Background(), "k"))
}
