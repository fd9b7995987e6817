package services

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/remote"
	"github.com/getditto/DittoChat-sub001/internal/remote/memstore"
)

// recordingStore logs the order of writes reaching the adapter.
type recordingStore struct {
	*memstore.Store

	mu  sync.Mutex
	ops []string
}

func (r *recordingStore) record(op string) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *recordingStore) NewAttachment(ctx context.Context, data []byte, meta map[string]string) (models.AttachmentToken, error) {
	r.record("attachment:" + meta[models.AttachmentRole])
	return r.Store.NewAttachment(ctx, data, meta)
}

func (r *recordingStore) Upsert(ctx context.Context, collection string, doc remote.Document) error {
	r.record("upsert:" + collection)
	return r.Store.Upsert(ctx, collection, doc)
}

func (r *recordingStore) Update(ctx context.Context, collection, id string, fields remote.Document) error {
	for k := range fields {
		r.record("update:" + k)
	}
	return r.Store.Update(ctx, collection, id, fields)
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fetchResult struct {
	res AttachmentResult
	err error
}

func fetch(t *testing.T, c *Chat, token *models.AttachmentToken) (fetchResult, []float64) {
	t.Helper()
	var (
		mu       sync.Mutex
		progress []float64
	)
	done := make(chan fetchResult, 1)
	c.FetchAttachment(token, func(f float64) {
		mu.Lock()
		progress = append(progress, f)
		mu.Unlock()
	}, func(res AttachmentResult, err error) {
		done <- fetchResult{res, err}
	})
	select {
	case r := <-done:
		mu.Lock()
		defer mu.Unlock()
		return r, append([]float64(nil), progress...)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not complete")
	}
	return fetchResult{}, nil
}

func TestCreateImageMessageOrdering(t *testing.T) {
	rec := &recordingStore{Store: memstore.New()}
	c, _ := newTestChat(t, func(o *Options) { o.Store = rec })
	room := subscribedRoom(t, c, "Photos")

	rec.mu.Lock()
	rec.ops = nil
	rec.mu.Unlock()

	msg, err := c.CreateImageMessage(context.Background(), room, pngImage(t, 600, 300), "cat.png", "look")
	require.NoError(t, err)
	require.NotNil(t, msg.ThumbnailImageToken)
	require.NotNil(t, msg.LargeImageToken)

	assert.Equal(t, []string{
		"attachment:thumbnail",
		"upsert:messages",
		"attachment:large",
		"update:largeImageToken",
	}, rec.ops)

	meta := msg.ThumbnailImageToken.Metadata
	assert.Equal(t, "cat.png", meta[models.AttachmentFilename])
	assert.Equal(t, "u1", meta[models.AttachmentUserID])
	assert.Equal(t, "Ada", meta[models.AttachmentUsername])
	assert.Equal(t, models.RoleThumbnail, meta[models.AttachmentRole])
	assert.NotEmpty(t, meta[models.AttachmentFilesize])
	assert.NotEmpty(t, meta[models.AttachmentTimestamp])
	assert.NotEmpty(t, meta[models.AttachmentDigest])

	got, progress := fetch(t, c, msg.ThumbnailImageToken)
	require.NoError(t, got.err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(got.res.Data))
	require.NoError(t, err)
	assert.Equal(t, 282, cfg.Width)
	assert.Equal(t, 141, cfg.Height)
	require.NotEmpty(t, progress)
	assert.Equal(t, 1.0, progress[len(progress)-1])
	for _, f := range progress {
		assert.True(t, f >= 0 && f <= 1)
	}
}

func TestCreateImageMessageThumbnailVisibleFirst(t *testing.T) {
	c, _ := newTestChat(t)
	room := subscribedRoom(t, c, "Photos")

	msg, err := c.CreateImageMessage(context.Background(), room, pngImage(t, 40, 80), "tall.png", "")
	require.NoError(t, err)

	// The room feed only merges the first version it sees.
	local, ok := c.State().Message(room.ID, msg.ID)
	require.True(t, ok)
	assert.NotNil(t, local.Message.ThumbnailImageToken)
	assert.Nil(t, local.Message.LargeImageToken)
}

func TestCreateFileMessage(t *testing.T) {
	c, _ := newTestChat(t)
	room := subscribedRoom(t, c, "Docs")
	data := bytes.Repeat([]byte("x"), 200*1024)

	msg, err := c.CreateFileMessage(context.Background(), room, data, "notes.txt", "")
	require.NoError(t, err)
	require.NotNil(t, msg.FileAttachmentToken)
	assert.Equal(t, "notes.txt", msg.Text)
	assert.Equal(t, models.RoleFile, msg.FileAttachmentToken.Metadata[models.AttachmentRole])

	got, progress := fetch(t, c, msg.FileAttachmentToken)
	require.NoError(t, got.err)
	assert.Equal(t, data, got.res.Data)
	assert.Greater(t, len(progress), 2)
}

func TestAttachmentCreationErrors(t *testing.T) {
	ctx := context.Background()

	bare := New(Options{})
	_, err := bare.CreateFileMessage(ctx, models.Room{ID: "r1"}, []byte("x"), "a", "")
	assert.ErrorIs(t, err, ErrNotInitialized)

	noUser := New(Options{Store: memstore.New(), UserID: "ghost"})
	_, err = noUser.CreateFileMessage(ctx, models.Room{ID: "r1"}, []byte("x"), "a", "")
	assert.ErrorIs(t, err, ErrMissingUser)

	c, _ := newTestChat(t)
	_, err = c.CreateImageMessage(ctx, models.Room{ID: "nowhere"}, pngImage(t, 4, 4), "a.png", "")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	room := subscribedRoom(t, c, "General")
	_, err = c.CreateImageMessage(ctx, room, []byte("not an image"), "a.png", "")
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestFetchAttachmentErrors(t *testing.T) {
	c, store := newTestChat(t)

	got, _ := fetch(t, c, nil)
	assert.ErrorIs(t, got.err, ErrMissingToken)

	token, err := store.NewAttachment(context.Background(), []byte("payload"), map[string]string{})
	require.NoError(t, err)
	store.DeleteAttachment(token.ID)
	got, _ = fetch(t, c, &token)
	assert.ErrorIs(t, got.err, ErrAttachmentDeleted)

	token, err = store.NewAttachment(context.Background(), []byte("payload"), map[string]string{})
	require.NoError(t, err)
	token.Metadata = map[string]string{models.AttachmentDigest: "bogus"}
	got, _ = fetch(t, c, &token)
	assert.ErrorIs(t, got.err, ErrDigestMismatch)

	bare := New(Options{})
	got, _ = fetch(t, bare, &token)
	assert.ErrorIs(t, got.err, ErrNotInitialized)
}

func TestLogoutCancelsInFlightFetch(t *testing.T) {
	c, store := newTestChat(t)
	token, err := store.NewAttachment(context.Background(), bytes.Repeat([]byte("y"), 4<<20), map[string]string{})
	require.NoError(t, err)

	release := make(chan struct{})
	var once sync.Once
	h := c.FetchAttachment(&token, func(float64) {
		once.Do(func() { <-release })
	}, func(AttachmentResult, error) {})
	require.NotNil(t, h)
	c.Logout()
	close(release)
	assert.True(t, h.IsCancelled())
}

func TestThumbnailSize(t *testing.T) {
	w, h := thumbnailSize(600, 300)
	assert.Equal(t, 282, w)
	assert.Equal(t, 141, h)

	w, h = thumbnailSize(100, 1000)
	assert.Equal(t, 28, w)
	assert.Equal(t, 282, h)

	w, h = thumbnailSize(50, 20)
	assert.Equal(t, 50, w)
	assert.Equal(t, 20, h)
}
