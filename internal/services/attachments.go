package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/remote"
	"github.com/getditto/DittoChat-sub001/pkg/utils"
)

// AttachmentResult is a completed download.
type AttachmentResult struct {
	Data     []byte
	Metadata map[string]string
}

// CreateImageMessage posts an image. The thumbnail is uploaded and the
// message inserted with it before the full-resolution upload starts; the
// message is then patched with the large image token. If the second phase
// fails the message is returned together with the error.
func (c *Chat) CreateImageMessage(ctx context.Context, room models.Room, image []byte, filename, text string) (*models.Message, error) {
	const op = "create_image_message"
	user, fresh, err := c.attachmentContext(ctx, room)
	if err != nil {
		return nil, err
	}
	thumb, err := MakeThumbnail(image)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformedInput, err)
	}
	c.track(op, Requested)

	thumbToken, err := c.upload(ctx, thumb, c.attachmentMetadata(user, filename, models.RoleThumbnail, thumb))
	if err != nil {
		c.track(op, RolledBack)
		return nil, err
	}
	msg := models.Message{
		ID:                  utils.NewID(),
		RoomID:              fresh.ID,
		Text:                text,
		UserID:              user.ID,
		CreatedOn:           c.timestamp(),
		ThumbnailImageToken: &thumbToken,
		Reactions:           []models.Reaction{},
	}
	if err := c.insertMessage(ctx, fresh.MessagesID, msg); err != nil {
		c.track(op, RolledBack)
		return nil, err
	}

	largeToken, err := c.upload(ctx, image, c.attachmentMetadata(user, filename, models.RoleLarge, image))
	if err != nil {
		c.log.Error().Err(err).Str("message_id", msg.ID).Msg("large_image_upload_failed")
		return &msg, err
	}
	if err := c.store.Update(ctx, fresh.MessagesID, msg.ID, remote.Document{"largeImageToken": largeToken}); err != nil {
		c.log.Error().Err(err).Str("message_id", msg.ID).Msg("large_image_patch_failed")
		return &msg, fmt.Errorf("%s: patch %s: %w", op, msg.ID, err)
	}
	msg.LargeImageToken = &largeToken
	c.track(op, Confirmed)
	return &msg, nil
}

// CreateFileMessage uploads data and inserts a message referencing it.
func (c *Chat) CreateFileMessage(ctx context.Context, room models.Room, data []byte, filename, text string) (*models.Message, error) {
	const op = "create_file_message"
	user, fresh, err := c.attachmentContext(ctx, room)
	if err != nil {
		return nil, err
	}
	c.track(op, Requested)

	token, err := c.upload(ctx, data, c.attachmentMetadata(user, filename, models.RoleFile, data))
	if err != nil {
		c.track(op, RolledBack)
		return nil, err
	}
	if text == "" {
		text = filename
	}
	msg := models.Message{
		ID:                  utils.NewID(),
		RoomID:              fresh.ID,
		Text:                text,
		UserID:              user.ID,
		CreatedOn:           c.timestamp(),
		FileAttachmentToken: &token,
		Reactions:           []models.Reaction{},
	}
	if err := c.insertMessage(ctx, fresh.MessagesID, msg); err != nil {
		c.track(op, RolledBack)
		return nil, err
	}
	c.track(op, Confirmed)
	return &msg, nil
}

// attachmentContext resolves the uploader and the fresh room. Unlike the
// plain mutations it reports every missing piece as a typed error.
func (c *Chat) attachmentContext(ctx context.Context, room models.Room) (models.ChatUser, models.Room, error) {
	if c.store == nil {
		return models.ChatUser{}, models.Room{}, ErrNotInitialized
	}
	user, ok := c.state.CurrentUser()
	if !ok {
		return models.ChatUser{}, models.Room{}, ErrMissingUser
	}
	fresh, err := c.loadRoom(ctx, room.ID, room.CollectionID)
	if err != nil {
		return models.ChatUser{}, models.Room{}, err
	}
	return user, fresh, nil
}

func (c *Chat) attachmentMetadata(user models.ChatUser, filename, role string, data []byte) map[string]string {
	return map[string]string{
		models.AttachmentFilename:  filename,
		models.AttachmentUserID:    user.ID,
		models.AttachmentUsername:  user.Name,
		models.AttachmentRole:      role,
		models.AttachmentFilesize:  strconv.Itoa(len(data)),
		models.AttachmentTimestamp: c.timestamp(),
		models.AttachmentDigest:    utils.Digest(data),
	}
}

func (c *Chat) upload(ctx context.Context, data []byte, meta map[string]string) (models.AttachmentToken, error) {
	token, err := c.store.NewAttachment(ctx, data, meta)
	if err != nil {
		c.log.Error().Err(err).Str("role", meta[models.AttachmentRole]).Msg("attachment_upload_failed")
		return models.AttachmentToken{}, fmt.Errorf("upload %s: %w", meta[models.AttachmentRole], err)
	}
	c.metrics.AttachmentBytes("upload", int64(len(data)))
	c.log.Info().
		Str("attachment_id", token.ID).
		Str("role", meta[models.AttachmentRole]).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Msg("attachment_uploaded")
	return token, nil
}

// FetchAttachment downloads the attachment behind token without blocking.
// onProgress receives the downloaded fraction in [0,1]; onComplete is called
// exactly once, unless the download is cancelled first, with the result or
// one of ErrNotInitialized, ErrMissingToken, ErrAttachmentDeleted,
// ErrDigestMismatch or an I/O error. The returned handle is nil when the
// download could not be started.
func (c *Chat) FetchAttachment(token *models.AttachmentToken, onProgress func(float64), onComplete func(AttachmentResult, error)) remote.Handle {
	if c.store == nil {
		onComplete(AttachmentResult{}, ErrNotInitialized)
		return nil
	}
	if token == nil || token.ID == "" {
		onComplete(AttachmentResult{}, ErrMissingToken)
		return nil
	}

	var (
		mu      sync.Mutex
		fetchID uint64
		tracked bool
		done    bool
	)
	finish := func(res AttachmentResult, err error) {
		mu.Lock()
		if done {
			mu.Unlock()
			return
		}
		done = true
		id, ok := fetchID, tracked
		mu.Unlock()
		if ok {
			c.state.RemoveFetch(id)
		}
		onComplete(res, err)
	}

	h, err := c.store.FetchAttachment(*token, func(ev remote.FetchEvent) {
		switch ev.Kind {
		case remote.FetchProgress:
			if onProgress != nil {
				onProgress(fraction(ev.Downloaded, ev.Total))
			}
		case remote.FetchCompleted:
			meta := ev.Metadata
			if meta == nil {
				meta = token.Metadata
			}
			expected := token.Metadata[models.AttachmentDigest]
			if expected == "" {
				expected = meta[models.AttachmentDigest]
			}
			if !utils.VerifyDigest(ev.Data, expected) {
				finish(AttachmentResult{}, ErrDigestMismatch)
				return
			}
			c.metrics.AttachmentBytes("download", int64(len(ev.Data)))
			if onProgress != nil {
				onProgress(1)
			}
			finish(AttachmentResult{Data: ev.Data, Metadata: meta}, nil)
		case remote.FetchDeleted:
			finish(AttachmentResult{}, ErrAttachmentDeleted)
		case remote.FetchFailed:
			finish(AttachmentResult{}, fmt.Errorf("fetch attachment %s: %w", token.ID, ev.Err))
		}
	})
	if err != nil {
		finish(AttachmentResult{}, fmt.Errorf("fetch attachment %s: %w", token.ID, err))
		return nil
	}

	mu.Lock()
	if !done {
		fetchID = c.state.AddFetch(h)
		tracked = true
	}
	mu.Unlock()
	return h
}

func fraction(downloaded, total int64) float64 {
	if total <= 0 {
		return 0
	}
	f := float64(downloaded) / float64(total)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
