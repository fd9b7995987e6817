package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/remote"
)

const readChunkSize = 64 * 1024

// BlobStore keeps attachment bytes in the attachments table.
type BlobStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewBlobStore creates a BlobStore on db.
func NewBlobStore(db *sql.DB, log zerolog.Logger) *BlobStore {
	return &BlobStore{db: db, log: log}
}

// NewAttachment implements remote.AttachmentStore.
func (b *BlobStore) NewAttachment(ctx context.Context, data []byte, metadata map[string]string) (models.AttachmentToken, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return models.AttachmentToken{}, fmt.Errorf("encode attachment metadata: %w", err)
	}
	id := uuid.NewString()
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO attachments (id, data, metadata) VALUES ($1, $2, $3::jsonb)`,
		id, data, string(meta))
	if err != nil {
		return models.AttachmentToken{}, fmt.Errorf("upload attachment: %w", err)
	}
	return models.AttachmentToken{ID: id, Len: int64(len(data)), Metadata: metadata}, nil
}

// FetchAttachment implements remote.AttachmentStore. The row is read in one
// query; progress is then reported in fixed-size steps.
func (b *BlobStore) FetchAttachment(token models.AttachmentToken, fn func(remote.FetchEvent)) (remote.Handle, error) {
	if _, err := uuid.Parse(token.ID); err != nil {
		return nil, fmt.Errorf("attachment id %q: %w", token.ID, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := remote.NewHandle(cancel)

	go func() {
		defer cancel()
		var (
			data []byte
			raw  []byte
		)
		err := b.db.QueryRowContext(ctx,
			`SELECT data, metadata FROM attachments WHERE id = $1`, token.ID).Scan(&data, &raw)
		if h.IsCancelled() {
			return
		}
		if errors.Is(err, sql.ErrNoRows) {
			fn(remote.FetchEvent{Kind: remote.FetchDeleted})
			return
		}
		if err != nil {
			fn(remote.FetchEvent{Kind: remote.FetchFailed, Err: err})
			return
		}
		meta := map[string]string{}
		if err := json.Unmarshal(raw, &meta); err != nil {
			b.log.Warn().Err(err).Str("attachment_id", token.ID).Msg("attachment_metadata_invalid")
		}

		total := int64(len(data))
		for sent := int64(0); sent < total; {
			if h.IsCancelled() {
				return
			}
			sent += readChunkSize
			if sent > total {
				sent = total
			}
			fn(remote.FetchEvent{Kind: remote.FetchProgress, Downloaded: sent, Total: total})
		}
		fn(remote.FetchEvent{Kind: remote.FetchCompleted, Data: data, Metadata: meta, Total: total})
	}()
	return h, nil
}
