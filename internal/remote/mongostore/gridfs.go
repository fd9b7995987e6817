package mongostore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/remote"
)

const (
	bucketName    = "attachments"
	readChunkSize = 64 * 1024
)

// GridFS stores attachments in a GridFS bucket next to the documents.
type GridFS struct {
	bucket *gridfs.Bucket
	log    zerolog.Logger
}

// NewGridFS opens the attachments bucket on db.
func NewGridFS(db *mongo.Database, log zerolog.Logger) (*GridFS, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, fmt.Errorf("open gridfs bucket: %w", err)
	}
	return &GridFS{bucket: bucket, log: log}, nil
}

// NewAttachment implements remote.AttachmentStore.
func (g *GridFS) NewAttachment(ctx context.Context, data []byte, metadata map[string]string) (models.AttachmentToken, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := g.bucket.SetWriteDeadline(deadline); err != nil {
			return models.AttachmentToken{}, err
		}
	}
	meta := bson.M{}
	for k, v := range metadata {
		meta[k] = v
	}
	filename := metadata[models.AttachmentFilename]
	if filename == "" {
		filename = "attachment"
	}

	id, err := g.bucket.UploadFromStream(filename, bytes.NewReader(data),
		options.GridFSUpload().SetMetadata(meta))
	if err != nil {
		return models.AttachmentToken{}, fmt.Errorf("upload attachment: %w", err)
	}
	return models.AttachmentToken{ID: id.Hex(), Len: int64(len(data)), Metadata: metadata}, nil
}

// FetchAttachment implements remote.AttachmentStore. The download runs on its
// own goroutine and stops at the next chunk boundary once cancelled.
func (g *GridFS) FetchAttachment(token models.AttachmentToken, fn func(remote.FetchEvent)) (remote.Handle, error) {
	oid, err := primitive.ObjectIDFromHex(token.ID)
	if err != nil {
		return nil, fmt.Errorf("attachment id %q: %w", token.ID, err)
	}
	h := remote.NewHandle(nil)

	go func() {
		ds, err := g.bucket.OpenDownloadStream(oid)
		if errors.Is(err, gridfs.ErrFileNotFound) {
			fn(remote.FetchEvent{Kind: remote.FetchDeleted})
			return
		}
		if err != nil {
			fn(remote.FetchEvent{Kind: remote.FetchFailed, Err: err})
			return
		}
		defer ds.Close()

		total := ds.GetFile().Length
		buf := bytes.NewBuffer(make([]byte, 0, total))
		chunk := make([]byte, readChunkSize)
		for {
			if h.IsCancelled() {
				return
			}
			n, err := ds.Read(chunk)
			if n > 0 {
				buf.Write(chunk[:n])
				fn(remote.FetchEvent{Kind: remote.FetchProgress, Downloaded: int64(buf.Len()), Total: total})
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				fn(remote.FetchEvent{Kind: remote.FetchFailed, Err: err})
				return
			}
		}
		if h.IsCancelled() {
			return
		}
		fn(remote.FetchEvent{Kind: remote.FetchCompleted, Data: buf.Bytes(), Metadata: token.Metadata, Total: total})
	}()
	return h, nil
}
