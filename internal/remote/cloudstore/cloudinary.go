// Package cloudstore keeps attachment blobs on Cloudinary. Uploads go through
// the Cloudinary SDK; downloads stream the secure delivery URL.
package cloudstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"

	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/remote"
)

const readChunkSize = 64 * 1024

// ErrNoLocation is reported for tokens that carry no delivery URL.
var ErrNoLocation = errors.New("cloudstore: attachment token has no location")

// Store implements remote.AttachmentStore.
type Store struct {
	cld    *cloudinary.Cloudinary
	folder string
	client *http.Client
	log    zerolog.Logger
}

// New initializes the Cloudinary client.
func New(cloudName, apiKey, apiSecret, folder string, log zerolog.Logger) (*Store, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudinary: %w", err)
	}
	if folder == "" {
		folder = "chat-attachments"
	}

	return &Store{
		cld:    cld,
		folder: folder,
		client: &http.Client{Timeout: 5 * time.Minute},
		log:    log.With().Str("component", "cloudstore").Logger(),
	}, nil
}

// NewAttachment uploads data as a raw resource so the stored bytes are
// exactly the uploaded ones.
func (s *Store) NewAttachment(ctx context.Context, data []byte, metadata map[string]string) (models.AttachmentToken, error) {
	result, err := s.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		Folder:       s.folder,
		ResourceType: "raw",
	})
	if err != nil {
		return models.AttachmentToken{}, fmt.Errorf("failed to upload to Cloudinary: %w", err)
	}
	if result.Error.Message != "" {
		return models.AttachmentToken{}, fmt.Errorf("failed to upload to Cloudinary: %s", result.Error.Message)
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[models.AttachmentLocation] = result.SecureURL

	return models.AttachmentToken{ID: result.PublicID, Len: int64(len(data)), Metadata: meta}, nil
}

// FetchAttachment downloads the attachment on a separate goroutine. A 404 or
// 410 from the CDN is reported as a remote deletion.
func (s *Store) FetchAttachment(token models.AttachmentToken, fn func(remote.FetchEvent)) (remote.Handle, error) {
	location := token.Metadata[models.AttachmentLocation]
	if location == "" {
		return nil, ErrNoLocation
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := remote.NewHandle(cancel)

	go func() {
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			fn(remote.FetchEvent{Kind: remote.FetchFailed, Err: err})
			return
		}
		resp, err := s.client.Do(req)
		if err != nil {
			if !h.IsCancelled() {
				fn(remote.FetchEvent{Kind: remote.FetchFailed, Err: err})
			}
			return
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			fn(remote.FetchEvent{Kind: remote.FetchDeleted})
			return
		case resp.StatusCode >= 300:
			fn(remote.FetchEvent{Kind: remote.FetchFailed, Err: fmt.Errorf("download %s: status %d", token.ID, resp.StatusCode)})
			return
		}

		total := resp.ContentLength
		if total < 0 {
			total = token.Len
		}
		var buf bytes.Buffer
		chunk := make([]byte, readChunkSize)
		for {
			n, err := resp.Body.Read(chunk)
			if n > 0 {
				buf.Write(chunk[:n])
				fn(remote.FetchEvent{Kind: remote.FetchProgress, Downloaded: int64(buf.Len()), Total: total})
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if !h.IsCancelled() {
					fn(remote.FetchEvent{Kind: remote.FetchFailed, Err: err})
				}
				return
			}
		}
		fn(remote.FetchEvent{Kind: remote.FetchCompleted, Data: buf.Bytes(), Metadata: token.Metadata, Total: total})
	}()
	return h, nil
}
