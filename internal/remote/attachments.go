package remote

import (
	"context"

	"github.com/getditto/DittoChat-sub001/internal/models"
)

// AttachmentStore is the binary half of Adapter. Networked backends delegate
// to one so blob storage can be swapped independently of documents.
type AttachmentStore interface {
	NewAttachment(ctx context.Context, data []byte, metadata map[string]string) (models.AttachmentToken, error)
	FetchAttachment(token models.AttachmentToken, fn func(FetchEvent)) (Handle, error)
}
