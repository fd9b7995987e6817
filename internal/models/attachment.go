package models

// Attachment metadata keys.
const (
	AttachmentFilename  = "filename"
	AttachmentUserID    = "userId"
	AttachmentUsername  = "username"
	AttachmentRole      = "role"
	AttachmentFilesize  = "filesize"
	AttachmentTimestamp = "timestamp"
	AttachmentDigest    = "digest"
	AttachmentLocation  = "location"
)

// Attachment roles.
const (
	RoleThumbnail = "thumbnail"
	RoleLarge     = "large"
	RoleFile      = "file"
)

// AttachmentToken is an opaque reference to binary content stored apart from
// its owning document.
type AttachmentToken struct {
	ID       string            `bson:"id" json:"id"`
	Len      int64             `bson:"len" json:"len"`
	Metadata map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
}
