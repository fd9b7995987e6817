package models

import (
	"time"

	"github.com/getditto/DittoChat-sub001/pkg/utils"
)

// Message collections backing rooms.
const (
	MessagesCollection   = "messages"
	DMMessagesCollection = "dm_messages"
)

// DeletedMessageText is the placeholder text left behind by a delete.
const DeletedMessageText = "[deleted message]"

// Reaction is stored inline on the message document. At most one entry exists
// per (userId, emoji) pair.
type Reaction struct {
	UserID                 string `bson:"userId" json:"userId"`
	Emoji                  string `bson:"emoji" json:"emoji"`
	UnifiedChar            string `bson:"unifiedChar,omitempty" json:"unifiedChar,omitempty"`
	Unified                string `bson:"unified,omitempty" json:"unified,omitempty"`
	UnifiedWithoutSkinTone string `bson:"unifiedWithoutSkinTone,omitempty" json:"unifiedWithoutSkinTone,omitempty"`
}

// Same reports whether two reactions share author and emoji.
func (r Reaction) Same(other Reaction) bool {
	return r.UserID == other.UserID && r.Emoji == other.Emoji
}

// Message is a single chat message document. Edits and deletes never rewrite
// the text of an existing document: the old version is archived in place and a
// new document links back to it through ArchivedMessage.
type Message struct {
	ID                  string           `bson:"_id" json:"id"`
	RoomID              string           `bson:"roomId" json:"roomId"`
	Text                string           `bson:"text" json:"text"`
	UserID              string           `bson:"userId" json:"userId"`
	CreatedOn           string           `bson:"createdOn" json:"createdOn"`
	LargeImageToken     *AttachmentToken `bson:"largeImageToken,omitempty" json:"largeImageToken,omitempty"`
	ThumbnailImageToken *AttachmentToken `bson:"thumbnailImageToken,omitempty" json:"thumbnailImageToken,omitempty"`
	FileAttachmentToken *AttachmentToken `bson:"fileAttachmentToken,omitempty" json:"fileAttachmentToken,omitempty"`
	IsArchived          bool             `bson:"isArchived" json:"isArchived"`
	ArchivedMessage     string           `bson:"archivedMessage,omitempty" json:"archivedMessage,omitempty"`
	IsEdited            bool             `bson:"isEdited" json:"isEdited"`
	IsDeleted           bool             `bson:"isDeleted" json:"isDeleted"`
	Reactions           []Reaction       `bson:"reactions" json:"reactions"`
	Mentions            []string         `bson:"mentions,omitempty" json:"mentions,omitempty"`
	HasBeenConverted    bool             `bson:"hasBeenConverted,omitempty" json:"hasBeenConverted,omitempty"`
}

// CreatedAt parses CreatedOn; the zero time is returned for unparsable values.
func (m Message) CreatedAt() time.Time {
	t, err := utils.ParseTimestamp(m.CreatedOn)
	if err != nil {
		return time.Time{}
	}
	return t
}

// IsImage reports whether the message carries an image attachment.
func (m Message) IsImage() bool {
	return m.ThumbnailImageToken != nil || m.LargeImageToken != nil
}

// IsFile reports whether the message carries a file attachment.
func (m Message) IsFile() bool {
	return m.FileAttachmentToken != nil
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	out := m
	if m.Reactions != nil {
		out.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	if m.Mentions != nil {
		out.Mentions = append([]string(nil), m.Mentions...)
	}
	return out
}

// MessageWithUser pairs a message with its author as known to the local
// directory. User is nil when the author has not been synced yet.
type MessageWithUser struct {
	Message Message   `json:"message"`
	User    *ChatUser `json:"user,omitempty"`
}

// ToggleReaction applies r to list: an existing (author, emoji) entry is
// removed, otherwise r is appended. Applying the same reaction twice returns
// the original list.
func ToggleReaction(list []Reaction, r Reaction) []Reaction {
	for i, existing := range list {
		if existing.Same(r) {
			out := make([]Reaction, 0, len(list)-1)
			out = append(out, list[:i]...)
			return append(out, list[i+1:]...)
		}
	}
	out := make([]Reaction, 0, len(list)+1)
	out = append(out, list...)
	return append(out, r)
}

// RemoveReaction drops every (author, emoji) match from list.
func RemoveReaction(list []Reaction, r Reaction) []Reaction {
	out := make([]Reaction, 0, len(list))
	for _, existing := range list {
		if !existing.Same(r) {
			out = append(out, existing)
		}
	}
	return out
}

// ReactionsEqual compares two reaction lists in order.
func ReactionsEqual(a, b []Reaction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
