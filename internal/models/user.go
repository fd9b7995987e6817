package models

// UsersCollection holds one ChatUser document per identity.
const UsersCollection = "users"

// ChatUser is the directory entry for a chat participant.
//
// Subscriptions maps a room id to the last-read timestamp. A nil value means
// the user explicitly unsubscribed; a missing key means the user never
// subscribed. Mentions maps a room id to the message ids that mention the user
// and have not been read yet.
type ChatUser struct {
	ID                      string              `bson:"_id" json:"id"`
	Name                    string              `bson:"name" json:"name"`
	Subscriptions           map[string]*string  `bson:"subscriptions" json:"subscriptions"`
	Mentions                map[string][]string `bson:"mentions" json:"mentions"`
	ProfilePictureThumbnail *AttachmentToken    `bson:"profilePictureThumbnail,omitempty" json:"profilePictureThumbnail,omitempty"`
	ProfilePicture          *AttachmentToken    `bson:"profilePicture,omitempty" json:"profilePicture,omitempty"`
}

// IsSubscribedTo reports whether the user holds a live subscription to room.
func (u ChatUser) IsSubscribedTo(roomID string) bool {
	v, ok := u.Subscriptions[roomID]
	return ok && v != nil
}

// Clone deep-copies the maps so the copy can be mutated freely.
func (u ChatUser) Clone() ChatUser {
	out := u
	if u.Subscriptions != nil {
		out.Subscriptions = make(map[string]*string, len(u.Subscriptions))
		for k, v := range u.Subscriptions {
			if v != nil {
				s := *v
				out.Subscriptions[k] = &s
			} else {
				out.Subscriptions[k] = nil
			}
		}
	}
	if u.Mentions != nil {
		out.Mentions = make(map[string][]string, len(u.Mentions))
		for k, v := range u.Mentions {
			out.Mentions[k] = append([]string(nil), v...)
		}
	}
	return out
}
