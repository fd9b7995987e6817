package models

// Room collection classes.
const (
	RoomsCollection   = "rooms"
	DMRoomsCollection = "dm_rooms"
)

// Room describes a chat room or a direct-message room.
type Room struct {
	ID           string   `bson:"_id" json:"id"`
	Name         string   `bson:"name" json:"name"`
	MessagesID   string   `bson:"messagesId" json:"messagesId"`
	CollectionID string   `bson:"collectionId" json:"collectionId"`
	CreatedBy    string   `bson:"createdBy" json:"createdBy"`
	CreatedOn    string   `bson:"createdOn" json:"createdOn"`
	IsGenerated  bool     `bson:"isGenerated" json:"isGenerated"`
	Participants []string `bson:"participants,omitempty" json:"participants,omitempty"`
	// RetentionDays overrides the global retention for this room.
	// A negative value retains messages indefinitely.
	RetentionDays *int `bson:"retentionDays,omitempty" json:"retentionDays,omitempty"`
}

// IsDM reports whether the room is a direct-message room.
func (r Room) IsDM() bool {
	return r.CollectionID == DMRoomsCollection
}

// Retention returns the per-room retention override, if any.
func (r Room) Retention() *RetentionConfig {
	if r.RetentionDays == nil {
		return nil
	}
	if *r.RetentionDays < 0 {
		return &RetentionConfig{Indefinite: true}
	}
	return &RetentionConfig{Days: *r.RetentionDays}
}
