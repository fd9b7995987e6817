package state

import (
	"github.com/getditto/DittoChat-sub001/internal/models"
)

// SetRoster replaces the roster with the deduplicated users of one firing.
type SetRoster struct {
	Users []models.ChatUser
}

func (c SetRoster) apply(d *data) Change {
	users := make(map[string]models.ChatUser, len(c.Users))
	for _, u := range c.Users {
		if u.ID == "" {
			continue
		}
		users[u.ID] = u.Clone()
	}
	// The current user stays resolvable even before it reaches the roster feed.
	if d.currentUser != nil {
		if _, ok := users[d.currentUser.ID]; !ok {
			users[d.currentUser.ID] = d.currentUser.Clone()
		}
	}
	d.users = users
	d.usersLoading = false
	return Change{Kind: KindRoster, Applied: true, Added: len(users)}
}

// SetCurrentUser records the signed-in user's document. A nil User means the
// document does not exist yet.
type SetCurrentUser struct {
	User *models.ChatUser
}

func (c SetCurrentUser) apply(d *data) Change {
	if c.User == nil {
		d.currentUser = nil
		return Change{Kind: KindCurrentUser}
	}
	u := c.User.Clone()
	d.currentUser = &u
	d.users[u.ID] = u.Clone()
	return Change{Kind: KindCurrentUser, Applied: true}
}

// SetRooms replaces the rooms of one room collection.
type SetRooms struct {
	Collection string
	Rooms      []models.Room
}

func (c SetRooms) apply(d *data) Change {
	list := make([]models.Room, 0, len(c.Rooms))
	seen := make(map[string]bool, len(c.Rooms))
	for _, r := range c.Rooms {
		if r.ID == "" || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		list = append(list, cloneRoom(r))
	}
	d.rooms[c.Collection] = list
	d.roomsFired[c.Collection] = true
	d.roomsLoading = !(d.roomsFired[models.RoomsCollection] && d.roomsFired[models.DMRoomsCollection])
	return Change{Kind: KindRooms, Applied: true, Added: len(list)}
}

// MergeRoomMessages appends the messages of one observer firing that are not
// in the room yet. Existing entries are never removed or replaced.
type MergeRoomMessages struct {
	RoomID   string
	Messages []models.Message
}

func (c MergeRoomMessages) apply(d *data) Change {
	list := d.messages[c.RoomID]
	seen := make(map[string]bool, len(list)+len(c.Messages))
	for _, m := range list {
		seen[m.Message.ID] = true
	}
	ch := Change{Kind: KindMessagesMerged, RoomID: c.RoomID}
	for _, m := range c.Messages {
		if m.ID == "" || seen[m.ID] {
			ch.Skipped++
			continue
		}
		seen[m.ID] = true
		list = append(list, models.MessageWithUser{Message: m.Clone(), User: d.resolveUser(m.UserID)})
		ch.Added++
	}
	if ch.Added > 0 {
		sortMessages(list)
		ch.Applied = true
	}
	d.messages[c.RoomID] = list
	return ch
}

// UpsertMessage replaces the entry with the same id in the message's room or
// appends it.
type UpsertMessage struct {
	Message models.Message
}

func (c UpsertMessage) apply(d *data) Change {
	m := c.Message.Clone()
	entry := models.MessageWithUser{Message: m, User: d.resolveUser(m.UserID)}
	list := d.messages[m.RoomID]
	ch := Change{Kind: KindMessageUpsert, RoomID: m.RoomID, MessageID: m.ID, Applied: true}
	for i := range list {
		if list[i].Message.ID == m.ID {
			list[i] = entry
			d.messages[m.RoomID] = list
			return ch
		}
	}
	list = append(list, entry)
	sortMessages(list)
	d.messages[m.RoomID] = list
	ch.Added = 1
	return ch
}

// ReactionOp selects how UpdateReactions changes the list.
type ReactionOp int

const (
	// ReactionToggle removes an existing (author, emoji) entry or adds it.
	ReactionToggle ReactionOp = iota
	// ReactionRemove drops every (author, emoji) entry.
	ReactionRemove
)

// UpdateReactions changes a message's reaction list in place. Change.Before
// and Change.After carry the lists around the update.
type UpdateReactions struct {
	RoomID    string
	MessageID string
	Reaction  models.Reaction
	Op        ReactionOp
}

func (c UpdateReactions) apply(d *data) Change {
	ch := Change{Kind: KindReactions, RoomID: c.RoomID, MessageID: c.MessageID}
	m := d.find(c.RoomID, c.MessageID)
	if m == nil {
		return ch
	}
	before := append([]models.Reaction{}, m.Message.Reactions...)
	var after []models.Reaction
	if c.Op == ReactionRemove {
		after = models.RemoveReaction(before, c.Reaction)
	} else {
		after = models.ToggleReaction(before, c.Reaction)
	}
	m.Message.Reactions = after
	ch.Applied = true
	ch.Before = before
	ch.After = append([]models.Reaction{}, after...)
	return ch
}

// SetReactions overwrites a message's reaction list.
type SetReactions struct {
	RoomID    string
	MessageID string
	Reactions []models.Reaction
}

func (c SetReactions) apply(d *data) Change {
	ch := Change{Kind: KindReactions, RoomID: c.RoomID, MessageID: c.MessageID}
	m := d.find(c.RoomID, c.MessageID)
	if m == nil {
		return ch
	}
	ch.Before = append([]models.Reaction{}, m.Message.Reactions...)
	m.Message.Reactions = append([]models.Reaction{}, c.Reactions...)
	ch.After = append([]models.Reaction{}, c.Reactions...)
	ch.Applied = true
	return ch
}

// MarkArchived flags a merged message as archived.
type MarkArchived struct {
	RoomID    string
	MessageID string
}

func (c MarkArchived) apply(d *data) Change {
	ch := Change{Kind: KindArchived, RoomID: c.RoomID, MessageID: c.MessageID}
	if m := d.find(c.RoomID, c.MessageID); m != nil && !m.Message.IsArchived {
		m.Message.IsArchived = true
		ch.Applied = true
	}
	return ch
}

// MergeRBAC shallow-merges Patch into the override map. Keys absent from the
// patch keep their value.
type MergeRBAC struct {
	Patch models.RBACConfig
}

func (c MergeRBAC) apply(d *data) Change {
	for k, v := range c.Patch {
		d.rbac[k] = v
	}
	return Change{Kind: KindRBAC, Applied: len(c.Patch) > 0}
}

// Purge drops every cached user, room and message. RBAC overrides are kept.
type Purge struct{}

func (Purge) apply(d *data) Change {
	rbac := d.rbac
	*d = newData()
	d.rbac = rbac
	return Change{Kind: KindPurge, Applied: true}
}

func (d *data) find(roomID, messageID string) *models.MessageWithUser {
	list := d.messages[roomID]
	for i := range list {
		if list[i].Message.ID == messageID {
			return &list[i]
		}
	}
	return nil
}
