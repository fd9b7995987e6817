// Package state holds the local replica. All writes go through Apply, which
// runs one typed command at a time under the writer lock; readers always get
// copies.
package state

import (
	"sort"
	"sync"

	"github.com/getditto/DittoChat-sub001/internal/models"
)

// Kind identifies what a command changed.
type Kind string

const (
	KindRoster         Kind = "roster"
	KindCurrentUser    Kind = "current_user"
	KindRooms          Kind = "rooms"
	KindMessagesMerged Kind = "messages_merged"
	KindMessageUpsert  Kind = "message_upsert"
	KindReactions      Kind = "reactions"
	KindArchived       Kind = "archived"
	KindRBAC           Kind = "rbac"
	KindPurge          Kind = "purge"
)

// Change describes the effect of one command. Listeners receive it after the
// command has been applied.
type Change struct {
	Kind      Kind   `json:"kind"`
	RoomID    string `json:"roomId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	// Applied is false when the command found nothing to change.
	Applied bool `json:"applied"`
	Added   int  `json:"added,omitempty"`
	Skipped int  `json:"skipped,omitempty"`

	Before []models.Reaction `json:"-"`
	After  []models.Reaction `json:"-"`
}

// Command is a typed partial update of the replica.
type Command interface {
	apply(d *data) Change
}

type data struct {
	currentUser  *models.ChatUser
	users        map[string]models.ChatUser
	usersLoading bool

	rooms        map[string][]models.Room
	roomsFired   map[string]bool
	roomsLoading bool

	messages map[string][]models.MessageWithUser
	rbac     models.RBACConfig
}

func newData() data {
	return data{
		users:        make(map[string]models.ChatUser),
		usersLoading: true,
		rooms:        make(map[string][]models.Room),
		roomsFired:   make(map[string]bool),
		roomsLoading: true,
		messages:     make(map[string][]models.MessageWithUser),
		rbac:         models.RBACConfig{},
	}
}

// Store is the single-writer replica.
type Store struct {
	mu      sync.RWMutex
	d       data
	handles handles

	notifyMu  sync.Mutex
	listeners map[int]func(Change)
	nextID    int
}

// New returns an empty store seeded with the given RBAC overrides.
func New(rbac models.RBACConfig) *Store {
	s := &Store{
		d:         newData(),
		handles:   newHandles(),
		listeners: make(map[int]func(Change)),
	}
	for k, v := range rbac {
		s.d.rbac[k] = v
	}
	return s
}

// Apply runs cmd under the writer lock and then notifies listeners in
// command order. Listeners must not call Apply.
func (s *Store) Apply(cmd Command) Change {
	s.mu.Lock()
	ch := cmd.apply(&s.d)
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	for _, fn := range s.listeners {
		fn(ch)
	}
	return ch
}

// Listen registers fn for every applied command. The returned func removes it.
func (s *Store) Listen(fn func(Change)) func() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	return func() {
		s.notifyMu.Lock()
		delete(s.listeners, id)
		s.notifyMu.Unlock()
	}
}

// CurrentUser returns the signed-in user's document, if synced.
func (s *Store) CurrentUser() (models.ChatUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.d.currentUser == nil {
		return models.ChatUser{}, false
	}
	return s.d.currentUser.Clone(), true
}

// User looks up a roster entry.
func (s *Store) User(id string) (models.ChatUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.d.users[id]
	if !ok {
		return models.ChatUser{}, false
	}
	return u.Clone(), true
}

// Users returns the roster ordered by id.
func (s *Store) Users() []models.ChatUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatUser, 0, len(s.d.users))
	for _, u := range s.d.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UsersLoading is true until the first roster firing.
func (s *Store) UsersLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.d.usersLoading
}

// Rooms returns every known room and DM room ordered by creation time.
func (s *Store) Rooms() []models.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.d.allRooms()
}

// Room looks up a room in either collection.
func (s *Store) Room(id string) (models.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, list := range s.d.rooms {
		for _, r := range list {
			if r.ID == id {
				return cloneRoom(r), true
			}
		}
	}
	return models.Room{}, false
}

// RoomsLoading is true until both room collections have fired once.
func (s *Store) RoomsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.d.roomsLoading
}

// Messages returns the merged messages of a room in creation order. Authors
// missing at merge time are resolved against the current roster.
func (s *Store) Messages(roomID string) []models.MessageWithUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.d.messages[roomID]
	out := make([]models.MessageWithUser, 0, len(list))
	for _, m := range list {
		out = append(out, s.d.withUser(m.Message, m.User))
	}
	return out
}

// Message looks up one merged message.
func (s *Store) Message(roomID, messageID string) (models.MessageWithUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.d.messages[roomID] {
		if m.Message.ID == messageID {
			return s.d.withUser(m.Message, m.User), true
		}
	}
	return models.MessageWithUser{}, false
}

// RBAC returns the current override map.
func (s *Store) RBAC() models.RBACConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.d.rbac.Clone()
}

func (d *data) allRooms() []models.Room {
	out := make([]models.Room, 0)
	for _, list := range d.rooms {
		for _, r := range list {
			out = append(out, cloneRoom(r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedOn != out[j].CreatedOn {
			return out[i].CreatedOn < out[j].CreatedOn
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *data) withUser(m models.Message, u *models.ChatUser) models.MessageWithUser {
	out := models.MessageWithUser{Message: m.Clone()}
	if u != nil {
		c := u.Clone()
		out.User = &c
		return out
	}
	if known, ok := d.users[m.UserID]; ok {
		c := known.Clone()
		out.User = &c
	}
	return out
}

func (d *data) resolveUser(id string) *models.ChatUser {
	u, ok := d.users[id]
	if !ok {
		return nil
	}
	c := u.Clone()
	return &c
}

func cloneRoom(r models.Room) models.Room {
	if r.Participants != nil {
		r.Participants = append([]string(nil), r.Participants...)
	}
	if r.RetentionDays != nil {
		v := *r.RetentionDays
		r.RetentionDays = &v
	}
	return r
}

func sortMessages(list []models.MessageWithUser) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Message.CreatedAt().Before(list[j].Message.CreatedAt())
	})
}
