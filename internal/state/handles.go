package state

import (
	"github.com/getditto/DittoChat-sub001/internal/remote"
)

// pair is a subscription plus observer registered for the same query. Both
// are nil while the registration is in flight.
type pair struct {
	reservation  Reservation
	subscription remote.Handle
	observer     remote.Handle
}

func (p pair) handles() []remote.Handle {
	out := make([]remote.Handle, 0, 2)
	if p.subscription != nil {
		out = append(out, p.subscription)
	}
	if p.observer != nil {
		out = append(out, p.observer)
	}
	return out
}

type handles struct {
	rooms    map[string]pair
	messages map[string]pair
	session  map[string]remote.Handle
	fetches  map[uint64]remote.Handle
	nextID   uint64
}

func newHandles() handles {
	return handles{
		rooms:    make(map[string]pair),
		messages: make(map[string]pair),
		session:  make(map[string]remote.Handle),
		fetches:  make(map[uint64]remote.Handle),
	}
}

// Reservation identifies one claim on a subscription slot. A slot that was
// dropped and claimed again carries a different Reservation.
type Reservation uint64

type slotKind int

const (
	roomSlot slotKind = iota
	messageSlot
)

// slots must be called with s.mu held; TakeHandles swaps the maps.
func (s *Store) slots(kind slotKind) map[string]pair {
	if kind == roomSlot {
		return s.handles.rooms
	}
	return s.handles.messages
}

func (s *Store) reserve(kind slotKind, key string) (Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.slots(kind)
	if _, ok := m[key]; ok {
		return 0, false
	}
	s.handles.nextID++
	r := Reservation(s.handles.nextID)
	m[key] = pair{reservation: r}
	return r, true
}

func (s *Store) attach(kind slotKind, key string, r Reservation, sub, obs remote.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.slots(kind)
	if p, ok := m[key]; !ok || p.reservation != r {
		return false
	}
	m[key] = pair{reservation: r, subscription: sub, observer: obs}
	return true
}

func (s *Store) release(kind slotKind, key string, r Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.slots(kind)
	if p, ok := m[key]; ok && p.reservation == r {
		delete(m, key)
	}
}

// ReserveRoom claims the room's subscription slot. It returns false when the
// room is already subscribed or a subscription is being registered.
func (s *Store) ReserveRoom(roomID string) (Reservation, bool) {
	return s.reserve(roomSlot, roomID)
}

// AttachRoom stores the handles of a reserved room. If the reservation was
// dropped meanwhile (logout) or replaced by a newer one, it returns false and
// the caller must cancel.
func (s *Store) AttachRoom(roomID string, r Reservation, sub, obs remote.Handle) bool {
	return s.attach(roomSlot, roomID, r, sub, obs)
}

// ReleaseRoom drops a reservation whose registration failed. A newer
// reservation for the same room is left alone.
func (s *Store) ReleaseRoom(roomID string, r Reservation) {
	s.release(roomSlot, roomID, r)
}

// IsRoomSubscribed reports whether the room holds or is acquiring a
// subscription.
func (s *Store) IsRoomSubscribed(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.handles.rooms[roomID]
	return ok
}

// RoomSubscriptions counts subscribed rooms.
func (s *Store) RoomSubscriptions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles.rooms)
}

// ReserveMessage claims the single-message watch slot for key.
func (s *Store) ReserveMessage(key string) (Reservation, bool) {
	return s.reserve(messageSlot, key)
}

// AttachMessage stores the handles of a reserved single-message watch.
func (s *Store) AttachMessage(key string, r Reservation, sub, obs remote.Handle) bool {
	return s.attach(messageSlot, key, r, sub, obs)
}

// ReleaseMessage drops a single-message reservation.
func (s *Store) ReleaseMessage(key string, r Reservation) {
	s.release(messageSlot, key, r)
}

// SetSessionHandle stores a named session-wide handle (user and room
// registry observers). A handle already stored under name is returned so the
// caller can cancel it.
func (s *Store) SetSessionHandle(name string, h remote.Handle) remote.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.handles.session[name]
	s.handles.session[name] = h
	return prev
}

// AddFetch tracks an in-flight attachment download.
func (s *Store) AddFetch(h remote.Handle) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles.nextID++
	id := s.handles.nextID
	s.handles.fetches[id] = h
	return id
}

// RemoveFetch stops tracking a finished download.
func (s *Store) RemoveFetch(id uint64) {
	s.mu.Lock()
	delete(s.handles.fetches, id)
	s.mu.Unlock()
}

// TakeHandles empties every handle map and returns what was held. Rooms and
// messages can be subscribed again afterwards.
func (s *Store) TakeHandles() []remote.Handle {
	s.mu.Lock()
	held := s.handles
	s.handles = newHandles()
	s.handles.nextID = held.nextID
	s.mu.Unlock()

	out := make([]remote.Handle, 0)
	for _, p := range held.rooms {
		out = append(out, p.handles()...)
	}
	for _, p := range held.messages {
		out = append(out, p.handles()...)
	}
	for _, h := range held.session {
		if h != nil {
			out = append(out, h)
		}
	}
	for _, h := range held.fetches {
		out = append(out, h)
	}
	return out
}
