package services

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/query"
	"github.com/getditto/DittoChat-sub001/internal/remote"
	"github.com/getditto/DittoChat-sub001/internal/state"
	"github.com/getditto/DittoChat-sub001/pkg/utils"
)

// RoomOption customizes CreateRoom.
type RoomOption func(*models.Room)

// WithRoomID fixes the room id instead of generating one.
func WithRoomID(id string) RoomOption {
	return func(r *models.Room) { r.ID = id }
}

// WithRetention stores a per-room retention override. A negative value
// retains messages indefinitely.
func WithRetention(days int) RoomOption {
	return func(r *models.Room) { r.RetentionDays = &days }
}

func (c *Chat) onRooms(collection string, docs []remote.Document) {
	c.metrics.ObserverFired(collection)
	rooms := make([]models.Room, 0, len(docs))
	for _, doc := range docs {
		var r models.Room
		if err := remote.Decode(doc, &r); err != nil {
			c.log.Warn().Err(err).Str("collection", collection).Msg("room_decode_failed")
			continue
		}
		if r.CollectionID == "" {
			r.CollectionID = collection
		}
		rooms = append(rooms, r)
	}
	c.state.Apply(state.SetRooms{Collection: collection, Rooms: rooms})
}

// Rooms returns rooms and DM rooms ordered by creation time.
func (c *Chat) Rooms() []models.Room {
	return c.state.Rooms()
}

// FindRoom looks up a room in the local registry.
func (c *Chat) FindRoom(id string) (models.Room, bool) {
	return c.state.Room(id)
}

// CreateRoom upserts a room document. Creating a room with an existing id
// overwrites it, so repeated calls yield one document.
func (c *Chat) CreateRoom(ctx context.Context, name string, opts ...RoomOption) (*models.Room, error) {
	if err := utils.ValidateRoomName(name); err != nil {
		return nil, fmt.Errorf("create room: %w: %w", ErrMalformedInput, err)
	}
	if !c.CanPerformAction(models.PermCreateRoom) {
		return nil, ErrPermissionDenied
	}
	if c.store == nil {
		c.log.Warn().Err(ErrNotInitialized).Msg("create_room_skipped")
		return nil, nil
	}

	room := models.Room{
		ID:           utils.NewID(),
		Name:         name,
		MessagesID:   models.MessagesCollection,
		CollectionID: models.RoomsCollection,
		CreatedBy:    c.userID,
		CreatedOn:    c.timestamp(),
	}
	for _, opt := range opts {
		opt(&room)
	}
	if err := c.upsertRoom(ctx, room); err != nil {
		return nil, err
	}
	c.log.Info().Str("room_id", room.ID).Str("name", name).Msg("room_created")
	return &room, nil
}

// CreateDMRoom returns the direct-message room between the current user and
// otherUserID, creating it when none exists. Participants are stored as
// [current user, other user].
func (c *Chat) CreateDMRoom(ctx context.Context, otherUserID string) (*models.Room, error) {
	if otherUserID == "" || otherUserID == c.userID {
		return nil, fmt.Errorf("create dm room: %w: invalid peer %q", ErrMalformedInput, otherUserID)
	}
	if c.store == nil {
		c.log.Warn().Err(ErrNotInitialized).Msg("create_dm_room_skipped")
		return nil, nil
	}
	participants := []string{c.userID, otherUserID}
	if existing, ok, err := c.findDMRoom(ctx, participants); err != nil {
		return nil, err
	} else if ok {
		return &existing, nil
	}

	other, err := c.loadUser(ctx, otherUserID)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", otherUserID).Msg("create_dm_room_skipped")
		return nil, nil
	}
	room := models.Room{
		ID:           utils.NewID(),
		Name:         other.Name,
		MessagesID:   models.DMMessagesCollection,
		CollectionID: models.DMRoomsCollection,
		CreatedBy:    c.userID,
		CreatedOn:    c.timestamp(),
		Participants: participants,
	}
	if err := c.upsertRoom(ctx, room); err != nil {
		return nil, err
	}
	c.log.Info().Str("room_id", room.ID).Str("peer", otherUserID).Msg("dm_room_created")
	return &room, nil
}

// findDMRoom matches participants in stored order.
func (c *Chat) findDMRoom(ctx context.Context, participants []string) (models.Room, bool, error) {
	docs, err := c.store.Find(ctx, remote.Query{
		Collection: models.DMRoomsCollection,
		Filter:     query.Eq("participants", bson.A{participants[0], participants[1]}),
		Sort:       []query.Sort{query.Asc("createdOn")},
	})
	if err != nil {
		return models.Room{}, false, fmt.Errorf("find dm room: %w", err)
	}
	for _, doc := range docs {
		var r models.Room
		if err := remote.Decode(doc, &r); err != nil {
			continue
		}
		if len(r.Participants) == 2 && r.Participants[0] == participants[0] && r.Participants[1] == participants[1] {
			return r, true, nil
		}
	}
	return models.Room{}, false, nil
}

func (c *Chat) upsertRoom(ctx context.Context, room models.Room) error {
	doc, err := remote.Encode(room)
	if err != nil {
		return err
	}
	if err := c.store.Upsert(ctx, room.CollectionID, doc); err != nil {
		c.log.Error().Err(err).Str("room_id", room.ID).Msg("room_upsert_failed")
		return fmt.Errorf("upsert room %s: %w", room.ID, err)
	}
	return nil
}

// loadRoom re-reads a room document from the store. The room's own
// collection is tried first, then the other room collection.
func (c *Chat) loadRoom(ctx context.Context, roomID, collection string) (models.Room, error) {
	cols := []string{models.RoomsCollection, models.DMRoomsCollection}
	if collection == models.DMRoomsCollection {
		cols[0], cols[1] = cols[1], cols[0]
	}
	for _, col := range cols {
		docs, err := c.store.Find(ctx, remote.Query{Collection: col, Filter: query.Eq(remote.IDField, roomID)})
		if err != nil {
			return models.Room{}, fmt.Errorf("load room %s: %w", roomID, err)
		}
		if len(docs) == 0 {
			continue
		}
		var r models.Room
		if err := remote.Decode(docs[0], &r); err != nil {
			return models.Room{}, err
		}
		if r.MessagesID == "" {
			r.MessagesID = models.MessagesCollection
		}
		if r.CollectionID == "" {
			r.CollectionID = col
		}
		return r, nil
	}
	return models.Room{}, ErrRoomNotFound
}
