package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/query"
	"github.com/getditto/DittoChat-sub001/internal/remote"
	"github.com/getditto/DittoChat-sub001/internal/state"
)

func (c *Chat) onCurrentUser(docs []remote.Document) {
	c.metrics.ObserverFired(handleCurrentUser)
	if len(docs) == 0 {
		c.state.Apply(state.SetCurrentUser{})
		return
	}
	var u models.ChatUser
	if err := remote.Decode(docs[0], &u); err != nil {
		c.log.Error().Err(err).Msg("current_user_decode_failed")
		return
	}
	c.state.Apply(state.SetCurrentUser{User: &u})
}

func (c *Chat) onRoster(docs []remote.Document) {
	c.metrics.ObserverFired(handleUsers)
	users := make([]models.ChatUser, 0, len(docs))
	for _, doc := range docs {
		var u models.ChatUser
		if err := remote.Decode(doc, &u); err != nil {
			c.log.Warn().Err(err).Msg("user_decode_failed")
			continue
		}
		users = append(users, u)
	}
	c.state.Apply(state.SetRoster{Users: users})
}

func (c *Chat) ensureCurrentUser(ctx context.Context) error {
	if c.name == "" {
		return nil
	}
	docs, err := c.store.Find(ctx, remote.Query{
		Collection: models.UsersCollection,
		Filter:     query.Eq(remote.IDField, c.userID),
	})
	if err != nil {
		return fmt.Errorf("load current user: %w", err)
	}
	if len(docs) > 0 {
		return nil
	}
	return c.upsertUser(ctx, models.ChatUser{ID: c.userID, Name: c.name})
}

// CurrentUser returns the signed-in user as last synced.
func (c *Chat) CurrentUser() (models.ChatUser, bool) {
	return c.state.CurrentUser()
}

// Users returns the roster.
func (c *Chat) Users() []models.ChatUser {
	return c.state.Users()
}

// UsersLoading is true until the roster observer has fired once.
func (c *Chat) UsersLoading() bool {
	return c.state.UsersLoading()
}

// FindUser looks up a user in the local roster.
func (c *Chat) FindUser(id string) (models.ChatUser, bool) {
	return c.state.User(id)
}

// UpdateUser merges patch into the stored user document and writes the whole
// document back. patch must carry the user's _id. Top-level fields in patch
// replace the stored ones.
func (c *Chat) UpdateUser(ctx context.Context, patch remote.Document) error {
	id, ok := remote.DocID(patch)
	if !ok {
		return fmt.Errorf("update user: %w: missing _id", ErrMalformedInput)
	}
	if c.store == nil {
		c.log.Warn().Err(ErrNotInitialized).Str("user_id", id).Msg("update_user_skipped")
		return nil
	}
	docs, err := c.store.Find(ctx, remote.Query{
		Collection: models.UsersCollection,
		Filter:     query.Eq(remote.IDField, id),
	})
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	merged := remote.Document{}
	if len(docs) > 0 {
		merged = docs[0]
	}
	for k, v := range patch {
		merged[k] = v
	}
	if err := c.store.Upsert(ctx, models.UsersCollection, merged); err != nil {
		c.log.Error().Err(err).Str("user_id", id).Msg("update_user_failed")
		return fmt.Errorf("update user %s: %w", id, err)
	}
	return nil
}

// RenameCurrentUser changes the signed-in user's display name.
func (c *Chat) RenameCurrentUser(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("rename: %w: empty name", ErrMalformedInput)
	}
	return c.UpdateUser(ctx, remote.Document{remote.IDField: c.userID, "name": name})
}

// SubscribeToRoom records the room in the current user's subscriptions with
// the current time as last-read marker.
func (c *Chat) SubscribeToRoom(ctx context.Context, roomID string) error {
	if !c.CanPerformAction(models.PermSubscribeToRoom) {
		return ErrPermissionDenied
	}
	ts := c.timestamp()
	return c.updateCurrentUser(ctx, "subscribe_to_room", func(u *models.ChatUser) {
		u.Subscriptions[roomID] = &ts
	})
}

// UnsubscribeFromRoom sets the room's subscription entry to null.
func (c *Chat) UnsubscribeFromRoom(ctx context.Context, roomID string) error {
	return c.updateCurrentUser(ctx, "unsubscribe_from_room", func(u *models.ChatUser) {
		u.Subscriptions[roomID] = nil
	})
}

// MarkRoomAsRead bumps the last-read marker of a subscribed room and clears
// its pending mentions.
func (c *Chat) MarkRoomAsRead(ctx context.Context, roomID string) error {
	ts := c.timestamp()
	return c.updateCurrentUser(ctx, "mark_room_read", func(u *models.ChatUser) {
		if u.IsSubscribedTo(roomID) {
			u.Subscriptions[roomID] = &ts
		}
		delete(u.Mentions, roomID)
	})
}

func (c *Chat) updateCurrentUser(ctx context.Context, op string, mutate func(u *models.ChatUser)) error {
	return c.updateUserMaps(ctx, c.userID, op, mutate)
}

// updateUserMaps loads a user, applies mutate and merges the resulting
// subscriptions and mentions back through UpdateUser.
func (c *Chat) updateUserMaps(ctx context.Context, id, op string, mutate func(u *models.ChatUser)) error {
	if c.store == nil {
		c.log.Warn().Err(ErrNotInitialized).Str("op", op).Msg("user_update_skipped")
		return nil
	}
	u, err := c.loadUser(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		c.log.Warn().Err(err).Str("op", op).Str("user_id", id).Msg("user_update_skipped")
		return nil
	}
	if err != nil {
		return err
	}
	mutate(&u)
	return c.UpdateUser(ctx, remote.Document{
		remote.IDField:  u.ID,
		"subscriptions": u.Subscriptions,
		"mentions":      u.Mentions,
	})
}

// loadUser reads a user document from the store. The maps of the result are
// never nil.
func (c *Chat) loadUser(ctx context.Context, id string) (models.ChatUser, error) {
	docs, err := c.store.Find(ctx, remote.Query{
		Collection: models.UsersCollection,
		Filter:     query.Eq(remote.IDField, id),
	})
	if err != nil {
		return models.ChatUser{}, fmt.Errorf("load user %s: %w", id, err)
	}
	if len(docs) == 0 {
		return models.ChatUser{}, ErrUserNotFound
	}
	var u models.ChatUser
	if err := remote.Decode(docs[0], &u); err != nil {
		return models.ChatUser{}, err
	}
	if u.Subscriptions == nil {
		u.Subscriptions = map[string]*string{}
	}
	if u.Mentions == nil {
		u.Mentions = map[string][]string{}
	}
	return u, nil
}

func (c *Chat) upsertUser(ctx context.Context, u models.ChatUser) error {
	if u.Subscriptions == nil {
		u.Subscriptions = map[string]*string{}
	}
	if u.Mentions == nil {
		u.Mentions = map[string][]string{}
	}
	doc, err := remote.Encode(u)
	if err != nil {
		return err
	}
	if err := c.store.Upsert(ctx, models.UsersCollection, doc); err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}
