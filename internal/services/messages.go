package services

import (
	"context"
	"fmt"
	"time"

	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/query"
	"github.com/getditto/DittoChat-sub001/internal/remote"
	"github.com/getditto/DittoChat-sub001/internal/state"
	"github.com/getditto/DittoChat-sub001/pkg/utils"
)

// RoomQuery builds the retention-bounded feed of a room: messages of the room
// whose ISO createdOn or either legacy epoch-millisecond field is within the
// window, oldest first.
func RoomQuery(room models.Room, retention models.RetentionConfig, now time.Time) remote.Query {
	collection := room.MessagesID
	if collection == "" {
		collection = models.MessagesCollection
	}
	filter := query.Eq("roomId", room.ID)
	if cutoff, ok := retention.Cutoff(now); ok {
		ms := cutoff.UnixMilli()
		filter = query.And(filter, query.Or(
			query.Gte("createdOn", utils.FormatTimestamp(cutoff)),
			query.Gte(models.LegacyTSField, ms),
			query.Gte(models.LegacyTimeMsField, ms),
		))
	}
	return remote.Query{
		Collection: collection,
		Filter:     filter,
		Sort:       []query.Sort{query.Asc("createdOn")},
	}
}

// SubscribeRoom opens the room's message feed. retentionDays overrides the
// room and global retention; a negative value retains indefinitely. A room
// holds at most one feed: later calls are no-ops whatever their retention.
func (c *Chat) SubscribeRoom(room models.Room, retentionDays *int) error {
	if c.store == nil {
		c.log.Warn().Err(ErrNotInitialized).Str("room_id", room.ID).Msg("subscribe_room_skipped")
		return nil
	}
	if room.ID == "" {
		return fmt.Errorf("subscribe room: %w: missing room id", ErrMalformedInput)
	}
	res, ok := c.state.ReserveRoom(room.ID)
	if !ok {
		return nil
	}

	var explicit *models.RetentionConfig
	if retentionDays != nil {
		days := *retentionDays
		explicit = models.Room{RetentionDays: &days}.Retention()
	}
	retention := models.ResolveRetention(explicit, room.Retention(), c.global)
	q := RoomQuery(room, retention, c.now())

	sub, err := c.store.RegisterSubscription(q)
	if err != nil {
		c.state.ReleaseRoom(room.ID, res)
		return fmt.Errorf("subscribe room %s: %w", room.ID, err)
	}
	obs, err := c.store.RegisterObserver(q, func(docs []remote.Document) {
		c.mergeRoom(room.ID, q, docs)
	})
	if err != nil {
		sub.Cancel()
		c.state.ReleaseRoom(room.ID, res)
		return fmt.Errorf("observe room %s: %w", room.ID, err)
	}
	if !c.state.AttachRoom(room.ID, res, sub, obs) {
		// Logged out while registering.
		remote.CancelIfActive(sub)
		remote.CancelIfActive(obs)
		return nil
	}
	c.metrics.SetRoomSubscriptions(c.state.RoomSubscriptions())
	c.log.Info().
		Str("room_id", room.ID).
		Str("collection", q.Collection).
		Bool("indefinite", retention.Indefinite).
		Int("retention_days", retention.Days).
		Msg("room_subscribed")
	return nil
}

// mergeRoom appends the not yet seen documents of one firing. Documents
// outside the query are dropped even if the backend delivered them.
func (c *Chat) mergeRoom(roomID string, q remote.Query, docs []remote.Document) {
	c.metrics.ObserverFired("room")
	msgs := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		if !q.Match(doc) {
			continue
		}
		in, err := models.Ingest(doc)
		if err != nil {
			c.log.Warn().Err(err).Str("room_id", roomID).Msg("message_decode_failed")
			continue
		}
		m := in.Message
		if in.Schema == models.SchemaLegacy {
			m = in.Normalize()
		}
		if m.RoomID == "" {
			m.RoomID = roomID
		}
		msgs = append(msgs, m)
	}
	ch := c.state.Apply(state.MergeRoomMessages{RoomID: roomID, Messages: msgs})
	c.metrics.Merged(ch.Added, ch.Skipped)
	if ch.Added > 0 {
		c.log.Debug().Str("room_id", roomID).Int("added", ch.Added).Int("skipped", ch.Skipped).Msg("room_merged")
	}
}

// FetchSingleMessage watches one message outside its room feed. Each firing
// normalizes the document and replaces or appends it in its room. Repeated
// calls for the same collection and id are no-ops.
func (c *Chat) FetchSingleMessage(messageID, collectionID string) error {
	if c.store == nil {
		c.log.Warn().Err(ErrNotInitialized).Str("message_id", messageID).Msg("fetch_message_skipped")
		return nil
	}
	if messageID == "" || collectionID == "" {
		return fmt.Errorf("fetch message: %w: missing id", ErrMalformedInput)
	}
	key := collectionID + ":" + messageID
	res, ok := c.state.ReserveMessage(key)
	if !ok {
		return nil
	}

	q := remote.Query{Collection: collectionID, Filter: query.Eq(remote.IDField, messageID)}
	sub, err := c.store.RegisterSubscription(q)
	if err != nil {
		c.state.ReleaseMessage(key, res)
		return fmt.Errorf("subscribe message %s: %w", key, err)
	}
	obs, err := c.store.RegisterObserver(q, func(docs []remote.Document) {
		c.metrics.ObserverFired("message")
		for _, doc := range docs {
			m, err := c.ConvertLegacyMessage(context.Background(), collectionID, doc)
			if err != nil {
				c.log.Warn().Err(err).Str("message_id", messageID).Msg("message_convert_failed")
				continue
			}
			c.state.Apply(state.UpsertMessage{Message: m})
		}
	})
	if err != nil {
		sub.Cancel()
		c.state.ReleaseMessage(key, res)
		return fmt.Errorf("observe message %s: %w", key, err)
	}
	if !c.state.AttachMessage(key, res, sub, obs) {
		remote.CancelIfActive(sub)
		remote.CancelIfActive(obs)
	}
	return nil
}

// ConvertLegacyMessage returns the canonical form of a stored message.
// Converted documents come back unchanged. For a legacy document it also
// creates a directory entry for an unknown author and writes the normalized
// document back to collection so later reads skip the conversion. Side-effect
// failures are logged; the normalized message is still returned.
func (c *Chat) ConvertLegacyMessage(ctx context.Context, collection string, doc remote.Document) (models.Message, error) {
	in, err := models.Ingest(doc)
	if err != nil {
		return models.Message{}, err
	}
	if in.Message.HasBeenConverted {
		return in.Message, nil
	}
	m := in.Normalize()
	if in.Schema != models.SchemaLegacy || c.store == nil {
		return m, nil
	}

	if m.UserID != "" {
		if err := c.ensureUser(ctx, m.UserID); err != nil {
			c.log.Warn().Err(err).Str("user_id", m.UserID).Msg("legacy_author_upsert_failed")
		}
	}

	normalized, err := remote.Encode(m)
	if err != nil {
		return m, nil
	}
	out, err := remote.Copy(doc)
	if err != nil {
		return m, nil
	}
	for k, v := range normalized {
		out[k] = v
	}
	if err := c.store.Upsert(ctx, collection, out); err != nil {
		c.log.Warn().Err(err).Str("message_id", m.ID).Msg("legacy_writeback_failed")
	} else {
		c.log.Info().Str("message_id", m.ID).Str("collection", collection).Msg("legacy_message_converted")
	}
	return m, nil
}

// ensureUser creates a bare directory entry for id unless one exists.
func (c *Chat) ensureUser(ctx context.Context, id string) error {
	if _, ok := c.state.User(id); ok {
		return nil
	}
	docs, err := c.store.Find(ctx, remote.Query{
		Collection: models.UsersCollection,
		Filter:     query.Eq(remote.IDField, id),
	})
	if err != nil {
		return err
	}
	if len(docs) > 0 {
		return nil
	}
	return c.upsertUser(ctx, models.ChatUser{ID: id, Name: id})
}

// Messages returns every merged message of a room, archived ones included.
func (c *Chat) Messages(roomID string) []models.MessageWithUser {
	return c.state.Messages(roomID)
}

// VisibleMessages returns the room's messages without archived versions.
func (c *Chat) VisibleMessages(roomID string) []models.MessageWithUser {
	all := c.state.Messages(roomID)
	out := make([]models.MessageWithUser, 0, len(all))
	for _, m := range all {
		if !m.Message.IsArchived {
			out = append(out, m)
		}
	}
	return out
}

// IsSubscribed reports whether the room has a message feed.
func (c *Chat) IsSubscribed(roomID string) bool {
	return c.state.IsRoomSubscribed(roomID)
}
