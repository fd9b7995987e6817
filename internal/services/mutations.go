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

// MutationState tracks one mutation: Requested, then LocalApplied for
// optimistic ones, then Confirmed or RolledBack.
type MutationState int

const (
	Requested MutationState = iota
	LocalApplied
	Confirmed
	RolledBack
)

func (s MutationState) String() string {
	switch s {
	case Requested:
		return "requested"
	case LocalApplied:
		return "local_applied"
	case Confirmed:
		return "confirmed"
	case RolledBack:
		return "rolled_back"
	}
	return "unknown"
}

func (c *Chat) track(op string, s MutationState) {
	c.metrics.Mutation(op, s.String())
	c.log.Debug().Str("op", op).Str("state", s.String()).Msg("mutation")
}

// CreateMessage writes a new text message to the room's message collection.
// The room document is re-read so a stale room value still targets the right
// collection. The message reaches the room list through the room feed.
// Mentioned users get the message id queued in their mentions.
func (c *Chat) CreateMessage(ctx context.Context, room models.Room, text string, mentions ...string) (*models.Message, error) {
	const op = "create_message"
	if err := utils.ValidateMessageText(text); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformedInput, err)
	}
	if len(mentions) > 0 && !c.CanPerformAction(models.PermMentionUsers) {
		return nil, ErrPermissionDenied
	}
	fresh, ok := c.mutationContext(ctx, op, room.ID, room.CollectionID)
	if !ok {
		return nil, nil
	}
	c.track(op, Requested)
	author := c.userID
	if me, ok := c.CurrentUser(); ok && me.Name != "" {
		author = me.Name
	}

	msg := models.Message{
		ID:        utils.NewID(),
		RoomID:    fresh.ID,
		Text:      text,
		UserID:    c.userID,
		CreatedOn: c.timestamp(),
		Reactions: []models.Reaction{},
		Mentions:  mentions,
	}
	if err := c.insertMessage(ctx, fresh.MessagesID, msg); err != nil {
		c.track(op, RolledBack)
		c.log.Error().Err(err).Str("room_id", fresh.ID).Msg("create_message_failed")
		return nil, err
	}
	c.track(op, Confirmed)
	c.log.Info().
		Str("room_id", fresh.ID).
		Str("message_id", msg.ID).
		Str("author", author).
		Int("mentions", len(mentions)).
		Msg("message_created")

	for _, userID := range mentions {
		if err := c.updateUserMaps(ctx, userID, "mention", func(u *models.ChatUser) {
			u.Mentions[fresh.ID] = append(u.Mentions[fresh.ID], msg.ID)
		}); err != nil {
			c.log.Warn().Err(err).Str("user_id", userID).Msg("mention_update_failed")
		}
	}
	return &msg, nil
}

// SaveEditedTextMessage archives msg and inserts its replacement carrying text.
func (c *Chat) SaveEditedTextMessage(ctx context.Context, msg models.Message, text string) (*models.Message, error) {
	if err := utils.ValidateMessageText(text); err != nil {
		return nil, fmt.Errorf("edit message: %w: %w", ErrMalformedInput, err)
	}
	if msg.UserID != c.userID || !c.CanPerformAction(models.PermEditOwnMessage) {
		return nil, ErrPermissionDenied
	}
	return c.archiveAndReplace(ctx, "edit_message", msg, func(next *models.Message) {
		next.Text = text
		next.IsEdited = true
	})
}

// SaveDeletedTextMessage archives msg and inserts a placeholder marked deleted.
// Attachments are dropped from the placeholder.
func (c *Chat) SaveDeletedTextMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	if msg.UserID != c.userID || !c.CanPerformAction(models.PermDeleteOwnMessage) {
		return nil, ErrPermissionDenied
	}
	return c.archiveAndReplace(ctx, "delete_message", msg, func(next *models.Message) {
		switch {
		case msg.IsImage():
			next.Text = "[deleted image]"
		case msg.IsFile():
			next.Text = "[deleted file]"
		default:
			next.Text = models.DeletedMessageText
		}
		next.IsDeleted = true
		next.LargeImageToken = nil
		next.ThumbnailImageToken = nil
		next.FileAttachmentToken = nil
	})
}

// archiveAndReplace flags the original archived in place, then upserts a new
// document linked to it. The original is marked archived locally once both
// writes succeed.
func (c *Chat) archiveAndReplace(ctx context.Context, op string, msg models.Message, edit func(*models.Message)) (*models.Message, error) {
	if msg.ID == "" || msg.RoomID == "" {
		return nil, fmt.Errorf("%s: %w: missing message or room id", op, ErrMalformedInput)
	}
	if msg.IsArchived {
		return nil, fmt.Errorf("%s: %w: message %s is archived", op, ErrMalformedInput, msg.ID)
	}
	room, ok := c.mutationContext(ctx, op, msg.RoomID, "")
	if !ok {
		return nil, nil
	}
	archived, err := c.storedArchived(ctx, room.MessagesID, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: read %s: %w", op, msg.ID, err)
	}
	if archived {
		return nil, fmt.Errorf("%s: %w: message %s is archived", op, ErrMalformedInput, msg.ID)
	}
	c.track(op, Requested)

	if err := c.store.Update(ctx, room.MessagesID, msg.ID, remote.Document{"isArchived": true}); err != nil {
		c.track(op, RolledBack)
		c.log.Error().Err(err).Str("message_id", msg.ID).Msg("archive_failed")
		return nil, fmt.Errorf("%s: archive %s: %w", op, msg.ID, err)
	}

	next := msg.Clone()
	next.ID = utils.NewID()
	next.IsArchived = false
	next.ArchivedMessage = msg.ID
	next.HasBeenConverted = false
	if next.Reactions == nil {
		next.Reactions = []models.Reaction{}
	}
	edit(&next)

	if err := c.insertMessage(ctx, room.MessagesID, next); err != nil {
		c.track(op, RolledBack)
		c.log.Error().Err(err).Str("message_id", msg.ID).Msg("replace_failed")
		if uerr := c.store.Update(ctx, room.MessagesID, msg.ID, remote.Document{"isArchived": false}); uerr != nil {
			c.log.Error().Err(uerr).Str("message_id", msg.ID).Msg("unarchive_failed")
		}
		return nil, err
	}
	c.state.Apply(state.MarkArchived{RoomID: msg.RoomID, MessageID: msg.ID})
	c.track(op, Confirmed)
	c.log.Info().Str("message_id", msg.ID).Str("replacement", next.ID).Str("op", op).Msg("message_replaced")
	return &next, nil
}

// storedArchived reports whether the stored copy of a message is archived.
// A message missing from the store counts as not archived.
func (c *Chat) storedArchived(ctx context.Context, collection, id string) (bool, error) {
	docs, err := c.store.Find(ctx, remote.Query{Collection: collection, Filter: query.Eq(remote.IDField, id)})
	if err != nil {
		return false, err
	}
	for _, doc := range docs {
		if archived, _ := doc["isArchived"].(bool); archived {
			return true, nil
		}
	}
	return false, nil
}

// AddReactionToMessage toggles r on msg: the local copy changes at once, the
// remote reactions field follows. A failed write restores the local list.
func (c *Chat) AddReactionToMessage(ctx context.Context, msg models.Message, room models.Room, r models.Reaction) error {
	if !c.CanPerformAction(models.PermAddReaction) {
		return ErrPermissionDenied
	}
	return c.react(ctx, "add_reaction", msg, room, r, state.ReactionToggle)
}

// RemoveReactionFromMessage drops r from msg. Only the current user's own
// reactions can be removed.
func (c *Chat) RemoveReactionFromMessage(ctx context.Context, msg models.Message, room models.Room, r models.Reaction) error {
	if r.UserID == "" {
		r.UserID = c.userID
	}
	if r.UserID != c.userID || !c.CanPerformAction(models.PermRemoveOwnReaction) {
		return ErrPermissionDenied
	}
	return c.react(ctx, "remove_reaction", msg, room, r, state.ReactionRemove)
}

func (c *Chat) react(ctx context.Context, op string, msg models.Message, room models.Room, r models.Reaction, kind state.ReactionOp) error {
	if msg.ID == "" {
		return fmt.Errorf("%s: %w: missing message id", op, ErrMalformedInput)
	}
	if r.Emoji == "" {
		return fmt.Errorf("%s: %w: missing emoji", op, ErrMalformedInput)
	}
	if r.UserID == "" {
		r.UserID = c.userID
	}
	if c.store == nil {
		c.log.Warn().Err(ErrNotInitialized).Str("op", op).Msg("mutation_skipped")
		return nil
	}
	roomID := room.ID
	if roomID == "" {
		roomID = msg.RoomID
	}
	collection := room.MessagesID
	if collection == "" {
		collection = models.MessagesCollection
	}
	c.track(op, Requested)

	ch := c.state.Apply(state.UpdateReactions{RoomID: roomID, MessageID: msg.ID, Reaction: r, Op: kind})
	after := ch.After
	if ch.Applied {
		c.track(op, LocalApplied)
	} else if kind == state.ReactionRemove {
		after = models.RemoveReaction(msg.Reactions, r)
	} else {
		after = models.ToggleReaction(msg.Reactions, r)
	}

	if err := c.store.Update(ctx, collection, msg.ID, remote.Document{"reactions": after}); err != nil {
		if ch.Applied {
			c.state.Apply(state.SetReactions{RoomID: roomID, MessageID: msg.ID, Reactions: ch.Before})
		}
		c.track(op, RolledBack)
		c.log.Warn().Err(err).Str("message_id", msg.ID).Str("op", op).Msg("reaction_rollback")
		return fmt.Errorf("%s %s: %w", op, msg.ID, err)
	}
	c.track(op, Confirmed)
	c.scheduleConsistencyCheck(collection, roomID, msg.ID)
	return nil
}

// scheduleConsistencyCheck compares the local reactions of a message with the
// stored document after the configured delay and adopts the stored list when
// they differ.
func (c *Chat) scheduleConsistencyCheck(collection, roomID, messageID string) {
	if c.delay < 0 {
		return
	}
	c.after(c.delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.delay+10*time.Second)
		defer cancel()
		docs, err := c.store.Find(ctx, remote.Query{Collection: collection, Filter: query.Eq(remote.IDField, messageID)})
		if err != nil || len(docs) == 0 {
			return
		}
		in, err := models.Ingest(docs[0])
		if err != nil {
			return
		}
		stored := in.Message.Reactions
		local, ok := c.state.Message(roomID, messageID)
		if !ok || models.ReactionsEqual(local.Message.Reactions, stored) {
			return
		}
		if stored == nil {
			stored = []models.Reaction{}
		}
		c.state.Apply(state.SetReactions{RoomID: roomID, MessageID: messageID, Reactions: stored})
		c.log.Info().Str("message_id", messageID).Msg("reaction_reconciled")
	})
}

// mutationContext resolves the store and the fresh room document for a
// mutation. It logs and reports false for the silent no-op cases.
func (c *Chat) mutationContext(ctx context.Context, op, roomID, collection string) (models.Room, bool) {
	if c.store == nil {
		c.log.Warn().Err(ErrNotInitialized).Str("op", op).Msg("mutation_skipped")
		return models.Room{}, false
	}
	if collection == "" {
		if known, ok := c.state.Room(roomID); ok {
			collection = known.CollectionID
		}
	}
	room, err := c.loadRoom(ctx, roomID, collection)
	if err != nil {
		c.log.Warn().Err(err).Str("op", op).Str("room_id", roomID).Msg("mutation_skipped")
		return models.Room{}, false
	}
	return room, true
}

func (c *Chat) insertMessage(ctx context.Context, collection string, msg models.Message) error {
	doc, err := remote.Encode(msg)
	if err != nil {
		return err
	}
	if err := c.store.Upsert(ctx, collection, doc); err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}
