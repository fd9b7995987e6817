package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/query"
	"github.com/getditto/DittoChat-sub001/internal/remote"
)

func subscribedRoom(t *testing.T, c *Chat, name string) models.Room {
	t.Helper()
	room, err := c.CreateRoom(context.Background(), name)
	require.NoError(t, err)
	require.NotNil(t, room)
	require.NoError(t, c.SubscribeRoom(*room, nil))
	return *room
}

func TestCreateMessageAppearsThroughFeed(t *testing.T) {
	c, _ := newTestChat(t)
	room := subscribedRoom(t, c, "General")

	msg, err := c.CreateMessage(context.Background(), room, "hello")
	require.NoError(t, err)
	require.NotNil(t, msg)

	list := c.Messages(room.ID)
	require.Len(t, list, 1)
	assert.Equal(t, msg.ID, list[0].Message.ID)
	assert.Equal(t, "u1", list[0].Message.UserID)
}

func TestCreateMessageUsesFreshRoomDocument(t *testing.T) {
	c, store := newTestChat(t)
	seed(t, store, models.DMRoomsCollection, models.Room{
		ID: "dm1", MessagesID: models.DMMessagesCollection, CollectionID: models.DMRoomsCollection,
	})

	// The caller's copy has no collection ids at all.
	msg, err := c.CreateMessage(context.Background(), models.Room{ID: "dm1"}, "psst")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Len(t, store.Documents(models.DMMessagesCollection), 1)
	assert.Empty(t, store.Documents(models.MessagesCollection))
}

func TestCreateMessageUnknownRoomIsNoop(t *testing.T) {
	c, store := newTestChat(t)
	msg, err := c.CreateMessage(context.Background(), models.Room{ID: "missing"}, "hello")
	assert.NoError(t, err)
	assert.Nil(t, msg)
	assert.Empty(t, store.Documents(models.MessagesCollection))
}

func TestCreateMessageRemoteFailure(t *testing.T) {
	c, store := newTestChat(t)
	room := subscribedRoom(t, c, "General")
	store.FailWrites(errors.New("offline"))

	msg, err := c.CreateMessage(context.Background(), room, "hello")
	assert.Error(t, err)
	assert.Nil(t, msg)
	assert.Empty(t, c.Messages(room.ID))
}

func TestCreateMessageRejectsEmptyText(t *testing.T) {
	c, _ := newTestChat(t)
	_, err := c.CreateMessage(context.Background(), models.Room{ID: "r1"}, "   ")
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestCreateMessageRecordsMentions(t *testing.T) {
	c, store := newTestChat(t)
	seed(t, store, models.UsersCollection, models.ChatUser{ID: "u2", Name: "Grace"})
	room := subscribedRoom(t, c, "General")

	msg, err := c.CreateMessage(context.Background(), room, "hi @Grace", "u2")
	require.NoError(t, err)

	u, ok := c.FindUser("u2")
	require.True(t, ok)
	assert.Equal(t, []string{msg.ID}, u.Mentions[room.ID])
}

func TestMentionsRequirePermission(t *testing.T) {
	c, _ := newTestChat(t, func(o *Options) {
		o.RBAC = models.RBACConfig{models.PermMentionUsers: false}
	})
	room := subscribedRoom(t, c, "General")

	_, err := c.CreateMessage(context.Background(), room, "hi", "u2")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = c.CreateMessage(context.Background(), room, "hi")
	assert.NoError(t, err)
}

func TestEditArchivesAndReplaces(t *testing.T) {
	c, store := newTestChat(t)
	room := subscribedRoom(t, c, "General")
	orig, err := c.CreateMessage(context.Background(), room, "tpyo")
	require.NoError(t, err)

	edited, err := c.SaveEditedTextMessage(context.Background(), *orig, "typo")
	require.NoError(t, err)
	require.NotNil(t, edited)

	archived, linked := 0, 0
	for _, doc := range store.Documents(models.MessagesCollection) {
		if doc["isArchived"] == true {
			archived++
			assert.Equal(t, orig.ID, doc["_id"])
		} else if doc["archivedMessage"] == orig.ID {
			linked++
			assert.Equal(t, "typo", doc["text"])
			assert.Equal(t, true, doc["isEdited"])
		}
	}
	assert.Equal(t, 1, archived)
	assert.Equal(t, 1, linked)

	visible := c.VisibleMessages(room.ID)
	require.Len(t, visible, 1)
	assert.Equal(t, edited.ID, visible[0].Message.ID)
	assert.Len(t, c.Messages(room.ID), 2)
}

func TestArchivedOriginalCannotBeReplacedAgain(t *testing.T) {
	c, store := newTestChat(t)
	ctx := context.Background()
	room := subscribedRoom(t, c, "General")
	orig, err := c.CreateMessage(ctx, room, "v0")
	require.NoError(t, err)
	_, err = c.SaveEditedTextMessage(ctx, *orig, "v1")
	require.NoError(t, err)

	var local models.Message
	for _, m := range c.Messages(room.ID) {
		if m.Message.ID == orig.ID {
			local = m.Message
		}
	}
	require.True(t, local.IsArchived)

	_, err = c.SaveEditedTextMessage(ctx, local, "v2")
	assert.ErrorIs(t, err, ErrMalformedInput)
	_, err = c.SaveDeletedTextMessage(ctx, local)
	assert.ErrorIs(t, err, ErrMalformedInput)

	// A copy taken before the edit still carries isArchived false.
	_, err = c.SaveEditedTextMessage(ctx, *orig, "v2")
	assert.ErrorIs(t, err, ErrMalformedInput)
	_, err = c.SaveDeletedTextMessage(ctx, *orig)
	assert.ErrorIs(t, err, ErrMalformedInput)

	linked := 0
	for _, doc := range store.Documents(models.MessagesCollection) {
		if doc["archivedMessage"] == orig.ID {
			linked++
		}
	}
	assert.Equal(t, 1, linked)
	assert.Len(t, c.VisibleMessages(room.ID), 1)
}

func TestDeleteLeavesPlaceholder(t *testing.T) {
	c, store := newTestChat(t)
	room := subscribedRoom(t, c, "General")
	orig, err := c.CreateMessage(context.Background(), room, "oops")
	require.NoError(t, err)

	deleted, err := c.SaveDeletedTextMessage(context.Background(), *orig)
	require.NoError(t, err)
	assert.Equal(t, models.DeletedMessageText, deleted.Text)
	assert.True(t, deleted.IsDeleted)
	assert.Equal(t, orig.ID, deleted.ArchivedMessage)
	assert.Len(t, store.Documents(models.MessagesCollection), 2)
}

func TestEditOthersMessageDenied(t *testing.T) {
	c, store := newTestChat(t)
	room := subscribedRoom(t, c, "General")
	seed(t, store, models.MessagesCollection, models.Message{
		ID: "theirs", RoomID: room.ID, UserID: "u2", Text: "x", CreatedOn: daysAgo(0),
	})

	_, err := c.SaveEditedTextMessage(context.Background(), models.Message{ID: "theirs", RoomID: room.ID, UserID: "u2"}, "y")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestEditFailureLeavesOriginalVisible(t *testing.T) {
	c, store := newTestChat(t)
	room := subscribedRoom(t, c, "General")
	orig, err := c.CreateMessage(context.Background(), room, "keep")
	require.NoError(t, err)

	store.FailWrites(errors.New("offline"))
	_, err = c.SaveEditedTextMessage(context.Background(), *orig, "changed")
	assert.Error(t, err)
	assert.Len(t, c.VisibleMessages(room.ID), 1)
}

func TestReactionAddThenRemoveRestoresList(t *testing.T) {
	c, store := newTestChat(t)
	room := subscribedRoom(t, c, "General")
	msg, err := c.CreateMessage(context.Background(), room, "react to me")
	require.NoError(t, err)
	r := models.Reaction{UserID: "u1", Emoji: "👍"}

	require.NoError(t, c.AddReactionToMessage(context.Background(), *msg, room, r))
	local, ok := c.State().Message(room.ID, msg.ID)
	require.True(t, ok)
	assert.Equal(t, []models.Reaction{r}, local.Message.Reactions)

	require.NoError(t, c.RemoveReactionFromMessage(context.Background(), *msg, room, r))
	local, _ = c.State().Message(room.ID, msg.ID)
	assert.Empty(t, local.Message.Reactions)

	stored, err := store.Find(context.Background(), remote.Query{
		Collection: models.MessagesCollection, Filter: query.Eq("_id", msg.ID),
	})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Empty(t, stored[0]["reactions"])
}

func TestReactionToggleTwiceIsInvolution(t *testing.T) {
	c, _ := newTestChat(t)
	room := subscribedRoom(t, c, "General")
	msg, err := c.CreateMessage(context.Background(), room, "x")
	require.NoError(t, err)
	r := models.Reaction{Emoji: "🎉"}

	require.NoError(t, c.AddReactionToMessage(context.Background(), *msg, room, r))
	require.NoError(t, c.AddReactionToMessage(context.Background(), *msg, room, r))

	local, _ := c.State().Message(room.ID, msg.ID)
	assert.Empty(t, local.Message.Reactions)
}

func TestReactionRollbackOnRemoteFailure(t *testing.T) {
	c, store := newTestChat(t)
	room := subscribedRoom(t, c, "General")
	msg, err := c.CreateMessage(context.Background(), room, "x")
	require.NoError(t, err)

	store.FailWrites(errors.New("rejected"))
	err = c.AddReactionToMessage(context.Background(), *msg, room, models.Reaction{Emoji: "👍"})
	assert.Error(t, err)

	local, _ := c.State().Message(room.ID, msg.ID)
	assert.Empty(t, local.Message.Reactions)
}

func TestReactionPermissions(t *testing.T) {
	c, _ := newTestChat(t, func(o *Options) {
		o.RBAC = models.RBACConfig{models.PermAddReaction: false}
	})
	room := subscribedRoom(t, c, "General")
	msg, err := c.CreateMessage(context.Background(), room, "x")
	require.NoError(t, err)

	err = c.AddReactionToMessage(context.Background(), *msg, room, models.Reaction{Emoji: "👍"})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	err = c.RemoveReactionFromMessage(context.Background(), *msg, room, models.Reaction{UserID: "u2", Emoji: "👍"})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestConsistencyCheckAdoptsStoredReactions(t *testing.T) {
	c, store := newTestChat(t, func(o *Options) {
		o.ConsistencyCheckDelay = 20 * time.Millisecond
	})
	room := subscribedRoom(t, c, "General")
	msg, err := c.CreateMessage(context.Background(), room, "x")
	require.NoError(t, err)

	require.NoError(t, c.AddReactionToMessage(context.Background(), *msg, room, models.Reaction{Emoji: "👍"}))
	// Another peer overwrote the list in the meantime.
	other := []models.Reaction{{UserID: "u2", Emoji: "🔥"}}
	require.NoError(t, store.Update(context.Background(), models.MessagesCollection, msg.ID,
		remote.Document{"reactions": other}))

	assert.Eventually(t, func() bool {
		local, ok := c.State().Message(room.ID, msg.ID)
		return ok && models.ReactionsEqual(local.Message.Reactions, other)
	}, time.Second, 10*time.Millisecond)
}
