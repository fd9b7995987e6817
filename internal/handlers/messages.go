package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/services"
)

// GetMessages lists a room's messages oldest first. Archived versions are
// hidden unless archived=true.
func GetMessages(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	roomID := chi.URLParam(r, "roomID")
	msgs := c.VisibleMessages(roomID)
	if r.URL.Query().Get("archived") == "true" {
		msgs = c.Messages(roomID)
	}
	respondOK(w, http.StatusOK, map[string]interface{}{
		"messages":   msgs,
		"subscribed": c.IsSubscribed(roomID),
	})
}

type createMessageRequest struct {
	Text     string   `json:"text"`
	Mentions []string `json:"mentions"`
}

// CreateMessage posts a text message.
func CreateMessage(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	room, ok := roomParam(w, r, c)
	if !ok {
		return
	}
	var req createMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := c.CreateMessage(r.Context(), room, req.Text, req.Mentions...)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if msg == nil {
		respondServiceError(w, services.ErrRoomNotFound)
		return
	}
	respondOK(w, http.StatusCreated, msg)
}

// messageParam resolves {roomID} and {messageID} against the local replica.
func messageParam(w http.ResponseWriter, r *http.Request, c *services.Chat) (models.Room, models.Message, bool) {
	room, ok := roomParam(w, r, c)
	if !ok {
		return models.Room{}, models.Message{}, false
	}
	mw, ok := c.State().Message(room.ID, chi.URLParam(r, "messageID"))
	if !ok {
		respondError(w, http.StatusNotFound, "Message not found")
		return models.Room{}, models.Message{}, false
	}
	return room, mw.Message, true
}

type editMessageRequest struct {
	Text string `json:"text"`
}

// EditMessage archives a message and posts its edited replacement.
func EditMessage(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	_, msg, ok := messageParam(w, r, c)
	if !ok {
		return
	}
	var req editMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	next, err := c.SaveEditedTextMessage(r.Context(), msg, req.Text)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if next == nil {
		respondServiceError(w, services.ErrRoomNotFound)
		return
	}
	respondOK(w, http.StatusOK, next)
}

// DeleteMessage archives a message and posts a placeholder.
func DeleteMessage(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	_, msg, ok := messageParam(w, r, c)
	if !ok {
		return
	}
	next, err := c.SaveDeletedTextMessage(r.Context(), msg)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if next == nil {
		respondServiceError(w, services.ErrRoomNotFound)
		return
	}
	respondOK(w, http.StatusOK, next)
}

// AddReaction toggles the caller's reaction on a message.
func AddReaction(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	room, msg, ok := messageParam(w, r, c)
	if !ok {
		return
	}
	var reaction models.Reaction
	if !decodeBody(w, r, &reaction) {
		return
	}
	reaction.UserID = c.UserID()
	if strings.TrimSpace(reaction.Emoji) == "" {
		respondError(w, http.StatusBadRequest, "emoji is required")
		return
	}
	if err := c.AddReactionToMessage(r.Context(), msg, room, reaction); err != nil {
		respondServiceError(w, err)
		return
	}
	respondReactions(w, c, room.ID, msg.ID)
}

// RemoveReaction removes the caller's reaction named by the emoji query
// parameter.
func RemoveReaction(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	room, msg, ok := messageParam(w, r, c)
	if !ok {
		return
	}
	emoji := strings.TrimSpace(r.URL.Query().Get("emoji"))
	if emoji == "" {
		respondError(w, http.StatusBadRequest, "emoji is required")
		return
	}
	reaction := models.Reaction{UserID: c.UserID(), Emoji: emoji}
	if err := c.RemoveReactionFromMessage(r.Context(), msg, room, reaction); err != nil {
		respondServiceError(w, err)
		return
	}
	respondReactions(w, c, room.ID, msg.ID)
}

func respondReactions(w http.ResponseWriter, c *services.Chat, roomID, messageID string) {
	reactions := []models.Reaction{}
	if mw, ok := c.State().Message(roomID, messageID); ok && mw.Message.Reactions != nil {
		reactions = mw.Message.Reactions
	}
	respondOK(w, http.StatusOK, map[string]interface{}{"reactions": reactions})
}
