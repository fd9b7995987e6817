package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/services"
)

// GetRooms lists rooms and DM rooms ordered by creation time.
func GetRooms(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	respondOK(w, http.StatusOK, map[string]interface{}{
		"rooms":   c.Rooms(),
		"loading": c.State().RoomsLoading(),
	})
}

type createRoomRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	RetentionDays *int   `json:"retentionDays"`
}

// CreateRoom creates or overwrites a room.
func CreateRoom(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	var req createRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var opts []services.RoomOption
	if req.ID != "" {
		opts = append(opts, services.WithRoomID(req.ID))
	}
	if req.RetentionDays != nil {
		opts = append(opts, services.WithRetention(*req.RetentionDays))
	}
	room, err := c.CreateRoom(r.Context(), req.Name, opts...)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if room == nil {
		respondServiceError(w, services.ErrNotInitialized)
		return
	}
	respondOK(w, http.StatusCreated, room)
}

type createDMRoomRequest struct {
	UserID string `json:"userId"`
}

// CreateDMRoom returns the DM room with another user, creating it if needed.
func CreateDMRoom(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	var req createDMRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	room, err := c.CreateDMRoom(r.Context(), req.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if room == nil {
		respondServiceError(w, services.ErrUserNotFound)
		return
	}
	respondOK(w, http.StatusOK, room)
}

// roomParam resolves the {roomID} URL parameter against the local registry.
func roomParam(w http.ResponseWriter, r *http.Request, c *services.Chat) (models.Room, bool) {
	room, ok := c.FindRoom(chi.URLParam(r, "roomID"))
	if !ok {
		respondServiceError(w, services.ErrRoomNotFound)
		return models.Room{}, false
	}
	return room, true
}

// SubscribeRoom starts syncing a room and records the subscription on the
// user document. An optional retentionDays query parameter overrides the
// retention window; a negative value keeps every message.
func SubscribeRoom(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	room, ok := roomParam(w, r, c)
	if !ok {
		return
	}
	var days *int
	if v := r.URL.Query().Get("retentionDays"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "retentionDays must be an integer")
			return
		}
		days = &n
	}
	if err := c.SubscribeRoom(room, days); err != nil {
		respondServiceError(w, err)
		return
	}
	if err := c.SubscribeToRoom(r.Context(), room.ID); err != nil {
		respondServiceError(w, err)
		return
	}
	respondOK(w, http.StatusOK, map[string]bool{"subscribed": c.IsSubscribed(room.ID)})
}

// UnsubscribeRoom clears the user's subscription entry for a room.
func UnsubscribeRoom(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	if err := c.UnsubscribeFromRoom(r.Context(), chi.URLParam(r, "roomID")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondOK(w, http.StatusOK, nil)
}

// MarkRoomRead bumps the last-read marker and clears pending mentions.
func MarkRoomRead(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	if err := c.MarkRoomAsRead(r.Context(), chi.URLParam(r, "roomID")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondOK(w, http.StatusOK, nil)
}
