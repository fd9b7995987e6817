package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/services"
)

var (
	chatService *services.Chat
	logger      = zerolog.Nop()
)

// InitChatService binds the handlers to an engine.
func InitChatService(c *services.Chat, log zerolog.Logger) {
	chatService = c
	logger = log.With().Str("component", "http").Logger()
}

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondOK(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, Response{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Success: false, Message: message})
}

// respondServiceError maps engine errors onto status codes.
func respondServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrMalformedInput), errors.Is(err, services.ErrMissingToken):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrRoomNotFound), errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrMissingUser):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrAttachmentDeleted):
		status = http.StatusGone
	case errors.Is(err, services.ErrNotInitialized):
		status = http.StatusServiceUnavailable
	case errors.Is(err, services.ErrDigestMismatch):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request_failed")
	}
	respondError(w, status, err.Error())
}

// engine returns the bound engine or replies 503.
func engine(w http.ResponseWriter) (*services.Chat, bool) {
	if chatService == nil {
		respondError(w, http.StatusServiceUnavailable, "Chat engine not initialized")
		return nil, false
	}
	return chatService, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// GetMe returns the signed-in user as last synced.
func GetMe(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	me, ok := c.CurrentUser()
	if !ok {
		respondError(w, http.StatusNotFound, "Current user not synced yet")
		return
	}
	respondOK(w, http.StatusOK, me)
}

type updateMeRequest struct {
	Name string `json:"name"`
}

// UpdateMe renames the signed-in user.
func UpdateMe(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	var req updateMeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := c.RenameCurrentUser(r.Context(), req.Name); err != nil {
		respondServiceError(w, err)
		return
	}
	respondOK(w, http.StatusOK, nil)
}

// GetUsers returns the roster.
func GetUsers(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	respondOK(w, http.StatusOK, map[string]interface{}{
		"users":   c.Users(),
		"loading": c.UsersLoading(),
	})
}

// GetPermissions resolves every permission key.
func GetPermissions(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	respondOK(w, http.StatusOK, c.Permissions())
}

// UpdatePermissions merges overrides into the RBAC config.
func UpdatePermissions(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	var patch models.RBACConfig
	if !decodeBody(w, r, &patch) {
		return
	}
	c.UpdateRBACConfig(patch)
	respondOK(w, http.StatusOK, c.Permissions())
}

// Logout cancels every standing registration. Cached content is kept.
func Logout(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	n := c.Logout()
	respondOK(w, http.StatusOK, map[string]int{"cancelled": n})
}
