package services

import "errors"

var (
	// ErrNotInitialized means the engine has no remote store.
	ErrNotInitialized = errors.New("chat: store not initialized")
	// ErrRoomNotFound means the referenced room document does not exist.
	ErrRoomNotFound = errors.New("chat: room not found")
	// ErrUserNotFound means the referenced user document does not exist.
	ErrUserNotFound = errors.New("chat: user not found")
	// ErrMissingUser means the signed-in user's document is not available.
	ErrMissingUser = errors.New("chat: current user missing")
	// ErrMalformedInput rejects a call before any remote write is issued.
	ErrMalformedInput = errors.New("chat: malformed input")
	// ErrPermissionDenied means the RBAC config forbids the action.
	ErrPermissionDenied = errors.New("chat: permission denied")
	// ErrMissingToken means an attachment fetch was requested without a token.
	ErrMissingToken = errors.New("chat: missing attachment token")
	// ErrAttachmentDeleted means the attachment no longer exists remotely.
	ErrAttachmentDeleted = errors.New("chat: attachment deleted")
	// ErrDigestMismatch means downloaded bytes do not match the recorded digest.
	ErrDigestMismatch = errors.New("chat: attachment digest mismatch")
	// ErrAlreadyOpen is returned by Open while another engine holds the process slot.
	ErrAlreadyOpen = errors.New("chat: engine already open")
)
