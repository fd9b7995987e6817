package models

// PermissionKey names an action gated by the RBAC config.
type PermissionKey string

const (
	PermCreateRoom        PermissionKey = "canCreateRoom"
	PermEditOwnMessage    PermissionKey = "canEditOwnMessage"
	PermDeleteOwnMessage  PermissionKey = "canDeleteOwnMessage"
	PermAddReaction       PermissionKey = "canAddReaction"
	PermRemoveOwnReaction PermissionKey = "canRemoveOwnReaction"
	PermMentionUsers      PermissionKey = "canMentionUsers"
	PermSubscribeToRoom   PermissionKey = "canSubscribeToRoom"
)

// AllPermissions lists every known permission key.
var AllPermissions = []PermissionKey{
	PermCreateRoom,
	PermEditOwnMessage,
	PermDeleteOwnMessage,
	PermAddReaction,
	PermRemoveOwnReaction,
	PermMentionUsers,
	PermSubscribeToRoom,
}

// DefaultPermissions are used for keys absent from the override map.
var DefaultPermissions = map[PermissionKey]bool{
	PermCreateRoom:        true,
	PermEditOwnMessage:    true,
	PermDeleteOwnMessage:  true,
	PermAddReaction:       true,
	PermRemoveOwnReaction: true,
	PermMentionUsers:      true,
	PermSubscribeToRoom:   true,
}

// RBACConfig is a partial override map. Absent keys fall back to
// DefaultPermissions; explicit false values are honoured.
type RBACConfig map[PermissionKey]bool

// Clone copies the override map.
func (c RBACConfig) Clone() RBACConfig {
	out := make(RBACConfig, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
