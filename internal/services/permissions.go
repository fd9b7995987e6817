package services

import (
	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/state"
)

// CanPerformAction returns the override for key when one is set, including an
// explicit false, and the built-in default otherwise.
func (c *Chat) CanPerformAction(key models.PermissionKey) bool {
	if v, ok := c.state.RBAC()[key]; ok {
		return v
	}
	return models.DefaultPermissions[key]
}

// UpdateRBACConfig merges patch into the overrides. Keys missing from patch
// keep their current value; an empty patch changes nothing.
func (c *Chat) UpdateRBACConfig(patch models.RBACConfig) {
	if len(patch) == 0 {
		return
	}
	c.state.Apply(state.MergeRBAC{Patch: patch})
	c.log.Info().Int("keys", len(patch)).Msg("rbac_updated")
}

// Permissions resolves every known key.
func (c *Chat) Permissions() map[models.PermissionKey]bool {
	out := make(map[models.PermissionKey]bool, len(models.AllPermissions))
	for _, k := range models.AllPermissions {
		out[k] = c.CanPerformAction(k)
	}
	return out
}
