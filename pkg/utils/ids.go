package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a document id. Ids are generated locally before the write so
// the observer firing that echoes the write is recognized by id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
