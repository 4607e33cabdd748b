package timeline

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a message id that is stable for the lifetime of one mounted widget.
func NewID() string {
	return uuid.NewString()
}

// NormalizeID trims id and falls back to a fresh id when it is empty.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return NewID()
	}
	return id
}
