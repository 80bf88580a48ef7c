package canvas

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a 16 hex character identifier in the form the host uses.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
