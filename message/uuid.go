package message

import "github.com/google/uuid"

// IDGenerator generates unique message IDs.
type IDGenerator func() string

// DefaultIDGenerator is used by NewContext to assign message IDs.
// Tests replace it for deterministic IDs.
var DefaultIDGenerator IDGenerator = NewID

// NewID returns a random RFC 4122 version 4 UUID string.
func NewID() string {
	return uuid.NewString()
}
