package core

import (
	"github.com/google/uuid"

	"pkt.systems/cortex/schema"
)

// NewSessionID returns a fresh identifier prefixed with the session kind.
func NewSessionID(kind schema.SessionKind) schema.SessionID {
	return schema.SessionID(string(kind) + "-" + uuid.NewString())
}
