package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a chat event.
type Role string

// Chat event roles. The set is closed; stores reject anything else.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the recognized roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ChatEvent is the immutable record of a single conversation turn. Events are
// append-only: once persisted they are never mutated or deleted, and ordering
// is by CreatedAt with the insertion sequence (Seq) as tie-break.
type ChatEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// NewChatEvent creates a chat event bound to a session with a fresh id and a
// UTC timestamp. Seq is assigned by the store on append.
func NewChatEvent(sessionID string, role Role, content string) ChatEvent {
	return ChatEvent{
		ID:        NewID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewID returns a new unique identifier (UUID v4 string).
func NewID() string { return uuid.NewString() }
