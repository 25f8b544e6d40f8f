package chat

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Message is a persisted chat message.
// Within a room, messages are totally ordered by (CreatedAt, ID).
// An edit keeps ID and CreatedAt and sets EditedAt.
type Message struct {
	ID                uuid.UUID  `json:"id"`
	Room              RoomID     `json:"roomId"`
	SenderID          string     `json:"senderId"`
	SenderDisplayName string     `json:"senderDisplayName"`
	Content           string     `json:"content"`
	CreatedAt         time.Time  `json:"createdAt"`
	EditedAt          *time.Time `json:"editedAt,omitempty"`
	IdempotencyKey    string     `json:"idempotencyKey,omitempty"`
}

// Cursor returns the position of the message in its room timeline.
func (m Message) Cursor() Cursor {
	return NewCursor(m.CreatedAt, m.ID)
}

// Before reports whether m sorts strictly before other in (CreatedAt, ID) order.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return strings.Compare(m.ID.String(), other.ID.String()) < 0
}

// NormalizeContent trims the content and reports whether it is non-empty
// and at most maxLength runes long.
func NormalizeContent(content string, maxLength int) (string, bool) {
	trimmed := strings.TrimSpace(content)
	n := utf8.RuneCountInString(trimmed)
	return trimmed, n > 0 && n <= maxLength
}

// PresenceEntry lives only in memory.
type PresenceEntry struct {
	Room      RoomID    `json:"roomId"`
	UserID    string    `json:"userId"`
	Typing    bool      `json:"typing"`
	UpdatedAt time.Time `json:"updatedAt"`
}
