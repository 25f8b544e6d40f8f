// Package chat contains the core concepts of the room synchronizer.
// No runtime, network, or storage logic should be added here.
package chat

import (
	"strings"
	"time"
	"unicode/utf8"
)

type RoomID string

// GeneralRoomID is the well-known id of the singleton general room.
const GeneralRoomID RoomID = "general"

type RoomKind string

const (
	KindGeneral RoomKind = "general"
	KindGroup   RoomKind = "group"
)

// Room kind never changes once created. Locked is only toggled by a moderator.
type Room struct {
	ID        RoomID     `json:"id"`
	Kind      RoomKind   `json:"kind"`
	Name      string     `json:"name"`
	Locked    bool       `json:"locked"`
	CreatedAt time.Time  `json:"createdAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func NewGeneralRoom(at time.Time) Room {
	return Room{ID: GeneralRoomID, Kind: KindGeneral, Name: "General", CreatedAt: at}
}

func NewGroupRoom(id RoomID, name string, at time.Time) Room {
	return Room{ID: id, Kind: KindGroup, Name: name, CreatedAt: at}
}

func (r Room) IsDeleted() bool {
	return r.DeletedAt != nil
}

// NormalizeRoomName trims the name and reports whether it fits in maxLength runes.
func NormalizeRoomName(name string, maxLength int) (string, bool) {
	trimmed := strings.TrimSpace(name)
	n := utf8.RuneCountInString(trimmed)
	return trimmed, n > 0 && n <= maxLength
}
