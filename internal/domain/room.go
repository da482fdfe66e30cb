package domain

import (
	"strings"
	"unicode/utf8"
)

const MaxRoomNameLen = 64

type RoomName string

type Room struct {
	Name RoomName
}

// NormalizeRoomName trims the name and caps its length. An empty result
// means the name is unusable.
func NormalizeRoomName(raw string) RoomName {
	name := strings.TrimSpace(raw)
	if utf8.RuneCountInString(name) > MaxRoomNameLen {
		name = string([]rune(name)[:MaxRoomNameLen])
	}
	return RoomName(name)
}
