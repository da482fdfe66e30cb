// Package domain holds the relay's plain value types.
package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxUsernameLen = 36

	// GuestName is used when a client joins without asking for a name.
	GuestName = "guest"
)

type UserID string

// User is the identity behind one control connection. Username stays empty
// until the connection joins; the registry then fills in the effective name.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

func NewUser() *User {
	return &User{ID: UserID(uuid.NewString())}
}

// NormalizeUsername trims the requested display name and caps it at
// MaxUsernameLen runes. An empty request becomes GuestName. Collision
// suffixes are added later and may exceed the cap.
func NormalizeUsername(requested string) string {
	name := strings.TrimSpace(requested)
	if utf8.RuneCountInString(name) > MaxUsernameLen {
		name = string([]rune(name)[:MaxUsernameLen])
	}
	if name == "" {
		return GuestName
	}
	return name
}
