package core

import (
	"github.com/dkeye/Relay/internal/domain"
)

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	Members() []string
	MembersExcluding(name string) []string

	// AddMember and RemoveMember are idempotent; they report whether the
	// set changed.
	AddMember(name string) bool
	RemoveMember(name string) bool
}

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"member_count"`
}

type RoomManager interface {
	// Ensure creates the room if absent and reports whether it was created.
	Ensure(name domain.RoomName) (RoomService, bool)
	Get(name domain.RoomName) (RoomService, bool)
	Join(name domain.RoomName, member string) bool
	Leave(name domain.RoomName, member string) bool
	// LeaveAll removes member from every room and returns the rooms it was in.
	LeaveAll(member string) []domain.RoomName
	MembersExcluding(name domain.RoomName, exclude string) []string
	List() []RoomInfo
	// RemoveIfIdle deletes the room when it has no members. found is false
	// for an unknown room.
	RemoveIfIdle(name domain.RoomName) (found, removed bool)
}
