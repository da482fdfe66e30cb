package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomManagerImpl keeps rooms for the life of the process; an emptied room
// stays listed and broadcasting to it is a no-op.
type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]core.RoomService
}

var _ core.RoomManager = (*RoomManagerImpl)(nil)

func NewRoomManager() *RoomManagerImpl {
	return &RoomManagerImpl{rooms: make(map[domain.RoomName]core.RoomService)}
}

func (f *RoomManagerImpl) Ensure(name domain.RoomName) (core.RoomService, bool) {
	f.mu.RLock()
	room, ok := f.rooms[name]
	f.mu.RUnlock()
	if ok {
		return room, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ensureLocked(name)
}

func (f *RoomManagerImpl) ensureLocked(name domain.RoomName) (core.RoomService, bool) {
	if room, ok := f.rooms[name]; ok {
		return room, false
	}
	room := core.NewRoomService(&domain.Room{Name: name})
	f.rooms[name] = room
	log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("room created")
	return room, true
}

func (f *RoomManagerImpl) Get(name domain.RoomName) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[name]
	return room, ok
}

// Join adds member while holding the manager lock so a concurrent
// RemoveIfIdle cannot drop the room underneath it.
func (f *RoomManagerImpl) Join(name domain.RoomName, member string) bool {
	f.mu.RLock()
	if room, ok := f.rooms[name]; ok {
		added := room.AddMember(member)
		f.mu.RUnlock()
		return added
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	room, _ := f.ensureLocked(name)
	return room.AddMember(member)
}

func (f *RoomManagerImpl) Leave(name domain.RoomName, member string) bool {
	room, ok := f.Get(name)
	if !ok {
		return false
	}
	return room.RemoveMember(member)
}

func (f *RoomManagerImpl) LeaveAll(member string) []domain.RoomName {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var left []domain.RoomName
	for name, room := range f.rooms {
		if room.RemoveMember(member) {
			left = append(left, name)
		}
	}
	sort.Slice(left, func(i, j int) bool { return left[i] < left[j] })
	return left
}

func (f *RoomManagerImpl) MembersExcluding(name domain.RoomName, exclude string) []string {
	room, ok := f.Get(name)
	if !ok {
		return nil
	}
	return room.MembersExcluding(exclude)
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for name, r := range f.rooms {
		out = append(out, core.RoomInfo{Name: name, MemberCount: r.MemberCount()})
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f *RoomManagerImpl) RemoveIfIdle(name domain.RoomName) (found, removed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[name]
	if !ok {
		return false, false
	}
	if room.MemberCount() > 0 {
		return true, false
	}
	delete(f.rooms, name)
	log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("room removed")
	return true, true
}
