package core

import (
	"sort"
	"sync"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory membership set.
// It never closes adapter-owned resources.
type roomImpl struct {
	room    *domain.Room
	mu      sync.RWMutex
	members map[string]struct{}
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:    room,
		members: make(map[string]struct{}),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *roomImpl) AddMember(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[name]; ok {
		return false
	}
	r.members[name] = struct{}{}
	log.Debug().Str("module", "core.room").Str("room", string(r.room.Name)).Str("name", name).Msg("member added")
	return true
}

func (r *roomImpl) RemoveMember(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[name]; !ok {
		return false
	}
	delete(r.members, name)
	log.Debug().Str("module", "core.room").Str("room", string(r.room.Name)).Str("name", name).Msg("member removed")
	return true
}

func (r *roomImpl) Members() []string {
	return r.MembersExcluding("")
}

// MembersExcluding returns a sorted snapshot without exclude.
func (r *roomImpl) MembersExcluding(exclude string) []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.members))
	for name := range r.members {
		if name == exclude {
			continue
		}
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
