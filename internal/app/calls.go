package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

// CallTracker holds accepted private calls and active group-call
// participant sets. Pending requests are never recorded.
type CallTracker struct {
	mu     sync.RWMutex
	peers  map[string]string
	groups map[domain.RoomName]map[string]struct{}
}

func NewCallTracker() *CallTracker {
	return &CallTracker{
		peers:  make(map[string]string),
		groups: make(map[domain.RoomName]map[string]struct{}),
	}
}

// Connect records an accepted private call between a and b in both
// directions. Any previous partner of a or b loses its call and is returned
// so the caller can tell them.
func (t *CallTracker) Connect(a, b string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var displaced []string
	for _, p := range [2][2]string{{a, b}, {b, a}} {
		self, want := p[0], p[1]
		if old, ok := t.peers[self]; ok && old != want {
			if t.peers[old] == self {
				delete(t.peers, old)
			}
			displaced = append(displaced, old)
		}
	}
	t.peers[a] = b
	t.peers[b] = a
	log.Info().Str("module", "app.calls").Str("a", a).Str("b", b).Msg("private call accepted")
	return displaced
}

func (t *CallTracker) Partner(name string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[name]
	return p, ok
}

// EndPrivate removes name's private call from both sides and returns the
// former partner. Ending a call that does not exist is a no-op.
func (t *CallTracker) EndPrivate(name string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endPrivateLocked(name)
}

func (t *CallTracker) endPrivateLocked(name string) (string, bool) {
	peer, ok := t.peers[name]
	if !ok {
		return "", false
	}
	delete(t.peers, name)
	if t.peers[peer] == name {
		delete(t.peers, peer)
	}
	log.Info().Str("module", "app.calls").Str("a", name).Str("b", peer).Msg("private call ended")
	return peer, true
}

// Busy reports whether name is in a private call or streaming into any
// group call.
func (t *CallTracker) Busy(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.peers[name]; ok {
		return true
	}
	for _, set := range t.groups {
		if _, ok := set[name]; ok {
			return true
		}
	}
	return false
}

// JoinGroup adds name to room's active set, creating the call on first
// join. It returns the participant count after the join.
func (t *CallTracker) JoinGroup(room domain.RoomName, name string) (count int, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.groups[room]
	if !ok {
		set = make(map[string]struct{})
		t.groups[room] = set
		created = true
	}
	set[name] = struct{}{}
	log.Info().Str("module", "app.calls").Str("room", string(room)).Str("name", name).Int("participants", len(set)).Msg("group call joined")
	return len(set), created
}

// LeaveGroup removes name from room's active set. ended is true when the
// set became empty and the call record was deleted; remaining lists who is
// still streaming otherwise.
func (t *CallTracker) LeaveGroup(room domain.RoomName, name string) (remaining []string, ended, left bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaveGroupLocked(room, name)
}

func (t *CallTracker) leaveGroupLocked(room domain.RoomName, name string) (remaining []string, ended, left bool) {
	set, ok := t.groups[room]
	if !ok {
		return nil, false, false
	}
	if _, ok := set[name]; !ok {
		return nil, false, false
	}
	delete(set, name)
	if len(set) == 0 {
		delete(t.groups, room)
		log.Info().Str("module", "app.calls").Str("room", string(room)).Msg("group call ended")
		return nil, true, true
	}
	return sortedKeys(set), false, true
}

// GroupsOf lists the rooms whose active call includes name.
func (t *CallTracker) GroupsOf(name string) []domain.RoomName {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var rooms []domain.RoomName
	for room, set := range t.groups {
		if _, ok := set[name]; ok {
			rooms = append(rooms, room)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms
}

func (t *CallTracker) HasGroup(room domain.RoomName) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.groups[room]
	return ok
}

// ParticipantsExcluding returns room's active set without exclude, or nil
// when there is no active call.
func (t *CallTracker) ParticipantsExcluding(room domain.RoomName, exclude string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set, ok := t.groups[room]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for name := range set {
		if name != exclude {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (t *CallTracker) Participants(room domain.RoomName) []string {
	return t.ParticipantsExcluding(room, "")
}

// GroupLeave describes one group call a dropped user was part of.
type GroupLeave struct {
	Room      domain.RoomName
	Remaining []string
	Ended     bool
}

// CallDrop is everything Drop removed for one user.
type CallDrop struct {
	Peer    string
	HadPeer bool
	Groups  []GroupLeave
}

// Drop removes name from every call it is part of.
func (t *CallTracker) Drop(name string) CallDrop {
	t.mu.Lock()
	defer t.mu.Unlock()
	var d CallDrop
	d.Peer, d.HadPeer = t.endPrivateLocked(name)

	rooms := make([]domain.RoomName, 0, len(t.groups))
	for room := range t.groups {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	for _, room := range rooms {
		remaining, ended, left := t.leaveGroupLocked(room, name)
		if left {
			d.Groups = append(d.Groups, GroupLeave{Room: room, Remaining: remaining, Ended: ended})
		}
	}
	return d
}

// Snapshot returns every private call once, ordered, and every group call.
func (t *CallTracker) Snapshot() ([]domain.PrivateCall, []domain.GroupCall) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	private := make([]domain.PrivateCall, 0, len(t.peers)/2)
	for a, b := range t.peers {
		if a < b {
			private = append(private, domain.PrivateCall{A: a, B: b})
		}
	}
	sort.Slice(private, func(i, j int) bool { return private[i].A < private[j].A })

	groups := make([]domain.GroupCall, 0, len(t.groups))
	for room, set := range t.groups {
		groups = append(groups, domain.GroupCall{Room: room, Participants: sortedKeys(set)})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Room < groups[j].Room })
	return private, groups
}

// Counts returns the number of private calls and active group calls.
func (t *CallTracker) Counts() (private, group int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers) / 2, len(t.groups)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
