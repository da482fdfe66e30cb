package app

import (
	"slices"
	"sync"
	"testing"

	"github.com/dkeye/Relay/internal/domain"
)

func TestRoomManagerEnsureIdempotent(t *testing.T) {
	m := NewRoomManager()
	r1, created := m.Ensure("team")
	if !created {
		t.Fatal("first Ensure should create")
	}
	r2, created := m.Ensure("team")
	if created || r1 != r2 {
		t.Fatal("second Ensure should return the same room")
	}
}

func TestRoomManagerJoinLeave(t *testing.T) {
	m := NewRoomManager()
	if !m.Join("team", "a") {
		t.Fatal("join should add")
	}
	if m.Join("team", "a") {
		t.Fatal("join twice should be a no-op")
	}
	m.Join("team", "b")
	m.Join("team", "c")

	if got := m.MembersExcluding("team", "a"); !slices.Equal(got, []string{"b", "c"}) {
		t.Fatalf("MembersExcluding = %v", got)
	}
	if !m.Leave("team", "b") || m.Leave("team", "b") {
		t.Fatal("leave should be idempotent")
	}
	if m.Leave("nowhere", "a") {
		t.Fatal("leaving a missing room should report false")
	}
}

func TestRoomManagerMissingRoomIsSafe(t *testing.T) {
	m := NewRoomManager()
	if got := m.MembersExcluding("nowhere", "a"); got != nil {
		t.Fatalf("MembersExcluding on missing room = %v", got)
	}
	m.Ensure("empty")
	if got := m.MembersExcluding("empty", "a"); len(got) != 0 {
		t.Fatalf("MembersExcluding on empty room = %v", got)
	}
}

func TestRoomManagerLeaveAll(t *testing.T) {
	m := NewRoomManager()
	m.Join("b-room", "x")
	m.Join("a-room", "x")
	m.Join("a-room", "y")
	m.Ensure("c-room")

	left := m.LeaveAll("x")
	if !slices.Equal(left, []domain.RoomName{"a-room", "b-room"}) {
		t.Fatalf("LeaveAll = %v", left)
	}
	if got := m.MembersExcluding("a-room", ""); !slices.Equal(got, []string{"y"}) {
		t.Fatalf("a-room members = %v", got)
	}

	list := m.List()
	if len(list) != 3 || list[0].Name != "a-room" || list[0].MemberCount != 1 {
		t.Fatalf("List = %+v", list)
	}
}

func TestRoomManagerRemoveIfIdle(t *testing.T) {
	m := NewRoomManager()
	m.Ensure("empty")
	m.Join("busy", "x")

	if found, removed := m.RemoveIfIdle("busy"); !found || removed {
		t.Fatalf("RemoveIfIdle(busy) = %v, %v", found, removed)
	}
	if found, removed := m.RemoveIfIdle("empty"); !found || !removed {
		t.Fatalf("RemoveIfIdle(empty) = %v, %v", found, removed)
	}
	if _, ok := m.Get("empty"); ok {
		t.Fatal("empty room should be gone")
	}
	if found, _ := m.RemoveIfIdle("empty"); found {
		t.Fatal("second removal should not find the room")
	}
}

func TestRoomManagerJoinRacesRemoval(t *testing.T) {
	m := NewRoomManager()
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		m.Ensure("r")
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.RemoveIfIdle("r")
		}()
		go func() {
			defer wg.Done()
			m.Join("r", "x")
		}()
		wg.Wait()

		room, ok := m.Get("r")
		if !ok {
			t.Fatalf("iteration %d: joined member lost with its room", i)
		}
		if got := room.Members(); !slices.Equal(got, []string{"x"}) {
			t.Fatalf("iteration %d: members = %v", i, got)
		}
		m.Leave("r", "x")
	}
}
