package app

import (
	"fmt"
	"net/netip"
	"sync"
	"testing"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
)

func newTestSession() core.MemberSession {
	return core.NewMemberSession(core.NewSessionID(), domain.NewMember(&domain.User{}, netip.MustParseAddr("10.0.0.7")), nil)
}

func TestRegisterSuffixesCollisions(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		requested string
		want      string
	}{
		{"alice", "alice"},
		{"alice", "alice_1"},
		{"alice", "alice_2"},
		{"bob", "bob"},
		{"", domain.GuestName},
		{"  ", domain.GuestName + "_1"},
	}
	for _, tt := range tests {
		s := newTestSession()
		if got := r.Register(tt.requested, s); got != tt.want {
			t.Fatalf("Register(%q) = %q, want %q", tt.requested, got, tt.want)
		}
		if s.Name() != tt.want {
			t.Fatalf("session name = %q, want %q", s.Name(), tt.want)
		}
	}
	if r.Count() != len(tests) {
		t.Fatalf("Count = %d, want %d", r.Count(), len(tests))
	}
}

func TestRegisterReusesSmallestFreeSuffix(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", newTestSession())
	first := newTestSession()
	r.Register("alice", first) // alice_1
	r.Register("alice", newTestSession())

	if !r.Unregister(first) {
		t.Fatal("Unregister(alice_1) = false")
	}
	if got := r.Register("alice", newTestSession()); got != "alice_1" {
		t.Fatalf("got %q, want alice_1", got)
	}
}

func TestRegisterConcurrentUnique(t *testing.T) {
	r := NewRegistry()
	const n = 64
	names := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			names <- r.Register("dup", newTestSession())
		}()
	}
	wg.Wait()
	close(names)

	seen := make(map[string]bool)
	for name := range names {
		if seen[name] {
			t.Fatalf("name %q assigned twice", name)
		}
		seen[name] = true
	}
	for i := 1; i < n; i++ {
		if !seen[fmt.Sprintf("dup_%d", i)] {
			t.Fatalf("dup_%d missing", i)
		}
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	r := NewRegistry()
	s := newTestSession()
	name := r.Register("carol", s)
	r.SetMediaAddress(name, netip.MustParseAddrPort("10.0.0.7:4000"))

	if !r.Unregister(s) {
		t.Fatal("first Unregister should report removal")
	}
	if r.Unregister(s) {
		t.Fatal("second Unregister should be a no-op")
	}
	if _, ok := r.Lookup(name); ok {
		t.Fatal("session still resolvable")
	}
	if _, ok := r.MediaAddress(name); ok {
		t.Fatal("media address not released")
	}
}

func TestUnregisterIgnoresOtherSessionWithSameName(t *testing.T) {
	r := NewRegistry()
	old := newTestSession()
	r.Register("dave", old)
	r.Unregister(old)

	fresh := newTestSession()
	r.Register("dave", fresh)

	if r.Unregister(old) {
		t.Fatal("stale session must not remove the new holder of the name")
	}
	if got, ok := r.Lookup("dave"); !ok || got.ID() != fresh.ID() {
		t.Fatal("dave should still resolve to the fresh session")
	}
}

func TestMediaAddressExplicitBeatsLearned(t *testing.T) {
	r := NewRegistry()
	r.Register("A", newTestSession())
	learned := netip.MustParseAddrPort("192.0.2.1:5000")
	explicit := netip.MustParseAddrPort("192.0.2.1:6000")

	if !r.LearnMediaAddress("A", learned) {
		t.Fatal("first learn should store")
	}
	if r.LearnMediaAddress("A", netip.MustParseAddrPort("192.0.2.9:1")) {
		t.Fatal("second learn must not replace the first")
	}
	if got, _ := r.MediaAddress("A"); got != learned {
		t.Fatalf("addr = %v, want %v", got, learned)
	}

	if !r.SetMediaAddress("A", explicit) {
		t.Fatal("SetMediaAddress failed")
	}
	if r.LearnMediaAddress("A", learned) {
		t.Fatal("learned address must not override explicit registration")
	}
	if got, _ := r.MediaAddress("A"); got != explicit {
		t.Fatalf("addr = %v, want %v", got, explicit)
	}
}

func TestMediaAddressRequiresOnlineName(t *testing.T) {
	r := NewRegistry()
	addr := netip.MustParseAddrPort("192.0.2.1:5000")
	if r.SetMediaAddress("ghost", addr) {
		t.Fatal("SetMediaAddress for offline name should fail")
	}
	if r.LearnMediaAddress("ghost", addr) {
		t.Fatal("LearnMediaAddress for offline name should fail")
	}
}

func TestNamesAndUsersSorted(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"zed", "amy", "kim"} {
		r.Register(n, newTestSession())
	}
	r.SetMediaAddress("kim", netip.MustParseAddrPort("10.0.0.7:9000"))

	names := r.Names()
	if len(names) != 3 || names[0] != "amy" || names[2] != "zed" {
		t.Fatalf("Names = %v", names)
	}
	users := r.Users()
	if users[1].Name != "kim" || users[1].MediaAddr != "10.0.0.7:9000" || users[1].Learned {
		t.Fatalf("Users[1] = %+v", users[1])
	}
	if users[0].RemoteIP != "10.0.0.7" {
		t.Fatalf("RemoteIP = %q", users[0].RemoteIP)
	}
	if got := r.Sessions("amy"); len(got) != 2 {
		t.Fatalf("Sessions(exclude amy) = %d entries", len(got))
	}
}
