package app

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

type mediaEntry struct {
	addr netip.AddrPort
	// explicit entries come from media_register and are never replaced by
	// an address learned from traffic.
	explicit bool
}

// Registry is the single source of truth for who is online: display name to
// session, and display name to media address.
//
// Lock order is mu then addrMu. The media plane only takes addrMu.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]core.MemberSession

	addrMu sync.RWMutex
	media  map[string]mediaEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]core.MemberSession),
		media:    make(map[string]mediaEntry),
	}
}

// Register reserves a unique name derived from requested and binds it to
// sess. Taken names get the smallest free numeric suffix: bob, bob_1, bob_2.
func (r *Registry) Register(requested string, sess core.MemberSession) string {
	base := domain.NormalizeUsername(requested)

	r.mu.Lock()
	defer r.mu.Unlock()
	name := base
	for i := 1; ; i++ {
		if _, taken := r.sessions[name]; !taken {
			break
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
	sess.Meta().User.Username = name
	r.sessions[name] = sess
	log.Info().Str("module", "app.registry").Str("sid", string(sess.ID())).Str("requested", requested).Str("name", name).Msg("registered session")
	return name
}

// Unregister removes sess and its media address. It reports false when sess
// was not (or no longer) registered, so repeated calls are harmless.
func (r *Registry) Unregister(sess core.MemberSession) bool {
	name := sess.Name()

	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[name]
	if !ok || cur.ID() != sess.ID() {
		return false
	}
	delete(r.sessions, name)

	r.addrMu.Lock()
	delete(r.media, name)
	r.addrMu.Unlock()

	log.Info().Str("module", "app.registry").Str("sid", string(sess.ID())).Str("name", name).Msg("unregistered session")
	return true
}

func (r *Registry) Lookup(name string) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	return s, ok
}

// Names returns the sorted list of online display names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Sessions returns a snapshot of every online session except exclude.
func (r *Registry) Sessions(exclude string) []core.MemberSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.MemberSession, 0, len(r.sessions))
	for name, s := range r.sessions {
		if name == exclude {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SetMediaAddress binds name to addr, overriding any previous address.
func (r *Registry) SetMediaAddress(name string, addr netip.AddrPort) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.sessions[name]; !ok {
		return false
	}
	r.addrMu.Lock()
	r.media[name] = mediaEntry{addr: addr, explicit: true}
	r.addrMu.Unlock()
	log.Info().Str("module", "app.registry").Str("name", name).Str("addr", addr.String()).Msg("media address registered")
	return true
}

// LearnMediaAddress records addr for an online name that has no media
// address yet. It reports whether the address was stored.
func (r *Registry) LearnMediaAddress(name string, addr netip.AddrPort) bool {
	r.addrMu.RLock()
	_, known := r.media[name]
	r.addrMu.RUnlock()
	if known {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.sessions[name]; !ok {
		return false
	}
	r.addrMu.Lock()
	defer r.addrMu.Unlock()
	if _, ok := r.media[name]; ok {
		return false
	}
	r.media[name] = mediaEntry{addr: addr}
	log.Info().Str("module", "app.registry").Str("name", name).Str("addr", addr.String()).Msg("media address learned")
	return true
}

func (r *Registry) MediaAddress(name string) (netip.AddrPort, bool) {
	r.addrMu.RLock()
	defer r.addrMu.RUnlock()
	e, ok := r.media[name]
	return e.addr, ok
}

// UserInfo is the admin view of one online session.
type UserInfo struct {
	Name      string         `json:"name"`
	SID       core.SessionID `json:"sid"`
	RemoteIP  string         `json:"remote_ip,omitempty"`
	MediaAddr string         `json:"media_addr,omitempty"`
	Learned   bool           `json:"media_learned,omitempty"`
}

func (r *Registry) Users() []UserInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.addrMu.RLock()
	defer r.addrMu.RUnlock()

	out := make([]UserInfo, 0, len(r.sessions))
	for name, s := range r.sessions {
		u := UserInfo{Name: name, SID: s.ID()}
		if ip := s.Meta().RemoteIP; ip.IsValid() {
			u.RemoteIP = ip.String()
		}
		if e, ok := r.media[name]; ok {
			u.MediaAddr = e.addr.String()
			u.Learned = !e.explicit
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
