package core

import (
	"sync/atomic"

	"github.com/dkeye/Relay/internal/domain"
)

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	id     SessionID
	meta   *domain.Member
	signal SignalConnection
	closed atomic.Bool
}

func NewMemberSession(id SessionID, meta *domain.Member, signal SignalConnection) MemberSession {
	return &memberSession{id: id, meta: meta, signal: signal}
}

func (m *memberSession) ID() SessionID            { return m.id }
func (m *memberSession) Meta() *domain.Member     { return m.meta }
func (m *memberSession) Signal() SignalConnection { return m.signal }

func (m *memberSession) Name() string {
	if m.meta == nil || m.meta.User == nil {
		return ""
	}
	return m.meta.User.Username
}

func (m *memberSession) Close() bool    { return m.closed.CompareAndSwap(false, true) }
func (m *memberSession) IsClosed() bool { return m.closed.Load() }
