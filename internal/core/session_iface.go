package core

import (
	"github.com/dkeye/Relay/internal/domain"
	"github.com/google/uuid"
)

// SessionID identifies one control connection for its whole lifetime,
// independent of the display name it ends up registered under.
type SessionID string

func NewSessionID() SessionID { return SessionID(uuid.NewString()) }

// MemberSession binds domain.Member and its transport endpoint.
// This is what the registries store and fan out to.
type MemberSession interface {
	ID() SessionID
	Meta() *domain.Member
	Signal() SignalConnection
	// Name is the effective display name, empty until registration.
	Name() string
	// Close latches the session as gone. Only the first call returns true,
	// so exactly one caller runs cleanup.
	Close() bool
	IsClosed() bool
}
