package app

import "github.com/dkeye/Relay/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a receiver whose outbound queue is full.
// Delivery to everyone else continues either way.
type Policy interface {
	OnBackPressure(member core.MemberSession) BackpressureAction
}

// DropPolicy loses the frame for the slow receiver only.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.MemberSession) BackpressureAction {
	return DropFrame
}

// KickPolicy disconnects the slow receiver.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(core.MemberSession) BackpressureAction {
	return KickMember
}

// PolicyFor maps the slow_peer_policy config value to a Policy.
func PolicyFor(name string) Policy {
	if name == "kick" {
		return KickPolicy{}
	}
	return DropPolicy{}
}
