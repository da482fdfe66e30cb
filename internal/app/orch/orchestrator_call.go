package orch

import (
	"fmt"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// busyElsewhere reports whether name is in a call that is not a private call
// with other.
func (o *Orchestrator) busyElsewhere(name, other string) bool {
	if !o.Calls.Busy(name) {
		return false
	}
	if len(o.Calls.GroupsOf(name)) > 0 {
		return true
	}
	peer, ok := o.Calls.Partner(name)
	return ok && peer != other
}

func (o *Orchestrator) updateCallGauge() {
	o.Metrics.Calls(o.Calls.Counts())
}

func (o *Orchestrator) handleCallRequest(sess core.MemberSession, env protocol.Envelope) {
	from := sess.Name()
	to := env.Target()
	switch {
	case to == "":
		o.replyError(sess, "call request needs a recipient")
		return
	case to == from:
		o.replyError(sess, "cannot call yourself")
		return
	}
	if _, ok := o.Registry.Lookup(to); !ok {
		o.replyError(sess, fmt.Sprintf("user %s is not online", to))
		return
	}
	mode := env.Mode
	if mode == "" {
		mode = domain.CallAudio
	}
	if o.ExclusiveCalls && (o.busyElsewhere(from, to) || o.busyElsewhere(to, from)) {
		rejected := false
		o.sendSession(sess, protocol.Envelope{
			Type:     protocol.KindCallRejected,
			From:     to,
			Mode:     mode,
			Accepted: &rejected,
			Reason:   "busy",
		})
		return
	}
	o.sendTo(to, protocol.Envelope{Type: protocol.KindCallRequest, From: from, To: to, Mode: mode})
	log.Debug().Str("module", "orch").Str("from", from).Str("to", to).Str("mode", string(mode)).Msg("call request")
}

// handleCallResponse covers call_response and its call_accepted and
// call_rejected spellings. Acceptance establishes the call.
func (o *Orchestrator) handleCallResponse(sess core.MemberSession, env protocol.Envelope) {
	self := sess.Name()
	caller := env.Target()
	switch {
	case caller == "":
		o.replyError(sess, "call response needs the caller")
		return
	case caller == self:
		o.replyError(sess, "cannot answer your own call")
		return
	}
	if _, ok := o.Registry.Lookup(caller); !ok {
		log.Debug().Str("module", "orch").Str("from", self).Str("to", caller).Msg("call response for offline caller dropped")
		return
	}

	accepted := env.IsAccepted()
	out := protocol.Envelope{
		Type:     env.Type,
		From:     self,
		To:       caller,
		Mode:     env.Mode,
		Accepted: &accepted,
		Reason:   env.Reason,
	}
	if !accepted {
		o.sendTo(caller, out)
		return
	}

	if o.ExclusiveCalls && (o.busyElsewhere(self, caller) || o.busyElsewhere(caller, self)) {
		o.replyError(sess, "cannot accept: a party is already in another call")
		rejected := false
		o.sendTo(caller, protocol.Envelope{
			Type:     protocol.KindCallRejected,
			From:     self,
			To:       caller,
			Accepted: &rejected,
			Reason:   "busy",
		})
		return
	}

	before := map[string]string{}
	for _, n := range [2]string{caller, self} {
		if p, ok := o.Calls.Partner(n); ok {
			before[p] = n
		}
	}
	for _, displaced := range o.Calls.Connect(caller, self) {
		o.sendTo(displaced, protocol.Envelope{Type: protocol.KindCallEnded, Peer: before[displaced], Reason: "replaced"})
	}
	o.updateCallGauge()
	o.sendTo(caller, out)
}

// handleEndCall tears down the sender's private call, or with is_group set,
// removes the sender from the room's group call. Ending a call that does
// not exist is a no-op, except that a private end_call naming a peer still
// reaches that peer so a ringing request can be cancelled.
func (o *Orchestrator) handleEndCall(sess core.MemberSession, env protocol.Envelope) {
	self := sess.Name()
	if env.IsGroup || (env.Room != "" && env.Target() == "") {
		room := domain.NormalizeRoomName(env.Room)
		remaining, ended, left := o.Calls.LeaveGroup(room, self)
		if !left {
			return
		}
		o.afterGroupLeave(self, room, remaining, ended)
		o.updateCallGauge()
		o.sendSession(sess, protocol.Envelope{Type: protocol.KindCallEnded, Room: string(room), IsGroup: true})
		return
	}

	if peer, ok := o.Calls.EndPrivate(self); ok {
		o.updateCallGauge()
		o.sendTo(peer, protocol.Envelope{Type: protocol.KindCallEnded, Peer: self, From: self})
		o.sendSession(sess, protocol.Envelope{Type: protocol.KindCallEnded, Peer: peer})
		return
	}
	if target := env.Target(); target != "" && target != self {
		o.sendTo(target, protocol.Envelope{Type: protocol.KindCallEnded, Peer: self, From: self, Reason: "cancelled"})
	}
}

// afterGroupLeave notifies a room once name has left its group call.
func (o *Orchestrator) afterGroupLeave(name string, room domain.RoomName, remaining []string, ended bool) {
	if ended {
		o.broadcastRoom(room, protocol.Envelope{Type: protocol.KindCallEnded, Room: string(room), IsGroup: true}, name)
		return
	}
	o.sendNames(remaining, protocol.Envelope{Type: protocol.KindGroupCallLeft, From: name, Room: string(room)})
}

func (o *Orchestrator) handleGroupCallRequest(sess core.MemberSession, env protocol.Envelope) {
	self := sess.Name()
	room, ok := o.roomOf(sess, env)
	if !ok {
		return
	}
	if o.ExclusiveCalls && o.busyOutside(self, room) {
		o.replyError(sess, "already in another call")
		return
	}
	mode := env.Mode
	if mode == "" {
		mode = domain.CallAudio
	}
	o.Calls.JoinGroup(room, self)
	o.updateCallGauge()
	o.broadcastRoom(room, protocol.Envelope{
		Type:    protocol.KindGroupCallRequest,
		From:    self,
		Room:    string(room),
		Mode:    mode,
		IsGroup: true,
	}, self)
}

func (o *Orchestrator) handleGroupCallJoin(sess core.MemberSession, env protocol.Envelope) {
	self := sess.Name()
	room, ok := o.roomOf(sess, env)
	if !ok {
		return
	}
	if !o.Calls.HasGroup(room) {
		o.replyError(sess, fmt.Sprintf("no active call in room %s", room))
		return
	}
	if o.ExclusiveCalls && o.busyOutside(self, room) {
		o.replyError(sess, "already in another call")
		return
	}
	o.Calls.JoinGroup(room, self)
	o.updateCallGauge()
	o.sendNames(o.Calls.ParticipantsExcluding(room, self), protocol.Envelope{
		Type: protocol.KindGroupCallJoined,
		From: self,
		Room: string(room),
	})
	o.sendSession(sess, protocol.Envelope{
		Type:  protocol.KindGroupCallJoined,
		From:  self,
		Room:  string(room),
		Users: o.Calls.Participants(room),
	})
}

// busyOutside reports whether name is in any call other than room's.
func (o *Orchestrator) busyOutside(name string, room domain.RoomName) bool {
	if _, ok := o.Calls.Partner(name); ok {
		return true
	}
	for _, r := range o.Calls.GroupsOf(name) {
		if r != room {
			return true
		}
	}
	return false
}
