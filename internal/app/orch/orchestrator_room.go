package orch

import (
	"fmt"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) forward(env protocol.Envelope) protocol.Envelope {
	out := env.Clone()
	out.Timestamp = o.stamp()
	return out
}

func (o *Orchestrator) handleBroadcast(sess core.MemberSession, env protocol.Envelope) {
	o.broadcastAll(o.forward(env), sess.Name())
}

func (o *Orchestrator) handlePrivate(sess core.MemberSession, env protocol.Envelope) {
	to := env.Target()
	if to == "" {
		o.replyError(sess, "private message needs a recipient")
		return
	}
	if !o.sendTo(to, o.forward(env)) {
		o.replyError(sess, fmt.Sprintf("user %s is not online", to))
	}
}

// roomOf resolves env.Room to an existing room or tells the sender why not.
func (o *Orchestrator) roomOf(sess core.MemberSession, env protocol.Envelope) (domain.RoomName, bool) {
	room := domain.NormalizeRoomName(env.Room)
	if room == "" {
		o.replyError(sess, "room name is required")
		return "", false
	}
	if _, ok := o.Rooms.Get(room); !ok {
		o.replyError(sess, fmt.Sprintf("room %s does not exist", room))
		return "", false
	}
	return room, true
}

func (o *Orchestrator) handleRoomMessage(sess core.MemberSession, env protocol.Envelope) {
	room, ok := o.roomOf(sess, env)
	if !ok {
		return
	}
	env.Type = protocol.KindRoomMessage
	env.Room = string(room)
	o.broadcastRoom(room, o.forward(env), sess.Name())
}

func (o *Orchestrator) handleCreateRoom(sess core.MemberSession, env protocol.Envelope) {
	room := domain.NormalizeRoomName(env.Room)
	if room == "" {
		o.replyError(sess, "room name is required")
		return
	}
	_, created := o.Rooms.Ensure(room)
	note := protocol.Envelope{Type: protocol.KindRoomCreated, Room: string(room), From: sess.Name()}
	o.sendSession(sess, note)
	if created {
		log.Info().Str("module", "orch").Str("room", string(room)).Str("by", sess.Name()).Msg("room created")
		o.broadcastAll(note, sess.Name())
	}
}

func (o *Orchestrator) handleJoinRoom(sess core.MemberSession, env protocol.Envelope) {
	room := domain.NormalizeRoomName(env.Room)
	if room == "" {
		o.replyError(sess, "room name is required")
		return
	}
	o.Rooms.Join(room, sess.Name())
	o.sendSession(sess, protocol.Envelope{
		Type:  protocol.KindRoomJoined,
		Room:  string(room),
		Users: o.Rooms.MembersExcluding(room, ""),
	})
}

func (o *Orchestrator) handleLeaveRoom(sess core.MemberSession, env protocol.Envelope) {
	room := domain.NormalizeRoomName(env.Room)
	if room == "" {
		o.replyError(sess, "room name is required")
		return
	}
	if !o.Rooms.Leave(room, sess.Name()) {
		o.replyError(sess, fmt.Sprintf("not a member of room %s", room))
		return
	}
	o.sendSession(sess, protocol.Envelope{Type: protocol.KindRoomLeft, Room: string(room)})
}

// handleFile relays file transfer envelopes unchanged, addressed either to a
// user or to a room.
func (o *Orchestrator) handleFile(sess core.MemberSession, env protocol.Envelope) {
	if to := env.Target(); to != "" {
		if !o.sendTo(to, o.forward(env)) {
			o.replyError(sess, fmt.Sprintf("user %s is not online", to))
		}
		return
	}
	if env.Room == "" {
		o.replyError(sess, "file transfer needs a recipient or a room")
		return
	}
	room, ok := o.roomOf(sess, env)
	if !ok {
		return
	}
	env.Room = string(room)
	o.broadcastRoom(room, o.forward(env), sess.Name())
}
