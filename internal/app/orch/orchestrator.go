package orch

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Orchestrator applies control-plane envelopes to the registries and the
// call tracker and emits the resulting envelopes. It is safe for concurrent
// use by every connection's read loop.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Calls    *app.CallTracker
	Policy   app.Policy
	Metrics  *metrics.Metrics

	// MediaPort is advertised in the welcome envelope.
	MediaPort int
	// DefaultRoom is joined by every session on registration when set.
	DefaultRoom domain.RoomName
	// ExclusiveCalls makes the server refuse call setup involving a party
	// that is already in a call.
	ExclusiveCalls bool

	// Now stamps forwarded chat; nil means time.Now.
	Now func() time.Time
}

// Join registers sess under a unique name derived from requested, greets it
// and announces it to everyone else.
func (o *Orchestrator) Join(sess core.MemberSession, requested string) string {
	name := o.Registry.Register(requested, sess)
	o.Metrics.SessionOpened()

	if o.DefaultRoom != "" {
		o.Rooms.Join(o.DefaultRoom, name)
	}
	// OnDisconnect may have run while the name was being set up; its
	// room cleanup can predate the join above.
	if sess.IsClosed() {
		if o.DefaultRoom != "" {
			o.Rooms.Leave(o.DefaultRoom, name)
		}
		if o.Registry.Unregister(sess) {
			o.Metrics.SessionClosed()
		}
		log.Debug().Str("module", "orch").Str("sid", string(sess.ID())).Str("name", name).Msg("session closed during join")
		return name
	}

	o.sendSession(sess, protocol.Envelope{
		Type:      protocol.KindWelcome,
		Name:      name,
		Msg:       fmt.Sprintf("Welcome %s", name),
		MediaPort: o.MediaPort,
		Rooms:     o.roomInfos(),
		Timestamp: o.stamp(),
	})
	o.broadcastAll(protocol.Envelope{
		Type:      protocol.KindSystem,
		Name:      name,
		Msg:       fmt.Sprintf("%s joined the chat", name),
		Timestamp: o.stamp(),
	}, name)
	o.pushUserList()

	log.Info().Str("module", "orch").Str("sid", string(sess.ID())).Str("name", name).Msg("session joined")
	return name
}

// Handle dispatches one envelope from a registered session.
func (o *Orchestrator) Handle(sess core.MemberSession, env protocol.Envelope) {
	if sess.IsClosed() {
		return
	}
	env.From = sess.Name()
	o.Metrics.Envelope(string(env.Type))

	switch env.Type {
	case protocol.KindJoin:
		o.replyError(sess, fmt.Sprintf("already joined as %s", sess.Name()))
	case protocol.KindBroadcast:
		o.handleBroadcast(sess, env)
	case protocol.KindPrivate:
		o.handlePrivate(sess, env)
	case protocol.KindRoomMessage:
		o.handleRoomMessage(sess, env)
	case protocol.KindCreateRoom:
		o.handleCreateRoom(sess, env)
	case protocol.KindJoinRoom:
		o.handleJoinRoom(sess, env)
	case protocol.KindLeaveRoom:
		o.handleLeaveRoom(sess, env)
	case protocol.KindListUsers:
		o.sendSession(sess, protocol.Envelope{Type: protocol.KindUserList, Users: o.Registry.Names()})
	case protocol.KindListRooms:
		o.sendSession(sess, protocol.Envelope{Type: protocol.KindRoomList, Rooms: o.roomInfos()})
	case protocol.KindFileInit, protocol.KindFileChunk, protocol.KindFileEnd, protocol.KindFile:
		o.handleFile(sess, env)
	case protocol.KindMediaRegister:
		o.handleMediaRegister(sess, env)
	case protocol.KindCallRequest:
		o.handleCallRequest(sess, env)
	case protocol.KindCallResponse, protocol.KindCallAccepted, protocol.KindCallRejected:
		o.handleCallResponse(sess, env)
	case protocol.KindEndCall:
		o.handleEndCall(sess, env)
	case protocol.KindGroupCallRequest:
		o.handleGroupCallRequest(sess, env)
	case protocol.KindGroupCallJoin:
		o.handleGroupCallJoin(sess, env)
	case protocol.KindCallData:
		o.handleCallData(sess, env)
	case protocol.KindPing:
		o.sendSession(sess, protocol.Envelope{Type: protocol.KindPong, Timestamp: o.stamp()})
	default:
		log.Warn().Str("module", "orch").Str("name", sess.Name()).Str("type", string(env.Type)).Msg("unknown envelope type")
		o.sendSession(sess, protocol.System(fmt.Sprintf("unknown message type %q", env.Type)))
	}
}

// OnDisconnect releases everything sess held. Only the first call for a
// session does any work.
func (o *Orchestrator) OnDisconnect(sess core.MemberSession) {
	if !sess.Close() {
		return
	}
	name := sess.Name()
	if name == "" || !o.Registry.Unregister(sess) {
		return
	}
	o.Metrics.SessionClosed()

	left := o.Rooms.LeaveAll(name)

	drop := o.Calls.Drop(name)
	if drop.HadPeer {
		o.sendTo(drop.Peer, protocol.Envelope{Type: protocol.KindCallEnded, Peer: name, Reason: "disconnected"})
	}
	for _, g := range drop.Groups {
		o.afterGroupLeave(name, g.Room, g.Remaining, g.Ended)
	}
	o.updateCallGauge()

	o.broadcastAll(protocol.Envelope{
		Type:      protocol.KindSystem,
		Name:      name,
		Msg:       fmt.Sprintf("%s left the chat", name),
		Timestamp: o.stamp(),
	}, name)
	o.pushUserList()

	log.Info().Str("module", "orch").Str("sid", string(sess.ID())).Str("name", name).Int("rooms_left", len(left)).Msg("session disconnected")
}

// Kick closes name's connection and runs its cleanup.
func (o *Orchestrator) Kick(name string) bool {
	sess, ok := o.Registry.Lookup(name)
	if !ok {
		return false
	}
	log.Info().Str("module", "orch").Str("name", name).Msg("kicking session")
	sess.Signal().Close()
	o.OnDisconnect(sess)
	return true
}

// ---- delivery ----

func (o *Orchestrator) encode(env protocol.Envelope) (core.Frame, bool) {
	b, err := protocol.Encode(env)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode envelope")
		return nil, false
	}
	return core.Frame(b), true
}

func (o *Orchestrator) deliver(sess core.MemberSession, f core.Frame) bool {
	if sess.IsClosed() {
		return false
	}
	err := sess.Signal().TrySend(f)
	if err == nil {
		return true
	}
	if !errors.Is(err, core.ErrBackpressure) {
		log.Debug().Err(err).Str("module", "orch").Str("name", sess.Name()).Msg("send on closed session")
		return false
	}
	o.Metrics.Dropped(metrics.DropBackpressure)
	action := app.DropFrame
	if o.Policy != nil {
		action = o.Policy.OnBackPressure(sess)
	}
	switch action {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("name", sess.Name()).Msg("slow receiver, kicking")
		sess.Signal().Close()
		o.OnDisconnect(sess)
	case app.DropFrame, app.NoAction:
		log.Debug().Str("module", "orch").Str("name", sess.Name()).Msg("slow receiver, frame dropped")
	}
	return false
}

func (o *Orchestrator) sendSession(sess core.MemberSession, env protocol.Envelope) {
	if f, ok := o.encode(env); ok {
		o.deliver(sess, f)
	}
}

// sendTo reports false when name is not online.
func (o *Orchestrator) sendTo(name string, env protocol.Envelope) bool {
	sess, ok := o.Registry.Lookup(name)
	if !ok {
		return false
	}
	o.sendSession(sess, env)
	return true
}

// sendNames delivers one encoding of env to each online name; offline names
// are skipped.
func (o *Orchestrator) sendNames(names []string, env protocol.Envelope) int {
	if len(names) == 0 {
		return 0
	}
	f, ok := o.encode(env)
	if !ok {
		return 0
	}
	sent := 0
	for _, name := range names {
		sess, ok := o.Registry.Lookup(name)
		if !ok {
			continue
		}
		if o.deliver(sess, f) {
			sent++
		}
	}
	return sent
}

func (o *Orchestrator) broadcastAll(env protocol.Envelope, exclude string) int {
	f, ok := o.encode(env)
	if !ok {
		return 0
	}
	sent := 0
	for _, sess := range o.Registry.Sessions(exclude) {
		if o.deliver(sess, f) {
			sent++
		}
	}
	return sent
}

func (o *Orchestrator) broadcastRoom(room domain.RoomName, env protocol.Envelope, exclude string) int {
	return o.sendNames(o.Rooms.MembersExcluding(room, exclude), env)
}

func (o *Orchestrator) replyError(sess core.MemberSession, msg string) {
	o.sendSession(sess, protocol.Error(msg))
}

func (o *Orchestrator) pushUserList() {
	o.broadcastAll(protocol.Envelope{Type: protocol.KindUserList, Users: o.Registry.Names()}, "")
}

func (o *Orchestrator) roomInfos() []protocol.RoomInfo {
	list := o.Rooms.List()
	out := make([]protocol.RoomInfo, 0, len(list))
	for _, r := range list {
		out = append(out, protocol.RoomInfo{Name: string(r.Name), Members: r.MemberCount})
	}
	return out
}

func (o *Orchestrator) stamp() string {
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	return now().Format("15:04:05")
}
