package orch

import (
	"net/netip"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleMediaRegister records the UDP endpoint the sender will receive media
// on. The host is the sender's control-connection address.
func (o *Orchestrator) handleMediaRegister(sess core.MemberSession, env protocol.Envelope) {
	if env.Port <= 0 {
		o.replyError(sess, "media_register needs a port")
		return
	}
	ip := sess.Meta().RemoteIP
	if !ip.IsValid() {
		o.replyError(sess, "cannot determine your address")
		return
	}
	addr := netip.AddrPortFrom(ip.Unmap(), uint16(env.Port))
	if !o.Registry.SetMediaAddress(sess.Name(), addr) {
		return
	}
	o.sendSession(sess, protocol.System("media address registered: "+addr.String()))
}

// handleCallData relays media carried over the control connection. Frames
// for an unreachable peer or a room without an active call are dropped.
func (o *Orchestrator) handleCallData(sess core.MemberSession, env protocol.Envelope) {
	self := sess.Name()
	out := env.Clone()
	out.From = self
	if to := env.Target(); to != "" {
		if !o.sendTo(to, out) {
			log.Debug().Str("module", "orch").Str("from", self).Str("to", to).Msg("call_data to offline user dropped")
		}
		return
	}
	room := domain.NormalizeRoomName(env.Room)
	if room == "" {
		return
	}
	o.sendNames(o.Calls.ParticipantsExcluding(room, self), out)
}
