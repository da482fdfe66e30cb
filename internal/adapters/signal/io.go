package signal

import (
	"bufio"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var errEOF = errors.New("signal: connection closed by peer")

func (ctl *Controller) writeTCP(sess core.MemberSession, c *TCPSignalConn, logger *zerolog.Logger) {
	defer ctl.Orch.OnDisconnect(sess)
	defer c.Close()

	w := bufio.NewWriter(c.conn)
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteTimeout)); err != nil {
			logger.Debug().Err(err).Msg("writePump set deadline")
			return
		}
		_, _ = w.Write(data)
		_ = w.WriteByte('\n')
		if len(c.send) > 0 {
			continue
		}
		if err := w.Flush(); err != nil {
			logger.Warn().Err(err).Msg("writePump write error")
			return
		}
	}
}

func (ctl *Controller) writeWS(sess core.MemberSession, c *WsSignalConn, logger *zerolog.Logger) {
	defer ctl.Orch.OnDisconnect(sess)
	defer c.Close()

	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteTimeout)); err != nil {
			logger.Debug().Err(err).Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Warn().Err(err).Msg("writePump write error")
			return
		}
	}
}

// readPump decodes envelopes until next fails. Malformed input is dropped
// line by line; only join is accepted before registration.
func (ctl *Controller) readPump(sess core.MemberSession, next func() ([]byte, error), logger *zerolog.Logger) {
	defer func() {
		logger.Info().Str("name", sess.Name()).Msg("readPump closing")
		ctl.Limiter.Forget(sess.ID())
		ctl.Orch.OnDisconnect(sess)
		sess.Signal().Close()
	}()

	joined := false
	for !sess.IsClosed() {
		line, err := next()
		if err != nil {
			if !errors.Is(err, errEOF) {
				logger.Debug().Err(err).Msg("readPump read error")
			}
			return
		}
		env, err := protocol.Decode(line)
		if err != nil {
			if !errors.Is(err, protocol.ErrEmptyLine) {
				ctl.Metrics.Dropped(metrics.DropMalformed)
				logger.Debug().Err(err).Msg("dropping malformed envelope")
			}
			continue
		}

		if !joined {
			if env.Type != protocol.KindJoin {
				ctl.Metrics.Dropped(metrics.DropUnjoined)
				logger.Debug().Str("type", string(env.Type)).Msg("ignoring envelope before join")
				continue
			}
			requested := env.From
			if requested == "" {
				requested = env.Name
			}
			ctl.Orch.Join(sess, requested)
			joined = true
			continue
		}

		if !env.Type.Streaming() && !ctl.Limiter.Allow(sess.ID()) {
			ctl.Metrics.Dropped(metrics.DropRateLimited)
			if ctl.Limiter.ShouldNotify(sess.ID()) {
				notice, _ := protocol.Encode(protocol.Error(fmt.Sprintf("rate limit exceeded, %s dropped", env.Type)))
				_ = sess.Signal().TrySend(notice)
			}
			continue
		}
		ctl.Orch.Handle(sess, env)
	}
}
