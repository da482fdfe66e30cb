package signal

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Options tune every connection a Controller serves.
type Options struct {
	ReadLimit    int
	SendQueue    int
	WriteTimeout time.Duration
}

// Controller runs the control-plane loop for TCP and WebSocket clients and
// hands decoded envelopes to the orchestrator.
type Controller struct {
	Orch    *orch.Orchestrator
	Limiter *RateLimiter
	Metrics *metrics.Metrics
	Opts    Options
}

func NewController(o *orch.Orchestrator, limiter *RateLimiter, m *metrics.Metrics, opts Options) *Controller {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 16 << 20
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Controller{Orch: o, Limiter: limiter, Metrics: m, Opts: opts}
}

// outbox is the bounded send queue shared by both transports.
type outbox struct {
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
	onEnd  func()
}

func (b *outbox) init(size int, onEnd func()) {
	b.send = make(chan core.Frame, size)
	b.onEnd = onEnd
}

func (b *outbox) TrySend(f core.Frame) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return core.ErrConnClosed
	}
	select {
	case b.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (b *outbox) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.send)
	b.onEnd()
}

// TCPSignalConn writes newline-terminated frames to a stream socket.
type TCPSignalConn struct {
	outbox
	conn net.Conn
}

func newTCPSignalConn(conn net.Conn, queue int) *TCPSignalConn {
	c := &TCPSignalConn{conn: conn}
	c.init(queue, func() { _ = conn.Close() })
	return c
}

// WsSignalConn writes one frame per WebSocket text message.
type WsSignalConn struct {
	outbox
	conn *websocket.Conn
}

func newWsSignalConn(conn *websocket.Conn, queue int) *WsSignalConn {
	c := &WsSignalConn{conn: conn}
	c.init(queue, func() { _ = conn.Close() })
	return c
}

// ServeTCP runs one TCP client until it disconnects or ctx ends.
func (ctl *Controller) ServeTCP(ctx context.Context, conn net.Conn) {
	var ip netip.Addr
	if ap, err := netip.ParseAddrPort(conn.RemoteAddr().String()); err == nil {
		ip = ap.Addr().Unmap()
	}
	sig := newTCPSignalConn(conn, ctl.Opts.SendQueue)
	sess := core.NewMemberSession(core.NewSessionID(), domain.NewMember(domain.NewUser(), ip), sig)
	logger := log.With().Str("module", "signal").Str("sid", string(sess.ID())).Str("transport", "tcp").Logger()
	logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("new TCP connection")

	stop := context.AfterFunc(ctx, sig.Close)
	defer stop()

	go ctl.writeTCP(sess, sig, &logger)

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), ctl.Opts.ReadLimit)
	ctl.readPump(sess, func() ([]byte, error) {
		if sc.Scan() {
			return sc.Bytes(), nil
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, errEOF
	}, &logger)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades an admin-router request to a WebSocket client. Each
// text message carries one envelope.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(int64(ctl.Opts.ReadLimit))

	ip, _ := netip.ParseAddr(c.ClientIP())
	sig := newWsSignalConn(ws, ctl.Opts.SendQueue)
	sess := core.NewMemberSession(core.NewSessionID(), domain.NewMember(domain.NewUser(), ip.Unmap()), sig)
	logger := log.With().
		Str("module", "signal").
		Str("sid", string(sess.ID())).
		Str("transport", "ws").
		Str("client_token", c.GetString("client_token")).
		Logger()
	logger.Info().Str("remote", c.ClientIP()).Msg("new WS connection")

	stop := context.AfterFunc(ctx, sig.Close)
	defer stop()

	go ctl.writeWS(sess, sig, &logger)
	ctl.readPump(sess, func() ([]byte, error) {
		_, data, err := ws.ReadMessage()
		return data, err
	}, &logger)
}
