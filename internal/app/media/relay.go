// Package media forwards UDP media datagrams between registered users.
package media

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// Directory maps user names to media addresses.
type Directory interface {
	LearnMediaAddress(name string, addr netip.AddrPort) bool
	MediaAddress(name string) (netip.AddrPort, bool)
}

// Participants resolves the active call of a room.
type Participants interface {
	ParticipantsExcluding(room domain.RoomName, exclude string) []string
}

// Relay reads datagrams from Conn and forwards each one verbatim to the
// media address of its recipients.
type Relay struct {
	Conn    *net.UDPConn
	Dir     Directory
	Calls   Participants
	Metrics *metrics.Metrics

	Workers    int
	BufferSize int

	bufs   sync.Pool
	logger zerolog.Logger
}

func NewRelay(conn *net.UDPConn, dir Directory, calls Participants, m *metrics.Metrics, workers, bufferSize int) *Relay {
	if workers <= 0 {
		workers = 1
	}
	if bufferSize <= 0 || bufferSize > protocol.MaxDatagram {
		bufferSize = protocol.MaxDatagram
	}
	r := &Relay{
		Conn:       conn,
		Dir:        dir,
		Calls:      calls,
		Metrics:    m,
		Workers:    workers,
		BufferSize: bufferSize,
		logger:     log.With().Str("module", "media").Str("addr", conn.LocalAddr().String()).Logger(),
	}
	r.bufs.New = func() any {
		b := make([]byte, r.BufferSize)
		return &b
	}
	return r
}

// Serve runs the read loop until ctx is cancelled or the socket is closed.
// Datagrams are processed by at most Workers goroutines; the loop blocks
// when all of them are busy.
func (r *Relay) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = r.Conn.Close() })
	defer stop()

	p := pool.New().WithMaxGoroutines(r.Workers)
	defer p.Wait()

	r.logger.Info().Int("workers", r.Workers).Msg("media relay listening")
	for {
		bp := r.bufs.Get().(*[]byte)
		n, from, err := r.Conn.ReadFromUDPAddrPort(*bp)
		if err != nil {
			r.bufs.Put(bp)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				r.logger.Info().Msg("media relay stopped")
				return nil
			}
			r.logger.Warn().Err(err).Msg("udp read failed")
			continue
		}
		p.Go(func() {
			defer r.bufs.Put(bp)
			r.Handle((*bp)[:n], from)
		})
	}
}

// Handle routes one datagram received from src.
func (r *Relay) Handle(b []byte, src netip.AddrPort) {
	pkt, err := protocol.ParseMediaPacket(b)
	if err != nil {
		r.Metrics.Media(metrics.MediaBadHeader)
		r.logger.Debug().Err(err).Str("src", src.String()).Msg("dropping datagram")
		return
	}
	h := pkt.Header
	r.Dir.LearnMediaAddress(h.Sender, netip.AddrPortFrom(src.Addr().Unmap(), src.Port()))

	targets := r.targets(h)
	if len(targets) == 0 {
		r.Metrics.Media(metrics.MediaNoTarget)
		return
	}
	for _, name := range targets {
		addr, ok := r.Dir.MediaAddress(name)
		if !ok {
			r.Metrics.Media(metrics.MediaUnresolved)
			r.logger.Debug().Str("sender", h.Sender).Str("to", name).Msg("no media address")
			continue
		}
		n, err := r.Conn.WriteToUDPAddrPort(pkt.Raw, addr)
		if err != nil {
			r.Metrics.Media(metrics.MediaSendError)
			r.logger.Debug().Err(err).Str("to", name).Str("addr", addr.String()).Msg("udp write failed")
			continue
		}
		r.Metrics.Media(metrics.MediaForwarded)
		r.Metrics.MediaSent(n)
	}
}

func (r *Relay) targets(h protocol.MediaHeader) []string {
	if h.To != "" {
		if h.To == h.Sender {
			return nil
		}
		return []string{h.To}
	}
	if h.Room != "" && r.Calls != nil {
		return r.Calls.ParticipantsExcluding(domain.NormalizeRoomName(h.Room), h.Sender)
	}
	return nil
}
