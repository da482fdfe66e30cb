package media

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type harness struct {
	reg     *app.Registry
	calls   *app.CallTracker
	metrics *metrics.Metrics
	relay   netip.AddrPort
}

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func addrOf(c *net.UDPConn) netip.AddrPort {
	ap := c.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func startRelay(t *testing.T, names ...string) *harness {
	t.Helper()
	h := &harness{
		reg:     app.NewRegistry(),
		calls:   app.NewCallTracker(),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	for _, n := range names {
		sess := core.NewMemberSession(core.NewSessionID(), domain.NewMember(&domain.User{}, netip.MustParseAddr("127.0.0.1")), nil)
		h.reg.Register(n, sess)
	}

	conn := listen(t)
	h.relay = addrOf(conn)
	r := NewRelay(conn, h.reg, h.calls, h.metrics, 4, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("relay did not stop")
		}
	})
	return h
}

func packet(t *testing.T, hdr protocol.MediaHeader, payload string) []byte {
	t.Helper()
	b, err := protocol.EncodeMediaPacket(hdr, []byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func send(t *testing.T, c *net.UDPConn, to netip.AddrPort, b []byte) {
	t.Helper()
	if _, err := c.WriteToUDPAddrPort(b, to); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func expect(t *testing.T, c *net.UDPConn, want []byte) {
	t.Helper()
	buf := make([]byte, protocol.MaxDatagram)
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := c.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf[:n], want) {
		t.Fatalf("got %q, want %q", buf[:n], want)
	}
}

func expectNothing(t *testing.T, c *net.UDPConn) {
	t.Helper()
	buf := make([]byte, protocol.MaxDatagram)
	_ = c.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if n, err := c.Read(buf); err == nil {
		t.Fatalf("unexpected datagram %q", buf[:n])
	}
}

func TestPrivateForwardAndLearn(t *testing.T) {
	h := startRelay(t, "alice", "bob")
	alice, bob := listen(t), listen(t)
	h.reg.SetMediaAddress("bob", addrOf(bob))

	pkt := packet(t, protocol.MediaHeader{Kind: protocol.MediaAudio, Sender: "alice", To: "bob"}, "frame-1")
	send(t, alice, h.relay, pkt)
	expect(t, bob, pkt)

	learned, ok := h.reg.MediaAddress("alice")
	if !ok || learned != addrOf(alice) {
		t.Fatalf("learned alice = %v, %v; want %v", learned, ok, addrOf(alice))
	}

	reply := packet(t, protocol.MediaHeader{Kind: protocol.MediaVideo, Sender: "bob", To: "alice"}, "frame-2")
	send(t, bob, h.relay, reply)
	expect(t, alice, reply)

	if got := testutil.ToFloat64(h.metrics.MediaPackets.WithLabelValues(metrics.MediaForwarded)); got != 2 {
		t.Fatalf("forwarded = %v, want 2", got)
	}
}

func TestExplicitAddressNotOverridden(t *testing.T) {
	h := startRelay(t, "alice", "bob")
	alice, aliceReal, bob := listen(t), listen(t), listen(t)
	h.reg.SetMediaAddress("alice", addrOf(aliceReal))
	h.reg.SetMediaAddress("bob", addrOf(bob))

	pkt := packet(t, protocol.MediaHeader{Kind: protocol.MediaAudio, Sender: "alice", To: "bob"}, "x")
	send(t, alice, h.relay, pkt)
	expect(t, bob, pkt)

	if got, _ := h.reg.MediaAddress("alice"); got != addrOf(aliceReal) {
		t.Fatalf("explicit address replaced by %v", got)
	}
}

func TestGroupFanOut(t *testing.T) {
	h := startRelay(t, "alice", "bob", "carol", "dave")
	alice, bob, carol, dave := listen(t), listen(t), listen(t), listen(t)
	for name, c := range map[string]*net.UDPConn{"alice": alice, "bob": bob, "carol": carol, "dave": dave} {
		h.reg.SetMediaAddress(name, addrOf(c))
	}
	for _, n := range []string{"alice", "bob", "carol"} {
		h.calls.JoinGroup("team", n)
	}

	pkt := packet(t, protocol.MediaHeader{Kind: protocol.MediaAudio, Sender: "alice", Room: "team"}, "voice")
	send(t, alice, h.relay, pkt)
	expect(t, bob, pkt)
	expect(t, carol, pkt)
	expectNothing(t, alice)
	expectNothing(t, dave)
}

func TestDropsUnroutable(t *testing.T) {
	h := startRelay(t, "alice", "bob")
	alice, bob := listen(t), listen(t)
	h.reg.SetMediaAddress("bob", addrOf(bob))

	send(t, alice, h.relay, []byte("no delimiter here"))
	send(t, alice, h.relay, append([]byte(`{"kind":"smell","sender":"alice","to":"bob"}`), 0, 'x'))
	send(t, alice, h.relay, packet(t, protocol.MediaHeader{Kind: protocol.MediaAudio, Sender: "alice", To: "ghost"}, "x"))
	send(t, alice, h.relay, packet(t, protocol.MediaHeader{Kind: protocol.MediaAudio, Sender: "alice", Room: "empty"}, "x"))
	expectNothing(t, bob)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(h.metrics.MediaPackets.WithLabelValues(metrics.MediaBadHeader)) == 2 &&
			testutil.ToFloat64(h.metrics.MediaPackets.WithLabelValues(metrics.MediaUnresolved)) == 1 &&
			testutil.ToFloat64(h.metrics.MediaPackets.WithLabelValues(metrics.MediaNoTarget)) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("drop counters never settled")
}

func TestUnknownSenderNotLearned(t *testing.T) {
	h := startRelay(t, "bob")
	stranger, bob := listen(t), listen(t)
	h.reg.SetMediaAddress("bob", addrOf(bob))

	pkt := packet(t, protocol.MediaHeader{Kind: protocol.MediaAudio, Sender: "mallory", To: "bob"}, "x")
	send(t, stranger, h.relay, pkt)
	expect(t, bob, pkt)
	if _, ok := h.reg.MediaAddress("mallory"); ok {
		t.Fatal("offline sender must not get an address")
	}
}
