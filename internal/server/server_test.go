package server

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/goccy/go-json"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:           "test",
		ControlAddr:    "127.0.0.1:0",
		MediaAddr:      "127.0.0.1:0",
		AdminAddr:      "127.0.0.1:0",
		ReadLimit:      1 << 20,
		SendQueue:      64,
		WriteTimeout:   time.Second,
		MediaWorkers:   4,
		MediaBuffer:    65507,
		DefaultRoom:    "General",
		ExclusiveCalls: true,
		SlowPeerPolicy: "drop",
		Secret:         "test",
	}
}

func start(t *testing.T) *Server {
	t.Helper()
	s := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case err := <-done:
		t.Fatalf("Run: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server not ready")
	}
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return s
}

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
	name string
}

func join(t *testing.T, s *Server, name string) *client {
	t.Helper()
	conn, err := net.Dial("tcp", s.ControlAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	c := &client{t: t, conn: conn, r: bufio.NewReader(conn)}
	c.send(protocol.Envelope{Type: protocol.KindJoin, From: name})
	c.name = c.until(protocol.KindWelcome).Name
	return c
}

func (c *client) send(e protocol.Envelope) {
	c.t.Helper()
	b, err := protocol.Encode(e)
	if err != nil {
		c.t.Fatal(err)
	}
	if _, err := c.conn.Write(append(b, '\n')); err != nil {
		c.t.Fatal(err)
	}
}

func (c *client) next(timeout time.Duration) (protocol.Envelope, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return protocol.Envelope{}, err
	}
	var e protocol.Envelope
	err = json.Unmarshal(line, &e)
	return e, err
}

func (c *client) until(kind protocol.Kind) protocol.Envelope {
	c.t.Helper()
	for {
		e, err := c.next(2 * time.Second)
		if err != nil {
			c.t.Fatalf("%s waiting for %s: %v", c.name, kind, err)
		}
		if e.Type == kind {
			return e
		}
	}
}

// never fails if an envelope of kind arrives within a short window.
func (c *client) never(kind protocol.Kind) {
	c.t.Helper()
	for {
		e, err := c.next(200 * time.Millisecond)
		if err != nil {
			return
		}
		if e.Type == kind {
			c.t.Fatalf("%s unexpectedly received %+v", c.name, e)
		}
	}
}

func TestJoinScenario(t *testing.T) {
	s := start(t)

	bob := join(t, s, "bob")
	if bob.name != "bob" {
		t.Fatalf("name = %q", bob.name)
	}
	if ul := bob.until(protocol.KindUserList); !slices.Equal(ul.Users, []string{"bob"}) {
		t.Fatalf("user_list = %v", ul.Users)
	}

	second := join(t, s, "bob")
	if second.name != "bob_1" {
		t.Fatalf("second name = %q, want bob_1", second.name)
	}
}

func TestCallAndMediaScenario(t *testing.T) {
	s := start(t)
	relay := s.MediaAddr().(*net.UDPAddr).AddrPort()

	a := join(t, s, "A")
	b := join(t, s, "B")

	a.send(protocol.Envelope{Type: protocol.KindCallRequest, To: "B", Mode: "audio"})
	if req := b.until(protocol.KindCallRequest); req.From != "A" {
		t.Fatalf("call_request from %q", req.From)
	}
	b.send(protocol.Envelope{Type: protocol.KindCallAccepted, To: "A"})
	if acc := a.until(protocol.KindCallAccepted); acc.From != "B" || !acc.IsAccepted() {
		t.Fatalf("acceptance = %+v", acc)
	}

	udpA, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer udpA.Close()
	udpB, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer udpB.Close()

	b.send(protocol.Envelope{Type: protocol.KindMediaRegister, Port: udpB.LocalAddr().(*net.UDPAddr).Port})
	b.until(protocol.KindSystem)

	toB, _ := protocol.EncodeMediaPacket(protocol.MediaHeader{Kind: protocol.MediaAudio, Sender: "A", To: "B"}, []byte("from-A"))
	if _, err := udpA.WriteToUDPAddrPort(toB, relay); err != nil {
		t.Fatal(err)
	}
	expectDatagram(t, udpB, toB)

	toA, _ := protocol.EncodeMediaPacket(protocol.MediaHeader{Kind: protocol.MediaAudio, Sender: "B", To: "A"}, []byte("from-B"))
	if _, err := udpB.WriteToUDPAddrPort(toA, relay); err != nil {
		t.Fatal(err)
	}
	expectDatagram(t, udpA, toA)
}

func expectDatagram(t *testing.T, c *net.UDPConn, want []byte) {
	t.Helper()
	buf := make([]byte, protocol.MaxDatagram)
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := c.Read(buf)
	if err != nil {
		t.Fatalf("read datagram: %v", err)
	}
	if !bytes.Equal(buf[:n], want) {
		t.Fatalf("datagram = %q, want %q", buf[:n], want)
	}
}

func TestRoomMessageScenario(t *testing.T) {
	s := start(t)
	a, b, c, d := join(t, s, "A"), join(t, s, "B"), join(t, s, "C"), join(t, s, "D")

	a.send(protocol.Envelope{Type: protocol.KindCreateRoom, Room: "team"})
	a.until(protocol.KindRoomCreated)
	for _, m := range []*client{a, b, c} {
		m.send(protocol.Envelope{Type: protocol.KindJoinRoom, Room: "team"})
		m.until(protocol.KindRoomJoined)
	}

	a.send(protocol.Envelope{Type: protocol.KindRoomMessage, Room: "team", Msg: "ship it"})
	for _, m := range []*client{b, c} {
		if got := m.until(protocol.KindRoomMessage); got.From != "A" || got.Msg != "ship it" {
			t.Fatalf("%s received %+v", m.name, got)
		}
	}
	d.never(protocol.KindRoomMessage)
	a.never(protocol.KindRoomMessage)
}

func TestAdminHealth(t *testing.T) {
	s := start(t)
	join(t, s, "alice")

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", s.AdminAddr()))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
