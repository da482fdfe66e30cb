package signal

import (
	"testing"

	"github.com/dkeye/Relay/internal/core"
)

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	a, b := core.SessionID("a"), core.SessionID("b")

	if !rl.Allow(a) || !rl.Allow(a) {
		t.Fatal("burst should be allowed")
	}
	if rl.Allow(a) {
		t.Fatal("third envelope should be limited")
	}
	if !rl.ShouldNotify(a) {
		t.Fatal("first rejection should notify")
	}
	if rl.ShouldNotify(a) {
		t.Fatal("notify only once per run")
	}
	if !rl.Allow(b) {
		t.Fatal("sessions must not share a bucket")
	}

	rl.Forget(a)
	if !rl.Allow(a) {
		t.Fatal("forgotten session should start fresh")
	}
}

func TestNilRateLimiterAllows(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl != nil {
		t.Fatal("zero rate should disable limiting")
	}
	for range 1000 {
		if !rl.Allow("x") {
			t.Fatal("nil limiter must allow")
		}
	}
	if rl.ShouldNotify("x") {
		t.Fatal("nil limiter never notifies")
	}
	rl.Forget("x")
}
