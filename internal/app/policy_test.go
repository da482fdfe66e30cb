package app

import "testing"

func TestPolicyFor(t *testing.T) {
	if got := PolicyFor("kick").OnBackPressure(nil); got != KickMember {
		t.Fatalf("kick policy = %v", got)
	}
	if got := PolicyFor("drop").OnBackPressure(nil); got != DropFrame {
		t.Fatalf("drop policy = %v", got)
	}
	if got := PolicyFor("").OnBackPressure(nil); got != DropFrame {
		t.Fatalf("default policy = %v", got)
	}
}
