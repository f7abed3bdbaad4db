package kademlia

import "testing"

func idFromByte(b byte) NodeID {
	var id NodeID
	id[len(id)-1] = b
	return id
}

func TestCloserToTarget(t *testing.T) {
	target := idFromByte(0)
	a := idFromByte(1)
	b := idFromByte(3)
	if !CloserToTarget(a, b, target) {
		t.Fatalf("expected %v closer to %v than %v", a, target, b)
	}
	if CloserToTarget(b, a, target) {
		t.Fatalf("expected %v not closer to %v than %v", b, target, a)
	}
}

func TestEmpty(t *testing.T) {
	var id NodeID
	if !id.Empty() {
		t.Fatalf("expected zero-value id to be empty")
	}
	if idFromByte(1).Empty() {
		t.Fatalf("expected non-zero id to not be empty")
	}
}

func TestIDFromHexRoundTrip(t *testing.T) {
	id := idFromByte(42)
	got, err := IDFromHex(id.String())
	if err != nil {
		t.Fatalf("IDFromHex failed: %v", err)
	}
	if got != id {
		t.Fatalf("round-tripped id mismatch: got %v want %v", got, id)
	}
}

func TestIDFromHexBadLength(t *testing.T) {
	if _, err := IDFromHex("abcd"); err == nil {
		t.Fatalf("expected error for short hex")
	}
}
