package crypto

import (
	"bytes"
	"testing"
)

func TestKDFDeterminismAndContext(t *testing.T) {
	part := []byte("some-node-id")
	a1 := KDF("kadmesh:nodeid:v1", part)
	a2 := KDF("kadmesh:nodeid:v1", part)
	if !bytes.Equal(a1, a2) {
		t.Fatalf("KDF not deterministic")
	}
	b := KDF("kadmesh:other:v1", part)
	if bytes.Equal(a1, b) {
		t.Fatalf("expected different digests for different labels")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenKeypair()
	if err != nil {
		t.Fatalf("GenKeypair failed: %v", err)
	}
	digest := SHA3_256([]byte("connect-request-echo"))
	sig, err := SignDigest(priv, digest)
	if err != nil {
		t.Fatalf("SignDigest failed: %v", err)
	}
	if !VerifyDigest(pub, digest, sig) {
		t.Fatalf("expected signature to verify")
	}
	other := SHA3_256([]byte("different"))
	if VerifyDigest(pub, other, sig) {
		t.Fatalf("expected signature over different digest to fail")
	}
}

func TestSaveLoadKeypair(t *testing.T) {
	dir := t.TempDir()
	pub, priv, err := GenKeypair()
	if err != nil {
		t.Fatalf("GenKeypair failed: %v", err)
	}
	if err := SaveKeypair(dir, pub, priv); err != nil {
		t.Fatalf("SaveKeypair failed: %v", err)
	}
	gotPub, gotPriv, err := LoadKeypair(dir)
	if err != nil {
		t.Fatalf("LoadKeypair failed: %v", err)
	}
	if !bytes.Equal(pub, gotPub) || !bytes.Equal(priv, gotPriv) {
		t.Fatalf("round-tripped keypair mismatch")
	}
}
