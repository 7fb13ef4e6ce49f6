package splitproof

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

func randomScalar(t *testing.T) fr.Element {
	t.Helper()
	var s fr.Element
	if _, err := s.SetRandom(); err != nil {
		t.Fatalf("SetRandom: %v", err)
	}
	return s
}

func TestSplitScalarVerifies(t *testing.T) {
	sk := randomScalar(t)
	point := DeriveProofPoint(sk)

	_, transcript, err := SplitScalar(sk)
	if err != nil {
		t.Fatalf("SplitScalar: %v", err)
	}
	if !VerifySplit(point, transcript) {
		t.Fatal("genuine split transcript failed to verify")
	}
}

func TestVerifySplitRejectsWrongPoint(t *testing.T) {
	sk := randomScalar(t)
	other := randomScalar(t)
	_, transcript, err := SplitScalar(sk)
	if err != nil {
		t.Fatalf("SplitScalar: %v", err)
	}
	if VerifySplit(DeriveProofPoint(other), transcript) {
		t.Fatal("transcript verified against the wrong proof point")
	}
}

func TestVerifySplitRejectsTamperedTranscript(t *testing.T) {
	sk := randomScalar(t)
	point := DeriveProofPoint(sk)
	_, transcript, err := SplitScalar(sk)
	if err != nil {
		t.Fatalf("SplitScalar: %v", err)
	}
	transcript.A[0] ^= 0xFF
	if VerifySplit(point, transcript) {
		t.Fatal("tampered transcript verified")
	}
}

func TestTranscriptDigestDeterministic(t *testing.T) {
	sk := randomScalar(t)
	_, transcript, err := SplitScalar(sk)
	if err != nil {
		t.Fatalf("SplitScalar: %v", err)
	}
	if transcript.Digest() != transcript.Digest() {
		t.Fatal("Digest is not deterministic for the same transcript")
	}

	_, other, err := SplitScalar(sk)
	if err != nil {
		t.Fatalf("SplitScalar: %v", err)
	}
	if transcript.Digest() == other.Digest() {
		t.Fatal("two independently sampled splits of the same secret collided on digest")
	}
}

func TestScalarFromSecpSecretDeterministic(t *testing.T) {
	var secret [32]byte
	for i := range secret {
		secret[i] = byte(i + 1)
	}
	a := ScalarFromSecpSecret(secret)
	b := ScalarFromSecpSecret(secret)
	if !a.Equal(&b) {
		t.Fatal("ScalarFromSecpSecret is not deterministic")
	}
}
