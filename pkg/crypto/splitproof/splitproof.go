// Package splitproof implements the non-interactive split-scalar
// knowledge proof that authorizes a transaction without revealing the
// account's secret key.
//
// An account's proof point is P = sk*H, a point on BN254's G1 group (chosen
// because it is prime-order with a canonical compressed encoding and
// membership in the subgroup is automatic on decode — there is no separate
// cofactor to clear, unlike curves such as Ristretto that need an explicit
// "is this encoding canonical" check layered on top). The prover picks a
// uniformly random scalar a, sets b = sk - a, and publishes the transcript
// (A, B) = (a*H, b*H). A verifier who only sees A and B cannot recover sk,
// but can confirm A + B == P. The transcript is single-use; replay defense
// lives in the ledger's used-proof set, not in this package.
package splitproof

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// PointSize is the length in bytes of a compressed BN254 G1 point.
const PointSize = 32

var (
	h         bn254.G1Affine
	hInitDone bool
)

func generatorH() bn254.G1Affine {
	if !hInitDone {
		_, _, g1, _ := bn254.Generators()
		h = g1
		hInitDone = true
	}
	return h
}

// ErrInvalidPoint is returned when a compressed point fails to decode or
// does not lie in BN254's G1 subgroup.
var ErrInvalidPoint = errors.New("splitproof: invalid point encoding")

// Point is the canonical compressed encoding of a G1 element.
type Point [PointSize]byte

// Transcript is the split-scalar proof published alongside a transaction:
// two points whose sum must equal the account's stored proof point.
type Transcript struct {
	A Point `json:"a"`
	B Point `json:"b"`
}

// Scalar is a secp... no — a BN254 scalar-field element, distinct from the
// identity package's secp256k1 scalars. The two curves are never mixed.
type Scalar = fr.Element

// DeriveProofPoint computes P = sk*H for a BN254 scalar sk.
func DeriveProofPoint(sk Scalar) Point {
	var skBig big.Int
	sk.BigInt(&skBig)
	var p bn254.G1Affine
	p.ScalarMultiplication(&generatorHCopy(), &skBig)
	return encodePoint(p)
}

// ScalarFromSecpSecret maps a 32-byte secp256k1 secret into a BN254 scalar
// by reducing it modulo the BN254 scalar field order. The two fields have
// different moduli; the account's ownership secret is reused across both
// roles only through this deterministic reduction; a node never needs the
// secp256k1 private key itself to verify a proof, only the public proof
// point it derives from this mapping.
func ScalarFromSecpSecret(secret [32]byte) Scalar {
	var s fr.Element
	s.SetBytes(secret[:])
	return s
}

// SplitScalar draws a uniformly random BN254 scalar a, sets b = sk - a, and
// returns a and the transcript (a*H, b*H).
func SplitScalar(sk Scalar) (a Scalar, transcript Transcript, err error) {
	if _, err = a.SetRandom(); err != nil {
		return a, transcript, fmt.Errorf("splitproof: sample a: %w", err)
	}
	var b fr.Element
	b.Sub(&sk, &a)

	var aBig, bBig big.Int
	a.BigInt(&aBig)
	b.BigInt(&bBig)

	gen := generatorHCopy()
	var pa, pb bn254.G1Affine
	pa.ScalarMultiplication(&gen, &aBig)
	pb.ScalarMultiplication(&gen, &bBig)

	transcript.A = encodePoint(pa)
	transcript.B = encodePoint(pb)
	return a, transcript, nil
}

// VerifySplit reports whether the transcript's two points sum to the
// account's stored proof point.
func VerifySplit(proofPoint Point, transcript Transcript) bool {
	pa, err := decodePoint(transcript.A)
	if err != nil {
		return false
	}
	pb, err := decodePoint(transcript.B)
	if err != nil {
		return false
	}
	p, err := decodePoint(proofPoint)
	if err != nil {
		return false
	}

	var sum bn254.G1Affine
	sum.Add(&pa, &pb)
	return sum.Equal(&p)
}

// Digest returns SHA-256(A || B), the value committed into the
// ledger's used-proof set alongside the sender's public key.
func (t Transcript) Digest() [32]byte {
	buf := make([]byte, 0, 2*PointSize)
	buf = append(buf, t.A[:]...)
	buf = append(buf, t.B[:]...)
	return sha256.Sum256(buf)
}

func encodePoint(p bn254.G1Affine) Point {
	var out Point
	b := p.Bytes()
	copy(out[:], b[:])
	return out
}

func decodePoint(enc Point) (bn254.G1Affine, error) {
	var p bn254.G1Affine
	if _, err := p.SetBytes(enc[:]); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	if !p.IsInSubGroup() {
		return p, ErrInvalidPoint
	}
	return p, nil
}

func generatorHCopy() bn254.G1Affine {
	return generatorH()
}
