// Package identity derives the secp256k1 key material that names an
// account on the ledger. A secret key is a 256-bit scalar; the public key
// is its compressed SEC1 encoding and doubles as the account index key.
package identity

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// SecretKeySize is the length in bytes of a secp256k1 scalar.
const SecretKeySize = 32

// PublicKeySize is the length in bytes of a compressed secp256k1 point.
const PublicKeySize = 33

var (
	// ErrInvalidSecretKey is returned when a secret key does not decode to a
	// valid secp256k1 scalar.
	ErrInvalidSecretKey = errors.New("identity: invalid secret key")
	// ErrInvalidPublicKey is returned when a public key does not decode to a
	// point on the secp256k1 curve.
	ErrInvalidPublicKey = errors.New("identity: invalid public key")
)

// SecretKey is a 256-bit secp256k1 scalar.
type SecretKey [SecretKeySize]byte

// PublicKey is the compressed encoding of scalar*G on secp256k1.
type PublicKey [PublicKeySize]byte

// GenerateSecretKey draws a uniformly random secp256k1 scalar.
func GenerateSecretKey() (SecretKey, error) {
	priv, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return SecretKey{}, fmt.Errorf("identity: generate key: %w", err)
	}
	var sk SecretKey
	crypto.FromECDSA(priv)
	copy(sk[:], padLeft(priv.D.Bytes(), SecretKeySize))
	return sk, nil
}

// DerivePublic computes the compressed secp256k1 public key for sk.
func DerivePublic(sk SecretKey) (PublicKey, error) {
	priv, err := crypto.ToECDSA(sk[:])
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidSecretKey, err)
	}
	var pk PublicKey
	copy(pk[:], crypto.CompressPubkey(&priv.PublicKey))
	return pk, nil
}

// Validate checks that pk decodes to a point on the secp256k1 curve.
func (pk PublicKey) Validate() error {
	if _, err := crypto.DecompressPubkey(pk[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return nil
}

func (sk SecretKey) String() string { return hex.EncodeToString(sk[:]) }
func (pk PublicKey) String() string { return hex.EncodeToString(pk[:]) }

// SecretKeyFromHex decodes a hex-encoded secret key.
func SecretKeyFromHex(s string) (SecretKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != SecretKeySize {
		return SecretKey{}, ErrInvalidSecretKey
	}
	var sk SecretKey
	copy(sk[:], b)
	return sk, nil
}

// PublicKeyFromHex decodes a hex-encoded compressed public key.
func PublicKeyFromHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != PublicKeySize {
		return PublicKey{}, ErrInvalidPublicKey
	}
	var pk PublicKey
	copy(pk[:], b)
	return pk, pk.Validate()
}

func (sk SecretKey) MarshalText() ([]byte, error) { return []byte(sk.String()), nil }
func (sk *SecretKey) UnmarshalText(text []byte) error {
	v, err := SecretKeyFromHex(string(text))
	if err != nil {
		return err
	}
	*sk = v
	return nil
}

func (pk PublicKey) MarshalText() ([]byte, error) { return []byte(pk.String()), nil }
func (pk *PublicKey) UnmarshalText(text []byte) error {
	v, err := PublicKeyFromHex(string(text))
	if err != nil {
		return err
	}
	*pk = v
	return nil
}

func padLeft(b []byte, size int) []byte {
	if len(b) >= size {
		return b[len(b)-size:]
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}
