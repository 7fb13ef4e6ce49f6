// Package blockhash computes the canonical SHA-256 digest that links one
// block to the next. Every block variant hashes its tagged fields together
// with the previous block's hash, so altering any committed block changes
// every hash that follows it.
package blockhash

import (
	"crypto/sha256"
	"encoding/binary"
)

// Hash is a block's 32-byte identity.
type Hash [32]byte

// Zero is the previous-hash value used by the genesis block.
var Zero Hash

// Builder accumulates a block's tagged fields in a fixed, documented order
// and folds them into the final hash together with the previous block's
// hash. Callers must feed fields in the same order the verifier expects;
// the builder does not itself know a block's shape.
type Builder struct {
	data []byte
}

// New starts a block hash over prevHash and a one-byte variant tag.
func New(prevHash Hash, kind byte) *Builder {
	b := &Builder{data: make([]byte, 0, 128)}
	b.data = append(b.data, kind)
	b.data = append(b.data, prevHash[:]...)
	return b
}

// WriteBytes appends a raw field, such as a public key or proof point.
func (b *Builder) WriteBytes(field []byte) *Builder {
	b.data = append(b.data, field...)
	return b
}

// WriteUint64 appends a big-endian encoded integer field, such as an amount
// or a nonce.
func (b *Builder) WriteUint64(v uint64) *Builder {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return b.WriteBytes(buf[:])
}

// Sum finalizes the hash.
func (b *Builder) Sum() Hash {
	return sha256.Sum256(b.data)
}

// String returns the hex encoding of h.
func (h Hash) String() string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(h)*2)
	for i, c := range h {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0x0f]
	}
	return string(out)
}

// IsZero reports whether h is the all-zero genesis predecessor value.
func (h Hash) IsZero() bool { return h == Zero }
