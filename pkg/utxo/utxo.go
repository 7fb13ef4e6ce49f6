// Package utxo implements the optional secondary unspent-output ledger
// layout: an OutPoint-keyed map of unspent outputs alongside an index from
// recipient to their outpoints for constant-time balance queries. It may
// coexist with the account model in pkg/ledger; nothing in the request
// pipeline requires it, and a node that never constructs a Ledger never
// pays for it.
package utxo

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/certen/ledger-validator/pkg/crypto/identity"
)

// OutPoint identifies one output of one transaction.
type OutPoint struct {
	TxHash      [32]byte `json:"tx_hash"`
	OutputIndex uint32   `json:"output_index"`
}

// Output is the unspent value at an OutPoint.
type Output struct {
	Amount      uint64             `json:"amount"`
	Recipient   identity.PublicKey `json:"recipient"`
	BlockHeight uint64             `json:"block_height"`
	Time        time.Time          `json:"time"`
}

// Input references a prior Output being consumed, authorized by a
// secp256k1 ECDSA signature over the transaction digest, in the spender's
// own role distinct from the account model's split-scalar proof — the two
// schemes are never mixed.
type Input struct {
	OutPoint  OutPoint           `json:"outpoint"`
	Spender   identity.PublicKey `json:"spender"`
	Signature []byte             `json:"signature"`
}

var (
	// ErrOutPointNotFound is returned when an input references an
	// outpoint with no matching unspent output.
	ErrOutPointNotFound = errors.New("utxo: outpoint not found")
	// ErrInvalidSignature is returned when an input's signature does not
	// verify against its claimed spender's public key.
	ErrInvalidSignature = errors.New("utxo: invalid input signature")
	// ErrUnbalanced is returned when a transaction's outputs exceed its
	// inputs.
	ErrUnbalanced = errors.New("utxo: sum(inputs) < sum(outputs)")
	// ErrDuplicateInput is returned when a transaction consumes the same
	// outpoint twice.
	ErrDuplicateInput = errors.New("utxo: duplicate input outpoint")
)

// Ledger is the unspent-output set, guarded by its own lock independent
// of the account-model Store.
type Ledger struct {
	mu          sync.RWMutex
	outputs     map[OutPoint]Output
	byRecipient map[identity.PublicKey]map[OutPoint]struct{}
}

// NewLedger creates an empty unspent-output ledger.
func NewLedger() *Ledger {
	return &Ledger{
		outputs:     make(map[OutPoint]Output),
		byRecipient: make(map[identity.PublicKey]map[OutPoint]struct{}),
	}
}

// Balance returns the sum of every unspent output owned by pk. It visits
// only pk's own outputs via the byRecipient index rather than scanning the
// whole unspent set; no running total is kept, so its cost grows with the
// number of outputs pk holds.
func (l *Ledger) Balance(pk identity.PublicKey) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total uint64
	for op := range l.byRecipient[pk] {
		total += l.outputs[op].Amount
	}
	return total
}

// TransactionDigest returns the canonical hash a spender signs over: the
// consumed outpoints followed by the new outputs, in declared order.
func TransactionDigest(inputs []OutPoint, outputs []Output) [32]byte {
	buf := make([]byte, 0, 64*(len(inputs)+len(outputs)))
	for _, op := range inputs {
		buf = append(buf, op.TxHash[:]...)
		buf = append(buf, byte(op.OutputIndex), byte(op.OutputIndex>>8), byte(op.OutputIndex>>16), byte(op.OutputIndex>>24))
	}
	for _, o := range outputs {
		buf = append(buf, o.Recipient[:]...)
		var amt [8]byte
		for i := 0; i < 8; i++ {
			amt[7-i] = byte(o.Amount >> (8 * i))
		}
		buf = append(buf, amt[:]...)
	}
	return sha256.Sum256(buf)
}

// Apply validates a transaction's inputs and outputs against the current
// unspent set and, on success, removes the consumed outputs and inserts
// the new ones as a single critical section. txHash identifies the new
// outputs' OutPoints.
func (l *Ledger) Apply(txHash [32]byte, inputs []Input, outputs []Output, height uint64, now time.Time) error {
	digest := TransactionDigest(outPointsOf(inputs), outputs)

	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[OutPoint]struct{}, len(inputs))
	var sumIn uint64
	for _, in := range inputs {
		if _, dup := seen[in.OutPoint]; dup {
			return fmt.Errorf("%w: %+v", ErrDuplicateInput, in.OutPoint)
		}
		seen[in.OutPoint] = struct{}{}

		out, ok := l.outputs[in.OutPoint]
		if !ok {
			return fmt.Errorf("%w: %+v", ErrOutPointNotFound, in.OutPoint)
		}
		if in.Spender != out.Recipient {
			return fmt.Errorf("%w: spender does not own outpoint %+v", ErrInvalidSignature, in.OutPoint)
		}
		if !verifySignature(in.Spender, digest, in.Signature) {
			return fmt.Errorf("%w: outpoint %+v", ErrInvalidSignature, in.OutPoint)
		}
		sumIn += out.Amount
	}

	var sumOut uint64
	for _, o := range outputs {
		sumOut += o.Amount
	}
	if sumIn < sumOut {
		return fmt.Errorf("%w: have %d, need %d", ErrUnbalanced, sumIn, sumOut)
	}

	for op := range seen {
		out := l.outputs[op]
		delete(l.outputs, op)
		delete(l.byRecipient[out.Recipient], op)
	}
	for i, o := range outputs {
		op := OutPoint{TxHash: txHash, OutputIndex: uint32(i)}
		o.BlockHeight = height
		o.Time = now
		l.outputs[op] = o
		if l.byRecipient[o.Recipient] == nil {
			l.byRecipient[o.Recipient] = make(map[OutPoint]struct{})
		}
		l.byRecipient[o.Recipient][op] = struct{}{}
	}
	return nil
}

func outPointsOf(inputs []Input) []OutPoint {
	out := make([]OutPoint, len(inputs))
	for i, in := range inputs {
		out[i] = in.OutPoint
	}
	return out
}

func verifySignature(pk identity.PublicKey, digest [32]byte, sig []byte) bool {
	pub, err := btcec.ParsePubKey(pk[:])
	if err != nil {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(digest[:], pub)
}
