package ledger

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/certen/ledger-validator/pkg/crypto/blockhash"
	"github.com/certen/ledger-validator/pkg/crypto/identity"
	"github.com/certen/ledger-validator/pkg/crypto/splitproof"
	"github.com/certen/ledger-validator/pkg/merkle"
)

// KV is an optional write-through cache for committed blocks. A nil KV is
// valid; Store falls back to pure in-memory state with no cache writes.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// Store holds the chain, the accounts index, and the used-proof set.
//
// CONCURRENCY: Store assumes single-writer access and is designed to be
// called from the request pipeline's commit step only. AppendBlock must be
// called while holding the caller's single writer lock for the whole
// commit critical section (append + index update + used-proof insert +
// persistence submission); Store itself only guards its own internal
// consistency, not cross-call atomicity with persistence.
type Store struct {
	mu    sync.RWMutex
	kv    KV
	chain []Block

	accounts map[identity.PublicKey]Account
	used     map[UsedProofKey]struct{}
}

// NewStore creates an empty Store. kv may be nil.
func NewStore(kv KV) *Store {
	return &Store{
		kv:       kv,
		accounts: make(map[identity.PublicKey]Account),
		used:     make(map[UsedProofKey]struct{}),
	}
}

// AppendBlock validates the block's effect against current state, applies
// it to the accounts index, and pushes it onto the chain. Callers must
// have already performed request-level validation (funds, proof,
// duplicate account, etc.) upstream — AppendBlock re-asserts only the
// invariants that must hold no matter what validation ran before it, and
// fails fatally with ErrChainLink if they don't.
func (s *Store) AppendBlock(b Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.applyEffect(b); err != nil {
		return err
	}
	s.chain = append(s.chain, b)

	if s.kv != nil {
		if raw, err := json.Marshal(b); err == nil {
			_ = s.kv.Set(blockKey(uint64(len(s.chain)-1)), raw)
		}
	}
	return nil
}

func blockKey(height uint64) []byte {
	return []byte(fmt.Sprintf("chain:block:%020d", height))
}

// applyEffect mutates the accounts index for b, enforcing only the
// invariants that must hold for any block this store accepts.
func (s *Store) applyEffect(b Block) error {
	switch b.Kind {
	case KindGenesis:
		if len(s.chain) != 0 {
			return fmt.Errorf("%w: genesis block at non-zero height", ErrChainLink)
		}
		return nil

	case KindNewAccount:
		nb := b.NewAccount
		if _, exists := s.accounts[nb.Address]; exists {
			return fmt.Errorf("%w: new-account block for existing address", ErrChainLink)
		}
		s.accounts[nb.Address] = Account{PublicKey: nb.Address, Balance: nb.Balance, ProofPoint: nb.ProofPoint}
		return nil

	case KindFaucet:
		fb := b.Faucet
		acct, exists := s.accounts[fb.Address]
		if !exists {
			return fmt.Errorf("%w: faucet block for unknown address", ErrChainLink)
		}
		acct.Balance = fb.AccountBalance
		s.accounts[fb.Address] = acct
		return nil

	case KindTransaction:
		tb := b.Transaction
		sender, ok := s.accounts[tb.Sender]
		if !ok {
			return fmt.Errorf("%w: transaction block for unknown sender", ErrChainLink)
		}
		recipient, ok := s.accounts[tb.Recipient]
		if !ok {
			return fmt.Errorf("%w: transaction block for unknown recipient", ErrChainLink)
		}
		if tb.SenderNonce != sender.Nonce+1 {
			return fmt.Errorf("%w: non-monotonic sender nonce", ErrChainLink)
		}
		sender.Nonce = tb.SenderNonce
		sender.Balance = tb.SenderBalance
		recipient.Balance = tb.RecipientBalance
		s.accounts[tb.Sender] = sender
		s.accounts[tb.Recipient] = recipient
		s.used[UsedProofKey{PublicKey: tb.Sender, Digest: tb.ProofDigest}] = struct{}{}
		return nil

	default:
		return fmt.Errorf("%w: unknown block kind %q", ErrChainLink, b.Kind)
	}
}

// IsProofUsed reports whether (pk, digest) has already been consumed.
func (s *Store) IsProofUsed(pk identity.PublicKey, digest [32]byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.used[UsedProofKey{PublicKey: pk, Digest: digest}]
	return ok
}

// GetAccount returns the account for pk, if any.
func (s *Store) GetAccount(pk identity.PublicKey) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[pk]
	return a, ok
}

// TipHash returns the hash of the most recently appended block.
func (s *Store) TipHash() (blockhash.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.chain) == 0 {
		return blockhash.Hash{}, ErrEmptyChain
	}
	return s.chain[len(s.chain)-1].Hash(), nil
}

// Height returns the number of blocks committed so far, genesis included.
func (s *Store) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.chain))
}

// Chain returns a copy of the full committed chain.
func (s *Store) Chain() []Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Block, len(s.chain))
	copy(out, s.chain)
	return out
}

// Accounts returns a copy of the accounts index.
func (s *Store) Accounts() map[identity.PublicKey]Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[identity.PublicKey]Account, len(s.accounts))
	for k, v := range s.accounts {
		out[k] = v
	}
	return out
}

// StateDigest folds the accounts index into a Merkle root over its
// sorted-by-public-key leaves, so any two replicas holding the same
// account set compute the identical digest regardless of insertion order.
func (s *Store) StateDigest() ([32]byte, error) {
	s.mu.RLock()
	accounts := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, a)
	}
	s.mu.RUnlock()

	if len(accounts) == 0 {
		return [32]byte(blockhash.Zero), nil
	}

	sortAccountsByPublicKey(accounts)
	leaves := make([][]byte, len(accounts))
	for i, a := range accounts {
		leaves[i] = accountLeaf(a)
	}
	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return [32]byte{}, fmt.Errorf("ledger: state digest: %w", err)
	}
	var digest [32]byte
	copy(digest[:], tree.Root())
	return digest, nil
}

// AccountInclusionProof proves that pk's current account record is part of
// the state digest returned by StateDigest, for clients that want to check
// a balance against a root they already trust (e.g. one seen in a prior
// Commit) without trusting the serving node's account lookup outright.
func (s *Store) AccountInclusionProof(pk identity.PublicKey) (*merkle.InclusionProof, [32]byte, error) {
	s.mu.RLock()
	accounts := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, a)
	}
	s.mu.RUnlock()

	if len(accounts) == 0 {
		return nil, [32]byte{}, ErrUnknownAccount
	}

	sortAccountsByPublicKey(accounts)
	leaves := make([][]byte, len(accounts))
	leafIndex := -1
	for i, a := range accounts {
		leaves[i] = accountLeaf(a)
		if a.PublicKey == pk {
			leafIndex = i
		}
	}
	if leafIndex == -1 {
		return nil, [32]byte{}, ErrUnknownAccount
	}

	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("ledger: account proof: %w", err)
	}
	proof, err := tree.GenerateProof(leafIndex)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("ledger: account proof: %w", err)
	}
	var digest [32]byte
	copy(digest[:], tree.Root())
	return proof, digest, nil
}

func accountLeaf(a Account) []byte {
	buf := make([]byte, 0, identity.PublicKeySize+8+8+splitproof.PointSize)
	buf = append(buf, a.PublicKey[:]...)
	var bal, nonce [8]byte
	putUint64(bal[:], a.Balance)
	putUint64(nonce[:], a.Nonce)
	buf = append(buf, bal[:]...)
	buf = append(buf, nonce[:]...)
	buf = append(buf, a.ProofPoint[:]...)
	return merkle.HashData(buf)
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v)
		v >>= 8
	}
}

// sortAccountsByPublicKey sorts in place by raw public-key bytes. Account
// sets are always small (one per known key in a four-node toy network), so
// an insertion sort keeps this dependency-free without reaching for
// sort.Slice's closure overhead.
func sortAccountsByPublicKey(accounts []Account) {
	for i := 1; i < len(accounts); i++ {
		for j := i; j > 0; j-- {
			if string(accounts[j-1].PublicKey[:]) <= string(accounts[j].PublicKey[:]) {
				break
			}
			accounts[j-1], accounts[j] = accounts[j], accounts[j-1]
		}
	}
}

// Snapshot is the read-only view of ledger state exchanged during state
// sync: the full chain, the accounts index, and the digest that groups
// replicas for majority adoption.
type Snapshot struct {
	Chain    []Block                       `json:"chain"`
	Accounts map[identity.PublicKey]Account `json:"accounts"`
	Digest   [32]byte                      `json:"digest"`
}

// LoadSnapshot replaces the store's state wholesale, used when adopting a
// peer's majority state during boot. It bypasses AppendBlock's incremental
// effect application since the snapshot is already a consistent whole; the
// used-proof set is rebuilt from the chain's transaction blocks.
func (s *Store) LoadSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chain = append([]Block(nil), snap.Chain...)
	s.accounts = make(map[identity.PublicKey]Account, len(snap.Accounts))
	for k, v := range snap.Accounts {
		s.accounts[k] = v
	}
	s.used = make(map[UsedProofKey]struct{})
	for _, b := range s.chain {
		if b.Kind == KindTransaction && b.Transaction != nil {
			s.used[UsedProofKey{PublicKey: b.Transaction.Sender, Digest: b.Transaction.ProofDigest}] = struct{}{}
		}
	}
}

// AsSnapshot returns the current state as a Snapshot, computing its digest.
func (s *Store) AsSnapshot() (Snapshot, error) {
	digest, err := s.StateDigest()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Chain:    s.Chain(),
		Accounts: s.Accounts(),
		Digest:   digest,
	}, nil
}
