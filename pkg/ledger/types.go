package ledger

import (
	"time"

	"github.com/certen/ledger-validator/pkg/crypto/blockhash"
	"github.com/certen/ledger-validator/pkg/crypto/identity"
	"github.com/certen/ledger-validator/pkg/crypto/splitproof"
)

// Account is the per-public-key record held in the accounts index.
type Account struct {
	PublicKey  identity.PublicKey `json:"public_key"`
	Balance    uint64             `json:"balance"`
	Nonce      uint64             `json:"nonce"`
	ProofPoint splitproof.Point   `json:"proof_point"`
}

// BlockKind tags which variant a Block carries. The persisted JSON uses the
// variant name as the block's sole outer key, so this value must match one
// of the constants below exactly.
type BlockKind string

const (
	KindGenesis     BlockKind = "Genesis"
	KindNewAccount  BlockKind = "NewAccount"
	KindFaucet      BlockKind = "Faucet"
	KindTransaction BlockKind = "Transaction"
)

// GenesisBlock is the sole block at chain position 0.
type GenesisBlock struct {
	Time time.Time `json:"time"`
}

// NewAccountBlock records the creation of an account with a zero balance,
// together with the proof point its transactions are verified against.
type NewAccountBlock struct {
	Time       time.Time          `json:"time"`
	Address    identity.PublicKey `json:"address"`
	ProofPoint splitproof.Point   `json:"proof_point"`
	Balance    uint64             `json:"balance"`
	Hash       blockhash.Hash     `json:"hash"`
}

// FaucetBlock records a faucet grant to an existing account.
type FaucetBlock struct {
	Time           time.Time          `json:"time"`
	Address        identity.PublicKey `json:"address"`
	AccountBalance uint64             `json:"account_balance"`
	Hash           blockhash.Hash     `json:"hash"`
}

// TransactionBlock records a transfer from sender to recipient. ProofDigest
// is the spent split transcript's digest, carried on the block itself so
// every replica that applies it — originator and peers alike — marks the
// same transcript consumed from the committed block alone, with no need to
// re-transmit the transcript outside the original vote exchange.
type TransactionBlock struct {
	Time             time.Time          `json:"time"`
	Sender           identity.PublicKey `json:"sender"`
	SenderBalance    uint64             `json:"sender_balance"`
	SenderNonce      uint64             `json:"sender_nonce"`
	Recipient        identity.PublicKey `json:"recipient"`
	RecipientBalance uint64             `json:"recipient_balance"`
	Amount           uint64             `json:"amount"`
	ProofDigest      [32]byte           `json:"proof_digest"`
	Hash             blockhash.Hash     `json:"hash"`
}

// Block is a tagged union over the four chain variants. Exactly one of the
// pointer fields is non-nil; Kind identifies which. Marshaling is
// implemented in codec.go so the on-disk shape keeps the variant name as
// the sole outer key, matching the layout integration tests parse against.
type Block struct {
	Kind        BlockKind
	Genesis     *GenesisBlock
	NewAccount  *NewAccountBlock
	Faucet      *FaucetBlock
	Transaction *TransactionBlock
}

// Hash returns this block's own hash. The genesis block has none and
// returns the zero hash.
func (b Block) Hash() blockhash.Hash {
	switch b.Kind {
	case KindGenesis:
		return blockhash.Zero
	case KindNewAccount:
		return b.NewAccount.Hash
	case KindFaucet:
		return b.Faucet.Hash
	case KindTransaction:
		return b.Transaction.Hash
	default:
		return blockhash.Zero
	}
}

// UsedProofKey identifies a consumed split transcript: the sender's public
// key together with the transcript digest H(A||B).
type UsedProofKey struct {
	PublicKey identity.PublicKey
	Digest    [32]byte
}
