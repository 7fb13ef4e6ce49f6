package ledger

import (
	"fmt"
	"time"

	"github.com/certen/ledger-validator/pkg/crypto/blockhash"
	"github.com/certen/ledger-validator/pkg/crypto/identity"
	"github.com/certen/ledger-validator/pkg/crypto/splitproof"
)

// DefaultFaucetAmount is granted by a faucet request.
const DefaultFaucetAmount = 100

// DefaultValidatorReward is credited to a node's operator account for each
// commit it voted to accept.
const DefaultValidatorReward = 1

// Block-kind tags folded into the hash alongside prev_hash, so a genesis
// block and a transaction block with coincidentally identical field bytes
// never collide.
const (
	tagGenesis     byte = 0
	tagNewAccount  byte = 1
	tagFaucet      byte = 2
	tagTransaction byte = 3
)

// tipHashLocked returns the current tip hash; callers must hold s.mu.
func (s *Store) tipHashLocked() (blockhash.Hash, error) {
	if len(s.chain) == 0 {
		return blockhash.Hash{}, ErrEmptyChain
	}
	return s.chain[len(s.chain)-1].Hash(), nil
}

// ValidateNewAccount runs the kind-specific local check for a new-account
// request and, on success, builds the block to append.
func (s *Store) ValidateNewAccount(pk identity.PublicKey, proof splitproof.Point, now time.Time) (Block, error) {
	s.mu.RLock()
	_, exists := s.accounts[pk]
	prevHash, tipErr := s.tipHashLocked()
	s.mu.RUnlock()

	if exists {
		return Block{}, fmt.Errorf("%w: %x", ErrDuplicateAccount, pk)
	}
	if tipErr != nil {
		return Block{}, tipErr
	}

	h := blockhash.New(prevHash, tagNewAccount).
		WriteBytes(pk[:]).
		WriteBytes(proof[:]).
		WriteUint64(0).
		Sum()

	return Block{
		Kind: KindNewAccount,
		NewAccount: &NewAccountBlock{
			Time:       now,
			Address:    pk,
			ProofPoint: proof,
			Balance:    0,
			Hash:       h,
		},
	}, nil
}

// ValidateFaucet runs the kind-specific local check for a faucet request
// and, on success, builds the block to append.
func (s *Store) ValidateFaucet(pk identity.PublicKey, now time.Time) (Block, error) {
	s.mu.RLock()
	acct, exists := s.accounts[pk]
	prevHash, tipErr := s.tipHashLocked()
	s.mu.RUnlock()

	if !exists {
		return Block{}, fmt.Errorf("%w: %x", ErrUnknownAccount, pk)
	}
	if tipErr != nil {
		return Block{}, tipErr
	}

	newBalance := acct.Balance + DefaultFaucetAmount
	h := blockhash.New(prevHash, tagFaucet).
		WriteBytes(pk[:]).
		WriteUint64(newBalance).
		Sum()

	return Block{
		Kind: KindFaucet,
		Faucet: &FaucetBlock{
			Time:           now,
			Address:        pk,
			AccountBalance: newBalance,
			Hash:           h,
		},
	}, nil
}

// ValidateTransaction runs the four kind-specific local checks for a
// transaction request (both accounts exist, split proof verifies against
// the sender's stored proof point, the transcript hasn't been used, the
// sender can afford it) and, on success, builds the block to append.
func (s *Store) ValidateTransaction(sender, recipient identity.PublicKey, amount uint64, transcript splitproof.Transcript, now time.Time) (Block, [32]byte, error) {
	digest := transcript.Digest()

	s.mu.RLock()
	senderAcct, senderOK := s.accounts[sender]
	recipientAcct, recipientOK := s.accounts[recipient]
	_, used := s.used[UsedProofKey{PublicKey: sender, Digest: digest}]
	prevHash, tipErr := s.tipHashLocked()
	s.mu.RUnlock()

	if !senderOK {
		return Block{}, digest, fmt.Errorf("%w: sender %x", ErrUnknownAccount, sender)
	}
	if !recipientOK {
		return Block{}, digest, fmt.Errorf("%w: recipient %x", ErrUnknownAccount, recipient)
	}
	if !splitproof.VerifySplit(senderAcct.ProofPoint, transcript) {
		return Block{}, digest, ErrInvalidProof
	}
	if used {
		return Block{}, digest, ErrReplayedProof
	}
	if senderAcct.Balance < amount {
		return Block{}, digest, ErrInsufficientFunds
	}
	if tipErr != nil {
		return Block{}, digest, tipErr
	}

	newSenderBalance := senderAcct.Balance - amount
	newRecipientBalance := recipientAcct.Balance + amount
	newNonce := senderAcct.Nonce + 1

	h := blockhash.New(prevHash, tagTransaction).
		WriteBytes(sender[:]).
		WriteUint64(newSenderBalance).
		WriteUint64(newNonce).
		WriteBytes(recipient[:]).
		WriteUint64(newRecipientBalance).
		WriteUint64(amount).
		WriteBytes(digest[:]).
		Sum()

	return Block{
		Kind: KindTransaction,
		Transaction: &TransactionBlock{
			Time:             now,
			Sender:           sender,
			SenderBalance:    newSenderBalance,
			SenderNonce:      newNonce,
			Recipient:        recipient,
			RecipientBalance: newRecipientBalance,
			Amount:           amount,
			ProofDigest:      digest,
			Hash:             h,
		},
	}, digest, nil
}

// ValidatorRewardBlock builds the deterministic reward block credited to
// an operator account for voting with the majority on a commit. It reads
// the operator's balance as of the given prevHash's position in the
// caller-supplied accounts view rather than the store's live state, so a
// chain of several reward blocks queued in the same commit can be built
// without re-reading after each one is appended.
func (s *Store) ValidatorRewardBlock(operator identity.PublicKey, operatorBalance uint64, prevHash blockhash.Hash, now time.Time) Block {
	newBalance := operatorBalance + DefaultValidatorReward
	h := blockhash.New(prevHash, tagFaucet).
		WriteBytes(operator[:]).
		WriteUint64(newBalance).
		Sum()
	return Block{
		Kind: KindFaucet,
		Faucet: &FaucetBlock{
			Time:           now,
			Address:        operator,
			AccountBalance: newBalance,
			Hash:           h,
		},
	}
}

// NewGenesisBlock builds the sole chain-position-0 block.
func NewGenesisBlock(now time.Time) Block {
	return Block{Kind: KindGenesis, Genesis: &GenesisBlock{Time: now}}
}
