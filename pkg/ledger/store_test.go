package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/certen/ledger-validator/pkg/crypto/identity"
	"github.com/certen/ledger-validator/pkg/crypto/splitproof"
	"github.com/certen/ledger-validator/pkg/merkle"
)

func mustKeypair(t *testing.T) (identity.SecretKey, identity.PublicKey, splitproof.Point) {
	t.Helper()
	sk, err := identity.GenerateSecretKey()
	if err != nil {
		t.Fatalf("generate secret key: %v", err)
	}
	pk, err := identity.DerivePublic(sk)
	if err != nil {
		t.Fatalf("derive public key: %v", err)
	}
	proof := splitproof.DeriveProofPoint(splitproof.ScalarFromSecpSecret(sk))
	return sk, pk, proof
}

func newGenesisStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(nil)
	if err := s.AppendBlock(NewGenesisBlock(time.Now())); err != nil {
		t.Fatalf("append genesis: %v", err)
	}
	return s
}

func TestAccountInclusionProofVerifiesAgainstStateDigest(t *testing.T) {
	s := newGenesisStore(t)
	_, pk, proof := mustKeypair(t)

	block, err := s.ValidateNewAccount(pk, proof, time.Now())
	if err != nil {
		t.Fatalf("ValidateNewAccount: %v", err)
	}
	if err := s.AppendBlock(block); err != nil {
		t.Fatalf("AppendBlock: %v", err)
	}

	digest, err := s.StateDigest()
	if err != nil {
		t.Fatalf("StateDigest: %v", err)
	}

	incProof, proofDigest, err := s.AccountInclusionProof(pk)
	if err != nil {
		t.Fatalf("AccountInclusionProof: %v", err)
	}
	if proofDigest != digest {
		t.Fatalf("AccountInclusionProof digest = %x, want %x", proofDigest, digest)
	}

	acct, _ := s.GetAccount(pk)
	ok, err := merkle.VerifyProof(accountLeaf(acct), incProof, digest[:])
	if err != nil {
		t.Fatalf("VerifyProof: %v", err)
	}
	if !ok {
		t.Fatal("VerifyProof rejected a valid account inclusion proof")
	}
}

func TestAccountInclusionProofRejectsUnknownAccount(t *testing.T) {
	s := newGenesisStore(t)
	_, pk, _ := mustKeypair(t)
	if _, _, err := s.AccountInclusionProof(pk); err != ErrUnknownAccount {
		t.Fatalf("AccountInclusionProof unknown = %v, want %v", err, ErrUnknownAccount)
	}
}

func TestValidateNewAccountBeforeGenesisFails(t *testing.T) {
	s := NewStore(nil)
	_, pk, proof := mustKeypair(t)
	if _, err := s.ValidateNewAccount(pk, proof, time.Now()); err != ErrEmptyChain {
		t.Fatalf("ValidateNewAccount on empty chain = %v, want %v", err, ErrEmptyChain)
	}
}

func TestNewAccountFaucetTransactionLifecycle(t *testing.T) {
	s := newGenesisStore(t)

	senderSK, senderPK, senderProof := mustKeypair(t)
	_, recipientPK, recipientProof := mustKeypair(t)

	block, err := s.ValidateNewAccount(senderPK, senderProof, time.Now())
	if err != nil {
		t.Fatalf("ValidateNewAccount sender: %v", err)
	}
	if err := s.AppendBlock(block); err != nil {
		t.Fatalf("AppendBlock sender: %v", err)
	}

	block, err = s.ValidateNewAccount(recipientPK, recipientProof, time.Now())
	if err != nil {
		t.Fatalf("ValidateNewAccount recipient: %v", err)
	}
	if err := s.AppendBlock(block); err != nil {
		t.Fatalf("AppendBlock recipient: %v", err)
	}

	if _, err := s.ValidateNewAccount(senderPK, senderProof, time.Now()); !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("duplicate new-account = %v, want %v", err, ErrDuplicateAccount)
	}

	block, err = s.ValidateFaucet(senderPK, time.Now())
	if err != nil {
		t.Fatalf("ValidateFaucet: %v", err)
	}
	if err := s.AppendBlock(block); err != nil {
		t.Fatalf("AppendBlock faucet: %v", err)
	}
	acct, _ := s.GetAccount(senderPK)
	if acct.Balance != DefaultFaucetAmount {
		t.Fatalf("sender balance = %d, want %d", acct.Balance, DefaultFaucetAmount)
	}

	_, transcript, err := splitproof.SplitScalar(splitproof.ScalarFromSecpSecret(senderSK))
	if err != nil {
		t.Fatalf("split scalar: %v", err)
	}
	const amount = 25
	block, _, err = s.ValidateTransaction(senderPK, recipientPK, amount, transcript, time.Now())
	if err != nil {
		t.Fatalf("ValidateTransaction: %v", err)
	}
	if err := s.AppendBlock(block); err != nil {
		t.Fatalf("AppendBlock transaction: %v", err)
	}

	sender, _ := s.GetAccount(senderPK)
	recipient, _ := s.GetAccount(recipientPK)
	if sender.Balance != DefaultFaucetAmount-amount {
		t.Fatalf("sender balance after transfer = %d, want %d", sender.Balance, DefaultFaucetAmount-amount)
	}
	if recipient.Balance != amount {
		t.Fatalf("recipient balance after transfer = %d, want %d", recipient.Balance, amount)
	}
	if sender.Nonce != 1 {
		t.Fatalf("sender nonce = %d, want 1", sender.Nonce)
	}

	// Replaying the exact same transcript must be rejected even though the
	// sender can still afford it, and the rejection must also hold once the
	// block that consumed it has actually been appended (not merely voted
	// on), since applyEffect is what records the transcript as spent.
	if _, _, err := s.ValidateTransaction(senderPK, recipientPK, 1, transcript, time.Now()); err != ErrReplayedProof {
		t.Fatalf("replayed transcript = %v, want %v", err, ErrReplayedProof)
	}
}

func TestValidateTransactionRejectsInsufficientFunds(t *testing.T) {
	s := newGenesisStore(t)
	senderSK, senderPK, senderProof := mustKeypair(t)
	_, recipientPK, recipientProof := mustKeypair(t)

	for _, b := range []struct {
		pk    identity.PublicKey
		proof splitproof.Point
	}{{senderPK, senderProof}, {recipientPK, recipientProof}} {
		block, err := s.ValidateNewAccount(b.pk, b.proof, time.Now())
		if err != nil {
			t.Fatalf("ValidateNewAccount: %v", err)
		}
		if err := s.AppendBlock(block); err != nil {
			t.Fatalf("AppendBlock: %v", err)
		}
	}

	_, transcript, err := splitproof.SplitScalar(splitproof.ScalarFromSecpSecret(senderSK))
	if err != nil {
		t.Fatalf("split scalar: %v", err)
	}
	if _, _, err := s.ValidateTransaction(senderPK, recipientPK, 1, transcript, time.Now()); err != ErrInsufficientFunds {
		t.Fatalf("ValidateTransaction with zero balance = %v, want %v", err, ErrInsufficientFunds)
	}
}

func TestValidateTransactionRejectsForgedProof(t *testing.T) {
	s := newGenesisStore(t)
	_, senderPK, senderProof := mustKeypair(t)
	_, recipientPK, recipientProof := mustKeypair(t)
	otherSK, _, _ := mustKeypair(t)

	for _, b := range []struct {
		pk    identity.PublicKey
		proof splitproof.Point
	}{{senderPK, senderProof}, {recipientPK, recipientProof}} {
		block, err := s.ValidateNewAccount(b.pk, b.proof, time.Now())
		if err != nil {
			t.Fatalf("ValidateNewAccount: %v", err)
		}
		if err := s.AppendBlock(block); err != nil {
			t.Fatalf("AppendBlock: %v", err)
		}
	}

	// A transcript split from someone else's secret never sums to the
	// sender's stored proof point.
	_, forgedTranscript, err := splitproof.SplitScalar(splitproof.ScalarFromSecpSecret(otherSK))
	if err != nil {
		t.Fatalf("split scalar: %v", err)
	}
	if _, _, err := s.ValidateTransaction(senderPK, recipientPK, 1, forgedTranscript, time.Now()); err != ErrInvalidProof {
		t.Fatalf("ValidateTransaction with forged proof = %v, want %v", err, ErrInvalidProof)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newGenesisStore(t)
	_, pk, proof := mustKeypair(t)
	block, err := s.ValidateNewAccount(pk, proof, time.Now())
	if err != nil {
		t.Fatalf("ValidateNewAccount: %v", err)
	}
	if err := s.AppendBlock(block); err != nil {
		t.Fatalf("AppendBlock: %v", err)
	}

	snap, err := s.AsSnapshot()
	if err != nil {
		t.Fatalf("AsSnapshot: %v", err)
	}

	restored := NewStore(nil)
	restored.LoadSnapshot(snap)

	if restored.Height() != s.Height() {
		t.Fatalf("restored height = %d, want %d", restored.Height(), s.Height())
	}
	restoredDigest, err := restored.StateDigest()
	if err != nil {
		t.Fatalf("StateDigest: %v", err)
	}
	if restoredDigest != snap.Digest {
		t.Fatal("restored store's digest does not match the snapshot it was loaded from")
	}
}

func TestStateDigestIndependentOfInsertionOrder(t *testing.T) {
	_, pkA, proofA := mustKeypair(t)
	_, pkB, proofB := mustKeypair(t)

	s1 := newGenesisStore(t)
	for _, kp := range []struct {
		pk    identity.PublicKey
		proof splitproof.Point
	}{{pkA, proofA}, {pkB, proofB}} {
		block, err := s1.ValidateNewAccount(kp.pk, kp.proof, time.Now())
		if err != nil {
			t.Fatalf("ValidateNewAccount: %v", err)
		}
		if err := s1.AppendBlock(block); err != nil {
			t.Fatalf("AppendBlock: %v", err)
		}
	}

	s2 := newGenesisStore(t)
	for _, kp := range []struct {
		pk    identity.PublicKey
		proof splitproof.Point
	}{{pkB, proofB}, {pkA, proofA}} {
		block, err := s2.ValidateNewAccount(kp.pk, kp.proof, time.Now())
		if err != nil {
			t.Fatalf("ValidateNewAccount: %v", err)
		}
		if err := s2.AppendBlock(block); err != nil {
			t.Fatalf("AppendBlock: %v", err)
		}
	}

	d1, err := s1.StateDigest()
	if err != nil {
		t.Fatalf("StateDigest s1: %v", err)
	}
	d2, err := s2.StateDigest()
	if err != nil {
		t.Fatalf("StateDigest s2: %v", err)
	}
	if d1 != d2 {
		t.Fatal("state digest depends on account insertion order")
	}
}
