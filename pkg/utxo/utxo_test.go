package utxo

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/certen/ledger-validator/pkg/crypto/identity"
)

func mustKey(t *testing.T) (*btcec.PrivateKey, identity.PublicKey) {
	t.Helper()
	sk, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	var pk identity.PublicKey
	copy(pk[:], sk.PubKey().SerializeCompressed())
	return sk, pk
}

func TestLedgerApplyAndBalance(t *testing.T) {
	l := NewLedger()
	sk, pk := mustKey(t)

	genesisTx := [32]byte{1}
	if err := l.Apply(genesisTx, nil, []Output{{Amount: 100, Recipient: pk}}, 0, time.Now()); err != nil {
		t.Fatalf("seed output: %v", err)
	}
	if got := l.Balance(pk); got != 100 {
		t.Fatalf("balance = %d, want 100", got)
	}

	_, recipientPk := mustKey(t)
	spendTx := [32]byte{2}
	outpoint := OutPoint{TxHash: genesisTx, OutputIndex: 0}
	digest := TransactionDigest([]OutPoint{outpoint}, []Output{{Amount: 60, Recipient: recipientPk}, {Amount: 40, Recipient: pk}})
	sig := Sign(sk, digest)

	inputs := []Input{{OutPoint: outpoint, Spender: pk, Signature: sig}}
	outputs := []Output{{Amount: 60, Recipient: recipientPk}, {Amount: 40, Recipient: pk}}
	if err := l.Apply(spendTx, inputs, outputs, 1, time.Now()); err != nil {
		t.Fatalf("apply spend: %v", err)
	}

	if got := l.Balance(pk); got != 40 {
		t.Fatalf("sender balance after spend = %d, want 40", got)
	}
	if got := l.Balance(recipientPk); got != 60 {
		t.Fatalf("recipient balance after spend = %d, want 60", got)
	}

	// The consumed outpoint must no longer be spendable.
	if err := l.Apply([32]byte{3}, inputs, nil, 2, time.Now()); err == nil {
		t.Fatal("expected double-spend to fail")
	}
}

func TestLedgerApplyRejectsWrongSpender(t *testing.T) {
	l := NewLedger()
	sk, pk := mustKey(t)
	_, impostor := mustKey(t)

	tx := [32]byte{1}
	if err := l.Apply(tx, nil, []Output{{Amount: 10, Recipient: pk}}, 0, time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	outpoint := OutPoint{TxHash: tx, OutputIndex: 0}
	digest := TransactionDigest([]OutPoint{outpoint}, nil)
	sig := Sign(sk, digest)

	bad := []Input{{OutPoint: outpoint, Spender: impostor, Signature: sig}}
	if err := l.Apply([32]byte{2}, bad, nil, 1, time.Now()); err == nil {
		t.Fatal("expected spend by non-owner to fail")
	}
}

func TestLedgerApplyRejectsUnbalanced(t *testing.T) {
	l := NewLedger()
	sk, pk := mustKey(t)

	tx := [32]byte{1}
	if err := l.Apply(tx, nil, []Output{{Amount: 10, Recipient: pk}}, 0, time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	outpoint := OutPoint{TxHash: tx, OutputIndex: 0}
	outputs := []Output{{Amount: 20, Recipient: pk}}
	digest := TransactionDigest([]OutPoint{outpoint}, outputs)
	sig := Sign(sk, digest)

	inputs := []Input{{OutPoint: outpoint, Spender: pk, Signature: sig}}
	if err := l.Apply([32]byte{2}, inputs, outputs, 1, time.Now()); err == nil {
		t.Fatal("expected unbalanced transaction to fail")
	}
}

func TestLedgerApplyRejectsDuplicateInput(t *testing.T) {
	l := NewLedger()
	sk, pk := mustKey(t)

	tx := [32]byte{1}
	if err := l.Apply(tx, nil, []Output{{Amount: 10, Recipient: pk}}, 0, time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	outpoint := OutPoint{TxHash: tx, OutputIndex: 0}
	digest := TransactionDigest([]OutPoint{outpoint, outpoint}, nil)
	sig := Sign(sk, digest)

	inputs := []Input{
		{OutPoint: outpoint, Spender: pk, Signature: sig},
		{OutPoint: outpoint, Spender: pk, Signature: sig},
	}
	if err := l.Apply([32]byte{2}, inputs, nil, 1, time.Now()); err == nil {
		t.Fatal("expected duplicate input to fail")
	}
}
