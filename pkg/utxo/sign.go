package utxo

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Sign produces the DER-encoded ECDSA signature a spender attaches to an
// Input, over digest, using sk.
func Sign(sk *btcec.PrivateKey, digest [32]byte) []byte {
	sig := ecdsa.Sign(sk, digest[:])
	return sig.Serialize()
}
