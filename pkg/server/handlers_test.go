package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/certen/ledger-validator/pkg/crypto/identity"
	"github.com/certen/ledger-validator/pkg/crypto/splitproof"
	"github.com/certen/ledger-validator/pkg/ledger"
	"github.com/certen/ledger-validator/pkg/metrics"
	"github.com/certen/ledger-validator/pkg/peers"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	store := ledger.NewStore(nil)
	if err := store.AppendBlock(ledger.NewGenesisBlock(time.Now())); err != nil {
		t.Fatalf("append genesis: %v", err)
	}
	dir := peers.New("self:0", peers.DefaultConfig())
	return New(store, dir, metrics.New())
}

func TestHandleHeight(t *testing.T) {
	h := newTestHandlers(t)
	rr := httptest.NewRecorder()
	h.HandleHeight(rr, httptest.NewRequest(http.MethodGet, "/height", nil))

	var body map[string]uint64
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["height"] != 1 {
		t.Fatalf("height = %d, want 1", body["height"])
	}
}

func TestHandleAccountUnknown(t *testing.T) {
	h := newTestHandlers(t)
	rr := httptest.NewRecorder()
	hexKey := "02" + "0000000000000000000000000000000000000000000000000000000000000001"
	h.HandleAccount(rr, httptest.NewRequest(http.MethodGet, "/account/"+hexKey, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandleAccountProof(t *testing.T) {
	store := ledger.NewStore(nil)
	if err := store.AppendBlock(ledger.NewGenesisBlock(time.Now())); err != nil {
		t.Fatalf("append genesis: %v", err)
	}

	sk, err := identity.GenerateSecretKey()
	if err != nil {
		t.Fatalf("generate secret key: %v", err)
	}
	pk, err := identity.DerivePublic(sk)
	if err != nil {
		t.Fatalf("derive public key: %v", err)
	}
	proof := splitproof.DeriveProofPoint(splitproof.ScalarFromSecpSecret(sk))

	block, err := store.ValidateNewAccount(pk, proof, time.Now())
	if err != nil {
		t.Fatalf("ValidateNewAccount: %v", err)
	}
	if err := store.AppendBlock(block); err != nil {
		t.Fatalf("AppendBlock: %v", err)
	}

	dir := peers.New("self:0", peers.DefaultConfig())
	h := New(store, dir, metrics.New())

	rr := httptest.NewRecorder()
	h.HandleAccount(rr, httptest.NewRequest(http.MethodGet, "/account/"+pk.String()+"/proof", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rr.Code, rr.Body.String())
	}

	var body struct {
		Digest string `json:"digest"`
		Proof  struct {
			LeafHash string `json:"leaf_hash"`
		} `json:"proof"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Digest == "" || body.Proof.LeafHash == "" {
		t.Fatalf("incomplete proof response: %+v", body)
	}
}

func TestHandleHealth(t *testing.T) {
	h := newTestHandlers(t)
	rr := httptest.NewRecorder()
	h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestHandleMetrics(t *testing.T) {
	h := newTestHandlers(t)
	rr := httptest.NewRecorder()
	h.HandleMetrics(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}
