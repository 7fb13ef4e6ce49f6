// Copyright 2025 Certen Protocol
//
// Package server exposes a validator node's read-only query surface:
// chain height, the committed block list, individual account lookups,
// and the /health and /metrics endpoints every node serves alongside its
// peer-to-peer listener.
package server

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/certen/ledger-validator/pkg/crypto/identity"
	"github.com/certen/ledger-validator/pkg/ledger"
	"github.com/certen/ledger-validator/pkg/metrics"
	"github.com/certen/ledger-validator/pkg/peers"
)

// Handlers serves a node's HTTP query API.
type Handlers struct {
	store   *ledger.Store
	dir     *peers.Directory
	metrics *metrics.Registry
}

// New creates Handlers bound to store, dir, and reg. reg may be nil, in
// which case HandleMetrics responds 404.
func New(store *ledger.Store, dir *peers.Directory, reg *metrics.Registry) *Handlers {
	return &Handlers{store: store, dir: dir, metrics: reg}
}

// HandleHeight serves GET /height: the current committed chain height.
func (h *Handlers) HandleHeight(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"height": h.store.Height()})
}

// HandleChain serves GET /chain: the full committed block list.
func (h *Handlers) HandleChain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Chain())
}

// HandleAccount serves GET /account/{public_key}: the account record for
// a hex-encoded compressed public key.
func (h *Handlers) HandleAccount(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/proof") {
		h.HandleAccountProof(w, r)
		return
	}
	hexKey := strings.TrimPrefix(r.URL.Path, "/account/")
	pk, err := identity.PublicKeyFromHex(hexKey)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	acct, ok := h.store.GetAccount(pk)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown account"})
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// HandleAccountProof serves GET /account/{public_key}/proof: a Merkle
// inclusion proof tying the account's current record to the state digest
// a caller can compare against a Commit it already trusts.
func (h *Handlers) HandleAccountProof(w http.ResponseWriter, r *http.Request) {
	hexKey := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/account/"), "/proof")
	pk, err := identity.PublicKeyFromHex(hexKey)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	proof, digest, err := h.store.AccountInclusionProof(pk)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proof":  proof,
		"digest": hex.EncodeToString(digest[:]),
	})
}

// HandleHealth serves GET /health: liveness plus the current height and
// live peer count, the minimum a monitor needs to detect a stalled or
// partitioned node.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"height":     h.store.Height(),
		"live_peers": h.dir.Count(),
	})
}

// HandleMetrics serves GET /metrics in the Prometheus exposition format.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		http.NotFound(w, r)
		return
	}
	h.metrics.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
