// Package persistence writes a node's ledger state to a per-node directory
// named deterministically by its listen address and port, and reloads it
// on boot. Writes go to a temporary file and are renamed into place so a
// crash mid-write never leaves a half-written snapshot visible to the next
// boot.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/certen/ledger-validator/pkg/ledger"
)

const (
	chainFileName    = "blockchain.json"
	accountsFileName = "accounts.json"
)

// Store writes and reads a single node's snapshot directory.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at "./Node_<addr>:<port>", creating the
// directory if it does not already exist.
func NewStore(addr string, port int) (*Store, error) {
	dir := NodeDir(addr, port)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: create node dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// NodeDir returns the deterministic per-node directory name for addr:port.
func NodeDir(addr string, port int) string {
	return fmt.Sprintf("./Node_%s:%d", addr, port)
}

// Save atomically writes the chain and the accounts index. Both files are
// written via temp-then-rename so a crash between the two leaves at most
// one of them updated, never a torn write of either.
func (s *Store) Save(snap ledger.Snapshot) error {
	if err := writeJSONAtomic(filepath.Join(s.dir, chainFileName), snap.Chain); err != nil {
		return fmt.Errorf("persistence: save chain: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(s.dir, accountsFileName), snap.Accounts); err != nil {
		return fmt.Errorf("persistence: save accounts: %w", err)
	}
	return nil
}

// Load reads a previously persisted chain back into a fresh Store backed
// by kv (which may be nil), replaying each block through AppendBlock so
// the KV cache and in-memory indexes are rebuilt identically to how they
// would be after live traffic. It returns (nil, false, nil) if no
// persisted replica exists for this node yet, the expected first-boot case.
func Load(addr string, port int, kv ledger.KV) (*ledger.Store, bool, error) {
	dir := NodeDir(addr, port)
	chainPath := filepath.Join(dir, chainFileName)

	raw, err := os.ReadFile(chainPath)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("persistence: read chain: %w", err)
	}

	var chain []ledger.Block
	if err := json.Unmarshal(raw, &chain); err != nil {
		return nil, false, fmt.Errorf("persistence: decode chain: %w", err)
	}

	store := ledger.NewStore(kv)
	for i, b := range chain {
		if err := store.AppendBlock(b); err != nil {
			return nil, false, fmt.Errorf("persistence: replay block %d: %w", i, err)
		}
	}
	return store, true, nil
}

// writeJSONAtomic marshals v and writes it to path via a temp file in the
// same directory followed by an atomic rename, so the containing directory
// never observes a partially-written target file.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
