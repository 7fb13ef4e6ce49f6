// Package kvdb adapts a CometBFT key-value backend to the ledger
// package's KV interface, giving the ledger an optional on-disk cache of
// committed blocks independent of the JSON snapshot files persistence
// writes on every commit.
package kvdb

import dbm "github.com/cometbft/cometbft-db"

// Adapter wraps a dbm.DB so it satisfies ledger.KV. A nil underlying db is
// valid and makes every operation a no-op, so callers can construct an
// Adapter unconditionally and only open a real backend when a cache
// directory was configured at boot.
type Adapter struct {
	db dbm.DB
}

// New wraps db. db may be nil.
func New(db dbm.DB) *Adapter {
	return &Adapter{db: db}
}

// Get returns the value for key, or nil if the adapter has no backing db
// or the key is absent.
func (a *Adapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}
	return a.db.Get(key)
}

// Set durably writes key/value. It is a no-op if the adapter has no
// backing db.
func (a *Adapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.SetSync(key, value)
}

// Close releases the underlying backend, if any.
func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
