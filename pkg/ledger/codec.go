package ledger

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes a Block as a single-key object whose key is the
// variant name, matching the source's persisted chain layout.
func (b Block) MarshalJSON() ([]byte, error) {
	var payload any
	switch b.Kind {
	case KindGenesis:
		payload = b.Genesis
	case KindNewAccount:
		payload = b.NewAccount
	case KindFaucet:
		payload = b.Faucet
	case KindTransaction:
		payload = b.Transaction
	default:
		return nil, fmt.Errorf("ledger: marshal block: unknown kind %q", b.Kind)
	}
	return json.Marshal(map[string]any{string(b.Kind): payload})
}

// UnmarshalJSON decodes a single-key tagged block object back into Block.
func (b *Block) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ledger: unmarshal block: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("ledger: unmarshal block: expected exactly one variant key, got %d", len(raw))
	}
	for kind, body := range raw {
		switch BlockKind(kind) {
		case KindGenesis:
			var v GenesisBlock
			if err := json.Unmarshal(body, &v); err != nil {
				return err
			}
			b.Kind, b.Genesis = KindGenesis, &v
		case KindNewAccount:
			var v NewAccountBlock
			if err := json.Unmarshal(body, &v); err != nil {
				return err
			}
			b.Kind, b.NewAccount = KindNewAccount, &v
		case KindFaucet:
			var v FaucetBlock
			if err := json.Unmarshal(body, &v); err != nil {
				return err
			}
			b.Kind, b.Faucet = KindFaucet, &v
		case KindTransaction:
			var v TransactionBlock
			if err := json.Unmarshal(body, &v); err != nil {
				return err
			}
			b.Kind, b.Transaction = KindTransaction, &v
		default:
			return fmt.Errorf("ledger: unmarshal block: unknown variant %q", kind)
		}
	}
	return nil
}
