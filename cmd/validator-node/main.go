// Copyright 2025 Certen Protocol
//
// Command validator-node is the CLI surface for the ledger network: `make`
// creates a new account, `validate` runs a node, `faucet` and `transaction`
// submit requests to whichever accepted port answers first.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/certen/ledger-validator/pkg/config"
	"github.com/certen/ledger-validator/pkg/crypto/identity"
	"github.com/certen/ledger-validator/pkg/crypto/splitproof"
	"github.com/certen/ledger-validator/pkg/ledger"
	"github.com/certen/ledger-validator/pkg/node"
	"github.com/certen/ledger-validator/pkg/wire"
)

const (
	acceptedPortsFile = "accepted_ports.json"
	nodeConfigFile    = "node.yaml"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: validator-node <make|validate|faucet|transaction> [args...]")
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "make":
		err = runMake()
	case "validate":
		var operatorSecret string
		if len(os.Args) > 2 {
			operatorSecret = os.Args[2]
		}
		err = runValidate(operatorSecret)
	case "faucet":
		if len(os.Args) != 3 {
			err = fmt.Errorf("usage: validator-node faucet <public_key>")
			break
		}
		err = runFaucet(os.Args[2])
	case "transaction":
		if len(os.Args) != 5 {
			err = fmt.Errorf("usage: validator-node transaction <sender_secret> <recipient_public> <amount>")
			break
		}
		err = runTransaction(os.Args[2], os.Args[3], os.Args[4])
	default:
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runMake generates a new keypair, writes new_account_details.json, and
// broadcasts a new-account request to whichever accepted port answers.
func runMake() error {
	sk, err := identity.GenerateSecretKey()
	if err != nil {
		return fmt.Errorf("generate secret key: %w", err)
	}
	pk, err := identity.DerivePublic(sk)
	if err != nil {
		return fmt.Errorf("derive public key: %w", err)
	}
	proofPoint := splitproof.DeriveProofPoint(splitproof.ScalarFromSecpSecret(sk))

	if err := writeJSONFile("new_account_details.json", map[string]string{
		"secret_key": sk.String(),
		"public_key": pk.String(),
	}); err != nil {
		return err
	}

	result, err := submitRequest(wire.KindNewAccountRequest, wire.NewAccountRequest{PublicKey: pk, ProofPoint: proofPoint})
	if err != nil {
		return err
	}
	return finishRequest(result, true)
}

// runValidate runs this process as a validator node until signaled.
func runValidate(operatorSecretHex string) error {
	var operator *identity.PublicKey
	if operatorSecretHex != "" {
		sk, err := identity.SecretKeyFromHex(operatorSecretHex)
		if err != nil {
			return fmt.Errorf("parse operator secret key: %w", err)
		}
		pk, err := identity.DerivePublic(sk)
		if err != nil {
			return fmt.Errorf("derive operator public key: %w", err)
		}
		operator = &pk
	}

	ports, err := config.LoadAcceptedPorts(acceptedPortsFile)
	if err != nil {
		return err
	}
	cfg, err := config.Load(nodeConfigFile)
	if err != nil {
		return err
	}

	n, err := node.New(cfg, ports, operator)
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	fmt.Printf("validator node bound at %s\n", n.Self())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return n.Run(ctx)
}

// runFaucet requests the faucet amount be granted to publicKeyHex.
func runFaucet(publicKeyHex string) error {
	pk, err := identity.PublicKeyFromHex(publicKeyHex)
	if err != nil {
		return fmt.Errorf("parse public key: %w", err)
	}
	result, err := submitRequest(wire.KindFaucetRequest, wire.FaucetRequest{PublicKey: pk})
	if err != nil {
		return err
	}
	return finishRequest(result, false)
}

// runTransaction derives the sender's public key, splits its secret into a
// proof transcript, and submits a transfer request.
func runTransaction(senderSecretHex, recipientPublicHex, amountStr string) error {
	senderSK, err := identity.SecretKeyFromHex(senderSecretHex)
	if err != nil {
		return fmt.Errorf("parse sender secret key: %w", err)
	}
	senderPK, err := identity.DerivePublic(senderSK)
	if err != nil {
		return fmt.Errorf("derive sender public key: %w", err)
	}
	recipientPK, err := identity.PublicKeyFromHex(recipientPublicHex)
	if err != nil {
		return fmt.Errorf("parse recipient public key: %w", err)
	}
	var amount uint64
	if _, err := fmt.Sscanf(amountStr, "%d", &amount); err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}

	_, transcript, err := splitproof.SplitScalar(splitproof.ScalarFromSecpSecret(senderSK))
	if err != nil {
		return fmt.Errorf("split scalar: %w", err)
	}

	result, err := submitRequest(wire.KindTransactionRequest, wire.TransactionRequest{
		Sender:     senderPK,
		Recipient:  recipientPK,
		Amount:     amount,
		Transcript: transcript,
	})
	if err != nil {
		writeFailureSentinel()
		return err
	}
	if !result.Committed {
		writeFailureSentinel()
	}
	return finishRequest(result, false)
}

// submitRequest dials each accepted endpoint in order until one accepts the
// connection, sends kind/payload, and returns the node's RequestResult.
func submitRequest(kind wire.Kind, payload any) (wire.RequestResult, error) {
	ports, err := config.LoadAcceptedPorts(acceptedPortsFile)
	if err != nil {
		return wire.RequestResult{}, err
	}

	var lastErr error
	for _, endpoint := range ports.Endpoints() {
		conn, err := net.DialTimeout("tcp", endpoint, 2*time.Second)
		if err != nil {
			lastErr = err
			continue
		}
		result, err := roundTrip(conn, kind, payload)
		conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}
	return wire.RequestResult{}, fmt.Errorf("no accepted port answered: %w", lastErr)
}

func roundTrip(conn net.Conn, kind wire.Kind, payload any) (wire.RequestResult, error) {
	if err := wire.Encode(conn, kind, payload); err != nil {
		return wire.RequestResult{}, err
	}
	env, err := wire.Decode(conn)
	if err != nil {
		return wire.RequestResult{}, err
	}
	var result wire.RequestResult
	if err := wire.UnmarshalPayload(env, &result); err != nil {
		return wire.RequestResult{}, err
	}
	return result, nil
}

// finishRequest writes most_recent_block.json on success and reports
// non-zero exit via a returned error on rejection.
func finishRequest(result wire.RequestResult, writeBlock bool) error {
	if !result.Committed {
		reason := result.Reason
		if reason == "" {
			reason = "rejected"
		}
		return fmt.Errorf("request rejected: %s", reason)
	}
	if writeBlock && result.Block != nil {
		return writeMostRecentBlock(*result.Block)
	}
	return nil
}

func writeMostRecentBlock(b ledger.Block) error {
	return writeJSONFile("most_recent_block.json", b)
}

func writeFailureSentinel() {
	_ = os.WriteFile("failed_transaction.json", []byte("1"), 0o644)
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
