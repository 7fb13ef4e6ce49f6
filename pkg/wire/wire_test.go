package wire

import (
	"bytes"
	"testing"

	"github.com/certen/ledger-validator/pkg/crypto/identity"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	hb := Heartbeat{Endpoint: "127.0.0.1:9001"}
	if err := Encode(&buf, KindHeartbeat, hb); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	env, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Kind != KindHeartbeat {
		t.Fatalf("Kind = %q, want %q", env.Kind, KindHeartbeat)
	}

	var decoded Heartbeat
	if err := UnmarshalPayload(env, &decoded); err != nil {
		t.Fatalf("UnmarshalPayload: %v", err)
	}
	if decoded != hb {
		t.Fatalf("decoded = %+v, want %+v", decoded, hb)
	}
}

func TestDecodeMultipleFramesInSequence(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, KindHeartbeat, Heartbeat{Endpoint: "a"}); err != nil {
		t.Fatalf("Encode first: %v", err)
	}
	if err := Encode(&buf, KindHeartbeat, Heartbeat{Endpoint: "b"}); err != nil {
		t.Fatalf("Encode second: %v", err)
	}

	first, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode first: %v", err)
	}
	second, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode second: %v", err)
	}

	var hb1, hb2 Heartbeat
	if err := UnmarshalPayload(first, &hb1); err != nil {
		t.Fatalf("unmarshal first: %v", err)
	}
	if err := UnmarshalPayload(second, &hb2); err != nil {
		t.Fatalf("unmarshal second: %v", err)
	}
	if hb1.Endpoint != "a" || hb2.Endpoint != "b" {
		t.Fatalf("frames decoded out of order: got %q, %q", hb1.Endpoint, hb2.Endpoint)
	}
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var lenPrefix [4]byte
	lenPrefix[0] = 0xFF // far beyond MaxFrameSize regardless of trailing bytes
	buf.Write(lenPrefix[:])

	if _, err := Decode(&buf); err != ErrFrameTooLarge {
		t.Fatalf("Decode oversized frame = %v, want %v", err, ErrFrameTooLarge)
	}
}

func TestRequestEnvelopeCarriesExactlyOnePayload(t *testing.T) {
	var buf bytes.Buffer
	pk, err := identity.PublicKeyFromHex("0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")
	if err != nil {
		t.Fatalf("PublicKeyFromHex: %v", err)
	}
	req := RequestEnvelope{
		RequestID: "abc",
		Faucet:    &FaucetRequest{PublicKey: pk},
	}
	if err := Encode(&buf, KindVoteRequest, VoteRequest{Request: req}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	env, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var vr VoteRequest
	if err := UnmarshalPayload(env, &vr); err != nil {
		t.Fatalf("UnmarshalPayload: %v", err)
	}
	if vr.Request.NewAccount != nil || vr.Request.Transaction != nil {
		t.Fatal("unset request variants decoded as non-nil")
	}
	if vr.Request.Faucet == nil || vr.Request.Faucet.PublicKey != req.Faucet.PublicKey {
		t.Fatal("faucet request did not round-trip")
	}
}
