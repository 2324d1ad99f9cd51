package hashing

import (
	"errors"
	"testing"

	"attendance-service/internal/config"
)

func TestBindTokenRoundTrip(t *testing.T) {
	h := NewHasher(config.LoadConfig())

	result, err := h.HashBindToken("token-abc")
	if err != nil {
		t.Fatalf("HashBindToken() error = %v", err)
	}
	if result.Hash == "token-abc" || result.Hash == "" {
		t.Fatal("hash missing or stored in plaintext")
	}

	ok, err := h.VerifyBindToken("token-abc", result)
	if err != nil {
		t.Fatalf("VerifyBindToken() error = %v", err)
	}
	if !ok {
		t.Error("VerifyBindToken() = false for correct token")
	}

	ok, err = h.VerifyBindToken("token-xyz", result)
	if err != nil {
		t.Fatalf("VerifyBindToken() error = %v", err)
	}
	if ok {
		t.Error("VerifyBindToken() = true for wrong token")
	}
}

func TestEncodeDecodeHashResult(t *testing.T) {
	h := NewHasher(config.LoadConfig())
	result, err := h.HashBindToken("token-abc")
	if err != nil {
		t.Fatalf("HashBindToken() error = %v", err)
	}

	encoded, err := result.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := DecodeHashResult(encoded)
	if err != nil {
		t.Fatalf("DecodeHashResult() error = %v", err)
	}
	if decoded.Hash != result.Hash || decoded.Salt != result.Salt || decoded.PepperVersion != result.PepperVersion {
		t.Error("decoded result does not match original")
	}

	ok, err := h.VerifyBindToken("token-abc", decoded)
	if err != nil || !ok {
		t.Errorf("VerifyBindToken() after decode = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestDecodeHashResultRejectsGarbage(t *testing.T) {
	if _, err := DecodeHashResult("not json"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("DecodeHashResult() error = %v, want ErrInvalidHash", err)
	}
}
