package auth

import (
	"errors"
	"testing"
)

func TestVerifierAcceptsConfiguredToken(t *testing.T) {
	v := NewVerifier("  s3cret ")
	if !v.Enabled() {
		t.Fatal("expected verifier to be enabled")
	}
	if err := v.Check("s3cret"); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
}

func TestVerifierRejectsWrongOrMissingToken(t *testing.T) {
	v := NewVerifier("s3cret")
	if err := v.Check("guess"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Check(wrong) error = %v, want ErrInvalidToken", err)
	}
	if err := v.Check(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("Check(empty) error = %v, want ErrMissingToken", err)
	}
}

func TestBlankTokenDisablesVerifier(t *testing.T) {
	v := NewVerifier("")
	if v.Enabled() {
		t.Fatal("expected blank token to disable the verifier")
	}
	if err := v.Check(""); err != nil {
		t.Fatalf("Check() on disabled verifier error = %v", err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("a") != HashToken("a") || HashToken("a") == HashToken("b") {
		t.Fatal("HashToken() is not a stable digest")
	}
	if len(HashToken("a")) != 64 {
		t.Fatalf("HashToken() length = %d", len(HashToken("a")))
	}
}
