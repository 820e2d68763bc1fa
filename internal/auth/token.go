// Package auth checks the bearer token guarding the HTTP API.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Verifier compares presented tokens against a configured one. Only the
// hash of the configured token is kept.
type Verifier struct {
	hash string
}

// NewVerifier returns nil for a blank token, which disables the check.
func NewVerifier(token string) *Verifier {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return &Verifier{hash: HashToken(token)}
}

// Enabled reports whether requests must carry a token.
func (v *Verifier) Enabled() bool {
	return v != nil
}

func (v *Verifier) Check(presented string) error {
	if v == nil {
		return nil
	}
	if strings.TrimSpace(presented) == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(HashToken(presented)), []byte(v.hash)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
