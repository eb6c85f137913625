package domain

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ErrInvalidToken is returned for malformed token mint addresses.
var ErrInvalidToken = errors.New("invalid token address")

// ValidateToken checks that a token mint address is well-formed: base58,
// 32 bytes, and a valid ed25519 curve point. Mint accounts are normal
// keypair-derived accounts, so off-curve addresses indicate corrupt input.
func ValidateToken(mint string) error {
	if mint == "" {
		return fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	raw, err := base58.Decode(mint)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidToken, mint, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("%w: %s: decoded to %d bytes, want 32", ErrInvalidToken, mint, len(raw))
	}

	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return fmt.Errorf("%w: %s: not on the ed25519 curve", ErrInvalidToken, mint)
	}
	return nil
}
