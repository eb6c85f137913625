package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateToken(t *testing.T) {
	valid := []string{
		"So11111111111111111111111111111111111111112",  // wrapped SOL
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", // USDC
	}
	for _, mint := range valid {
		if err := ValidateToken(mint); err != nil {
			t.Errorf("valid mint %s rejected: %v", mint, err)
		}
	}

	invalid := []string{
		"",
		"0OIl",                        // not base58
		"abc",                         // too short
		strings.Repeat("1", 50),       // wrong decoded length
		"1111111111111111111111111111111111111111111111111111",
	}
	for _, mint := range invalid {
		if err := ValidateToken(mint); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken for %q, got %v", mint, err)
		}
	}
}
