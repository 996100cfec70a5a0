package solana

import (
	"fmt"

	"filippo.io/edwards25519"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// IsOnCurve reports whether key is a valid ed25519 point.
// Program derived addresses are off the curve and have no private key.
func IsOnCurve(key solanago.PublicKey) bool {
	return isOnCurve(key[:])
}

// IsOnCurveBase58 decodes a base58 address and reports whether it is on the curve.
func IsOnCurveBase58(address string) (bool, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return false, fmt.Errorf("decode address: %w", err)
	}
	if len(raw) != solanago.PublicKeyLength {
		return false, fmt.Errorf("decode address: got %d bytes, want %d", len(raw), solanago.PublicKeyLength)
	}
	return isOnCurve(raw), nil
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
