package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeOutcomeID computes a deterministic outcome id using SHA256.
// Formula: SHA256(mint|cycle_id)
// Returns hex-encoded hash (64 characters).
func ComputeOutcomeID(mint string, cycleID int64) string {
	data := fmt.Sprintf("%s|%d", mint, cycleID)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
