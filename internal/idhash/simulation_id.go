// Package idhash computes deterministic identifiers so repeated runs over
// identical inputs produce byte-identical records.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeSimulationID computes a deterministic simulation ID using SHA256.
// Formula: SHA256(position_id|strategy_id|entry_time_ms)
// Returns hex-encoded hash (64 characters).
func ComputeSimulationID(positionID, strategyID string, entryTimeMs int64) string {
	data := fmt.Sprintf("%s|%s|%d", positionID, strategyID, entryTimeMs)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputePositionID computes a deterministic position ID for a mirrored
// trade. Formula: SHA256(source_wallet|token|entry_time_ms)
func ComputePositionID(sourceWallet, token string, entryTimeMs int64) string {
	data := fmt.Sprintf("%s|%s|%d", sourceWallet, token, entryTimeMs)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
