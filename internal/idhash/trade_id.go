package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(user_public_id|from_symbol|to_symbol|from_amount|timestamp_ns)
// Returns hex-encoded hash (64 characters).
func ComputeTradeID(
	userPublicID string,
	fromSymbol string,
	toSymbol string,
	fromAmount float64,
	timestampNs int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%.8f|%d",
		userPublicID,
		fromSymbol,
		toSymbol,
		fromAmount,
		timestampNs,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
