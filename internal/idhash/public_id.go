package idhash

import (
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"

	"amm-ledger/internal/domain"
)

// publicIDEntropy is the number of random bytes encoded per attempt.
// 18 bytes encode to 24-25 base58 characters.
const publicIDEntropy = 18

// NewPublicID returns a random base58 identifier of domain.PublicIDLength
// characters. Public ids never collide with the system account's id since
// base58 has no '0'.
func NewPublicID() (string, error) {
	buf := make([]byte, publicIDEntropy)
	for {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		id := base58.Encode(buf)
		if len(id) >= domain.PublicIDLength {
			return id[:domain.PublicIDLength], nil
		}
	}
}
