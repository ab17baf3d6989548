package reporting

import (
	"time"

	"amm-ledger/internal/domain"
)

// Statement is a point-in-time account summary for one user.
type Statement struct {
	// Metadata
	GeneratedAt time.Time
	User        *domain.User

	// Holdings, ordered by currency id
	Wallets []domain.WalletBalance

	// Activity, newest first
	History *domain.History
}

// PortfolioValue returns the BASE balance plus every wallet valued at its pool price.
func (s *Statement) PortfolioValue() float64 {
	total := 0.0
	if s.User != nil {
		total = s.User.Balance
	}
	for _, w := range s.Wallets {
		total += w.Balance * w.Price
	}
	return total
}
