package domain

import "time"

// Currency is a user-issued token traded against BASE through a
// constant-product pool.
// Corresponds to currencies table in PostgreSQL.
type Currency struct {
	ID             int64     // BIGSERIAL primary key
	Name           string    // unique display name
	Symbol         string    // unique ticker, never BASE
	CreatorID      int64     // FK to users, receives token transfer commissions
	TotalSupply    float64   // informational only
	ReserveBase    float64   // BASE side of the pool
	ReserveToken   float64   // token side of the pool
	CommissionRate float64   // fraction in [0.005, 0.25]
	IsActive       bool      // inactive currencies cannot be traded
	CreatedAt      time.Time // issuance time
	Version        int64     // optimistic concurrency version
}

// K returns the pool invariant reserve_base * reserve_token.
func (c *Currency) K() float64 {
	return c.ReserveBase * c.ReserveToken
}

// CurrentPrice returns the spot price in BASE per token.
func (c *Currency) CurrentPrice() float64 {
	if c.ReserveToken == 0 {
		return ZeroReservePrice
	}
	return c.ReserveBase / c.ReserveToken
}

// Liquidity returns the total pool value in BASE.
func (c *Currency) Liquidity() float64 {
	return c.ReserveBase * 2
}
