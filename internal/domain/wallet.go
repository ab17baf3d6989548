package domain

import "time"

// Wallet holds a user's balance in one issued currency.
// Unique on (UserID, CurrencyID); created lazily on first credit.
type Wallet struct {
	ID         int64     // BIGSERIAL primary key
	UserID     int64     // FK to users
	CurrencyID int64     // FK to currencies
	Balance    float64   // never negative
	CreatedAt  time.Time // first credit
	Version    int64     // optimistic concurrency version
}

// WalletBalance is a wallet joined with its currency, used for listings.
type WalletBalance struct {
	Symbol  string
	Name    string
	Balance float64
	Price   float64
}
