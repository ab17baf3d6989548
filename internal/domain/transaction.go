package domain

import "time"

// Transaction types.
const (
	TxDebit  = "debit"
	TxCredit = "credit"
)

// Transaction is an append-only BASE movement record for one user.
type Transaction struct {
	ID          int64
	UserID      int64
	Amount      float64
	Type        string // TxDebit | TxCredit
	Description string
	Timestamp   time.Time
}

// ExchangeTransaction is an append-only record of one executed trade.
// FromSymbol/ToSymbol may be BaseSymbol.
type ExchangeTransaction struct {
	ID         int64
	UserID     int64
	FromSymbol string
	ToSymbol   string
	FromAmount float64
	ToAmount   float64
	Price      float64 // ToAmount per FromAmount for cross trades, BASE per token otherwise
	Commission float64
	Timestamp  time.Time
}

// History is a user's most recent ledger activity, newest first.
type History struct {
	Transactions []*Transaction
	Exchanges    []*ExchangeTransaction
}
