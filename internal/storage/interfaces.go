package storage

import (
	"context"
	"time"

	"amm-ledger/internal/domain"
)

// Reader provides read access to the ledger.
// Outside a unit of work it sees committed state; inside one (via Tx) it
// also sees the unit's own pending writes.
type Reader interface {
	// UserByID retrieves a user by row id. Returns ErrNotFound if not exists.
	UserByID(ctx context.Context, id int64) (*domain.User, error)

	// UserByPublicID retrieves a user by public id. Returns ErrNotFound if not exists.
	UserByPublicID(ctx context.Context, publicID string) (*domain.User, error)

	// UserByIdentifier retrieves a user by username or public id.
	// Returns ErrNotFound if neither matches.
	UserByIdentifier(ctx context.Context, identifier string) (*domain.User, error)

	// CurrencyBySymbol retrieves a currency by symbol. Returns ErrNotFound if not exists.
	CurrencyBySymbol(ctx context.Context, symbol string) (*domain.Currency, error)

	// Currencies retrieves all currencies, ordered by id ASC.
	Currencies(ctx context.Context) ([]*domain.Currency, error)

	// Wallet retrieves the wallet for (userID, currencyID). Returns ErrNotFound if not exists.
	Wallet(ctx context.Context, userID, currencyID int64) (*domain.Wallet, error)

	// WalletsByUser retrieves all wallets of a user, ordered by currency id ASC.
	WalletsByUser(ctx context.Context, userID int64) ([]*domain.Wallet, error)

	// RecentTransactions retrieves up to limit transactions of a user, newest first.
	RecentTransactions(ctx context.Context, userID int64, limit int) ([]*domain.Transaction, error)

	// RecentExchanges retrieves up to limit exchanges of a user, newest first.
	RecentExchanges(ctx context.Context, userID int64, limit int) ([]*domain.ExchangeTransaction, error)
}

// Tx is one atomic unit of work against the ledger.
//
// Rows a decision depends on are read with the Lock* methods and written
// back with the Update* methods. Rows that only receive money are changed
// with the Credit* methods, which are commutative increments and must be
// issued after every Update in the unit of work.
type Tx interface {
	Reader

	// LockUser reads a user for update. Returns ErrNotFound if not exists.
	LockUser(ctx context.Context, id int64) (*domain.User, error)

	// LockCurrency reads a currency for update. Returns ErrNotFound if not exists.
	LockCurrency(ctx context.Context, symbol string) (*domain.Currency, error)

	// LockWallet reads a wallet for update. Returns ErrNotFound if not exists.
	LockWallet(ctx context.Context, userID, currencyID int64) (*domain.Wallet, error)

	// InsertUser adds a user and sets u.ID.
	// Returns ErrDuplicateKey if username, email or public id exists.
	InsertUser(ctx context.Context, u *domain.User) error

	// UpdateUser writes balance, login and engagement fields of a locked user.
	UpdateUser(ctx context.Context, u *domain.User) error

	// CreditUser adds amount to a user's balance. Returns ErrNotFound if not exists.
	CreditUser(ctx context.Context, userID int64, amount float64) error

	// InsertCurrency adds a currency and sets c.ID.
	// Returns ErrDuplicateKey if name or symbol exists.
	InsertCurrency(ctx context.Context, c *domain.Currency) error

	// UpdateCurrency writes reserves and the active flag of a locked currency.
	UpdateCurrency(ctx context.Context, c *domain.Currency) error

	// UpdateWallet writes the balance of a locked wallet.
	UpdateWallet(ctx context.Context, w *domain.Wallet) error

	// CreditWallet adds amount to the wallet for (userID, currencyID),
	// creating it if absent.
	CreditWallet(ctx context.Context, userID, currencyID int64, amount float64) error

	// InsertTransaction appends a transaction and sets t.ID.
	InsertTransaction(ctx context.Context, t *domain.Transaction) error

	// InsertExchange appends an exchange record and sets e.ID.
	InsertExchange(ctx context.Context, e *domain.ExchangeTransaction) error
}

// Ledger is the store shared by every service.
type Ledger interface {
	Reader

	// InTx runs fn in one unit of work. If fn returns an error nothing is
	// applied. Returns ErrConflict if the unit lost a race with a
	// concurrent one and may be retried.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// TradeArchive provides access to the executed trade archive.
type TradeArchive interface {
	// InsertBulk adds multiple trades. Fails entire batch on any duplicate trade_id.
	InsertBulk(ctx context.Context, trades []*domain.Trade) error

	// GetByUser retrieves up to limit trades of a user, newest first.
	GetByUser(ctx context.Context, userPublicID string, limit int) ([]*domain.Trade, error)

	// VolumeSince aggregates traded amounts per symbol for trades at or after since.
	// A trade counts toward both its from and to symbol.
	VolumeSince(ctx context.Context, since time.Time) ([]*domain.SymbolVolume, error)
}

// Snapshot is a consistent copy of every balance-holding row.
type Snapshot struct {
	Users      []*domain.User     // ordered by id
	Currencies []*domain.Currency // ordered by id
	Wallets    []*domain.Wallet   // ordered by user id, currency id
}

// Snapshotter reads the whole ledger at one point in time, for audits.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}
