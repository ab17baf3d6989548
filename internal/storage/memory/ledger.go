package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/storage"
)

// walletKey identifies a wallet by its unique (user, currency) pair.
type walletKey struct {
	userID     int64
	currencyID int64
}

// Ledger is an in-memory implementation of storage.Ledger.
//
// Units of work are optimistic: locked rows remember the version they were
// read at and commit fails with storage.ErrConflict if any of them changed
// in the meantime. Credits are applied as increments at commit and never
// conflict themselves, but they bump the version of the credited row.
type Ledger struct {
	mu           sync.RWMutex
	users        map[int64]*domain.User
	currencies   map[int64]*domain.Currency
	wallets      map[walletKey]*domain.Wallet
	transactions []*domain.Transaction
	exchanges    []*domain.ExchangeTransaction

	userSeq     atomic.Int64
	currencySeq atomic.Int64
	walletSeq   atomic.Int64
	txSeq       atomic.Int64
	exchangeSeq atomic.Int64

	now func() time.Time
}

// NewLedger creates a new in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		users:      make(map[int64]*domain.User),
		currencies: make(map[int64]*domain.Currency),
		wallets:    make(map[walletKey]*domain.Wallet),
		now:        time.Now,
	}
}

// Compile-time interface checks.
var (
	_ storage.Ledger = (*Ledger)(nil)
	_ storage.Named  = (*Ledger)(nil)
	_ storage.Tx     = (*ledgerTx)(nil)
)

// Name identifies the store in metrics.
func (l *Ledger) Name() string { return "memory" }

// InTx runs fn in one optimistic unit of work.
func (l *Ledger) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	t := newLedgerTx(l)
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.commit()
}

// UserByID retrieves a user by row id.
func (l *Ledger) UserByID(_ context.Context, id int64) (*domain.User, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyUser(l.users[id])
}

// UserByPublicID retrieves a user by public id.
func (l *Ledger) UserByPublicID(_ context.Context, publicID string) (*domain.User, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyUser(l.findUser(func(u *domain.User) bool { return u.PublicID == publicID }))
}

// UserByIdentifier retrieves a user by username or public id.
func (l *Ledger) UserByIdentifier(_ context.Context, identifier string) (*domain.User, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyUser(l.findUser(matchIdentifier(identifier)))
}

// CurrencyBySymbol retrieves a currency by symbol.
func (l *Ledger) CurrencyBySymbol(_ context.Context, symbol string) (*domain.Currency, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyCurrency(l.findCurrency(func(c *domain.Currency) bool { return c.Symbol == symbol }))
}

// Currencies retrieves all currencies ordered by id.
func (l *Ledger) Currencies(_ context.Context) ([]*domain.Currency, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*domain.Currency, 0, len(l.currencies))
	for _, c := range l.currencies {
		cp := *c
		result = append(result, &cp)
	}
	sortCurrencies(result)
	return result, nil
}

// Wallet retrieves the wallet for (userID, currencyID).
func (l *Ledger) Wallet(_ context.Context, userID, currencyID int64) (*domain.Wallet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyWallet(l.wallets[walletKey{userID, currencyID}])
}

// WalletsByUser retrieves all wallets of a user ordered by currency id.
func (l *Ledger) WalletsByUser(_ context.Context, userID int64) ([]*domain.Wallet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*domain.Wallet
	for k, w := range l.wallets {
		if k.userID == userID {
			cp := *w
			result = append(result, &cp)
		}
	}
	sortWallets(result)
	return result, nil
}

// RecentTransactions retrieves up to limit transactions of a user, newest first.
func (l *Ledger) RecentTransactions(_ context.Context, userID int64, limit int) ([]*domain.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return recentTransactions(l.transactions, nil, userID, limit), nil
}

// RecentExchanges retrieves up to limit exchanges of a user, newest first.
func (l *Ledger) RecentExchanges(_ context.Context, userID int64, limit int) ([]*domain.ExchangeTransaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return recentExchanges(l.exchanges, nil, userID, limit), nil
}

// findUser returns the first committed user matching fn. Caller holds l.mu.
func (l *Ledger) findUser(fn func(*domain.User) bool) *domain.User {
	for _, u := range l.users {
		if fn(u) {
			return u
		}
	}
	return nil
}

// findCurrency returns the first committed currency matching fn. Caller holds l.mu.
func (l *Ledger) findCurrency(fn func(*domain.Currency) bool) *domain.Currency {
	for _, c := range l.currencies {
		if fn(c) {
			return c
		}
	}
	return nil
}

func matchIdentifier(identifier string) func(*domain.User) bool {
	return func(u *domain.User) bool {
		return u.Username == identifier || u.PublicID == identifier
	}
}

func copyUser(u *domain.User) (*domain.User, error) {
	if u == nil {
		return nil, storage.ErrNotFound
	}
	cp := *u
	if u.LastLogin != nil {
		t := *u.LastLogin
		cp.LastLogin = &t
	}
	return &cp, nil
}

func copyCurrency(c *domain.Currency) (*domain.Currency, error) {
	if c == nil {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func copyWallet(w *domain.Wallet) (*domain.Wallet, error) {
	if w == nil {
		return nil, storage.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func sortCurrencies(cs []*domain.Currency) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
}

func sortWallets(ws []*domain.Wallet) {
	sort.Slice(ws, func(i, j int) bool { return ws[i].CurrencyID < ws[j].CurrencyID })
}

// recentTransactions merges committed and staged rows of one user, newest first.
func recentTransactions(committed, staged []*domain.Transaction, userID int64, limit int) []*domain.Transaction {
	var result []*domain.Transaction
	for _, set := range [][]*domain.Transaction{committed, staged} {
		for _, t := range set {
			if t.UserID == userID {
				cp := *t
				result = append(result, &cp)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.After(result[j].Timestamp)
		}
		return result[i].ID > result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// recentExchanges merges committed and staged rows of one user, newest first.
func recentExchanges(committed, staged []*domain.ExchangeTransaction, userID int64, limit int) []*domain.ExchangeTransaction {
	var result []*domain.ExchangeTransaction
	for _, set := range [][]*domain.ExchangeTransaction{committed, staged} {
		for _, e := range set {
			if e.UserID == userID {
				cp := *e
				result = append(result, &cp)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.After(result[j].Timestamp)
		}
		return result[i].ID > result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
