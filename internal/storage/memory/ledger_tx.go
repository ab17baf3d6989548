package memory

import (
	"context"
	"fmt"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/storage"
)

// ledgerTx stages the writes of one unit of work until commit.
type ledgerTx struct {
	l *Ledger

	// Versions observed by Lock* calls. A wallet locked while absent
	// records version 0 and must still be absent at commit.
	userLocks     map[int64]int64
	currencyLocks map[int64]int64
	walletLocks   map[walletKey]int64

	// Staged rows: locked rows written back and rows inserted by this unit.
	users         map[int64]*domain.User
	newUsers      map[int64]bool
	currencies    map[int64]*domain.Currency
	newCurrencies map[int64]bool
	wallets       map[walletKey]*domain.Wallet

	// Pending increments, applied after staged rows.
	userCredits   map[int64]float64
	walletCredits map[walletKey]float64

	transactions []*domain.Transaction
	exchanges    []*domain.ExchangeTransaction
}

func newLedgerTx(l *Ledger) *ledgerTx {
	return &ledgerTx{
		l:             l,
		userLocks:     make(map[int64]int64),
		currencyLocks: make(map[int64]int64),
		walletLocks:   make(map[walletKey]int64),
		users:         make(map[int64]*domain.User),
		newUsers:      make(map[int64]bool),
		currencies:    make(map[int64]*domain.Currency),
		newCurrencies: make(map[int64]bool),
		wallets:       make(map[walletKey]*domain.Wallet),
		userCredits:   make(map[int64]float64),
		walletCredits: make(map[walletKey]float64),
	}
}

// userView returns the user as this unit sees it, plus the committed
// version of the row (0 if the row is not committed yet).
func (t *ledgerTx) userView(id int64) (*domain.User, int64) {
	t.l.mu.RLock()
	committed := t.l.users[id]
	var version int64
	if committed != nil {
		version = committed.Version
	}
	base := committed
	if staged, ok := t.users[id]; ok {
		base = staged
	}
	view, err := copyUser(base)
	t.l.mu.RUnlock()

	if err != nil {
		return nil, 0
	}
	view.Balance += t.userCredits[id]
	return view, version
}

func (t *ledgerTx) currencyView(id int64) (*domain.Currency, int64) {
	t.l.mu.RLock()
	committed := t.l.currencies[id]
	var version int64
	if committed != nil {
		version = committed.Version
	}
	base := committed
	if staged, ok := t.currencies[id]; ok {
		base = staged
	}
	view, err := copyCurrency(base)
	t.l.mu.RUnlock()

	if err != nil {
		return nil, 0
	}
	return view, version
}

func (t *ledgerTx) walletView(k walletKey) (*domain.Wallet, int64) {
	t.l.mu.RLock()
	committed := t.l.wallets[k]
	var version int64
	if committed != nil {
		version = committed.Version
	}
	base := committed
	if staged, ok := t.wallets[k]; ok {
		base = staged
	}
	var view *domain.Wallet
	if base != nil {
		cp := *base
		view = &cp
	}
	t.l.mu.RUnlock()

	credit, credited := t.walletCredits[k]
	if view == nil {
		if !credited {
			return nil, 0
		}
		view = &domain.Wallet{UserID: k.userID, CurrencyID: k.currencyID}
	}
	view.Balance += credit
	return view, version
}

// findUserID returns the id of the user matching fn, staged rows first.
func (t *ledgerTx) findUserID(fn func(*domain.User) bool) (int64, bool) {
	for id, u := range t.users {
		if fn(u) {
			return id, true
		}
	}
	t.l.mu.RLock()
	defer t.l.mu.RUnlock()
	for id, u := range t.l.users {
		if _, staged := t.users[id]; !staged && fn(u) {
			return id, true
		}
	}
	return 0, false
}

func (t *ledgerTx) findCurrencyID(fn func(*domain.Currency) bool) (int64, bool) {
	for id, c := range t.currencies {
		if fn(c) {
			return id, true
		}
	}
	t.l.mu.RLock()
	defer t.l.mu.RUnlock()
	for id, c := range t.l.currencies {
		if _, staged := t.currencies[id]; !staged && fn(c) {
			return id, true
		}
	}
	return 0, false
}

func (t *ledgerTx) userBy(fn func(*domain.User) bool) (*domain.User, error) {
	id, ok := t.findUserID(fn)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return t.UserByID(context.Background(), id)
}

// UserByID retrieves a user by row id.
func (t *ledgerTx) UserByID(_ context.Context, id int64) (*domain.User, error) {
	u, _ := t.userView(id)
	if u == nil {
		return nil, storage.ErrNotFound
	}
	return u, nil
}

// UserByPublicID retrieves a user by public id.
func (t *ledgerTx) UserByPublicID(_ context.Context, publicID string) (*domain.User, error) {
	return t.userBy(func(u *domain.User) bool { return u.PublicID == publicID })
}

// UserByIdentifier retrieves a user by username or public id.
func (t *ledgerTx) UserByIdentifier(_ context.Context, identifier string) (*domain.User, error) {
	return t.userBy(matchIdentifier(identifier))
}

// CurrencyBySymbol retrieves a currency by symbol.
func (t *ledgerTx) CurrencyBySymbol(_ context.Context, symbol string) (*domain.Currency, error) {
	id, ok := t.findCurrencyID(func(c *domain.Currency) bool { return c.Symbol == symbol })
	if !ok {
		return nil, storage.ErrNotFound
	}
	c, _ := t.currencyView(id)
	return copyCurrency(c)
}

// Currencies retrieves all currencies ordered by id.
func (t *ledgerTx) Currencies(_ context.Context) ([]*domain.Currency, error) {
	ids := make(map[int64]struct{})
	t.l.mu.RLock()
	for id := range t.l.currencies {
		ids[id] = struct{}{}
	}
	t.l.mu.RUnlock()
	for id := range t.currencies {
		ids[id] = struct{}{}
	}

	result := make([]*domain.Currency, 0, len(ids))
	for id := range ids {
		if c, _ := t.currencyView(id); c != nil {
			result = append(result, c)
		}
	}
	sortCurrencies(result)
	return result, nil
}

// Wallet retrieves the wallet for (userID, currencyID).
func (t *ledgerTx) Wallet(_ context.Context, userID, currencyID int64) (*domain.Wallet, error) {
	w, _ := t.walletView(walletKey{userID, currencyID})
	return copyWallet(w)
}

// WalletsByUser retrieves all wallets of a user ordered by currency id.
func (t *ledgerTx) WalletsByUser(_ context.Context, userID int64) ([]*domain.Wallet, error) {
	keys := make(map[walletKey]struct{})
	t.l.mu.RLock()
	for k := range t.l.wallets {
		if k.userID == userID {
			keys[k] = struct{}{}
		}
	}
	t.l.mu.RUnlock()
	for k := range t.wallets {
		if k.userID == userID {
			keys[k] = struct{}{}
		}
	}
	for k := range t.walletCredits {
		if k.userID == userID {
			keys[k] = struct{}{}
		}
	}

	result := make([]*domain.Wallet, 0, len(keys))
	for k := range keys {
		if w, _ := t.walletView(k); w != nil {
			result = append(result, w)
		}
	}
	sortWallets(result)
	return result, nil
}

// RecentTransactions includes transactions staged by this unit.
func (t *ledgerTx) RecentTransactions(_ context.Context, userID int64, limit int) ([]*domain.Transaction, error) {
	t.l.mu.RLock()
	defer t.l.mu.RUnlock()
	return recentTransactions(t.l.transactions, t.transactions, userID, limit), nil
}

// RecentExchanges includes exchanges staged by this unit.
func (t *ledgerTx) RecentExchanges(_ context.Context, userID int64, limit int) ([]*domain.ExchangeTransaction, error) {
	t.l.mu.RLock()
	defer t.l.mu.RUnlock()
	return recentExchanges(t.l.exchanges, t.exchanges, userID, limit), nil
}

// LockUser reads a user and remembers its version for commit validation.
func (t *ledgerTx) LockUser(_ context.Context, id int64) (*domain.User, error) {
	u, version := t.userView(id)
	if u == nil {
		return nil, storage.ErrNotFound
	}
	if _, locked := t.userLocks[id]; !locked && !t.newUsers[id] {
		t.userLocks[id] = version
	}
	return u, nil
}

// LockCurrency reads a currency and remembers its version for commit validation.
func (t *ledgerTx) LockCurrency(_ context.Context, symbol string) (*domain.Currency, error) {
	id, ok := t.findCurrencyID(func(c *domain.Currency) bool { return c.Symbol == symbol })
	if !ok {
		return nil, storage.ErrNotFound
	}
	c, version := t.currencyView(id)
	if c == nil {
		return nil, storage.ErrNotFound
	}
	if _, locked := t.currencyLocks[id]; !locked && !t.newCurrencies[id] {
		t.currencyLocks[id] = version
	}
	return c, nil
}

// LockWallet reads a wallet and remembers its version for commit validation.
func (t *ledgerTx) LockWallet(_ context.Context, userID, currencyID int64) (*domain.Wallet, error) {
	k := walletKey{userID, currencyID}
	w, version := t.walletView(k)
	if w == nil {
		return nil, storage.ErrNotFound
	}
	if _, locked := t.walletLocks[k]; !locked {
		t.walletLocks[k] = version
	}
	return w, nil
}

// InsertUser stages a new user.
func (t *ledgerTx) InsertUser(_ context.Context, u *domain.User) error {
	if u == nil || u.Username == "" || u.PublicID == "" {
		return storage.ErrInvalidInput
	}
	if _, dup := t.findUserID(func(o *domain.User) bool { return userCollides(o, u) }); dup {
		return storage.ErrDuplicateKey
	}

	u.ID = t.l.userSeq.Add(1)
	u.Version = 1
	cp, _ := copyUser(u)
	t.users[u.ID] = cp
	t.newUsers[u.ID] = true
	return nil
}

// UpdateUser stages a locked user's new state. Pending credits to the user
// are folded into it.
func (t *ledgerTx) UpdateUser(_ context.Context, u *domain.User) error {
	if u == nil {
		return storage.ErrInvalidInput
	}
	if _, locked := t.userLocks[u.ID]; !locked && !t.newUsers[u.ID] {
		return fmt.Errorf("update user %d without lock: %w", u.ID, storage.ErrInvalidInput)
	}
	cp, _ := copyUser(u)
	t.users[u.ID] = cp
	delete(t.userCredits, u.ID)
	return nil
}

// CreditUser stages an increment of a user's balance.
func (t *ledgerTx) CreditUser(_ context.Context, userID int64, amount float64) error {
	if u, _ := t.userView(userID); u == nil {
		return storage.ErrNotFound
	}
	t.userCredits[userID] += amount
	return nil
}

// InsertCurrency stages a new currency.
func (t *ledgerTx) InsertCurrency(_ context.Context, c *domain.Currency) error {
	if c == nil || c.Symbol == "" || c.Name == "" {
		return storage.ErrInvalidInput
	}
	if _, dup := t.findCurrencyID(func(o *domain.Currency) bool { return currencyCollides(o, c) }); dup {
		return storage.ErrDuplicateKey
	}

	c.ID = t.l.currencySeq.Add(1)
	c.Version = 1
	cp := *c
	t.currencies[c.ID] = &cp
	t.newCurrencies[c.ID] = true
	return nil
}

// UpdateCurrency stages a locked currency's new reserves.
func (t *ledgerTx) UpdateCurrency(_ context.Context, c *domain.Currency) error {
	if c == nil {
		return storage.ErrInvalidInput
	}
	if _, locked := t.currencyLocks[c.ID]; !locked && !t.newCurrencies[c.ID] {
		return fmt.Errorf("update currency %s without lock: %w", c.Symbol, storage.ErrInvalidInput)
	}
	cp := *c
	t.currencies[c.ID] = &cp
	return nil
}

// UpdateWallet stages a locked wallet's new balance. Pending credits to the
// wallet are folded into it.
func (t *ledgerTx) UpdateWallet(_ context.Context, w *domain.Wallet) error {
	if w == nil {
		return storage.ErrInvalidInput
	}
	k := walletKey{w.UserID, w.CurrencyID}
	if _, locked := t.walletLocks[k]; !locked {
		return fmt.Errorf("update wallet %d/%d without lock: %w", w.UserID, w.CurrencyID, storage.ErrInvalidInput)
	}
	cp := *w
	t.wallets[k] = &cp
	delete(t.walletCredits, k)
	return nil
}

// CreditWallet stages an increment of a wallet, creating it at commit if absent.
func (t *ledgerTx) CreditWallet(_ context.Context, userID, currencyID int64, amount float64) error {
	if u, _ := t.userView(userID); u == nil {
		return storage.ErrNotFound
	}
	if c, _ := t.currencyView(currencyID); c == nil {
		return storage.ErrNotFound
	}
	t.walletCredits[walletKey{userID, currencyID}] += amount
	return nil
}

// InsertTransaction stages a transaction.
func (t *ledgerTx) InsertTransaction(_ context.Context, tx *domain.Transaction) error {
	if tx == nil || (tx.Type != domain.TxDebit && tx.Type != domain.TxCredit) {
		return storage.ErrInvalidInput
	}
	tx.ID = t.l.txSeq.Add(1)
	cp := *tx
	t.transactions = append(t.transactions, &cp)
	return nil
}

// InsertExchange stages an exchange record.
func (t *ledgerTx) InsertExchange(_ context.Context, e *domain.ExchangeTransaction) error {
	if e == nil {
		return storage.ErrInvalidInput
	}
	e.ID = t.l.exchangeSeq.Add(1)
	cp := *e
	t.exchanges = append(t.exchanges, &cp)
	return nil
}

// commit validates locked versions and applies staged rows, then credits,
// atomically under the store lock.
func (t *ledgerTx) commit() error {
	l := t.l
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, v := range t.userLocks {
		if u := l.users[id]; u == nil || u.Version != v {
			return storage.ErrConflict
		}
	}
	for id, v := range t.currencyLocks {
		if c := l.currencies[id]; c == nil || c.Version != v {
			return storage.ErrConflict
		}
	}
	for k, v := range t.walletLocks {
		w := l.wallets[k]
		if (v == 0 && w != nil) || (v != 0 && (w == nil || w.Version != v)) {
			return storage.ErrConflict
		}
	}

	// Unique keys may have been taken by a unit that committed after our insert.
	for id := range t.newUsers {
		u := t.users[id]
		if l.findUser(func(o *domain.User) bool { return userCollides(o, u) }) != nil {
			return storage.ErrDuplicateKey
		}
	}
	for id := range t.newCurrencies {
		c := t.currencies[id]
		if l.findCurrency(func(o *domain.Currency) bool { return currencyCollides(o, c) }) != nil {
			return storage.ErrDuplicateKey
		}
	}

	now := l.now()

	for id, u := range t.users {
		cp, _ := copyUser(u)
		if prev := l.users[id]; prev != nil {
			cp.Version = prev.Version + 1
		}
		l.users[id] = cp
	}
	for id, c := range t.currencies {
		cp := *c
		if prev := l.currencies[id]; prev != nil {
			cp.Version = prev.Version + 1
		}
		l.currencies[id] = &cp
	}
	for k, w := range t.wallets {
		cp := *w
		if prev := l.wallets[k]; prev != nil {
			cp.ID = prev.ID
			cp.CreatedAt = prev.CreatedAt
			cp.Version = prev.Version + 1
		} else {
			cp.ID = l.walletSeq.Add(1)
			cp.CreatedAt = now
			cp.Version = 1
		}
		l.wallets[k] = &cp
	}

	for id, amount := range t.userCredits {
		cp := *l.users[id]
		cp.Balance += amount
		cp.Version++
		l.users[id] = &cp
	}
	for k, amount := range t.walletCredits {
		if prev := l.wallets[k]; prev != nil {
			cp := *prev
			cp.Balance += amount
			cp.Version++
			l.wallets[k] = &cp
			continue
		}
		l.wallets[k] = &domain.Wallet{
			ID:         l.walletSeq.Add(1),
			UserID:     k.userID,
			CurrencyID: k.currencyID,
			Balance:    amount,
			CreatedAt:  now,
			Version:    1,
		}
	}

	l.transactions = append(l.transactions, t.transactions...)
	l.exchanges = append(l.exchanges, t.exchanges...)
	return nil
}

func userCollides(a, b *domain.User) bool {
	return a.Username == b.Username || a.PublicID == b.PublicID ||
		(a.Email != "" && a.Email == b.Email)
}

func currencyCollides(a, b *domain.Currency) bool {
	return a.Symbol == b.Symbol || a.Name == b.Name
}
