package postgres

import (
	"context"
	"fmt"
	"time"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/storage"
)

// ledgerTx implements storage.Tx over an open pgx transaction.
type ledgerTx struct {
	reader
}

// LockUser reads a user with a row lock held until the transaction ends.
func (t *ledgerTx) LockUser(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(t.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

// LockCurrency reads a currency with a row lock held until the transaction ends.
func (t *ledgerTx) LockCurrency(ctx context.Context, symbol string) (*domain.Currency, error) {
	return scanCurrency(t.q.QueryRow(ctx, `SELECT `+currencyColumns+` FROM currencies WHERE symbol = $1 FOR UPDATE`, symbol))
}

// LockWallet reads a wallet with a row lock held until the transaction ends.
func (t *ledgerTx) LockWallet(ctx context.Context, userID, currencyID int64) (*domain.Wallet, error) {
	return scanWallet(t.q.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1 AND currency_id = $2
		FOR UPDATE
	`, userID, currencyID))
}

// InsertUser adds a user. Returns ErrDuplicateKey if username, email or public id exists.
func (t *ledgerTx) InsertUser(ctx context.Context, u *domain.User) error {
	if u == nil || u.Username == "" || u.PublicID == "" {
		return storage.ErrInvalidInput
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.LastAdWatch.IsZero() {
		u.LastAdWatch = u.CreatedAt
	}

	err := t.q.QueryRow(ctx, `
		INSERT INTO users (
			public_id, username, email, balance, created_at, last_login, last_ad_watch, ad_count_today
		) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
		RETURNING id, version
	`,
		u.PublicID, u.Username, u.Email, u.Balance, u.CreatedAt, u.LastLogin, u.LastAdWatch, u.AdCountToday,
	).Scan(&u.ID, &u.Version)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// UpdateUser writes balance, login and engagement fields of a locked user.
func (t *ledgerTx) UpdateUser(ctx context.Context, u *domain.User) error {
	if u == nil {
		return storage.ErrInvalidInput
	}

	tag, err := t.q.Exec(ctx, `
		UPDATE users
		SET balance = $2, last_login = $3, last_ad_watch = $4, ad_count_today = $5, version = version + 1
		WHERE id = $1
	`, u.ID, u.Balance, u.LastLogin, u.LastAdWatch, u.AdCountToday)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreditUser adds amount to a user's balance.
func (t *ledgerTx) CreditUser(ctx context.Context, userID int64, amount float64) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE users SET balance = balance + $2, version = version + 1 WHERE id = $1
	`, userID, amount)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// InsertCurrency adds a currency. Returns ErrDuplicateKey if name or symbol exists.
func (t *ledgerTx) InsertCurrency(ctx context.Context, c *domain.Currency) error {
	if c == nil || c.Symbol == "" || c.Name == "" {
		return storage.ErrInvalidInput
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	err := t.q.QueryRow(ctx, `
		INSERT INTO currencies (
			name, symbol, creator_id, total_supply, reserve_base, reserve_token,
			commission_rate, is_active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, version
	`,
		c.Name, c.Symbol, c.CreatorID, c.TotalSupply, c.ReserveBase, c.ReserveToken,
		c.CommissionRate, c.IsActive, c.CreatedAt,
	).Scan(&c.ID, &c.Version)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// UpdateCurrency writes reserves and the active flag of a locked currency.
func (t *ledgerTx) UpdateCurrency(ctx context.Context, c *domain.Currency) error {
	if c == nil {
		return storage.ErrInvalidInput
	}

	tag, err := t.q.Exec(ctx, `
		UPDATE currencies
		SET reserve_base = $2, reserve_token = $3, is_active = $4, version = version + 1
		WHERE id = $1
	`, c.ID, c.ReserveBase, c.ReserveToken, c.IsActive)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateWallet writes the balance of a locked wallet.
func (t *ledgerTx) UpdateWallet(ctx context.Context, w *domain.Wallet) error {
	if w == nil {
		return storage.ErrInvalidInput
	}

	tag, err := t.q.Exec(ctx, `
		UPDATE wallets
		SET balance = $3, version = version + 1
		WHERE user_id = $1 AND currency_id = $2
	`, w.UserID, w.CurrencyID, w.Balance)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreditWallet adds amount to a wallet, creating it if absent.
func (t *ledgerTx) CreditWallet(ctx context.Context, userID, currencyID int64, amount float64) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO wallets (user_id, currency_id, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, currency_id) DO UPDATE
		SET balance = wallets.balance + EXCLUDED.balance,
		    version = wallets.version + 1
	`, userID, currencyID, amount)
	if err != nil {
		return fmt.Errorf("credit wallet %d/%d: %w", userID, currencyID, mapError(err))
	}
	return nil
}

// InsertTransaction appends a transaction.
func (t *ledgerTx) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || (tx.Type != domain.TxDebit && tx.Type != domain.TxCredit) {
		return storage.ErrInvalidInput
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now()
	}

	err := t.q.QueryRow(ctx, `
		INSERT INTO transactions (user_id, amount, type, description, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, tx.UserID, tx.Amount, tx.Type, tx.Description, tx.Timestamp).Scan(&tx.ID)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// InsertExchange appends an exchange record.
func (t *ledgerTx) InsertExchange(ctx context.Context, e *domain.ExchangeTransaction) error {
	if e == nil {
		return storage.ErrInvalidInput
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	err := t.q.QueryRow(ctx, `
		INSERT INTO exchange_transactions (
			user_id, from_symbol, to_symbol, from_amount, to_amount, price, commission, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, e.UserID, e.FromSymbol, e.ToSymbol, e.FromAmount, e.ToAmount, e.Price, e.Commission, e.Timestamp).Scan(&e.ID)
	if err != nil {
		return mapError(err)
	}
	return nil
}
