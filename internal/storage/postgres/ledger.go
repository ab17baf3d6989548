package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/observability"
	"amm-ledger/internal/storage"
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger is a PostgreSQL implementation of storage.Ledger.
//
// Units of work run at READ COMMITTED. Rows a decision depends on are taken
// with SELECT ... FOR UPDATE; credits are single-statement increments so
// commission receivers are never held for the whole unit.
type Ledger struct {
	reader
	pool *Pool
}

// NewLedger creates a new PostgreSQL ledger.
func NewLedger(pool *Pool) *Ledger {
	return &Ledger{reader: reader{q: pool}, pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.Ledger = (*Ledger)(nil)
	_ storage.Named  = (*Ledger)(nil)
	_ storage.Tx     = (*ledgerTx)(nil)
)

// Name identifies the store in metrics.
func (l *Ledger) Name() string { return "postgres" }

// InTx runs fn inside one database transaction.
func (l *Ledger) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("postgres", "tx", time.Since(start).Seconds(), err)
	}()

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(ctx, &ledgerTx{reader: reader{q: tx}}); err != nil {
		return mapError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("commit tx: %w", err))
	}
	committed = true
	return nil
}

const userColumns = `id, public_id, username, COALESCE(email, ''), balance, created_at,
	last_login, last_ad_watch, ad_count_today, version`

const currencyColumns = `id, name, symbol, creator_id, total_supply, reserve_base, reserve_token,
	commission_rate, is_active, created_at, version`

const walletColumns = `id, user_id, currency_id, balance, created_at, version`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.PublicID, &u.Username, &u.Email, &u.Balance, &u.CreatedAt,
		&u.LastLogin, &u.LastAdWatch, &u.AdCountToday, &u.Version)
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func scanCurrency(row pgx.Row) (*domain.Currency, error) {
	var c domain.Currency
	err := row.Scan(&c.ID, &c.Name, &c.Symbol, &c.CreatorID, &c.TotalSupply, &c.ReserveBase,
		&c.ReserveToken, &c.CommissionRate, &c.IsActive, &c.CreatedAt, &c.Version)
	if err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.CurrencyID, &w.Balance, &w.CreatedAt, &w.Version)
	if err != nil {
		return nil, mapError(err)
	}
	return &w, nil
}

// reader implements storage.Reader over a pool or a transaction.
type reader struct {
	q querier
}

// UserByID retrieves a user by row id.
func (r reader) UserByID(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(r.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// UserByPublicID retrieves a user by public id.
func (r reader) UserByPublicID(ctx context.Context, publicID string) (*domain.User, error) {
	return scanUser(r.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE public_id = $1`, publicID))
}

// UserByIdentifier retrieves a user by username or public id.
func (r reader) UserByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	return scanUser(r.q.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = $1 OR public_id = $1
		ORDER BY id
		LIMIT 1
	`, identifier))
}

// CurrencyBySymbol retrieves a currency by symbol.
func (r reader) CurrencyBySymbol(ctx context.Context, symbol string) (*domain.Currency, error) {
	return scanCurrency(r.q.QueryRow(ctx, `SELECT `+currencyColumns+` FROM currencies WHERE symbol = $1`, symbol))
}

// Currencies retrieves all currencies ordered by id.
func (r reader) Currencies(ctx context.Context) ([]*domain.Currency, error) {
	rows, err := r.q.Query(ctx, `SELECT `+currencyColumns+` FROM currencies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query currencies: %w", err)
	}
	defer rows.Close()

	var result []*domain.Currency
	for rows.Next() {
		c, err := scanCurrency(rows)
		if err != nil {
			return nil, fmt.Errorf("scan currency: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// Wallet retrieves the wallet for (userID, currencyID).
func (r reader) Wallet(ctx context.Context, userID, currencyID int64) (*domain.Wallet, error) {
	return scanWallet(r.q.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1 AND currency_id = $2
	`, userID, currencyID))
}

// WalletsByUser retrieves all wallets of a user ordered by currency id.
func (r reader) WalletsByUser(ctx context.Context, userID int64) ([]*domain.Wallet, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1
		ORDER BY currency_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	defer rows.Close()

	var result []*domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

// RecentTransactions retrieves up to limit transactions of a user, newest first.
// A non-positive limit returns all of them.
func (r reader) RecentTransactions(ctx context.Context, userID int64, limit int) ([]*domain.Transaction, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, user_id, amount, type, description, timestamp
		FROM transactions
		WHERE user_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT NULLIF($2, 0)
	`, userID, max(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var result []*domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.Description, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		result = append(result, &t)
	}
	return result, rows.Err()
}

// RecentExchanges retrieves up to limit exchanges of a user, newest first.
// A non-positive limit returns all of them.
func (r reader) RecentExchanges(ctx context.Context, userID int64, limit int) ([]*domain.ExchangeTransaction, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, user_id, from_symbol, to_symbol, from_amount, to_amount, price, commission, timestamp
		FROM exchange_transactions
		WHERE user_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT NULLIF($2, 0)
	`, userID, max(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var result []*domain.ExchangeTransaction
	for rows.Next() {
		var e domain.ExchangeTransaction
		err := rows.Scan(&e.ID, &e.UserID, &e.FromSymbol, &e.ToSymbol, &e.FromAmount,
			&e.ToAmount, &e.Price, &e.Commission, &e.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}
