package clickhouse

import (
	"context"
	"fmt"
	"time"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/storage"
)

// TradeArchive implements storage.TradeArchive using ClickHouse.
type TradeArchive struct {
	conn *Conn
}

// NewTradeArchive creates a new TradeArchive.
func NewTradeArchive(conn *Conn) *TradeArchive {
	return &TradeArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.TradeArchive = (*TradeArchive)(nil)

// InsertBulk adds multiple trades. Fails entire batch on duplicate.
func (a *TradeArchive) InsertBulk(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[string]struct{}, len(trades))
	for _, t := range trades {
		if t == nil || t.TradeID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[t.TradeID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[t.TradeID] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, t := range trades {
		exists, err := a.exists(ctx, t.TradeID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO trades (
			trade_id, user_id, route, from_symbol, to_symbol, from_amount, to_amount,
			price, commission, price_impact, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range trades {
		err = batch.Append(
			t.TradeID, t.UserID, t.Route, t.FromSymbol, t.ToSymbol, t.FromAmount, t.ToAmount,
			t.Price, t.Commission, t.PriceImpact, uint64(t.Timestamp.UnixMilli()),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByUser retrieves up to limit trades of a user, newest first.
// A non-positive limit returns all of them.
func (a *TradeArchive) GetByUser(ctx context.Context, userPublicID string, limit int) ([]*domain.Trade, error) {
	query := `
		SELECT trade_id, user_id, route, from_symbol, to_symbol, from_amount, to_amount,
		       price, commission, price_impact, timestamp_ms
		FROM trades
		WHERE user_id = ?
		ORDER BY timestamp_ms DESC, trade_id ASC
	`
	args := []any{userPublicID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, uint64(limit))
	}

	rows, err := a.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query by user: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// VolumeSince aggregates traded amounts per symbol, ordered by symbol.
func (a *TradeArchive) VolumeSince(ctx context.Context, since time.Time) ([]*domain.SymbolVolume, error) {
	query := `
		SELECT symbol, sum(amount) AS volume, count() AS trades
		FROM (
			SELECT from_symbol AS symbol, from_amount AS amount FROM trades WHERE timestamp_ms >= ?
			UNION ALL
			SELECT to_symbol AS symbol, to_amount AS amount FROM trades WHERE timestamp_ms >= ?
		)
		GROUP BY symbol
		ORDER BY symbol
	`

	sinceMs := uint64(since.UnixMilli())
	rows, err := a.conn.Query(ctx, query, sinceMs, sinceMs)
	if err != nil {
		return nil, fmt.Errorf("query volume: %w", err)
	}
	defer rows.Close()

	var volumes []*domain.SymbolVolume
	for rows.Next() {
		var v domain.SymbolVolume
		var count uint64
		if err := rows.Scan(&v.Symbol, &v.Volume, &count); err != nil {
			return nil, fmt.Errorf("scan volume row: %w", err)
		}
		v.TradeCount = int64(count)
		volumes = append(volumes, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate volume rows: %w", err)
	}

	return volumes, nil
}

// exists checks if a trade with the given id exists.
func (a *TradeArchive) exists(ctx context.Context, tradeID string) (bool, error) {
	var count uint64
	err := a.conn.QueryRow(ctx, `SELECT count(*) FROM trades WHERE trade_id = ?`, tradeID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// chRows is the subset of driver.Rows used by scanners.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanTrades scans multiple rows.
func scanTrades(rows chRows) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for rows.Next() {
		var t domain.Trade
		var timestampMs uint64

		err := rows.Scan(
			&t.TradeID, &t.UserID, &t.Route, &t.FromSymbol, &t.ToSymbol, &t.FromAmount, &t.ToAmount,
			&t.Price, &t.Commission, &t.PriceImpact, &timestampMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}

		t.Timestamp = time.UnixMilli(int64(timestampMs)).UTC()
		trades = append(trades, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}
