package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/storage"
)

// TradeArchive is an in-memory implementation of storage.TradeArchive.
type TradeArchive struct {
	mu   sync.RWMutex
	data map[string]*domain.Trade // keyed by trade_id
}

// NewTradeArchive creates a new in-memory trade archive.
func NewTradeArchive() *TradeArchive {
	return &TradeArchive{
		data: make(map[string]*domain.Trade),
	}
}

// Compile-time interface check.
var _ storage.TradeArchive = (*TradeArchive)(nil)

// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
func (a *TradeArchive) InsertBulk(_ context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batch := make(map[string]struct{}, len(trades))
	for _, t := range trades {
		if t == nil || t.TradeID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := a.data[t.TradeID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batch[t.TradeID]; exists {
			return storage.ErrDuplicateKey
		}
		batch[t.TradeID] = struct{}{}
	}

	for _, t := range trades {
		cp := *t
		a.data[t.TradeID] = &cp
	}
	return nil
}

// GetByUser retrieves up to limit trades of a user, newest first.
func (a *TradeArchive) GetByUser(_ context.Context, userPublicID string, limit int) ([]*domain.Trade, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var result []*domain.Trade
	for _, t := range a.data {
		if t.UserID == userPublicID {
			cp := *t
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.After(result[j].Timestamp)
		}
		return result[i].TradeID < result[j].TradeID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// VolumeSince aggregates traded amounts per symbol, ordered by symbol.
func (a *TradeArchive) VolumeSince(_ context.Context, since time.Time) ([]*domain.SymbolVolume, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	bySymbol := make(map[string]*domain.SymbolVolume)
	add := func(symbol string, amount float64) {
		v, ok := bySymbol[symbol]
		if !ok {
			v = &domain.SymbolVolume{Symbol: symbol}
			bySymbol[symbol] = v
		}
		v.Volume += amount
		v.TradeCount++
	}

	for _, t := range a.data {
		if t.Timestamp.Before(since) {
			continue
		}
		add(t.FromSymbol, t.FromAmount)
		add(t.ToSymbol, t.ToAmount)
	}

	result := make([]*domain.SymbolVolume, 0, len(bySymbol))
	for _, v := range bySymbol {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}
