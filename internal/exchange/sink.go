package exchange

import (
	"context"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/storage"
)

// TradeSink receives trades after they commit.
type TradeSink interface {
	Publish(ctx context.Context, trade *domain.Trade) error
}

// TradeSinkFunc adapts a function to TradeSink.
type TradeSinkFunc func(ctx context.Context, trade *domain.Trade) error

// Publish calls f.
func (f TradeSinkFunc) Publish(ctx context.Context, trade *domain.Trade) error {
	return f(ctx, trade)
}

// ArchiveSink writes each trade to a trade archive.
func ArchiveSink(archive storage.TradeArchive) TradeSink {
	return TradeSinkFunc(func(ctx context.Context, trade *domain.Trade) error {
		return archive.InsertBulk(ctx, []*domain.Trade{trade})
	})
}
