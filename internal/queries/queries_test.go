package queries

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/storage"
	"amm-ledger/internal/storage/memory"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	l       *memory.Ledger
	archive *memory.TradeArchive
	svc     *Service
	user    *domain.User
	alp     *domain.Currency
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := memory.NewLedger()
	archive := memory.NewTradeArchive()
	f := &fixture{
		l:       l,
		archive: archive,
		svc:     New(Options{Ledger: l, Archive: archive, Now: func() time.Time { return testNow }}),
	}

	err := l.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		f.user = &domain.User{PublicID: "holder000000000000000", Username: "holder", Email: "h@example.com", Balance: 40}
		if err := tx.InsertUser(ctx, f.user); err != nil {
			return err
		}
		f.alp = &domain.Currency{Name: "Alpha", Symbol: "ALP", CreatorID: f.user.ID, TotalSupply: domain.DefaultTotalSupply,
			ReserveBase: 1000, ReserveToken: 100_000_000, CommissionRate: 0.025, IsActive: true}
		if err := tx.InsertCurrency(ctx, f.alp); err != nil {
			return err
		}
		beta := &domain.Currency{Name: "Beta", Symbol: "BET", CreatorID: f.user.ID,
			ReserveBase: 500, ReserveToken: 1000, CommissionRate: 0.01, IsActive: true}
		if err := tx.InsertCurrency(ctx, beta); err != nil {
			return err
		}
		return tx.CreditWallet(ctx, f.user.ID, f.alp.ID, 2_000_000)
	})
	require.NoError(t, err)
	return f
}

func TestPriceAndCurrencies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Price(ctx, domain.BaseSymbol)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)

	p, err = f.svc.Price(ctx, "ALP")
	require.NoError(t, err)
	assert.InDelta(t, 1e-5, p, 1e-15)

	_, err = f.svc.Price(ctx, "NOPE")
	assert.ErrorIs(t, err, domain.ErrCurrencyNotFound)

	list, err := f.svc.Currencies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []CurrencyInfo{
		{Name: domain.BaseName, Symbol: domain.BaseSymbol},
		{Name: "Alpha", Symbol: "ALP"},
		{Name: "Beta", Symbol: "BET"},
	}, list)
}

func TestCurrencyDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base, err := f.svc.CurrencyDetails(ctx, domain.BaseSymbol)
	require.NoError(t, err)
	assert.Nil(t, base.TotalSupply)
	assert.Equal(t, 0.05, base.CommissionRate)
	assert.Equal(t, 1.0, base.CurrentPrice)
	assert.Zero(t, base.Liquidity)

	require.NoError(t, f.archive.InsertBulk(ctx, []*domain.Trade{
		{TradeID: "recent", UserID: f.user.PublicID, FromSymbol: "BASE", ToSymbol: "ALP", FromAmount: 5, ToAmount: 480_000, Timestamp: testNow.Add(-time.Hour)},
		{TradeID: "stale", UserID: f.user.PublicID, FromSymbol: "BASE", ToSymbol: "ALP", FromAmount: 5, ToAmount: 999_999, Timestamp: testNow.Add(-48 * time.Hour)},
	}))

	d, err := f.svc.CurrencyDetails(ctx, "ALP")
	require.NoError(t, err)
	require.NotNil(t, d.TotalSupply)
	assert.Equal(t, domain.DefaultTotalSupply, *d.TotalSupply)
	assert.Equal(t, 0.025, d.CommissionRate)
	assert.Equal(t, 2000.0, d.Liquidity)
	assert.Equal(t, 100_000_000.0, d.ReserveToken)
	assert.Equal(t, 480_000.0, d.Volume24h)
	assert.Equal(t, int64(1), d.Trades24h)
}

func TestBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.BaseBalance(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 40.0, b)

	b, err = f.svc.WalletBalance(ctx, f.user.ID, domain.BaseSymbol)
	require.NoError(t, err)
	assert.Equal(t, 40.0, b)

	b, err = f.svc.WalletBalance(ctx, f.user.ID, "ALP")
	require.NoError(t, err)
	assert.Equal(t, 2_000_000.0, b)

	b, err = f.svc.WalletBalance(ctx, f.user.ID, "BET")
	require.NoError(t, err)
	assert.Zero(t, b)

	_, err = f.svc.WalletBalance(ctx, f.user.ID, "NOPE")
	assert.ErrorIs(t, err, domain.ErrCurrencyNotFound)
	_, err = f.svc.BaseBalance(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	wallets, err := f.svc.Wallets(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	assert.Equal(t, "ALP", wallets[0].Symbol)
	assert.InDelta(t, 1e-5, wallets[0].Price, 1e-15)
}

func TestMaxBuyAndMaxSell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	buy, err := f.svc.MaxBuy(ctx, f.user.ID, "ALP")
	require.NoError(t, err)
	assert.InDelta(t, 224.744871, buy.MaxAmount, 1e-6)
	assert.InDelta(t, 1.5e-5, buy.EstimatedPrice, 1e-15)
	assert.Equal(t, 40.0, buy.UserBalance)
	assert.Equal(t, 40.0, buy.AffordableMax)

	sell, err := f.svc.MaxSell(ctx, f.user.ID, "ALP")
	require.NoError(t, err)
	assert.Equal(t, 2_000_000.0, sell.MaxAmount)
	assert.Equal(t, 2_000_000.0, sell.UserBalance)

	sell, err = f.svc.MaxSell(ctx, f.user.ID, "BET")
	require.NoError(t, err)
	assert.Zero(t, sell.MaxAmount)

	_, err = f.svc.MaxBuy(ctx, f.user.ID, domain.BaseSymbol)
	assert.ErrorIs(t, err, domain.ErrUnsupportedPair)
	_, err = f.svc.MaxSell(ctx, f.user.ID, domain.BaseSymbol)
	assert.ErrorIs(t, err, domain.ErrUnsupportedPair)

	// Idempotent without intervening mutation.
	again, err := f.svc.MaxBuy(ctx, f.user.ID, "ALP")
	require.NoError(t, err)
	assert.Equal(t, buy, again)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.l.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		for i := 0; i < 60; i++ {
			err := tx.InsertTransaction(ctx, &domain.Transaction{
				UserID: f.user.ID, Amount: float64(i), Type: domain.TxCredit,
				Timestamp: testNow.Add(time.Duration(i) * time.Minute),
			})
			if err != nil {
				return err
			}
		}
		return tx.InsertExchange(ctx, &domain.ExchangeTransaction{
			UserID: f.user.ID, FromSymbol: "BASE", ToSymbol: "ALP", FromAmount: 1, ToAmount: 2, Timestamp: testNow,
		})
	})
	require.NoError(t, err)

	h, err := f.svc.History(ctx, f.user.ID, 0)
	require.NoError(t, err)
	require.Len(t, h.Transactions, domain.DefaultHistoryLimit)
	assert.Equal(t, 59.0, h.Transactions[0].Amount)
	assert.Len(t, h.Exchanges, 1)

	h, err = f.svc.History(ctx, f.user.ID, 5)
	require.NoError(t, err)
	assert.Len(t, h.Transactions, 5)

	_, err = f.svc.History(ctx, 999, 5)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}
