package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/queries"
	"amm-ledger/internal/storage"
	"amm-ledger/internal/storage/memory"
)

type fixture struct {
	l       *memory.Ledger
	svc     *Service
	trader  *domain.User
	issuerA *domain.User
	issuerB *domain.User
	alp     *domain.Currency
	bet     *domain.Currency
}

func newFixture(t *testing.T, sinks ...TradeSink) *fixture {
	t.Helper()
	l := memory.NewLedger()
	f := &fixture{l: l, svc: New(Options{Ledger: l, Sinks: sinks})}

	err := l.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		f.trader = &domain.User{PublicID: "trader000000000000000", Username: "trader", Email: "t@example.com", Balance: 100}
		f.issuerA = &domain.User{PublicID: "issuera00000000000000", Username: "issuera", Email: "a@example.com"}
		f.issuerB = &domain.User{PublicID: "issuerb00000000000000", Username: "issuerb", Email: "b@example.com"}
		for _, u := range []*domain.User{f.trader, f.issuerA, f.issuerB} {
			if err := tx.InsertUser(ctx, u); err != nil {
				return err
			}
		}

		f.alp = &domain.Currency{Name: "Alpha", Symbol: "ALP", CreatorID: f.issuerA.ID,
			ReserveBase: 1000, ReserveToken: 100_000_000, CommissionRate: 0.025, IsActive: true}
		f.bet = &domain.Currency{Name: "Beta", Symbol: "BET", CreatorID: f.issuerB.ID,
			ReserveBase: 1000, ReserveToken: 100_000_000, CommissionRate: 0.01, IsActive: true}
		for _, c := range []*domain.Currency{f.alp, f.bet} {
			if err := tx.InsertCurrency(ctx, c); err != nil {
				return err
			}
		}
		return tx.CreditWallet(ctx, f.trader.ID, f.alp.ID, 1_000_000)
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) user(t *testing.T, id int64) *domain.User {
	t.Helper()
	u, err := f.l.UserByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (f *fixture) currency(t *testing.T, symbol string) *domain.Currency {
	t.Helper()
	c, err := f.l.CurrencyBySymbol(context.Background(), symbol)
	require.NoError(t, err)
	return c
}

func (f *fixture) wallet(t *testing.T, userID, currencyID int64) float64 {
	t.Helper()
	w, err := f.l.Wallet(context.Background(), userID, currencyID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0
	}
	require.NoError(t, err)
	return w.Balance
}

// snapshot captures every balance and reserve the fixture can touch.
type snapshot struct {
	balances []float64
	wallets  []float64
	reserves []float64
}

func (f *fixture) snapshot(t *testing.T) snapshot {
	t.Helper()
	var s snapshot
	for _, u := range []*domain.User{f.trader, f.issuerA, f.issuerB} {
		s.balances = append(s.balances, f.user(t, u.ID).Balance)
		for _, c := range []*domain.Currency{f.alp, f.bet} {
			s.wallets = append(s.wallets, f.wallet(t, u.ID, c.ID))
		}
	}
	for _, sym := range []string{"ALP", "BET"} {
		c := f.currency(t, sym)
		s.reserves = append(s.reserves, c.ReserveBase, c.ReserveToken)
	}
	return s
}

func TestExchange_Buy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Exchange(ctx, f.trader.ID, "BASE", "ALP", 10)
	require.NoError(t, err)

	wantOut := 100_000_000 - 1e11/(1000+9.75)
	assert.Equal(t, domain.RouteBuy, res.Route)
	assert.InDelta(t, wantOut, res.Received, 1e-6)
	assert.InDelta(t, 10/wantOut, res.Price, 1e-15)
	assert.InDelta(t, 2.01, res.PriceImpact, 1e-9)
	assert.InDelta(t, 0.25, res.Commission, 1e-12)
	assert.Equal(t, "Bought 965585.5410 ALP for 10.00 BASE", res.Message)
	assert.Len(t, res.TradeID, 64)

	assert.InDelta(t, 90.0, f.user(t, f.trader.ID).Balance, 1e-9)
	assert.InDelta(t, 1_000_000+wantOut, f.wallet(t, f.trader.ID, f.alp.ID), 1e-6)
	assert.InDelta(t, 0.25, f.user(t, f.issuerA.ID).Balance, 1e-12)

	c := f.currency(t, "ALP")
	assert.InDelta(t, 1009.75, c.ReserveBase, 1e-9)
	assert.InDelta(t, 100_000_000-wantOut, c.ReserveToken, 1e-6)

	records, err := f.l.RecentExchanges(ctx, f.trader.ID, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "BASE", records[0].FromSymbol)
	assert.Equal(t, "ALP", records[0].ToSymbol)
	assert.InDelta(t, 10/wantOut, records[0].Price, 1e-15)
	assert.InDelta(t, 0.25, records[0].Commission, 1e-12)
}

func TestExchange_Sell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	amount := 500_000.0
	net := amount * 0.975
	wantOut := 1000 - 1e11/(100_000_000+net)

	res, err := f.svc.Exchange(ctx, f.trader.ID, "ALP", "BASE", amount)
	require.NoError(t, err)
	assert.Equal(t, domain.RouteSell, res.Route)
	assert.InDelta(t, wantOut, res.Received, 1e-9)
	assert.InDelta(t, wantOut/amount, res.Price, 1e-15)
	assert.InDelta(t, amount*0.025, res.Commission, 1e-9)

	assert.InDelta(t, 100+wantOut, f.user(t, f.trader.ID).Balance, 1e-9)
	assert.InDelta(t, 500_000.0, f.wallet(t, f.trader.ID, f.alp.ID), 1e-9)
	// Sell commission is paid to the creator in tokens.
	assert.InDelta(t, amount*0.025, f.wallet(t, f.issuerA.ID, f.alp.ID), 1e-9)

	c := f.currency(t, "ALP")
	assert.InDelta(t, 100_000_000+net, c.ReserveToken, 1e-6)
	assert.InDelta(t, 1000-wantOut, c.ReserveBase, 1e-9)
}

func TestExchange_Cross(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	amount := 1_000_000.0
	netA := amount * 0.975
	baseOut := 1000 - 1e11/(100_000_000+netA)
	netB := baseOut * 0.99
	wantOut := 100_000_000 - 1e11/(1000+netB)

	res, err := f.svc.Exchange(ctx, f.trader.ID, "ALP", "BET", amount)
	require.NoError(t, err)
	assert.Equal(t, domain.RouteCross, res.Route)
	assert.InDelta(t, wantOut, res.Received, 1e-6)
	assert.InDelta(t, wantOut/amount, res.Price, 1e-12)
	assert.InDelta(t, amount*0.025+baseOut*0.01, res.Commission, 1e-9)

	assert.InDelta(t, 0.0, f.wallet(t, f.trader.ID, f.alp.ID), 1e-9)
	assert.InDelta(t, wantOut, f.wallet(t, f.trader.ID, f.bet.ID), 1e-6)
	assert.InDelta(t, 100.0, f.user(t, f.trader.ID).Balance, 1e-9)
	assert.InDelta(t, amount*0.025, f.wallet(t, f.issuerA.ID, f.alp.ID), 1e-9)
	assert.InDelta(t, baseOut*0.01, f.user(t, f.issuerB.ID).Balance, 1e-12)

	alp := f.currency(t, "ALP")
	bet := f.currency(t, "BET")
	assert.InDelta(t, 1000-baseOut, alp.ReserveBase, 1e-9)
	assert.InDelta(t, 1000+netB, bet.ReserveBase, 1e-9)

	records, err := f.l.RecentExchanges(ctx, f.trader.ID, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.InDelta(t, wantOut/amount, records[0].Price, 1e-12)
}

func TestExchange_RejectionsLeaveStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.l.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		c := &domain.Currency{Name: "Dead", Symbol: "DED", CreatorID: f.issuerA.ID,
			ReserveBase: 1000, ReserveToken: 1000, CommissionRate: 0.01}
		return tx.InsertCurrency(ctx, c)
	}))

	before := f.snapshot(t)

	tests := []struct {
		name   string
		userID int64
		from   string
		to     string
		amount float64
		want   error
	}{
		{"zero amount", f.trader.ID, "ALP", "BET", 0, domain.ErrInvalidAmount},
		{"negative amount", f.trader.ID, "BASE", "ALP", -1, domain.ErrInvalidAmount},
		{"same currency", f.trader.ID, "ALP", "ALP", 1, domain.ErrSameCurrency},
		{"same base", f.trader.ID, "BASE", "BASE", 1, domain.ErrSameCurrency},
		{"unknown target", f.trader.ID, "BASE", "ZZZ", 1, domain.ErrCurrencyNotFound},
		{"unknown source", f.trader.ID, "ZZZ", "ALP", 1, domain.ErrCurrencyNotFound},
		{"inactive", f.trader.ID, "BASE", "DED", 1, domain.ErrCurrencyInactive},
		{"unknown user", 999, "BASE", "ALP", 1, domain.ErrUserNotFound},
		{"insufficient base", f.trader.ID, "BASE", "ALP", 100.5, domain.ErrInsufficientFunds},
		{"insufficient tokens", f.trader.ID, "ALP", "BASE", 1_000_001, domain.ErrInsufficientFunds},
		{"no wallet", f.trader.ID, "BET", "ALP", 1, domain.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Exchange(ctx, tt.userID, tt.from, tt.to, tt.amount)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, before, f.snapshot(t))
	records, err := f.l.RecentExchanges(ctx, f.trader.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestExchange_PriceImpactRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Give the trader enough BASE to move the pool past the cap.
	require.NoError(t, f.l.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.CreditUser(ctx, f.trader.ID, 10_000)
	}))
	before := f.snapshot(t)

	_, err := f.svc.Exchange(ctx, f.trader.ID, "BASE", "ALP", 1000)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPriceImpactExceeded)
	assert.Equal(t, domain.KindEconomic, domain.Kind(err))
	var pie *domain.PriceImpactError
	require.ErrorAs(t, err, &pie)
	assert.Greater(t, pie.Percent, 50.0)

	// A cross trade whose buy leg alone breaks the cap.
	require.NoError(t, f.l.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.CreditWallet(ctx, f.trader.ID, f.alp.ID, 99_000_000)
	}))
	mid := f.snapshot(t)
	_, err = f.svc.Exchange(ctx, f.trader.ID, "ALP", "BET", 40_000_000)
	assert.ErrorIs(t, err, domain.ErrPriceImpactExceeded)

	assert.Equal(t, before.reserves, mid.reserves)
	assert.Equal(t, mid, f.snapshot(t))
}

// kDrift is the relative float error one reserve update may introduce.
const kDrift = 1e-12

func TestExchange_KNonDecreasing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	k0 := f.currency(t, "ALP").K()
	res, err := f.svc.Exchange(ctx, f.trader.ID, "BASE", "ALP", 50)
	require.NoError(t, err)
	k1 := f.currency(t, "ALP").K()
	assert.GreaterOrEqual(t, k1, k0*(1-kDrift))
	assert.InDelta(t, 50*0.025, res.Commission, 1e-12)
	assert.InDelta(t, res.Commission, f.user(t, f.issuerA.ID).Balance, 1e-12)

	res, err = f.svc.Exchange(ctx, f.trader.ID, "ALP", "BASE", 1_000_000)
	require.NoError(t, err)
	k2 := f.currency(t, "ALP").K()
	assert.GreaterOrEqual(t, k2, k1*(1-kDrift))
	assert.InDelta(t, 1_000_000*0.025, f.wallet(t, f.issuerA.ID, f.alp.ID), 1e-6)

	// The commission never flows back to the trader, so a round trip loses value.
	assert.InEpsilon(t, k0, k2, 2*kDrift)
	assert.Less(t, f.user(t, f.trader.ID).Balance, 100.0)
}

func TestExchange_TradesAdvertisedLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.l.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.CreditUser(ctx, f.trader.ID, 900); err != nil {
			return err
		}
		return tx.CreditWallet(ctx, f.trader.ID, f.bet.ID, 100_000_000)
	}))
	q := queries.New(queries.Options{Ledger: f.l})

	buy, err := q.MaxBuy(ctx, f.trader.ID, "ALP")
	require.NoError(t, err)
	require.Less(t, buy.AffordableMax, buy.UserBalance, "pool limit must bind")
	res, err := f.svc.Exchange(ctx, f.trader.ID, "BASE", "ALP", buy.AffordableMax)
	require.NoError(t, err)
	assert.InDelta(t, domain.MaxPriceImpactPercent, res.PriceImpact, 1e-9)

	sell, err := q.MaxSell(ctx, f.trader.ID, "BET")
	require.NoError(t, err)
	require.Less(t, sell.AffordableMax, sell.UserBalance, "pool limit must bind")
	res, err = f.svc.Exchange(ctx, f.trader.ID, "BET", "BASE", sell.AffordableMax)
	require.NoError(t, err)
	assert.InDelta(t, domain.MaxPriceImpactPercent, res.PriceImpact, 1e-9)
}

func TestQuote_MatchesExchangeAndDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before := f.snapshot(t)
	for _, pair := range [][2]string{{"BASE", "ALP"}, {"ALP", "BASE"}, {"ALP", "BET"}} {
		q1, err := f.svc.Quote(ctx, pair[0], pair[1], 25)
		require.NoError(t, err)
		q2, err := f.svc.Quote(ctx, pair[0], pair[1], 25)
		require.NoError(t, err)
		assert.Equal(t, q1, q2)
		assert.Empty(t, q1.TradeID)
	}
	assert.Equal(t, before, f.snapshot(t))

	q, err := f.svc.Quote(ctx, "BASE", "ALP", 10)
	require.NoError(t, err)
	res, err := f.svc.Exchange(ctx, f.trader.ID, "BASE", "ALP", 10)
	require.NoError(t, err)
	assert.Equal(t, q.Received, res.Received)
	assert.Equal(t, q.PriceImpact, res.PriceImpact)

	_, err = f.svc.Quote(ctx, "BASE", "ALP", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.svc.Quote(ctx, "BASE", "NOPE", 1)
	assert.ErrorIs(t, err, domain.ErrCurrencyNotFound)
}

func TestExchange_ConcurrentTradesConserveValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Second trader so buys and sells contend on the same pool.
	var other *domain.User
	require.NoError(t, f.l.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		other = &domain.User{PublicID: "other0000000000000000", Username: "other", Email: "o@example.com", Balance: 100}
		return tx.InsertUser(ctx, other)
	}))

	totalBase := func() float64 {
		c := f.currency(t, "ALP")
		sum := c.ReserveBase
		for _, id := range []int64{f.trader.ID, f.issuerA.ID, other.ID} {
			sum += f.user(t, id).Balance
		}
		return sum
	}
	totalTokens := func() float64 {
		c := f.currency(t, "ALP")
		sum := c.ReserveToken
		for _, id := range []int64{f.trader.ID, f.issuerA.ID, other.ID} {
			sum += f.wallet(t, id, f.alp.ID)
		}
		return sum
	}

	base0, tokens0, k0 := totalBase(), totalTokens(), f.currency(t, "ALP").K()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Exchange(ctx, other.ID, "BASE", "ALP", 2)
		}()
		go func() {
			defer wg.Done()
			_, _ = f.svc.Exchange(ctx, f.trader.ID, "ALP", "BASE", 10_000)
		}()
	}
	wg.Wait()

	assert.InDelta(t, base0, totalBase(), 1e-6)
	assert.InDelta(t, tokens0, totalTokens(), 1e-3)
	assert.GreaterOrEqual(t, f.currency(t, "ALP").K(), k0*(1-1e-12))
}

type recordingSink struct {
	mu     sync.Mutex
	trades []*domain.Trade
}

func (s *recordingSink) Publish(_ context.Context, trade *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trade)
	return nil
}

func TestExchange_PublishesToSinks(t *testing.T) {
	rec := &recordingSink{}
	failing := TradeSinkFunc(func(context.Context, *domain.Trade) error {
		return errors.New("archive down")
	})
	archive := memory.NewTradeArchive()
	f := newFixture(t, failing, rec, ArchiveSink(archive))
	ctx := context.Background()

	res, err := f.svc.Exchange(ctx, f.trader.ID, "BASE", "ALP", 5)
	require.NoError(t, err)

	require.Len(t, rec.trades, 1)
	trade := rec.trades[0]
	assert.Equal(t, res.TradeID, trade.TradeID)
	assert.Equal(t, f.trader.PublicID, trade.UserID)
	assert.Equal(t, domain.RouteBuy, trade.Route)
	assert.InDelta(t, res.Received, trade.ToAmount, 1e-9)

	archived, err := archive.GetByUser(ctx, f.trader.PublicID, 10)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, res.TradeID, archived[0].TradeID)

	// Failed quotes and rejected trades are never published.
	_, err = f.svc.Exchange(ctx, f.trader.ID, "BASE", "ALP", 0)
	require.Error(t, err)
	assert.Len(t, rec.trades, 1)
}
