// Package exchange executes trades against currency pools.
//
// Three routes exist:
//   - buy: BASE in, tokens out of the target pool
//   - sell: tokens into the source pool, BASE out
//   - cross: a sell leg on the source pool whose BASE output funds a buy
//     leg on the target pool
//
// Commission stays with each pool's creator: in BASE for buy legs and in
// tokens for sell legs.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/idhash"
	"amm-ledger/internal/observability"
	"amm-ledger/internal/pricing"
	"amm-ledger/internal/storage"
)

// Result describes an executed trade or a quote.
type Result struct {
	TradeID     string // empty for quotes
	Route       string
	FromSymbol  string
	ToSymbol    string
	FromAmount  float64
	Received    float64
	Price       float64
	PriceImpact float64 // percent
	Commission  float64
	Message     string
}

// Service executes and quotes trades.
type Service struct {
	ledger storage.Ledger
	logger *zap.Logger
	now    func() time.Time
	sinks  []TradeSink
}

// Options for creating Service.
type Options struct {
	Ledger storage.Ledger
	Logger *zap.Logger
	Now    func() time.Time

	// Sinks receive every committed trade. Optional.
	Sinks []TradeSink
}

// New creates a new Service.
func New(opts Options) *Service {
	s := &Service{
		ledger: opts.Ledger,
		logger: opts.Logger,
		now:    opts.Now,
		sinks:  opts.Sinks,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Exchange trades amount of from into to on behalf of userID.
func (s *Service) Exchange(ctx context.Context, userID int64, from, to string, amount float64) (res *Result, err error) {
	start := time.Now()
	defer func() {
		observability.Observe(s.logger, "exchange", start, err,
			zap.Int64("user_id", userID), zap.String("from", from), zap.String("to", to), zap.Float64("amount", amount))
	}()

	if !validAmount(amount) {
		return nil, domain.ErrInvalidAmount
	}
	route, err := routeFor(from, to)
	if err != nil {
		return nil, err
	}

	var (
		trader    *domain.User
		planned   *plan
		committed time.Time
	)
	err = storage.RunInTx(ctx, s.ledger, func(ctx context.Context, tx storage.Tx) error {
		var err error
		trader, planned, err = s.execute(ctx, tx, userID, route, from, to, amount)
		committed = s.now()
		if err != nil {
			return err
		}
		return tx.InsertExchange(ctx, &domain.ExchangeTransaction{
			UserID:     trader.ID,
			FromSymbol: from,
			ToSymbol:   to,
			FromAmount: amount,
			ToAmount:   planned.received,
			Price:      planned.price,
			Commission: planned.commission,
			Timestamp:  committed,
		})
	})
	if err != nil {
		return nil, err
	}

	res = &Result{
		TradeID:     idhash.ComputeTradeID(trader.PublicID, from, to, amount, committed.UnixNano()),
		Route:       route,
		FromSymbol:  from,
		ToSymbol:    to,
		FromAmount:  amount,
		Received:    planned.received,
		Price:       planned.price,
		PriceImpact: planned.impact,
		Commission:  planned.commission,
		Message:     planned.message(from, to),
	}

	s.record(planned)
	s.publish(ctx, &domain.Trade{
		TradeID:     res.TradeID,
		UserID:      trader.PublicID,
		Route:       route,
		FromSymbol:  from,
		ToSymbol:    to,
		FromAmount:  amount,
		ToAmount:    res.Received,
		Price:       res.Price,
		Commission:  res.Commission,
		PriceImpact: res.PriceImpact,
		Timestamp:   committed,
	})
	return res, nil
}

// Quote prices a trade without executing it. It ignores balances.
func (s *Service) Quote(ctx context.Context, from, to string, amount float64) (*Result, error) {
	if !validAmount(amount) {
		return nil, domain.ErrInvalidAmount
	}
	route, err := routeFor(from, to)
	if err != nil {
		return nil, err
	}

	var fromCur, toCur *domain.Currency
	if from != domain.BaseSymbol {
		if fromCur, err = s.currency(ctx, s.ledger, from); err != nil {
			return nil, err
		}
	}
	if to != domain.BaseSymbol {
		if toCur, err = s.currency(ctx, s.ledger, to); err != nil {
			return nil, err
		}
	}

	p, err := planTrade(route, fromCur, toCur, amount)
	if err != nil {
		return nil, err
	}
	return &Result{
		Route:       route,
		FromSymbol:  from,
		ToSymbol:    to,
		FromAmount:  amount,
		Received:    p.received,
		Price:       p.price,
		PriceImpact: p.impact,
		Commission:  p.commission,
		Message: fmt.Sprintf("%s %s = %s %s",
			domain.FormatAmount(amount, 4), from, domain.FormatAmount(p.received, 4), to),
	}, nil
}

// execute locks the rows the trade depends on, plans it and stages every
// balance and reserve change. Locks are taken currencies first (by symbol),
// then the trader, then the debited wallet. Credits come last.
func (s *Service) execute(ctx context.Context, tx storage.Tx, userID int64, route, from, to string, amount float64) (*domain.User, *plan, error) {
	pools, err := s.lockPools(ctx, tx, from, to)
	if err != nil {
		return nil, nil, err
	}
	fromCur, toCur := pools[from], pools[to]

	var trader *domain.User
	if route == domain.RouteBuy {
		trader, err = tx.LockUser(ctx, userID)
	} else {
		trader, err = tx.UserByID(ctx, userID)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get trader: %w", err)
	}

	var wallet *domain.Wallet
	if route == domain.RouteBuy {
		if trader.Balance < amount {
			return nil, nil, domain.ErrInsufficientFunds
		}
	} else {
		wallet, err = tx.LockWallet(ctx, trader.ID, fromCur.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, domain.ErrInsufficientFunds
		}
		if err != nil {
			return nil, nil, fmt.Errorf("lock wallet: %w", err)
		}
		if wallet.Balance < amount {
			return nil, nil, domain.ErrInsufficientFunds
		}
	}

	p, err := planTrade(route, fromCur, toCur, amount)
	if err != nil {
		return nil, nil, err
	}

	// Updates.
	if route == domain.RouteBuy {
		trader.Balance -= amount
		if err := tx.UpdateUser(ctx, trader); err != nil {
			return nil, nil, fmt.Errorf("debit trader: %w", err)
		}
	} else {
		wallet.Balance -= amount
		if err := tx.UpdateWallet(ctx, wallet); err != nil {
			return nil, nil, fmt.Errorf("debit wallet: %w", err)
		}
	}
	if fromCur != nil {
		if err := tx.UpdateCurrency(ctx, pricing.Apply(fromCur, p.sell)); err != nil {
			return nil, nil, fmt.Errorf("update %s reserves: %w", from, err)
		}
	}
	if toCur != nil {
		if err := tx.UpdateCurrency(ctx, pricing.Apply(toCur, p.buy)); err != nil {
			return nil, nil, fmt.Errorf("update %s reserves: %w", to, err)
		}
	}

	// Credits.
	if toCur != nil {
		if err := tx.CreditWallet(ctx, trader.ID, toCur.ID, p.buy.AmountOut); err != nil {
			return nil, nil, fmt.Errorf("credit %s wallet: %w", to, err)
		}
		if err := tx.CreditUser(ctx, toCur.CreatorID, p.buy.Commission); err != nil {
			return nil, nil, fmt.Errorf("credit %s creator: %w", to, err)
		}
	} else {
		if err := tx.CreditUser(ctx, trader.ID, p.sell.AmountOut); err != nil {
			return nil, nil, fmt.Errorf("credit trader: %w", err)
		}
	}
	if fromCur != nil {
		if err := tx.CreditWallet(ctx, fromCur.CreatorID, fromCur.ID, p.sell.Commission); err != nil {
			return nil, nil, fmt.Errorf("credit %s creator: %w", from, err)
		}
	}

	return trader, p, nil
}

// lockPools locks the non-BASE currencies of a pair in symbol order.
func (s *Service) lockPools(ctx context.Context, tx storage.Tx, symbols ...string) (map[string]*domain.Currency, error) {
	var toLock []string
	for _, sym := range symbols {
		if sym != domain.BaseSymbol {
			toLock = append(toLock, sym)
		}
	}
	sort.Strings(toLock)

	pools := make(map[string]*domain.Currency, len(toLock))
	for _, sym := range toLock {
		c, err := s.currency(ctx, lockReader{tx}, sym)
		if err != nil {
			return nil, err
		}
		pools[sym] = c
	}
	return pools, nil
}

// currencyReader is satisfied by both the ledger and a locking adapter.
type currencyReader interface {
	CurrencyBySymbol(ctx context.Context, symbol string) (*domain.Currency, error)
}

type lockReader struct {
	tx storage.Tx
}

func (r lockReader) CurrencyBySymbol(ctx context.Context, symbol string) (*domain.Currency, error) {
	return r.tx.LockCurrency(ctx, symbol)
}

// currency loads a tradable currency.
func (s *Service) currency(ctx context.Context, r currencyReader, symbol string) (*domain.Currency, error) {
	c, err := r.CurrencyBySymbol(ctx, symbol)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrCurrencyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get currency %s: %w", symbol, err)
	}
	if !c.IsActive {
		return nil, domain.ErrCurrencyInactive
	}
	return c, nil
}

func (s *Service) record(p *plan) {
	observability.RecordTrade(p.route, p.impact)
	if p.route != domain.RouteSell {
		observability.RecordCommission("base", p.buy.Commission)
	}
	if p.route != domain.RouteBuy {
		observability.RecordCommission("token", p.sell.Commission)
	}
}

// publish hands a committed trade to every sink. Failures are logged only.
func (s *Service) publish(ctx context.Context, trade *domain.Trade) {
	ctx = context.WithoutCancel(ctx)
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, trade); err != nil {
			s.logger.Warn("publish trade",
				zap.String("trade_id", trade.TradeID), zap.Error(err))
		}
	}
}
