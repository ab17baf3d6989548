// Package queries serves read-only views of the ledger: prices, currency
// listings, balances, trade limits and history.
package queries

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/pricing"
	"amm-ledger/internal/storage"
)

// CurrencyInfo is one entry of the currency list.
type CurrencyInfo struct {
	Name   string
	Symbol string
}

// CurrencyDetails describes one currency's pool.
type CurrencyDetails struct {
	Name           string
	Symbol         string
	CommissionRate float64
	CurrentPrice   float64
	TotalSupply    *float64 // nil means unbounded
	Liquidity      float64
	ReserveBase    float64
	ReserveToken   float64
	Volume24h      float64 // 0 without a trade archive
	Trades24h      int64
}

// Limit is the largest trade that stays within the price impact cap.
type Limit struct {
	MaxAmount      float64
	CurrentPrice   float64
	EstimatedPrice float64 // spot price after a MaxAmount trade
	UserBalance    float64 // BASE for buys, tokens for sells
	AffordableMax  float64 // min(MaxAmount, UserBalance); buys only
}

// Service answers read-only queries.
type Service struct {
	ledger  storage.Reader
	archive storage.TradeArchive
	logger  *zap.Logger
	now     func() time.Time
}

// Options for creating Service.
type Options struct {
	Ledger storage.Reader
	Logger *zap.Logger
	Now    func() time.Time

	// Archive supplies 24h volume for currency details. Optional.
	Archive storage.TradeArchive
}

// New creates a new Service.
func New(opts Options) *Service {
	s := &Service{
		ledger:  opts.Ledger,
		archive: opts.Archive,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Price returns the spot price of symbol in BASE.
func (s *Service) Price(ctx context.Context, symbol string) (float64, error) {
	if symbol == domain.BaseSymbol {
		return 1, nil
	}
	c, err := s.currency(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return c.CurrentPrice(), nil
}

// Currencies lists BASE followed by every issued currency.
func (s *Service) Currencies(ctx context.Context) ([]CurrencyInfo, error) {
	cs, err := s.ledger.Currencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list currencies: %w", err)
	}
	out := make([]CurrencyInfo, 0, len(cs)+1)
	out = append(out, CurrencyInfo{Name: domain.BaseName, Symbol: domain.BaseSymbol})
	for _, c := range cs {
		out = append(out, CurrencyInfo{Name: c.Name, Symbol: c.Symbol})
	}
	return out, nil
}

// CurrencyDetails describes symbol's pool. BASE reports the transfer
// commission, a price of 1 and no supply bound.
func (s *Service) CurrencyDetails(ctx context.Context, symbol string) (*CurrencyDetails, error) {
	if symbol == domain.BaseSymbol {
		return &CurrencyDetails{
			Name:           domain.BaseName,
			Symbol:         domain.BaseSymbol,
			CommissionRate: domain.BaseCommissionRate,
			CurrentPrice:   1,
		}, nil
	}

	c, err := s.currency(ctx, symbol)
	if err != nil {
		return nil, err
	}
	supply := c.TotalSupply
	d := &CurrencyDetails{
		Name:           c.Name,
		Symbol:         c.Symbol,
		CommissionRate: c.CommissionRate,
		CurrentPrice:   c.CurrentPrice(),
		TotalSupply:    &supply,
		Liquidity:      c.Liquidity(),
		ReserveBase:    c.ReserveBase,
		ReserveToken:   c.ReserveToken,
	}

	if s.archive != nil {
		volumes, err := s.archive.VolumeSince(ctx, s.now().Add(-24*time.Hour))
		if err != nil {
			s.logger.Warn("load 24h volume", zap.String("symbol", symbol), zap.Error(err))
			return d, nil
		}
		for _, v := range volumes {
			if v.Symbol == symbol {
				d.Volume24h = v.Volume
				d.Trades24h = v.TradeCount
			}
		}
	}
	return d, nil
}

// BaseBalance returns userID's BASE balance.
func (s *Service) BaseBalance(ctx context.Context, userID int64) (float64, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Balance, nil
}

// WalletBalance returns userID's balance in symbol. A missing wallet is a
// zero balance.
func (s *Service) WalletBalance(ctx context.Context, userID int64, symbol string) (float64, error) {
	if symbol == domain.BaseSymbol {
		return s.BaseBalance(ctx, userID)
	}
	c, err := s.currency(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return s.walletBalance(ctx, userID, c.ID)
}

// Wallets lists userID's non-empty wallets with current prices.
func (s *Service) Wallets(ctx context.Context, userID int64) ([]domain.WalletBalance, error) {
	if _, err := s.user(ctx, userID); err != nil {
		return nil, err
	}
	ws, err := s.ledger.WalletsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	cs, err := s.ledger.Currencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list currencies: %w", err)
	}
	byID := make(map[int64]*domain.Currency, len(cs))
	for _, c := range cs {
		byID[c.ID] = c
	}

	out := make([]domain.WalletBalance, 0, len(ws))
	for _, w := range ws {
		c, ok := byID[w.CurrencyID]
		if !ok || w.Balance <= 0 {
			continue
		}
		out = append(out, domain.WalletBalance{
			Symbol:  c.Symbol,
			Name:    c.Name,
			Balance: w.Balance,
			Price:   c.CurrentPrice(),
		})
	}
	return out, nil
}

// MaxBuy returns the largest BASE amount userID can spend on symbol within
// the price impact cap.
func (s *Service) MaxBuy(ctx context.Context, userID int64, symbol string) (*Limit, error) {
	if symbol == domain.BaseSymbol {
		return nil, domain.ErrUnsupportedPair
	}
	c, err := s.currency(ctx, symbol)
	if err != nil {
		return nil, err
	}
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}

	limit := pricing.MaxBuy(c)
	return &Limit{
		MaxAmount:      limit,
		CurrentPrice:   c.CurrentPrice(),
		EstimatedPrice: c.CurrentPrice() * (1 + domain.MaxPriceImpactPercent/100),
		UserBalance:    u.Balance,
		AffordableMax:  math.Min(limit, u.Balance),
	}, nil
}

// MaxSell returns the largest amount of symbol userID can sell within the
// price impact cap.
func (s *Service) MaxSell(ctx context.Context, userID int64, symbol string) (*Limit, error) {
	if symbol == domain.BaseSymbol {
		return nil, domain.ErrUnsupportedPair
	}
	c, err := s.currency(ctx, symbol)
	if err != nil {
		return nil, err
	}
	balance, err := s.walletBalance(ctx, userID, c.ID)
	if err != nil {
		return nil, err
	}

	limit := pricing.MaxSell(c, balance)
	return &Limit{
		MaxAmount:      limit,
		CurrentPrice:   c.CurrentPrice(),
		EstimatedPrice: c.CurrentPrice() * (1 - domain.MaxPriceImpactPercent/100),
		UserBalance:    balance,
		AffordableMax:  limit,
	}, nil
}

// History returns userID's most recent transactions and exchanges, newest
// first. A non-positive limit means domain.DefaultHistoryLimit.
func (s *Service) History(ctx context.Context, userID int64, limit int) (*domain.History, error) {
	if limit <= 0 {
		limit = domain.DefaultHistoryLimit
	}
	if _, err := s.user(ctx, userID); err != nil {
		return nil, err
	}

	txs, err := s.ledger.RecentTransactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent transactions: %w", err)
	}
	exs, err := s.ledger.RecentExchanges(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent exchanges: %w", err)
	}
	return &domain.History{Transactions: txs, Exchanges: exs}, nil
}

func (s *Service) currency(ctx context.Context, symbol string) (*domain.Currency, error) {
	c, err := s.ledger.CurrencyBySymbol(ctx, symbol)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrCurrencyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get currency %s: %w", symbol, err)
	}
	return c, nil
}

func (s *Service) user(ctx context.Context, userID int64) (*domain.User, error) {
	u, err := s.ledger.UserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *Service) walletBalance(ctx context.Context, userID, currencyID int64) (float64, error) {
	w, err := s.ledger.Wallet(ctx, userID, currencyID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get wallet: %w", err)
	}
	return w.Balance, nil
}
