// Package issuance creates user-issued currencies and seeds their pools.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/observability"
	"amm-ledger/internal/storage"
)

// Service issues currencies.
type Service struct {
	ledger storage.Ledger
	logger *zap.Logger
	now    func() time.Time
}

// Options for creating Service.
type Options struct {
	Ledger storage.Ledger
	Logger *zap.Logger
	Now    func() time.Time
}

// New creates a new Service.
func New(opts Options) *Service {
	s := &Service{ledger: opts.Ledger, logger: opts.Logger, now: opts.Now}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateCurrency issues a new currency on behalf of userID.
//
// The creator pays domain.IssuanceFee BASE. The pool starts at
// (InitialReserveBase, InitialReserveToken) and the creator's wallet is
// seeded with InitialCreatorBalance tokens. commissionPercent is the pool's
// trade commission in percent and must lie in [0.5, 25].
func (s *Service) CreateCurrency(ctx context.Context, userID int64, name, symbol string, commissionPercent float64) (currency *domain.Currency, err error) {
	start := time.Now()
	defer func() {
		observability.Observe(s.logger, "create_currency", start, err,
			zap.Int64("user_id", userID), zap.String("symbol", symbol))
	}()

	name = strings.TrimSpace(name)
	symbol = strings.TrimSpace(symbol)
	if err := validate(name, symbol, commissionPercent); err != nil {
		return nil, err
	}

	err = storage.RunInTx(ctx, s.ledger, func(ctx context.Context, tx storage.Tx) error {
		user, err := tx.LockUser(ctx, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return domain.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		if user.Balance < domain.IssuanceFee {
			return domain.ErrInsufficientFunds
		}

		now := s.now()
		c := &domain.Currency{
			Name:           name,
			Symbol:         symbol,
			CreatorID:      user.ID,
			TotalSupply:    domain.DefaultTotalSupply,
			ReserveBase:    domain.InitialReserveBase,
			ReserveToken:   domain.InitialReserveToken,
			CommissionRate: commissionPercent / 100,
			IsActive:       true,
			CreatedAt:      now,
		}
		if err := tx.InsertCurrency(ctx, c); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return domain.ErrCurrencyExists
			}
			return fmt.Errorf("insert currency: %w", err)
		}

		user.Balance -= domain.IssuanceFee
		if err := tx.UpdateUser(ctx, user); err != nil {
			return fmt.Errorf("update creator: %w", err)
		}
		if err := tx.CreditWallet(ctx, user.ID, c.ID, domain.InitialCreatorBalance); err != nil {
			return fmt.Errorf("seed creator wallet: %w", err)
		}

		err = tx.InsertTransaction(ctx, &domain.Transaction{
			UserID:      user.ID,
			Amount:      domain.IssuanceFee,
			Type:        domain.TxDebit,
			Description: "Fee for creating currency " + name,
			Timestamp:   now,
		})
		if err != nil {
			return fmt.Errorf("insert fee transaction: %w", err)
		}

		currency = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordCurrencyCreated()
	return currency, nil
}

func validate(name, symbol string, commissionPercent float64) error {
	if name == "" || symbol == "" ||
		len(name) > domain.MaxCurrencyNameLength ||
		len(symbol) > domain.MaxCurrencySymbolLength ||
		strings.EqualFold(symbol, domain.BaseSymbol) {
		return domain.ErrInvalidCurrency
	}
	if math.IsNaN(commissionPercent) ||
		commissionPercent < domain.MinCommissionPercent ||
		commissionPercent > domain.MaxCommissionPercent {
		return domain.ErrInvalidCommission
	}
	return nil
}
