// Package engagement pays small daily BASE rewards for watched ads.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/observability"
	"amm-ledger/internal/storage"
)

// Status is a user's claim state for today.
type Status struct {
	Eligible    bool
	ClaimsToday int
	Remaining   int
}

// Reward describes a paid claim.
type Reward struct {
	Amount      float64
	Balance     float64 // user's BASE balance after the reward
	ClaimNumber int     // 1-based count for today
	Message     string
}

// Eligibility applies the daily limit rule to u at now. needsReset is
// true when u's last claim was on an earlier day, in which case the
// stored counter is stale and must be zeroed.
func Eligibility(u *domain.User, now time.Time) (eligible, needsReset bool) {
	needsReset = !sameDay(u.LastAdWatch, now)
	eligible = needsReset || u.AdCountToday < domain.DailyClaimLimit
	return eligible, needsReset
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	ay, am, ad := a.In(b.Location()).Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Service grants rewards.
type Service struct {
	ledger storage.Ledger
	logger *zap.Logger
	now    func() time.Time
	rand   func() float64
}

// Options for creating Service.
type Options struct {
	Ledger storage.Ledger
	Logger *zap.Logger
	Now    func() time.Time

	// Rand returns a uniform value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// New creates a new Service.
func New(opts Options) *Service {
	s := &Service{ledger: opts.Ledger, logger: opts.Logger, now: opts.Now, rand: opts.Rand}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rand == nil {
		s.rand = rand.Float64
	}
	return s
}

// CanClaim reports whether userID may claim now. If the user's counter
// belongs to an earlier day it is zeroed and written back.
func (s *Service) CanClaim(ctx context.Context, userID int64) (bool, error) {
	var eligible bool
	err := storage.RunInTx(ctx, s.ledger, func(ctx context.Context, tx storage.Tx) error {
		u, err := s.lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		var reset bool
		if eligible, reset, err = s.reset(ctx, tx, u); err != nil {
			return err
		}
		if reset {
			s.logger.Debug("daily claim counter reset", zap.Int64("user_id", userID))
		}
		return nil
	})
	return eligible, err
}

// Status reports today's claim state without writing anything.
func (s *Service) Status(ctx context.Context, userID int64) (*Status, error) {
	u, err := s.ledger.UserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	eligible, needsReset := Eligibility(u, s.now())
	count := u.AdCountToday
	if needsReset {
		count = 0
	}
	return &Status{
		Eligible:    eligible,
		ClaimsToday: count,
		Remaining:   max(0, domain.DailyClaimLimit-count),
	}, nil
}

// Claim pays a reward in [MinClaimReward, MaxClaimReward] rounded to
// cents, unless the daily limit is reached.
func (s *Service) Claim(ctx context.Context, userID int64) (reward *Reward, err error) {
	start := time.Now()
	defer func() {
		observability.Observe(s.logger, "claim", start, err, zap.Int64("user_id", userID))
	}()

	amount := s.rollReward()
	err = storage.RunInTx(ctx, s.ledger, func(ctx context.Context, tx storage.Tx) error {
		u, err := s.lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		eligible, _, err := s.reset(ctx, tx, u)
		if err != nil {
			return err
		}
		if !eligible {
			return domain.ErrDailyLimitReached
		}

		now := s.now()
		u.Balance += amount
		u.AdCountToday++
		u.LastAdWatch = now
		if err := tx.UpdateUser(ctx, u); err != nil {
			return fmt.Errorf("update user: %w", err)
		}

		err = tx.InsertTransaction(ctx, &domain.Transaction{
			UserID:      u.ID,
			Amount:      amount,
			Type:        domain.TxCredit,
			Description: fmt.Sprintf("Ad reward #%d", u.AdCountToday),
			Timestamp:   now,
		})
		if err != nil {
			return fmt.Errorf("insert reward transaction: %w", err)
		}

		reward = &Reward{
			Amount:      amount,
			Balance:     u.Balance,
			ClaimNumber: u.AdCountToday,
			Message:     fmt.Sprintf("Earned %s %s", domain.FormatAmount(amount, 2), domain.BaseSymbol),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordClaim(amount)
	return reward, nil
}

// reset zeroes a stale daily counter on the locked user u and reports
// whether u may claim.
func (s *Service) reset(ctx context.Context, tx storage.Tx, u *domain.User) (eligible, reset bool, err error) {
	eligible, reset = Eligibility(u, s.now())
	if !reset || u.AdCountToday == 0 {
		return eligible, reset, nil
	}
	u.AdCountToday = 0
	if err := tx.UpdateUser(ctx, u); err != nil {
		return false, false, fmt.Errorf("reset daily counter: %w", err)
	}
	return eligible, reset, nil
}

func (s *Service) lockUser(ctx context.Context, tx storage.Tx, userID int64) (*domain.User, error) {
	u, err := tx.LockUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}
	return u, nil
}

func (s *Service) rollReward() float64 {
	r := domain.MinClaimReward + s.rand()*(domain.MaxClaimReward-domain.MinClaimReward)
	return decimal.NewFromFloat(r).Round(2).InexactFloat64()
}
