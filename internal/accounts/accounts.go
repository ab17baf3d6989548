// Package accounts registers users and seeds the system account.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/idhash"
	"amm-ledger/internal/observability"
	"amm-ledger/internal/storage"
)

// Service manages user accounts.
type Service struct {
	ledger      storage.Ledger
	logger      *zap.Logger
	now         func() time.Time
	newPublicID func() (string, error)
}

// Options for creating Service.
type Options struct {
	Ledger storage.Ledger
	Logger *zap.Logger
	Now    func() time.Time

	// NewPublicID overrides public id generation, mainly for tests.
	NewPublicID func() (string, error)
}

// New creates a new Service.
func New(opts Options) *Service {
	s := &Service{
		ledger:      opts.Ledger,
		logger:      opts.Logger,
		now:         opts.Now,
		newPublicID: opts.NewPublicID,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newPublicID == nil {
		s.newPublicID = idhash.NewPublicID
	}
	return s
}

// Register creates a user with a zero balance and a fresh public id.
func (s *Service) Register(ctx context.Context, username, email string) (user *domain.User, err error) {
	start := time.Now()
	defer func() {
		observability.Observe(s.logger, "register", start, err, zap.String("username", username))
	}()

	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" {
		return nil, domain.ErrInvalidUser
	}

	publicID, err := s.newPublicID()
	if err != nil {
		return nil, fmt.Errorf("generate public id: %w", err)
	}

	err = storage.RunInTx(ctx, s.ledger, func(ctx context.Context, tx storage.Tx) error {
		u := &domain.User{
			PublicID:  publicID,
			Username:  username,
			Email:     email,
			CreatedAt: s.now(),
		}
		if err := tx.InsertUser(ctx, u); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return domain.ErrUserExists
			}
			return fmt.Errorf("insert user: %w", err)
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// EnsureSystemAccount creates the system account with seedBalance unless it
// already exists. Returns the account either way.
func (s *Service) EnsureSystemAccount(ctx context.Context, seedBalance float64) (*domain.User, error) {
	var system *domain.User
	err := storage.RunInTx(ctx, s.ledger, func(ctx context.Context, tx storage.Tx) error {
		existing, err := tx.UserByPublicID(ctx, domain.SystemPublicID)
		if err == nil {
			system = existing
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("get system account: %w", err)
		}

		u := &domain.User{
			PublicID:  domain.SystemPublicID,
			Username:  domain.SystemUsername,
			Email:     domain.SystemEmail,
			Balance:   seedBalance,
			CreatedAt: s.now(),
		}
		if err := tx.InsertUser(ctx, u); err != nil {
			return fmt.Errorf("insert system account: %w", err)
		}
		system = u
		s.logger.Info("system account created", zap.Float64("balance", seedBalance))
		return nil
	})
	if errors.Is(err, storage.ErrDuplicateKey) {
		// Seeded concurrently by another process.
		return s.ledger.UserByPublicID(ctx, domain.SystemPublicID)
	}
	if err != nil {
		return nil, err
	}
	return system, nil
}

// RecordLogin stamps the user's last login time.
func (s *Service) RecordLogin(ctx context.Context, userID int64) error {
	return storage.RunInTx(ctx, s.ledger, func(ctx context.Context, tx storage.Tx) error {
		u, err := tx.LockUser(ctx, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return domain.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}

		now := s.now()
		u.LastLogin = &now
		if err := tx.UpdateUser(ctx, u); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		return nil
	})
}
