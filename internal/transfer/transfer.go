// Package transfer moves value between users with a flat commission.
//
// A BASE transfer debits the sender, credits the recipient with the amount
// net of commission and credits the system account with the commission,
// logging a transaction for each of the three. A token transfer moves
// wallet balances instead: the currency's creator receives the commission
// in tokens and the system account receives its BASE value at the current
// spot price. Only the sender's debit is logged for token transfers.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/observability"
	"amm-ledger/internal/storage"
)

// Result describes a committed transfer.
type Result struct {
	Symbol     string
	Amount     float64 // debited from the sender
	NetAmount  float64 // delivered to the recipient
	Commission float64 // in Symbol units
	Recipient  string  // recipient username
	Message    string
}

// Service executes transfers.
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

// Transfer sends amount of symbol from senderID to the user whose username
// or public id is recipientIdentifier. An empty symbol means BASE.
func (s *Service) Transfer(ctx context.Context, senderID int64, recipientIdentifier string, amount float64, symbol string) (res *Result, err error) {
	start := time.Now()
	defer func() {
		observability.Observe(s.logger, "transfer", start, err,
			zap.Int64("sender_id", senderID), zap.String("symbol", symbol), zap.Float64("amount", amount))
	}()

	if symbol == "" {
		symbol = domain.BaseSymbol
	}
	if !(amount > 0) || math.IsInf(amount, 0) {
		return nil, domain.ErrInvalidAmount
	}

	err = storage.RunInTx(ctx, s.ledger, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if symbol == domain.BaseSymbol {
			res, err = s.transferBase(ctx, tx, senderID, recipientIdentifier, amount)
		} else {
			res, err = s.transferToken(ctx, tx, senderID, recipientIdentifier, amount, symbol)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if symbol == domain.BaseSymbol {
		observability.RecordCommission("base", res.Commission)
	} else {
		observability.RecordCommission("token", res.Commission)
	}
	return res, nil
}

func (s *Service) transferBase(ctx context.Context, tx storage.Tx, senderID int64, recipientIdentifier string, amount float64) (*Result, error) {
	sender, err := tx.LockUser(ctx, senderID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrSenderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock sender: %w", err)
	}
	if sender.Balance < amount {
		return nil, domain.ErrInsufficientFunds
	}

	recipient, system, err := s.parties(ctx, tx, sender, recipientIdentifier)
	if err != nil {
		return nil, err
	}

	commission := amount * domain.TransferCommission
	net := amount - commission

	sender.Balance -= amount
	if err := tx.UpdateUser(ctx, sender); err != nil {
		return nil, fmt.Errorf("update sender: %w", err)
	}
	if err := tx.CreditUser(ctx, recipient.ID, net); err != nil {
		return nil, fmt.Errorf("credit recipient: %w", err)
	}
	if err := tx.CreditUser(ctx, system.ID, commission); err != nil {
		return nil, fmt.Errorf("credit system account: %w", err)
	}

	now := s.now()
	records := []*domain.Transaction{
		{
			UserID: sender.ID, Amount: amount, Type: domain.TxDebit, Timestamp: now,
			Description: fmt.Sprintf("Transfer %s to %s (commission: %s %s)",
				domain.BaseSymbol, recipient.Username, domain.FormatAmount(commission, 2), domain.BaseSymbol),
		},
		{
			UserID: recipient.ID, Amount: net, Type: domain.TxCredit, Timestamp: now,
			Description: fmt.Sprintf("Transfer %s from %s", domain.BaseSymbol, sender.Username),
		},
		{
			UserID: system.ID, Amount: commission, Type: domain.TxCredit, Timestamp: now,
			Description: fmt.Sprintf("Commission from %s transfer", domain.BaseSymbol),
		},
	}
	for _, r := range records {
		if err := tx.InsertTransaction(ctx, r); err != nil {
			return nil, fmt.Errorf("insert transaction: %w", err)
		}
	}

	return &Result{
		Symbol:     domain.BaseSymbol,
		Amount:     amount,
		NetAmount:  net,
		Commission: commission,
		Recipient:  recipient.Username,
		Message: fmt.Sprintf("Transferred %s %s to %s",
			domain.FormatAmount(net, 2), domain.BaseSymbol, recipient.Username),
	}, nil
}

func (s *Service) transferToken(ctx context.Context, tx storage.Tx, senderID int64, recipientIdentifier string, amount float64, symbol string) (*Result, error) {
	sender, err := tx.UserByID(ctx, senderID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrSenderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sender: %w", err)
	}

	currency, err := tx.CurrencyBySymbol(ctx, symbol)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrCurrencyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get currency: %w", err)
	}

	wallet, err := tx.LockWallet(ctx, sender.ID, currency.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrInsufficientFunds
	}
	if err != nil {
		return nil, fmt.Errorf("lock sender wallet: %w", err)
	}
	if wallet.Balance < amount {
		return nil, domain.ErrInsufficientFunds
	}

	recipient, system, err := s.parties(ctx, tx, sender, recipientIdentifier)
	if err != nil {
		return nil, err
	}

	commission := amount * domain.TransferCommission
	net := amount - commission

	wallet.Balance -= amount
	if err := tx.UpdateWallet(ctx, wallet); err != nil {
		return nil, fmt.Errorf("update sender wallet: %w", err)
	}
	if err := tx.CreditWallet(ctx, recipient.ID, currency.ID, net); err != nil {
		return nil, fmt.Errorf("credit recipient wallet: %w", err)
	}
	if err := tx.CreditWallet(ctx, currency.CreatorID, currency.ID, commission); err != nil {
		return nil, fmt.Errorf("credit creator wallet: %w", err)
	}
	if err := tx.CreditUser(ctx, system.ID, commission*currency.CurrentPrice()); err != nil {
		return nil, fmt.Errorf("credit system account: %w", err)
	}

	err = tx.InsertTransaction(ctx, &domain.Transaction{
		UserID:      sender.ID,
		Amount:      amount,
		Type:        domain.TxDebit,
		Description: fmt.Sprintf("Transfer %s to %s", symbol, recipient.Username),
		Timestamp:   s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	return &Result{
		Symbol:     symbol,
		Amount:     amount,
		NetAmount:  net,
		Commission: commission,
		Recipient:  recipient.Username,
		Message: fmt.Sprintf("Transferred %s %s to %s",
			domain.FormatAmount(net, 4), symbol, recipient.Username),
	}, nil
}

// parties resolves the recipient and the system account.
func (s *Service) parties(ctx context.Context, tx storage.Tx, sender *domain.User, recipientIdentifier string) (recipient, system *domain.User, err error) {
	recipient, err = tx.UserByIdentifier(ctx, recipientIdentifier)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, domain.ErrRecipientNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get recipient: %w", err)
	}
	if recipient.ID == sender.ID {
		return nil, nil, domain.ErrSelfTransfer
	}

	system, err = tx.UserByPublicID(ctx, domain.SystemPublicID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, domain.ErrSystemAccountMissing
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get system account: %w", err)
	}
	return recipient, system, nil
}
