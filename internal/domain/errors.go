package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Validation failures: the request itself is malformed or refers to
// something that does not exist.
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrSelfTransfer      = errors.New("cannot transfer to yourself")
	ErrSameCurrency      = errors.New("cannot exchange currency to itself")
	ErrUserNotFound      = errors.New("user not found")
	ErrSenderNotFound    = errors.New("sender not found")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrCurrencyNotFound  = errors.New("currency not found")
	ErrCurrencyExists    = errors.New("currency name or symbol already exists")
	ErrInvalidCommission = errors.New("commission rate must be between 0.5% and 25%")
	ErrInvalidCurrency   = errors.New("invalid currency name or symbol")
	ErrCurrencyInactive  = errors.New("currency is not active")
	ErrUnsupportedPair   = errors.New("unsupported currency pair")
	ErrUserExists        = errors.New("username or email already exists")
	ErrInvalidUser       = errors.New("username and email are required")
)

// Economic failures: the request is well formed but the ledger state
// does not allow it.
var (
	ErrInsufficientFunds   = errors.New("insufficient balance")
	ErrPriceImpactExceeded = errors.New("price impact too high")
	ErrIlliquid            = errors.New("insufficient liquidity")
	ErrDailyLimitReached   = errors.New("daily ad limit reached")
)

// ErrSystemAccountMissing means the ledger was never seeded.
var ErrSystemAccountMissing = errors.New("system account missing")

// ErrorKind classifies a failure for callers.
type ErrorKind string

// Error kinds.
const (
	KindValidation ErrorKind = "validation"
	KindEconomic   ErrorKind = "economic"
	KindInternal   ErrorKind = "internal"
)

var validationErrors = []error{
	ErrInvalidAmount, ErrSelfTransfer, ErrSameCurrency, ErrUserNotFound,
	ErrSenderNotFound, ErrRecipientNotFound, ErrCurrencyNotFound, ErrCurrencyExists,
	ErrInvalidCommission, ErrInvalidCurrency, ErrCurrencyInactive, ErrUnsupportedPair,
	ErrUserExists, ErrInvalidUser,
}

var economicErrors = []error{
	ErrInsufficientFunds, ErrPriceImpactExceeded, ErrIlliquid, ErrDailyLimitReached,
}

// Kind returns the kind of err. Unknown errors are internal.
func Kind(err error) ErrorKind {
	for _, e := range validationErrors {
		if errors.Is(err, e) {
			return KindValidation
		}
	}
	for _, e := range economicErrors {
		if errors.Is(err, e) {
			return KindEconomic
		}
	}
	return KindInternal
}

// PriceImpactError carries the rejected impact in percent.
type PriceImpactError struct {
	Percent float64
}

func (e *PriceImpactError) Error() string {
	return fmt.Sprintf("price impact too high (%.1f%%), try smaller amount", e.Percent)
}

// Unwrap lets errors.Is match ErrPriceImpactExceeded.
func (e *PriceImpactError) Unwrap() error {
	return ErrPriceImpactExceeded
}

// Message returns the user-facing text for err. Internal failures are
// reported generically.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if Kind(err) == KindInternal {
		return "operation failed"
	}
	var pie *PriceImpactError
	if errors.As(err, &pie) {
		return fmt.Sprintf("Price impact too high (%.1f%%). Try smaller amount.", pie.Percent)
	}
	for _, group := range [][]error{validationErrors, economicErrors} {
		for _, e := range group {
			if errors.Is(err, e) {
				msg := e.Error()
				return strings.ToUpper(msg[:1]) + msg[1:]
			}
		}
	}
	return "operation failed"
}
