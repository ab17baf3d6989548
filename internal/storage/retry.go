package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"amm-ledger/internal/observability"
)

// MaxConflictRetries bounds how often RunInTx re-runs a unit of work that
// lost a race.
const MaxConflictRetries = 8

// RunInTx runs fn in one unit of work on l. A unit that fails with
// ErrConflict had no effect and is run again from scratch with a short
// exponential backoff; any other error is returned unchanged.
func RunInTx(ctx context.Context, l Ledger, fn func(ctx context.Context, tx Tx) error) error {
	op := func() error {
		err := l.InTx(ctx, fn)
		if err == nil || errors.Is(err, ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0

	notify := func(error, time.Duration) {
		observability.RecordConflict(storeName(l))
	}

	return backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(b, MaxConflictRetries), ctx),
		notify,
	)
}

// Named is implemented by ledgers that report a store name for metrics.
type Named interface {
	Name() string
}

func storeName(l Ledger) string {
	if n, ok := l.(Named); ok {
		return n.Name()
	}
	return "unknown"
}
