package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/storage/memory"
)

func newTestService(l *memory.Ledger) *Service {
	return New(Options{
		Ledger: l,
		Now:    func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) },
	})
}

func TestRegister(t *testing.T) {
	l := memory.NewLedger()
	svc := newTestService(l)
	ctx := context.Background()

	u, err := svc.Register(ctx, "  alice ", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Len(t, u.PublicID, domain.PublicIDLength)
	assert.Zero(t, u.Balance)

	stored, err := l.UserByIdentifier(ctx, u.PublicID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, stored.ID)

	_, err = svc.Register(ctx, "alice", "other@example.com")
	assert.ErrorIs(t, err, domain.ErrUserExists)

	_, err = svc.Register(ctx, "bob", "alice@example.com")
	assert.ErrorIs(t, err, domain.ErrUserExists)

	_, err = svc.Register(ctx, "", "x@example.com")
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
}

func TestEnsureSystemAccount_Idempotent(t *testing.T) {
	l := memory.NewLedger()
	svc := newTestService(l)
	ctx := context.Background()

	first, err := svc.EnsureSystemAccount(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, domain.SystemPublicID, first.PublicID)
	assert.Equal(t, 1000.0, first.Balance)
	assert.True(t, first.IsSystem())

	second, err := svc.EnsureSystemAccount(ctx, 5000)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1000.0, second.Balance)
}

func TestRecordLogin(t *testing.T) {
	l := memory.NewLedger()
	svc := newTestService(l)
	ctx := context.Background()

	u, err := svc.Register(ctx, "carol", "carol@example.com")
	require.NoError(t, err)
	require.Nil(t, u.LastLogin)

	require.NoError(t, svc.RecordLogin(ctx, u.ID))

	stored, err := l.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLogin)
	assert.Equal(t, 2024, stored.LastLogin.Year())

	assert.ErrorIs(t, svc.RecordLogin(ctx, 999), domain.ErrUserNotFound)
}
