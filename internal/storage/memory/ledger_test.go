package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/storage"
)

func seedUser(t *testing.T, l *Ledger, username string, balance float64) *domain.User {
	t.Helper()
	u := &domain.User{
		PublicID:  username + "-public-id",
		Username:  username,
		Email:     username + "@example.com",
		Balance:   balance,
		CreatedAt: time.Now(),
	}
	err := l.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertUser(ctx, u)
	})
	if err != nil {
		t.Fatalf("InsertUser failed: %v", err)
	}
	return u
}

func seedCurrency(t *testing.T, l *Ledger, creatorID int64, symbol string) *domain.Currency {
	t.Helper()
	c := &domain.Currency{
		Name:           symbol + " coin",
		Symbol:         symbol,
		CreatorID:      creatorID,
		TotalSupply:    domain.DefaultTotalSupply,
		ReserveBase:    domain.InitialReserveBase,
		ReserveToken:   domain.InitialReserveToken,
		CommissionRate: 0.02,
		IsActive:       true,
	}
	err := l.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertCurrency(ctx, c); err != nil {
			return err
		}
		return tx.CreditWallet(ctx, creatorID, c.ID, domain.InitialCreatorBalance)
	})
	if err != nil {
		t.Fatalf("InsertCurrency failed: %v", err)
	}
	return c
}

func TestLedger_InsertAndRead(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	alice := seedUser(t, l, "alice", 50)
	if alice.ID == 0 {
		t.Fatal("expected ID to be assigned")
	}

	byID, err := l.UserByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("UserByID failed: %v", err)
	}
	if byID.Balance != 50 || byID.Version != 1 {
		t.Errorf("unexpected user: %+v", byID)
	}

	byIdent, err := l.UserByIdentifier(ctx, "alice-public-id")
	if err != nil || byIdent.ID != alice.ID {
		t.Errorf("UserByIdentifier(public id) = %v, %v", byIdent, err)
	}
	byIdent, err = l.UserByIdentifier(ctx, "alice")
	if err != nil || byIdent.ID != alice.ID {
		t.Errorf("UserByIdentifier(username) = %v, %v", byIdent, err)
	}

	if _, err := l.UserByIdentifier(ctx, "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Returned rows are copies
	byID.Balance = 1e9
	again, _ := l.UserByID(ctx, alice.ID)
	if again.Balance != 50 {
		t.Errorf("store mutated through returned pointer: %f", again.Balance)
	}
}

func TestLedger_DuplicateKeys(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	alice := seedUser(t, l, "alice", 0)
	seedCurrency(t, l, alice.ID, "ALP")

	err := l.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertUser(ctx, &domain.User{PublicID: "other", Username: "alice"})
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey for username, got %v", err)
	}

	err = l.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertCurrency(ctx, &domain.Currency{Name: "ALP coin", Symbol: "NEW"})
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey for currency name, got %v", err)
	}
}

func TestLedger_RollbackOnError(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	alice := seedUser(t, l, "alice", 100)
	boom := errors.New("boom")

	err := l.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		u, err := tx.LockUser(ctx, alice.ID)
		if err != nil {
			return err
		}
		u.Balance -= 60
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &domain.Transaction{UserID: alice.ID, Amount: 60, Type: domain.TxDebit}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	u, _ := l.UserByID(ctx, alice.ID)
	if u.Balance != 100 {
		t.Errorf("balance changed after rollback: %f", u.Balance)
	}
	txs, _ := l.RecentTransactions(ctx, alice.ID, 10)
	if len(txs) != 0 {
		t.Errorf("expected no transactions after rollback, got %d", len(txs))
	}
}

func TestLedger_ReadYourWrites(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	alice := seedUser(t, l, "alice", 10)
	c := seedCurrency(t, l, alice.ID, "ALP")
	bob := seedUser(t, l, "bob", 0)

	err := l.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.CreditUser(ctx, alice.ID, 5); err != nil {
			return err
		}
		u, err := tx.UserByID(ctx, alice.ID)
		if err != nil {
			return err
		}
		if u.Balance != 15 {
			t.Errorf("expected credited balance 15 inside tx, got %f", u.Balance)
		}

		if err := tx.CreditWallet(ctx, bob.ID, c.ID, 7); err != nil {
			return err
		}
		w, err := tx.Wallet(ctx, bob.ID, c.ID)
		if err != nil {
			return err
		}
		if w.Balance != 7 {
			t.Errorf("expected staged wallet balance 7, got %f", w.Balance)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx failed: %v", err)
	}

	w, err := l.Wallet(ctx, bob.ID, c.ID)
	if err != nil {
		t.Fatalf("Wallet failed: %v", err)
	}
	if w.Balance != 7 || w.ID == 0 {
		t.Errorf("unexpected wallet after commit: %+v", w)
	}
}

func TestLedger_UpdateRequiresLock(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	alice := seedUser(t, l, "alice", 10)

	err := l.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		u, err := tx.UserByID(ctx, alice.ID)
		if err != nil {
			return err
		}
		return tx.UpdateUser(ctx, u)
	})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLedger_StaleLockConflicts(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	alice := seedUser(t, l, "alice", 100)

	err := l.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		u, err := tx.LockUser(ctx, alice.ID)
		if err != nil {
			return err
		}

		// A concurrent unit credits alice and commits first.
		if err := l.InTx(ctx, func(ctx context.Context, other storage.Tx) error {
			return other.CreditUser(ctx, alice.ID, 1)
		}); err != nil {
			return err
		}

		u.Balance -= 100
		return tx.UpdateUser(ctx, u)
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	u, _ := l.UserByID(ctx, alice.ID)
	if u.Balance != 101 {
		t.Errorf("expected 101 after losing unit rolled back, got %f", u.Balance)
	}
}

func TestLedger_CreditsDoNotConflict(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	system := seedUser(t, l, "system", 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
				return tx.CreditUser(ctx, system.ID, 2)
			})
			if err != nil {
				t.Errorf("CreditUser failed: %v", err)
			}
		}()
	}
	wg.Wait()

	u, _ := l.UserByID(ctx, system.ID)
	if u.Balance != 100 {
		t.Errorf("expected 100, got %f", u.Balance)
	}
}

func TestLedger_ConcurrentDebitsWithRetry(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	alice := seedUser(t, l, "alice", 100)
	bob := seedUser(t, l, "bob", 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := storage.RunInTx(ctx, l, func(ctx context.Context, tx storage.Tx) error {
				u, err := tx.LockUser(ctx, alice.ID)
				if err != nil {
					return err
				}
				if u.Balance < 10 {
					return domain.ErrInsufficientFunds
				}
				u.Balance -= 10
				if err := tx.UpdateUser(ctx, u); err != nil {
					return err
				}
				return tx.CreditUser(ctx, bob.ID, 10)
			})
			if err != nil && !errors.Is(err, domain.ErrInsufficientFunds) && !errors.Is(err, storage.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	a, _ := l.UserByID(ctx, alice.ID)
	b, _ := l.UserByID(ctx, bob.ID)
	if a.Balance < 0 {
		t.Errorf("negative balance: %f", a.Balance)
	}
	if a.Balance+b.Balance != 100 {
		t.Errorf("value not conserved: alice=%f bob=%f", a.Balance, b.Balance)
	}
}

func TestLedger_RecentTransactionsNewestFirst(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	alice := seedUser(t, l, "alice", 0)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	err := l.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		for i := 0; i < 5; i++ {
			err := tx.InsertTransaction(ctx, &domain.Transaction{
				UserID:    alice.ID,
				Amount:    float64(i),
				Type:      domain.TxCredit,
				Timestamp: base.Add(time.Duration(i) * time.Minute),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx failed: %v", err)
	}

	txs, err := l.RecentTransactions(ctx, alice.ID, 3)
	if err != nil {
		t.Fatalf("RecentTransactions failed: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(txs))
	}
	if txs[0].Amount != 4 || txs[2].Amount != 2 {
		t.Errorf("unexpected order: %v, %v, %v", txs[0].Amount, txs[1].Amount, txs[2].Amount)
	}
}
