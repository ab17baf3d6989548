package memory

import (
	"context"
	"sort"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/storage"
)

var _ storage.Snapshotter = (*Ledger)(nil)

// Snapshot copies all committed users, currencies and wallets under one lock.
func (l *Ledger) Snapshot(_ context.Context) (*storage.Snapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := &storage.Snapshot{
		Users:      make([]*domain.User, 0, len(l.users)),
		Currencies: make([]*domain.Currency, 0, len(l.currencies)),
		Wallets:    make([]*domain.Wallet, 0, len(l.wallets)),
	}
	for _, u := range l.users {
		cp, _ := copyUser(u)
		s.Users = append(s.Users, cp)
	}
	for _, c := range l.currencies {
		cp := *c
		s.Currencies = append(s.Currencies, &cp)
	}
	for _, w := range l.wallets {
		cp := *w
		s.Wallets = append(s.Wallets, &cp)
	}

	sort.Slice(s.Users, func(i, j int) bool { return s.Users[i].ID < s.Users[j].ID })
	sortCurrencies(s.Currencies)
	sort.Slice(s.Wallets, func(i, j int) bool {
		if s.Wallets[i].UserID != s.Wallets[j].UserID {
			return s.Wallets[i].UserID < s.Wallets[j].UserID
		}
		return s.Wallets[i].CurrencyID < s.Wallets[j].CurrencyID
	})
	return s, nil
}
