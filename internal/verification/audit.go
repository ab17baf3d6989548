// Package verification audits ledger invariants over a consistent snapshot:
// no negative balances, live pools, one wallet per (user, currency), and
// per-currency token conservation.
package verification

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/storage"
)

// SupplyTolerance is the relative drift allowed when summing a currency's
// token holdings.
const SupplyTolerance = 1e-9

// Rules reported in violations.
const (
	RuleNegativeBalance = "negative_balance"
	RuleNegativeWallet  = "negative_wallet"
	RuleDuplicateWallet = "duplicate_wallet"
	RuleOrphanWallet    = "orphan_wallet"
	RuleReserve         = "reserve_depleted"
	RuleTokenSupply     = "token_supply"
	RuleSystemAccount   = "system_account"
)

// Violation is one broken invariant.
type Violation struct {
	Rule    string
	Subject string // user, currency or wallet the rule failed on
	Detail  string
}

// SupplyCheck is the token conservation result of one currency.
type SupplyCheck struct {
	Symbol   string
	Expected float64 // minted at issuance
	Reserve  float64
	Held     float64 // sum of wallet balances
}

// Drift returns Reserve + Held - Expected.
func (c SupplyCheck) Drift() float64 {
	return c.Reserve + c.Held - c.Expected
}

// Report is the result of one audit.
type Report struct {
	Users      int
	Currencies int
	Wallets    int
	BaseTotal  float64 // sum of all BASE balances
	Supply     []SupplyCheck
	Violations []Violation
}

// OK reports whether no invariant was broken.
func (r *Report) OK() bool {
	return len(r.Violations) == 0
}

// Audit checks s. It is pure and never fails.
func Audit(s *storage.Snapshot) *Report {
	r := &Report{
		Users:      len(s.Users),
		Currencies: len(s.Currencies),
		Wallets:    len(s.Wallets),
	}

	users := make(map[int64]*domain.User, len(s.Users))
	hasSystem := false
	for _, u := range s.Users {
		users[u.ID] = u
		r.BaseTotal += u.Balance
		if u.PublicID == domain.SystemPublicID {
			hasSystem = true
		}
		if u.Balance < 0 {
			r.violate(RuleNegativeBalance, u.Username, "balance %v", u.Balance)
		}
	}
	if !hasSystem {
		r.violate(RuleSystemAccount, domain.SystemUsername, "system account missing")
	}

	held := make(map[int64]float64, len(s.Currencies))
	currencies := make(map[int64]*domain.Currency, len(s.Currencies))
	for _, c := range s.Currencies {
		currencies[c.ID] = c
	}

	type key struct{ user, currency int64 }
	seen := make(map[key]bool, len(s.Wallets))
	for _, w := range s.Wallets {
		subject := fmt.Sprintf("wallet %d", w.ID)
		k := key{w.UserID, w.CurrencyID}
		if seen[k] {
			r.violate(RuleDuplicateWallet, subject, "second wallet for user %d currency %d", w.UserID, w.CurrencyID)
		}
		seen[k] = true

		if _, ok := users[w.UserID]; !ok {
			r.violate(RuleOrphanWallet, subject, "unknown user %d", w.UserID)
		}
		if _, ok := currencies[w.CurrencyID]; !ok {
			r.violate(RuleOrphanWallet, subject, "unknown currency %d", w.CurrencyID)
			continue
		}
		if w.Balance < 0 {
			r.violate(RuleNegativeWallet, subject, "balance %v", w.Balance)
		}
		held[w.CurrencyID] += w.Balance
	}

	for _, c := range s.Currencies {
		if c.IsActive && (c.ReserveBase <= 0 || c.ReserveToken <= 0) {
			r.violate(RuleReserve, c.Symbol, "reserves %v / %v", c.ReserveBase, c.ReserveToken)
		}

		check := SupplyCheck{
			Symbol:   c.Symbol,
			Expected: domain.InitialReserveToken + domain.InitialCreatorBalance,
			Reserve:  c.ReserveToken,
			Held:     held[c.ID],
		}
		r.Supply = append(r.Supply, check)
		if math.Abs(check.Drift()) > SupplyTolerance*check.Expected {
			r.violate(RuleTokenSupply, c.Symbol, "drift %v", check.Drift())
		}
	}

	return r
}

func (r *Report) violate(rule, subject, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{
		Rule:    rule,
		Subject: subject,
		Detail:  fmt.Sprintf(format, args...),
	})
}

// Auditor audits a live ledger.
type Auditor struct {
	ledger storage.Snapshotter
	logger *zap.Logger
}

// NewAuditor creates an auditor. A nil logger discards output.
func NewAuditor(ledger storage.Snapshotter, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{ledger: ledger, logger: logger}
}

// Run snapshots the ledger and audits it. Violations are logged at error.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	s, err := a.ledger.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot ledger: %w", err)
	}
	r := Audit(s)
	for _, v := range r.Violations {
		a.logger.Error("ledger invariant violated",
			zap.String("rule", v.Rule),
			zap.String("subject", v.Subject),
			zap.String("detail", v.Detail),
		)
	}
	a.logger.Info("ledger audit complete",
		zap.Int("users", r.Users),
		zap.Int("currencies", r.Currencies),
		zap.Int("violations", len(r.Violations)),
	)
	return r, nil
}
