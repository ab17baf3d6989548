// Package domain holds the ledger data model: users, currencies, wallets and
// the append-only transaction and exchange logs.
package domain

// Base currency. BASE is never stored as a currency row; balances in it live
// on User.Balance.
const (
	BaseSymbol = "BASE"
	BaseName   = "Base Coin"
)

// System account. Receives every commission.
const (
	SystemPublicID        = "000000000000000000001"
	SystemUsername        = "system"
	SystemEmail           = "system@amm-ledger.local"
	DefaultSystemBalance  = 1000.0
	PublicIDLength        = 21
	DefaultHistoryLimit   = 50
	TransferCommission    = 0.05 // flat share of every transfer
	BaseCommissionRate    = 0.05 // reported for BASE in currency details
	MaxPriceImpactPercent = 50.0
)

// Issuance parameters.
const (
	IssuanceFee             = 1000.0
	InitialReserveBase      = 1000.0
	InitialReserveToken     = 100_000_000.0
	InitialCreatorBalance   = 100_000_000.0
	DefaultTotalSupply      = 1_000_000_000.0
	MinCommissionPercent    = 0.5
	MaxCommissionPercent    = 25.0
	MaxCurrencyNameLength   = 100
	MaxCurrencySymbolLength = 10
)

// Engagement parameters.
const (
	DailyClaimLimit = 100
	MinClaimReward  = 0.10
	MaxClaimReward  = 1.00
)

// ZeroReservePrice is reported as the spot price of a currency whose token
// reserve is empty.
const ZeroReservePrice = 1e-9
