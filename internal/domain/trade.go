package domain

import "time"

// Trade routes.
const (
	RouteBuy   = "buy"   // BASE -> token
	RouteSell  = "sell"  // token -> BASE
	RouteCross = "cross" // token -> BASE -> token
)

// Trade is a committed exchange as published to the live feed and the
// analytics archive.
type Trade struct {
	TradeID     string    // deterministic hash, see idhash.ComputeTradeID
	UserID      string    // public id of the trader
	Route       string    // RouteBuy | RouteSell | RouteCross
	FromSymbol  string    // may be BaseSymbol
	ToSymbol    string    // may be BaseSymbol
	FromAmount  float64   // gross input
	ToAmount    float64   // output credited
	Price       float64   // as recorded on the exchange transaction
	Commission  float64   // total commission across legs
	PriceImpact float64   // percent, averaged across legs for cross trades
	Timestamp   time.Time // commit time
}

// SymbolVolume is archived trade volume for one symbol.
type SymbolVolume struct {
	Symbol     string
	Volume     float64 // sum of amounts traded in the symbol
	TradeCount int64
}
