// Package pricing implements the constant-product market maker used to
// price every currency against BASE.
//
// All functions are pure: they read one snapshot of a currency's reserves
// and never mutate it.
package pricing

import (
	"math"

	"amm-ledger/internal/domain"
)

// Side is the direction of a trade relative to the currency's pool.
type Side int

// Trade sides.
const (
	Buy  Side = iota // BASE in, token out
	Sell             // token in, BASE out
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Quote is the result of pricing one leg against one pool.
type Quote struct {
	Side       Side
	AmountIn   float64 // gross input
	NetIn      float64 // input after commission, added to the input reserve
	Commission float64 // AmountIn - NetIn, in input units
	AmountOut  float64 // drawn from the output reserve
	Impact     float64 // gross spot price impact in percent
}

// Price returns the effective unit price of the quote in BASE per token.
func (q Quote) Price() float64 {
	if q.AmountIn == 0 || q.AmountOut == 0 {
		return 0
	}
	if q.Side == Buy {
		return q.AmountIn / q.AmountOut
	}
	return q.AmountOut / q.AmountIn
}

// QuoteBuy prices baseIn BASE against c.
//   - net = baseIn * (1 - rate)
//   - out = reserve_token - k / (reserve_base + net)
//
// Returns a zero quote if either reserve is non-positive and a
// *domain.PriceImpactError if out exceeds half the token reserve.
func QuoteBuy(c *domain.Currency, baseIn float64) (Quote, error) {
	return quote(Buy, c.ReserveBase, c.ReserveToken, c.CommissionRate, baseIn)
}

// QuoteSell prices tokenIn tokens against c.
//   - net = tokenIn * (1 - rate)
//   - out = reserve_base - k / (reserve_token + net)
func QuoteSell(c *domain.Currency, tokenIn float64) (Quote, error) {
	return quote(Sell, c.ReserveToken, c.ReserveBase, c.CommissionRate, tokenIn)
}

func quote(side Side, reserveIn, reserveOut, rate, amountIn float64) (Quote, error) {
	q := Quote{Side: side, AmountIn: amountIn}
	if reserveIn <= 0 || reserveOut <= 0 {
		return q, nil
	}

	k := reserveIn * reserveOut
	q.NetIn = amountIn * (1 - rate)
	q.Commission = amountIn * rate
	out := reserveOut - k/(reserveIn+q.NetIn)

	impact := math.Abs(out / reserveOut * 100)
	if exceedsCap(impact) {
		return q, &domain.PriceImpactError{Percent: impact}
	}

	q.AmountOut = math.Max(0, out)
	return q, nil
}

// PriceImpact returns the percent move of the spot price if amount were
// added gross (without commission) to the input side of c's pool.
func PriceImpact(c *domain.Currency, amount float64, side Side) float64 {
	k := c.K()
	var newBase, newToken float64
	switch side {
	case Buy:
		if c.ReserveBase <= 0 {
			return 0
		}
		newBase = c.ReserveBase + amount
		newToken = k / newBase
	default:
		if c.ReserveToken <= 0 {
			return 0
		}
		newToken = c.ReserveToken + amount
		newBase = k / newToken
	}

	oldPrice := c.CurrentPrice()
	newPrice := newBase / newToken
	return math.Abs((newPrice - oldPrice) / oldPrice * 100)
}

// Leg quotes amount on side and enforces both impact caps: the output
// share of the reserve and the gross spot price move.
func Leg(c *domain.Currency, side Side, amount float64) (Quote, error) {
	var (
		q   Quote
		err error
	)
	if side == Buy {
		q, err = QuoteBuy(c, amount)
	} else {
		q, err = QuoteSell(c, amount)
	}
	if err != nil {
		return q, err
	}
	if q.AmountOut <= 0 {
		return q, domain.ErrIlliquid
	}

	q.Impact = PriceImpact(c, amount, side)
	if exceedsCap(q.Impact) {
		return q, &domain.PriceImpactError{Percent: q.Impact}
	}
	return q, nil
}

// impactSlack absorbs float rounding so that MaxBuy and MaxSell, which sit
// exactly on the cap, still trade.
const impactSlack = 1e-9

func exceedsCap(percent float64) bool {
	return percent > domain.MaxPriceImpactPercent+impactSlack
}

// MaxBuy returns the BASE input that moves the spot price up by exactly
// the impact cap: sqrt(k * price * 1.5) - reserve_base.
func MaxBuy(c *domain.Currency) float64 {
	target := c.CurrentPrice() * (1 + domain.MaxPriceImpactPercent/100)
	return math.Sqrt(c.K()*target) - c.ReserveBase
}

// MaxSell returns the token input that moves the spot price down by the
// impact cap, bounded by the seller's balance.
func MaxSell(c *domain.Currency, balance float64) float64 {
	target := c.CurrentPrice() * (1 - domain.MaxPriceImpactPercent/100)
	return math.Min(balance, math.Sqrt(c.K()/target)-c.ReserveToken)
}

// Apply returns a copy of c with q's reserve movement applied: the net
// input joins the input reserve and the output leaves the other one.
func Apply(c *domain.Currency, q Quote) *domain.Currency {
	next := *c
	if q.Side == Buy {
		next.ReserveBase += q.NetIn
		next.ReserveToken -= q.AmountOut
	} else {
		next.ReserveToken += q.NetIn
		next.ReserveBase -= q.AmountOut
	}
	return &next
}
