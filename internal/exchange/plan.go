package exchange

import (
	"fmt"
	"math"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/pricing"
)

// plan is a fully priced trade. Executing it applies sell and/or buy to
// the currencies it was planned against.
type plan struct {
	route  string
	from   *domain.Currency // nil when selling BASE
	to     *domain.Currency // nil when buying BASE
	amount float64

	sell pricing.Quote // sell and cross routes
	buy  pricing.Quote // buy and cross routes

	received   float64
	price      float64
	impact     float64
	commission float64
}

// routeFor classifies a symbol pair.
func routeFor(from, to string) (string, error) {
	switch {
	case from == "" || to == "":
		return "", domain.ErrUnsupportedPair
	case from == to:
		return "", domain.ErrSameCurrency
	case from == domain.BaseSymbol:
		return domain.RouteBuy, nil
	case to == domain.BaseSymbol:
		return domain.RouteSell, nil
	default:
		return domain.RouteCross, nil
	}
}

func validAmount(amount float64) bool {
	return amount > 0 && !math.IsInf(amount, 0)
}

// planTrade prices amount along route. Every leg must produce output and
// stay within the price impact cap.
func planTrade(route string, from, to *domain.Currency, amount float64) (*plan, error) {
	p := &plan{route: route, from: from, to: to, amount: amount}

	switch route {
	case domain.RouteBuy:
		q, err := pricing.Leg(to, pricing.Buy, amount)
		if err != nil {
			return nil, err
		}
		p.buy = q
		p.received = q.AmountOut
		p.price = amount / q.AmountOut
		p.impact = q.Impact
		p.commission = q.Commission

	case domain.RouteSell:
		q, err := pricing.Leg(from, pricing.Sell, amount)
		if err != nil {
			return nil, err
		}
		p.sell = q
		p.received = q.AmountOut
		p.price = q.AmountOut / amount
		p.impact = q.Impact
		p.commission = q.Commission

	case domain.RouteCross:
		sell, err := pricing.Leg(from, pricing.Sell, amount)
		if err != nil {
			return nil, fmt.Errorf("sell %s: %w", from.Symbol, err)
		}
		buy, err := pricing.Leg(to, pricing.Buy, sell.AmountOut)
		if err != nil {
			return nil, fmt.Errorf("buy %s: %w", to.Symbol, err)
		}
		p.sell = sell
		p.buy = buy
		p.received = buy.AmountOut
		p.price = buy.AmountOut / amount
		p.impact = (sell.Impact + buy.Impact) / 2
		p.commission = sell.Commission + buy.Commission

	default:
		return nil, domain.ErrUnsupportedPair
	}

	return p, nil
}

// message renders the receipt text for an executed plan.
func (p *plan) message(fromSymbol, toSymbol string) string {
	switch p.route {
	case domain.RouteBuy:
		return fmt.Sprintf("Bought %s %s for %s %s",
			domain.FormatAmount(p.received, 4), toSymbol, domain.FormatAmount(p.amount, 2), domain.BaseSymbol)
	case domain.RouteSell:
		return fmt.Sprintf("Sold %s %s for %s %s",
			domain.FormatAmount(p.amount, 4), fromSymbol, domain.FormatAmount(p.received, 2), domain.BaseSymbol)
	default:
		return fmt.Sprintf("Exchanged %s %s to %s %s",
			domain.FormatAmount(p.amount, 4), fromSymbol, domain.FormatAmount(p.received, 4), toSymbol)
	}
}
