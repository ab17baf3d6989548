package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/exchange"
	"amm-ledger/internal/reporting"
)

func symbolParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "symbol")))
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Accounts

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := s.accounts.Register(r.Context(), req.Username, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := ok("Registered " + u.Username)
	resp["public_id"] = u.PublicID
	resp["username"] = u.Username
	resp["balance"] = u.Balance
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	if err := s.accounts.RecordLogin(r.Context(), u.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("Welcome back, "+u.Username))
}

type walletView struct {
	Symbol  string  `json:"symbol"`
	Name    string  `json:"name"`
	Balance float64 `json:"balance"`
	Price   float64 `json:"price"`
	Value   float64 `json:"value"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	balance, err := s.queries.BaseBalance(r.Context(), u.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	wallets, err := s.queries.Wallets(r.Context(), u.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]walletView, 0, len(wallets))
	for _, wb := range wallets {
		views = append(views, walletView{
			Symbol:  wb.Symbol,
			Name:    wb.Name,
			Balance: wb.Balance,
			Price:   wb.Price,
			Value:   wb.Balance * wb.Price,
		})
	}

	resp := ok(u.Username)
	resp["public_id"] = u.PublicID
	resp["username"] = u.Username
	resp["balance"] = balance
	resp["wallets"] = views
	writeJSON(w, http.StatusOK, resp)
}

// Issuance

type createCurrencyRequest struct {
	Name              string  `json:"name"`
	Symbol            string  `json:"symbol"`
	CommissionPercent float64 `json:"commission_percent"`
}

func (s *Server) handleCreateCurrency(w http.ResponseWriter, r *http.Request) {
	var req createCurrencyRequest
	if err := decode(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u := userFrom(r.Context())
	c, err := s.issuance.CreateCurrency(r.Context(), u.ID, req.Name, normalizeSymbol(req.Symbol), req.CommissionPercent)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := ok("Created currency " + c.Name + " (" + c.Symbol + ")")
	resp["symbol"] = c.Symbol
	resp["name"] = c.Name
	resp["commission_rate"] = percent(c.CommissionRate * 100)
	resp["price"] = c.CurrentPrice()
	resp["creator_balance"] = domain.InitialCreatorBalance
	writeJSON(w, http.StatusCreated, resp)
}

// Transfer

type transferRequest struct {
	Recipient string  `json:"recipient"`
	Amount    float64 `json:"amount"`
	Symbol    string  `json:"symbol"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u := userFrom(r.Context())
	res, err := s.transfer.Transfer(r.Context(), u.ID, strings.TrimSpace(req.Recipient), req.Amount, normalizeSymbol(req.Symbol))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := ok(res.Message)
	resp["symbol"] = res.Symbol
	resp["amount"] = res.Amount
	resp["net_amount"] = res.NetAmount
	resp["commission"] = res.Commission
	resp["recipient"] = res.Recipient
	writeJSON(w, http.StatusOK, resp)
}

// Exchange

type exchangeRequest struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
}

func tradeReceipt(res *exchange.Result) receipt {
	resp := ok(res.Message)
	if res.TradeID != "" {
		resp["trade_id"] = res.TradeID
	}
	resp["route"] = res.Route
	resp["from"] = res.FromSymbol
	resp["to"] = res.ToSymbol
	resp["amount"] = res.FromAmount
	resp["received"] = res.Received
	resp["price"] = res.Price
	resp["price_impact"] = percent(res.PriceImpact)
	resp["commission"] = res.Commission
	return resp
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := decode(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u := userFrom(r.Context())
	res, err := s.exchange.Exchange(r.Context(), u.ID, normalizeSymbol(req.From), normalizeSymbol(req.To), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tradeReceipt(res))
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := strconv.ParseFloat(q.Get("amount"), 64)
	if err != nil {
		writeError(w, domain.ErrInvalidAmount)
		return
	}
	res, err := s.exchange.Quote(r.Context(), normalizeSymbol(q.Get("from")), normalizeSymbol(q.Get("to")), amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tradeReceipt(res))
}

// Engagement

func (s *Server) handleAdStatus(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	st, err := s.engagement.Status(r.Context(), u.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := ok(strconv.Itoa(st.Remaining) + " ads remaining today")
	resp["eligible"] = st.Eligible
	resp["claims_today"] = st.ClaimsToday
	resp["remaining"] = st.Remaining
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	rw, err := s.engagement.Claim(r.Context(), u.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := ok(rw.Message)
	resp["amount"] = rw.Amount
	resp["balance"] = rw.Balance
	resp["claim_number"] = rw.ClaimNumber
	writeJSON(w, http.StatusOK, resp)
}

// Queries

func (s *Server) handleCurrencies(w http.ResponseWriter, r *http.Request) {
	list, err := s.queries.Currencies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	type item struct {
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
	}
	items := make([]item, 0, len(list))
	for _, c := range list {
		items = append(items, item{Name: c.Name, Symbol: c.Symbol})
	}
	resp := ok(strconv.Itoa(len(items)) + " currencies")
	resp["currencies"] = items
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCurrencyDetails(w http.ResponseWriter, r *http.Request) {
	d, err := s.queries.CurrencyDetails(r.Context(), symbolParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := ok(d.Name + " (" + d.Symbol + ")")
	resp["name"] = d.Name
	resp["symbol"] = d.Symbol
	resp["commission_rate"] = percent(d.CommissionRate * 100)
	resp["current_price"] = d.CurrentPrice
	if d.TotalSupply != nil {
		resp["total_supply"] = *d.TotalSupply
	} else {
		resp["total_supply"] = "unlimited"
	}
	resp["liquidity"] = d.Liquidity
	resp["reserve_base"] = d.ReserveBase
	resp["reserve_token"] = d.ReserveToken
	resp["volume_24h"] = d.Volume24h
	resp["trades_24h"] = d.Trades24h
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	price, err := s.queries.Price(r.Context(), symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := ok("1 " + symbol + " = " + domain.FormatAmount(price, 6) + " " + domain.BaseSymbol)
	resp["symbol"] = symbol
	resp["price"] = price
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	u := userFrom(r.Context())
	balance, err := s.queries.WalletBalance(r.Context(), u.ID, symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := ok(domain.FormatAmount(balance, 4) + " " + symbol)
	resp["symbol"] = symbol
	resp["balance"] = balance
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMaxBuy(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	u := userFrom(r.Context())
	l, err := s.queries.MaxBuy(r.Context(), u.ID, symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := ok("Max buy: " + domain.FormatAmount(l.MaxAmount, 2) + " " + domain.BaseSymbol)
	resp["symbol"] = symbol
	resp["max_amount"] = l.MaxAmount
	resp["current_price"] = l.CurrentPrice
	resp["estimated_price"] = l.EstimatedPrice
	resp["user_balance"] = l.UserBalance
	resp["affordable_max"] = l.AffordableMax
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMaxSell(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	u := userFrom(r.Context())
	l, err := s.queries.MaxSell(r.Context(), u.ID, symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := ok("Max sell: " + domain.FormatAmount(l.MaxAmount, 4) + " " + symbol)
	resp["symbol"] = symbol
	resp["max_amount"] = l.MaxAmount
	resp["current_price"] = l.CurrentPrice
	resp["estimated_price"] = l.EstimatedPrice
	resp["user_balance"] = l.UserBalance
	writeJSON(w, http.StatusOK, resp)
}

// History

type transactionView struct {
	Amount      float64 `json:"amount"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Timestamp   string  `json:"timestamp"`
}

type exchangeView struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	FromAmount float64 `json:"from_amount"`
	ToAmount   float64 `json:"to_amount"`
	Price      float64 `json:"price"`
	Commission float64 `json:"commission"`
	Timestamp  string  `json:"timestamp"`
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	h, err := s.queries.History(r.Context(), u.ID, limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}

	txs := make([]transactionView, 0, len(h.Transactions))
	for _, tx := range h.Transactions {
		txs = append(txs, transactionView{
			Amount:      tx.Amount,
			Type:        tx.Type,
			Description: tx.Description,
			Timestamp:   tx.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	exs := make([]exchangeView, 0, len(h.Exchanges))
	for _, ex := range h.Exchanges {
		exs = append(exs, exchangeView{
			From:       ex.FromSymbol,
			To:         ex.ToSymbol,
			FromAmount: ex.FromAmount,
			ToAmount:   ex.ToAmount,
			Price:      ex.Price,
			Commission: ex.Commission,
			Timestamp:  ex.Timestamp.UTC().Format(time.RFC3339),
		})
	}

	resp := ok(strconv.Itoa(len(txs)) + " transactions, " + strconv.Itoa(len(exs)) + " exchanges")
	resp["transactions"] = txs
	resp["exchanges"] = exs
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistoryCSV(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	h, err := s.queries.History(r.Context(), u.ID, limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="history.csv"`)
	w.Write([]byte(reporting.RenderCSV(h)))
}

func (s *Server) handleStatement(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	wallets, err := s.queries.Wallets(r.Context(), u.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	h, err := s.queries.History(r.Context(), u.ID, limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}

	st := &reporting.Statement{
		GeneratedAt: s.now(),
		User:        u,
		Wallets:     wallets,
		History:     h,
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(reporting.RenderMarkdown(st)))
}
