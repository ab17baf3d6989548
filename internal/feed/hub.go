// Package feed streams committed trades to websocket subscribers.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"amm-ledger/internal/domain"
	"amm-ledger/internal/observability"
)

// Config configures hub behavior.
type Config struct {
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is how long a client may stay silent, pongs included.
	ReadTimeout time.Duration
	// Buffer is the per-client queue length. Messages to a full queue are dropped.
	Buffer int
}

// DefaultConfig returns default hub configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		Buffer:       64,
	}
}

// Message is the frame sent to subscribers.
type Message struct {
	Type  string     `json:"type"`
	Trade *TradeView `json:"trade"`
}

// TradeView is the public projection of a trade. The trader is omitted.
type TradeView struct {
	TradeID     string  `json:"trade_id"`
	Route       string  `json:"route"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	FromAmount  float64 `json:"from_amount"`
	ToAmount    float64 `json:"to_amount"`
	Price       float64 `json:"price"`
	Commission  float64 `json:"commission"`
	PriceImpact float64 `json:"price_impact"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// Hub fans trades out to connected websocket clients. It implements the
// exchange trade sink and http.Handler.
type Hub struct {
	config   Config
	logger   *zap.Logger
	upgrader websocket.Upgrader

	clients   map[*client]struct{}
	clientsMu sync.RWMutex

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	symbol string // only trades touching symbol; empty means all
}

// NewHub creates a hub. A nil config uses DefaultConfig.
func NewHub(config *Config, logger *zap.Logger) *Hub {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		config:  cfg,
		logger:  logger,
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and subscribes the connection. The
// optional symbol query parameter narrows the stream to one currency.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		http.Error(w, "feed closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade", zap.Error(err))
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, h.config.Buffer),
		symbol: r.URL.Query().Get("symbol"),
	}
	if !h.register(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"),
			time.Now().Add(h.config.WriteTimeout))
		conn.Close()
		return
	}

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Publish sends trade to every matching client without blocking.
func (h *Hub) Publish(_ context.Context, trade *domain.Trade) error {
	if h.closed.Load() {
		return nil
	}

	payload, err := json.Marshal(Message{Type: "trade", Trade: viewOf(trade)})
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for c := range h.clients {
		if c.symbol != "" && c.symbol != trade.FromSymbol && c.symbol != trade.ToSymbol {
			continue
		}
		select {
		case c.send <- payload:
			observability.RecordFeedMessage(true)
		default:
			observability.RecordFeedMessage(false)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Run blocks until ctx is done, then closes the hub.
func (h *Hub) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-h.done:
	}
	return h.Close()
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close() error {
	h.clientsMu.Lock()
	already := h.closed.Swap(true)
	h.clientsMu.Unlock()
	if already {
		return nil
	}
	close(h.done)
	h.wg.Wait()
	return nil
}

// register adds c and reserves its two goroutines. It reports false once
// Close has started; closed flips under clientsMu, so every accepted
// client is counted before Close waits.
func (h *Hub) register(c *client) bool {
	h.clientsMu.Lock()
	if h.closed.Load() {
		h.clientsMu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	n := len(h.clients)
	h.clientsMu.Unlock()
	observability.SetFeedClients(n)
	return true
}

// unregister removes c and closes its queue. Safe to call twice.
func (h *Hub) unregister(c *client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.clientsMu.Unlock()
	observability.SetFeedClients(n)
}

// writeLoop drains c's queue and keeps the connection alive with pings.
func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer c.conn.Close()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			h.unregister(c)
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// readLoop discards client frames and detects disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.wg.Done()
	defer h.unregister(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func viewOf(t *domain.Trade) *TradeView {
	return &TradeView{
		TradeID:     t.TradeID,
		Route:       t.Route,
		From:        t.FromSymbol,
		To:          t.ToSymbol,
		FromAmount:  t.FromAmount,
		ToAmount:    t.ToAmount,
		Price:       t.Price,
		Commission:  t.Commission,
		PriceImpact: t.PriceImpact,
		TimestampMs: t.Timestamp.UnixMilli(),
	}
}
