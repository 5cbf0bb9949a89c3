// feed.go adapts 0xtitan6-polymarket-mm/internal/exchange/ws.go's WSFeed:
// same single-connection, ping-loop, exponential-backoff-reconnect shape,
// generalized to give up after 5 consecutive failures (spec.md §4.2's
// redesign of the teacher's infinite-reconnect loop) and to maintain the
// richer per-symbol caches this domain needs instead of a binary-market book.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"perp-engine/pkg/types"
)

const (
	pingInterval       = 50 * time.Second
	readTimeout        = 90 * time.Second
	writeTimeout       = 10 * time.Second
	initialBackoff     = time.Second
	maxReconnectWait   = 30 * time.Second
	maxConsecutiveFail = 5
)

// DisconnectedEvent is published on EventDisconnected once the feed gives
// up reconnecting.
type DisconnectedEvent struct {
	Reason string
}

// Feed owns the single WebSocket connection for the engine and the
// per-symbol market-data caches it maintains from it.
type Feed struct {
	url    string
	logger *slog.Logger
	disp   *Dispatcher

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu      sync.RWMutex
	symbols    map[types.Symbol]bool
	liqEnabled bool

	cacheMu     sync.RWMutex
	books       map[types.Symbol]*types.OrderBook
	trades      map[types.Symbol]*types.TradeRing
	liquidations map[types.Symbol]*types.LiquidationRing
	funding     map[types.Symbol]types.Funding
	priceRings  map[types.Symbol]*types.PriceRing
	change24h   map[types.Symbol]*change24hTracker
}

// NewFeed builds a Feed pointed at wsURL, publishing events on disp.
func NewFeed(wsURL string, disp *Dispatcher, logger *slog.Logger) *Feed {
	return &Feed{
		url:          wsURL,
		logger:       logger.With("component", "marketdata"),
		disp:         disp,
		symbols:      make(map[types.Symbol]bool),
		books:        make(map[types.Symbol]*types.OrderBook),
		trades:       make(map[types.Symbol]*types.TradeRing),
		liquidations: make(map[types.Symbol]*types.LiquidationRing),
		funding:      make(map[types.Symbol]types.Funding),
		priceRings:   make(map[types.Symbol]*types.PriceRing),
		change24h:    make(map[types.Symbol]*change24hTracker),
	}
}

// Subscribe adds symbols to the active subscription set and, if connected,
// sends the subscribe messages immediately.
func (f *Feed) Subscribe(symbols []types.Symbol) {
	f.subMu.Lock()
	for _, s := range symbols {
		f.symbols[s] = true
	}
	f.subMu.Unlock()

	f.cacheMu.Lock()
	for _, s := range symbols {
		if f.trades[s] == nil {
			f.trades[s] = types.NewTradeRing(types.TradeHistoryCapacity)
		}
		if f.liquidations[s] == nil {
			f.liquidations[s] = types.NewLiquidationRing(types.LiquidationHistoryCapacity)
		}
		if f.priceRings[s] == nil {
			f.priceRings[s] = types.NewPriceRing(types.PriceHistoryCapacity)
		}
		if f.change24h[s] == nil {
			f.change24h[s] = newChange24hTracker()
		}
	}
	f.cacheMu.Unlock()

	for _, s := range symbols {
		f.sendSubscriptions(s)
	}
}

// EnableLiquidations turns on the opportunistic liquidation feed (see
// DESIGN.md's Open Question decision: per-engine, not per-user).
func (f *Feed) EnableLiquidations() { f.liqEnabled = true }

// Run connects and maintains the connection with exponential backoff,
// giving up after maxConsecutiveFail consecutive failures and publishing
// a Disconnected event to subscribers — the spec.md §4.2 redesign of the
// teacher's infinite reconnect loop.
func (f *Feed) Run(ctx context.Context) {
	backoff := initialBackoff
	consecutiveFailures := 0

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		consecutiveFailures++
		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err, "backoff", backoff, "consecutiveFailures", consecutiveFailures)

		if consecutiveFailures >= maxConsecutiveFail {
			f.logger.Error("giving up after consecutive failures", "count", consecutiveFailures)
			f.disp.Publish(EventDisconnected, DisconnectedEvent{Reason: fmt.Sprintf("gave up after %d consecutive failures: %v", consecutiveFailures, err)})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.subMu.RLock()
	symbols := make([]types.Symbol, 0, len(f.symbols))
	for s := range f.symbols {
		symbols = append(symbols, s)
	}
	f.subMu.RUnlock()
	for _, s := range symbols {
		if err := f.sendSubscriptions(s); err != nil {
			return fmt.Errorf("resubscribe %s: %w", s, err)
		}
	}

	f.logger.Info("websocket connected", "symbols", len(symbols))

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatchMessage(msg)
	}
}

func (f *Feed) sendSubscriptions(symbol types.Symbol) error {
	coin := symbol.Coin()
	subs := []subscription{
		{Type: "l2Book", Coin: coin},
		{Type: "trades", Coin: coin},
		{Type: "activeAssetCtx", Coin: coin},
	}
	if f.liqEnabled {
		subs = append(subs, subscription{Type: "userNonFundingLedgerUpdates", Coin: coin})
	}
	for _, sub := range subs {
		if err := f.writeJSON(subscribeMsg{Method: "subscribe", Subscription: sub}); err != nil {
			return err
		}
	}
	return nil
}

func (f *Feed) dispatchMessage(data []byte) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.logger.Debug("dropping non-json ws message")
		return
	}

	switch env.Channel {
	case "l2Book":
		f.handleL2Book(env.Data)
	case "trades":
		f.handleTrades(env.Data)
	case "activeAssetCtx":
		f.handleAssetCtx(env.Data)
	case "userNonFundingLedgerUpdates":
		f.handleLiquidations(env.Data)
	case "candle":
		// Candle snapshots are not retained; the engine operates on a
		// close-price ring fed by l2Book mids instead.
	default:
		f.logger.Debug("unknown ws channel", "channel", env.Channel)
	}
}

func (f *Feed) handleL2Book(data json.RawMessage) {
	var wire wireL2Book
	if err := json.Unmarshal(data, &wire); err != nil {
		f.logger.Debug("parse l2Book failed", "error", err)
		return
	}
	symbol := types.NewSymbol(wire.Coin)

	toLevels := func(rows []wireLevel) []types.OrderBookLevel {
		out := make([]types.OrderBookLevel, 0, len(rows))
		for _, r := range rows {
			px, _ := decimal.NewFromString(r.Px)
			sz, _ := decimal.NewFromString(r.Sz)
			out = append(out, types.OrderBookLevel{Price: px, Size: sz, NumOrders: r.N})
		}
		return out
	}

	book := &types.OrderBook{
		Symbol:    symbol,
		Bids:      toLevels(wire.Levels[0]),
		Asks:      toLevels(wire.Levels[1]),
		Timestamp: time.UnixMilli(wire.Time),
	}
	RecomputeDerived(book)

	f.cacheMu.Lock()
	f.books[symbol] = book
	if !book.MidPrice.IsZero() {
		mid, _ := book.MidPrice.Float64()
		if ring := f.priceRings[symbol]; ring != nil {
			ring.Push(mid)
		}
		if tracker := f.change24h[symbol]; tracker != nil {
			tracker.push(book.Timestamp, mid)
		}
	}
	f.cacheMu.Unlock()

	f.disp.Publish(EventOrderBook, *book)
}

func (f *Feed) handleTrades(data json.RawMessage) {
	var wires []wireTrade
	if err := json.Unmarshal(data, &wires); err != nil {
		f.logger.Debug("parse trades failed", "error", err)
		return
	}
	for _, w := range wires {
		symbol := types.NewSymbol(w.Coin)
		px, _ := decimal.NewFromString(w.Px)
		sz, _ := decimal.NewFromString(w.Sz)
		side := types.Buy
		if w.Side == "sell" || w.Side == "A" {
			side = types.Sell
		}
		trade := types.Trade{Symbol: symbol, Side: side, Price: px, Size: sz, Timestamp: time.UnixMilli(w.Time)}

		f.cacheMu.Lock()
		if ring := f.trades[symbol]; ring != nil {
			ring.Push(trade)
		}
		f.cacheMu.Unlock()

		f.disp.Publish(EventTrade, trade)
	}
}

func (f *Feed) handleAssetCtx(data json.RawMessage) {
	var wire wireAssetCtx
	if err := json.Unmarshal(data, &wire); err != nil {
		f.logger.Debug("parse activeAssetCtx failed", "error", err)
		return
	}
	symbol := types.NewSymbol(wire.Coin)
	funding := types.Funding{
		Symbol:        symbol,
		FundingRate:   parseDecimalOrZero(wire.Funding),
		PredictedRate: parseDecimalOrZero(wire.Premium),
		OpenInterest:  parseDecimalOrZero(wire.OpenInterest),
		Timestamp:     time.Now(),
	}

	f.cacheMu.Lock()
	f.funding[symbol] = funding
	f.cacheMu.Unlock()

	f.disp.Publish(EventFunding, funding)
}

func (f *Feed) handleLiquidations(data json.RawMessage) {
	var wires []wireLiquidation
	if err := json.Unmarshal(data, &wires); err != nil {
		f.logger.Debug("parse liquidations failed", "error", err)
		return
	}
	for _, w := range wires {
		symbol := types.NewSymbol(w.Coin)
		side := types.LiqLong
		if w.Side == "short" {
			side = types.LiqShort
		}
		liq := types.Liquidation{
			Symbol:    symbol,
			Side:      side,
			Price:     parseDecimalOrZero(w.Px),
			Size:      parseDecimalOrZero(w.Sz),
			Timestamp: time.UnixMilli(w.Time),
		}

		f.cacheMu.Lock()
		if ring := f.liquidations[symbol]; ring != nil {
			ring.Push(liq)
		}
		f.cacheMu.Unlock()

		f.disp.Publish(EventLiquidation, liq)
	}
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}

// Book returns a copy of the current cached order book for symbol, if any.
func (f *Feed) Book(symbol types.Symbol) (types.OrderBook, bool) {
	f.cacheMu.RLock()
	defer f.cacheMu.RUnlock()
	b, ok := f.books[symbol]
	if !ok {
		return types.OrderBook{}, false
	}
	return *b, true
}

// PriceHistory returns the close-price samples tracked for symbol.
func (f *Feed) PriceHistory(symbol types.Symbol) []float64 {
	f.cacheMu.RLock()
	defer f.cacheMu.RUnlock()
	ring := f.priceRings[symbol]
	if ring == nil {
		return nil
	}
	return ring.Values()
}

// Funding returns the last cached funding snapshot for symbol.
func (f *Feed) Funding(symbol types.Symbol) (types.Funding, bool) {
	f.cacheMu.RLock()
	defer f.cacheMu.RUnlock()
	fr, ok := f.funding[symbol]
	return fr, ok
}

// RecentTrades returns the cached trade ring contents for symbol.
func (f *Feed) RecentTrades(symbol types.Symbol) []types.Trade {
	f.cacheMu.RLock()
	defer f.cacheMu.RUnlock()
	ring := f.trades[symbol]
	if ring == nil {
		return nil
	}
	return ring.Values()
}

// Change24h returns the percentage price change over the trailing 24h
// window for symbol (or the oldest-available sample if history is shorter).
func (f *Feed) Change24h(symbol types.Symbol) float64 {
	f.cacheMu.RLock()
	tracker := f.change24h[symbol]
	f.cacheMu.RUnlock()
	if tracker == nil {
		return 0
	}
	return tracker.change()
}

// VolumeProfile returns the trailing window 60s buy/sell volume split for
// symbol, used by C4's heat-selection scoring.
func (f *Feed) VolumeProfile(symbol types.Symbol, now time.Time) VolumeProfile {
	return ComputeVolumeProfile(f.RecentTrades(symbol), now, defaultVolumeWindow)
}

func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
