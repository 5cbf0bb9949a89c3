package monitor

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"perp-engine/internal/clock"
	"perp-engine/internal/orders"
	"perp-engine/internal/venue"
	"perp-engine/pkg/types"
)

type fakeBridge struct {
	mu        sync.Mutex
	positions []venue.Position
	slCalls   int
	tpCalls   int
	limitCall *struct {
		side types.Side
		size decimal.Decimal
	}
}

func (f *fakeBridge) GetBalance(agent string) (venue.Balance, *venue.Failure) { return venue.Balance{}, nil }
func (f *fakeBridge) GetPositions(agent string) ([]venue.Position, *venue.Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]venue.Position(nil), f.positions...), nil
}
func (f *fakeBridge) HasOpenPosition(coin, agent string) (bool, *venue.Failure) { return false, nil }
func (f *fakeBridge) GetOrderBook(coin string, depth int) (types.OrderBook, *venue.Failure) {
	return types.OrderBook{}, nil
}
func (f *fakeBridge) ExecuteMarketOrder(coin string, side types.Side, size decimal.Decimal, agent string) (venue.OrderResult, *venue.Failure) {
	return venue.OrderResult{OrderID: "mkt"}, nil
}
func (f *fakeBridge) ExecuteLimitOrder(coin string, side types.Side, size, price, slippagePct decimal.Decimal, agent string) (venue.OrderResult, *venue.Failure) {
	f.mu.Lock()
	f.limitCall = &struct {
		side types.Side
		size decimal.Decimal
	}{side, size}
	f.mu.Unlock()
	return venue.OrderResult{OrderID: "lim"}, nil
}
func (f *fakeBridge) PlaceStopLoss(coin string, closeSide venue.CloseSide, size, triggerPrice decimal.Decimal, agent string) (venue.OrderResult, *venue.Failure) {
	f.mu.Lock()
	f.slCalls++
	f.mu.Unlock()
	return venue.OrderResult{OrderID: "sl"}, nil
}
func (f *fakeBridge) PlaceTakeProfit(coin string, closeSide venue.CloseSide, size, triggerPrice decimal.Decimal, agent string) (venue.OrderResult, *venue.Failure) {
	f.mu.Lock()
	f.tpCalls++
	f.mu.Unlock()
	return venue.OrderResult{OrderID: "tp"}, nil
}
func (f *fakeBridge) CancelOrder(coin, oid, agent string) *venue.Failure     { return nil }
func (f *fakeBridge) CancelAllOrders(coin, agent string) *venue.Failure     { return nil }
func (f *fakeBridge) GetOpenOrders(agent string) ([]venue.OrderResult, *venue.Failure) {
	return nil, nil
}
func (f *fakeBridge) ClosePosition(coin, agent string) (venue.OrderResult, *venue.Failure) {
	return venue.OrderResult{}, nil
}

type fakeMarketData struct {
	books   map[types.Symbol]types.OrderBook
	history map[types.Symbol][]float64
}

func (f *fakeMarketData) Book(symbol types.Symbol) (types.OrderBook, bool) {
	b, ok := f.books[symbol]
	return b, ok
}
func (f *fakeMarketData) PriceHistory(symbol types.Symbol) []float64 {
	return f.history[symbol]
}

type fakeTradeStore struct {
	mu     sync.Mutex
	trades map[string]types.TradeRecord
}

func newFakeTradeStore() *fakeTradeStore {
	return &fakeTradeStore{trades: make(map[string]types.TradeRecord)}
}

func (s *fakeTradeStore) Load(sinceTs time.Time, limit int) ([]types.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.TradeRecord
	for _, t := range s.trades {
		if t.Timestamp.Before(sinceTs) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeTradeStore) Upsert(trade types.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[trade.ID] = trade
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCycle_SyncsUntrackedVenuePosition(t *testing.T) {
	bridge := &fakeBridge{positions: []venue.Position{{Coin: "BTC", Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100), Leverage: 5}}}
	md := &fakeMarketData{
		books:   map[types.Symbol]types.OrderBook{types.NewSymbol("BTC"): {MidPrice: decimal.NewFromInt(101)}},
		history: map[types.Symbol][]float64{types.NewSymbol("BTC"): {100, 100, 100, 100, 100}},
	}
	trades := newFakeTradeStore()
	om := orders.New(bridge, testLogger())
	mon := New(bridge, md, om, trades, clock.Real{}, testLogger())

	settings := types.Settings{Mode: types.ModeModerate, StopLossPct: decimal.NewFromInt(5), TakeProfitPct: decimal.NewFromInt(10)}
	stats := &types.TradingStats{}
	var statsMu sync.Mutex

	mon.Cycle("alice", "agent", settings, stats, &statsMu)

	loaded, _ := trades.Load(time.Time{}, 0)
	if len(loaded) != 1 {
		t.Fatalf("len(loaded) = %d, want 1 synced trade", len(loaded))
	}
	if loaded[0].Status != types.TradeOpen {
		t.Fatalf("Status = %v, want open", loaded[0].Status)
	}
	if bridge.slCalls != 1 || bridge.tpCalls != 1 {
		t.Fatalf("slCalls=%d tpCalls=%d, want SL/TP placed for the synced position", bridge.slCalls, bridge.tpCalls)
	}
}

func TestCycle_ClosesLocalTradeNoLongerAtVenue(t *testing.T) {
	bridge := &fakeBridge{} // no positions reported
	symbol := types.NewSymbol("ETH")
	md := &fakeMarketData{books: map[types.Symbol]types.OrderBook{symbol: {MidPrice: decimal.NewFromInt(110)}}}
	trades := newFakeTradeStore()
	trades.trades["t1"] = types.TradeRecord{
		ID: "t1", UserWallet: "alice", Symbol: symbol, Side: types.Buy,
		EntryPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1), Status: types.TradeOpen,
	}
	om := orders.New(bridge, testLogger())
	mon := New(bridge, md, om, trades, clock.Real{}, testLogger())

	settings := types.Settings{Mode: types.ModeModerate}
	stats := &types.TradingStats{}
	var statsMu sync.Mutex

	mon.Cycle("alice", "agent", settings, stats, &statsMu)

	closed := trades.trades["t1"]
	if closed.Status != types.TradeClosed {
		t.Fatalf("Status = %v, want closed", closed.Status)
	}
	if closed.NetPnl == nil || !closed.NetPnl.IsPositive() {
		t.Fatalf("NetPnl = %v, want a positive realized PnL (entry 100 -> mid 110)", closed.NetPnl)
	}
	if stats.WinsToday != 1 || stats.TradesToday != 1 {
		t.Fatalf("WinsToday=%d TradesToday=%d, want 1/1", stats.WinsToday, stats.TradesToday)
	}
}

func TestCycle_ConsecutiveLossesTripPause(t *testing.T) {
	bridge := &fakeBridge{}
	symbol := types.NewSymbol("SOL")
	md := &fakeMarketData{books: map[types.Symbol]types.OrderBook{symbol: {MidPrice: decimal.NewFromInt(90)}}}
	om := orders.New(bridge, testLogger())
	settings := types.Settings{Mode: types.ModeConservative} // threshold 2

	stats := &types.TradingStats{}
	var statsMu sync.Mutex

	for i := 0; i < 2; i++ {
		trades := newFakeTradeStore()
		trades.trades["t"] = types.TradeRecord{
			ID: "t", UserWallet: "alice", Symbol: symbol, Side: types.Buy,
			EntryPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1), Status: types.TradeOpen,
		}
		mon := New(bridge, md, om, trades, clock.Real{}, testLogger())
		mon.Cycle("alice", "agent", settings, stats, &statsMu)
	}

	if stats.ConsecutiveLosses != 2 {
		t.Fatalf("ConsecutiveLosses = %d, want 2", stats.ConsecutiveLosses)
	}
	if stats.PauseUntilTs.IsZero() {
		t.Fatal("expected PauseUntilTs to be set once the conservative-mode threshold of 2 losses is reached")
	}
}

func TestManageInFlight_BreakevenMovesStopToEntry(t *testing.T) {
	bridge := &fakeBridge{positions: []venue.Position{{Coin: "BTC", Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100)}}}
	symbol := types.NewSymbol("BTC")
	md := &fakeMarketData{books: map[types.Symbol]types.OrderBook{symbol: {MidPrice: decimal.NewFromInt(102)}}}
	trades := newFakeTradeStore()
	trades.trades["t1"] = types.TradeRecord{
		ID: "t1", UserWallet: "alice", Symbol: symbol, Side: types.Buy,
		EntryPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1), StopLoss: decimal.NewFromInt(95),
		TakeProfit: decimal.NewFromInt(120), Status: types.TradeOpen,
	}
	om := orders.New(bridge, testLogger())
	mon := New(bridge, md, om, trades, clock.Real{}, testLogger())

	settings := types.Settings{Mode: types.ModeModerate}
	stats := &types.TradingStats{}
	var statsMu sync.Mutex

	mon.Cycle("alice", "agent", settings, stats, &statsMu)

	if bridge.slCalls != 1 {
		t.Fatalf("slCalls = %d, want 1 (breakeven should replace the stop)", bridge.slCalls)
	}
	state := mon.stateFor("alice")
	ts := state.trailing["BTC"]
	if ts == nil || !ts.CurrentStop.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("CurrentStop = %v, want moved to entry (100)", ts)
	}
}

func TestManageInFlight_PartialProfitTakenWhenQtyLargeEnough(t *testing.T) {
	bridge := &fakeBridge{positions: []venue.Position{{Coin: "BTC", Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100)}}}
	symbol := types.NewSymbol("BTC")
	md := &fakeMarketData{books: map[types.Symbol]types.OrderBook{symbol: {MidPrice: decimal.NewFromInt(106)}}}
	trades := newFakeTradeStore()
	trades.trades["t1"] = types.TradeRecord{
		ID: "t1", UserWallet: "alice", Symbol: symbol, Side: types.Buy,
		EntryPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1), StopLoss: decimal.NewFromInt(90),
		TakeProfit: decimal.NewFromInt(110), Status: types.TradeOpen,
	}
	om := orders.New(bridge, testLogger())
	mon := New(bridge, md, om, trades, clock.Real{}, testLogger())

	settings := types.Settings{Mode: types.ModeModerate}
	stats := &types.TradingStats{}
	var statsMu sync.Mutex

	mon.Cycle("alice", "agent", settings, stats, &statsMu)

	if bridge.limitCall == nil {
		t.Fatal("expected a partial-profit limit order once PnL clears half the take-profit target")
	}
	if !bridge.limitCall.size.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("limitCall.size = %v, want half the position (0.5)", bridge.limitCall.size)
	}
	state := mon.stateFor("alice")
	ts := state.trailing["BTC"]
	if ts == nil || !ts.PartialTaken {
		t.Fatal("expected PartialTaken to be set once the partial close fires")
	}
}

func TestManageInFlight_PartialProfitSkippedWhenQtyWouldDustOut(t *testing.T) {
	bridge := &fakeBridge{positions: []venue.Position{{Coin: "BTC", Size: decimal.NewFromFloat(0.0001), EntryPrice: decimal.NewFromInt(100)}}}
	symbol := types.NewSymbol("BTC")
	md := &fakeMarketData{books: map[types.Symbol]types.OrderBook{symbol: {MidPrice: decimal.NewFromInt(106)}}}
	trades := newFakeTradeStore()
	trades.trades["t1"] = types.TradeRecord{
		ID: "t1", UserWallet: "alice", Symbol: symbol, Side: types.Buy,
		EntryPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromFloat(0.0001), StopLoss: decimal.NewFromInt(90),
		TakeProfit: decimal.NewFromInt(110), Status: types.TradeOpen,
	}
	om := orders.New(bridge, testLogger())
	mon := New(bridge, md, om, trades, clock.Real{}, testLogger())

	settings := types.Settings{Mode: types.ModeModerate}
	stats := &types.TradingStats{}
	var statsMu sync.Mutex

	mon.Cycle("alice", "agent", settings, stats, &statsMu)

	if bridge.limitCall != nil {
		t.Fatalf("limitCall = %+v, want no partial-profit order for a dust-sized position", bridge.limitCall)
	}
	state := mon.stateFor("alice")
	ts := state.trailing["BTC"]
	if ts != nil && ts.PartialTaken {
		t.Fatal("expected PartialTaken to stay false when the half-size slice would round to dust")
	}
}
