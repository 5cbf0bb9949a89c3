package decision

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"perp-engine/internal/clock"
	"perp-engine/internal/marketdata"
	"perp-engine/internal/orders"
	"perp-engine/internal/safety"
	"perp-engine/internal/store"
	"perp-engine/internal/venue"
	"perp-engine/pkg/types"
)

type fakeBridge struct {
	mu        sync.Mutex
	balance   venue.Balance
	positions []venue.Position
	book      types.OrderBook
}

func (f *fakeBridge) GetBalance(agent string) (venue.Balance, *venue.Failure) { return f.balance, nil }
func (f *fakeBridge) GetPositions(agent string) ([]venue.Position, *venue.Failure) {
	return append([]venue.Position(nil), f.positions...), nil
}
func (f *fakeBridge) HasOpenPosition(coin, agent string) (bool, *venue.Failure) { return false, nil }
func (f *fakeBridge) GetOrderBook(coin string, depth int) (types.OrderBook, *venue.Failure) {
	return f.book, nil
}
func (f *fakeBridge) ExecuteMarketOrder(coin string, side types.Side, size decimal.Decimal, agent string) (venue.OrderResult, *venue.Failure) {
	return venue.OrderResult{OrderID: "mkt"}, nil
}
func (f *fakeBridge) ExecuteLimitOrder(coin string, side types.Side, size, price, slippagePct decimal.Decimal, agent string) (venue.OrderResult, *venue.Failure) {
	return venue.OrderResult{OrderID: "lim"}, nil
}
func (f *fakeBridge) PlaceStopLoss(coin string, closeSide venue.CloseSide, size, triggerPrice decimal.Decimal, agent string) (venue.OrderResult, *venue.Failure) {
	return venue.OrderResult{OrderID: "sl"}, nil
}
func (f *fakeBridge) PlaceTakeProfit(coin string, closeSide venue.CloseSide, size, triggerPrice decimal.Decimal, agent string) (venue.OrderResult, *venue.Failure) {
	return venue.OrderResult{OrderID: "tp"}, nil
}
func (f *fakeBridge) CancelOrder(coin, oid, agent string) *venue.Failure { return nil }
func (f *fakeBridge) CancelAllOrders(coin, agent string) *venue.Failure { return nil }
func (f *fakeBridge) GetOpenOrders(agent string) ([]venue.OrderResult, *venue.Failure) {
	return nil, nil
}
func (f *fakeBridge) ClosePosition(coin, agent string) (venue.OrderResult, *venue.Failure) {
	return venue.OrderResult{}, nil
}

type fakeMarketData struct {
	history map[types.Symbol][]float64
	books   map[types.Symbol]types.OrderBook
	profile map[types.Symbol]marketdata.VolumeProfile
	trades  map[types.Symbol][]types.Trade
}

func (f *fakeMarketData) Book(symbol types.Symbol) (types.OrderBook, bool) {
	b, ok := f.books[symbol]
	return b, ok
}
func (f *fakeMarketData) PriceHistory(symbol types.Symbol) []float64 { return f.history[symbol] }
func (f *fakeMarketData) Change24h(symbol types.Symbol) float64       { return 0 }
func (f *fakeMarketData) VolumeProfile(symbol types.Symbol, now time.Time) marketdata.VolumeProfile {
	return f.profile[symbol]
}
func (f *fakeMarketData) RecentTrades(symbol types.Symbol) []types.Trade { return f.trades[symbol] }

type fakeTradeStore struct {
	trades []types.TradeRecord
}

func (s *fakeTradeStore) Load(sinceTs time.Time, limit int) ([]types.TradeRecord, error) {
	return append([]types.TradeRecord(nil), s.trades...), nil
}
func (s *fakeTradeStore) Upsert(trade types.TradeRecord) error {
	s.trades = append(s.trades, trade)
	return nil
}

var _ store.TradeStore = (*fakeTradeStore)(nil)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// runningController arms and marks a safety.Controller running so
// TradingAllowed() is true, the state every non-precondition test needs.
func runningController(t *testing.T) *safety.Controller {
	t.Helper()
	t.Setenv("LIVE_TRADING_ENABLED", "true")
	ctrl := safety.New(types.NetworkTestnet, clock.Real{}, testLogger())
	if err := ctrl.Arm(safety.ArmRequest{
		Confirmation:    safety.ArmConfirmation,
		RequestedMode:   types.NetworkTestnet,
		RequestedBy:     "alice",
		AgentConfigured: true,
	}); err != nil {
		t.Fatalf("arm: %v", err)
	}
	ctrl.MarkRunning("alice")
	return ctrl
}

func baseDeps(t *testing.T) (Dependencies, *fakeBridge, *fakeMarketData, *fakeTradeStore) {
	bridge := &fakeBridge{}
	md := &fakeMarketData{
		history: map[types.Symbol][]float64{},
		books:   map[types.Symbol]types.OrderBook{},
		profile: map[types.Symbol]marketdata.VolumeProfile{},
		trades:  map[types.Symbol][]types.Trade{},
	}
	trades := &fakeTradeStore{}
	deps := Dependencies{
		Bridge:  bridge,
		Market:  md,
		Orders:  orders.New(bridge, testLogger()),
		Control: runningController(t),
		Trades:  trades,
		Clock:   clock.Real{},
		Logger:  testLogger(),
	}
	return deps, bridge, md, trades
}

func moderateSettings(bag ...types.Symbol) types.Settings {
	return types.Settings{
		Mode:            types.ModeModerate,
		TradingBag:      bag,
		PositionSizePct: decimal.NewFromInt(5),
		StopLossPct:     decimal.NewFromInt(5),
		TakeProfitPct:   decimal.NewFromInt(10),
		MaxLeverage:     5,
	}
}

func TestRunTick_SkipsWhenNotRunning(t *testing.T) {
	deps, _, _, _ := baseDeps(t)
	deps.Control = safety.New(types.NetworkTestnet, clock.Real{}, testLogger()) // still Unarmed
	e := New(deps)

	out := e.RunTick("alice", "agent", moderateSettings(types.NewSymbol("BTC")), &types.TradingStats{})
	if !out.Skipped || out.SkipReason != "not_running" {
		t.Fatalf("outcome = %+v, want skip(not_running)", out)
	}
}

func TestRunTick_SkipsWhenPaused(t *testing.T) {
	deps, _, _, _ := baseDeps(t)
	e := New(deps)

	stats := &types.TradingStats{PauseUntilTs: time.Now().Add(time.Hour)}
	out := e.RunTick("alice", "agent", moderateSettings(types.NewSymbol("BTC")), stats)
	if !out.Skipped || out.SkipReason != "paused" {
		t.Fatalf("outcome = %+v, want skip(paused)", out)
	}
}

func TestRunTick_SkipsAtDailyTradeCap(t *testing.T) {
	deps, _, _, _ := baseDeps(t)
	e := New(deps)

	stats := &types.TradingStats{TradesToday: maxDailyTrades(types.ModeModerate)}
	out := e.RunTick("alice", "agent", moderateSettings(types.NewSymbol("BTC")), stats)
	if !out.Skipped || out.SkipReason != "daily_trade_cap" {
		t.Fatalf("outcome = %+v, want skip(daily_trade_cap)", out)
	}
}

func TestRunTick_SkipsOnSessionFilter(t *testing.T) {
	deps, _, _, _ := baseDeps(t)
	deps.Clock = clock.Fixed{T: time.Date(2026, 1, 1, 22, 0, 0, 0, time.UTC)}
	e := New(deps)

	settings := moderateSettings(types.NewSymbol("BTC"))
	settings.EnableSessionFilter = true
	out := e.RunTick("alice", "agent", settings, &types.TradingStats{})
	if !out.Skipped || out.SkipReason != "session_filter" {
		t.Fatalf("outcome = %+v, want skip(session_filter)", out)
	}
}

func TestRunTick_SkipsOnEmptyTradingBag(t *testing.T) {
	deps, _, _, _ := baseDeps(t)
	e := New(deps)

	out := e.RunTick("alice", "agent", moderateSettings(), &types.TradingStats{})
	if !out.Skipped || out.SkipReason != "empty_trading_bag" {
		t.Fatalf("outcome = %+v, want skip(empty_trading_bag)", out)
	}
}

func TestRunTick_SkipsWhenNoSymbolHasEnoughHistoryToScore(t *testing.T) {
	deps, _, md, _ := baseDeps(t)
	e := New(deps)
	btc := types.NewSymbol("BTC")
	md.history[btc] = []float64{1, 2, 3} // fewer than 15: selectHeat skips it

	out := e.RunTick("alice", "agent", moderateSettings(btc), &types.TradingStats{})
	if !out.Skipped || out.SkipReason != "no_qualifying_symbol" {
		t.Fatalf("outcome = %+v, want skip(no_qualifying_symbol)", out)
	}
}

func TestRunTick_SkipsOnAssetCooldown(t *testing.T) {
	deps, _, md, _ := baseDeps(t)
	btc := types.NewSymbol("BTC")
	md.history[btc] = uptrend(20, 100, 0.1)
	e := New(deps)

	deps.Control.RecordTrade(btc)
	out := e.RunTick("alice", "agent", moderateSettings(btc), &types.TradingStats{})
	if !out.Skipped || out.SkipReason != "asset_cooldown" {
		t.Fatalf("outcome = %+v, want skip(asset_cooldown)", out)
	}
}

func TestRunTick_SkipsOnInsufficientPriceHistoryAfterHeatSelection(t *testing.T) {
	deps, _, md, _ := baseDeps(t)
	btc := types.NewSymbol("BTC")
	// 15-19 candles: clears selectHeat's >=15 bar but not RunTick's >=20 bar.
	md.history[btc] = uptrend(17, 100, 0.1)
	e := New(deps)

	out := e.RunTick("alice", "agent", moderateSettings(btc), &types.TradingStats{})
	if !out.Skipped || out.SkipReason != "insufficient_history" {
		t.Fatalf("outcome = %+v, want skip(insufficient_history)", out)
	}
}

func TestSelectHeat_PicksHighestScoringSymbol(t *testing.T) {
	deps, _, md, _ := baseDeps(t)
	e := New(deps)

	calm := types.NewSymbol("CALM")
	wild := types.NewSymbol("WILD")
	md.history[calm] = uptrend(30, 100, 0.01) // near-flat: low volatility and momentum
	md.history[wild] = uptrend(30, 100, 5)    // steep: high volatility and momentum

	got, ok := e.selectHeat([]types.Symbol{calm, wild}, time.Now())
	if !ok {
		t.Fatal("expected a qualifying symbol")
	}
	if got != wild {
		t.Fatalf("selectHeat = %v, want %v (the more volatile/trending series)", got, wild)
	}
}

func TestSelectHeat_TiesBreakAlphabetically(t *testing.T) {
	deps, _, md, _ := baseDeps(t)
	e := New(deps)

	aaa := types.NewSymbol("AAA")
	zzz := types.NewSymbol("ZZZ")
	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 100
	}
	md.history[aaa] = append([]float64(nil), flat...)
	md.history[zzz] = append([]float64(nil), flat...)

	got, ok := e.selectHeat([]types.Symbol{zzz, aaa}, time.Now())
	if !ok {
		t.Fatal("expected a qualifying symbol")
	}
	if got != aaa {
		t.Fatalf("selectHeat = %v, want %v on an exact score tie", got, aaa)
	}
}

func TestSelectHeat_SkipsSymbolsWithTooLittleHistory(t *testing.T) {
	deps, _, md, _ := baseDeps(t)
	e := New(deps)

	thin := types.NewSymbol("THIN")
	md.history[thin] = []float64{1, 2, 3}

	_, ok := e.selectHeat([]types.Symbol{thin}, time.Now())
	if ok {
		t.Fatal("expected no qualifying symbol when every candidate has under 15 bars")
	}
}

func TestCorrelationAllows_CapsAtTwoPerGroup(t *testing.T) {
	open := []venue.Position{
		{Coin: "UNI", Size: decimal.NewFromInt(1)},
		{Coin: "AAVE", Size: decimal.NewFromInt(1)},
	}
	if correlationAllows("MKR", open) {
		t.Fatal("expected correlation limit to block a 3rd defi-group position")
	}
	if !correlationAllows("ARB", open) {
		t.Fatal("expected a different group to be unaffected")
	}
}

func TestCorrelationAllows_CapsAtOneWhenBtcOpen(t *testing.T) {
	open := []venue.Position{
		{Coin: "BTC", Size: decimal.NewFromInt(1)},
		{Coin: "UNI", Size: decimal.NewFromInt(1)},
	}
	if correlationAllows("AAVE", open) {
		t.Fatal("expected any open BTC position to cap other groups at 1")
	}
}

func TestCorrelationAllows_IgnoresFlatPositions(t *testing.T) {
	open := []venue.Position{
		{Coin: "BTC", Size: decimal.Zero}, // flat: doesn't count
	}
	if !correlationAllows("AAVE", open) {
		t.Fatal("a flat BTC position should not trigger the single-position cap")
	}
}

func TestCorrelationAllows_UncorrelatedCoinAlwaysAllowed(t *testing.T) {
	open := []venue.Position{{Coin: "BTC", Size: decimal.NewFromInt(1)}, {Coin: "BTC", Size: decimal.NewFromInt(1)}}
	if !correlationAllows("XYZ", open) {
		t.Fatal("a coin with no correlation group membership should never be blocked")
	}
}

func TestRequiredAlignedCount_UserOverrideTakesPrecedence(t *testing.T) {
	settings := types.Settings{Mode: types.ModeAggressive, MinConfirmations: 7}
	if got := requiredAlignedCount(settings); got != 7 {
		t.Fatalf("requiredAlignedCount = %d, want the user override of 7", got)
	}
}

func TestRequiredAlignedCount_FallsBackToModeDefault(t *testing.T) {
	settings := types.Settings{Mode: types.ModeConservative}
	if got := requiredAlignedCount(settings); got != minAlignedCount(types.ModeConservative) {
		t.Fatalf("requiredAlignedCount = %d, want mode default %d", got, minAlignedCount(types.ModeConservative))
	}
}

func TestGroupFor(t *testing.T) {
	cases := map[string]string{"BTC": "btc", "doge": "meme", "UNI": "defi", "arb": "layer2", "TAO": "ai", "XYZ": ""}
	for coin, want := range cases {
		if got := groupFor(coin); got != want {
			t.Errorf("groupFor(%q) = %q, want %q", coin, got, want)
		}
	}
}

func decimalPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func TestRollingTradeStats_ComputesWinRateAndWinLossRatio(t *testing.T) {
	trades := &fakeTradeStore{trades: []types.TradeRecord{
		{UserWallet: "alice", Status: types.TradeClosed, NetPnl: decimalPtr(20), Timestamp: time.Now()},
		{UserWallet: "alice", Status: types.TradeClosed, NetPnl: decimalPtr(-10), Timestamp: time.Now().Add(-time.Minute)},
		{UserWallet: "bob", Status: types.TradeClosed, NetPnl: decimalPtr(1000), Timestamp: time.Now()}, // different wallet: excluded
		{UserWallet: "alice", Status: types.TradeOpen, NetPnl: nil, Timestamp: time.Now()},              // still open: excluded
	}}

	winRate, avgWinLoss := rollingTradeStats(trades, "alice", rollingWinRateWindow)
	if winRate != 0.5 {
		t.Fatalf("winRate = %v, want 0.5 (1 win, 1 loss)", winRate)
	}
	if avgWinLoss != 2.0 {
		t.Fatalf("avgWinLoss = %v, want 2.0 (avg win 20 / avg loss 10)", avgWinLoss)
	}
}

func TestRollingTradeStats_WindowCapsHowManyRecentTradesCount(t *testing.T) {
	var trades fakeTradeStore
	for i := 0; i < 5; i++ {
		trades.trades = append(trades.trades, types.TradeRecord{
			UserWallet: "alice", Status: types.TradeClosed, NetPnl: decimalPtr(-1),
			Timestamp: time.Now().Add(-time.Duration(i) * time.Minute),
		})
	}
	// One very old winning trade, outside a window of 5.
	trades.trades = append(trades.trades, types.TradeRecord{
		UserWallet: "alice", Status: types.TradeClosed, NetPnl: decimalPtr(100),
		Timestamp: time.Now().Add(-time.Hour),
	})

	winRate, _ := rollingTradeStats(&trades, "alice", 5)
	if winRate != 0 {
		t.Fatalf("winRate = %v, want 0 (the winning trade falls outside the window)", winRate)
	}
}

func TestRollingTradeStats_NoClosedTradesReturnsZero(t *testing.T) {
	winRate, avgWinLoss := rollingTradeStats(&fakeTradeStore{}, "alice", rollingWinRateWindow)
	if winRate != 0 || avgWinLoss != 0 {
		t.Fatalf("winRate=%v avgWinLoss=%v, want 0/0 with no trade history", winRate, avgWinLoss)
	}
}

func TestPositionQty_ScalesWithBalanceAndSizeMultiplier(t *testing.T) {
	bridge := &fakeBridge{balance: venue.Balance{AccountValue: decimal.NewFromInt(10000)}}
	qty := positionQty(bridge, "agent", decimal.NewFromInt(5), 1.0, decimal.NewFromInt(100))
	// 5% of 10000 = 500 notional at sizeMult 1.0, / entry 100 = 5 units.
	if !qty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("qty = %v, want 5", qty)
	}
}

func TestPositionQty_ZeroEntryYieldsZero(t *testing.T) {
	bridge := &fakeBridge{balance: venue.Balance{AccountValue: decimal.NewFromInt(10000)}}
	qty := positionQty(bridge, "agent", decimal.NewFromInt(5), 1.0, decimal.Zero)
	if !qty.IsZero() {
		t.Fatalf("qty = %v, want 0 when entry price is zero", qty)
	}
}

func TestSessionRecommendation(t *testing.T) {
	cases := []struct {
		hour int
		want string
	}{
		{hour: 21, want: "avoid"},
		{hour: 23, want: "avoid"},
		{hour: 0, want: "avoid"},
		{hour: 1, want: "trade"},
		{hour: 12, want: "trade"},
		{hour: 20, want: "trade"},
	}
	for _, c := range cases {
		now := time.Date(2026, 1, 1, c.hour, 0, 0, 0, time.UTC)
		if got := sessionRecommendation(now); got != c.want {
			t.Errorf("sessionRecommendation(hour=%d) = %q, want %q", c.hour, got, c.want)
		}
	}
}

func TestReasoningText_ListsAlignedSignalNames(t *testing.T) {
	result := ConfluenceResult{
		Direction:    DirLong,
		AlignedCount: 2,
		OpposedCount: 1,
		TotalStrength: 72,
		Votes: []SignalVote{
			{Name: "macd_cross", Direction: DirLong},
			{Name: "rsi", Direction: DirShort},
			{Name: "ema_stack", Direction: DirLong},
		},
	}
	text := reasoningText(result)
	if !strings.Contains(text, "macd_cross") || !strings.Contains(text, "ema_stack") {
		t.Fatalf("reasoningText = %q, want it to name the aligned signals", text)
	}
	if strings.Contains(text, "rsi") {
		t.Fatalf("reasoningText = %q, should not name the opposed signal", text)
	}
}
