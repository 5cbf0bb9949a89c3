// Package monitor is the Position Lifecycle Monitor (C6): a periodic
// reconciliation loop that keeps local trade records consistent with the
// venue's reported positions, and an in-flight stop-management pass
// (breakeven, trailing, partial profit) for every trade still open.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perp-engine/internal/clock"
	"perp-engine/internal/decision"
	"perp-engine/internal/marketdata"
	"perp-engine/internal/orders"
	"perp-engine/internal/store"
	"perp-engine/internal/venue"
	"perp-engine/pkg/types"
)

// Interval is the reconciliation cadence from spec.md §4.6.
const Interval = 10 * time.Second

// breakevenTriggerPct is the PnL at which the stop is moved to entry.
const breakevenTriggerPct = 1.0

// partialProfitFraction is the share of the position closed at the
// half-target-TP partial-profit step.
const partialProfitFraction = 0.5

// partialProfitSlippagePct is the slippage tolerance for the
// limit-at-market partial-close order.
const partialProfitSlippagePct = 0.1

// minPartialProfitQty is the "qty large enough" guard from spec.md §4.6
// step 5: below this, a half-size partial close would round to a dust
// order the venue would reject, so the step is skipped and the position
// runs to its full take-profit or trailing stop instead.
var minPartialProfitQty = decimal.NewFromFloat(0.0001)

// statusLogInterval is how often an open trade's status is logged, per
// spec.md §4.6 step 6 ("approximately once per minute per trade").
const statusLogInterval = time.Minute

// pauseAfterLosses maps mode to the consecutive-loss threshold that trips
// a cooldown pause, and the pause duration once tripped. No pack example or
// spec.md table pins a number here; conservative runs get a lower bar and a
// longer pause than aggressive, mirroring the mode's overall risk posture.
func pauseAfterLosses(mode types.Mode) (threshold int, pause time.Duration) {
	switch mode {
	case types.ModeAggressive:
		return 5, 20 * time.Minute
	case types.ModeConservative:
		return 2, 90 * time.Minute
	default:
		return 3, 45 * time.Minute
	}
}

// MarketData is the slice of C2 the monitor needs: current book and enough
// price history to compute a synced trade's strategic SL/TP.
type MarketData interface {
	Book(symbol types.Symbol) (types.OrderBook, bool)
	PriceHistory(symbol types.Symbol) []float64
}

var _ MarketData = (*marketdata.Feed)(nil)

// userState is the per-wallet bookkeeping the monitor owns outright — it
// never shares this map with the analysis loop except through the trade
// store and order manager, both of which serialize internally.
type userState struct {
	mu        sync.Mutex
	trailing  map[string]*types.TrailingState // keyed by coin
	lastLogAt map[string]time.Time
}

// Monitor is the C6 reconciliation and in-flight management loop, one
// instance shared across all active users.
type Monitor struct {
	bridge  venue.Bridge
	md      MarketData
	orders  *orders.Manager
	trades  store.TradeStore
	clock   clock.Clock
	logger  *slog.Logger

	mu    sync.Mutex
	users map[string]*userState
}

// New constructs a position monitor.
func New(bridge venue.Bridge, md MarketData, om *orders.Manager, trades store.TradeStore, c clock.Clock, logger *slog.Logger) *Monitor {
	return &Monitor{
		bridge: bridge,
		md:     md,
		orders: om,
		trades: trades,
		clock:  c,
		logger: logger.With("component", "monitor"),
		users:  make(map[string]*userState),
	}
}

func (m *Monitor) stateFor(wallet string) *userState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.users[wallet]
	if !ok {
		s = &userState{trailing: make(map[string]*types.TrailingState), lastLogAt: make(map[string]time.Time)}
		m.users[wallet] = s
	}
	return s
}

// Run ticks Reconcile once every Interval until ctx is cancelled, per
// spec.md §5's one-iteration-period cancellation guarantee.
func (m *Monitor) Run(ctx context.Context, wallet, agent string, settings func() types.Settings, stats *types.TradingStats, statsMu *sync.Mutex) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cycle(wallet, agent, settings(), stats, statsMu)
		}
	}
}

// Cycle runs one reconciliation pass followed by in-flight management, in
// that order per spec.md §4.6.
func (m *Monitor) Cycle(wallet, agent string, settings types.Settings, stats *types.TradingStats, statsMu *sync.Mutex) {
	positions, failure := m.bridge.GetPositions(agent)
	if failure != nil {
		m.logger.Warn("reconciliation: failed to fetch venue positions", "wallet", wallet, "err", failure)
		return
	}

	venueByCoin := make(map[string]venue.Position, len(positions))
	for _, p := range positions {
		if p.IsFlat() {
			continue
		}
		venueByCoin[p.Coin] = p
	}

	local, err := m.trades.Load(time.Time{}, 0)
	if err != nil {
		m.logger.Error("reconciliation: failed to load local trades", "wallet", wallet, "err", err)
		return
	}

	localByCoin := make(map[string]types.TradeRecord)
	for _, t := range local {
		if t.UserWallet != wallet || t.Status != types.TradeOpen {
			continue
		}
		localByCoin[t.Symbol.Coin()] = t
	}

	state := m.stateFor(wallet)

	for coin, pos := range venueByCoin {
		if _, ok := localByCoin[coin]; !ok {
			m.syncUnknownPosition(wallet, agent, coin, pos, settings)
		}
	}

	for coin, trade := range localByCoin {
		if _, stillOpen := venueByCoin[coin]; !stillOpen {
			m.closeLocalTrade(wallet, coin, trade, stats, statsMu, settings.Mode)
			state.mu.Lock()
			delete(state.trailing, coin)
			delete(state.lastLogAt, coin)
			state.mu.Unlock()
			m.orders.ClearTrackedOrders(wallet, coin)
		}
	}

	for coin, pos := range venueByCoin {
		trade, ok := localByCoin[coin]
		if !ok {
			continue
		}
		m.manageInFlight(wallet, agent, coin, pos, trade, settings, state)
	}
}

// syncUnknownPosition handles a venue-reported open position with no
// matching local record: synthesize one with a strategic SL/TP and place it.
func (m *Monitor) syncUnknownPosition(wallet, agent, coin string, pos venue.Position, settings types.Settings) {
	symbol := types.NewSymbol(coin)
	side := types.Long
	if pos.Size.IsNegative() {
		side = types.Short
	}
	qty := pos.Size.Abs()

	prices := m.md.PriceHistory(symbol)
	regime := decision.ClassifyRegime(prices)
	sltp := decision.StrategicSLTP(prices, pos.EntryPrice, side, settings.Mode,
		mustFloat(settings.StopLossPct), mustFloat(settings.TakeProfitPct), settings.UseSmartSLTP, regime)

	record := types.TradeRecord{
		ID:         coin + "-" + m.clock.Now().UTC().Format("20060102T150405.000000000"),
		UserWallet: wallet,
		Symbol:     symbol,
		Side:       sideFromPosition(side),
		EntryPrice: pos.EntryPrice,
		Quantity:   qty,
		Leverage:   pos.Leverage,
		StopLoss:   sltp.StopLossPrice,
		TakeProfit: sltp.TakeProfitPrice,
		Status:     types.TradeOpen,
		Timestamp:  m.clock.Now(),
	}
	if err := m.trades.Upsert(record); err != nil {
		m.logger.Error("failed to persist synced trade", "wallet", wallet, "coin", coin, "err", err)
		return
	}

	result := m.orders.PlaceSlTpOrders(wallet, coin, side, qty, pos.EntryPrice, sltp.StopLossPrice, sltp.TakeProfitPrice, agent, orders.DefaultFees)
	m.logger.Info("synced untracked venue position", "wallet", wallet, "coin", coin, "side", side, "placed", result.Placed())
}

// closeLocalTrade handles a local open trade the venue no longer reports:
// compute realized PnL from the latest cached mid, update counters, and
// arm a cooldown pause if the consecutive-loss threshold for mode is hit.
func (m *Monitor) closeLocalTrade(wallet, coin string, trade types.TradeRecord, stats *types.TradingStats, statsMu *sync.Mutex, mode types.Mode) {
	exitPrice := trade.EntryPrice
	if book, ok := m.md.Book(trade.Symbol); ok && book.MidPrice.IsPositive() {
		exitPrice = book.MidPrice
	}

	var gross decimal.Decimal
	if trade.Side == types.Buy {
		gross = exitPrice.Sub(trade.EntryPrice).Mul(trade.Quantity)
	} else {
		gross = trade.EntryPrice.Sub(exitPrice).Mul(trade.Quantity)
	}
	exitFee := orders.RoundTripFees(exitPrice.Mul(trade.Quantity), orders.FeeSchedule{TakerRate: orders.DefaultFees.TakerRate}).Div(decimal.NewFromInt(2))
	net := gross.Sub(trade.EntryFee).Sub(exitFee)

	now := m.clock.Now()
	trade.Status = types.TradeClosed
	trade.ExitPrice = &exitPrice
	trade.ExitTime = &now
	trade.GrossPnl = &gross
	trade.NetPnl = &net
	trade.ExitFee = exitFee

	if err := m.trades.Upsert(trade); err != nil {
		m.logger.Error("failed to persist closed trade", "wallet", wallet, "coin", coin, "err", err)
		return
	}

	statsMu.Lock()
	stats.TradesToday++
	stats.DailyPnl = stats.DailyPnl.Add(net)
	stats.LastTradeTs = now
	if net.IsNegative() {
		stats.LossesToday++
		stats.ConsecutiveLosses++
		stats.ConsecutiveWins = 0
	} else {
		stats.WinsToday++
		stats.ConsecutiveWins++
		stats.ConsecutiveLosses = 0
	}
	threshold, pause := pauseAfterLosses(mode)
	if stats.ConsecutiveLosses >= threshold {
		stats.PauseUntilTs = now.Add(pause)
		m.logger.Warn("consecutive-loss threshold reached, pausing", "wallet", wallet, "mode", mode, "losses", stats.ConsecutiveLosses, "until", stats.PauseUntilTs)
	}
	statsMu.Unlock()

	m.logger.Info("trade closed by reconciliation", "wallet", wallet, "coin", coin, "netPnl", net.String())
}

// manageInFlight applies the breakeven, trailing, and partial-profit steps
// to one still-open trade, per spec.md §4.6's in-flight management.
func (m *Monitor) manageInFlight(wallet, agent, coin string, pos venue.Position, trade types.TradeRecord, settings types.Settings, state *userState) {
	state.mu.Lock()
	ts, ok := state.trailing[coin]
	if !ok {
		ts = &types.TrailingState{
			EntryPrice:  trade.EntryPrice,
			CurrentStop: trade.StopLoss,
			HighestSeen: trade.EntryPrice,
			LowestSeen:  trade.EntryPrice,
		}
		state.trailing[coin] = ts
	}
	state.mu.Unlock()

	book, ok := m.md.Book(trade.Symbol)
	if !ok || !book.MidPrice.IsPositive() {
		return
	}
	mid := book.MidPrice
	side := positionSideFromTrade(trade)

	pnlPct := pnlPercent(side, trade.EntryPrice, mid)

	state.mu.Lock()
	if side == types.Long && mid.GreaterThan(ts.HighestSeen) {
		ts.HighestSeen = mid
	}
	if side == types.Short && (ts.LowestSeen.IsZero() || mid.LessThan(ts.LowestSeen)) {
		ts.LowestSeen = mid
	}
	state.mu.Unlock()

	// Step 2: breakeven move.
	if pnlPct >= breakevenTriggerPct {
		worse := (side == types.Long && ts.CurrentStop.LessThan(trade.EntryPrice)) ||
			(side == types.Short && ts.CurrentStop.GreaterThan(trade.EntryPrice))
		if worse {
			if _, err := m.orders.UpdateStopLoss(wallet, coin, side, trade.Quantity, trade.EntryPrice, agent, false); err == nil {
				state.mu.Lock()
				ts.CurrentStop = trade.EntryPrice
				state.mu.Unlock()
			}
		}
	}

	// Step 3: trailing activation.
	if settings.EnableTrailingStop && !ts.TrailingActivated && pnlPct >= mustFloat(settings.TrailingStopActivation) {
		state.mu.Lock()
		ts.TrailingActivated = true
		state.mu.Unlock()
	}

	// Step 4: trailing update.
	if settings.EnableTrailingStop && ts.TrailingActivated {
		dist := mustFloat(settings.TrailingStopDistance) / 100
		var target decimal.Decimal
		if side == types.Long {
			target = ts.HighestSeen.Mul(decimal.NewFromFloat(1 - dist))
		} else {
			target = ts.LowestSeen.Mul(decimal.NewFromFloat(1 + dist))
		}
		improves := (side == types.Long && target.GreaterThan(ts.CurrentStop)) ||
			(side == types.Short && (ts.CurrentStop.IsZero() || target.LessThan(ts.CurrentStop)))
		if improves {
			if _, err := m.orders.UpdateStopLoss(wallet, coin, side, trade.Quantity, target, agent, false); err == nil {
				state.mu.Lock()
				ts.CurrentStop = target
				state.mu.Unlock()
			}
		}
	}

	// Step 5: partial profit at half the target TP.
	halfTargetPct := mustFloat(trade.TakeProfit.Sub(trade.EntryPrice).Div(trade.EntryPrice).Abs().Mul(decimal.NewFromInt(100))) / 2
	if !ts.PartialTaken && pnlPct >= halfTargetPct && halfTargetPct > 0 {
		partialQty := trade.Quantity.Mul(decimal.NewFromFloat(partialProfitFraction))
		remainder := trade.Quantity.Sub(partialQty)
		if partialQty.GreaterThanOrEqual(minPartialProfitQty) && remainder.GreaterThanOrEqual(minPartialProfitQty) {
			closeSide := types.Sell
			if side == types.Short {
				closeSide = types.Buy
			}
			slippage := decimal.NewFromFloat(partialProfitSlippagePct)
			limitPrice := venue.LimitPrice(closeSide, mid, slippage)
			if _, failure := m.bridge.ExecuteLimitOrder(coin, closeSide, partialQty, limitPrice, slippage, agent); failure == nil {
				state.mu.Lock()
				ts.PartialTaken = true
				state.mu.Unlock()
				trade.Quantity = remainder
				_ = m.trades.Upsert(trade)
				m.logger.Info("partial profit taken", "wallet", wallet, "coin", coin, "qty", partialQty.String())
			}
		}
	}

	// Step 6: status snapshot, roughly once per minute.
	state.mu.Lock()
	last, logged := state.lastLogAt[coin]
	due := !logged || m.clock.Now().Sub(last) >= statusLogInterval
	if due {
		state.lastLogAt[coin] = m.clock.Now()
	}
	state.mu.Unlock()
	if due {
		m.logger.Info("position status", "wallet", wallet, "coin", coin, "side", side, "pnlPct", pnlPct, "stop", ts.CurrentStop.String())
	}
}

func pnlPercent(side types.PositionSide, entry, mid decimal.Decimal) float64 {
	if entry.IsZero() {
		return 0
	}
	diff := mid.Sub(entry)
	if side == types.Short {
		diff = diff.Neg()
	}
	pct, _ := diff.Div(entry).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

func sideFromPosition(s types.PositionSide) types.Side {
	if s == types.Long {
		return types.Buy
	}
	return types.Sell
}

func positionSideFromTrade(trade types.TradeRecord) types.PositionSide {
	if trade.Side == types.Buy {
		return types.Long
	}
	return types.Short
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
