package decision

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"perp-engine/internal/clock"
	"perp-engine/internal/indicators"
	"perp-engine/internal/marketdata"
	"perp-engine/internal/orders"
	"perp-engine/internal/safety"
	"perp-engine/internal/sentiment"
	"perp-engine/internal/store"
	"perp-engine/internal/venue"
	"perp-engine/pkg/types"
)

// MarketData is the slice of C2 the decision engine reads from. All
// mutation of these caches happens in the market-data loop (spec.md §5);
// the decision engine only ever takes guarded reads or snapshot copies.
type MarketData interface {
	Book(symbol types.Symbol) (types.OrderBook, bool)
	PriceHistory(symbol types.Symbol) []float64
	Change24h(symbol types.Symbol) float64
	VolumeProfile(symbol types.Symbol, now time.Time) marketdata.VolumeProfile
	RecentTrades(symbol types.Symbol) []types.Trade
}

var _ MarketData = (*marketdata.Feed)(nil)

// TickInterval returns the mode-dependent per-user loop cadence, per
// spec.md §4.4.
func TickInterval(mode types.Mode) time.Duration {
	switch mode {
	case types.ModeAggressive:
		return 8 * time.Second
	case types.ModeConservative:
		return 120 * time.Second
	default:
		return 30 * time.Second
	}
}

// minAlignedCount and minTotalStrength are the mode-dependent confluence
// qualification thresholds from spec.md §4.4 step 5.
func minAlignedCount(mode types.Mode) int {
	switch mode {
	case types.ModeAggressive:
		return 3
	case types.ModeConservative:
		return 5
	default:
		return 4
	}
}

// requiredAlignedCount lets a user's own Settings.MinConfirmations override
// the mode's default aligned-vote threshold when set.
func requiredAlignedCount(settings types.Settings) int {
	if settings.MinConfirmations > 0 {
		return settings.MinConfirmations
	}
	return minAlignedCount(settings.Mode)
}

func minTotalStrength(mode types.Mode) float64 {
	switch mode {
	case types.ModeAggressive:
		return 50
	case types.ModeConservative:
		return 70
	default:
		return 60
	}
}

// maxDailyTrades is the daily trade cap precondition from spec.md §4.4 step
// 1. The spec names the precondition but not the numbers; aggressive runs
// the most ticks per day so it gets the highest cap.
func maxDailyTrades(mode types.Mode) int {
	switch mode {
	case types.ModeAggressive:
		return 40
	case types.ModeConservative:
		return 10
	default:
		return 20
	}
}

// entrySlippagePct is the slippage tolerance applied to the entry limit
// price, per spec.md §4.1's slippage-adjusted limit order.
const entrySlippagePct = 0.1

// rollingWinRateWindow is how many of the most recent closed trades feed
// the win-streak boost and half-Kelly inputs in step 8.
const rollingWinRateWindow = 20

// drawdownPauseDuration is how long a user's loop pauses once
// DrawdownState.ShouldPause trips (drawdown past 2x the configured
// reduce-size threshold), per spec.md §4.4 step 8.
const drawdownPauseDuration = 60 * time.Minute

// defaultCorrelationGroups are spec.md §4.4 step 7's fixed correlation
// sets. They are always used; config.DecisionConfig.CorrelationGroups is
// not read.
var defaultCorrelationGroups = map[string][]string{
	"btc":    {"BTC"},
	"meme":   {"DOGE", "SHIB", "PEPE", "WIF"},
	"defi":   {"UNI", "AAVE", "MKR", "CRV"},
	"layer2": {"ARB", "OP", "MATIC", "STRK"},
	"ai":     {"FET", "RNDR", "TAO", "WLD"},
}

// Dependencies bundles every collaborator the decision engine needs —
// C1 (venue), C2 (market data), C5 (orders), C7 (safety), C8 (sentiment),
// C9 (persistence) — so RunTick stays a pure orchestration over interfaces.
type Dependencies struct {
	Bridge        venue.Bridge
	Market        MarketData
	Orders        *orders.Manager
	Control       *safety.Controller
	SentimentGate *sentiment.Gate
	SentimentLLM  *sentiment.Client // nil disables step 9 entirely
	Trades        store.TradeStore
	Clock         clock.Clock
	Logger        *slog.Logger
	Fees          orders.FeeSchedule
}

// Engine is the Algorithmic Decision Engine (C4): one instance serves
// every user's per-tick analysis loop.
type Engine struct {
	deps Dependencies
}

// New constructs a decision engine bound to its collaborators.
func New(deps Dependencies) *Engine {
	if deps.Fees == (orders.FeeSchedule{}) {
		deps.Fees = orders.DefaultFees
	}
	deps.Logger = deps.Logger.With("component", "decision")
	return &Engine{deps: deps}
}

// TickOutcome is what one call to RunTick accomplished, for logging and
// for the caller (the per-user loop) to update its own bookkeeping.
type TickOutcome struct {
	Traded     bool
	Trade      types.TradeRecord
	Skipped    bool
	SkipReason string
}

func skip(reason string) TickOutcome { return TickOutcome{Skipped: true, SkipReason: reason} }

// RunTick executes the 12-step per-tick decision algorithm from spec.md
// §4.4 for one user. settings and stats are owned exclusively by this
// user's analysis loop (spec.md §5); the engine never mutates another
// user's state.
func (e *Engine) RunTick(wallet, agent string, settings types.Settings, stats *types.TradingStats) TickOutcome {
	d := e.deps
	now := d.Clock.Now()

	// Step 1: pre-conditions.
	if !d.Control.TradingAllowed() {
		return skip("not_running")
	}
	if !stats.PauseUntilTs.IsZero() && now.Before(stats.PauseUntilTs) {
		return skip("paused")
	}
	if stats.TradesToday >= maxDailyTrades(settings.Mode) {
		return skip("daily_trade_cap")
	}
	if settings.EnableSessionFilter && sessionRecommendation(now) == "avoid" {
		return skip("session_filter")
	}
	if len(settings.TradingBag) == 0 {
		return skip("empty_trading_bag")
	}

	// Step 2 + 3: market-data snapshot and heat selection.
	symbol, ok := e.selectHeat(settings.TradingBag, now)
	if !ok {
		return skip("no_qualifying_symbol")
	}

	if onCooldown, remaining := d.Control.CheckAssetCooldown(symbol, safety.DefaultAssetCooldown, false); onCooldown {
		d.Logger.Debug("asset cooldown active", "symbol", symbol, "remaining", remaining)
		return skip("asset_cooldown")
	}

	prices := d.Market.PriceHistory(symbol)
	if len(prices) < 20 {
		return skip("insufficient_history")
	}

	// Step 4: order-book snapshot.
	book, failure := d.Bridge.GetOrderBook(symbol.Coin(), 10)
	if failure != nil {
		d.Logger.Warn("order book fetch failed", "symbol", symbol, "err", failure)
		return skip("order_book_unavailable")
	}
	marketdata.RecomputeDerived(&book)
	bidSizes, askSizes := levelSizes(book.Bids), levelSizes(book.Asks)

	// Step 5: confluence.
	trades := d.Market.RecentTrades(symbol)
	volumes := make([]float64, len(trades))
	for i, t := range trades {
		size, _ := t.Size.Float64()
		volumes[i] = size
	}
	confluence := Confluence(confluenceInput{Prices: prices, Volumes: volumes, BidSizes: bidSizes, AskSizes: askSizes})
	if confluence.Direction == DirNeutral ||
		confluence.AlignedCount < requiredAlignedCount(settings) ||
		confluence.TotalStrength < minTotalStrength(settings.Mode) {
		return skip("confluence_not_qualified")
	}

	// Step 6: regime.
	regime := ClassifyRegime(prices)
	if !RegimeAllowsTrade(regime, settings.Mode, settings.AllowCounterTrend) {
		return skip("regime_avoid")
	}

	// Step 7: correlation check.
	positions, failure := d.Bridge.GetPositions(agent)
	if failure != nil {
		d.Logger.Warn("positions fetch failed during correlation check", "wallet", wallet, "err", failure)
		return skip("positions_unavailable")
	}
	if !correlationAllows(symbol.Coin(), positions) {
		return skip("correlation_limit")
	}

	// Step 8: dynamic sizing.
	side := types.Long
	if confluence.Direction == DirShort {
		side = types.Short
	}
	drawdown := DrawdownFromEquity(mustFloat(stats.MaxDailyDrawdown), mustFloat(settings.MaxDrawdownPct))
	if drawdown.ShouldPause {
		until := now.Add(drawdownPauseDuration)
		reason := fmt.Sprintf("drawdown %.2f%% breached 2x the %.2f%% threshold", mustFloat(stats.MaxDailyDrawdown), mustFloat(settings.MaxDrawdownPct))
		d.Control.Pause(reason, until)
		stats.PauseUntilTs = until
		return skip("drawdown_pause")
	}

	winRate, avgWinLoss := rollingTradeStats(d.Trades, wallet, rollingWinRateWindow)
	sizeMult := SizeMultiplier(SizingInput{
		Stats:             *stats,
		ConfluenceScore:   confluence.TotalStrength,
		WinRateLastTwenty: winRate,
		KellyFraction:     HalfKelly(winRate, avgWinLoss),
		Drawdown:          drawdown,
	})

	// Step 9: optional sentiment advisory — never required to proceed.
	if d.SentimentLLM != nil && d.SentimentGate != nil {
		e.maybeApplySentiment(symbol, confluence.TotalStrength, settings.Mode, &sizeMult)
		if sizeMult < 0 {
			return skip("sentiment_avoid")
		}
	}

	// Step 10: strategic SL/TP.
	entry := book.MidPrice
	baseSL := mustFloat(settings.StopLossPct) * regime.SLMultiplier
	baseTP := mustFloat(settings.TakeProfitPct) * regime.TPMultiplier
	sltp := StrategicSLTP(prices, entry, side, settings.Mode, baseSL, baseTP, settings.UseSmartSLTP, regime)

	// Step 11: profitability gate.
	qty := positionQty(d.Bridge, agent, settings.PositionSizePct, sizeMult, entry)
	if qty.IsZero() || qty.IsNegative() {
		return skip("zero_size")
	}
	if ok, netProfit, totalFees := orders.ProfitabilityGate(side, entry, sltp.TakeProfitPrice, qty, d.Fees); !ok {
		d.Logger.Debug("profitability gate rejected trade", "symbol", symbol, "netProfit", netProfit.String(), "totalFees", totalFees.String())
		return skip("unprofitable")
	}

	// Step 12: commit.
	return e.commit(wallet, agent, symbol, side, qty, entry, sltp, confluence, settings, stats, now)
}

func (e *Engine) commit(wallet, agent string, symbol types.Symbol, side types.PositionSide, qty, entry decimal.Decimal, sltp SLTPResult, confluence ConfluenceResult, settings types.Settings, stats *types.TradingStats, now time.Time) TickOutcome {
	d := e.deps
	orderSide := types.Buy
	if side == types.Short {
		orderSide = types.Sell
	}
	limitPrice := venue.LimitPrice(orderSide, entry, decimal.NewFromFloat(entrySlippagePct))

	result, failure := d.Bridge.ExecuteLimitOrder(symbol.Coin(), orderSide, qty, limitPrice, decimal.NewFromFloat(entrySlippagePct), agent)
	if failure != nil {
		d.Logger.Error("entry order failed", "symbol", symbol, "err", failure)
		return skip("entry_order_failed")
	}

	placed := d.Orders.PlaceSlTpOrders(wallet, symbol.Coin(), side, qty, entry, sltp.StopLossPrice, sltp.TakeProfitPrice, agent, d.Fees)

	notional := entry.Mul(qty)
	entryFee := notional.Mul(d.Fees.TakerRate)

	trade := types.TradeRecord{
		ID:            uuid.NewString(),
		UserWallet:    wallet,
		Symbol:        symbol,
		Side:          orderSide,
		EntryPrice:    entry,
		Quantity:      qty,
		Leverage:      settings.MaxLeverage,
		StopLoss:      sltp.StopLossPrice,
		TakeProfit:    sltp.TakeProfitPrice,
		EntryFee:      entryFee,
		Status:        types.TradeOpen,
		Confidence:    decimal.NewFromFloat(confluence.TotalStrength),
		ReasoningText: reasoningText(confluence),
		Timestamp:     now,
	}
	if err := d.Trades.Upsert(trade); err != nil {
		d.Logger.Error("failed to persist committed trade", "wallet", wallet, "symbol", symbol, "err", err)
	}

	stats.TradesToday++
	stats.LastTradeTs = now
	d.Control.RecordTrade(symbol)

	d.Logger.Info("trade committed", "wallet", wallet, "symbol", symbol, "side", orderSide, "qty", qty.String(),
		"entry", entry.String(), "orderID", result.OrderID, "slPlaced", placed.StopLossOrderID != "", "tpPlaced", placed.TakeProfitOrderID != "")

	return TickOutcome{Traded: true, Trade: trade}
}

// maybeApplySentiment runs step 9: if the gate allows a call, queries the
// LLM and folds its verdict in. A shouldAvoid response is signaled by
// setting *sizeMult negative, which RunTick reads as an abort; it never
// otherwise changes sizing beyond the multiplier already computed.
func (e *Engine) maybeApplySentiment(symbol types.Symbol, score float64, mode types.Mode, sizeMult *float64) {
	d := e.deps
	cfg := sentiment.ModeConfig{CallsPerDay: 50, MinScoreToCall: 60, MinCooldown: 15 * time.Second, MinVolatility: 0, MaxVolatility: 0}
	check := d.SentimentGate.Check(cfg, sentiment.CheckInput{Mode: mode, Symbol: symbol, Score: score})
	if !check.Allowed {
		return
	}

	prompt := sentiment.BuildPrompt(symbol, score, sentiment.Pattern{}, "")
	raw, err := d.SentimentLLM.Query(prompt)
	if err != nil {
		d.Logger.Debug("sentiment call failed, proceeding without advisory", "symbol", symbol, "err", err)
		return
	}
	d.SentimentGate.RecordCall(symbol, score, "confluence_qualified")

	advisory, err := sentiment.ParseResponse([]byte(raw))
	if err != nil || advisory == nil {
		d.Logger.Debug("sentiment response parse failure, proceeding without advisory", "symbol", symbol, "err", err)
		return
	}
	if advisory.ShouldAvoid {
		*sizeMult = -1
		return
	}
	if advisory.ShouldBoost {
		d.Logger.Info("sentiment advisory boost (sizing unchanged)", "symbol", symbol, "newsScore", advisory.NewsScore)
	}
}

// selectHeat implements spec.md §4.4 step 3's scoring formula across the
// user's trading bag, breaking ties alphabetically by symbol.
func (e *Engine) selectHeat(bag []types.Symbol, now time.Time) (types.Symbol, bool) {
	d := e.deps
	var best types.Symbol
	bestScore := math.Inf(-1)
	found := false

	for _, symbol := range bag {
		prices := d.Market.PriceHistory(symbol)
		if len(prices) < 15 {
			continue
		}
		vol := indicators.Volatility(prices, 10)
		mom := math.Abs(momentum5(prices))
		trend := indicators.TrendStrength(prices, 14)
		trendBonus := 0.0
		if trend.Strength >= 25 && trend.Direction != indicators.DirSideway {
			trendBonus = 10
		}
		profile := d.Market.VolumeProfile(symbol, now)
		volume := profile.BuyNotional + profile.SellNotional
		volumeTerm := 0.0
		if volume > 0 {
			volumeTerm = math.Log10(volume/1e6) * 5
		}

		score := vol*20 + mom*15 + trendBonus + volumeTerm
		if !found || score > bestScore || (score == bestScore && symbol < best) {
			best, bestScore, found = symbol, score, true
		}
	}
	return best, found
}

func levelSizes(levels []types.OrderBookLevel) []float64 {
	out := make([]float64, len(levels))
	for i, l := range levels {
		out[i] = mustFloat(l.Size)
	}
	return out
}

// correlationAllows enforces spec.md §4.4 step 7: at most 2 correlated
// positions per group, dropping to 1 if any BTC position is already open.
func correlationAllows(candidateCoin string, open []venue.Position) bool {
	group := groupFor(candidateCoin)
	if group == "" {
		return true
	}

	btcOpen := false
	groupCount := 0
	for _, p := range open {
		if p.IsFlat() {
			continue
		}
		if groupFor(p.Coin) == "btc" {
			btcOpen = true
		}
		if groupFor(p.Coin) == group {
			groupCount++
		}
	}

	maxInGroup := 2
	if btcOpen {
		maxInGroup = 1
	}
	return groupCount < maxInGroup
}

func groupFor(coin string) string {
	coin = strings.ToUpper(coin)
	for group, members := range defaultCorrelationGroups {
		for _, m := range members {
			if m == coin {
				return group
			}
		}
	}
	return ""
}

// rollingTradeStats computes the win rate and average win/loss ratio over
// the most recent closed trades, feeding step 8's win-streak boost and
// half-Kelly sizing input.
func rollingTradeStats(trades store.TradeStore, wallet string, window int) (winRate, avgWinLoss float64) {
	all, err := trades.Load(time.Time{}, 0)
	if err != nil {
		return 0, 0
	}

	var closed []types.TradeRecord
	for _, t := range all {
		if t.UserWallet == wallet && t.Status == types.TradeClosed && t.NetPnl != nil {
			closed = append(closed, t)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].Timestamp.After(closed[j].Timestamp) })
	if len(closed) > window {
		closed = closed[:window]
	}
	if len(closed) == 0 {
		return 0, 0
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, t := range closed {
		pnl, _ := t.NetPnl.Float64()
		if pnl >= 0 {
			wins++
			winSum += pnl
		} else {
			losses++
			lossSum += -pnl
		}
	}
	winRate = float64(wins) / float64(len(closed))
	if losses == 0 || lossSum == 0 {
		return winRate, 0
	}
	avgWin := winSum / math.Max(float64(wins), 1)
	avgLoss := lossSum / float64(losses)
	if avgLoss == 0 {
		return winRate, 0
	}
	return winRate, avgWin / avgLoss
}

// positionQty sizes the entry quantity from the account's withdrawable
// balance, the user's base position-size percentage, and the dynamic
// sizing multiplier from step 8.
func positionQty(bridge venue.Bridge, agent string, positionSizePct decimal.Decimal, sizeMult float64, entry decimal.Decimal) decimal.Decimal {
	balance, failure := bridge.GetBalance(agent)
	if failure != nil || entry.IsZero() {
		return decimal.Zero
	}
	notional := balance.AccountValue.Mul(positionSizePct).Div(decimal.NewFromInt(100)).Mul(decimal.NewFromFloat(sizeMult))
	return notional.Div(entry)
}

// sessionRecommendation is a coarse liquidity-session read from UTC hour:
// the low-liquidity band between the NY close and the Tokyo/London
// overlap (spec.md's "session filter") is flagged avoid.
func sessionRecommendation(now time.Time) string {
	hour := now.UTC().Hour()
	if hour >= 21 || hour < 1 {
		return "avoid"
	}
	return "trade"
}

func reasoningText(c ConfluenceResult) string {
	var names []string
	for _, v := range c.Votes {
		if v.Direction == c.Direction {
			names = append(names, v.Name)
		}
	}
	return fmt.Sprintf("%s confluence (%d/%d aligned, strength %.1f): %s", c.Direction, c.AlignedCount, c.AlignedCount+c.OpposedCount, c.TotalStrength, strings.Join(names, ", "))
}
