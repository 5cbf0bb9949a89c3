// Package engine is the top-level orchestrator: it wires the venue bridge,
// market-data feed, decision engine, order manager, position monitor, safety
// controller, and persistence adapters into one running process, adapted
// from 0xtitan6-polymarket-mm/internal/engine/engine.go's goroutine-group
// shape (one goroutine per subsystem, context cancellation, WaitGroup join
// on shutdown).
package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perp-engine/internal/clock"
	"perp-engine/internal/config"
	"perp-engine/internal/decision"
	"perp-engine/internal/marketdata"
	"perp-engine/internal/monitor"
	"perp-engine/internal/orders"
	"perp-engine/internal/safety"
	"perp-engine/internal/sentiment"
	"perp-engine/internal/store"
	"perp-engine/internal/venue"
	"perp-engine/pkg/types"
)

// controlMaintenanceInterval is how often the engine checks for an expired
// pause, refreshes the daily-loss breach check, and republishes control
// state to the metrics gauges.
const controlMaintenanceInterval = 30 * time.Second

// Engine bundles every collaborator and drives the single configured
// user's per-tick analysis loop plus the shared market-data and position
// monitor loops, per spec.md §5. The store layer is general enough to hold
// multiple users' data, but one engine instance drives exactly one
// configured wallet/agent pair (see DESIGN.md's Open Question decision).
type Engine struct {
	cfg    config.Config
	logger *slog.Logger
	clk    clock.Clock

	wallet string
	agent  string

	bridge   venue.Bridge
	disp     *marketdata.Dispatcher
	feed     *marketdata.Feed
	orders   *orders.Manager
	control  *safety.Controller
	decision *decision.Engine
	monitor  *monitor.Monitor

	settingsStore store.SettingsStore
	tradeStore    store.TradeStore
	agentStore    store.AgentStore

	statsMu sync.Mutex
	stats   types.TradingStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates configuration, constructs every collaborator, and wires
// them together. It does not start any goroutine; call Start for that.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	wallet, err := venue.ValidateAddress(cfg.Venue.UserWallet)
	if err != nil {
		return nil, fmt.Errorf("engine: user wallet: %w", err)
	}
	agent := cfg.Venue.AgentAddress
	if !cfg.DryRun {
		agent, err = venue.ValidateAddress(cfg.Venue.AgentAddress)
		if err != nil {
			return nil, fmt.Errorf("engine: agent address: %w", err)
		}
	}

	clk := clock.Real{}
	logger = logger.With("wallet", wallet)

	disp := marketdata.NewDispatcher()
	feed := marketdata.NewFeed(cfg.Venue.WSMarketURL, disp, logger)
	disp.Subscribe(marketdata.EventDisconnected, func(ev any) {
		if d, ok := ev.(marketdata.DisconnectedEvent); ok {
			logger.Error("market data feed gave up reconnecting", "reason", d.Reason)
		}
	})

	bridge := venue.NewSubprocessBridge(cfg.Venue.SignerPath, cfg.Venue.AgentKey, cfg.DryRun, logger)

	orderMgr := orders.New(bridge, logger)

	controller := safety.New(types.NetworkMode(cfg.Venue.NetworkMode), clk, logger)

	settingsStore, err := store.NewJSONSettingsStore(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("engine: settings store: %w", err)
	}
	tradeStore, err := store.NewJSONTradeStore(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("engine: trade store: %w", err)
	}
	agentStore, err := newAgentStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: agent store: %w", err)
	}

	var gate *sentiment.Gate
	var llm *sentiment.Client
	if cfg.Sentiment.Enabled {
		gate = sentiment.New(clk)
		llm = sentiment.NewClient(cfg.Sentiment.BaseURL, cfg.Sentiment.APIKey, cfg.Sentiment.Model)
	}

	decisionEng := decision.New(decision.Dependencies{
		Bridge:        bridge,
		Market:        feed,
		Orders:        orderMgr,
		Control:       controller,
		SentimentGate: gate,
		SentimentLLM:  llm,
		Trades:        tradeStore,
		Clock:         clk,
		Logger:        logger,
		Fees:          orders.DefaultFees,
	})

	mon := monitor.New(bridge, feed, orderMgr, tradeStore, clk, logger)

	e := &Engine{
		cfg:           cfg,
		logger:        logger,
		clk:           clk,
		wallet:        wallet,
		agent:         agent,
		bridge:        bridge,
		disp:          disp,
		feed:          feed,
		orders:        orderMgr,
		control:       controller,
		decision:      decisionEng,
		monitor:       mon,
		settingsStore: settingsStore,
		tradeStore:    tradeStore,
		agentStore:    agentStore,
	}
	e.stats.SetResetDate(clock.UTCDateString(clk))
	controller.SetKillHook(e.closeAllBestEffort)
	return e, nil
}

// closeAllBestEffort cancels every open order and closes every open
// position for the configured agent. It runs the instant the kill switch
// engages (manual dashboard kill or a daily-loss breach), per spec.md
// §4.7's "forces disarm... SHOULD trigger close-all and cancel-all
// best-effort" and §5/§7's best-effort framing: failures here are logged,
// never retried or escalated.
func (e *Engine) closeAllBestEffort(reason string) {
	if e.agent == "" {
		return
	}
	e.logger.Warn("kill switch engaged, sweeping orders and positions", "reason", reason)

	if failure := e.bridge.CancelAllOrders("", e.agent); failure != nil {
		e.logger.Warn("kill-switch cancel-all failed", "err", failure)
	}

	positions, failure := e.bridge.GetPositions(e.agent)
	if failure != nil {
		e.logger.Warn("kill-switch: failed to list positions for close-all", "err", failure)
		return
	}
	for _, p := range positions {
		if _, failure := e.bridge.ClosePosition(p.Coin, e.agent); failure != nil {
			e.logger.Warn("kill-switch close-position failed", "coin", p.Coin, "err", failure)
		}
	}
}

// newAgentStore decodes the configured encryption key and builds the
// agent-credential store. In dry-run with no key configured, a throwaway
// key is used since no real credentials are ever sealed.
func newAgentStore(cfg config.Config) (store.AgentStore, error) {
	keyHex := cfg.Store.EncryptionKeyHex
	if keyHex == "" && cfg.DryRun {
		keyHex = "0000000000000000000000000000000000000000000000000000000000000000"[:64]
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	return store.NewJSONAgentStore(cfg.Store.DataDir, key)
}

// currentSettings returns the user's persisted settings, falling back to
// mode-seeded defaults (an empty trading bag) when none have been saved yet.
func (e *Engine) currentSettings() types.Settings {
	settings, ok, err := e.settingsStore.Get(e.wallet)
	if err != nil {
		e.logger.Error("failed to load settings, using defaults", "err", err)
	}
	if !ok {
		return defaultSettings(types.Mode(e.cfg.Decision.Mode), e.cfg.Decision.MinConfirmations)
	}
	return settings
}

// defaultSettings seeds a new user's settings; the trading bag starts
// empty, so no symbol is traded until settings are saved. minConfirmations carries
// the operator's configured confluence-vote floor (config.DecisionConfig's
// MinConfirmations) through to the per-user Settings a fresh wallet starts
// with; 0 leaves the mode's own default threshold in force.
func defaultSettings(mode types.Mode, minConfirmations float64) types.Settings {
	return types.Settings{
		Mode:             mode,
		MaxLeverage:      3,
		PositionSizePct:  decimal.NewFromInt(2),
		StopLossPct:      decimal.NewFromFloat(2),
		TakeProfitPct:    decimal.NewFromFloat(4),
		MaxDrawdownPct:   decimal.NewFromInt(10),
		MinConfirmations: int(minConfirmations),
	}
}

// Start launches one goroutine per subsystem: the market-data feed, the
// user's decision-tick loop, the position monitor, and a low-frequency
// control-plane maintenance loop. It returns immediately.
func (e *Engine) Start() {
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.feed.Run(e.ctx)
	}()

	e.wg.Add(1)
	go e.runTickLoop(e.ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.monitor.Run(e.ctx, e.wallet, e.agent, e.currentSettings, &e.stats, &e.statsMu)
	}()

	e.wg.Add(1)
	go e.runControlMaintenanceLoop(e.ctx)

	e.logger.Info("engine started", "mode", e.cfg.Decision.Mode, "dryRun", e.cfg.DryRun)
}

// runTickLoop drives this user's per-tick analysis loop at the
// mode-dependent cadence, per spec.md §4.4/§5.
func (e *Engine) runTickLoop(ctx context.Context) {
	defer e.wg.Done()

	settings := e.currentSettings()
	ticker := time.NewTicker(decision.TickInterval(settings.Mode))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.maybeResetDailyStats()

			settings = e.currentSettings()
			e.statsMu.Lock()
			outcome := e.decision.RunTick(e.wallet, e.agent, settings, &e.stats)
			e.statsMu.Unlock()

			if outcome.Traded {
				confluence, _ := outcome.Trade.Confidence.Float64()
				recordTrade(string(outcome.Trade.Side), confluence)
				recordTickOutcome("traded")
			} else {
				recordTickOutcome(outcome.SkipReason)
				if isGateDenial(outcome.SkipReason) {
					recordGateDenial(outcome.SkipReason)
				}
			}
		}
	}
}

// isGateDenial reports whether a skip reason represents a gate actively
// vetoing an otherwise-qualified trade, as opposed to a precondition that
// never reached scoring.
func isGateDenial(reason string) bool {
	switch reason {
	case "sentiment_avoid", "regime_avoid", "correlation_limit", "asset_cooldown", "unprofitable", "confluence_not_qualified":
		return true
	default:
		return false
	}
}

// runControlMaintenanceLoop resumes an expired pause, re-checks the daily
// loss breach against the venue's reported equity, and republishes control
// state and daily PnL to the metrics gauges.
func (e *Engine) runControlMaintenanceLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(controlMaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.control.ResumeIfDue()

			e.statsMu.Lock()
			dailyPnl, _ := e.stats.DailyPnl.Float64()
			e.statsMu.Unlock()
			setDailyPnl(dailyPnl)

			if balance, failure := e.bridge.GetBalance(e.agent); failure == nil {
				equity, _ := balance.AccountValue.Float64()
				limit := equity * e.cfg.Risk.MaxDailyLossPct / 100
				e.control.CheckDailyLossBreach(math.Max(0, -dailyPnl), limit)
			}

			setControlState(string(e.control.Snapshot().Status))
		}
	}
}

// maybeResetDailyStats zeroes the rolling counters once the UTC calendar
// date has advanced past the last reset.
func (e *Engine) maybeResetDailyStats() {
	today := clock.UTCDateString(e.clk)
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	if e.stats.ResetDate() == today {
		return
	}
	e.stats = types.TradingStats{}
	e.stats.SetResetDate(today)
	e.logger.Info("daily trading stats reset", "date", today)
}

// Stop cancels every loop, fires a best-effort cancel-all on the venue,
// and waits for every goroutine to return.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()

	if failure := e.bridge.CancelAllOrders("", e.agent); failure != nil {
		e.logger.Warn("cancel-all on shutdown failed", "err", failure)
	}

	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// Control exposes the safety controller for the dashboard API.
func (e *Engine) Control() *safety.Controller { return e.control }

// Wallet returns the configured user wallet this engine instance drives.
func (e *Engine) Wallet() string { return e.wallet }

// Agent returns the configured agent address this engine instance trades as.
func (e *Engine) Agent() string { return e.agent }

// AgentConfigured reports whether a signing agent has been configured, a
// precondition safety.Controller.Arm checks before leaving Unarmed.
func (e *Engine) AgentConfigured() bool { return e.agent != "" }

// NetworkMode returns the venue network this engine instance is configured
// against, the value an arm request must match.
func (e *Engine) NetworkMode() types.NetworkMode { return types.NetworkMode(e.cfg.Venue.NetworkMode) }
