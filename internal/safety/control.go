// Package safety is the Safety / Control Plane (C7): the whole-engine
// arm/disarm/kill state machine, per-asset cooldowns, and the daily-loss
// breach that forces a kill.
package safety

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"perp-engine/internal/clock"
	"perp-engine/pkg/types"
)

// ArmConfirmation is the exact phrase an arm request must supply.
const ArmConfirmation = "I UNDERSTAND THE RISKS"

// ResetKillConfirmation is the exact phrase a reset-kill request must supply.
const ResetKillConfirmation = "RESET KILL SWITCH"

// liveTradingEnvVar gates arming to mainnet/testnet independent of config,
// per spec.md §4.7.
const liveTradingEnvVar = "LIVE_TRADING_ENABLED"

// DefaultAssetCooldown is the minimum spacing between trades on the same
// symbol, per spec.md §4.7.
const DefaultAssetCooldown = 5 * time.Minute

// ArmRequest is the input to Arm.
type ArmRequest struct {
	Confirmation    string
	RequestedMode   types.NetworkMode
	RequestedBy     string
	AgentConfigured bool
}

// Denial is an InputValidation-class rejection (spec.md §7): no state
// change, a machine-readable reason code, and a human-readable message.
type Denial struct {
	Code    string
	Message string
}

func (d *Denial) Error() string { return fmt.Sprintf("%s: %s", d.Code, d.Message) }

func deny(code, format string, args ...any) *Denial {
	return &Denial{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Controller owns the ControlState and enforces every transition in
// spec.md §4.7. All methods are safe for concurrent use.
type Controller struct {
	mu    sync.Mutex
	state types.ControlState
	clock clock.Clock

	configuredMode types.NetworkMode // the venue network the engine was started against

	assetCooldownMu sync.Mutex
	lastTradeAt     map[types.Symbol]time.Time

	killHookMu sync.Mutex
	onKill     func(reason string)

	logger *slog.Logger
}

// New constructs a Controller starting Unarmed, bound to the venue network
// mode the engine was configured for.
func New(configuredMode types.NetworkMode, c clock.Clock, logger *slog.Logger) *Controller {
	return &Controller{
		state:          types.ControlState{Status: types.Unarmed},
		clock:          c,
		configuredMode: configuredMode,
		lastTradeAt:    make(map[types.Symbol]time.Time),
		logger:         logger.With("component", "safety"),
	}
}

// Snapshot returns a copy of the current control state.
func (c *Controller) Snapshot() types.ControlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Arm transitions Unarmed -> Armed(mode), per spec.md §4.7. Every
// precondition failure is an InputValidation Denial; engine state is
// unchanged on failure.
func (c *Controller) Arm(req ArmRequest) *Denial {
	if req.Confirmation != ArmConfirmation {
		return deny("bad_confirmation", "confirmation phrase does not match")
	}
	if os.Getenv(liveTradingEnvVar) != "true" {
		return deny("live_trading_disabled", "%s is not set to true", liveTradingEnvVar)
	}
	if req.RequestedMode != c.configuredMode {
		return deny("network_mismatch", "requested mode %q does not match configured venue network %q", req.RequestedMode, c.configuredMode)
	}
	if !req.AgentConfigured {
		return deny("no_agent", "no agent credentials configured")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.KillSwitchActive {
		return deny("kill_switch_active", "kill switch is active; reset it before arming")
	}

	c.state = types.ControlState{
		Status:      types.Armed,
		ArmedAt:     c.clock.Now(),
		ArmedBy:     req.RequestedBy,
		NetworkMode: req.RequestedMode,
	}
	c.logger.Info("armed", "mode", req.RequestedMode, "by", req.RequestedBy)
	return nil
}

// Disarm unconditionally returns the engine to paper mode.
func (c *Controller) Disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Status = types.Unarmed
	c.state.NetworkMode = types.NetworkPaper
	c.logger.Info("disarmed")
}

// SetKillHook registers a best-effort callback fired the moment the kill
// switch transitions from inactive to active (not on every repeated Kill
// call while it's already engaged). The engine orchestrator wires this to
// its venue cancel-all/close-all sweep, per spec.md §4.7/§5/§7.
func (c *Controller) SetKillHook(fn func(reason string)) {
	c.killHookMu.Lock()
	defer c.killHookMu.Unlock()
	c.onKill = fn
}

// Kill immediately sets the kill switch, forcing disarm, and fires the
// registered kill hook (if any) the first time the switch engages.
func (c *Controller) Kill(reason string) {
	c.mu.Lock()
	alreadyActive := c.state.KillSwitchActive
	c.state.Status = types.KillSwitchActive
	c.state.KillSwitchActive = true
	c.state.KillReason = reason
	c.mu.Unlock()
	c.logger.Warn("kill switch engaged", "reason", reason)

	if alreadyActive {
		return
	}
	c.killHookMu.Lock()
	hook := c.onKill
	c.killHookMu.Unlock()
	if hook != nil {
		hook(reason)
	}
}

// ResetKill clears the kill switch, requiring the exact confirmation phrase.
func (c *Controller) ResetKill(confirmation string) *Denial {
	if confirmation != ResetKillConfirmation {
		return deny("bad_confirmation", "reset-kill confirmation phrase does not match")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = types.ControlState{Status: types.Unarmed}
	c.logger.Info("kill switch reset")
	return nil
}

// Pause schedules a pause until the given time (the decision engine calls
// this on a drawdown breach).
func (c *Controller) Pause(reason string, until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status == types.KillSwitchActive {
		return
	}
	c.state.Status = types.Paused
	c.state.PausedReason = reason
	c.state.PausedUntil = until
	c.logger.Info("paused", "reason", reason, "until", until)
}

// ResumeIfDue auto-resumes from Paused once now >= PausedUntil, per
// spec.md §4.7.
func (c *Controller) ResumeIfDue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != types.Paused {
		return
	}
	if !c.clock.Now().Before(c.state.PausedUntil) {
		c.state.Status = types.Running
		c.logger.Info("resumed from pause")
	}
}

// MarkRunning transitions Armed -> Running once the per-user loop starts.
func (c *Controller) MarkRunning(wallet string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status == types.Armed {
		c.state.Status = types.Running
		c.state.ActiveUserWallet = wallet
	}
}

// CheckDailyLossBreach triggers Kill when dailyLoss meets or exceeds the
// configured limit, per spec.md §4.7.
func (c *Controller) CheckDailyLossBreach(dailyLoss, dailyLossLimit float64) {
	if dailyLossLimit <= 0 {
		return
	}
	if dailyLoss >= dailyLossLimit {
		c.Kill(fmt.Sprintf("daily loss %.2f breached limit %.2f", dailyLoss, dailyLossLimit))
	}
}

// TradingAllowed reports whether the engine is in a state that permits the
// decision engine to act at all (armed-and-running, not paused or killed).
func (c *Controller) TradingAllowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status == types.Running
}

// CheckAssetCooldown reports whether symbol is still inside its per-asset
// cooldown window. A force bypass is allowed and is logged here, per
// spec.md §4.7.
func (c *Controller) CheckAssetCooldown(symbol types.Symbol, cooldown time.Duration, force bool) (onCooldown bool, remaining time.Duration) {
	if cooldown <= 0 {
		cooldown = DefaultAssetCooldown
	}
	c.assetCooldownMu.Lock()
	last, ok := c.lastTradeAt[symbol]
	c.assetCooldownMu.Unlock()
	if !ok {
		return false, 0
	}
	elapsed := c.clock.Now().Sub(last)
	if elapsed >= cooldown {
		return false, 0
	}
	if force {
		c.logger.Info("asset cooldown bypassed by force", "symbol", symbol, "remaining", cooldown-elapsed)
		return false, 0
	}
	return true, cooldown - elapsed
}

// RecordTrade stamps symbol's last-trade time for the asset-cooldown check.
func (c *Controller) RecordTrade(symbol types.Symbol) {
	c.assetCooldownMu.Lock()
	c.lastTradeAt[symbol] = c.clock.Now()
	c.assetCooldownMu.Unlock()
}
