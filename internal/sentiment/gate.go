// Package sentiment is the LLM Sentiment Gate (C8): the single source of
// truth for whether an external LLM may be invoked, strictly rate-limited
// and never required for a trade decision.
package sentiment

import (
	"sync"
	"time"

	"perp-engine/internal/clock"
	"perp-engine/pkg/types"
)

// ModeConfig is the per-mode gate configuration from spec.md §4.8.
type ModeConfig struct {
	CallsPerDay     int
	MinScoreToCall  float64
	MinCooldown     time.Duration
	RequirePattern  bool
	MinVolatility   float64
	MaxVolatility   float64
}

// Pattern describes a detected chart pattern's type and direction, an input
// to the gate's requirePattern check.
type Pattern struct {
	Type      string
	Direction string
}

func (p Pattern) none() bool { return p.Type == "" }

// CheckInput bundles the gate's decision-order inputs for one candidate call.
type CheckInput struct {
	Mode       types.Mode
	Symbol     types.Symbol
	Score      float64
	Pattern    Pattern
	Volatility float64
	Force      bool
}

// DenyReason enumerates the gate's deny codes, in decision order.
type DenyReason string

const (
	DenyDailyLimit     DenyReason = "daily_limit"
	DenyCooldown       DenyReason = "cooldown"
	DenyLowScore       DenyReason = "low_score"
	DenyNoPattern      DenyReason = "no_pattern"
	DenyLowVolatility  DenyReason = "low_volatility"
	DenyHighVolatility DenyReason = "high_volatility"
)

// CheckResult is the gate's verdict. Allowed=false always carries Reason;
// RemainingMs is only meaningful for DenyCooldown.
type CheckResult struct {
	Allowed     bool
	Reason      DenyReason
	RemainingMs int64
	Bypassed    bool // true when Force overrode a non-daily-limit denial
}

// Gate is the per-engine LLM call gate. One instance serves all users —
// the daily/cooldown counters are engine-wide, matching the single "Grok
// usage" budget spec.md §6 exposes via /trading/grok-usage.
type Gate struct {
	clock clock.Clock

	mu    sync.Mutex
	state types.LLMGateState
}

// New constructs a Gate starting with a zeroed call history.
func New(c clock.Clock) *Gate {
	return &Gate{clock: c}
}

// Snapshot returns a copy of the gate's bookkeeping state.
func (g *Gate) Snapshot() types.LLMGateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) resetIfNewDayLocked() {
	today := clock.UTCDateString(g.clock)
	if g.state.LastResetDate != today {
		g.state.CallsToday = 0
		g.state.LastResetDate = today
	}
}

// Check evaluates the decision order from spec.md §4.8. Force bypasses
// every check except the daily limit; a bypass is recorded in the result
// so the caller can log it.
func (g *Gate) Check(cfg ModeConfig, in CheckInput) CheckResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDayLocked()

	if cfg.CallsPerDay > 0 && g.state.CallsToday >= cfg.CallsPerDay {
		g.state.ConsecutiveSkips++
		g.state.LastSkipReason = string(DenyDailyLimit)
		return CheckResult{Reason: DenyDailyLimit}
	}

	if cfg.MinCooldown > 0 && !g.state.LastCallTs.IsZero() {
		elapsed := g.clock.Now().Sub(g.state.LastCallTs)
		if elapsed < cfg.MinCooldown {
			remaining := cfg.MinCooldown - elapsed
			if !in.Force {
				g.state.ConsecutiveSkips++
				g.state.LastSkipReason = string(DenyCooldown)
				return CheckResult{Reason: DenyCooldown, RemainingMs: remaining.Milliseconds()}
			}
			return g.allowLocked(true)
		}
	}

	if in.Score < cfg.MinScoreToCall {
		if !in.Force {
			g.state.ConsecutiveSkips++
			g.state.LastSkipReason = string(DenyLowScore)
			return CheckResult{Reason: DenyLowScore}
		}
		return g.allowLocked(true)
	}

	if cfg.RequirePattern && in.Pattern.none() {
		if !in.Force {
			g.state.ConsecutiveSkips++
			g.state.LastSkipReason = string(DenyNoPattern)
			return CheckResult{Reason: DenyNoPattern}
		}
		return g.allowLocked(true)
	}

	if cfg.MinVolatility > 0 && in.Volatility < cfg.MinVolatility {
		if !in.Force {
			g.state.ConsecutiveSkips++
			g.state.LastSkipReason = string(DenyLowVolatility)
			return CheckResult{Reason: DenyLowVolatility}
		}
		return g.allowLocked(true)
	}

	if cfg.MaxVolatility > 0 && in.Volatility > cfg.MaxVolatility {
		if !in.Force {
			g.state.ConsecutiveSkips++
			g.state.LastSkipReason = string(DenyHighVolatility)
			return CheckResult{Reason: DenyHighVolatility}
		}
		return g.allowLocked(true)
	}

	return g.allowLocked(false)
}

func (g *Gate) allowLocked(bypassed bool) CheckResult {
	g.state.ConsecutiveSkips = 0
	return CheckResult{Allowed: true, Bypassed: bypassed}
}

// RecordCall must be invoked by the caller after the LLM call actually
// succeeds, so the daily/cooldown accounting reflects only real calls, per
// spec.md §4.8.
func (g *Gate) RecordCall(symbol types.Symbol, score float64, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDayLocked()

	g.state.CallsToday++
	g.state.LastCallTs = g.clock.Now()
	record := types.LLMCallRecord{Symbol: symbol, Score: score, Reason: reason, Allowed: true, Timestamp: g.state.LastCallTs}
	g.state.CallHistory = append(g.state.CallHistory, record)
	if len(g.state.CallHistory) > types.LLMCallHistoryCapacity {
		g.state.CallHistory = g.state.CallHistory[len(g.state.CallHistory)-types.LLMCallHistoryCapacity:]
	}
}
