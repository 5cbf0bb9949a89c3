package safety

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"perp-engine/internal/clock"
	"perp-engine/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArm_RejectsWrongConfirmationPhrase(t *testing.T) {
	c := New(types.NetworkTestnet, clock.Real{}, testLogger())
	d := c.Arm(ArmRequest{Confirmation: "nope", RequestedMode: types.NetworkTestnet, AgentConfigured: true})
	if d == nil || d.Code != "bad_confirmation" {
		t.Fatalf("expected bad_confirmation denial, got %+v", d)
	}
}

func TestArm_RejectsWithoutLiveTradingEnv(t *testing.T) {
	os.Unsetenv(liveTradingEnvVar)
	c := New(types.NetworkTestnet, clock.Real{}, testLogger())
	d := c.Arm(ArmRequest{Confirmation: ArmConfirmation, RequestedMode: types.NetworkTestnet, AgentConfigured: true})
	if d == nil || d.Code != "live_trading_disabled" {
		t.Fatalf("expected live_trading_disabled denial, got %+v", d)
	}
}

func TestArm_SucceedsWithAllPreconditions(t *testing.T) {
	os.Setenv(liveTradingEnvVar, "true")
	defer os.Unsetenv(liveTradingEnvVar)

	c := New(types.NetworkTestnet, clock.Real{}, testLogger())
	d := c.Arm(ArmRequest{Confirmation: ArmConfirmation, RequestedMode: types.NetworkTestnet, RequestedBy: "alice", AgentConfigured: true})
	if d != nil {
		t.Fatalf("unexpected denial: %v", d)
	}
	if c.Snapshot().Status != types.Armed {
		t.Fatalf("status = %v, want armed", c.Snapshot().Status)
	}
}

func TestArm_RejectsWhenKillSwitchActive(t *testing.T) {
	os.Setenv(liveTradingEnvVar, "true")
	defer os.Unsetenv(liveTradingEnvVar)

	c := New(types.NetworkTestnet, clock.Real{}, testLogger())
	c.Kill("test")
	d := c.Arm(ArmRequest{Confirmation: ArmConfirmation, RequestedMode: types.NetworkTestnet, AgentConfigured: true})
	if d == nil || d.Code != "kill_switch_active" {
		t.Fatalf("expected kill_switch_active denial, got %+v", d)
	}
}

func TestResetKill_RequiresExactPhrase(t *testing.T) {
	c := New(types.NetworkTestnet, clock.Real{}, testLogger())
	c.Kill("test")
	if d := c.ResetKill("wrong phrase"); d == nil {
		t.Fatal("expected a denial for the wrong reset-kill phrase")
	}
	if d := c.ResetKill(ResetKillConfirmation); d != nil {
		t.Fatalf("unexpected denial: %v", d)
	}
	if c.Snapshot().KillSwitchActive {
		t.Fatal("expected kill switch cleared after a correct reset")
	}
}

func TestResumeIfDue_AutoResumesPastPauseWindow(t *testing.T) {
	fixed := clock.Fixed{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(types.NetworkTestnet, fixed, testLogger())
	c.state.Status = types.Paused
	c.state.PausedUntil = fixed.T.Add(-time.Minute) // already due

	c.ResumeIfDue()
	if c.Snapshot().Status != types.Running {
		t.Fatalf("status = %v, want running after a due pause", c.Snapshot().Status)
	}
}

func TestResumeIfDue_StaysPausedBeforeWindow(t *testing.T) {
	fixed := clock.Fixed{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(types.NetworkTestnet, fixed, testLogger())
	c.state.Status = types.Paused
	c.state.PausedUntil = fixed.T.Add(time.Minute)

	c.ResumeIfDue()
	if c.Snapshot().Status != types.Paused {
		t.Fatalf("status = %v, want still paused", c.Snapshot().Status)
	}
}

func TestCheckAssetCooldown_BlocksWithinWindowAndForceBypasses(t *testing.T) {
	fixed := clock.Fixed{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(types.NetworkTestnet, fixed, testLogger())
	sym := types.NewSymbol("BTC")
	c.RecordTrade(sym)

	onCooldown, remaining := c.CheckAssetCooldown(sym, DefaultAssetCooldown, false)
	if !onCooldown || remaining <= 0 {
		t.Fatalf("expected cooldown active, got onCooldown=%v remaining=%v", onCooldown, remaining)
	}

	onCooldown, _ = c.CheckAssetCooldown(sym, DefaultAssetCooldown, true)
	if onCooldown {
		t.Fatal("expected force to bypass the cooldown")
	}
}

func TestCheckDailyLossBreach_TriggersKill(t *testing.T) {
	c := New(types.NetworkTestnet, clock.Real{}, testLogger())
	c.CheckDailyLossBreach(150, 100)
	if !c.Snapshot().KillSwitchActive {
		t.Fatal("expected a daily-loss breach to trigger the kill switch")
	}
}

func TestKill_FiresHookOnce(t *testing.T) {
	c := New(types.NetworkTestnet, clock.Real{}, testLogger())
	calls := 0
	var lastReason string
	c.SetKillHook(func(reason string) {
		calls++
		lastReason = reason
	})

	c.Kill("first")
	c.Kill("second")

	if calls != 1 {
		t.Fatalf("hook fired %d times, want 1 (only on the inactive->active transition)", calls)
	}
	if lastReason != "first" {
		t.Fatalf("hook reason = %q, want %q", lastReason, "first")
	}
}

func TestKill_HookFiresAgainAfterResetKill(t *testing.T) {
	c := New(types.NetworkTestnet, clock.Real{}, testLogger())
	calls := 0
	c.SetKillHook(func(string) { calls++ })

	c.Kill("first")
	if err := c.ResetKill(ResetKillConfirmation); err != nil {
		t.Fatalf("ResetKill: %v", err)
	}
	c.Kill("second")

	if calls != 2 {
		t.Fatalf("hook fired %d times across two kill cycles, want 2", calls)
	}
}
