package sentiment

import (
	"testing"
	"time"

	"perp-engine/internal/clock"
	"perp-engine/pkg/types"
)

func cfg() ModeConfig {
	return ModeConfig{
		CallsPerDay:    10,
		MinScoreToCall: 50,
		MinCooldown:    time.Minute,
		RequirePattern: false,
		MinVolatility:  0.1,
		MaxVolatility:  10,
	}
}

func TestGate_DeniesDailyLimitNeverBypassed(t *testing.T) {
	fixed := clock.Fixed{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := New(fixed)
	c := cfg()
	c.CallsPerDay = 1
	g.RecordCall(types.NewSymbol("BTC"), 60, "test")

	res := g.Check(c, CheckInput{Score: 60, Volatility: 1, Force: true})
	if res.Allowed || res.Reason != DenyDailyLimit {
		t.Fatalf("expected daily_limit denial even with force, got %+v", res)
	}
}

func TestGate_DeniesLowScoreThenForceBypasses(t *testing.T) {
	fixed := clock.Fixed{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := New(fixed)
	c := cfg()

	res := g.Check(c, CheckInput{Score: 10, Volatility: 1})
	if res.Allowed || res.Reason != DenyLowScore {
		t.Fatalf("expected low_score denial, got %+v", res)
	}

	res = g.Check(c, CheckInput{Score: 10, Volatility: 1, Force: true})
	if !res.Allowed || !res.Bypassed {
		t.Fatalf("expected force to bypass low_score, got %+v", res)
	}
}

func TestGate_AllowsWhenAllChecksPass(t *testing.T) {
	fixed := clock.Fixed{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := New(fixed)
	res := g.Check(cfg(), CheckInput{Score: 80, Volatility: 2})
	if !res.Allowed {
		t.Fatalf("expected allow, got %+v", res)
	}
}

func TestGate_CooldownBlocksRepeatCallsWithinWindow(t *testing.T) {
	fixed := clock.Fixed{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := New(fixed)
	g.RecordCall(types.NewSymbol("BTC"), 80, "test")

	res := g.Check(cfg(), CheckInput{Score: 80, Volatility: 2})
	if res.Allowed || res.Reason != DenyCooldown {
		t.Fatalf("expected cooldown denial, got %+v", res)
	}
}

func TestGate_ResetsDailyCountAcrossUTCMidnight(t *testing.T) {
	day1 := clock.Fixed{T: time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC)}
	g := New(day1)
	c := cfg()
	c.CallsPerDay = 1
	g.RecordCall(types.NewSymbol("BTC"), 80, "test")

	if res := g.Check(c, CheckInput{Score: 80, Volatility: 2}); res.Allowed {
		t.Fatalf("expected daily_limit denial before the UTC boundary, got %+v", res)
	}

	day2 := clock.Fixed{T: time.Date(2026, 1, 2, 0, 1, 0, 0, time.UTC)}
	g.clock = day2
	if res := g.Check(c, CheckInput{Score: 80, Volatility: 2}); !res.Allowed {
		t.Fatalf("expected the daily count to reset after UTC midnight, got %+v", res)
	}
}

func TestParseResponse_MapsBuyToBullishAndHighConfidenceBoosts(t *testing.T) {
	adv, err := ParseResponse([]byte(`{"action":"buy","confidence":80,"warnings":[]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adv.Sentiment != SentimentBullish {
		t.Fatalf("Sentiment = %v, want bullish", adv.Sentiment)
	}
	if !adv.ShouldBoost {
		t.Fatal("expected shouldBoost on high-confidence buy")
	}
}

func TestParseResponse_LowConfidenceWithWarningsShouldAvoid(t *testing.T) {
	adv, err := ParseResponse([]byte(`{"action":"sell","confidence":20,"warnings":["thin liquidity"]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !adv.ShouldAvoid {
		t.Fatal("expected shouldAvoid on low-confidence response with warnings")
	}
}

func TestParseResponse_MalformedJSONIsParseFailure(t *testing.T) {
	adv, err := ParseResponse([]byte(`not json`))
	if err == nil || adv != nil {
		t.Fatalf("expected a parse failure with nil advisory, got adv=%+v err=%v", adv, err)
	}
}
