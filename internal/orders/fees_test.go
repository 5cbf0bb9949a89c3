package orders

import (
	"testing"

	"github.com/shopspring/decimal"

	"perp-engine/pkg/types"
)

func TestValidateTakeProfit_LongRaisesUnprofitableTarget(t *testing.T) {
	entry := decimal.NewFromInt(100)
	qty := decimal.NewFromInt(1)
	tp := decimal.NewFromFloat(100.01) // barely above entry, won't clear fees
	adjusted := ValidateTakeProfit(types.Long, entry, tp, qty, DefaultFees)
	if !adjusted.GreaterThan(tp) {
		t.Fatalf("adjusted TP %s should be raised above the unprofitable %s", adjusted, tp)
	}
	ok, _, _ := ProfitabilityGate(types.Long, entry, adjusted, qty, DefaultFees)
	if !ok {
		t.Fatal("adjusted TP should now pass the profitability gate")
	}
}

func TestValidateTakeProfit_LeavesAlreadyProfitableTargetUnchanged(t *testing.T) {
	entry := decimal.NewFromInt(100)
	qty := decimal.NewFromInt(1)
	tp := decimal.NewFromInt(110)
	adjusted := ValidateTakeProfit(types.Long, entry, tp, qty, DefaultFees)
	if !adjusted.Equal(tp) {
		t.Fatalf("adjusted TP %s should equal the already-profitable %s", adjusted, tp)
	}
}

func TestProfitabilityGate_RejectsThinMargin(t *testing.T) {
	entry := decimal.NewFromInt(100)
	qty := decimal.NewFromInt(1)
	tp := decimal.NewFromFloat(100.02)
	ok, _, _ := ProfitabilityGate(types.Long, entry, tp, qty, DefaultFees)
	if ok {
		t.Fatal("expected the profitability gate to reject a thin-margin TP")
	}
}

func TestProfitabilityGate_ShortDirection(t *testing.T) {
	entry := decimal.NewFromInt(100)
	qty := decimal.NewFromInt(1)
	tp := decimal.NewFromInt(90)
	ok, netProfit, _ := ProfitabilityGate(types.Short, entry, tp, qty, DefaultFees)
	if !ok {
		t.Fatal("expected a 10%% short move to clear the profitability gate")
	}
	if !netProfit.IsPositive() {
		t.Fatalf("netProfit = %s, want positive", netProfit)
	}
}
