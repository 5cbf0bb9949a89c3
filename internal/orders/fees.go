package orders

import (
	"github.com/shopspring/decimal"

	"perp-engine/pkg/types"
)

// FeeSchedule is the venue's published fee rates (spec.md §6), part of the
// external contract rather than a tunable — these must match what the
// venue actually charges.
type FeeSchedule struct {
	TakerRate decimal.Decimal
	MakerRate decimal.Decimal
}

// DefaultFees are the venue's published taker/maker rates.
var DefaultFees = FeeSchedule{
	TakerRate: decimal.NewFromFloat(0.00035),
	MakerRate: decimal.NewFromFloat(0.0001),
}

// minProfitMultiple is the required ratio of net-profit-at-TP to total fees
// for a trade to be allowed (spec.md §4.4 step 11).
const minProfitMultiple = 1.5

// RoundTripFees computes entry+exit fees at the taker rate for a position
// of the given notional value.
func RoundTripFees(notional decimal.Decimal, fees FeeSchedule) decimal.Decimal {
	entryFee := notional.Mul(fees.TakerRate)
	exitFee := notional.Mul(fees.TakerRate)
	return entryFee.Add(exitFee)
}

// ValidateTakeProfit nudges tp to the smallest profitable level when the
// requested target wouldn't clear round-trip fees, per spec.md §4.5's
// "first validates TP" step. Direction-aware: a long's TP must sit above
// entry, a short's below.
func ValidateTakeProfit(side types.PositionSide, entry, tp, qty decimal.Decimal, fees FeeSchedule) decimal.Decimal {
	notional := entry.Mul(qty)
	totalFees := RoundTripFees(notional, fees)
	// Gross profit must cover the fees themselves plus minProfitMultiple
	// times the fees, so the net profit clears ProfitabilityGate.
	minProfit := totalFees.Mul(decimal.NewFromFloat(1 + minProfitMultiple))
	if qty.IsZero() {
		return tp
	}
	minMove := minProfit.Div(qty)

	if side == types.Long {
		minTP := entry.Add(minMove)
		if tp.LessThan(minTP) {
			return minTP
		}
		return tp
	}
	maxTP := entry.Sub(minMove)
	if tp.GreaterThan(maxTP) {
		return maxTP
	}
	return tp
}

// ProfitabilityGate evaluates spec.md §4.4 step 11: net profit at TP must
// be positive and at least minProfitMultiple times total round-trip fees.
func ProfitabilityGate(side types.PositionSide, entry, tp, qty decimal.Decimal, fees FeeSchedule) (ok bool, netProfit, totalFees decimal.Decimal) {
	notional := entry.Mul(qty)
	totalFees = RoundTripFees(notional, fees)

	var grossMove decimal.Decimal
	if side == types.Long {
		grossMove = tp.Sub(entry)
	} else {
		grossMove = entry.Sub(tp)
	}
	grossProfit := grossMove.Mul(qty)
	netProfit = grossProfit.Sub(totalFees)

	ok = netProfit.IsPositive() && netProfit.GreaterThanOrEqual(totalFees.Mul(decimal.NewFromFloat(minProfitMultiple)))
	return ok, netProfit, totalFees
}
