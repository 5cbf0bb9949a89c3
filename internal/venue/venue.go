// Package venue is the Venue Bridge (C1): a synchronous-looking
// request/response contract over the trading venue's HTTP info endpoint and
// a subprocess/SDK adapter for signed operations. Every operation returns a
// discriminated result — callers never see a raw HTTP error.
package venue

import (
	"fmt"

	"github.com/shopspring/decimal"

	"perp-engine/pkg/types"
)

// FailureKind classifies why a venue operation failed, mirroring the
// TransientVenue/PermanentVenue split the rest of the engine reasons about.
type FailureKind string

const (
	FailureTimeout         FailureKind = "timeout"
	FailureInvalidResponse FailureKind = "invalid_response"
	FailureUnauthorized    FailureKind = "unauthorized"
	FailureRateLimited     FailureKind = "rate_limited"
	FailureVenueError      FailureKind = "venue_error"
)

// Failure is the typed error every Bridge operation returns on failure.
// Kind lets callers (and C1's own retry policy) decide whether to retry.
type Failure struct {
	Kind    FailureKind
	Code    string
	Message string
}

func (f *Failure) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("venue: %s (%s): %s", f.Kind, f.Code, f.Message)
	}
	return fmt.Sprintf("venue: %s: %s", f.Kind, f.Message)
}

// Retryable reports whether C1's retry policy should attempt this failure
// again. "invalid" and "unauthorized" responses are never retried.
func (f *Failure) Retryable() bool {
	switch f.Kind {
	case FailureUnauthorized, FailureInvalidResponse:
		return false
	default:
		return true
	}
}

// Balance is the account-level balance snapshot.
type Balance struct {
	AccountValue decimal.Decimal
	Withdrawable decimal.Decimal
	MarginUsed   decimal.Decimal
}

// Position is a single open position as reported by the venue.
type Position struct {
	Coin          string
	Size          decimal.Decimal // signed: positive long, negative short
	EntryPrice    decimal.Decimal
	PositionValue decimal.Decimal
	UnrealizedPnl decimal.Decimal
	Leverage      int
}

// flatThreshold is the |size| below which a position is treated as flat,
// per §4.1.
var flatThreshold = decimal.NewFromFloat(0.00001)

// IsFlat reports whether this position's size is within the flat threshold.
func (p Position) IsFlat() bool {
	return p.Size.Abs().LessThan(flatThreshold)
}

// OrderResult is returned by order/trigger placement operations.
type OrderResult struct {
	OrderID string
	Status  string
}

// CloseSide is the side of a reduce-only trigger order (opposite the
// position it protects).
type CloseSide = types.Side

// Bridge is the full C1 contract consumed by the rest of the engine.
type Bridge interface {
	GetBalance(agent string) (Balance, *Failure)
	GetPositions(agent string) ([]Position, *Failure)
	HasOpenPosition(coin, agent string) (bool, *Failure)
	GetOrderBook(coin string, depth int) (types.OrderBook, *Failure)
	ExecuteMarketOrder(coin string, side types.Side, size decimal.Decimal, agent string) (OrderResult, *Failure)
	ExecuteLimitOrder(coin string, side types.Side, size, price, slippagePct decimal.Decimal, agent string) (OrderResult, *Failure)
	PlaceStopLoss(coin string, closeSide CloseSide, size, triggerPrice decimal.Decimal, agent string) (OrderResult, *Failure)
	PlaceTakeProfit(coin string, closeSide CloseSide, size, triggerPrice decimal.Decimal, agent string) (OrderResult, *Failure)
	CancelOrder(coin, oid, agent string) *Failure
	CancelAllOrders(coin, agent string) *Failure
	GetOpenOrders(agent string) ([]OrderResult, *Failure)
	ClosePosition(coin, agent string) (OrderResult, *Failure)
}

// LimitPrice applies the entry-slippage adjustment described in §4.1:
// slippagePct is a percentage, so a buy is willing to pay up to
// price*(1+slippagePct/100), a sell willing to accept down to
// price*(1-slippagePct/100).
func LimitPrice(side types.Side, price, slippagePct decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	pct := slippagePct.Div(decimal.NewFromInt(100))
	if side == types.Buy {
		return price.Mul(one.Add(pct))
	}
	return price.Mul(one.Sub(pct))
}
