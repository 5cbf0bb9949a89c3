// Package orders is the Order Manager (C5): guarantees at-most-one active
// stop-loss and take-profit per (user, symbol), rate-limits trailing stop
// updates, and validates take-profit profitability before it ever reaches
// the venue.
package orders

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perp-engine/internal/venue"
	"perp-engine/pkg/types"
)

// minStopUpdateInterval is the rate limit on trailing SL updates per
// (user, symbol), per spec.md §4.5.
const minStopUpdateInterval = 30 * time.Second

const (
	placeSLDelay = 500 * time.Millisecond
	placeTPDelay = 300 * time.Millisecond
)

// key identifies the (user, coin) pair the manager tracks order state for.
type key struct {
	user string
	coin string
}

// Manager is the C5 order manager, one instance shared by all users' loops.
type Manager struct {
	bridge venue.Bridge
	logger *slog.Logger
	clock  func() time.Time

	mu      sync.Mutex
	tracked map[key]types.ActiveOrderTracking
}

// New constructs an order manager bound to a venue bridge.
func New(bridge venue.Bridge, logger *slog.Logger) *Manager {
	return &Manager{
		bridge:  bridge,
		logger:  logger.With("component", "orders"),
		clock:   time.Now,
		tracked: make(map[key]types.ActiveOrderTracking),
	}
}

// PlaceResult reports what the manager actually managed to place.
type PlaceResult struct {
	StopLossOrderID   string
	TakeProfitOrderID string
	StopLossErr       error
	TakeProfitErr     error
}

// Placed reports whether at least one leg succeeded.
func (r PlaceResult) Placed() bool {
	return r.StopLossOrderID != "" || r.TakeProfitOrderID != ""
}

// PlaceSlTpOrders validates TP profitability, clears any existing orders for
// the coin, then places the SL and TP legs with the venue's required
// inter-order spacing, per spec.md §4.5.
func (m *Manager) PlaceSlTpOrders(user, coin string, positionSide types.PositionSide, qty, entry, sl, tp decimal.Decimal, agent string, fees FeeSchedule) PlaceResult {
	tp = ValidateTakeProfit(positionSide, entry, tp, qty, fees)

	if err := m.bridge.CancelAllOrders(coin, agent); err != nil {
		m.logger.Warn("cancel-all before sl/tp placement failed", "coin", coin, "err", err)
	}
	time.Sleep(placeSLDelay)

	closeSide := closeSideFor(positionSide)
	var result PlaceResult

	slRes, slErr := m.bridge.PlaceStopLoss(coin, closeSide, qty, sl, agent)
	if slErr != nil {
		result.StopLossErr = slErr
		m.logger.Error("stop-loss placement failed", "coin", coin, "err", slErr)
	} else {
		result.StopLossOrderID = slRes.OrderID
	}

	time.Sleep(placeTPDelay)

	tpRes, tpErr := m.bridge.PlaceTakeProfit(coin, closeSide, qty, tp, agent)
	if tpErr != nil {
		result.TakeProfitErr = tpErr
		m.logger.Error("take-profit placement failed", "coin", coin, "err", tpErr)
	} else {
		result.TakeProfitOrderID = tpRes.OrderID
	}

	m.mu.Lock()
	m.tracked[key{user: user, coin: coin}] = types.ActiveOrderTracking{
		SLOrderID:   result.StopLossOrderID,
		TPOrderID:   result.TakeProfitOrderID,
		LastUpdated: m.clock(),
	}
	m.mu.Unlock()

	return result
}

// UpdateStopLoss moves the tracked SL to newSL, honoring the 30s rate limit
// unless force is set. Cancel errors on the old SL are logged and ignored —
// it may already have executed.
func (m *Manager) UpdateStopLoss(user, coin string, positionSide types.PositionSide, qty, newSL decimal.Decimal, agent string, force bool) (string, error) {
	k := key{user: user, coin: coin}

	m.mu.Lock()
	prev, ok := m.tracked[k]
	if ok && !force && m.clock().Sub(prev.LastUpdated) < minStopUpdateInterval {
		m.mu.Unlock()
		return "", fmt.Errorf("orders: stop-loss update rate-limited for %s/%s (last update %s ago)", user, coin, m.clock().Sub(prev.LastUpdated))
	}
	m.mu.Unlock()

	if ok && prev.SLOrderID != "" {
		if err := m.bridge.CancelOrder(coin, prev.SLOrderID, agent); err != nil {
			m.logger.Warn("cancel previous stop-loss failed, proceeding anyway", "coin", coin, "err", err)
		}
	}

	closeSide := closeSideFor(positionSide)
	res, err := m.bridge.PlaceStopLoss(coin, closeSide, qty, newSL, agent)
	if err != nil {
		return "", fmt.Errorf("orders: stop-loss replacement failed: %w", err)
	}

	m.mu.Lock()
	next := m.tracked[k]
	next.SLOrderID = res.OrderID
	next.LastUpdated = m.clock()
	m.tracked[k] = next
	m.mu.Unlock()

	return res.OrderID, nil
}

// ClearTrackedOrders drops the order-ID bookkeeping for (user, coin),
// called by the Position Monitor once it observes the venue-side position
// closed.
func (m *Manager) ClearTrackedOrders(user, coin string) {
	m.mu.Lock()
	delete(m.tracked, key{user: user, coin: coin})
	m.mu.Unlock()
}

// Tracked returns the current order-ID bookkeeping for (user, coin), for
// callers (the position monitor) that need to know what's currently live.
func (m *Manager) Tracked(user, coin string) (types.ActiveOrderTracking, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracked[key{user: user, coin: coin}]
	return t, ok
}

func closeSideFor(positionSide types.PositionSide) venue.CloseSide {
	if positionSide == types.Long {
		return types.Sell
	}
	return types.Buy
}
