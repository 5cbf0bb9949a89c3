// subprocess.go implements the signed-operation side of the Venue Bridge by
// shelling out to an external signer process, per §6/§9: the engine never
// signs with a user's key itself, so this is "one more adapter behind the
// Venue Bridge interface" rather than a cryptographic implementation. A
// native SDK implementation would satisfy the same Bridge interface.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/shopspring/decimal"

	"perp-engine/pkg/types"
)

// SubprocessBridge implements Bridge by invoking signerPath with the
// subcommands described in §6, each returning a single line of JSON on
// stdout.
type SubprocessBridge struct {
	signerPath string
	agentKey   string
	dryRun     bool
	logger     *slog.Logger
}

// NewSubprocessBridge builds a Bridge backed by the external signer at
// signerPath. When dryRun is true, mutating operations return a synthetic
// success without invoking the subprocess.
func NewSubprocessBridge(signerPath, agentKey string, dryRun bool, logger *slog.Logger) *SubprocessBridge {
	return &SubprocessBridge{signerPath: signerPath, agentKey: agentKey, dryRun: dryRun, logger: logger}
}

func (b *SubprocessBridge) run(ctx context.Context, args ...string) (json.RawMessage, *Failure) {
	if b.agentKey != "" {
		args = append([]string{b.agentKey}, args...)
	}
	cmd := exec.CommandContext(ctx, b.signerPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		kind := FailureVenueError
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "unauthorized") {
			kind = FailureUnauthorized
		} else if strings.Contains(lower, "invalid") {
			kind = FailureInvalidResponse
		}
		return nil, &Failure{Kind: kind, Message: msg}
	}

	line := bytes.TrimSpace(stdout.Bytes())
	if len(line) == 0 {
		return nil, &Failure{Kind: FailureInvalidResponse, Message: "signer returned no output"}
	}
	return json.RawMessage(line), nil
}

func (b *SubprocessBridge) GetBalance(agent string) (Balance, *Failure) {
	raw, f := b.run(context.Background(), "balance")
	if f != nil {
		return Balance{}, f
	}
	var wire struct {
		AccountValue string `json:"accountValue"`
		Withdrawable string `json:"withdrawable"`
		MarginUsed   string `json:"marginUsed"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Balance{}, &Failure{Kind: FailureInvalidResponse, Message: err.Error()}
	}
	return Balance{
		AccountValue: parseDecimalOrZero(wire.AccountValue),
		Withdrawable: parseDecimalOrZero(wire.Withdrawable),
		MarginUsed:   parseDecimalOrZero(wire.MarginUsed),
	}, nil
}

func (b *SubprocessBridge) GetPositions(agent string) ([]Position, *Failure) {
	raw, f := b.run(context.Background(), "positions")
	if f != nil {
		return nil, f
	}
	var wire []struct {
		Coin          string `json:"coin"`
		Size          string `json:"size"`
		EntryPrice    string `json:"entryPrice"`
		PositionValue string `json:"positionValue"`
		UnrealizedPnl string `json:"unrealizedPnl"`
		Leverage      int    `json:"leverage"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &Failure{Kind: FailureInvalidResponse, Message: err.Error()}
	}
	out := make([]Position, len(wire))
	for i, p := range wire {
		out[i] = Position{
			Coin:          p.Coin,
			Size:          parseDecimalOrZero(p.Size),
			EntryPrice:    parseDecimalOrZero(p.EntryPrice),
			PositionValue: parseDecimalOrZero(p.PositionValue),
			UnrealizedPnl: parseDecimalOrZero(p.UnrealizedPnl),
			Leverage:      p.Leverage,
		}
	}
	return out, nil
}

func (b *SubprocessBridge) HasOpenPosition(coin, agent string) (bool, *Failure) {
	positions, f := b.GetPositions(agent)
	if f != nil {
		return false, f
	}
	for _, p := range positions {
		if p.Coin == coin && !p.IsFlat() {
			return true, nil
		}
	}
	return false, nil
}

func (b *SubprocessBridge) GetOrderBook(coin string, depth int) (types.OrderBook, *Failure) {
	raw, f := b.run(context.Background(), "orderbook", coin, fmt.Sprintf("%d", depth))
	if f != nil {
		return types.OrderBook{}, f
	}
	var wire struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return types.OrderBook{}, &Failure{Kind: FailureInvalidResponse, Message: err.Error()}
	}
	return buildOrderBook(types.NewSymbol(coin), wire.Bids, wire.Asks), nil
}

func (b *SubprocessBridge) ExecuteMarketOrder(coin string, side types.Side, size decimal.Decimal, agent string) (OrderResult, *Failure) {
	if b.dryRun {
		b.logger.Info("dry-run market order", "coin", coin, "side", side, "size", size)
		return OrderResult{OrderID: "dry-run", Status: "filled"}, nil
	}
	raw, f := b.run(context.Background(), "order", coin, string(side), size.String(), "market")
	if f != nil {
		return OrderResult{}, f
	}
	return parseOrderResult(raw)
}

func (b *SubprocessBridge) ExecuteLimitOrder(coin string, side types.Side, size, price, slippagePct decimal.Decimal, agent string) (OrderResult, *Failure) {
	limit := RoundPrice(LimitPrice(side, price, slippagePct))
	if b.dryRun {
		b.logger.Info("dry-run limit order", "coin", coin, "side", side, "size", size, "price", limit)
		return OrderResult{OrderID: "dry-run", Status: "resting"}, nil
	}
	raw, f := b.run(context.Background(), "order", coin, string(side), size.String(), "limit", limit.String())
	if f != nil {
		return OrderResult{}, f
	}
	return parseOrderResult(raw)
}

func (b *SubprocessBridge) PlaceStopLoss(coin string, closeSide CloseSide, size, triggerPrice decimal.Decimal, agent string) (OrderResult, *Failure) {
	return b.placeTrigger(coin, closeSide, size, triggerPrice, "sl")
}

func (b *SubprocessBridge) PlaceTakeProfit(coin string, closeSide CloseSide, size, triggerPrice decimal.Decimal, agent string) (OrderResult, *Failure) {
	return b.placeTrigger(coin, closeSide, size, triggerPrice, "tp")
}

func (b *SubprocessBridge) placeTrigger(coin string, closeSide CloseSide, size, triggerPrice decimal.Decimal, kind string) (OrderResult, *Failure) {
	price := RoundPrice(triggerPrice)
	if b.dryRun {
		b.logger.Info("dry-run trigger order", "coin", coin, "kind", kind, "price", price)
		return OrderResult{OrderID: "dry-run-" + kind, Status: "resting"}, nil
	}
	raw, f := b.run(context.Background(), "trigger", coin, string(closeSide), size.String(), kind, price.String())
	if f != nil {
		return OrderResult{}, f
	}
	return parseOrderResult(raw)
}

func (b *SubprocessBridge) CancelOrder(coin, oid, agent string) *Failure {
	if b.dryRun {
		return nil
	}
	_, f := b.run(context.Background(), "cancel", coin, oid)
	return f
}

func (b *SubprocessBridge) CancelAllOrders(coin, agent string) *Failure {
	if b.dryRun {
		return nil
	}
	args := []string{"cancel_all"}
	if coin != "" {
		args = append(args, coin)
	}
	_, f := b.run(context.Background(), args...)
	return f
}

func (b *SubprocessBridge) GetOpenOrders(agent string) ([]OrderResult, *Failure) {
	raw, f := b.run(context.Background(), "open_orders")
	if f != nil {
		return nil, f
	}
	var wire []struct {
		OrderID string `json:"orderId"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &Failure{Kind: FailureInvalidResponse, Message: err.Error()}
	}
	out := make([]OrderResult, len(wire))
	for i, o := range wire {
		out[i] = OrderResult{OrderID: o.OrderID, Status: o.Status}
	}
	return out, nil
}

func (b *SubprocessBridge) ClosePosition(coin, agent string) (OrderResult, *Failure) {
	if b.dryRun {
		b.logger.Info("dry-run close position", "coin", coin)
		return OrderResult{OrderID: "dry-run-close", Status: "filled"}, nil
	}
	raw, f := b.run(context.Background(), "close_all", coin)
	if f != nil {
		return OrderResult{}, f
	}
	return parseOrderResult(raw)
}

func parseOrderResult(raw json.RawMessage) (OrderResult, *Failure) {
	var wire struct {
		OrderID string `json:"orderId"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return OrderResult{}, &Failure{Kind: FailureInvalidResponse, Message: err.Error()}
	}
	return OrderResult{OrderID: wire.OrderID, Status: wire.Status}, nil
}

func buildOrderBook(symbol types.Symbol, bids, asks [][2]string) types.OrderBook {
	toLevels := func(rows [][2]string) []types.OrderBookLevel {
		out := make([]types.OrderBookLevel, 0, len(rows))
		for _, r := range rows {
			out = append(out, types.OrderBookLevel{
				Price: parseDecimalOrZero(r[0]),
				Size:  parseDecimalOrZero(r[1]),
			})
		}
		return out
	}
	return types.OrderBook{
		Symbol: symbol,
		Bids:   toLevels(bids),
		Asks:   toLevels(asks),
	}
}
