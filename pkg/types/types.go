// Package types holds the domain vocabulary shared across the trading engine:
// market data shapes, per-user settings, trade records, and control-plane state.
// Money, price and size fields use decimal.Decimal throughout — the venue's wire
// format sends them as strings and accounting must never lose precision to a
// binary float.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade or position.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// PositionSide mirrors Side but reads better at call sites that talk about
// an open position rather than an order.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// Mode is the engine-wide risk posture, driving tick interval and thresholds.
type Mode string

const (
	ModeAggressive   Mode = "aggressive"
	ModeModerate     Mode = "moderate"
	ModeConservative Mode = "conservative"
)

// NetworkMode distinguishes where orders actually settle.
type NetworkMode string

const (
	NetworkPaper   NetworkMode = "paper"
	NetworkTestnet NetworkMode = "testnet"
	NetworkMainnet NetworkMode = "mainnet"
)

// Symbol is a venue-qualified perpetual identifier of the form "<COIN>-PERP".
// Coin() strips the suffix for calls into the venue bridge, which speaks in
// bare coin symbols.
type Symbol string

const perpSuffix = "-PERP"

// NewSymbol qualifies a bare coin symbol into the wire Symbol form.
func NewSymbol(coin string) Symbol {
	return Symbol(coin + perpSuffix)
}

// Coin strips the "-PERP" suffix, returning the venue bridge's native symbol.
func (s Symbol) Coin() string {
	str := string(s)
	if len(str) > len(perpSuffix) && str[len(str)-len(perpSuffix):] == perpSuffix {
		return str[:len(str)-len(perpSuffix)]
	}
	return str
}

// OrderBookLevel is a single price/size rung of the book.
type OrderBookLevel struct {
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	NumOrders int             `json:"numOrders,omitempty"`
}

// OrderBook is the in-memory L2 book mirror maintained by the market data
// service, with derived fields recomputed on every update.
//
// Invariant: when both sides are non-empty, Bids[0].Price < Asks[0].Price.
type OrderBook struct {
	Symbol    Symbol           `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"` // descending by price
	Asks      []OrderBookLevel `json:"asks"` // ascending by price
	MidPrice  decimal.Decimal  `json:"midPrice"`
	Spread    decimal.Decimal  `json:"spread"`
	SpreadPct decimal.Decimal  `json:"spreadPct"`
	Imbalance decimal.Decimal  `json:"imbalance"` // [0,1], top-5 bid / (bid+ask)
	BidWall   *OrderBookLevel  `json:"bidWall,omitempty"`
	AskWall   *OrderBookLevel  `json:"askWall,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Trade is a single executed print on the venue tape.
type Trade struct {
	Symbol    Symbol          `json:"symbol"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Timestamp time.Time       `json:"timestamp"`
}

// LiquidationSide distinguishes the side of the position that was liquidated.
type LiquidationSide string

const (
	LiqLong  LiquidationSide = "long"
	LiqShort LiquidationSide = "short"
)

// Liquidation is a forced-close print observed on the (opportunistic) liquidation feed.
type Liquidation struct {
	Symbol    Symbol          `json:"symbol"`
	Side      LiquidationSide `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Timestamp time.Time       `json:"timestamp"`
}

// Funding carries the venue's current funding state for a symbol.
//
// PredictedRate is parsed from the wire's "premium" field. Its exact meaning is
// undocumented upstream (see DESIGN.md Open Questions) — it is stored and surfaced
// as-is and never used in arithmetic.
type Funding struct {
	Symbol        Symbol          `json:"symbol"`
	FundingRate   decimal.Decimal `json:"fundingRate"`
	PredictedRate decimal.Decimal `json:"predictedRate"`
	OpenInterest  decimal.Decimal `json:"openInterest"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Settings is the per-user configuration that drives the decision engine.
// Created on first write, overwritten atomically, loaded at engine start.
type Settings struct {
	BotName                string          `json:"botName"`
	Mode                   Mode            `json:"mode"`
	DynamicLeverage        bool            `json:"dynamicLeverage"`
	MaxLeverage            int             `json:"maxLeverage"`
	MinConfirmations       int             `json:"minConfirmations"`
	UserPrompt             string          `json:"userPrompt"`
	TradingBag             []Symbol        `json:"tradingBag"` // at most 5
	PositionSizePct        decimal.Decimal `json:"positionSizePct"` // at most 10
	StopLossPct            decimal.Decimal `json:"stopLossPct"`
	TakeProfitPct          decimal.Decimal `json:"takeProfitPct"`
	MaxSimultaneousPos     int             `json:"maxSimultaneousPositions"` // at most 5
	EnableTrailingStop     bool            `json:"enableTrailingStop"`
	TrailingStopActivation decimal.Decimal `json:"trailingStopActivation"` // pct PnL to arm trailing
	TrailingStopDistance   decimal.Decimal `json:"trailingStopDistance"`   // pct behind the high-water mark
	UseSmartSLTP           bool            `json:"useSmartSLTP"`
	EnableSessionFilter    bool            `json:"enableSessionFilter"`
	MaxDrawdownPct         decimal.Decimal `json:"maxDrawdownPct"`
	AllowCounterTrend      bool            `json:"allowCounterTrend"`
}

// MaxTradingBag is the hard cap on symbols a user can watch per tick.
const MaxTradingBag = 5

// MaxSimultaneousPositions is the hard cap on concurrently open positions per user.
const MaxSimultaneousPositions = 5

// MaxPositionSizePct is the hard cap on PositionSizePct.
var MaxPositionSizePct = decimal.NewFromInt(10)

// AgentCredential is a subordinate signing key approved by a user's master wallet
// for use by the engine. The engine never signs with the user's master key.
//
// AgentKey is encrypted at rest (see internal/store) with an authenticated cipher;
// this struct holds the plaintext form only transiently in memory.
type AgentCredential struct {
	UserWallet   string    `json:"userWallet"`
	AgentAddress string    `json:"agentAddress"`
	AgentKey     string    `json:"agentKey"`
	AgentName    string    `json:"agentName"`
	ApprovedAt   time.Time `json:"approvedAt"`
}

// TradeStatus is the lifecycle state of a TradeRecord.
type TradeStatus string

const (
	TradeOpen      TradeStatus = "open"
	TradeClosed    TradeStatus = "closed"
	TradeCancelled TradeStatus = "cancelled"
)

// TradeRecord is the authoritative record of one position's lifecycle.
//
// Invariant: status transitions open->closed or open->cancelled only. Once
// closed, ExitTime and ExitPrice are set and NetPnl = GrossPnl - EntryFee - ExitFee.
type TradeRecord struct {
	ID            string           `json:"id"`
	UserWallet    string           `json:"userWallet,omitempty"`
	Symbol        Symbol           `json:"symbol"`
	Side          Side             `json:"side"`
	EntryPrice    decimal.Decimal  `json:"entryPrice"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Leverage      int              `json:"leverage"`
	StopLoss      decimal.Decimal  `json:"stopLoss"`
	TakeProfit    decimal.Decimal  `json:"takeProfit"`
	EntryFee      decimal.Decimal  `json:"entryFee"`
	ExitFee       decimal.Decimal  `json:"exitFee"`
	ExitPrice     *decimal.Decimal `json:"exitPrice,omitempty"`
	ExitTime      *time.Time       `json:"exitTime,omitempty"`
	Status        TradeStatus      `json:"status"`
	GrossPnl      *decimal.Decimal `json:"grossPnl,omitempty"`
	NetPnl        *decimal.Decimal `json:"netPnl,omitempty"`
	Confidence    decimal.Decimal  `json:"confidence"`
	ReasoningText string           `json:"reasoningText"`
	Timestamp     time.Time        `json:"timestamp"`
}

// ActiveOrderTracking is the SL/TP order-ID bookkeeping C5 owns per symbol.
// Cleared when the position is observed closed at the venue.
type ActiveOrderTracking struct {
	SLOrderID   string    `json:"slOrderId,omitempty"`
	TPOrderID   string    `json:"tpOrderId,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// TrailingState is the per-open-trade trailing-stop bookkeeping C6 owns.
type TrailingState struct {
	EntryPrice         decimal.Decimal `json:"entryPrice"`
	CurrentStop        decimal.Decimal `json:"currentStop"`
	HighestSeen        decimal.Decimal `json:"highestSeen"`
	LowestSeen         decimal.Decimal `json:"lowestSeen"`
	TrailingActivated  bool            `json:"trailingActivated"`
	PartialTaken       bool            `json:"partialTaken"`
}

// TradingStats are the daily, per-engine trading counters. Reset at UTC day boundary.
type TradingStats struct {
	TradesToday       int             `json:"tradesToday"`
	WinsToday         int             `json:"winsToday"`
	LossesToday       int             `json:"lossesToday"`
	ConsecutiveLosses int             `json:"consecutiveLosses"`
	ConsecutiveWins   int             `json:"consecutiveWins"`
	PauseUntilTs      time.Time       `json:"pauseUntilTs"`
	DailyPnl          decimal.Decimal `json:"dailyPnl"`
	LastTradeTs       time.Time       `json:"lastTradeTs"`
	MaxDailyDrawdown  decimal.Decimal `json:"maxDailyDrawdown"`
	resetDate         string          // UTC date string this snapshot belongs to
}

// ResetDate returns the UTC calendar date (YYYY-MM-DD) this stats snapshot was
// last reset for, used by callers deciding whether a reset is due.
func (t *TradingStats) ResetDate() string { return t.resetDate }

// SetResetDate records the UTC calendar date this snapshot was reset for.
func (t *TradingStats) SetResetDate(d string) { t.resetDate = d }

// LLMCallRecord is one entry in the gate's call-history ring.
type LLMCallRecord struct {
	Symbol    Symbol    `json:"symbol"`
	Score     float64   `json:"score"`
	Reason    string    `json:"reason"`
	Allowed   bool      `json:"allowed"`
	Timestamp time.Time `json:"timestamp"`
}

// LLMGateState is the per-engine sentiment-gate bookkeeping (spec.md §3/§4.8).
type LLMGateState struct {
	CallsToday       int             `json:"callsToday"`
	LastResetDate    string          `json:"lastResetDate"` // UTC YYYY-MM-DD
	LastCallTs       time.Time       `json:"lastCallTs"`
	CallHistory      []LLMCallRecord `json:"callHistory"` // ring, cap 100
	ConsecutiveSkips int             `json:"consecutiveSkips"`
	LastSkipReason   string          `json:"lastSkipReason"`
}

// ControlStatus is the coarse-grained safety/control-plane state machine value.
type ControlStatus string

const (
	Unarmed          ControlStatus = "unarmed"
	Armed            ControlStatus = "armed"
	Running          ControlStatus = "running"
	Paused           ControlStatus = "paused"
	KillSwitchActive ControlStatus = "kill_switch_active"
)

// ControlState is the whole-engine safety/control-plane state.
type ControlState struct {
	Status           ControlStatus `json:"status"`
	ArmedAt          time.Time     `json:"armedAt,omitempty"`
	ArmedBy          string        `json:"armedBy,omitempty"`
	NetworkMode      NetworkMode   `json:"mode"`
	KillSwitchActive bool          `json:"killSwitchActive"`
	KillReason       string        `json:"killReason,omitempty"`
	ActiveUserWallet string        `json:"activeUserWallet,omitempty"`
	PausedReason     string        `json:"pausedReason,omitempty"`
	PausedUntil      time.Time     `json:"pausedUntil,omitempty"`
}
