package marketdata

import "encoding/json"

// wireEnvelope is peeked first to route the message, mirroring
// 0xtitan6-polymarket-mm/internal/exchange/ws.go's dispatchMessage pattern
// of unmarshalling just the routing field before the typed payload.
type wireEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wireLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

type wireL2Book struct {
	Coin   string        `json:"coin"`
	Levels [2][]wireLevel `json:"levels"` // [bids, asks]
	Time   int64         `json:"time"`
}

type wireTrade struct {
	Coin string `json:"coin"`
	Side string `json:"side"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Time int64  `json:"time"`
}

type wireAssetCtx struct {
	Coin          string `json:"coin"`
	Funding       string `json:"funding"`
	OpenInterest  string `json:"openInterest"`
	Premium       string `json:"premium"`
}

type wireLiquidation struct {
	Coin string `json:"coin"`
	Side string `json:"side"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Time int64  `json:"time"`
}

// subscribeMsg is the outbound `{method, subscription:{type, coin, interval?}}`
// shape from spec.md §6.
type subscribeMsg struct {
	Method       string       `json:"method"`
	Subscription subscription `json:"subscription"`
}

type subscription struct {
	Type     string `json:"type"`
	Coin     string `json:"coin,omitempty"`
	Interval string `json:"interval,omitempty"`
}
