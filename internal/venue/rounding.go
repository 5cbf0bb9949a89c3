package venue

import "github.com/shopspring/decimal"

// RoundPrice rounds a price to the venue's bucket for its current magnitude
// — this must be bit-exact with the venue or orders are rejected.
//
//	>= 10000  -> integer
//	>= 1000   -> 0.1
//	>= 100    -> 0.01
//	>= 10     -> 0.001
//	>= 1      -> 0.0001
//	>= 0.1    -> 0.00001
//	<  0.1    -> 0.000001
func RoundPrice(price decimal.Decimal) decimal.Decimal {
	abs := price.Abs()
	var places int32
	switch {
	case abs.GreaterThanOrEqual(decimal.NewFromInt(10000)):
		places = 0
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		places = 1
	case abs.GreaterThanOrEqual(decimal.NewFromInt(100)):
		places = 2
	case abs.GreaterThanOrEqual(decimal.NewFromInt(10)):
		places = 3
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1)):
		places = 4
	case abs.GreaterThanOrEqual(decimal.NewFromFloat(0.1)):
		places = 5
	default:
		places = 6
	}
	return price.Round(places)
}

// szDecimals is the per-coin size-precision table. Coins absent from this
// table use the default precision.
var szDecimals = map[string]int32{
	"BTC": 4,
	"ETH": 3,
	"SOL": 2,
}

// defaultSzDecimals is used for coins not present in szDecimals.
const defaultSzDecimals = 2

// RoundSize rounds a size up to the coin's precision to guarantee the
// venue's minimum-notional requirement is met.
func RoundSize(coin string, size decimal.Decimal) decimal.Decimal {
	places, ok := szDecimals[coin]
	if !ok {
		places = defaultSzDecimals
	}
	return size.RoundUp(places)
}

// LeverageTier is the liquidity-based leverage cap bucket from §6.
type LeverageTier int

const (
	Tier1 LeverageTier = iota // BTC, ETH
	Tier2                     // major alts
	Tier3                     // popular alts
	Tier4                     // smaller caps
	Tier5                     // memes/new listings
)

var tierMaxLeverage = map[LeverageTier]int{
	Tier1: 50,
	Tier2: 25,
	Tier3: 20,
	Tier4: 10,
	Tier5: 5,
}

// coinTier maps known coins to their leverage tier. Unknown coins default
// to Tier5 (5x) per §6.
var coinTier = map[string]LeverageTier{
	"BTC": Tier1,
	"ETH": Tier1,
	"SOL": Tier2,
	"BNB": Tier2,
	"XRP": Tier2,
	"AVAX": Tier3,
	"LINK": Tier3,
	"ARB":  Tier4,
	"OP":   Tier4,
}

// MaxLeverage returns the maximum leverage allowed for coin, per §6's
// liquidity tier table. Unknown coins default to 5x.
func MaxLeverage(coin string) int {
	tier, ok := coinTier[coin]
	if !ok {
		return tierMaxLeverage[Tier5]
	}
	return tierMaxLeverage[tier]
}
