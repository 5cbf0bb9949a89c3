package marketdata

import (
	"sort"

	"github.com/shopspring/decimal"

	"perp-engine/pkg/types"
)

// topN caps the depth used for imbalance/pressure calculations.
const topN = 5

// wallSizeMultiplier flags a level as a "wall" when its size exceeds this
// multiple of the median top-N level size.
const wallSizeMultiplier = 3

// RecomputeDerived fills in OrderBook's derived fields (mid, spread,
// spreadPct, imbalance, walls) from raw bids/asks. Bids must already be
// sorted descending and asks ascending by price — the caller (feed.go)
// guarantees this when building the book from wire deltas.
func RecomputeDerived(book *types.OrderBook) {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		book.Imbalance = decimal.NewFromFloat(0.5)
		return
	}

	bestBid := book.Bids[0].Price
	bestAsk := book.Asks[0].Price
	book.MidPrice = bestBid.Add(bestAsk).Div(decimal.NewFromInt(2))
	book.Spread = bestAsk.Sub(bestBid)
	if !book.MidPrice.IsZero() {
		book.SpreadPct = book.Spread.Div(book.MidPrice).Mul(decimal.NewFromInt(100))
	}

	bidSum := sumTopN(book.Bids, topN)
	askSum := sumTopN(book.Asks, topN)
	total := bidSum.Add(askSum)
	if total.IsZero() {
		book.Imbalance = decimal.NewFromFloat(0.5)
	} else {
		book.Imbalance = bidSum.Div(total)
	}

	book.BidWall = detectWall(book.Bids, topN)
	book.AskWall = detectWall(book.Asks, topN)
}

func sumTopN(levels []types.OrderBookLevel, n int) decimal.Decimal {
	sum := decimal.Zero
	for i, l := range levels {
		if i >= n {
			break
		}
		sum = sum.Add(l.Size)
	}
	return sum
}

// detectWall returns the first level among the top-N whose size exceeds
// wallSizeMultiplier times the median size of those levels, or nil.
func detectWall(levels []types.OrderBookLevel, n int) *types.OrderBookLevel {
	if len(levels) == 0 {
		return nil
	}
	if n > len(levels) {
		n = len(levels)
	}
	sizes := make([]float64, n)
	for i := 0; i < n; i++ {
		f, _ := levels[i].Size.Float64()
		sizes[i] = f
	}
	sorted := append([]float64(nil), sizes...)
	sort.Float64s(sorted)
	med := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 && len(sorted) > 1 {
		med = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}
	if med <= 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		if sizes[i] > med*wallSizeMultiplier {
			lvl := levels[i]
			return &lvl
		}
	}
	return nil
}
