package marketdata

import (
	"sync"
	"time"

	"perp-engine/pkg/types"
)

// priceSample24h is one timestamped close used by the 24h-change ring.
type priceSample24h struct {
	at    time.Time
	price float64
}

// change24hTracker keeps close samples trimmed to the trailing 24h window,
// per spec.md §3's "separate 24h-window ring for change computation" — a
// time-bounded complement to the fixed-length 100-sample PriceRing.
type change24hTracker struct {
	mu      sync.Mutex
	samples []priceSample24h
}

func newChange24hTracker() *change24hTracker {
	return &change24hTracker{}
}

func (c *change24hTracker) push(at time.Time, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, priceSample24h{at: at, price: price})
	cutoff := at.Add(-24 * time.Hour)
	i := 0
	for i < len(c.samples) && c.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.samples = c.samples[i:]
	}
}

// change returns the percentage change from the oldest retained sample
// (the oldest-within-24h sample, or the oldest available if the history
// doesn't yet span 24h) to the latest, per spec.md §4.2.
func (c *change24hTracker) change() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.samples) < 2 {
		return 0
	}
	oldest := c.samples[0].price
	latest := c.samples[len(c.samples)-1].price
	if oldest == 0 {
		return 0
	}
	return (latest - oldest) / oldest * 100
}

// VolumeProfile is the buy/sell notional split over a trailing window.
type VolumeProfile struct {
	BuyNotional  float64
	SellNotional float64
	BuyRatio     float64 // buy / (buy+sell); 0.5 when both zero
}

// defaultVolumeWindow is the trailing window spec.md §4.2 uses by default.
const defaultVolumeWindow = 60 * time.Second

// ComputeVolumeProfile sums trade.price*trade.size split by side over the
// trailing window (default 60s) ending at "now".
func ComputeVolumeProfile(trades []types.Trade, now time.Time, window time.Duration) VolumeProfile {
	if window <= 0 {
		window = defaultVolumeWindow
	}
	cutoff := now.Add(-window)
	var buy, sell float64
	for _, t := range trades {
		if t.Timestamp.Before(cutoff) {
			continue
		}
		price, _ := t.Price.Float64()
		size, _ := t.Size.Float64()
		notional := price * size
		if t.Side == types.Buy {
			buy += notional
		} else {
			sell += notional
		}
	}
	total := buy + sell
	ratio := 0.5
	if total > 0 {
		ratio = buy / total
	}
	return VolumeProfile{BuyNotional: buy, SellNotional: sell, BuyRatio: ratio}
}
