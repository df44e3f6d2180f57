package detector

import (
	"math"
	"time"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"trading-monitor/internal/market"
)

const (
	atrPeriod      = 14
	maxKlineWindow = 500
)

var klineIntervals = []struct {
	label string
	step  time.Duration
}{
	{"1m", time.Minute},
	{"5m", 5 * time.Minute},
	{"15m", 15 * time.Minute},
	{"1h", time.Hour},
	{"4h", 4 * time.Hour},
	{"1d", 24 * time.Hour},
}

// klinePlan is how a lookback period is fetched: steps candles of interval.
type klinePlan struct {
	interval string
	steps    int
}

// planFor picks the finest interval covering period in at most
// maxKlineWindow candles.
func planFor(period time.Duration) klinePlan {
	for _, iv := range klineIntervals {
		steps := int(period / iv.step)
		if steps >= 1 && steps <= maxKlineWindow {
			return klinePlan{interval: iv.label, steps: steps}
		}
	}
	last := klineIntervals[len(klineIntervals)-1]
	steps := int(period / last.step)
	if steps < 1 {
		steps = 1
	}
	return klinePlan{interval: last.label, steps: steps}
}

func closes(klines []market.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

func simpleReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		out = append(out, (prices[i]-prices[i-1])/prices[i-1])
	}
	return out
}

// returnsStdDev is the sample stdev of simple returns; ok is false with
// fewer than two returns.
func returnsStdDev(prices []float64) (float64, bool) {
	returns := simpleReturns(prices)
	if len(returns) < 2 {
		return 0, false
	}
	return stat.StdDev(returns, nil), true
}

// rangeRatio is (max-min)/min of prices.
func rangeRatio(prices []float64) (float64, bool) {
	if len(prices) < 2 {
		return 0, false
	}
	lo, hi := prices[0], prices[0]
	for _, p := range prices[1:] {
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	if lo <= 0 {
		return 0, false
	}
	return (hi - lo) / lo, true
}

// atrRatio is the last ATR(14) divided by the last close.
func atrRatio(klines []market.Kline) (float64, bool) {
	if len(klines) <= atrPeriod {
		return 0, false
	}
	highs := make([]float64, len(klines))
	lows := make([]float64, len(klines))
	cl := make([]float64, len(klines))
	for i, k := range klines {
		highs[i], lows[i], cl[i] = k.High, k.Low, k.Close
	}
	atr := talib.Atr(highs, lows, cl, atrPeriod)
	if len(atr) == 0 {
		return 0, false
	}
	last := atr[len(atr)-1]
	price := cl[len(cl)-1]
	if math.IsNaN(last) || price <= 0 {
		return 0, false
	}
	return last / price, true
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
