package risk

import (
	"math"
	"strings"
	"sync"
	"time"
)

// Compile-time interface check.
var _ MarketData = (*MarketRecorder)(nil)

// MarketRecorder is a minimal in-process MarketData implementation. The
// market data layer outside the core feeds it price observations; the
// breakers read freshness and a short-vs-baseline realized volatility
// ratio from it.
type MarketRecorder struct {
	shortWindow    int
	baselineWindow int

	mu     sync.RWMutex
	series map[string]*priceSeries
}

type priceSeries struct {
	prices     []float64
	lastUpdate time.Time
}

func NewMarketRecorder(shortWindow, baselineWindow int) *MarketRecorder {
	if shortWindow < 2 {
		shortWindow = 12
	}
	if baselineWindow <= shortWindow {
		baselineWindow = shortWindow * 10
	}
	return &MarketRecorder{
		shortWindow:    shortWindow,
		baselineWindow: baselineWindow,
		series:         make(map[string]*priceSeries),
	}
}

// Observe records one price point for the symbol.
func (r *MarketRecorder) Observe(symbol string, price float64, ts time.Time) {
	if price <= 0 {
		return
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[symbol]
	if !ok {
		s = &priceSeries{}
		r.series[symbol] = s
	}
	s.prices = append(s.prices, price)
	if len(s.prices) > r.baselineWindow {
		s.prices = s.prices[1:]
	}
	if ts.After(s.lastUpdate) {
		s.lastUpdate = ts
	}
}

func (r *MarketRecorder) LastUpdate(symbol string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.series[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok || s.lastUpdate.IsZero() {
		return time.Time{}, false
	}
	return s.lastUpdate, true
}

// VolatilityRatio returns stdev of short-window returns over stdev of the
// full baseline window. False until the baseline holds enough history for
// both windows, or while baseline volatility is zero.
func (r *MarketRecorder) VolatilityRatio(symbol string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.series[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok || len(s.prices) < r.shortWindow*2 {
		return 0, false
	}
	baseline := realizedVol(s.prices)
	short := realizedVol(s.prices[len(s.prices)-r.shortWindow:])
	if baseline == 0 {
		return 0, false
	}
	return short / baseline, true
}

// realizedVol is the standard deviation of simple returns over the series.
func realizedVol(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	rets := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		rets = append(rets, (prices[i]-prices[i-1])/prices[i-1])
	}
	if len(rets) == 0 {
		return 0
	}
	var mean float64
	for _, ret := range rets {
		mean += ret
	}
	mean /= float64(len(rets))
	var varsum float64
	for _, ret := range rets {
		d := ret - mean
		varsum += d * d
	}
	return math.Sqrt(varsum / float64(len(rets)))
}
