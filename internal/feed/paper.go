package feed

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ajitpratap0/evofunk/internal/strategy"
)

// PaperFeed synthesizes performance snapshots for paper mode: a fresh
// strategy gets a bootstrap baseline, then each snapshot drifts the
// previous one with a small seeded random walk.
type PaperFeed struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPaperFeed builds a synthetic feed; seed 0 uses the clock
func NewPaperFeed(seed int64) *PaperFeed {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &PaperFeed{rng: rand.New(rand.NewSource(seed))}
}

func (f *PaperFeed) Snapshot(ctx context.Context, s *strategy.Strategy) (strategy.MetricsBundle, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s.Metrics.TradeCount == 0 {
		return strategy.MetricsBundle{
			Score:        35 + f.rng.Float64()*20,
			WinRate:      0.4 + f.rng.Float64()*0.2,
			TotalReturn:  f.rng.Float64() * 0.05,
			AvgHoldTime:  time.Duration(2+f.rng.Intn(4)) * time.Hour,
			TradeCount:   5 + f.rng.Intn(10),
			ProfitFactor: 0.9 + f.rng.Float64()*0.4,
			MaxDrawdown:  0.05 + f.rng.Float64()*0.1,
			SharpeRatio:  f.rng.Float64(),
		}, 0, nil
	}

	drift := func(v, scale float64) float64 {
		return v * (1 + (f.rng.Float64()*2-1)*scale)
	}

	m := s.Metrics
	bundle := strategy.MetricsBundle{
		Score:        math.Min(math.Max(drift(m.Score, 0.05), 0), 100),
		WinRate:      math.Min(math.Max(drift(m.WinRate, 0.03), 0), 1),
		TotalReturn:  drift(m.TotalReturn, 0.1),
		AvgHoldTime:  time.Duration(drift(float64(m.AvgHoldTime), 0.05)),
		TradeCount:   m.TradeCount + f.rng.Intn(5),
		ProfitFactor: math.Max(drift(m.ProfitFactor, 0.05), 0),
		MaxDrawdown:  math.Max(drift(m.MaxDrawdown, 0.05), 0),
		SharpeRatio:  drift(m.SharpeRatio, 0.05),
	}
	pnl := s.RealizedPnL + (f.rng.Float64()*2-1)*50
	return bundle, pnl, nil
}
