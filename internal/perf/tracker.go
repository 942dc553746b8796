// Package perf implements the process-wide performance tracker (spec
// §4.6): trade counters, a bounded daily-return ring, drawdown, and
// Sharpe. Grounded on the teacher's internal/risk/calculator.go
// (CalculateSharpeRatio, CalculateDrawdown) — same formulas, adapted
// from a one-shot query over persisted equity rows into a live ring
// buffer fed by the supervisor's 5-minute stats tick.
package perf

import (
	"math"
	"sync"
	"time"
)

// MaxDailyReturns is the §4.6 bound on the recent-returns ring.
const MaxDailyReturns = 252

// Stats is the process-wide aggregate, serialisable as the
// "performance" persisted-state file (spec §6).
type Stats struct {
	TotalTrades        int       `json:"total_trades"`
	ProfitableTrades   int       `json:"profitable_trades"`
	TotalProfitUSD     float64   `json:"total_profit_usd"`
	MaxDrawdownPct     float64   `json:"max_drawdown_pct"`
	SharpeRatio        float64   `json:"sharpe_ratio"`
	AnnualizedReturnPct float64  `json:"annualized_return_pct"`
	DailyReturns       []float64 `json:"daily_returns"`
	LastUpdated        time.Time `json:"last_updated"`
}

// Tracker is the live, mutex-guarded performance tracker. It shares the
// same single coarse-mutex discipline as risk.Manager (spec §5): never
// held across a venue call.
type Tracker struct {
	mu sync.Mutex

	totalTrades      int
	profitableTrades int
	totalProfitUSD   float64
	peakEquity       float64
	maxDrawdownPct   float64
	dailyReturns     []float64
}

// NewTracker builds an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordExecution increments total_trades on a successfully opened
// position (spec §4.5: the scan worker "on success increments
// total_trades" at execute time, before the position's eventual
// profitability is known).
func (t *Tracker) RecordExecution() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalTrades++
}

// RecordClose records a closed position's realised profit against
// profitable_trades and total_profit_usd. It does not touch
// total_trades, which RecordExecution already incremented when the
// position was opened.
func (t *Tracker) RecordClose(profitUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if profitUSD > 0 {
		t.profitableTrades++
	}
	t.totalProfitUSD += profitUSD
}

// AddDailyReturn appends to the bounded ring, evicting the oldest entry
// once MaxDailyReturns is reached.
func (t *Tracker) AddDailyReturn(r float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dailyReturns = append(t.dailyReturns, r)
	if len(t.dailyReturns) > MaxDailyReturns {
		t.dailyReturns = t.dailyReturns[len(t.dailyReturns)-MaxDailyReturns:]
	}
}

// UpdateDrawdown recomputes max_drawdown_pct from the running peak
// equity = total_profit + sum(unrealized_pnl across active positions),
// tracked the way §4.6 describes. Called on each stats tick with the
// current sum of unrealized PnL from the risk manager's registry.
func (t *Tracker) UpdateDrawdown(sumUnrealizedPnL float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	equity := t.totalProfitUSD + sumUnrealizedPnL
	if equity > t.peakEquity {
		t.peakEquity = equity
	}
	if t.peakEquity > 0 {
		dd := (t.peakEquity - equity) / t.peakEquity * 100
		if dd > t.maxDrawdownPct {
			t.maxDrawdownPct = dd
		}
	}
}

// meanStdDev returns the sample mean and Bessel-corrected sample
// standard deviation of values.
func meanStdDev(values []float64) (mean, stdDev float64) {
	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / n

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	if len(values) > 1 {
		variance /= n - 1
	} else {
		variance /= n
	}
	return mean, math.Sqrt(variance)
}

// Sharpe computes the Sharpe ratio per spec §4.6/§8: (mean/stdev)*sqrt(252)
// when there are at least 2 samples, else the fallback
// annualized_return_pct / max_drawdown_pct when drawdown > 0.
func (t *Tracker) Sharpe(annualizedReturnPct float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sharpeLocked(annualizedReturnPct)
}

func (t *Tracker) sharpeLocked(annualizedReturnPct float64) float64 {
	if len(t.dailyReturns) >= 2 {
		mean, stdDev := meanStdDev(t.dailyReturns)
		if stdDev == 0 {
			return 0
		}
		return (mean / stdDev) * math.Sqrt(252)
	}
	if t.maxDrawdownPct > 0 {
		return annualizedReturnPct / t.maxDrawdownPct
	}
	return 0
}

// AnnualizedReturnPct derives the annualised return from total realised
// profit against a reference notional (the risk config's
// max_total_position_usd, the natural "capital base" for this engine),
// projected from the time elapsed since inception.
func AnnualizedReturnPct(totalProfitUSD, capitalBaseUSD float64, elapsed time.Duration) float64 {
	if capitalBaseUSD <= 0 || elapsed <= 0 {
		return 0
	}
	years := elapsed.Hours() / (24 * 365)
	if years <= 0 {
		return 0
	}
	returnPct := totalProfitUSD / capitalBaseUSD * 100
	return returnPct / years
}

// Snapshot renders a serialisable Stats for persistence (spec §6).
func (t *Tracker) Snapshot(now time.Time, capitalBaseUSD float64, since time.Time) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	annualized := AnnualizedReturnPct(t.totalProfitUSD, capitalBaseUSD, now.Sub(since))
	returns := make([]float64, len(t.dailyReturns))
	copy(returns, t.dailyReturns)

	return Stats{
		TotalTrades:         t.totalTrades,
		ProfitableTrades:    t.profitableTrades,
		TotalProfitUSD:      t.totalProfitUSD,
		MaxDrawdownPct:      t.maxDrawdownPct,
		SharpeRatio:         t.sharpeLocked(annualized),
		AnnualizedReturnPct: annualized,
		DailyReturns:        returns,
		LastUpdated:         now,
	}
}

// Restore replaces the tracker's state from a persisted snapshot,
// loaded back at startup (spec §6).
func (t *Tracker) Restore(s Stats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalTrades = s.TotalTrades
	t.profitableTrades = s.ProfitableTrades
	t.totalProfitUSD = s.TotalProfitUSD
	t.maxDrawdownPct = s.MaxDrawdownPct
	t.peakEquity = s.TotalProfitUSD
	t.dailyReturns = append([]float64(nil), s.DailyReturns...)
}
