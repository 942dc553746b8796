package perf

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_RecordExecutionAndClose(t *testing.T) {
	tr := NewTracker()
	tr.RecordExecution()
	tr.RecordExecution()
	tr.RecordExecution()
	tr.RecordClose(100)
	tr.RecordClose(-40)
	tr.RecordClose(25)

	snap := tr.Snapshot(time.Now(), 10000, time.Now().Add(-24*time.Hour))
	assert.Equal(t, 3, snap.TotalTrades)
	assert.Equal(t, 2, snap.ProfitableTrades)
	assert.InDelta(t, 85, snap.TotalProfitUSD, 1e-9)
}

func TestTracker_RecordExecution_CountsOpenedPositionsIndependentlyOfClose(t *testing.T) {
	tr := NewTracker()
	tr.RecordExecution()
	tr.RecordExecution()

	snap := tr.Snapshot(time.Now(), 10000, time.Now().Add(-24*time.Hour))
	assert.Equal(t, 2, snap.TotalTrades)
	assert.Equal(t, 0, snap.ProfitableTrades)
	assert.Equal(t, 0.0, snap.TotalProfitUSD)
}

func TestTracker_AddDailyReturn_BoundedRing(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < MaxDailyReturns+10; i++ {
		tr.AddDailyReturn(float64(i))
	}
	assert.Len(t, tr.dailyReturns, MaxDailyReturns)
	// oldest entries evicted: first remaining value should be 10
	assert.Equal(t, float64(10), tr.dailyReturns[0])
}

func TestTracker_Sharpe_WithSamples(t *testing.T) {
	tr := NewTracker()
	returns := []float64{0.01, 0.02, -0.005, 0.015, 0.01}
	for _, r := range returns {
		tr.AddDailyReturn(r)
	}

	mean, stdDev := meanStdDev(returns)
	want := (mean / stdDev) * math.Sqrt(252)

	got := tr.Sharpe(0)
	assert.InDelta(t, want, got, 1e-9)
}

func TestTracker_Sharpe_FallbackToAnnualizedOverDrawdown(t *testing.T) {
	tr := NewTracker()
	tr.RecordClose(100)
	tr.UpdateDrawdown(0)   // stats tick sets peak equity to 100
	tr.UpdateDrawdown(-50) // equity dips below peak, establishes a drawdown

	got := tr.Sharpe(36.5)
	require.Greater(t, tr.maxDrawdownPct, 0.0)
	assert.InDelta(t, 36.5/tr.maxDrawdownPct, got, 1e-9)
}

func TestTracker_Sharpe_ZeroWhenNoSamplesAndNoDrawdown(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, 0.0, tr.Sharpe(10))
}

func TestTracker_UpdateDrawdown_TracksPeak(t *testing.T) {
	tr := NewTracker()
	tr.UpdateDrawdown(100)
	tr.UpdateDrawdown(150)
	tr.UpdateDrawdown(90)

	// peak 150, trough 90 -> 40% drawdown
	assert.InDelta(t, 40.0, tr.maxDrawdownPct, 1e-9)
}

func TestTracker_RestoreRoundTrip(t *testing.T) {
	tr := NewTracker()
	tr.RecordClose(200)
	tr.AddDailyReturn(0.01)
	tr.AddDailyReturn(0.02)
	tr.UpdateDrawdown(190)

	snap := tr.Snapshot(time.Now(), 5000, time.Now().Add(-48*time.Hour))

	restored := NewTracker()
	restored.Restore(snap)

	roundTripped := restored.Snapshot(time.Now(), 5000, time.Now().Add(-48*time.Hour))
	assert.Equal(t, snap.TotalTrades, roundTripped.TotalTrades)
	assert.Equal(t, snap.ProfitableTrades, roundTripped.ProfitableTrades)
	assert.InDelta(t, snap.TotalProfitUSD, roundTripped.TotalProfitUSD, 1e-9)
	assert.InDelta(t, snap.MaxDrawdownPct, roundTripped.MaxDrawdownPct, 1e-9)
	assert.Equal(t, len(snap.DailyReturns), len(roundTripped.DailyReturns))
}

func TestAnnualizedReturnPct(t *testing.T) {
	// $500 profit on $10,000 capital over exactly half a year -> ~10% annualized
	got := AnnualizedReturnPct(500, 10000, 24*365/2*time.Hour)
	assert.InDelta(t, 10.0, got, 1e-6)
}

func TestAnnualizedReturnPct_DegenerateInputs(t *testing.T) {
	assert.Equal(t, 0.0, AnnualizedReturnPct(100, 0, time.Hour))
	assert.Equal(t, 0.0, AnnualizedReturnPct(100, 1000, 0))
}
