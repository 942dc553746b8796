package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundingbot/fundingbot/internal/alerts"
	"github.com/fundingbot/fundingbot/internal/arb"
	"github.com/fundingbot/fundingbot/internal/clock"
	"github.com/fundingbot/fundingbot/internal/venue"
)

func seedCrossPerpMocks(t *testing.T, rate1, rate2 float64) (*venue.Mock, *venue.Mock) {
	t.Helper()
	v1 := venue.NewMock("binance", clock.NewFixed(time.Unix(0, 0)))
	v2 := venue.NewMock("bybit", clock.NewFixed(time.Unix(0, 0)))

	v1.SetInstruments([]arb.Instrument{
		{Venue: "binance", Symbol: "ETHUSDT-PERP", Kind: arb.Perpetual, BaseCurrency: "ETH", QuoteCurrency: "USDT"},
	})
	v2.SetInstruments([]arb.Instrument{
		{Venue: "bybit", Symbol: "ETHUSDT-PERP", Kind: arb.Perpetual, BaseCurrency: "ETH", QuoteCurrency: "USDT"},
	})
	v1.SetPrice("ETHUSDT-PERP", 100)
	v2.SetPrice("ETHUSDT-PERP", 100.2)
	v1.SetFundingRate("ETHUSDT-PERP", arb.FundingRate{Symbol: "ETHUSDT-PERP", Rate: rate1, PaymentIntervalHours: 8})
	v2.SetFundingRate("ETHUSDT-PERP", arb.FundingRate{Symbol: "ETHUSDT-PERP", Rate: rate2, PaymentIntervalHours: 8})
	v1.SetBalance("USDT", 10_000_000)
	v2.SetBalance("USDT", 10_000_000)
	return v1, v2
}

func newCrossPerpStrategy(v1, v2 venue.Venue) *CrossVenuePerp {
	s := NewCrossVenuePerp(v1, v2, clock.NewFixed(time.Unix(0, 0)), alerts.NewManager(), zerolog.Nop())
	s.SetMinFundingRate(0.0001)
	s.SetMinExpectedProfit(0.01)
	return s
}

func TestCrossVenuePerp_FindOpportunities_DifferentialAboveFloor(t *testing.T) {
	v1, v2 := seedCrossPerpMocks(t, 0.004, -0.002)
	s := newCrossPerpStrategy(v1, v2)

	opps, err := s.FindOpportunities(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "cross_venue_perp", opps[0].StrategyTag)
}

func TestCrossVenuePerp_FindOpportunities_BelowDifferentialFloor_Skipped(t *testing.T) {
	v1, v2 := seedCrossPerpMocks(t, 0.0001, 0.00005) // |diff| = 0.00005 < 0.0002 floor
	s := newCrossPerpStrategy(v1, v2)

	opps, err := s.FindOpportunities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestCrossVenuePerp_CrossDirection_LowerRateGoesLong(t *testing.T) {
	v1side, v2side := crossDirection(0.001, 0.005)
	assert.Equal(t, long, v1side)
	assert.Equal(t, short, v2side)

	v1side, v2side = crossDirection(0.005, 0.001)
	assert.Equal(t, short, v1side)
	assert.Equal(t, long, v2side)
}

func TestCrossVenuePerp_SortedByRiskAdjustedReturn(t *testing.T) {
	v1, v2 := seedCrossPerpMocks(t, 0.004, -0.002)
	s := newCrossPerpStrategy(v1, v2)
	opps, err := s.FindOpportunities(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, opps)

	for i := 1; i < len(opps); i++ {
		prev := opps[i-1].EstimatedProfitPct / (opps[i-1].RiskScore + 1)
		cur := opps[i].EstimatedProfitPct / (opps[i].RiskScore + 1)
		assert.GreaterOrEqual(t, prev, cur)
	}
}

func TestCrossVenuePerp_ExecuteAndClose_RoundTrip(t *testing.T) {
	v1, v2 := seedCrossPerpMocks(t, 0.004, -0.002)
	s := newCrossPerpStrategy(v1, v2)

	opps, err := s.FindOpportunities(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, opps)

	pos, err := s.Execute(context.Background(), opps[0], s.Size(opps[0]))
	require.NoError(t, err)
	require.NotNil(t, pos)

	err = s.Close(context.Background(), pos)
	assert.NoError(t, err)
}

func TestCrossVenuePerp_Reduce_HalvesPosition(t *testing.T) {
	v1, v2 := seedCrossPerpMocks(t, 0.004, -0.002)
	s := newCrossPerpStrategy(v1, v2)

	opps, err := s.FindOpportunities(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, opps)

	pos, err := s.Execute(context.Background(), opps[0], s.Size(opps[0]))
	require.NoError(t, err)
	require.NotNil(t, pos)

	err = s.Reduce(context.Background(), pos, 0.5)
	assert.NoError(t, err)
}
