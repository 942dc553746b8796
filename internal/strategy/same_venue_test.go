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

func seedSameVenueMock(t *testing.T, fundingRate float64) *venue.Mock {
	t.Helper()
	v := venue.NewMock("binance", clock.NewFixed(time.Unix(0, 0)))
	v.SetInstruments([]arb.Instrument{
		{Venue: "binance", Symbol: "BTCUSDT", Kind: arb.Spot, BaseCurrency: "BTC", QuoteCurrency: "USDT"},
		{Venue: "binance", Symbol: "BTCUSDT-PERP", Kind: arb.Perpetual, BaseCurrency: "BTC", QuoteCurrency: "USDT"},
	})
	v.SetPrice("BTCUSDT", 100)
	v.SetPrice("BTCUSDT-PERP", 100.5)
	v.SetFundingRate("BTCUSDT-PERP", arb.FundingRate{
		Symbol: "BTCUSDT-PERP", Rate: fundingRate, PaymentIntervalHours: 8,
	})
	v.SetBalance("USDT", 10_000_000)
	return v
}

func newSameVenueStrategy(v venue.Venue) *SameVenueSpotPerp {
	s := NewSameVenueSpotPerp(v, clock.NewFixed(time.Unix(0, 0)), alerts.NewManager(), zerolog.Nop())
	s.SetMinFundingRate(0.0001)
	s.SetMinExpectedProfit(0.01)
	return s
}

func TestSameVenueSpotPerp_FindOpportunities_PositiveFunding(t *testing.T) {
	v := seedSameVenueMock(t, 0.001) // well above the transaction-cost floor once annualised
	s := newSameVenueStrategy(v)

	opps, err := s.FindOpportunities(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "same_venue_spot_perp", opps[0].StrategyTag)
	assert.Equal(t, -1, opps[0].StrategyIndex)
	assert.Greater(t, opps[0].EstimatedProfitPct, 0.0)
}

func TestSameVenueSpotPerp_FindOpportunities_BelowMinRate_Skipped(t *testing.T) {
	v := seedSameVenueMock(t, 0.00001)
	s := newSameVenueStrategy(v)

	opps, err := s.FindOpportunities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestSameVenueSpotPerp_Direction_PositiveFunding_LongSpotShortPerp(t *testing.T) {
	spot, perp := direction(0.001)
	assert.Equal(t, long, spot)
	assert.Equal(t, short, perp)
}

func TestSameVenueSpotPerp_Direction_NegativeFunding_ShortSpotLongPerp(t *testing.T) {
	spot, perp := direction(-0.001)
	assert.Equal(t, short, spot)
	assert.Equal(t, long, perp)
}

func TestSameVenueSpotPerp_Size_HonorsOpportunityCap(t *testing.T) {
	v := seedSameVenueMock(t, 0.001)
	s := newSameVenueStrategy(v)
	opp := arb.ArbitrageOpportunity{MaxPositionSizeUSD: 4242}
	assert.Equal(t, 4242.0, s.Size(opp))
}

func TestSameVenueSpotPerp_ExecuteAndClose_RoundTrip(t *testing.T) {
	v := seedSameVenueMock(t, 0.001)
	s := newSameVenueStrategy(v)

	opps, err := s.FindOpportunities(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, opps)

	pos, err := s.Execute(context.Background(), opps[0], s.Size(opps[0]))
	require.NoError(t, err)
	require.NotNil(t, pos)

	err = s.Close(context.Background(), pos)
	assert.NoError(t, err)
}

func TestSameVenueSpotPerp_Reduce_HalvesPosition(t *testing.T) {
	v := seedSameVenueMock(t, 0.001)
	s := newSameVenueStrategy(v)

	opps, err := s.FindOpportunities(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, opps)

	pos, err := s.Execute(context.Background(), opps[0], s.Size(opps[0]))
	require.NoError(t, err)
	require.NotNil(t, pos)

	err = s.Reduce(context.Background(), pos, 0.5)
	assert.NoError(t, err)
}

func TestSameVenueSpotPerp_Reduce_RejectsOutOfRangeFraction(t *testing.T) {
	v := seedSameVenueMock(t, 0.001)
	s := newSameVenueStrategy(v)

	opps, err := s.FindOpportunities(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, opps)

	pos, err := s.Execute(context.Background(), opps[0], s.Size(opps[0]))
	require.NoError(t, err)

	assert.Error(t, s.Reduce(context.Background(), pos, 0))
	assert.Error(t, s.Reduce(context.Background(), pos, 1.5))
}
