package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundingbot/fundingbot/internal/arb"
)

func TestComposite_FindOpportunities_StampsIndexAndSortsByRawProfit(t *testing.T) {
	sameV := seedSameVenueMock(t, 0.001)
	perpV1, perpV2 := seedCrossPerpMocks(t, 0.004, -0.002)

	sameStrategy := newSameVenueStrategy(sameV)
	crossStrategy := newCrossPerpStrategy(perpV1, perpV2)

	c := NewComposite(sameStrategy, crossStrategy)
	opps, err := c.FindOpportunities(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 2)

	for i := 1; i < len(opps); i++ {
		assert.GreaterOrEqual(t, opps[i-1].EstimatedProfitPct, opps[i].EstimatedProfitPct)
	}

	seenIndexes := map[int]bool{}
	for _, o := range opps {
		assert.GreaterOrEqual(t, o.StrategyIndex, 0)
		assert.Less(t, o.StrategyIndex, 2)
		seenIndexes[o.StrategyIndex] = true
	}
	assert.Len(t, seenIndexes, 2)
}

func TestComposite_SetMinFundingRate_PropagatesToChildren(t *testing.T) {
	sameV := seedSameVenueMock(t, 0.001)
	perpV1, perpV2 := seedCrossPerpMocks(t, 0.004, -0.002)

	sameStrategy := newSameVenueStrategy(sameV)
	crossStrategy := newCrossPerpStrategy(perpV1, perpV2)
	c := NewComposite(sameStrategy, crossStrategy)

	c.SetMinFundingRate(0.05)
	assert.Equal(t, 0.05, sameStrategy.MinFundingRate())
	assert.Equal(t, 0.05, crossStrategy.MinFundingRate())
}

func TestComposite_Execute_DispatchesByStrategyIndex(t *testing.T) {
	sameV := seedSameVenueMock(t, 0.001)
	perpV1, perpV2 := seedCrossPerpMocks(t, 0.004, -0.002)

	sameStrategy := newSameVenueStrategy(sameV)
	crossStrategy := newCrossPerpStrategy(perpV1, perpV2)
	c := NewComposite(sameStrategy, crossStrategy)

	opps, err := c.FindOpportunities(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 2)

	for _, opp := range opps {
		pos, err := c.Execute(context.Background(), opp, c.Size(opp))
		require.NoError(t, err)
		require.NotNil(t, pos)
		assert.NoError(t, c.Close(context.Background(), pos))
	}
}

func TestComposite_Reduce_DispatchesByStrategyIndex(t *testing.T) {
	sameV := seedSameVenueMock(t, 0.001)
	perpV1, perpV2 := seedCrossPerpMocks(t, 0.004, -0.002)

	sameStrategy := newSameVenueStrategy(sameV)
	crossStrategy := newCrossPerpStrategy(perpV1, perpV2)
	c := NewComposite(sameStrategy, crossStrategy)

	opps, err := c.FindOpportunities(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 2)

	for _, opp := range opps {
		pos, err := c.Execute(context.Background(), opp, c.Size(opp))
		require.NoError(t, err)
		require.NotNil(t, pos)
		assert.NoError(t, c.Reduce(context.Background(), pos, 0.5))
		assert.NoError(t, c.Close(context.Background(), pos))
	}
}

func TestComposite_Resolve_FallsBackToLinearSearchWhenIndexUnknown(t *testing.T) {
	sameV := seedSameVenueMock(t, 0.001)
	perpV1, perpV2 := seedCrossPerpMocks(t, 0.004, -0.002)

	sameStrategy := newSameVenueStrategy(sameV)
	crossStrategy := newCrossPerpStrategy(perpV1, perpV2)
	c := NewComposite(sameStrategy, crossStrategy)

	opps, err := c.FindOpportunities(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 2)

	// simulate an opportunity reloaded from persisted state with an
	// unknown strategy_index (spec §4.4.4's slow path).
	var unknownIdxOpp arb.ArbitrageOpportunity
	for _, o := range opps {
		if o.StrategyTag == "cross_venue_perp" {
			unknownIdxOpp = o
			break
		}
	}
	require.NotEmpty(t, unknownIdxOpp.StrategyTag)
	unknownIdxOpp.StrategyIndex = -1

	ok, err := c.Validate(context.Background(), unknownIdxOpp)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestComposite_Symbols_UnionsChildren(t *testing.T) {
	sameV := seedSameVenueMock(t, 0.001)
	perpV1, perpV2 := seedCrossPerpMocks(t, 0.004, -0.002)

	sameStrategy := newSameVenueStrategy(sameV)
	crossStrategy := newCrossPerpStrategy(perpV1, perpV2)
	c := NewComposite(sameStrategy, crossStrategy)

	symbols := c.Symbols()
	assert.NotEmpty(t, symbols)
}
