// Package strategy implements the three funding-rate arbitrage
// topologies plus the composite dispatcher (spec §4.4), sharing the
// hedged execution/close protocol (§4.4.5, §4.4.7) across all two-leg
// variants. Grounded on original_source's ArbitrageStrategy hierarchy
// (include/strategy/arbitrage_strategy.h, composite_strategy.h) and the
// three *_strategy.cpp scan implementations.
package strategy

import (
	"context"

	"github.com/fundingbot/fundingbot/internal/arb"
)

// Strategy is the polymorphic contract every topology implements (spec
// §4.4's "polymorphic contract").
type Strategy interface {
	Name() string
	Symbols() []string

	MinFundingRate() float64
	SetMinFundingRate(float64)
	MinExpectedProfit() float64
	SetMinExpectedProfit(float64)

	FindOpportunities(ctx context.Context) ([]arb.ArbitrageOpportunity, error)
	Validate(ctx context.Context, opp arb.ArbitrageOpportunity) (bool, error)
	Size(opp arb.ArbitrageOpportunity) float64
	Execute(ctx context.Context, opp arb.ArbitrageOpportunity, size float64) (*arb.ArbitragePosition, error)
	Close(ctx context.Context, pos *arb.ArbitragePosition) error
	// Reduce partially closes a live position by fraction (0,1], per
	// §4.2 should_reduce / §4.4.6 step 3. Callers are responsible for
	// shrinking pos.PositionSizeUSD on success.
	Reduce(ctx context.Context, pos *arb.ArbitragePosition, fraction float64) error
	Monitor(ctx context.Context, pos *arb.ArbitragePosition) error
}

// side is the long/short direction this engine takes on one leg.
type side int

const (
	long side = iota
	short
)

// minFlatSlippageBufferPct is the §4.4.2 flat buffer realised slippage
// must clear before it is folded into transaction cost.
const minFlatSlippageBufferPct = 0.15

// fundingDifferentialFloor is the §4.4.2 minimum |funding1 - funding2|
// below which cross-venue perp/perp opportunities are skipped.
const fundingDifferentialFloor = 0.0002
