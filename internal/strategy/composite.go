package strategy

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fundingbot/fundingbot/internal/arb"
)

// Composite owns an ordered collection of sub-strategies and dispatches
// validate/size/execute/close by the stamped strategy_index, falling
// back to the first sub-strategy whose Symbols() lists either leg's
// symbol when the index is unknown (venues and the full pair are not
// compared).
// Grounded directly on original_source's CompositeStrategy
// (include/strategy/composite_strategy.h): same constructor shape
// (ordered sub-strategy slice), same find_opportunities concatenation +
// index stamping, same fast-path/slow-path dispatch split.
type Composite struct {
	children []Strategy
}

var _ Strategy = (*Composite)(nil)

// NewComposite builds a composite over an ordered, non-empty slice of
// sub-strategies. min_funding_rate/min_expected_profit are seeded from
// the first child, matching the header's constructor.
func NewComposite(children ...Strategy) *Composite {
	c := &Composite{children: children}
	return c
}

func (c *Composite) Name() string {
	names := make([]string, len(c.children))
	for i, ch := range c.children {
		names[i] = ch.Name()
	}
	return "composite(" + strings.Join(names, "+") + ")"
}

func (c *Composite) Symbols() []string {
	seen := make(map[string]struct{})
	var symbols []string
	for _, ch := range c.children {
		for _, sym := range ch.Symbols() {
			if _, ok := seen[sym]; !ok {
				seen[sym] = struct{}{}
				symbols = append(symbols, sym)
			}
		}
	}
	return symbols
}

func (c *Composite) MinFundingRate() float64 {
	if len(c.children) == 0 {
		return 0
	}
	return c.children[0].MinFundingRate()
}

func (c *Composite) SetMinFundingRate(r float64) {
	for _, ch := range c.children {
		ch.SetMinFundingRate(r)
	}
}

func (c *Composite) MinExpectedProfit() float64 {
	if len(c.children) == 0 {
		return 0
	}
	return c.children[0].MinExpectedProfit()
}

func (c *Composite) SetMinExpectedProfit(p float64) {
	for _, ch := range c.children {
		ch.SetMinExpectedProfit(p)
	}
}

// FindOpportunities fans out to every sub-strategy concurrently
// (errgroup, per DESIGN.md's golang.org/x/sync wiring), concatenates
// their results stamping strategy_index, and sorts by raw
// estimated_profit_pct descending, exactly as composite_strategy.h's
// findOpportunities does.
func (c *Composite) FindOpportunities(ctx context.Context) ([]arb.ArbitrageOpportunity, error) {
	results := make([][]arb.ArbitrageOpportunity, len(c.children))

	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range c.children {
		i, ch := i, ch
		g.Go(func() error {
			opps, err := ch.FindOpportunities(gctx)
			if err != nil {
				return nil // a failing sub-scan yields no opportunities, not a hard failure
			}
			results[i] = opps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []arb.ArbitrageOpportunity
	for i, opps := range results {
		for _, opp := range opps {
			opp.StrategyIndex = i
			if opp.StrategyTag == "" {
				opp.StrategyTag = c.children[i].Name()
			}
			all = append(all, opp)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].EstimatedProfitPct > all[j].EstimatedProfitPct
	})
	return all, nil
}

// resolve returns the sub-strategy for an opportunity: the fast path
// uses strategy_index when in bounds, the slow path returns the first
// child whose Symbols() contains pair.Symbol1 or pair.Symbol2; it does
// not compare venues or require both symbols to match
// (original_source's same two-tier dispatch in
// validateOpportunity/executeTrade/closePosition).
func (c *Composite) resolve(pair arb.TradingPair, idx int) Strategy {
	if idx >= 0 && idx < len(c.children) {
		return c.children[idx]
	}
	for _, ch := range c.children {
		for _, sym := range ch.Symbols() {
			if sym == pair.Symbol1 || sym == pair.Symbol2 {
				return ch
			}
		}
	}
	return nil
}

func (c *Composite) Validate(ctx context.Context, opp arb.ArbitrageOpportunity) (bool, error) {
	child := c.resolve(opp.Pair, opp.StrategyIndex)
	if child == nil {
		return false, nil
	}
	return child.Validate(ctx, opp)
}

func (c *Composite) Size(opp arb.ArbitrageOpportunity) float64 {
	child := c.resolve(opp.Pair, opp.StrategyIndex)
	if child == nil {
		return 0
	}
	return child.Size(opp)
}

func (c *Composite) Execute(ctx context.Context, opp arb.ArbitrageOpportunity, size float64) (*arb.ArbitragePosition, error) {
	child := c.resolve(opp.Pair, opp.StrategyIndex)
	if child == nil {
		return nil, errInvalidated("composite.execute: no matching sub-strategy")
	}
	return child.Execute(ctx, opp, size)
}

func (c *Composite) Close(ctx context.Context, pos *arb.ArbitragePosition) error {
	child := c.resolve(pos.Opportunity.Pair, pos.Opportunity.StrategyIndex)
	if child == nil {
		return errInvalidated("composite.close: no matching sub-strategy")
	}
	return child.Close(ctx, pos)
}

func (c *Composite) Reduce(ctx context.Context, pos *arb.ArbitragePosition, fraction float64) error {
	child := c.resolve(pos.Opportunity.Pair, pos.Opportunity.StrategyIndex)
	if child == nil {
		return errInvalidated("composite.reduce: no matching sub-strategy")
	}
	return child.Reduce(ctx, pos, fraction)
}

func (c *Composite) Monitor(ctx context.Context, pos *arb.ArbitragePosition) error {
	child := c.resolve(pos.Opportunity.Pair, pos.Opportunity.StrategyIndex)
	if child == nil {
		return errInvalidated("composite.monitor: no matching sub-strategy")
	}
	return child.Monitor(ctx, pos)
}
