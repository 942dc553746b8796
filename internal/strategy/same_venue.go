package strategy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fundingbot/fundingbot/internal/alerts"
	"github.com/fundingbot/fundingbot/internal/arb"
	"github.com/fundingbot/fundingbot/internal/clock"
	"github.com/fundingbot/fundingbot/internal/venue"
)

// sameVenueMaxSpreadFactor is §4.4.1's max_allowable_spread_pct multiplier
// against the annualised funding rate.
const sameVenueMaxSpreadFactor = 0.10

// SameVenueSpotPerp finds and executes funding arbitrage between a
// perpetual and its matching spot instrument on a single venue (spec
// §4.4.1). Grounded on original_source's SameExchangeSpotPerpStrategy,
// which holds only a single exchange handle and no position-size cap
// member, so size is computed entirely from the opportunity.
type SameVenueSpotPerp struct {
	v       venue.Venue
	clk     clock.Clock
	alerter *alerts.Manager
	log     zerolog.Logger

	minFundingRate    float64
	minExpectedProfit float64
}

var _ Strategy = (*SameVenueSpotPerp)(nil)

// NewSameVenueSpotPerp builds the same-venue spot/perp strategy over a
// single venue handle.
func NewSameVenueSpotPerp(v venue.Venue, clk clock.Clock, alerter *alerts.Manager, log zerolog.Logger) *SameVenueSpotPerp {
	return &SameVenueSpotPerp{
		v:       v,
		clk:     clk,
		alerter: alerter,
		log:     log.With().Str("strategy", "same_venue_spot_perp").Str("venue", v.Name()).Logger(),
	}
}

func (s *SameVenueSpotPerp) Name() string { return fmt.Sprintf("same_venue_spot_perp(%s)", s.v.Name()) }

func (s *SameVenueSpotPerp) Symbols() []string {
	ctx := context.Background()
	perps, err := s.v.AvailableInstruments(ctx, arb.Perpetual)
	if err != nil {
		return nil
	}
	symbols := make([]string, 0, len(perps))
	for _, p := range perps {
		symbols = append(symbols, p.Symbol)
	}
	return symbols
}

func (s *SameVenueSpotPerp) MinFundingRate() float64        { return s.minFundingRate }
func (s *SameVenueSpotPerp) SetMinFundingRate(r float64)     { s.minFundingRate = r }
func (s *SameVenueSpotPerp) MinExpectedProfit() float64      { return s.minExpectedProfit }
func (s *SameVenueSpotPerp) SetMinExpectedProfit(p float64)  { s.minExpectedProfit = p }

// direction returns long/short for the spot and perp legs given a
// funding rate sign (spec §4.4.5 direction table, same-venue row).
func direction(rate float64) (spot, perp side) {
	if rate >= 0 {
		return long, short
	}
	return short, long
}

func sideToOrderSide(sd side) venue.OrderSide {
	if sd == long {
		return venue.Buy
	}
	return venue.Sell
}

// closingSide reverses an entry side to get its closing order side.
func closingSide(sd side) venue.OrderSide {
	if sd == long {
		return venue.Sell
	}
	return venue.Buy
}

func (s *SameVenueSpotPerp) FindOpportunities(ctx context.Context) ([]arb.ArbitrageOpportunity, error) {
	perps, err := s.v.AvailableInstruments(ctx, arb.Perpetual)
	if err != nil {
		return nil, fmt.Errorf("same_venue_spot_perp: list perpetuals: %w", err)
	}
	spots, err := s.v.AvailableInstruments(ctx, arb.Spot)
	if err != nil {
		return nil, fmt.Errorf("same_venue_spot_perp: list spots: %w", err)
	}
	spotByBaseQuote := make(map[string]arb.Instrument, len(spots))
	for _, sp := range spots {
		spotByBaseQuote[sp.BaseCurrency+"/"+sp.QuoteCurrency] = sp
	}

	var opps []arb.ArbitrageOpportunity
	for _, perp := range perps {
		spot, ok := spotByBaseQuote[perp.BaseCurrency+"/"+perp.QuoteCurrency]
		if !ok {
			continue
		}

		fr, err := s.v.FundingRate(ctx, perp.Symbol)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", perp.Symbol).Msg("skip: funding rate fetch failed")
			continue
		}
		if absf(fr.Rate) < s.minFundingRate {
			continue
		}

		annualisedPct := arb.Annualise(fr.Rate, fr.PaymentIntervalHours)

		spotPrice, err := s.v.Price(ctx, spot.Symbol)
		if err != nil {
			continue
		}
		perpPrice, err := s.v.Price(ctx, perp.Symbol)
		if err != nil {
			continue
		}
		spreadPct := 0.0
		if spotPrice != 0 {
			spreadPct = (perpPrice - spotPrice) / spotPrice * 100
		}

		feeSpot, err := s.v.TradingFee(ctx, spot.Symbol, false)
		if err != nil {
			continue
		}
		feePerp, err := s.v.TradingFee(ctx, perp.Symbol, false)
		if err != nil {
			continue
		}
		transactionCostPct := (feeSpot + feePerp) * 2 * 100

		estimatedProfitPct := absf(annualisedPct) - transactionCostPct
		if estimatedProfitPct <= s.minExpectedProfit {
			continue
		}

		maxAllowableSpreadPct := absf(annualisedPct) * sameVenueMaxSpreadFactor
		if absf(spreadPct) > maxAllowableSpreadPct {
			continue
		}

		liq1 := arb.WalkBook(mustBook(ctx, s.v, spot.Symbol), arb.WalkBids)
		liq2 := arb.WalkBook(mustBook(ctx, s.v, perp.Symbol), arb.WalkBids)
		riskScore := arb.RiskScore(arb.RiskScoreInputs{
			EntrySpreadPct:        spreadPct,
			MaxAllowableSpreadPct: maxAllowableSpreadPct,
			Liquidity1:            liq1.AvailableQuote,
			Liquidity2:            liq2.AvailableQuote,
			LiquidityRiskWeight:   25,
			Venue1:                s.v.Name(),
			Venue2:                s.v.Name(),
			PaymentInterval1:      fr.PaymentIntervalHours,
			PaymentInterval2:      fr.PaymentIntervalHours,
		})

		periods := arb.PeriodsToBreakeven(transactionCostPct, absf(fr.Rate)*100)

		maxPositionSizeUSD := liq1.AvailableQuote
		if liq2.AvailableQuote < maxPositionSizeUSD {
			maxPositionSizeUSD = liq2.AvailableQuote
		}

		opp := arb.ArbitrageOpportunity{
			Pair: arb.TradingPair{
				Venue1: s.v.Name(), Symbol1: spot.Symbol,
				Venue2: s.v.Name(), Symbol2: perp.Symbol,
			},
			FundingRate1:           0,
			FundingRate2:           fr.Rate,
			PaymentInterval1:       fr.PaymentIntervalHours,
			PaymentInterval2:       fr.PaymentIntervalHours,
			NetFundingRate:         annualisedPct,
			EntryPriceSpreadPct:    spreadPct,
			MaxAllowableSpreadPct:  maxAllowableSpreadPct,
			TransactionCostPct:     transactionCostPct,
			EstimatedProfitPct:     estimatedProfitPct,
			PeriodsToBreakeven:     periods,
			MaxPositionSizeUSD:     maxPositionSizeUSD,
			RiskScore:              riskScore,
			DiscoveryTime:          s.clk.Now(),
			StrategyTag:            "same_venue_spot_perp",
			StrategyIndex:          -1,
		}
		if estimatedProfitPct > 0 {
			opps = append(opps, opp)
		}
	}
	return opps, nil
}

func mustBook(ctx context.Context, v venue.Venue, symbol string) arb.OrderBook {
	book, err := v.OrderBook(ctx, symbol, 5)
	if err != nil {
		return arb.OrderBook{Symbol: symbol}
	}
	return book
}

func (s *SameVenueSpotPerp) Validate(ctx context.Context, opp arb.ArbitrageOpportunity) (bool, error) {
	fr, err := s.v.FundingRate(ctx, opp.Pair.Symbol2)
	if err != nil {
		return false, fmt.Errorf("same_venue_spot_perp: revalidate funding rate: %w", err)
	}
	if absf(fr.Rate) < s.minFundingRate {
		return false, nil
	}

	spotPrice, err := s.v.Price(ctx, opp.Pair.Symbol1)
	if err != nil {
		return false, err
	}
	perpPrice, err := s.v.Price(ctx, opp.Pair.Symbol2)
	if err != nil {
		return false, err
	}
	spreadPct := 0.0
	if spotPrice != 0 {
		spreadPct = (perpPrice - spotPrice) / spotPrice * 100
	}
	if absf(spreadPct) > opp.MaxAllowableSpreadPct {
		return false, nil
	}
	return true, nil
}

func (s *SameVenueSpotPerp) Size(opp arb.ArbitrageOpportunity) float64 {
	return opp.MaxPositionSizeUSD
}

func (s *SameVenueSpotPerp) Execute(ctx context.Context, opp arb.ArbitrageOpportunity, size float64) (*arb.ArbitragePosition, error) {
	ok, err := s.Validate(ctx, opp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errInvalidated("same_venue_spot_perp.execute")
	}

	spotPrice, err := s.v.Price(ctx, opp.Pair.Symbol1)
	if err != nil {
		return nil, err
	}
	spotSide, perpSide := direction(opp.NetFundingRate)
	qty := size / spotPrice

	legs := [2]leg{
		{V: s.v, Symbol: opp.Pair.Symbol1, Side: sideToOrderSide(spotSide), Quantity: qty, Price: spotPrice},
		{V: s.v, Symbol: opp.Pair.Symbol2, Side: sideToOrderSide(perpSide), Quantity: qty, Price: spotPrice},
	}
	return hedgedExecute(ctx, s.log, s.alerter, s.clk, opp, legs)
}

func (s *SameVenueSpotPerp) Close(ctx context.Context, pos *arb.ArbitragePosition) error {
	spotSide, perpSide := direction(pos.Opportunity.NetFundingRate)
	qty := pos.PositionSizeUSD / pos.EntryPrice1

	legs := [2]leg{
		{V: s.v, Symbol: pos.Opportunity.Pair.Symbol1, Side: closingSide(spotSide), Quantity: qty, Price: pos.CurrentPrice1},
		{V: s.v, Symbol: pos.Opportunity.Pair.Symbol2, Side: closingSide(perpSide), Quantity: qty, Price: pos.CurrentPrice2},
	}
	return hedgedClose(ctx, s.log, s.alerter, legs)
}

func (s *SameVenueSpotPerp) Reduce(ctx context.Context, pos *arb.ArbitragePosition, fraction float64) error {
	spotSide, perpSide := direction(pos.Opportunity.NetFundingRate)
	qty := pos.PositionSizeUSD / pos.EntryPrice1

	legs := [2]leg{
		{V: s.v, Symbol: pos.Opportunity.Pair.Symbol1, Side: closingSide(spotSide), Quantity: qty, Price: pos.CurrentPrice1},
		{V: s.v, Symbol: pos.Opportunity.Pair.Symbol2, Side: closingSide(perpSide), Quantity: qty, Price: pos.CurrentPrice2},
	}
	return hedgedReduce(ctx, s.log, legs, fraction)
}

func (s *SameVenueSpotPerp) Monitor(ctx context.Context, pos *arb.ArbitragePosition) error {
	p1, err := s.v.Price(ctx, pos.Opportunity.Pair.Symbol1)
	if err != nil {
		return err
	}
	p2, err := s.v.Price(ctx, pos.Opportunity.Pair.Symbol2)
	if err != nil {
		return err
	}
	pos.CurrentPrice1, pos.CurrentPrice2 = p1, p2
	if p1 != 0 {
		pos.CurrentSpreadPct = (p2 - p1) / p1 * 100
	}
	return nil
}
