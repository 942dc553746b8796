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

// crossSpotPerpMaxSpreadFactor mirrors the same-venue variant's 0.10
// max-allowable-spread factor (§4.4.3: "analogous to 4.4.1").
const crossSpotPerpMaxSpreadFactor = 0.10

// crossSpotPerpSizeFactor is §4.4.3's tightened position-size cap.
const crossSpotPerpSizeFactor = 0.35

// crossSpotPerpVenueRiskPlaceholder is an unrecognised venue label fed
// into arb.RiskScore's venue fields so its unknown-venue default (15)
// is used as the fixed venue_risk contribution §4.4.3 requires, rather
// than either real venue's calibrated table entry.
const crossSpotPerpVenueRiskPlaceholder = "cross-venue-spot-perp"

// CrossVenueSpotPerp finds and executes funding arbitrage between a
// spot instrument on one venue and a matching perpetual on another
// (spec §4.4.3). Grounded on original_source's
// CrossExchangeSpotPerpStrategy, which holds (spot_exchange,
// perp_exchange) handles.
type CrossVenueSpotPerp struct {
	spotVenue, perpVenue venue.Venue
	clk                  clock.Clock
	alerter              *alerts.Manager
	log                  zerolog.Logger

	minFundingRate    float64
	minExpectedProfit float64
}

var _ Strategy = (*CrossVenueSpotPerp)(nil)

func NewCrossVenueSpotPerp(spotVenue, perpVenue venue.Venue, clk clock.Clock, alerter *alerts.Manager, log zerolog.Logger) *CrossVenueSpotPerp {
	return &CrossVenueSpotPerp{
		spotVenue: spotVenue,
		perpVenue: perpVenue,
		clk:       clk,
		alerter:   alerter,
		log: log.With().Str("strategy", "cross_venue_spot_perp").
			Str("spot_venue", spotVenue.Name()).Str("perp_venue", perpVenue.Name()).Logger(),
	}
}

func (s *CrossVenueSpotPerp) Name() string {
	return fmt.Sprintf("cross_venue_spot_perp(%s,%s)", s.spotVenue.Name(), s.perpVenue.Name())
}

func (s *CrossVenueSpotPerp) Symbols() []string {
	ctx := context.Background()
	perps, err := s.perpVenue.AvailableInstruments(ctx, arb.Perpetual)
	if err != nil {
		return nil
	}
	symbols := make([]string, 0, len(perps))
	for _, p := range perps {
		symbols = append(symbols, p.Symbol)
	}
	return symbols
}

func (s *CrossVenueSpotPerp) MinFundingRate() float64       { return s.minFundingRate }
func (s *CrossVenueSpotPerp) SetMinFundingRate(r float64)    { s.minFundingRate = r }
func (s *CrossVenueSpotPerp) MinExpectedProfit() float64     { return s.minExpectedProfit }
func (s *CrossVenueSpotPerp) SetMinExpectedProfit(p float64) { s.minExpectedProfit = p }

func (s *CrossVenueSpotPerp) FindOpportunities(ctx context.Context) ([]arb.ArbitrageOpportunity, error) {
	perps, err := s.perpVenue.AvailableInstruments(ctx, arb.Perpetual)
	if err != nil {
		return nil, fmt.Errorf("cross_venue_spot_perp: list %s perpetuals: %w", s.perpVenue.Name(), err)
	}
	spots, err := s.spotVenue.AvailableInstruments(ctx, arb.Spot)
	if err != nil {
		return nil, fmt.Errorf("cross_venue_spot_perp: list %s spots: %w", s.spotVenue.Name(), err)
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

		fr, err := s.perpVenue.FundingRate(ctx, perp.Symbol)
		if err != nil {
			continue
		}
		if absf(fr.Rate) < s.minFundingRate {
			continue
		}

		annualisedPct := arb.Annualise(fr.Rate, fr.PaymentIntervalHours)

		spotPrice, err := s.spotVenue.Price(ctx, spot.Symbol)
		if err != nil {
			continue
		}
		perpPrice, err := s.perpVenue.Price(ctx, perp.Symbol)
		if err != nil {
			continue
		}
		spreadPct := 0.0
		if spotPrice != 0 {
			spreadPct = (perpPrice - spotPrice) / spotPrice * 100
		}

		feeSpot, err := s.spotVenue.TradingFee(ctx, spot.Symbol, false)
		if err != nil {
			continue
		}
		feePerp, err := s.perpVenue.TradingFee(ctx, perp.Symbol, false)
		if err != nil {
			continue
		}
		transactionCostPct := (feeSpot + feePerp) * 2 * 100

		estimatedProfitPct := absf(annualisedPct) - transactionCostPct
		if estimatedProfitPct <= s.minExpectedProfit {
			continue
		}

		maxAllowableSpreadPct := absf(annualisedPct) * crossSpotPerpMaxSpreadFactor
		if absf(spreadPct) > maxAllowableSpreadPct {
			continue
		}

		book1, err := s.spotVenue.OrderBook(ctx, spot.Symbol, 5)
		if err != nil {
			continue
		}
		book2, err := s.perpVenue.OrderBook(ctx, perp.Symbol, 5)
		if err != nil {
			continue
		}
		liq1 := arb.WalkBook(book1, arb.WalkBids)
		liq2 := arb.WalkBook(book2, arb.WalkBids)
		riskScore := arb.RiskScore(arb.RiskScoreInputs{
			EntrySpreadPct:        spreadPct,
			MaxAllowableSpreadPct: maxAllowableSpreadPct,
			Liquidity1:            liq1.AvailableQuote,
			Liquidity2:            liq2.AvailableQuote,
			LiquidityRiskWeight:   30,
			Venue1:                crossSpotPerpVenueRiskPlaceholder,
			Venue2:                crossSpotPerpVenueRiskPlaceholder,
			PaymentInterval1:      fr.PaymentIntervalHours,
			PaymentInterval2:      fr.PaymentIntervalHours,
		})

		periods := arb.PeriodsToBreakeven(transactionCostPct, absf(fr.Rate)*100)

		maxPositionSizeUSD := liq1.AvailableQuote
		if liq2.AvailableQuote < maxPositionSizeUSD {
			maxPositionSizeUSD = liq2.AvailableQuote
		}
		maxPositionSizeUSD *= crossSpotPerpSizeFactor

		if estimatedProfitPct <= 0 {
			continue
		}
		opps = append(opps, arb.ArbitrageOpportunity{
			Pair: arb.TradingPair{
				Venue1: s.spotVenue.Name(), Symbol1: spot.Symbol, Kind1: arb.Spot,
				Venue2: s.perpVenue.Name(), Symbol2: perp.Symbol, Kind2: arb.Perpetual,
			},
			FundingRate1:          0,
			FundingRate2:          fr.Rate,
			PaymentInterval1:      fr.PaymentIntervalHours,
			PaymentInterval2:      fr.PaymentIntervalHours,
			NetFundingRate:        annualisedPct,
			EntryPriceSpreadPct:   spreadPct,
			MaxAllowableSpreadPct: maxAllowableSpreadPct,
			TransactionCostPct:    transactionCostPct,
			EstimatedProfitPct:    estimatedProfitPct,
			PeriodsToBreakeven:    periods,
			MaxPositionSizeUSD:    maxPositionSizeUSD,
			RiskScore:             riskScore,
			DiscoveryTime:         s.clk.Now(),
			StrategyTag:           "cross_venue_spot_perp",
			StrategyIndex:         -1,
		})
	}
	return opps, nil
}

func (s *CrossVenueSpotPerp) Validate(ctx context.Context, opp arb.ArbitrageOpportunity) (bool, error) {
	fr, err := s.perpVenue.FundingRate(ctx, opp.Pair.Symbol2)
	if err != nil {
		return false, err
	}
	if absf(fr.Rate) < s.minFundingRate {
		return false, nil
	}

	spotPrice, err := s.spotVenue.Price(ctx, opp.Pair.Symbol1)
	if err != nil {
		return false, err
	}
	perpPrice, err := s.perpVenue.Price(ctx, opp.Pair.Symbol2)
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

func (s *CrossVenueSpotPerp) Size(opp arb.ArbitrageOpportunity) float64 {
	return opp.MaxPositionSizeUSD
}

func (s *CrossVenueSpotPerp) Execute(ctx context.Context, opp arb.ArbitrageOpportunity, size float64) (*arb.ArbitragePosition, error) {
	ok, err := s.Validate(ctx, opp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errInvalidated("cross_venue_spot_perp.execute")
	}

	spotPrice, err := s.spotVenue.Price(ctx, opp.Pair.Symbol1)
	if err != nil {
		return nil, err
	}
	spotSide, perpSide := direction(opp.NetFundingRate)
	qty := size / spotPrice

	legs := [2]leg{
		{V: s.spotVenue, Symbol: opp.Pair.Symbol1, Side: sideToOrderSide(spotSide), Quantity: qty, Price: spotPrice},
		{V: s.perpVenue, Symbol: opp.Pair.Symbol2, Side: sideToOrderSide(perpSide), Quantity: qty, Price: spotPrice},
	}
	return hedgedExecute(ctx, s.log, s.alerter, s.clk, opp, legs)
}

func (s *CrossVenueSpotPerp) Close(ctx context.Context, pos *arb.ArbitragePosition) error {
	spotSide, perpSide := direction(pos.Opportunity.NetFundingRate)
	qty := pos.PositionSizeUSD / pos.EntryPrice1

	legs := [2]leg{
		{V: s.spotVenue, Symbol: pos.Opportunity.Pair.Symbol1, Side: closingSide(spotSide), Quantity: qty, Price: pos.CurrentPrice1},
		{V: s.perpVenue, Symbol: pos.Opportunity.Pair.Symbol2, Side: closingSide(perpSide), Quantity: qty, Price: pos.CurrentPrice2},
	}
	return hedgedClose(ctx, s.log, s.alerter, legs)
}

func (s *CrossVenueSpotPerp) Reduce(ctx context.Context, pos *arb.ArbitragePosition, fraction float64) error {
	spotSide, perpSide := direction(pos.Opportunity.NetFundingRate)
	qty := pos.PositionSizeUSD / pos.EntryPrice1

	legs := [2]leg{
		{V: s.spotVenue, Symbol: pos.Opportunity.Pair.Symbol1, Side: closingSide(spotSide), Quantity: qty, Price: pos.CurrentPrice1},
		{V: s.perpVenue, Symbol: pos.Opportunity.Pair.Symbol2, Side: closingSide(perpSide), Quantity: qty, Price: pos.CurrentPrice2},
	}
	return hedgedReduce(ctx, s.log, legs, fraction)
}

func (s *CrossVenueSpotPerp) Monitor(ctx context.Context, pos *arb.ArbitragePosition) error {
	p1, err := s.spotVenue.Price(ctx, pos.Opportunity.Pair.Symbol1)
	if err != nil {
		return err
	}
	p2, err := s.perpVenue.Price(ctx, pos.Opportunity.Pair.Symbol2)
	if err != nil {
		return err
	}
	pos.CurrentPrice1, pos.CurrentPrice2 = p1, p2
	if p1 != 0 {
		pos.CurrentSpreadPct = (p2 - p1) / p1 * 100
	}
	return nil
}
