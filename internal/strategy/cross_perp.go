package strategy

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/fundingbot/fundingbot/internal/alerts"
	"github.com/fundingbot/fundingbot/internal/arb"
	"github.com/fundingbot/fundingbot/internal/clock"
	"github.com/fundingbot/fundingbot/internal/venue"
)

// crossPerpMaxSpreadFactor is §4.4.2's max_allowable_spread_pct factor.
const crossPerpMaxSpreadFactor = 0.75

// CrossVenuePerp finds and executes funding-rate differentials between
// matching perpetual instruments on two venues (spec §4.4.2). Grounded
// on original_source's CrossExchangePerpStrategy, which holds exactly
// two exchange handles.
type CrossVenuePerp struct {
	v1, v2  venue.Venue
	clk     clock.Clock
	alerter *alerts.Manager
	log     zerolog.Logger

	minFundingRate    float64
	minExpectedProfit float64
}

var _ Strategy = (*CrossVenuePerp)(nil)

func NewCrossVenuePerp(v1, v2 venue.Venue, clk clock.Clock, alerter *alerts.Manager, log zerolog.Logger) *CrossVenuePerp {
	return &CrossVenuePerp{
		v1:      v1,
		v2:      v2,
		clk:     clk,
		alerter: alerter,
		log:     log.With().Str("strategy", "cross_venue_perp").Str("venue1", v1.Name()).Str("venue2", v2.Name()).Logger(),
	}
}

func (s *CrossVenuePerp) Name() string {
	return fmt.Sprintf("cross_venue_perp(%s,%s)", s.v1.Name(), s.v2.Name())
}

func (s *CrossVenuePerp) Symbols() []string {
	ctx := context.Background()
	perps, err := s.v1.AvailableInstruments(ctx, arb.Perpetual)
	if err != nil {
		return nil
	}
	symbols := make([]string, 0, len(perps))
	for _, p := range perps {
		symbols = append(symbols, p.Symbol)
	}
	return symbols
}

func (s *CrossVenuePerp) MinFundingRate() float64       { return s.minFundingRate }
func (s *CrossVenuePerp) SetMinFundingRate(r float64)    { s.minFundingRate = r }
func (s *CrossVenuePerp) MinExpectedProfit() float64     { return s.minExpectedProfit }
func (s *CrossVenuePerp) SetMinExpectedProfit(p float64) { s.minExpectedProfit = p }

// crossDirection returns the long/short assignment for venue1/venue2
// perp legs: long the venue with the lower funding rate (§4.4.5 table).
func crossDirection(rate1, rate2 float64) (v1side, v2side side) {
	if rate1 <= rate2 {
		return long, short
	}
	return short, long
}

func (s *CrossVenuePerp) FindOpportunities(ctx context.Context) ([]arb.ArbitrageOpportunity, error) {
	perps1, err := s.v1.AvailableInstruments(ctx, arb.Perpetual)
	if err != nil {
		return nil, fmt.Errorf("cross_venue_perp: list %s perpetuals: %w", s.v1.Name(), err)
	}
	perps2, err := s.v2.AvailableInstruments(ctx, arb.Perpetual)
	if err != nil {
		return nil, fmt.Errorf("cross_venue_perp: list %s perpetuals: %w", s.v2.Name(), err)
	}
	byBaseQuote2 := make(map[string]arb.Instrument, len(perps2))
	for _, p := range perps2 {
		byBaseQuote2[p.BaseCurrency+"/"+p.QuoteCurrency] = p
	}

	var opps []arb.ArbitrageOpportunity
	for _, p1 := range perps1 {
		p2, ok := byBaseQuote2[p1.BaseCurrency+"/"+p1.QuoteCurrency]
		if !ok {
			continue
		}

		fr1, err := s.v1.FundingRate(ctx, p1.Symbol)
		if err != nil {
			continue
		}
		fr2, err := s.v2.FundingRate(ctx, p2.Symbol)
		if err != nil {
			continue
		}
		if absf(fr1.Rate-fr2.Rate) < fundingDifferentialFloor {
			continue
		}
		if absf(fr1.Rate-fr2.Rate) < s.minFundingRate {
			continue
		}

		annualised1 := arb.Annualise(fr1.Rate, fr1.PaymentIntervalHours)
		annualised2 := arb.Annualise(fr2.Rate, fr2.PaymentIntervalHours)
		net := annualised1 - annualised2

		price1, err := s.v1.Price(ctx, p1.Symbol)
		if err != nil {
			continue
		}
		price2, err := s.v2.Price(ctx, p2.Symbol)
		if err != nil {
			continue
		}
		mid := (price1 + price2) / 2
		spreadPct := 0.0
		if mid != 0 {
			spreadPct = absf(price1-price2) / mid * 100
		}

		fee1, err := s.v1.TradingFee(ctx, p1.Symbol, false)
		if err != nil {
			continue
		}
		fee2, err := s.v2.TradingFee(ctx, p2.Symbol, false)
		if err != nil {
			continue
		}
		transactionCostPct := (fee1 + fee2) * 2 * 100

		book1, err := s.v1.OrderBook(ctx, p1.Symbol, 5)
		if err != nil {
			continue
		}
		book2, err := s.v2.OrderBook(ctx, p2.Symbol, 5)
		if err != nil {
			continue
		}
		slip1 := arb.Slippage(book1, arb.WalkBids, 50000)
		slip2 := arb.Slippage(book2, arb.WalkBids, 50000)
		realisedSlippagePct := (slip1 + slip2) * 100
		if realisedSlippagePct > minFlatSlippageBufferPct {
			transactionCostPct += realisedSlippagePct
		}

		estimatedProfitPct := absf(net) - transactionCostPct
		if estimatedProfitPct <= s.minExpectedProfit {
			continue
		}

		paymentsPerYear1 := arb.PaymentsPerYear(fr1.PaymentIntervalHours)
		paymentsPerYear2 := arb.PaymentsPerYear(fr2.PaymentIntervalHours)
		minPayments := paymentsPerYear1
		if paymentsPerYear2 < minPayments {
			minPayments = paymentsPerYear2
		}
		maxAllowableSpreadPct := 0.0
		if minPayments != 0 {
			maxAllowableSpreadPct = absf(net) / minPayments * crossPerpMaxSpreadFactor
		}
		if absf(spreadPct) > maxAllowableSpreadPct {
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
			Venue1:                s.v1.Name(),
			Venue2:                s.v2.Name(),
			PaymentInterval1:      fr1.PaymentIntervalHours,
			PaymentInterval2:      fr2.PaymentIntervalHours,
		})

		periods := arb.PeriodsToBreakeven(transactionCostPct, absf(fr1.Rate-fr2.Rate)*100)

		maxPositionSizeUSD := liq1.AvailableQuote
		if liq2.AvailableQuote < maxPositionSizeUSD {
			maxPositionSizeUSD = liq2.AvailableQuote
		}

		if estimatedProfitPct <= 0 {
			continue
		}
		opps = append(opps, arb.ArbitrageOpportunity{
			Pair: arb.TradingPair{
				Venue1: s.v1.Name(), Symbol1: p1.Symbol, Kind1: arb.Perpetual,
				Venue2: s.v2.Name(), Symbol2: p2.Symbol, Kind2: arb.Perpetual,
			},
			FundingRate1:          fr1.Rate,
			FundingRate2:          fr2.Rate,
			PaymentInterval1:      fr1.PaymentIntervalHours,
			PaymentInterval2:      fr2.PaymentIntervalHours,
			NetFundingRate:        net,
			EntryPriceSpreadPct:   spreadPct,
			MaxAllowableSpreadPct: maxAllowableSpreadPct,
			TransactionCostPct:    transactionCostPct,
			EstimatedProfitPct:    estimatedProfitPct,
			PeriodsToBreakeven:    periods,
			MaxPositionSizeUSD:    maxPositionSizeUSD,
			RiskScore:             riskScore,
			DiscoveryTime:         s.clk.Now(),
			StrategyTag:           "cross_venue_perp",
			StrategyIndex:         -1,
		})
	}

	sort.SliceStable(opps, func(i, j int) bool {
		ri := opps[i].EstimatedProfitPct / (opps[i].RiskScore + 1)
		rj := opps[j].EstimatedProfitPct / (opps[j].RiskScore + 1)
		return ri > rj
	})
	return opps, nil
}

func (s *CrossVenuePerp) Validate(ctx context.Context, opp arb.ArbitrageOpportunity) (bool, error) {
	fr1, err := s.v1.FundingRate(ctx, opp.Pair.Symbol1)
	if err != nil {
		return false, err
	}
	fr2, err := s.v2.FundingRate(ctx, opp.Pair.Symbol2)
	if err != nil {
		return false, err
	}
	if absf(fr1.Rate-fr2.Rate) < fundingDifferentialFloor {
		return false, nil
	}

	price1, err := s.v1.Price(ctx, opp.Pair.Symbol1)
	if err != nil {
		return false, err
	}
	price2, err := s.v2.Price(ctx, opp.Pair.Symbol2)
	if err != nil {
		return false, err
	}
	mid := (price1 + price2) / 2
	spreadPct := 0.0
	if mid != 0 {
		spreadPct = absf(price1-price2) / mid * 100
	}
	if spreadPct > opp.MaxAllowableSpreadPct {
		return false, nil
	}
	return true, nil
}

func (s *CrossVenuePerp) Size(opp arb.ArbitrageOpportunity) float64 {
	return opp.MaxPositionSizeUSD
}

func (s *CrossVenuePerp) Execute(ctx context.Context, opp arb.ArbitrageOpportunity, size float64) (*arb.ArbitragePosition, error) {
	ok, err := s.Validate(ctx, opp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errInvalidated("cross_venue_perp.execute")
	}

	price1, err := s.v1.Price(ctx, opp.Pair.Symbol1)
	if err != nil {
		return nil, err
	}
	v1side, v2side := crossDirection(opp.FundingRate1, opp.FundingRate2)
	qty := size / price1

	legs := [2]leg{
		{V: s.v1, Symbol: opp.Pair.Symbol1, Side: sideToOrderSide(v1side), Quantity: qty, Price: price1},
		{V: s.v2, Symbol: opp.Pair.Symbol2, Side: sideToOrderSide(v2side), Quantity: qty, Price: price1},
	}
	return hedgedExecute(ctx, s.log, s.alerter, s.clk, opp, legs)
}

func (s *CrossVenuePerp) Close(ctx context.Context, pos *arb.ArbitragePosition) error {
	v1side, v2side := crossDirection(pos.Opportunity.FundingRate1, pos.Opportunity.FundingRate2)
	qty := pos.PositionSizeUSD / pos.EntryPrice1

	legs := [2]leg{
		{V: s.v1, Symbol: pos.Opportunity.Pair.Symbol1, Side: closingSide(v1side), Quantity: qty, Price: pos.CurrentPrice1},
		{V: s.v2, Symbol: pos.Opportunity.Pair.Symbol2, Side: closingSide(v2side), Quantity: qty, Price: pos.CurrentPrice2},
	}
	return hedgedClose(ctx, s.log, s.alerter, legs)
}

func (s *CrossVenuePerp) Reduce(ctx context.Context, pos *arb.ArbitragePosition, fraction float64) error {
	v1side, v2side := crossDirection(pos.Opportunity.FundingRate1, pos.Opportunity.FundingRate2)
	qty := pos.PositionSizeUSD / pos.EntryPrice1

	legs := [2]leg{
		{V: s.v1, Symbol: pos.Opportunity.Pair.Symbol1, Side: closingSide(v1side), Quantity: qty, Price: pos.CurrentPrice1},
		{V: s.v2, Symbol: pos.Opportunity.Pair.Symbol2, Side: closingSide(v2side), Quantity: qty, Price: pos.CurrentPrice2},
	}
	return hedgedReduce(ctx, s.log, legs, fraction)
}

func (s *CrossVenuePerp) Monitor(ctx context.Context, pos *arb.ArbitragePosition) error {
	p1, err := s.v1.Price(ctx, pos.Opportunity.Pair.Symbol1)
	if err != nil {
		return err
	}
	p2, err := s.v2.Price(ctx, pos.Opportunity.Pair.Symbol2)
	if err != nil {
		return err
	}
	pos.CurrentPrice1, pos.CurrentPrice2 = p1, p2
	mid := (p1 + p2) / 2
	if mid != 0 {
		pos.CurrentSpreadPct = absf(p1-p2) / mid * 100
	}
	return nil
}
