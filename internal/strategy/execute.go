package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fundingbot/fundingbot/internal/alerts"
	"github.com/fundingbot/fundingbot/internal/arb"
	"github.com/fundingbot/fundingbot/internal/clock"
	"github.com/fundingbot/fundingbot/internal/errs"
	"github.com/fundingbot/fundingbot/internal/venue"
)

// quoteCurrency is the funding currency every venue in this engine
// margins and quotes in. Real multi-currency margin accounting is out
// of scope; every venue.Mock and the Binance USDT-M adapter settle in
// USDT, so the hedge executor's margin check uses one fixed symbol
// rather than deriving it per-instrument.
const quoteCurrency = "USDT"

// leg describes one side of a two-leg hedge: which venue, which
// symbol, which side opens (or closes) the position, and the reference
// price used to size the liquidity/margin checks.
type leg struct {
	V        venue.Venue
	Symbol   string
	Side     venue.OrderSide
	Quantity float64
	Price    float64
}

func (l leg) notional() float64 { return l.Quantity * l.Price }

// bookSideFor returns which side of the order book a leg's order
// consumes: buying lifts the asks, selling hits the bids.
func bookSideFor(s venue.OrderSide) arb.WalkSide {
	if s == venue.Buy {
		return arb.WalkAsks
	}
	return arb.WalkBids
}

const (
	liquidityMultiple    = 1.5
	liquidityShrinkRatio = 0.6
	marginSafetyFactor   = 1.1
	fillPollAttempts     = 3
	fillPollInterval     = 500 * time.Millisecond
)

// hedgedExecute implements §4.4.5 steps 2-8 (the caller performs step 1,
// re-validate, before invoking this since that check is strategy-
// specific). On success it returns a fully populated position ready for
// the risk manager's registry; on any abort it returns an *errs.Error.
func hedgedExecute(ctx context.Context, log zerolog.Logger, alerter *alerts.Manager, clk clock.Clock, opp arb.ArbitrageOpportunity, legs [2]leg) (*arb.ArbitragePosition, error) {
	// Step 2: refresh quotes.
	p1, err := legs[0].V.Price(ctx, legs[0].Symbol)
	if err != nil {
		return nil, errs.New(errs.TransientVenue, "hedgedExecute.refreshQuotes", err)
	}
	p2, err := legs[1].V.Price(ctx, legs[1].Symbol)
	if err != nil {
		return nil, errs.New(errs.TransientVenue, "hedgedExecute.refreshQuotes", err)
	}
	legs[0].Price, legs[1].Price = p1, p2

	mid := (p1 + p2) / 2
	spreadPct := 0.0
	if mid != 0 {
		spreadPct = absf(p1-p2) / mid * 100
	}
	if spreadPct > opp.MaxAllowableSpreadPct {
		return nil, errs.New(errs.InvalidatedOpportunity, "hedgedExecute.refreshQuotes",
			fmt.Errorf("live spread %.4f%% exceeds max allowable %.4f%%", spreadPct, opp.MaxAllowableSpreadPct))
	}

	// Step 3: liquidity check.
	adjQty := make([]float64, 2)
	for i, l := range legs {
		book, err := l.V.OrderBook(ctx, l.Symbol, 5)
		if err != nil {
			return nil, errs.New(errs.TransientVenue, "hedgedExecute.liquidity", err)
		}
		required := l.notional() * liquidityMultiple
		walk := arb.WalkDepth(book, bookSideFor(l.Side), required)
		if walk.Covered {
			adjQty[i] = l.Quantity
			continue
		}
		adjQty[i] = liquidityShrinkRatio * (walk.AvailableQuote / l.Price)
	}
	finalQty := adjQty[0]
	if adjQty[1] < finalQty {
		finalQty = adjQty[1]
	}
	if finalQty <= 0 {
		return nil, errs.New(errs.InsufficientLiquidity, "hedgedExecute.liquidity", errors.New("hedged size collapsed to zero"))
	}
	legs[0].Quantity, legs[1].Quantity = finalQty, finalQty

	// Step 4: margin check.
	for _, l := range legs {
		balances, err := l.V.AccountBalance(ctx)
		if err != nil {
			return nil, errs.New(errs.TransientVenue, "hedgedExecute.margin", err)
		}
		available := balances[quoteCurrency]
		if available < marginSafetyFactor*l.notional() {
			return nil, errs.New(errs.InsufficientMargin, "hedgedExecute.margin",
				fmt.Errorf("%s: need %.2f %s, have %.2f", l.V.Name(), marginSafetyFactor*l.notional(), quoteCurrency, available))
		}
	}

	// Step 5: leg ordering — least liquid (lowest available/required) first.
	order := [2]int{0, 1}
	ratio := func(i int) float64 {
		book, err := legs[i].V.OrderBook(ctx, legs[i].Symbol, 5)
		if err != nil {
			return 0
		}
		walk := arb.WalkDepth(book, bookSideFor(legs[i].Side), legs[i].notional()*liquidityMultiple)
		if legs[i].notional() == 0 {
			return 1
		}
		return walk.AvailableQuote / (legs[i].notional() * liquidityMultiple)
	}
	if ratio(order[0]) > ratio(order[1]) {
		order[0], order[1] = order[1], order[0]
	}

	// Step 6: place the first leg.
	first := legs[order[0]]
	firstID, err := placeAndAwaitFill(ctx, first)
	if err != nil {
		return nil, errs.New(errs.InvalidatedOpportunity, "hedgedExecute.leg1", err)
	}

	// Step 7: place the second leg; reverse the first on failure.
	second := legs[order[1]]
	_, err = placeAndAwaitFill(ctx, second)
	if err != nil {
		reverseSide := venue.Sell
		if first.Side == venue.Sell {
			reverseSide = venue.Buy
		}
		_, reverseErr := first.V.PlaceOrder(ctx, venue.OrderRequest{
			Symbol: first.Symbol, Side: reverseSide, Type: venue.Market, Quantity: first.Quantity,
		})
		if reverseErr != nil {
			alerter.AlertHedgeImbalance(ctx, first.V.Name(), first.Symbol, firstID, second.V.Name(), second.Symbol, reverseErr)
			return nil, errs.New(errs.HedgeImbalance, "hedgedExecute.leg2",
				fmt.Errorf("unhedged leg open on %s/%s, reversal failed: %w", first.V.Name(), first.Symbol, reverseErr))
		}
		return nil, errs.New(errs.InvalidatedOpportunity, "hedgedExecute.leg2",
			fmt.Errorf("leg2 failed on %s/%s, leg1 reversed: %w", second.V.Name(), second.Symbol, err))
	}

	// Step 8: record the synthetic position.
	now := clk.Now()
	pos := &arb.ArbitragePosition{
		Opportunity:      opp,
		PositionSizeUSD:  finalQty * mid,
		EntryTime:        now,
		EntryPrice1:      p1,
		EntryPrice2:      p2,
		CurrentPrice1:    p1,
		CurrentPrice2:    p2,
		InitialSpreadPct: spreadPct,
		CurrentSpreadPct: spreadPct,
		PositionID:       arb.GeneratePositionID(opp.Pair, now.UnixMilli()),
		IsActive:         true,
	}
	return pos, nil
}

// placeAndAwaitFill submits a market order and polls its status up to
// fillPollAttempts times, fillPollInterval apart. It returns the order
// id on FILLED/PARTIALLY_FILLED, or cancels and returns an error
// otherwise (§4.4.5 steps 6-7).
func placeAndAwaitFill(ctx context.Context, l leg) (string, error) {
	id, err := l.V.PlaceOrder(ctx, venue.OrderRequest{
		Symbol: l.Symbol, Side: l.Side, Type: venue.Market, Quantity: l.Quantity,
	})
	if err != nil {
		return "", fmt.Errorf("place order on %s/%s: %w", l.V.Name(), l.Symbol, err)
	}

	for i := 0; i < fillPollAttempts; i++ {
		status, err := l.V.OrderStatus(ctx, id)
		if err != nil {
			return "", fmt.Errorf("poll order status on %s/%s: %w", l.V.Name(), l.Symbol, err)
		}
		if status.Filled() {
			return id, nil
		}
		if status.Terminal() {
			return "", fmt.Errorf("order %s on %s/%s ended in %s", id, l.V.Name(), l.Symbol, status)
		}
		if i < fillPollAttempts-1 {
			time.Sleep(fillPollInterval)
		}
	}

	if _, cancelErr := l.V.CancelOrder(ctx, id); cancelErr != nil {
		return "", fmt.Errorf("order %s on %s/%s did not fill in time, cancel also failed: %w", id, l.V.Name(), l.Symbol, cancelErr)
	}
	return "", fmt.Errorf("order %s on %s/%s did not fill within %d polls", id, l.V.Name(), l.Symbol, fillPollAttempts)
}

const closeShrinkRatio = 0.75
const residualDustThreshold = 0.001

// hedgedClose implements §4.4.7: reads venue-reported positions on both
// legs, closes whichever are present, and verifies the residual size
// afterward. legs here carry the closing side (opposite of held
// direction) and intended closing quantity.
func hedgedClose(ctx context.Context, log zerolog.Logger, alerter *alerts.Manager, legs [2]leg) error {
	present := make([]bool, 2)
	for i, l := range legs {
		positions, err := l.V.OpenPositions(ctx)
		if err != nil {
			return errs.New(errs.TransientVenue, "hedgedClose.readPositions", err)
		}
		for _, p := range positions {
			if p.Symbol == l.Symbol && p.Quantity > residualDustThreshold {
				present[i] = true
				legs[i].Quantity = p.Quantity
			}
		}
	}

	if present[0] != present[1] {
		// Orphan: only one leg is actually open. Close it, log, and stop.
		idx := 0
		if present[1] {
			idx = 1
		}
		log.Warn().
			Str("venue", legs[idx].V.Name()).
			Str("symbol", legs[idx].Symbol).
			Msg("orphan position detected during close: only one leg present")
		if err := closeOneLeg(ctx, legs[idx]); err != nil {
			return errs.New(errs.Orphan, "hedgedClose.orphan", err)
		}
		alerter.AlertOrphanPosition(ctx, legs[idx].V.Name(), legs[idx].Symbol, legs[idx].Quantity)
		return errs.New(errs.Orphan, "hedgedClose.orphan", fmt.Errorf("closed orphaned leg on %s/%s, missing leg was never opened", legs[idx].V.Name(), legs[idx].Symbol))
	}
	if !present[0] && !present[1] {
		return nil // already flat on both legs
	}

	// Liquidity-walk both sides; shrink to 75% of available if short.
	var liqRatio [2]float64
	for i, l := range legs {
		book, err := l.V.OrderBook(ctx, l.Symbol, 5)
		if err != nil {
			return errs.New(errs.TransientVenue, "hedgedClose.liquidity", err)
		}
		required := l.notional() * liquidityMultiple
		walk := arb.WalkDepth(book, bookSideFor(l.Side), required)
		if required > 0 {
			liqRatio[i] = walk.AvailableQuote / required
		}
		if !walk.Covered {
			legs[i].Quantity = closeShrinkRatio * (walk.AvailableQuote / l.Price)
		}
	}

	// Least liquid leg (lowest available/required) first.
	order := [2]int{0, 1}
	if liqRatio[0] > liqRatio[1] {
		order[0], order[1] = 1, 0
	}

	if _, err := placeAndAwaitFill(ctx, legs[order[0]]); err != nil {
		return errs.New(errs.InvalidatedOpportunity, "hedgedClose.leg1", err)
	}
	if _, err := placeAndAwaitFill(ctx, legs[order[1]]); err != nil {
		return errs.New(errs.InvalidatedOpportunity, "hedgedClose.leg2", err)
	}

	for _, l := range legs {
		positions, err := l.V.OpenPositions(ctx)
		if err != nil {
			continue
		}
		for _, p := range positions {
			if p.Symbol == l.Symbol && p.Quantity >= residualDustThreshold {
				return errs.New(errs.VenueProtocol, "hedgedClose.verify",
					fmt.Errorf("residual %.6f remains on %s/%s after close", p.Quantity, l.V.Name(), l.Symbol))
			}
		}
	}
	return nil
}

// hedgedReduce implements §4.4.6 step 3 and §4.2 should_reduce: a
// partial close of fraction of the position, using the same
// liquidity-aware least-liquid-leg-first ordering as hedgedClose, but
// without hedgedClose's final full-flat assertion since a deliberate
// residual remains by design. legs carry the closing side and the
// pre-reduction full quantity; each leg's intended quantity is scaled
// by fraction before the liquidity walk.
func hedgedReduce(ctx context.Context, log zerolog.Logger, legs [2]leg, fraction float64) error {
	if fraction <= 0 || fraction > 1 {
		return fmt.Errorf("hedgedReduce: fraction %.4f out of (0,1]", fraction)
	}

	for i := range legs {
		legs[i].Quantity *= fraction
	}

	var liqRatio [2]float64
	for i, l := range legs {
		book, err := l.V.OrderBook(ctx, l.Symbol, 5)
		if err != nil {
			return errs.New(errs.TransientVenue, "hedgedReduce.liquidity", err)
		}
		required := l.notional() * liquidityMultiple
		walk := arb.WalkDepth(book, bookSideFor(l.Side), required)
		if required > 0 {
			liqRatio[i] = walk.AvailableQuote / required
		}
		if !walk.Covered {
			legs[i].Quantity = closeShrinkRatio * (walk.AvailableQuote / l.Price)
		}
	}
	if legs[0].Quantity <= 0 || legs[1].Quantity <= 0 {
		return errs.New(errs.InsufficientLiquidity, "hedgedReduce", fmt.Errorf("reduce size collapsed to zero"))
	}

	// Least liquid leg (lowest available/required) first.
	order := [2]int{0, 1}
	if liqRatio[0] > liqRatio[1] {
		order[0], order[1] = 1, 0
	}

	if _, err := placeAndAwaitFill(ctx, legs[order[0]]); err != nil {
		return errs.New(errs.InvalidatedOpportunity, "hedgedReduce.leg1", err)
	}
	if _, err := placeAndAwaitFill(ctx, legs[order[1]]); err != nil {
		return errs.New(errs.InvalidatedOpportunity, "hedgedReduce.leg2", err)
	}

	log.Info().Float64("fraction", fraction).Msg("position reduced")
	return nil
}

func closeOneLeg(ctx context.Context, l leg) error {
	_, err := l.V.PlaceOrder(ctx, venue.OrderRequest{
		Symbol: l.Symbol, Side: l.Side, Type: venue.Market, Quantity: l.Quantity,
	})
	return err
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// errInvalidated builds the standard abort error for a failed
// re-validation step shared by every strategy's Execute.
func errInvalidated(op string) error {
	return errs.New(errs.InvalidatedOpportunity, op, errors.New("opportunity failed re-validation"))
}
