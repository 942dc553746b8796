package arb

import "math"

// WalkSide is which side of the book to walk: Bids to sell into, Asks
// to buy from.
type WalkSide int

const (
	WalkBids WalkSide = iota
	WalkAsks
)

// WalkResult is the outcome of walking a book to cover a target notional.
type WalkResult struct {
	AvailableQuote float64 // total quote-notional actually reachable
	AvgPrice       float64 // size-weighted average fill price
	Covered        bool    // AvailableQuote >= target
}

// WalkDepth sums quote-value (price*size) down one side of the book
// until it reaches targetQuote, returning how much was actually
// available and the size-weighted average price paid. This consolidates
// what the original strategies each reimplemented separately (§9 Open
// Question 3) into one shared helper used by every strategy's liquidity
// check and the hedge executor's leg-ordering and sizing steps.
func WalkDepth(book OrderBook, side WalkSide, targetQuote float64) WalkResult {
	levels := book.Asks
	if side == WalkBids {
		levels = book.Bids
	}

	var quoteSum, sizeSum, weightedPriceSum float64
	for _, lvl := range levels {
		if quoteSum >= targetQuote {
			break
		}
		levelQuote := lvl.Price * lvl.Size
		remaining := targetQuote - quoteSum
		if levelQuote > remaining {
			partialSize := remaining / lvl.Price
			quoteSum += remaining
			sizeSum += partialSize
			weightedPriceSum += partialSize * lvl.Price
			break
		}
		quoteSum += levelQuote
		sizeSum += lvl.Size
		weightedPriceSum += lvl.Size * lvl.Price
	}

	avg := 0.0
	if sizeSum > 0 {
		avg = weightedPriceSum / sizeSum
	}
	return WalkResult{
		AvailableQuote: quoteSum,
		AvgPrice:       avg,
		Covered:        quoteSum >= targetQuote,
	}
}

// WalkBook is the $50k-notional depth walk used by the cross-venue
// perp/perp strategy (§4.4.2) to estimate realised slippage against a
// fixed reference size on the relevant side of each book.
func WalkBook(book OrderBook, side WalkSide) WalkResult {
	return WalkDepth(book, side, 50000)
}

// Slippage estimates the adverse move, as a fraction, between the book's
// best price and the size-weighted average price a walk would realise.
func Slippage(book OrderBook, side WalkSide, targetQuote float64) float64 {
	var best float64
	var ok bool
	if side == WalkBids {
		best, ok = book.TopBid()
	} else {
		best, ok = book.TopAsk()
	}
	if !ok || best == 0 {
		return 0
	}
	res := WalkDepth(book, side, targetQuote)
	if res.AvgPrice == 0 {
		return 0
	}
	return math.Abs(res.AvgPrice-best) / best
}
