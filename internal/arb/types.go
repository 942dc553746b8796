// Package arb holds the pure value types produced by scanning and
// consumed by the risk manager and strategies: instruments, funding
// rates, order books, trading pairs, and arbitrage opportunities/
// positions. None of these types carry behavior beyond small pure
// helpers; they are never mutated after creation (opportunities) or are
// mutated in-place only by the risk manager's registry (positions).
package arb

import (
	"strconv"
	"time"
)

// MarketKind is the kind of market an instrument trades in.
type MarketKind string

const (
	Spot      MarketKind = "SPOT"
	Margin    MarketKind = "MARGIN"
	Perpetual MarketKind = "PERPETUAL"
)

// Instrument identifies a tradable symbol on a venue. Immutable once
// obtained from a venue.
type Instrument struct {
	Venue        string     `json:"venue"`
	Symbol       string     `json:"symbol"`
	Kind         MarketKind `json:"kind"`
	BaseCurrency string     `json:"base_currency"`
	QuoteCurrency string    `json:"quote_currency"`
	MinOrderSize float64    `json:"min_order_size"`
	QtyPrecision int        `json:"qty_precision"`
	PriceTick    float64    `json:"price_tick"`
}

// PriceLevel is one rung of an order book.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook is a finite, non-restartable snapshot. Top bid < top ask
// whenever both sides are non-empty.
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Timestamp time.Time    `json:"timestamp"`
	Bids      []PriceLevel `json:"bids"` // price descending
	Asks      []PriceLevel `json:"asks"` // price ascending
}

// TopBid returns the best bid price and whether one exists.
func (b OrderBook) TopBid() (float64, bool) {
	if len(b.Bids) == 0 {
		return 0, false
	}
	return b.Bids[0].Price, true
}

// TopAsk returns the best ask price and whether one exists.
func (b OrderBook) TopAsk() (float64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	return b.Asks[0].Price, true
}

// FundingRate describes a perpetual symbol's current funding state.
// PaymentIntervalHours is a venue constant per symbol (commonly 8,
// occasionally 1 or 4).
type FundingRate struct {
	Symbol                string    `json:"symbol"`
	Rate                  float64   `json:"rate"` // signed decimal fraction
	PaymentIntervalHours  float64   `json:"payment_interval_hours"`
	NextPaymentTime       time.Time `json:"next_payment_time"`
	PredictedNextRate     *float64  `json:"predicted_next_rate,omitempty"`
}

// FeeStructure is a venue's fee schedule. internal/store.FeeCache can
// hold one per venue for up to 24h; the venue adapters do not use that
// cache and fetch fees on each call.
type FeeStructure struct {
	Venue             string             `json:"venue"`
	MakerBySpot       float64            `json:"maker_spot"`
	TakerBySpot       float64            `json:"taker_spot"`
	MakerByPerp       float64            `json:"maker_perp"`
	TakerByPerp       float64            `json:"taker_perp"`
	MakerByMargin     float64            `json:"maker_margin"`
	TakerByMargin     float64            `json:"taker_margin"`
	VIPTier           int                `json:"vip_tier"`
	WithdrawalFees    map[string]float64 `json:"withdrawal_fees"`
	CachedAt          time.Time          `json:"cached_at"`
}

// Expired reports whether the fee structure is older than the
// §3 24h caching bound.
func (f FeeStructure) Expired(now time.Time) bool {
	return now.Sub(f.CachedAt) > 24*time.Hour
}

// TakerFee returns the taker fee for the given market kind.
func (f FeeStructure) TakerFee(kind MarketKind) float64 {
	switch kind {
	case Spot:
		return f.TakerBySpot
	case Perpetual:
		return f.TakerByPerp
	case Margin:
		return f.TakerByMargin
	default:
		return f.TakerBySpot
	}
}

// TradingPair is the declarative description of an arbitrage geometry.
// Equality is structural over all six fields (Go struct == does this
// natively since every field is comparable).
type TradingPair struct {
	Venue1  string     `json:"venue1"`
	Symbol1 string     `json:"symbol1"`
	Kind1   MarketKind `json:"kind1"`
	Venue2  string     `json:"venue2"`
	Symbol2 string     `json:"symbol2"`
	Kind2   MarketKind `json:"kind2"`
}

// SameVenuePair builds a TradingPair where both legs share a venue.
func SameVenuePair(venue, symbol1 string, kind1 MarketKind, symbol2 string, kind2 MarketKind) TradingPair {
	return TradingPair{Venue1: venue, Symbol1: symbol1, Kind1: kind1, Venue2: venue, Symbol2: symbol2, Kind2: kind2}
}

// ArbitrageOpportunity is the output of a strategy scan. Never mutated
// after creation.
type ArbitrageOpportunity struct {
	Pair                 TradingPair `json:"pair"`
	FundingRate1         float64     `json:"funding_rate1"`
	FundingRate2         float64     `json:"funding_rate2"`
	PaymentInterval1     float64     `json:"payment_interval1"`
	PaymentInterval2     float64     `json:"payment_interval2"`
	NetFundingRate       float64     `json:"net_funding_rate"` // annualised %
	EntryPriceSpreadPct  float64     `json:"entry_price_spread_pct"`
	MaxAllowableSpreadPct float64    `json:"max_allowable_spread_pct"`
	TransactionCostPct   float64     `json:"transaction_cost_pct"`
	EstimatedProfitPct   float64     `json:"estimated_profit_pct"`
	PeriodsToBreakeven   float64     `json:"periods_to_breakeven"`
	MaxPositionSizeUSD   float64     `json:"max_position_size_usd"`
	RiskScore            float64     `json:"risk_score"`
	DiscoveryTime        time.Time   `json:"discovery_time"`
	StrategyTag          string      `json:"strategy_tag"`
	StrategyIndex        int         `json:"strategy_index"` // -1 when unknown
}

// ArbitragePosition is live state owned by the risk manager's registry,
// keyed by PositionID.
type ArbitragePosition struct {
	Opportunity        ArbitrageOpportunity `json:"opportunity"`
	PositionSizeUSD    float64              `json:"position_size_usd"`
	EntryTime          time.Time            `json:"entry_time"`
	EntryPrice1        float64              `json:"entry_price1"`
	EntryPrice2        float64              `json:"entry_price2"`
	CurrentPrice1      float64              `json:"current_price1"`
	CurrentPrice2      float64              `json:"current_price2"`
	InitialSpreadPct   float64              `json:"initial_spread_pct"`
	CurrentSpreadPct   float64              `json:"current_spread_pct"`
	FundingCollectedUSD float64             `json:"funding_collected_usd"`
	UnrealizedPnLUSD   float64              `json:"unrealized_pnl_usd"`
	PositionID         string               `json:"position_id"`
	IsActive           bool                 `json:"is_active"`
}

// GeneratePositionID derives a deterministic id from the pair and the
// entry time in epoch milliseconds, mirroring the original bot's
// generatePositionId helper.
func GeneratePositionID(pair TradingPair, entryTimeMs int64) string {
	return pair.Venue1 + ":" + pair.Symbol1 + ":" + pair.Venue2 + ":" + pair.Symbol2 + ":" + strconv.FormatInt(entryTimeMs, 10)
}
