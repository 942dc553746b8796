package venue

import (
	"time"

	"github.com/fundingbot/fundingbot/internal/arb"
)

// OrderSide is the side of an order.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// OrderStatus is the lifecycle state of an order, matching the venue
// capability contract's status enum (§4.1).
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled  OrderStatus = "PARTIALLY_FILLED"
	StatusFilled           OrderStatus = "FILLED"
	StatusCanceled         OrderStatus = "CANCELED"
	StatusRejected         OrderStatus = "REJECTED"
	StatusExpired          OrderStatus = "EXPIRED"
)

// Terminal reports whether the status will never change further.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// Filled reports whether the order has at least partial fill.
func (s OrderStatus) Filled() bool {
	return s == StatusFilled || s == StatusPartiallyFilled
}

// OrderRequest describes an order to place.
type OrderRequest struct {
	Symbol   string
	Side     OrderSide
	Type     OrderType
	Quantity float64
	Price    float64 // ignored for Market orders
}

// Position is a venue-reported open position, used for orphan detection
// (§7 Orphan) and close-protocol reconciliation (§4.4.7).
type Position struct {
	Symbol       string
	Side         OrderSide // side currently held (Buy=long, Sell=short)
	Quantity     float64
	EntryPrice   float64
	MarkPrice    float64
	UpdatedAt    time.Time
}

// InstrumentKind re-exports arb.MarketKind for venue-facing signatures.
type InstrumentKind = arb.MarketKind

const (
	KindSpot      = arb.Spot
	KindMargin    = arb.Margin
	KindPerpetual = arb.Perpetual
)
