// Package venue defines the uniform capability contract over
// market-data, fee, account, and trading operations that every
// exchange adapter must satisfy, plus a simulated adapter and a real
// Binance one. The core never depends on any bit-exact venue response
// format; adapters normalise to internal/arb's types.
package venue

import (
	"context"

	"github.com/fundingbot/fundingbot/internal/arb"
)

// Venue is the capability interface described by spec §4.1. Every
// operation is synchronous from the core's perspective. The core calls
// each operation once and does not retry it; bounded retry lives inside
// adapters (Binance wraps its read-only calls in a Retrier, see
// retry.go).
type Venue interface {
	Name() string
	BaseURL() string

	AvailableInstruments(ctx context.Context, kind InstrumentKind) ([]arb.Instrument, error)
	Price(ctx context.Context, symbol string) (float64, error)
	OrderBook(ctx context.Context, symbol string, depth int) (arb.OrderBook, error)
	FundingRate(ctx context.Context, symbol string) (arb.FundingRate, error)

	FeeStructure(ctx context.Context) (arb.FeeStructure, error)
	TradingFee(ctx context.Context, symbol string, isMaker bool) (float64, error)
	WithdrawalFee(ctx context.Context, currency string, amount float64) (float64, error)

	AccountBalance(ctx context.Context) (map[string]float64, error)
	OpenPositions(ctx context.Context) ([]Position, error)

	PlaceOrder(ctx context.Context, order OrderRequest) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	OrderStatus(ctx context.Context, orderID string) (OrderStatus, error)

	IsConnected() bool
	Reconnect(ctx context.Context) error
}
