package venue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/fundingbot/fundingbot/internal/arb"
	"github.com/fundingbot/fundingbot/internal/clock"
)

// Mock is a simulated venue for tests, simulation_mode, and paper
// trading. Grounded on the teacher's MockExchange (slippage/market
// impact simulation), extended with funding-rate, order-book, and fee
// simulation since the spec's strategies need all three from every
// venue (§4.1).
type Mock struct {
	mu sync.RWMutex

	name    string
	clock   clock.Clock
	balances map[string]float64

	prices       map[string]float64
	fundingRates map[string]arb.FundingRate
	instruments  []arb.Instrument
	fees         arb.FeeStructure

	orders map[string]*mockOrder
	positions map[string]Position
	rejectSymbols map[string]bool
	allowedOrders map[string]int
	orderCounts   map[string]int

	baseSlippage  float64
	marketImpact  float64
	maxSlippage   float64
	connected     bool
}

type mockOrder struct {
	req    OrderRequest
	status OrderStatus
}

// NewMock builds a Mock venue with the given name and a clock (use
// clock.Real{} in production-ish paper trading, clock.Fixed in tests).
func NewMock(name string, c clock.Clock) *Mock {
	return &Mock{
		name:         name,
		clock:        c,
		balances:     map[string]float64{"USDT": 1_000_000},
		prices:       map[string]float64{},
		fundingRates: map[string]arb.FundingRate{},
		orders:       map[string]*mockOrder{},
		positions:    map[string]Position{},
		rejectSymbols: map[string]bool{},
		allowedOrders: map[string]int{},
		orderCounts:   map[string]int{},
		baseSlippage: 0.0002,
		marketImpact: 0.0005,
		maxSlippage:  0.01,
		fees: arb.FeeStructure{
			MakerBySpot: 0.0002, TakerBySpot: 0.0004,
			MakerByPerp: 0.0002, TakerByPerp: 0.0004,
			WithdrawalFees: map[string]float64{},
		},
		connected: true,
	}
}

func (m *Mock) Name() string    { return m.name }
func (m *Mock) BaseURL() string { return "mock://" + m.name }

// SetPrice sets the last-trade reference price a symbol uses when
// simulating fills and building synthetic order books.
func (m *Mock) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// SetFundingRate seeds a perpetual symbol's funding rate.
func (m *Mock) SetFundingRate(symbol string, rate arb.FundingRate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fundingRates[symbol] = rate
}

// SetInstruments seeds the instrument catalogue returned by
// AvailableInstruments.
func (m *Mock) SetInstruments(instruments []arb.Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instruments = instruments
}

func (m *Mock) AvailableInstruments(ctx context.Context, kind InstrumentKind) ([]arb.Instrument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]arb.Instrument, 0, len(m.instruments))
	for _, i := range m.instruments {
		if i.Kind == kind {
			out = append(out, i)
		}
	}
	return out, nil
}

func (m *Mock) Price(ctx context.Context, symbol string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("mock venue: no price set for %s", symbol)
	}
	return p, nil
}

// OrderBook synthesises a simple ladder around the last price with a
// constant tick, enough to exercise the liquidity-walk logic in
// internal/arb.
func (m *Mock) OrderBook(ctx context.Context, symbol string, depth int) (arb.OrderBook, error) {
	m.mu.RLock()
	price, ok := m.prices[symbol]
	m.mu.RUnlock()
	if !ok {
		return arb.OrderBook{}, fmt.Errorf("mock venue: no price set for %s", symbol)
	}
	if depth <= 0 {
		depth = 5
	}
	book := arb.OrderBook{Symbol: symbol, Timestamp: m.clock.Now()}
	tick := price * 0.0001
	for i := 0; i < depth; i++ {
		book.Bids = append(book.Bids, arb.PriceLevel{Price: price - tick*float64(i+1), Size: 2 + float64(i)})
		book.Asks = append(book.Asks, arb.PriceLevel{Price: price + tick*float64(i+1), Size: 2 + float64(i)})
	}
	return book, nil
}

func (m *Mock) FundingRate(ctx context.Context, symbol string) (arb.FundingRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fr, ok := m.fundingRates[symbol]
	if !ok {
		return arb.FundingRate{}, fmt.Errorf("mock venue: no funding rate set for %s", symbol)
	}
	return fr, nil
}

func (m *Mock) FeeStructure(ctx context.Context) (arb.FeeStructure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fs := m.fees
	fs.Venue = m.name
	fs.CachedAt = m.clock.Now()
	return fs, nil
}

func (m *Mock) TradingFee(ctx context.Context, symbol string, isMaker bool) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if isMaker {
		return m.fees.MakerBySpot, nil
	}
	return m.fees.TakerBySpot, nil
}

func (m *Mock) WithdrawalFee(ctx context.Context, currency string, amount float64) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fees.WithdrawalFees[currency], nil
}

func (m *Mock) AccountBalance(ctx context.Context) (map[string]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.balances))
	for k, v := range m.balances {
		out[k] = v
	}
	return out, nil
}

func (m *Mock) SetBalance(currency string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[currency] = amount
}

func (m *Mock) OpenPositions(ctx context.Context) ([]Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

// SetPosition seeds a venue-reported position, used to test orphan
// reconciliation (§7 Orphan).
func (m *Mock) SetPosition(p Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.Symbol] = p
}

func (m *Mock) PlaceOrder(ctx context.Context, order OrderRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if order.Quantity <= 0 {
		return "", fmt.Errorf("mock venue: invalid quantity")
	}
	if m.rejectSymbols[order.Symbol] {
		return "", fmt.Errorf("mock venue: order rejected for %s", order.Symbol)
	}
	m.orderCounts[order.Symbol]++
	if limit, ok := m.allowedOrders[order.Symbol]; ok && m.orderCounts[order.Symbol] > limit {
		return "", fmt.Errorf("mock venue: order rejected for %s after %d calls", order.Symbol, limit)
	}
	price, ok := m.prices[order.Symbol]
	if !ok {
		return "", fmt.Errorf("mock venue: no price set for %s", order.Symbol)
	}

	id := uuid.NewString()
	status := StatusFilled
	fillPrice := m.simulateFill(price, order.Side)

	m.orders[id] = &mockOrder{req: order, status: status}

	pos := m.positions[order.Symbol]
	pos.Symbol = order.Symbol
	pos.MarkPrice = fillPrice
	pos.UpdatedAt = m.clock.Now()
	signed := order.Quantity
	if order.Side == Sell {
		signed = -signed
	}
	existing := pos.Quantity
	if pos.Side == Sell {
		existing = -existing
	}
	newQty := existing + signed
	if newQty >= 0 {
		pos.Side = Buy
	} else {
		pos.Side = Sell
	}
	pos.Quantity = newQty
	if pos.Quantity < 0 {
		pos.Quantity = -pos.Quantity
	}
	pos.EntryPrice = fillPrice
	m.positions[order.Symbol] = pos

	return id, nil
}

func (m *Mock) simulateFill(refPrice float64, side OrderSide) float64 {
	slip := m.baseSlippage
	if slip > m.maxSlippage {
		slip = m.maxSlippage
	}
	if side == Buy {
		return refPrice * (1 + slip)
	}
	return refPrice * (1 - slip)
}

func (m *Mock) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false, fmt.Errorf("mock venue: unknown order %s", orderID)
	}
	if o.status.Terminal() {
		return false, nil
	}
	o.status = StatusCanceled
	return true, nil
}

func (m *Mock) OrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return "", fmt.Errorf("mock venue: unknown order %s", orderID)
	}
	return o.status, nil
}

func (m *Mock) IsConnected() bool { return m.connected }

func (m *Mock) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// SetConnected lets tests simulate a dropped connection.
func (m *Mock) SetConnected(c bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = c
}

// RejectOrders forces every PlaceOrder call for a symbol to fail,
// regardless of price, letting tests exercise the hedge executor's
// leg-failure and reversal-failure paths.
func (m *Mock) RejectOrders(symbol string, reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectSymbols[symbol] = reject
}

// RejectOrdersAfter lets the first allowedCalls PlaceOrder calls for a
// symbol succeed, then rejects every call after that. Used to simulate
// a leg opening fine but its reversing order later failing.
func (m *Mock) RejectOrdersAfter(symbol string, allowedCalls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowedOrders[symbol] = allowedCalls
}

var _ Venue = (*Mock)(nil)
