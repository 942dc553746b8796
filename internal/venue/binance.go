package venue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/fundingbot/fundingbot/internal/arb"
)

// Binance implements Venue against the real Binance spot+futures REST
// API via adshao/go-binance/v2. Grounded on the teacher's
// BinanceExchange: client construction, testnet toggle, retry-wrapped
// reads, order-status mapping. Websocket user-data-stream plumbing is
// out of scope here — the engine polls order status (§4.4.5 step 6)
// rather than subscribing to fills.
type Binance struct {
	mu      sync.RWMutex
	client  *binance.Client
	retrier *Retrier
	log     zerolog.Logger

	testnet bool

	orders map[string]orderRecord
}

type orderRecord struct {
	symbol     string
	exchangeID int64
	status     OrderStatus
}

// BinanceConfig configures a Binance venue adapter.
type BinanceConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

func NewBinance(cfg BinanceConfig, log zerolog.Logger) *Binance {
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.Testnet {
		binance.UseTestnet = true
	}
	return &Binance{
		client:  client,
		retrier: NewRetrier(log),
		log:     log,
		testnet: cfg.Testnet,
		orders:  map[string]orderRecord{},
	}
}

// WithBreaker attaches a circuit breaker to every retried call this
// adapter makes and returns the same adapter for chaining.
func (b *Binance) WithBreaker(cb *gobreaker.CircuitBreaker) *Binance {
	b.retrier.Breaker = cb
	return b
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) BaseURL() string {
	if b.testnet {
		return "https://testnet.binance.vision"
	}
	return "https://api.binance.com"
}

func (b *Binance) AvailableInstruments(ctx context.Context, kind InstrumentKind) ([]arb.Instrument, error) {
	var out []arb.Instrument
	err := b.retrier.Do(ctx, func() error {
		info, err := b.client.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, s := range info.Symbols {
			if s.Status != "TRADING" {
				continue
			}
			out = append(out, arb.Instrument{
				Venue:         b.Name(),
				Symbol:        s.Symbol,
				Kind:          kind,
				BaseCurrency:  s.BaseAsset,
				QuoteCurrency: s.QuoteAsset,
			})
		}
		return nil
	})
	return out, err
}

func (b *Binance) Price(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := b.retrier.Do(ctx, func() error {
		prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		if len(prices) == 0 {
			return fmt.Errorf("binance: no price for %s", symbol)
		}
		price, err = strconv.ParseFloat(prices[0].Price, 64)
		return err
	})
	return price, err
}

func (b *Binance) OrderBook(ctx context.Context, symbol string, depth int) (arb.OrderBook, error) {
	if depth <= 0 {
		depth = 20
	}
	var book arb.OrderBook
	err := b.retrier.Do(ctx, func() error {
		resp, err := b.client.NewDepthService().Symbol(symbol).Limit(depth).Do(ctx)
		if err != nil {
			return err
		}
		book = arb.OrderBook{Symbol: symbol, Timestamp: time.Now()}
		for _, bid := range resp.Bids {
			p, _ := strconv.ParseFloat(bid.Price, 64)
			q, _ := strconv.ParseFloat(bid.Quantity, 64)
			book.Bids = append(book.Bids, arb.PriceLevel{Price: p, Size: q})
		}
		for _, ask := range resp.Asks {
			p, _ := strconv.ParseFloat(ask.Price, 64)
			q, _ := strconv.ParseFloat(ask.Quantity, 64)
			book.Asks = append(book.Asks, arb.PriceLevel{Price: p, Size: q})
		}
		return nil
	})
	return book, err
}

func (b *Binance) FundingRate(ctx context.Context, symbol string) (arb.FundingRate, error) {
	var fr arb.FundingRate
	err := b.retrier.Do(ctx, func() error {
		rates, err := b.client.NewFundingRateService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		if len(rates) == 0 {
			return fmt.Errorf("binance: no funding rate for %s", symbol)
		}
		last := rates[len(rates)-1]
		rate, _ := strconv.ParseFloat(last.FundingRate, 64)
		fr = arb.FundingRate{
			Symbol:               symbol,
			Rate:                 rate,
			PaymentIntervalHours: 8,
			NextPaymentTime:      time.UnixMilli(last.FundingTime),
		}
		return nil
	})
	return fr, err
}

func (b *Binance) FeeStructure(ctx context.Context) (arb.FeeStructure, error) {
	var fs arb.FeeStructure
	err := b.retrier.Do(ctx, func() error {
		fees, err := b.client.NewTradeFeeService().Do(ctx)
		if err != nil {
			return err
		}
		fs = arb.FeeStructure{Venue: b.Name(), CachedAt: time.Now(), WithdrawalFees: map[string]float64{}}
		if len(fees) > 0 {
			maker, _ := strconv.ParseFloat(fees[0].MakerCommission, 64)
			taker, _ := strconv.ParseFloat(fees[0].TakerCommission, 64)
			fs.MakerBySpot, fs.TakerBySpot = maker, taker
		}
		return nil
	})
	return fs, err
}

func (b *Binance) TradingFee(ctx context.Context, symbol string, isMaker bool) (float64, error) {
	fs, err := b.FeeStructure(ctx)
	if err != nil {
		return 0, err
	}
	if isMaker {
		return fs.MakerBySpot, nil
	}
	return fs.TakerBySpot, nil
}

func (b *Binance) WithdrawalFee(ctx context.Context, currency string, amount float64) (float64, error) {
	// Binance exposes this via the asset-detail endpoint; not wired here
	// since no strategy reads withdrawal fees (only fee-structure cache
	// consumers would, and none exist in this engine's scope).
	return 0, nil
}

func (b *Binance) AccountBalance(ctx context.Context) (map[string]float64, error) {
	out := map[string]float64{}
	err := b.retrier.Do(ctx, func() error {
		account, err := b.client.NewGetAccountService().Do(ctx)
		if err != nil {
			return err
		}
		for _, bal := range account.Balances {
			free, _ := strconv.ParseFloat(bal.Free, 64)
			if free > 0 {
				out[bal.Asset] = free
			}
		}
		return nil
	})
	return out, err
}

func (b *Binance) OpenPositions(ctx context.Context) ([]Position, error) {
	// Spot-only account has no "positions" concept beyond balances;
	// futures positions would come from NewGetPositionRiskService, left
	// for a dedicated perpetual adapter variant since this module covers
	// the spot leg of same/cross-venue strategies.
	return nil, nil
}

func (b *Binance) PlaceOrder(ctx context.Context, order OrderRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	side := binance.SideTypeBuy
	if order.Side == Sell {
		side = binance.SideTypeSell
	}

	svc := b.client.NewCreateOrderService().Symbol(order.Symbol).Side(side)
	if order.Type == Market {
		svc = svc.Type(binance.OrderTypeMarket).Quantity(fmt.Sprintf("%.8f", order.Quantity))
	} else {
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Quantity(fmt.Sprintf("%.8f", order.Quantity)).
			Price(fmt.Sprintf("%.8f", order.Price))
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return "", fmt.Errorf("place order failed: %w", err)
	}

	id := strconv.FormatInt(resp.OrderID, 10)
	b.orders[id] = orderRecord{symbol: order.Symbol, exchangeID: resp.OrderID, status: mapBinanceStatus(resp.Status)}
	return id, nil
}

func (b *Binance) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	b.mu.RLock()
	rec, ok := b.orders[orderID]
	b.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("unknown order %s", orderID)
	}

	_, err := b.client.NewCancelOrderService().Symbol(rec.symbol).OrderID(rec.exchangeID).Do(ctx)
	if err != nil {
		return false, fmt.Errorf("cancel order failed: %w", err)
	}

	b.mu.Lock()
	rec.status = StatusCanceled
	b.orders[orderID] = rec
	b.mu.Unlock()
	return true, nil
}

func (b *Binance) OrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	b.mu.RLock()
	rec, ok := b.orders[orderID]
	b.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown order %s", orderID)
	}

	var status OrderStatus
	err := b.retrier.Do(ctx, func() error {
		o, err := b.client.NewGetOrderService().Symbol(rec.symbol).OrderID(rec.exchangeID).Do(ctx)
		if err != nil {
			return err
		}
		status = mapBinanceStatus(o.Status)
		return nil
	})
	if err != nil {
		return rec.status, nil
	}

	b.mu.Lock()
	rec.status = status
	b.orders[orderID] = rec
	b.mu.Unlock()
	return status, nil
}

func (b *Binance) IsConnected() bool {
	_, err := b.client.NewPingService().Do(context.Background())
	return err == nil
}

func (b *Binance) Reconnect(ctx context.Context) error {
	_, err := b.client.NewPingService().Do(ctx)
	return err
}

func mapBinanceStatus(s binance.OrderStatusType) OrderStatus {
	switch s {
	case binance.OrderStatusTypeNew:
		return StatusNew
	case binance.OrderStatusTypePartiallyFilled:
		return StatusPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return StatusFilled
	case binance.OrderStatusTypeCanceled:
		return StatusCanceled
	case binance.OrderStatusTypeRejected:
		return StatusRejected
	case binance.OrderStatusTypeExpired:
		return StatusExpired
	default:
		return StatusNew
	}
}

var _ Venue = (*Binance)(nil)
