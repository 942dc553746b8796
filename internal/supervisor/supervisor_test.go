package supervisor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundingbot/fundingbot/internal/alerts"
	"github.com/fundingbot/fundingbot/internal/arb"
	"github.com/fundingbot/fundingbot/internal/clock"
	"github.com/fundingbot/fundingbot/internal/perf"
	"github.com/fundingbot/fundingbot/internal/risk"
	"github.com/fundingbot/fundingbot/internal/store"
	"github.com/fundingbot/fundingbot/internal/strategy"
	"github.com/fundingbot/fundingbot/internal/venue"
)

func seedMock(t *testing.T, fundingRate float64) *venue.Mock {
	t.Helper()
	v := venue.NewMock("binance", clock.NewFixed(time.Unix(0, 0)))
	v.SetInstruments([]arb.Instrument{
		{Venue: "binance", Symbol: "BTCUSDT", Kind: arb.Spot, BaseCurrency: "BTC", QuoteCurrency: "USDT"},
		{Venue: "binance", Symbol: "BTCUSDT-PERP", Kind: arb.Perpetual, BaseCurrency: "BTC", QuoteCurrency: "USDT"},
	})
	v.SetPrice("BTCUSDT", 100)
	v.SetPrice("BTCUSDT-PERP", 100.5)
	v.SetFundingRate("BTCUSDT-PERP", arb.FundingRate{
		Symbol: "BTCUSDT-PERP", Rate: fundingRate, PaymentIntervalHours: 8,
	})
	v.SetBalance("USDT", 10_000_000)
	return v
}

func newRiskManager() *risk.Manager {
	return risk.NewManager(risk.Config{
		MaxPositionSizeUSD:     5000,
		MaxTotalPositionUSD:    20000,
		MaxPositionPerExchange: 10000,
		MaxPriceDivergencePct:  2.0,
		TargetProfitPct:        1.0,
		StopLossPct:            1.0,
		MinLiquidityDepth:      1.5,
	}, zerolog.Nop())
}

func TestSupervisor_ScanOnce_EntersAndPersistsOpportunity(t *testing.T) {
	v := seedMock(t, 0.001)
	s := strategy.NewSameVenueSpotPerp(v, clock.NewFixed(time.Unix(0, 0)), alerts.NewManager(), zerolog.Nop())
	s.SetMinFundingRate(0.0001)
	s.SetMinExpectedProfit(0.01)

	dir := t.TempDir()
	fileStore, err := store.NewFileStore(dir, zerolog.Nop())
	require.NoError(t, err)

	sup := New(
		Config{ScanInterval: time.Minute, CapitalBaseUSD: 20000},
		s,
		newRiskManager(),
		perf.NewTracker(),
		fileStore,
		map[string]venue.Venue{"binance": v},
		clock.NewFixed(time.Unix(0, 0)),
		alerts.NewManager(),
		zerolog.Nop(),
	)

	require.NoError(t, sup.scanOnce(context.Background()))
	assert.Len(t, sup.risk.ActivePositions(), 1)

	loaded := fileStore.LoadPositions()
	assert.Len(t, loaded, 1)
}

func TestSupervisor_MonitorOnce_ClosesPositionAtTargetProfit(t *testing.T) {
	v := seedMock(t, 0.001)
	s := strategy.NewSameVenueSpotPerp(v, clock.NewFixed(time.Unix(0, 0)), alerts.NewManager(), zerolog.Nop())
	s.SetMinFundingRate(0.0001)
	s.SetMinExpectedProfit(0.01)

	riskMgr := newRiskManager()

	sup := New(
		Config{ScanInterval: time.Minute, CapitalBaseUSD: 20000},
		s,
		riskMgr,
		perf.NewTracker(),
		nil,
		map[string]venue.Venue{"binance": v},
		clock.NewFixed(time.Unix(0, 0)),
		alerts.NewManager(),
		zerolog.Nop(),
	)

	pos := arb.ArbitragePosition{
		Opportunity: arb.ArbitrageOpportunity{
			Pair: arb.TradingPair{Venue1: "binance", Symbol1: "BTCUSDT", Venue2: "binance", Symbol2: "BTCUSDT-PERP"},
			NetFundingRate: 0.001,
		},
		PositionSizeUSD:  1000,
		EntryPrice1:      100,
		EntryPrice2:      100.5,
		InitialSpreadPct: 0, // spread opened flat; current mock spread (0.5 over a mid of 100.25) now yields a large unrealized gain
		PositionID:       "binance:BTCUSDT:binance:BTCUSDT-PERP:0",
		IsActive:         true,
	}
	riskMgr.RegisterPosition(pos)

	require.NoError(t, sup.monitorOnce(context.Background()))
	active := riskMgr.ActivePositions()
	assert.Empty(t, active, "position should have closed once mark-to-market pushes PnL over target_profit_pct")
}

func TestSupervisor_Shutdown_StopsWorkersWithinLatencyBound(t *testing.T) {
	v := seedMock(t, 0.00001) // below min rate, so scans find nothing and loop is quiet
	s := strategy.NewSameVenueSpotPerp(v, clock.NewFixed(time.Unix(0, 0)), alerts.NewManager(), zerolog.Nop())
	s.SetMinFundingRate(0.0001)
	s.SetMinExpectedProfit(0.01)

	dir := t.TempDir()
	fileStore, err := store.NewFileStore(dir, zerolog.Nop())
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	sup := New(
		Config{ScanInterval: 50 * time.Millisecond, CapitalBaseUSD: 20000},
		s,
		newRiskManager(),
		perf.NewTracker(),
		fileStore,
		map[string]venue.Venue{"binance": v},
		clock.Real{},
		alerts.NewManager(),
		zerolog.Nop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		_ = sup.Run(ctx)
		close(runDone)
	}()

	time.Sleep(75 * time.Millisecond)
	cancel()

	select {
	case <-runDone:
	case <-time.After(sup.cfg.ScanInterval + 2*time.Second):
		t.Fatal("supervisor did not shut down within the latency bound")
	}
}
