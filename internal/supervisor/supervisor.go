// Package supervisor runs the two cooperating periodic workers that
// drive the engine (spec §4.5): a scan worker discovering and entering
// opportunities, and a monitor worker walking live positions, updating
// performance stats, and persisting state. Grounded on the teacher's
// internal/agents/base.go Run loop (ticker+select, continue-on-error)
// and cmd/orchestrator/main.go's signal-driven shutdown, generalised
// from one agent's single step loop into two workers sharing an atomic
// running flag and a shutdown channel per spec §5.
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fundingbot/fundingbot/internal/alerts"
	"github.com/fundingbot/fundingbot/internal/arb"
	"github.com/fundingbot/fundingbot/internal/bus"
	"github.com/fundingbot/fundingbot/internal/clock"
	"github.com/fundingbot/fundingbot/internal/perf"
	"github.com/fundingbot/fundingbot/internal/risk"
	"github.com/fundingbot/fundingbot/internal/store"
	"github.com/fundingbot/fundingbot/internal/strategy"
	"github.com/fundingbot/fundingbot/internal/venue"
)

const (
	// monitorInterval is the §4.5 30s position walk cadence.
	monitorInterval = 30 * time.Second
	// statsInterval is the §4.5 5-minute performance stats cadence.
	statsInterval = 5 * time.Minute
	// persistInterval is the §4.5 15-minute state persistence cadence.
	persistInterval = 15 * time.Minute
	// fundingFlipPersistenceTicks is how many consecutive monitor ticks
	// a reversed funding direction must hold before the emergency
	// reduction in §4.4.6 step 6 fires, so a single noisy reading can't
	// trigger it.
	fundingFlipPersistenceTicks = 2
	// emergencyReduceFraction is the §4.4.6 step 6 "75% reduction".
	emergencyReduceFraction = 0.75
	// upcomingFundingWindow is the §4.4.6 step 5 "within 1 hour" window.
	upcomingFundingWindow = time.Hour
)

// Config bundles the tunables the scan worker needs (spec §6's
// strategies[].scan_interval_seconds).
type Config struct {
	ScanInterval   time.Duration
	CapitalBaseUSD float64
}

// Supervisor owns the scan and monitor workers. Both read the shared
// risk.Manager registry and perf.Tracker, but never hold a lock across
// a venue call (spec §5).
type Supervisor struct {
	cfg Config

	strategy strategy.Strategy
	risk     *risk.Manager
	perf     *perf.Tracker
	fileStore *store.FileStore
	venues   map[string]venue.Venue
	clk      clock.Clock
	alerter  *alerts.Manager
	bus      *bus.Publisher
	log      zerolog.Logger

	since time.Time

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	flipTicks map[string]int
}

// New builds a Supervisor. venues maps a venue name (as it appears in
// arb.TradingPair.Venue1/Venue2) to the live handle used to refresh
// prices and funding rates during monitoring.
func New(cfg Config, strat strategy.Strategy, riskMgr *risk.Manager, tracker *perf.Tracker, fileStore *store.FileStore, venues map[string]venue.Venue, clk clock.Clock, alerter *alerts.Manager, log zerolog.Logger, busPub ...*bus.Publisher) *Supervisor {
	var b *bus.Publisher
	if len(busPub) > 0 {
		b = busPub[0]
	}
	return &Supervisor{
		cfg:       cfg,
		strategy:  strat,
		risk:      riskMgr,
		perf:      tracker,
		fileStore: fileStore,
		venues:    venues,
		clk:       clk,
		alerter:   alerter,
		bus:       b,
		log:       log.With().Str("component", "supervisor").Logger(),
		since:     clk.Now(),
		done:      make(chan struct{}),
		flipTicks: make(map[string]int),
	}
}

// Run starts both workers and blocks until ctx is canceled, then waits
// for both to return within the §5 shutdown-latency bound
// (scan_interval + 1s) before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	s.running.Store(true)
	s.log.Info().Dur("scan_interval", s.cfg.ScanInterval).Msg("supervisor starting")

	s.wg.Add(2)
	go s.scanLoop(ctx)
	go s.monitorLoop(ctx)

	<-ctx.Done()
	s.Shutdown()
	return nil
}

// Shutdown flips the running flag and closes the shared signal channel;
// both workers observe it on their next tick or immediately if blocked
// on it, bounding shutdown latency to scan_interval + 1s (spec §5).
func (s *Supervisor) Shutdown() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.done)

	waitDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitDone)
	}()

	timeout := s.cfg.ScanInterval + time.Second
	select {
	case <-waitDone:
		s.log.Info().Msg("supervisor stopped cleanly")
	case <-time.After(timeout):
		s.log.Warn().Dur("timeout", timeout).Msg("supervisor shutdown exceeded latency bound")
	}
}

// scanLoop implements the §4.5 scan worker.
func (s *Supervisor) scanLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.scanOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("scan tick failed")
			}
		}
	}
}

func (s *Supervisor) scanOnce(ctx context.Context) error {
	opps, err := s.strategy.FindOpportunities(ctx)
	if err != nil {
		return err
	}

	for _, opp := range opps {
		if !s.risk.CanEnter(opp) {
			continue
		}
		size := s.risk.PositionSize(opp)
		if size <= 0 {
			continue
		}

		pos, err := s.strategy.Execute(ctx, opp, size)
		if err != nil {
			s.log.Warn().Err(err).Str("pair", opp.Pair.Symbol1+"/"+opp.Pair.Symbol2).Msg("execute failed, skipping opportunity")
			continue
		}

		s.risk.RegisterPosition(*pos)
		s.perf.RecordExecution()
		s.log.Info().Str("position_id", pos.PositionID).Float64("size_usd", size).Msg("position opened")
		s.bus.PositionOpened(pos.PositionID, size)
	}

	s.bus.ScanCompleted(len(opps), s.strategy.Name())
	return s.persist()
}

// monitorLoop implements the §4.5 monitor worker: 30s position walk,
// 5min stats tick, 15min persistence tick, all driven off one ticker so
// a single select also carries the shutdown signal.
func (s *Supervisor) monitorLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	var sinceStats, sincePersist time.Duration

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.monitorOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("monitor tick failed")
			}

			sinceStats += monitorInterval
			sincePersist += monitorInterval
			if sinceStats >= statsInterval {
				sinceStats = 0
				s.updateStats()
			}
			if sincePersist >= persistInterval {
				sincePersist = 0
				if err := s.persist(); err != nil {
					s.log.Error().Err(err).Msg("periodic persist failed")
				}
			}
		}
	}
}

// monitorOnce implements §4.4.6 for every active position. A single
// position's failure is logged and swallowed so the rest of the sweep
// proceeds (§7 propagation policy: "monitor loop swallows all non-fatal
// errors and continues").
func (s *Supervisor) monitorOnce(ctx context.Context) error {
	for _, pos := range s.risk.ActivePositions() {
		pos := pos
		if err := s.monitorPosition(ctx, &pos); err != nil {
			s.log.Warn().Err(err).Str("position_id", pos.PositionID).Msg("monitor step failed for position")
		}
	}
	return nil
}

func (s *Supervisor) monitorPosition(ctx context.Context, pos *arb.ArbitragePosition) error {
	v1 := s.venues[pos.Opportunity.Pair.Venue1]
	v2 := s.venues[pos.Opportunity.Pair.Venue2]
	if v1 == nil || v2 == nil {
		return nil
	}

	if err := s.risk.UpdateMarkToMarket(ctx, pos, v1, v2); err != nil {
		return err
	}
	// ActivePositions handed us a snapshot copy, so the fresh
	// mark-to-market values above live only on pos until pushed back
	// into the registry here.
	s.risk.RegisterPosition(*pos)

	if s.risk.ShouldClose(*pos) {
		if err := s.strategy.Close(ctx, pos); err != nil {
			return err
		}
		s.risk.Deactivate(pos.PositionID)
		s.perf.RecordClose(pos.UnrealizedPnLUSD)
		s.log.Info().Str("position_id", pos.PositionID).Msg("position closed")
		s.bus.PositionClosed(pos.PositionID, pos.UnrealizedPnLUSD)
		return nil
	} else if reduce, fraction := s.risk.ShouldReduce(*pos); reduce {
		if err := s.strategy.Reduce(ctx, pos, fraction); err != nil {
			return err
		}
		pos.PositionSizeUSD *= 1 - fraction
		s.risk.RegisterPosition(*pos)
		s.log.Info().Str("position_id", pos.PositionID).Float64("fraction", fraction).Msg("position reduced")
		s.bus.PositionReduced(pos.PositionID, fraction)
	}

	s.log.Debug().
		Str("position_id", pos.PositionID).
		Dur("age", s.clk.Now().Sub(pos.EntryTime)).
		Float64("unrealized_pnl_usd", pos.UnrealizedPnLUSD).
		Float64("funding_collected_usd", pos.FundingCollectedUSD).
		Float64("current_spread_pct", pos.CurrentSpreadPct).
		Msg("position status")

	s.logUpcomingFunding(ctx, pos, v1, v2)
	return s.checkFundingFlip(ctx, pos, v1, v2)
}

// logUpcomingFunding implements §4.4.6 step 5.
func (s *Supervisor) logUpcomingFunding(ctx context.Context, pos *arb.ArbitragePosition, v1, v2 venue.Venue) {
	now := s.clk.Now()
	for _, leg := range []struct {
		v      venue.Venue
		symbol string
	}{{v1, pos.Opportunity.Pair.Symbol1}, {v2, pos.Opportunity.Pair.Symbol2}} {
		fr, err := leg.v.FundingRate(ctx, leg.symbol)
		if err != nil {
			continue
		}
		if !fr.NextPaymentTime.IsZero() && fr.NextPaymentTime.Sub(now) <= upcomingFundingWindow && fr.NextPaymentTime.After(now) {
			expected := fr.Rate * pos.PositionSizeUSD
			s.log.Info().
				Str("position_id", pos.PositionID).
				Str("symbol", leg.symbol).
				Time("next_payment_time", fr.NextPaymentTime).
				Float64("expected_cash_usd", expected).
				Msg("upcoming funding payment")
		}
	}
}

// checkFundingFlip implements §4.4.6 step 6: emergency 75% reduction
// when the funding direction has flipped persistently against the
// position. "Persistently" is interpreted as holding across
// fundingFlipPersistenceTicks consecutive monitor ticks, so one noisy
// reading doesn't trigger it.
func (s *Supervisor) checkFundingFlip(ctx context.Context, pos *arb.ArbitragePosition, v1, v2 venue.Venue) error {
	fr2, err := v2.FundingRate(ctx, pos.Opportunity.Pair.Symbol2)
	if err != nil {
		return nil
	}

	openedPositive := pos.Opportunity.NetFundingRate >= 0
	currentFlipped := (fr2.Rate >= 0) != openedPositive
	predictedFlipped := true
	if fr2.PredictedNextRate != nil {
		predictedFlipped = (*fr2.PredictedNextRate >= 0) != openedPositive
	}

	if currentFlipped && predictedFlipped {
		s.flipTicks[pos.PositionID]++
	} else {
		s.flipTicks[pos.PositionID] = 0
	}

	if s.flipTicks[pos.PositionID] < fundingFlipPersistenceTicks {
		return nil
	}
	s.flipTicks[pos.PositionID] = 0

	s.log.Warn().Str("position_id", pos.PositionID).Msg("funding direction flipped persistently, emergency reduction")
	if err := s.strategy.Reduce(ctx, pos, emergencyReduceFraction); err != nil {
		msg := "funding flip emergency reduction failed: " + err.Error()
		s.alerter.SendCritical(ctx, "Emergency Reduction Failed", msg, map[string]interface{}{
			"position_id": pos.PositionID,
		})
		s.bus.AlertCritical("Emergency Reduction Failed", msg)
		return err
	}
	pos.PositionSizeUSD *= 1 - emergencyReduceFraction
	return nil
}

// updateStats implements the §4.5 5-minute stats tick: refresh drawdown
// from the sum of active positions' unrealized PnL, then snapshot and
// feed the day's return back into the ring via AddDailyReturn once per
// calendar day boundary crossed.
func (s *Supervisor) updateStats() {
	var sumUnrealized float64
	for _, p := range s.risk.ActivePositions() {
		sumUnrealized += p.UnrealizedPnLUSD
	}
	s.perf.UpdateDrawdown(sumUnrealized)

	snap := s.perf.Snapshot(s.clk.Now(), s.cfg.CapitalBaseUSD, s.since)
	if snap.TotalProfitUSD != 0 || len(snap.DailyReturns) == 0 {
		s.perf.AddDailyReturn(snap.TotalProfitUSD / s.cfg.CapitalBaseUSD * 100)
	}
}

// persist implements the §4.5/§6 "persists state" step: the active
// position registry plus the latest performance snapshot, written to
// the two flat JSON files.
func (s *Supervisor) persist() error {
	if s.fileStore == nil {
		return nil
	}
	if err := s.fileStore.SavePositions(s.risk.AllPositions()); err != nil {
		return err
	}
	snap := s.perf.Snapshot(s.clk.Now(), s.cfg.CapitalBaseUSD, s.since)
	return s.fileStore.SavePerformance(snap)
}
