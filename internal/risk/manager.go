// Package risk implements the position/risk manager: sizing, entry
// gating, close/reduce signals, the live position registry, and
// mark-to-market updates (spec §4.2), plus a circuit breaker wrapping
// venue reads (§5 retry discipline).
package risk

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fundingbot/fundingbot/internal/arb"
	"github.com/fundingbot/fundingbot/internal/venue"
)

// Config mirrors the original RiskConfig verbatim.
type Config struct {
	MaxPositionSizeUSD      float64 `mapstructure:"max_position_size_usd" json:"max_position_size_usd"`
	MaxTotalPositionUSD     float64 `mapstructure:"max_total_position_usd" json:"max_total_position_usd"`
	MaxPositionPerExchange  float64 `mapstructure:"max_position_per_exchange" json:"max_position_per_exchange"`
	MaxPriceDivergencePct   float64 `mapstructure:"max_price_divergence_pct" json:"max_price_divergence_pct"`
	TargetProfitPct         float64 `mapstructure:"target_profit_pct" json:"target_profit_pct"`
	StopLossPct             float64 `mapstructure:"stop_loss_pct" json:"stop_loss_pct"`
	DynamicPositionSizing   bool    `mapstructure:"dynamic_position_sizing" json:"dynamic_position_sizing"`
	MinLiquidityDepth       float64 `mapstructure:"min_liquidity_depth" json:"min_liquidity_depth"`
}

// DefaultReduceFraction is the fraction §4.2 should_reduce returns by
// default.
const DefaultReduceFraction = 0.5

// Manager is the single source of truth for live positions. The
// registry mutex is never held across a venue call (§5): callers
// snapshot, release, do I/O, then re-acquire briefly to merge updates.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	registry map[string]*arb.ArbitragePosition
	log      zerolog.Logger
}

func NewManager(cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		registry: make(map[string]*arb.ArbitragePosition),
		log:      log,
	}
}

// sumActiveLocked must be called with the lock held.
func (m *Manager) sumActiveLocked() float64 {
	var total float64
	for _, p := range m.registry {
		if p.IsActive {
			total += p.PositionSizeUSD
		}
	}
	return total
}

// CanEnter implements §4.2 can_enter.
func (m *Manager) CanEnter(opp arb.ArbitrageOpportunity) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.sumActiveLocked()+opp.MaxPositionSizeUSD > m.cfg.MaxTotalPositionUSD {
		return false
	}
	if opp.RiskScore > 75 {
		return false
	}
	if opp.EstimatedProfitPct <= 0 {
		return false
	}
	return true
}

// PositionSize implements §4.2 position_size.
func (m *Manager) PositionSize(opp arb.ArbitrageOpportunity) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	size := math.Min(opp.MaxPositionSizeUSD, m.cfg.MaxPositionSizeUSD)
	if opp.RiskScore > 50 {
		size *= 1 - (opp.RiskScore-50)/100
	}
	remaining := m.cfg.MaxTotalPositionUSD - m.sumActiveLocked()
	if remaining < 0 {
		remaining = 0
	}
	if size > remaining {
		size = remaining
	}
	return size
}

// ShouldClose implements §4.2 should_close.
func (m *Manager) ShouldClose(pos arb.ArbitragePosition) bool {
	if pos.PositionSizeUSD == 0 {
		return false
	}
	pnlPct := pos.UnrealizedPnLUSD / pos.PositionSizeUSD * 100
	if pnlPct >= m.cfg.TargetProfitPct {
		return true
	}
	if pnlPct < 0 && math.Abs(pnlPct) >= m.cfg.StopLossPct {
		return true
	}
	if pos.InitialSpreadPct != 0 {
		divergencePct := math.Abs(pos.CurrentSpreadPct-pos.InitialSpreadPct) / math.Abs(pos.InitialSpreadPct) * 100
		if divergencePct > m.cfg.MaxPriceDivergencePct {
			return true
		}
	}
	return false
}

// ShouldReduce implements §4.2 should_reduce. Mutually exclusive with
// ShouldClose — callers must check ShouldClose first; close takes
// precedence.
func (m *Manager) ShouldReduce(pos arb.ArbitragePosition) (bool, float64) {
	if pos.PositionSizeUSD == 0 || m.ShouldClose(pos) {
		return false, 0
	}

	if pos.InitialSpreadPct != 0 {
		divergenceFrac := math.Abs(pos.CurrentSpreadPct-pos.InitialSpreadPct) / math.Abs(pos.InitialSpreadPct)
		spreadFrac := 0.0
		if m.cfg.MaxPriceDivergencePct != 0 {
			spreadFrac = divergenceFrac * 100 / m.cfg.MaxPriceDivergencePct
		}
		if spreadFrac >= 0.75 && spreadFrac <= 1.0 {
			return true, DefaultReduceFraction
		}
	}

	pnlPct := pos.UnrealizedPnLUSD / pos.PositionSizeUSD * 100
	if pnlPct < 0 && m.cfg.StopLossPct != 0 {
		lossFrac := math.Abs(pnlPct) / m.cfg.StopLossPct
		if lossFrac >= 0.75 && lossFrac <= 1.0 {
			return true, DefaultReduceFraction
		}
	}

	return false, 0
}

// UpdateMarkToMarket implements §4.2 update_mark_to_market: fetches
// current prices on both legs and recomputes spread/PnL in place.
func (m *Manager) UpdateMarkToMarket(ctx context.Context, pos *arb.ArbitragePosition, v1, v2 venue.Venue) error {
	p1, err := v1.Price(ctx, pos.Opportunity.Pair.Symbol1)
	if err != nil {
		return err
	}
	p2, err := v2.Price(ctx, pos.Opportunity.Pair.Symbol2)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pos.CurrentPrice1 = p1
	pos.CurrentPrice2 = p2
	mid := (p1 + p2) / 2
	if mid != 0 {
		pos.CurrentSpreadPct = math.Abs(p1-p2) / mid * 100
	}
	pos.UnrealizedPnLUSD = (pos.CurrentSpreadPct-pos.InitialSpreadPct)*pos.PositionSizeUSD + pos.FundingCollectedUSD
	return nil
}

// RegisterPosition adds a new position to the registry, keyed by
// PositionID.
func (m *Manager) RegisterPosition(pos arb.ArbitragePosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := pos
	m.registry[pos.PositionID] = &p
}

// Get returns the registered position for an id, active or not.
func (m *Manager) Get(positionID string) (*arb.ArbitragePosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.registry[positionID]
	return p, ok
}

// Deactivate marks a position closed; it remains in the registry (and
// in AllPositions) for historical lookups. The registry never evicts
// entries.
func (m *Manager) Deactivate(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.registry[positionID]; ok {
		p.IsActive = false
	}
}

// ActivePositions returns a snapshot copy of the subset with
// IsActive = true, the registry accessor the original bot's
// getActivePositions() exposes.
func (m *Manager) ActivePositions() []arb.ArbitragePosition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]arb.ArbitragePosition, 0, len(m.registry))
	for _, p := range m.registry {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	return out
}

// AllPositions returns a snapshot of every registry entry, active or
// not, for persistence (spec §6).
func (m *Manager) AllPositions() []arb.ArbitragePosition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]arb.ArbitragePosition, 0, len(m.registry))
	for _, p := range m.registry {
		out = append(out, *p)
	}
	return out
}

// LoadPositions replaces the registry wholesale, used when restoring
// from the persisted state file at startup.
func (m *Manager) LoadPositions(positions []arb.ArbitragePosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry = make(map[string]*arb.ArbitragePosition, len(positions))
	for i := range positions {
		p := positions[i]
		m.registry[p.PositionID] = &p
	}
}
