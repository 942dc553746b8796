package arb

import (
	"math"
	"strings"
)

// venueRiskTable is the fixed per-venue risk contribution from §4.3.
var venueRiskTable = map[string]float64{
	"binance": 5,
	"bybit":   5,
	"bitget":  10,
	"okx":     10,
}

func venueRisk(venue string) float64 {
	if r, ok := venueRiskTable[strings.ToLower(venue)]; ok {
		return r
	}
	return 15
}

// RiskScoreInputs bundles the values the §4.3 composite needs. Liquidity
// values are the available quote-notional depth on each leg; liquidityRisk
// weight is 25 for same-venue strategies or 30 for cross-venue ones (the
// strategies pass the right weight).
type RiskScoreInputs struct {
	EntrySpreadPct        float64
	MaxAllowableSpreadPct float64
	Liquidity1            float64
	Liquidity2            float64
	LiquidityRiskWeight   float64 // 25 or 30
	Venue1                string
	Venue2                string
	PaymentInterval1      float64
	PaymentInterval2      float64
}

// RiskScore computes the bounded composite risk score in [0,100] per the
// §4.3 reference calibration. Coefficients are fixed; tuning belongs in
// config, not code.
func RiskScore(in RiskScoreInputs) float64 {
	spreadRisk := 0.0
	if in.MaxAllowableSpreadPct != 0 {
		spreadRisk = math.Abs(in.EntrySpreadPct/in.MaxAllowableSpreadPct) * 40
	}

	minLiquidity := in.Liquidity1
	if in.Liquidity2 < minLiquidity {
		minLiquidity = in.Liquidity2
	}
	weight := in.LiquidityRiskWeight
	if weight == 0 {
		weight = 25
	}
	liquidityRisk := (1 - minLiquidity/50000) * weight
	if liquidityRisk < 0 {
		liquidityRisk = 0
	}

	vRisk := (venueRisk(in.Venue1) + venueRisk(in.Venue2)) / 2

	fundingRisk := 10.0
	if in.PaymentInterval1 != in.PaymentInterval2 {
		fundingRisk += 10
	}

	total := spreadRisk + liquidityRisk + vRisk + fundingRisk
	if total > 100 {
		return 100
	}
	return total
}
