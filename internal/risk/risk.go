// Package risk derives entry, stop-loss, take-profit ladder, and position
// size for a candidate market from its indicator bundle and the current
// trend regime.
package risk

import (
	"math"

	"coinscout-go/internal/config"
	"coinscout-go/internal/indicator"
	"coinscout-go/internal/regime"
)

// Level is one rung of the partial take-profit ladder.
type Level struct {
	Index           int
	ProfitPercent   float64
	ProfitPrice     float64
	ProfitAmount    float64
	Ratio           float64
	CumulativeRatio float64
}

// Parameters is the complete trade plan for one candidate.
type Parameters struct {
	EntryPrice       float64
	CurrentPrice     float64
	StopLossPrice    float64
	StopLossPercent  float64
	RiskPerUnit      float64
	PositionSize     float64
	PositionValue    float64
	// MaxRiskAmount is the amount actually at risk, below the risk budget
	// when the position cap shrinks the size
	MaxRiskAmount    float64
	RiskRewardRatio  float64
	TakeProfitLevels []Level

	FirstTakeProfitPrice   float64
	FirstTakeProfitPercent float64
	AvgTakeProfitPercent   float64
	TrendMode              string
}

// Engine computes trade plans from risk configuration.
type Engine struct {
	cfg config.Risk
}

// NewEngine builds a risk engine.
func NewEngine(cfg config.Risk) *Engine {
	return &Engine{cfg: cfg}
}

// Compute builds the full trade plan. Entry pulls below the current price
// toward band and average supports, the stop sits under the nearest support,
// and the ladder is picked by regime. A nil snapshot selects the sideways
// ladder.
func (e *Engine) Compute(currentPrice float64, ind indicator.Bundle, capital float64, snap *regime.Snapshot) Parameters {
	if currentPrice <= 0 {
		return Parameters{CurrentPrice: currentPrice}
	}
	entry := e.entryPrice(currentPrice, ind)
	stop := e.stopPrice(entry, ind)

	steps, mode := e.ladder(snap)
	levels := expandLadder(entry, steps)

	riskPerUnit := entry - stop
	maxRisk := capital * e.cfg.RiskFraction
	var size float64
	if riskPerUnit > 0 {
		size = maxRisk / riskPerUnit
		if maxValue := capital * e.cfg.MaxPositionFraction; size*entry > maxValue {
			size = maxValue / entry
		}
	}

	p := Parameters{
		EntryPrice:       entry,
		CurrentPrice:     currentPrice,
		StopLossPrice:    stop,
		StopLossPercent:  (entry - stop) / entry * 100,
		RiskPerUnit:      riskPerUnit,
		PositionSize:     size,
		PositionValue:    size * entry,
		MaxRiskAmount:    size * riskPerUnit,
		TakeProfitLevels: levels,
		TrendMode:        mode,
	}

	if len(levels) > 0 {
		p.FirstTakeProfitPrice = levels[0].ProfitPrice
		p.FirstTakeProfitPercent = levels[0].ProfitPercent
		var weighted float64
		for _, l := range levels {
			weighted += l.ProfitPercent * l.Ratio
		}
		p.AvgTakeProfitPercent = weighted
		if riskPerUnit > 0 {
			p.RiskRewardRatio = (p.FirstTakeProfitPrice - entry) / riskPerUnit
		}
	} else {
		// no ladder configured, fall back to a flat 5% target
		p.FirstTakeProfitPrice = entry * 1.05
		p.FirstTakeProfitPercent = 5.0
		if riskPerUnit > 0 {
			p.RiskRewardRatio = (p.FirstTakeProfitPrice - entry) / riskPerUnit
		}
	}
	return p
}

// entryPrice starts at the current price and pulls down toward the nearest
// support: just above the lower band when price sits in the bottom of the
// band, or just above whichever moving average price still holds.
func (e *Engine) entryPrice(currentPrice float64, ind indicator.Bundle) float64 {
	entry := currentPrice
	if bb := ind.Bollinger; bb != nil && bb.Position < 0.3 && bb.Lower > 0 {
		entry = math.Min(entry, bb.Lower*1.01)
	}
	if ma := ind.MovingAverages; ma != nil {
		switch {
		case ma.Short != nil && currentPrice > *ma.Short:
			entry = math.Min(entry, *ma.Short*1.02)
		case ma.Medium != nil && currentPrice > *ma.Medium:
			entry = math.Min(entry, *ma.Medium*1.02)
		}
	}
	return entry
}

// stopPrice places the stop the configured percent under entry, then widens
// to sit under the lower band or the long average when those are lower, but
// never at or above entry.
func (e *Engine) stopPrice(entry float64, ind indicator.Bundle) float64 {
	stop := entry * (1 - e.cfg.StopLossPercent/100)
	if bb := ind.Bollinger; bb != nil && bb.Lower > 0 && bb.Lower*0.98 < stop {
		stop = bb.Lower * 0.98
	}
	if ma := ind.MovingAverages; ma != nil && ma.Long != nil && *ma.Long*0.97 < stop {
		stop = *ma.Long * 0.97
	}
	return math.Min(stop, entry*0.99)
}

// ladder picks the take-profit schedule for the regime. Downtrends take
// profits fast and small, uptrends let the position run.
func (e *Engine) ladder(snap *regime.Snapshot) ([]config.LadderStep, string) {
	switch {
	case snap == nil:
		return e.cfg.LadderSideways, "default"
	case snap.IsDowntrend || snap.Direction == regime.Down:
		return e.cfg.LadderDowntrend, "downtrend"
	case snap.IsUptrend:
		return e.cfg.LadderUptrend, "uptrend"
	default:
		return e.cfg.LadderUptrend, "uptrend"
	}
}

func expandLadder(entry float64, steps []config.LadderStep) []Level {
	levels := make([]Level, 0, len(steps))
	var cumulative float64
	for i, step := range steps {
		cumulative += step.Ratio
		price := entry * (1 + step.ProfitPercent/100)
		levels = append(levels, Level{
			Index:           i + 1,
			ProfitPercent:   step.ProfitPercent,
			ProfitPrice:     price,
			ProfitAmount:    price - entry,
			Ratio:           step.Ratio,
			CumulativeRatio: cumulative,
		})
	}
	return levels
}
