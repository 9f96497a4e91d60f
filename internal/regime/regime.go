// Package regime classifies the reference asset's (BTC) trend. The snapshot
// gates and reweights every altcoin recommendation.
package regime

import (
	"fmt"

	"github.com/rs/zerolog"

	"coinscout-go/internal/candle"
)

// Direction is the classified trend direction. Sideways markets collapse
// into a weak up or down call.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

const (
	// strength normalization caps, in percent spread between MA5 and MA20
	confidentCap = 15.0
	fallbackCap  = 10.0
	// strength above which a confidently classified trend earns a "strong" label
	strongThreshold = 0.7
)

// Snapshot is the per-cycle view of the reference asset's trend.
type Snapshot struct {
	Direction   Direction
	Strength    float64
	IsUptrend   bool
	IsDowntrend bool
	Signal      string

	CurrentPrice float64
	MA5          float64
	MA20         float64
	MA60         float64
	Change1d     float64
	Change7d     float64
	Change30d    float64
}

// CandleSource supplies the reference asset's candles.
type CandleSource interface {
	Candles(market string, interval candle.Interval, count int) (candle.Series, error)
}

// Classifier fetches the reference series and classifies its trend.
type Classifier struct {
	data   CandleSource
	market string
	log    zerolog.Logger
}

// NewClassifier builds a classifier for the given reference market.
func NewClassifier(data CandleSource, market string, log zerolog.Logger) *Classifier {
	return &Classifier{data: data, market: market, log: log}
}

// Analyze fetches up to 60 daily bars and classifies the trend. The error is
// the "cannot score this cycle" signal and must stop the ranking run.
func (c *Classifier) Analyze() (*Snapshot, error) {
	series, err := c.data.Candles(c.market, candle.Day, 60)
	if err != nil {
		return nil, fmt.Errorf("fetch %s candles: %w", c.market, err)
	}
	snap := Classify(series)
	if snap == nil {
		return nil, fmt.Errorf("insufficient %s history: %d bars", c.market, series.Len())
	}
	c.log.Info().
		Str("direction", string(snap.Direction)).
		Float64("strength", snap.Strength).
		Str("signal", snap.Signal).
		Msg("reference trend classified")
	return snap, nil
}

// Classify derives a trend snapshot from the series alone. Returns nil when
// fewer than 20 bars are available. With fewer than 60 bars the long average
// falls back to MA20, which weakens the multi-average confirmation.
func Classify(s candle.Series) *Snapshot {
	if s.Len() < 20 {
		return nil
	}
	closes := s.Closes()
	current := closes[len(closes)-1]

	ma5 := candle.SMA(closes, 5)
	ma20 := candle.SMA(closes, 20)
	ma60 := ma20
	if len(closes) >= 60 {
		ma60 = candle.SMA(closes, 60)
	}

	snap := &Snapshot{
		CurrentPrice: current,
		MA5:          ma5,
		MA20:         ma20,
		MA60:         ma60,
		Change1d:     changePercent(closes, 1),
		Change7d:     changePercent(closes, 7),
		Change30d:    changePercent(closes, 30),
	}

	spread := 0.0
	if ma20 > 0 {
		spread = (ma5 - ma20) / ma20 * 100
	}

	switch {
	case ma5 > ma20 && ma20 > ma60 && current > ma5:
		snap.Direction = Up
		snap.IsUptrend = true
		snap.Strength = capStrength(spread, confidentCap)
	case ma5 < ma20 && ma20 < ma60 && current < ma5:
		snap.Direction = Down
		snap.IsDowntrend = true
		snap.Strength = capStrength(spread, confidentCap)
	default:
		// averages disagree: call the direction from MA5 vs MA20 alone at
		// half confidence
		if ma5 >= ma20 {
			snap.Direction = Up
			snap.Strength = capStrength(spread, fallbackCap) * 0.5
		} else {
			snap.Direction = Down
			snap.Strength = capStrength(spread, fallbackCap) * 0.5
		}
	}

	snap.Signal = label(snap)
	return snap
}

func label(s *Snapshot) string {
	confident := s.IsUptrend || s.IsDowntrend
	switch {
	case s.Direction == Up && confident && s.Strength > strongThreshold:
		return "strong-up"
	case s.Direction == Up:
		return "up"
	case confident && s.Strength > strongThreshold:
		return "strong-down"
	default:
		return "down"
	}
}

func capStrength(spread, cap float64) float64 {
	if spread < 0 {
		spread = -spread
	}
	if spread > cap {
		spread = cap
	}
	return spread / cap
}

func changePercent(closes []float64, days int) float64 {
	idx := len(closes) - 1 - days
	if idx < 0 {
		return 0
	}
	base := closes[idx]
	if base == 0 {
		return 0
	}
	return (closes[len(closes)-1] - base) / base * 100
}
