// Package surge estimates short-horizon breakout potential from intraday
// volume, momentum, chart pattern, and Fibonacci retracement structure.
package surge

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"coinscout-go/internal/candle"
)

// fixed blend weights for the four sub-analyses
const (
	weightVolume    = 0.30
	weightMomentum  = 0.25
	weightBreakout  = 0.20
	weightFibonacci = 0.25
)

// fibRatios are the standard retracement ratios plus the two extensions.
var fibRatios = []float64{0, 0.236, 0.382, 0.5, 0.618, 0.786, 1.0, 1.272, 1.618}

// VolumeSurge compares the last bar's volume against several trailing averages.
type VolumeSurge struct {
	Score    float64
	MaxRatio float64
}

// Momentum captures recent percent change and its acceleration.
type Momentum struct {
	Score        float64
	Recent       float64
	Acceleration float64
}

// Breakout detects proximity to recent highs, triangle consolidation, and
// volume-confirmed pushes.
type Breakout struct {
	Score              float64
	PricePosition      float64
	ResistanceBreakout float64
	TrianglePattern    float64
	VolumeIncrease     float64
}

// Fibonacci scores support at retracement levels and breaks of the
// extension levels, computed on a swing from a trailing window.
type Fibonacci struct {
	Score         float64
	SupportScore  float64
	BreakoutScore float64
	SwingHigh     float64
	SwingLow      float64
	NearestRatio  float64
	NearestLevel  float64
	Pullback      bool
}

// Analysis is the combined surge estimate for one market.
type Analysis struct {
	TotalScore   float64
	Volume       VolumeSurge
	Momentum     Momentum
	Breakout     Breakout
	Fibonacci    Fibonacci
	CurrentPrice float64
}

// CandleSource supplies the intraday and daily candles the analyzer needs.
type CandleSource interface {
	Candles(market string, interval candle.Interval, count int) (candle.Series, error)
}

// Analyzer runs the four sub-analyses against fresh candle data.
type Analyzer struct {
	data CandleSource
	log  zerolog.Logger
}

// NewAnalyzer builds a surge analyzer.
func NewAnalyzer(data CandleSource, log zerolog.Logger) *Analyzer {
	return &Analyzer{data: data, log: log}
}

// Analyze fetches one hour of 1-minute bars (plus 60 daily bars for the
// Fibonacci swing) and blends the four sub-scores.
func (a *Analyzer) Analyze(market string) (*Analysis, error) {
	intraday, err := a.data.Candles(market, candle.Minute1, 60)
	if err != nil {
		return nil, fmt.Errorf("fetch %s minute candles: %w", market, err)
	}
	if intraday.Len() == 0 {
		return nil, fmt.Errorf("no minute candles for %s", market)
	}

	analysis := &Analysis{
		Volume:       AnalyzeVolumeSurge(intraday, []int{5, 15, 30, 60}),
		Momentum:     AnalyzeMomentum(intraday),
		Breakout:     AnalyzeBreakout(intraday),
		CurrentPrice: intraday.Close(),
	}

	// daily bars give more reliable swing points for the retracement grid
	if daily, err := a.data.Candles(market, candle.Day, 60); err == nil && daily.Len() > 0 {
		analysis.Fibonacci = AnalyzeFibonacci(daily)
	} else if err != nil {
		a.log.Warn().Err(err).Str("market", market).Msg("daily candles unavailable, skipping fibonacci")
	}

	analysis.TotalScore = analysis.Volume.Score*weightVolume +
		analysis.Momentum.Score*weightMomentum +
		analysis.Breakout.Score*weightBreakout +
		analysis.Fibonacci.Score*weightFibonacci
	return analysis, nil
}

// AnalyzeVolumeSurge rates the last bar's volume against trailing averages
// over each period, keeping the highest ratio.
func AnalyzeVolumeSurge(s candle.Series, periods []int) VolumeSurge {
	maxPeriod := 0
	for _, p := range periods {
		if p > maxPeriod {
			maxPeriod = p
		}
	}
	if s.Len() < maxPeriod {
		return VolumeSurge{}
	}

	volumes := s.Volumes()
	current := volumes[len(volumes)-1]
	maxRatio := 1.0
	for _, p := range periods {
		if len(volumes) < p {
			continue
		}
		avg := candle.SMA(volumes, p)
		ratio := 1.0
		if avg > 0 {
			ratio = current / avg
		}
		if ratio > maxRatio {
			maxRatio = ratio
		}
	}

	var score float64
	switch {
	case maxRatio >= 5.0:
		score = 1.0
	case maxRatio >= 3.0:
		score = 0.8
	case maxRatio >= 2.0:
		score = 0.6
	case maxRatio >= 1.5:
		score = 0.4
	default:
		score = math.Max(0, (maxRatio-1.0)*0.8)
	}
	return VolumeSurge{Score: score, MaxRatio: maxRatio}
}

// AnalyzeMomentum rates recent percent change and whether the short horizon
// is accelerating relative to the long one.
func AnalyzeMomentum(s candle.Series) Momentum {
	if s.Len() < 10 {
		return Momentum{}
	}
	closes := s.Closes()
	current := closes[len(closes)-1]

	change := func(period int) (float64, bool) {
		idx := len(closes) - 1 - period
		if idx < 0 || closes[idx] == 0 {
			return 0, false
		}
		return (current - closes[idx]) / closes[idx] * 100, true
	}

	short, _ := change(1)
	recent, _ := change(5)
	long, hasLong := change(30)

	var acceleration float64
	if hasLong && math.Abs(long) > 0.1 {
		acceleration = short / math.Abs(long)
	}

	var score float64
	switch {
	case recent > 5.0 && acceleration > 1.2:
		score = 1.0
	case recent > 3.0 && acceleration > 1.0:
		score = 0.8
	case recent > 1.0:
		score = 0.6
	case recent > 0:
		score = 0.4
	default:
		score = math.Max(0, (recent+5)/10)
	}
	return Momentum{Score: score, Recent: recent, Acceleration: acceleration}
}

// AnalyzeBreakout looks for resistance breaks, triangle consolidation near
// the top of the range, and volume-backed pushes over the last 20 bars.
func AnalyzeBreakout(s candle.Series) Breakout {
	if s.Len() < 20 {
		return Breakout{}
	}
	highs := s.Highs()
	lows := s.Lows()
	volumes := s.Volumes()
	current := s.Close()

	recentHigh := maxOf(highs[len(highs)-20:])
	recentLow := minOf(lows[len(lows)-20:])
	priceRange := recentHigh - recentLow
	if priceRange == 0 {
		return Breakout{}
	}
	out := Breakout{PricePosition: (current - recentLow) / priceRange}

	switch {
	case current >= recentHigh*0.98:
		out.ResistanceBreakout = 1.0
	case current >= recentHigh*0.95:
		out.ResistanceBreakout = 0.7
	}

	earlyHighs := mean(highs[len(highs)-20 : len(highs)-10])
	lateHighs := mean(highs[len(highs)-10:])
	earlyLows := mean(lows[len(lows)-20 : len(lows)-10])
	lateLows := mean(lows[len(lows)-10:])
	if lateHighs < earlyHighs && lateLows > earlyLows && out.PricePosition > 0.7 {
		out.TrianglePattern = 0.8
	}

	recentVol := mean(volumes[len(volumes)-5:])
	pastVol := mean(volumes[len(volumes)-10 : len(volumes)-5])
	if pastVol > 0 {
		ratio := recentVol / pastVol
		if ratio > 1.5 && out.PricePosition > 0.6 {
			out.VolumeIncrease = math.Min(1.0, (ratio-1.5)*0.5)
		}
	}

	out.Score = math.Max(out.ResistanceBreakout, math.Max(out.TrianglePattern, out.VolumeIncrease))
	return out
}

// AnalyzeFibonacci grades support at retracement levels (in a pullback) and
// breaks above the 1.272/1.618 extensions, using the swing from the last 30
// bars.
func AnalyzeFibonacci(s candle.Series) Fibonacci {
	if s.Len() < 30 {
		return Fibonacci{}
	}
	highs := s.Highs()
	lows := s.Lows()
	current := s.Close()

	window := 30
	highWindow := highs[len(highs)-window:]
	lowWindow := lows[len(lows)-window:]
	swingHigh := maxOf(highWindow)
	swingLow := minOf(lowWindow)

	highPos := lastIndexOf(highWindow, swingHigh)
	lowPos := lastIndexOf(lowWindow, swingLow)
	// high after low means the move up came first and price is retracing
	pullback := highPos > lowPos

	priceRange := swingHigh - swingLow
	levels := make(map[float64]float64, len(fibRatios))
	for _, r := range fibRatios {
		switch {
		case r <= 1.0:
			levels[r] = swingLow + priceRange*r
		default:
			levels[r] = swingHigh + priceRange*(r-1.0)
		}
	}

	out := Fibonacci{SwingHigh: swingHigh, SwingLow: swingLow, Pullback: pullback}

	minDistance := math.Inf(1)
	for _, r := range fibRatios {
		level := levels[r]
		if level == 0 {
			continue
		}
		d := math.Abs(current-level) / level
		if d < minDistance {
			minDistance = d
			out.NearestRatio = r
			out.NearestLevel = level
		}
	}

	for _, r := range []float64{0.382, 0.5, 0.618} {
		level := levels[r]
		if level == 0 {
			continue
		}
		distPct := math.Abs(current-level) / level * 100
		if distPct >= 1.0 {
			continue
		}
		if pullback && r <= 0.618 {
			out.SupportScore = math.Max(out.SupportScore, 1.0-r)
		}
		if current > level*1.01 {
			out.BreakoutScore = math.Max(out.BreakoutScore, 0.8)
		} else if current > level*0.99 {
			out.BreakoutScore = math.Max(out.BreakoutScore, 0.5)
		}
	}

	// a hold at the golden ratio is an especially strong signal
	golden := levels[0.618]
	if golden > 0 && math.Abs(current-golden)/golden < 0.01 && pullback && current >= golden {
		out.SupportScore = math.Max(out.SupportScore, 0.9)
	}

	if current > levels[1.272] {
		out.BreakoutScore = math.Max(out.BreakoutScore, 0.9)
	}
	if current > levels[1.618] {
		out.BreakoutScore = math.Max(out.BreakoutScore, 1.0)
	}

	out.Score = math.Max(out.SupportScore, out.BreakoutScore)
	return out
}

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func lastIndexOf(vals []float64, target float64) int {
	idx := 0
	for i, v := range vals {
		if v == target {
			idx = i
		}
	}
	return idx
}
