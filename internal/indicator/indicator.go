// Package indicator reduces a candle series to a bundle of named technical
// indicator readings. Every computation is a pure function of the input
// window; a nil field means the series was too short for that indicator.
package indicator

import (
	"math"

	"coinscout-go/internal/candle"
	"coinscout-go/internal/config"
)

// volume ratio always compares against a 20-bar trailing average.
const volumeWindow = 20

// MACD carries the MACD line, its signal line, and the histogram.
type MACD struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// Bollinger carries band prices and the close's position inside the band,
// 0 at the lower band and 1 at the upper.
type Bollinger struct {
	Upper    float64
	Middle   float64
	Lower    float64
	Position float64
}

// MovingAverages carries the three SMA readings. Individual averages are nil
// when the series is shorter than their window.
type MovingAverages struct {
	Short          *float64
	Medium         *float64
	Long           *float64
	CurrentPrice   float64
	AlignmentScore float64
}

// Volume compares the latest bar volume against its trailing average.
type Volume struct {
	Current float64
	Average float64
	Ratio   float64
}

// Bundle is the per-series indicator snapshot consumed by the scorer and the
// risk engine. Nil fields mean insufficient history, not zero readings.
type Bundle struct {
	RSI            *float64
	MACD           *MACD
	Bollinger      *Bollinger
	MovingAverages *MovingAverages
	Volume         *Volume
}

// Aggregator computes indicator bundles using configured window sizes.
type Aggregator struct {
	cfg config.Indicators
}

// NewAggregator builds an aggregator from indicator configuration.
func NewAggregator(cfg config.Indicators) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// Compute derives every indicator from the series. Fields the series is too
// short for come back nil.
func (a *Aggregator) Compute(s candle.Series) Bundle {
	closes := s.Closes()
	return Bundle{
		RSI:            RSI(closes, a.cfg.RSIPeriod),
		MACD:           ComputeMACD(closes, a.cfg.MACDFast, a.cfg.MACDSlow, a.cfg.MACDSignal),
		Bollinger:      ComputeBollinger(closes, a.cfg.BBPeriod, a.cfg.BBStdDev),
		MovingAverages: ComputeMovingAverages(closes, a.cfg.MAShort, a.cfg.MAMedium, a.cfg.MALong),
		Volume:         ComputeVolume(s.Volumes()),
	}
}

// RSI returns the Wilder-smoothed relative strength index of the final bar,
// or nil when fewer than period+1 closes are available. A perfectly flat
// window reads as neutral 50.
func RSI(closes []float64, period int) *float64 {
	if period <= 0 || len(closes) <= period {
		return nil
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		diff := closes[i] - closes[i-1]
		if diff > 0 {
			avgGain += diff
		} else {
			avgLoss -= diff
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	for i := period + 1; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		var gain, loss float64
		if diff > 0 {
			gain = diff
		} else {
			loss = -diff
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}
	var rsi float64
	switch {
	case avgGain == 0 && avgLoss == 0:
		rsi = 50
	case avgLoss == 0:
		rsi = 100
	default:
		rs := avgGain / avgLoss
		rsi = 100 - 100/(1+rs)
	}
	return &rsi
}

// ComputeMACD returns the MACD line, signal line, and histogram for the final
// bar, or nil when fewer than slow closes are available.
func ComputeMACD(closes []float64, fast, slow, signal int) *MACD {
	if fast <= 0 || slow <= fast || len(closes) < slow {
		return nil
	}
	fastEMA := emaSeries(closes, fast)
	slowEMA := emaSeries(closes, slow)

	macdLine := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		macdLine = append(macdLine, fastEMA[i]-slowEMA[i])
	}

	var signalVal float64
	if signal > 0 && len(macdLine) >= signal {
		sig := emaSeries(macdLine, signal)
		signalVal = sig[len(sig)-1]
	} else {
		// not enough MACD points to seed a signal EMA; fall back to the mean
		var sum float64
		for _, v := range macdLine {
			sum += v
		}
		signalVal = sum / float64(len(macdLine))
	}

	macdVal := macdLine[len(macdLine)-1]
	return &MACD{
		MACD:      macdVal,
		Signal:    signalVal,
		Histogram: macdVal - signalVal,
	}
}

// emaSeries computes an exponential moving average seeded with the simple
// average of the first period values. Entries before index period-1 are
// unset and must not be read.
func emaSeries(vals []float64, period int) []float64 {
	out := make([]float64, len(vals))
	var seed float64
	for _, v := range vals[:period] {
		seed += v
	}
	out[period-1] = seed / float64(period)
	k := 2.0 / float64(period+1)
	for i := period; i < len(vals); i++ {
		out[i] = vals[i]*k + out[i-1]*(1-k)
	}
	return out
}

// ComputeBollinger returns band prices around an SMA with stdDev standard
// deviations, or nil when fewer than period closes are available. Position
// reads 0.5 when the bands collapse.
func ComputeBollinger(closes []float64, period int, stdDev float64) *Bollinger {
	if period <= 0 || len(closes) < period {
		return nil
	}
	window := closes[len(closes)-period:]
	middle := candle.SMA(closes, period)
	var variance float64
	for _, v := range window {
		d := v - middle
		variance += d * d
	}
	sigma := math.Sqrt(variance / float64(period))

	upper := middle + stdDev*sigma
	lower := middle - stdDev*sigma
	current := closes[len(closes)-1]

	position := 0.5
	if upper != lower {
		position = (current - lower) / (upper - lower)
	}
	return &Bollinger{Upper: upper, Middle: middle, Lower: lower, Position: position}
}

// ComputeMovingAverages returns short/medium/long SMAs with an alignment
// score: 0.5 for short above medium plus 0.5 for medium above long.
func ComputeMovingAverages(closes []float64, short, medium, long int) *MovingAverages {
	if len(closes) == 0 {
		return nil
	}
	ma := &MovingAverages{CurrentPrice: closes[len(closes)-1]}
	if len(closes) >= short {
		v := candle.SMA(closes, short)
		ma.Short = &v
	}
	if len(closes) >= medium {
		v := candle.SMA(closes, medium)
		ma.Medium = &v
	}
	if len(closes) >= long {
		v := candle.SMA(closes, long)
		ma.Long = &v
	}
	if ma.Short != nil && ma.Medium != nil {
		if *ma.Short > *ma.Medium {
			ma.AlignmentScore += 0.5
		}
		if ma.Long != nil && *ma.Medium > *ma.Long {
			ma.AlignmentScore += 0.5
		}
	}
	return ma
}

// ComputeVolume compares the last bar's volume to its trailing 20-bar
// average, or nil when fewer than 20 bars are available.
func ComputeVolume(volumes []float64) *Volume {
	if len(volumes) < volumeWindow {
		return nil
	}
	current := volumes[len(volumes)-1]
	average := candle.SMA(volumes, volumeWindow)
	ratio := 1.0
	if average > 0 {
		ratio = current / average
	}
	return &Volume{Current: current, Average: average, Ratio: ratio}
}
