// Package score turns indicator bundles, large-trade flow, and surge
// analysis into one weighted buy score per market, then ranks the whole
// exchange under the current reference-asset regime.
package score

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"coinscout-go/internal/candle"
	"coinscout-go/internal/config"
	"coinscout-go/internal/indicator"
	"coinscout-go/internal/metrics"
	"coinscout-go/internal/regime"
	"coinscout-go/internal/surge"
	"coinscout-go/internal/whale"
)

// ranking thresholds per regime; the uptrend keeps everything
const (
	thresholdDowntrend = 0.65
	thresholdWeak      = 0.55
)

// neutralScore stands in for whale and surge factors when no data exists.
const neutralScore = 0.3

// correlation needs at least this many paired daily returns.
const minCorrelationPoints = 10

// scoreCandleCount is the daily history fetched per market when ranking.
const scoreCandleCount = 200

// MarketData is the exchange surface the scorer needs.
type MarketData interface {
	Markets(quote string) ([]string, error)
	Candles(market string, interval candle.Interval, count int) (candle.Series, error)
	CurrentPrice(market string) (float64, error)
	FilterByVolume(markets []string, minVolume float64) ([]string, error)
}

// WhaleSource yields large-trade flow for a market, nil when none observed.
type WhaleSource interface {
	Analyze(market string) *whale.Activity
}

// SurgeSource yields a surge analysis for a market.
type SurgeSource interface {
	Analyze(market string) (*surge.Analysis, error)
}

// Result is one market's full scoring breakdown.
type Result struct {
	Market     string
	TotalScore float64
	BaseScore  float64
	Multiplier float64

	RSIScore       float64
	MACDScore      float64
	BollingerScore float64
	MAScore        float64
	VolumeScore    float64
	BTCScore       float64
	WhaleScore     float64
	SurgeScore     float64

	Correlation      *float64
	RelativeStrength *float64
	CurrentPrice     float64

	Indicators    indicator.Bundle
	WhaleActivity *whale.Activity
	SurgeAnalysis *surge.Analysis
}

// Option configures optional scorer inputs.
type Option func(*Scorer)

// WithWhaleSource attaches a large-trade flow source.
func WithWhaleSource(w WhaleSource) Option {
	return func(s *Scorer) { s.whales = w }
}

// WithSurgeSource attaches a surge analyzer.
func WithSurgeSource(sa SurgeSource) Option {
	return func(s *Scorer) { s.surges = sa }
}

// Scorer computes weighted buy scores and exchange-wide rankings. The data
// source may be nil for offline use, which disables the correlation and
// relative-strength factors.
type Scorer struct {
	data       MarketData
	classifier *regime.Classifier
	cfg        *config.Config
	log        zerolog.Logger

	whales WhaleSource
	surges SurgeSource
}

// NewScorer builds a scorer. Whale and surge sources are optional; markets
// score with a neutral reading for the missing factors.
func NewScorer(data MarketData, classifier *regime.Classifier, cfg *config.Config, log zerolog.Logger, opts ...Option) *Scorer {
	s := &Scorer{data: data, classifier: classifier, cfg: cfg, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score computes the weighted score for one market from a precomputed
// indicator bundle. A nil regime snapshot applies the cautious sideways
// multiplier.
func (s *Scorer) Score(market string, bundle indicator.Bundle, snap *regime.Snapshot) Result {
	res := Result{
		Market:         market,
		Indicators:     bundle,
		RSIScore:       rsiScore(bundle.RSI, s.cfg.Indicators),
		MACDScore:      macdScore(bundle.MACD),
		BollingerScore: bollingerScore(bundle.Bollinger),
		MAScore:        maScore(bundle.MovingAverages),
		WhaleScore:     neutralScore,
		SurgeScore:     neutralScore,
	}

	if s.whales != nil {
		if act := s.whales.Analyze(market); act != nil {
			res.WhaleActivity = act
			res.WhaleScore = act.Score
		}
	}
	if s.surges != nil {
		if sa, err := s.surges.Analyze(market); err == nil && sa != nil {
			res.SurgeAnalysis = sa
			res.SurgeScore = sa.TotalScore
		} else if err != nil {
			s.log.Debug().Err(err).Str("market", market).Msg("surge analysis unavailable")
		}
	}
	if s.data != nil && snap != nil {
		res.Correlation = s.correlation(market)
		res.RelativeStrength = s.relativeStrength(market, snap)
		if res.RelativeStrength != nil {
			res.BTCScore = *res.RelativeStrength
		}
	}

	if bundle.Volume != nil {
		res.VolumeScore = volumeScore(bundle.Volume.Ratio)
	}
	// an already-elevated volume reading earns a small extra push
	if res.VolumeScore >= 0.6 {
		res.VolumeScore = math.Min(1.0, res.VolumeScore+(res.VolumeScore-0.6)*0.5)
	}

	res.BaseScore = s.weighted(res)
	res.Multiplier = Multiplier(snap)
	res.TotalScore = res.BaseScore * res.Multiplier
	return res
}

// weighted folds the factor scores with configured weights. The volume weight
// is boosted half again and the denominator renormalized so the total stays
// in [0, 1].
func (s *Scorer) weighted(r Result) float64 {
	w := s.cfg.Weights
	volumeWeight := w.Volume * 1.5
	total := w.RSI + w.MACD + w.Bollinger + w.MovingAverages + volumeWeight +
		w.BTCCorrelation + w.Whale + w.Surge
	if total == 0 {
		return 0
	}
	sum := r.RSIScore*w.RSI +
		r.MACDScore*w.MACD +
		r.BollingerScore*w.Bollinger +
		r.MAScore*w.MovingAverages +
		r.VolumeScore*volumeWeight +
		r.BTCScore*w.BTCCorrelation +
		r.WhaleScore*w.Whale +
		r.SurgeScore*w.Surge
	return sum / total
}

// Multiplier converts the regime snapshot into the score multiplier. Strong
// downtrends crush scores toward 0.2, uptrends lift them slightly, and an
// unknown regime is treated as cautious sideways.
func Multiplier(snap *regime.Snapshot) float64 {
	if snap == nil {
		return 0.85
	}
	switch {
	case snap.IsDowntrend:
		return math.Max(0.2, 1-snap.Strength*0.8)
	case snap.IsUptrend:
		return math.Min(1.15, 1+snap.Strength*0.15)
	default:
		return 0.85
	}
}

// Rank classifies the reference trend, scans every tradable market over the
// volume floor, and returns the top scorers for the regime.
func (s *Scorer) Rank(topN int) ([]Result, *regime.Snapshot, error) {
	if s.data == nil {
		return nil, nil, fmt.Errorf("ranking requires a market data source")
	}
	snap, err := s.classifier.Analyze()
	if err != nil {
		return nil, nil, fmt.Errorf("classify reference trend: %w", err)
	}

	markets, err := s.data.Markets(s.cfg.Exchange.QuoteCcy)
	if err != nil {
		return nil, nil, fmt.Errorf("list markets: %w", err)
	}
	filtered := markets[:0]
	for _, m := range markets {
		if m != s.cfg.Exchange.ReferenceMkt {
			filtered = append(filtered, m)
		}
	}
	liquid, err := s.data.FilterByVolume(filtered, s.cfg.Exchange.MinVolume24h)
	if err != nil {
		return nil, nil, fmt.Errorf("filter by volume: %w", err)
	}
	s.log.Info().Int("markets", len(liquid)).Str("signal", snap.Signal).Msg("scanning markets")

	agg := indicator.NewAggregator(s.cfg.Indicators)
	results := make([]Result, 0, len(liquid))
	for _, market := range liquid {
		series, err := s.data.Candles(market, candle.Day, scoreCandleCount)
		if err != nil {
			s.log.Warn().Err(err).Str("market", market).Msg("skipping market, candles unavailable")
			continue
		}
		if series.Len() < s.cfg.Indicators.MAMedium {
			continue
		}
		res := s.Score(market, agg.Compute(series), snap)
		if price, err := s.data.CurrentPrice(market); err == nil {
			res.CurrentPrice = price
		} else {
			res.CurrentPrice = series.Close()
		}
		metrics.MarketsScanned.Inc()
		results = append(results, res)
	}

	threshold := rankThreshold(snap)
	kept := results[:0]
	for _, r := range results {
		if r.TotalScore >= threshold {
			kept = append(kept, r)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].TotalScore > kept[j].TotalScore })
	if topN > 0 && len(kept) > topN {
		kept = kept[:topN]
	}
	return kept, snap, nil
}

// rankThreshold returns the minimum total score a market must clear to be
// recommended under the given regime.
func rankThreshold(snap *regime.Snapshot) float64 {
	switch {
	case snap == nil:
		return thresholdWeak
	case snap.IsDowntrend:
		return thresholdDowntrend
	case snap.IsUptrend:
		return 0
	default:
		return thresholdWeak
	}
}

// correlation is the Pearson correlation between the market's and the
// reference asset's daily returns over the last 30 days. Nil when either
// series is too short.
func (s *Scorer) correlation(market string) *float64 {
	series, err := s.data.Candles(market, candle.Day, 30)
	if err != nil {
		return nil
	}
	ref, err := s.data.Candles(s.cfg.Exchange.ReferenceMkt, candle.Day, 30)
	if err != nil {
		return nil
	}
	a := returns(series.Closes())
	b := returns(ref.Closes())
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < minCorrelationPoints {
		return nil
	}
	a, b = a[len(a)-n:], b[len(b)-n:]

	meanA, meanB := meanOf(a), meanOf(b)
	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return nil
	}
	corr := cov / math.Sqrt(varA*varB)
	return &corr
}

// relativeStrength maps the market's 7-day performance relative to the
// reference asset onto [0, 1], 0.5 meaning they moved together.
func (s *Scorer) relativeStrength(market string, snap *regime.Snapshot) *float64 {
	series, err := s.data.Candles(market, candle.Day, 8)
	if err != nil || series.Len() < 8 {
		return nil
	}
	closes := series.Closes()
	base := closes[len(closes)-8]
	if base == 0 {
		return nil
	}
	change := (closes[len(closes)-1] - base) / base * 100

	rs := 0.5
	if snap.Change7d != 0 {
		diff := change - snap.Change7d
		rs = math.Max(0, math.Min(1, (diff+20)/40))
	}
	return &rs
}

func rsiScore(rsi *float64, cfg config.Indicators) float64 {
	if rsi == nil {
		return 0
	}
	switch {
	case *rsi <= cfg.RSIOversold:
		return 1.0
	case *rsi >= cfg.RSIOverbought:
		return 0.0
	default:
		return (cfg.RSIOverbought - *rsi) / (cfg.RSIOverbought - cfg.RSIOversold)
	}
}

func macdScore(m *indicator.MACD) float64 {
	if m == nil {
		return 0
	}
	switch {
	case m.MACD > m.Signal && m.Histogram > 0:
		if m.Signal == 0 {
			// nothing to normalize the histogram against
			return 0.7
		}
		return 0.5 + math.Min(math.Abs(m.Histogram/m.Signal)/2, 0.5)
	case m.MACD > m.Signal:
		return 0.3
	case m.MACD < m.Signal && m.Histogram < 0:
		return 0.0
	default:
		return 0.1
	}
}

func bollingerScore(b *indicator.Bollinger) float64 {
	if b == nil {
		return 0
	}
	switch {
	case b.Position <= 0.2:
		return 1.0
	case b.Position >= 0.8:
		return 0.0
	default:
		return 1.0 - b.Position
	}
}

func maScore(ma *indicator.MovingAverages) float64 {
	if ma == nil || ma.Short == nil || ma.Medium == nil {
		return 0
	}
	score := ma.AlignmentScore * 0.6
	if ma.CurrentPrice > *ma.Short {
		score += 0.4
	}
	return score
}

func volumeScore(ratio float64) float64 {
	switch {
	case ratio >= 2.0:
		return 1.0
	case ratio >= 1.5:
		return 0.8
	case ratio >= 1.0:
		return 0.5
	default:
		return math.Max(0, ratio-0.5)
	}
}

func returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (closes[i]-closes[i-1])/closes[i-1])
	}
	return out
}

func meanOf(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
