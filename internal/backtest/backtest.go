// Package backtest replays the scoring and risk pipeline over historical
// daily candles with no lookahead and accounts every partial exit.
package backtest

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"coinscout-go/internal/candle"
	"coinscout-go/internal/config"
	"coinscout-go/internal/indicator"
	"coinscout-go/internal/regime"
	"coinscout-go/internal/risk"
	"coinscout-go/internal/score"
)

// warmupBars of history must exist before the first scored bar.
const warmupBars = 60

// entryThreshold is the minimum total score that opens a simulated position.
const entryThreshold = 0.6

// CandleSource supplies historical candles.
type CandleSource interface {
	Candles(market string, interval candle.Interval, count int) (candle.Series, error)
}

// TradeRecorder receives every closed trade leg, for example a JSONL sink.
type TradeRecorder interface {
	Record(trade Trade)
}

// Trade is one closed leg of a simulated position.
type Trade struct {
	Market        string    `json:"market"`
	EntryDate     time.Time `json:"entry_date"`
	ExitDate      time.Time `json:"exit_date"`
	EntryPrice    float64   `json:"entry_price"`
	ExitPrice     float64   `json:"exit_price"`
	PositionSize  float64   `json:"position_size"`
	EntryValue    float64   `json:"entry_value"`
	ExitValue     float64   `json:"exit_value"`
	Profit        float64   `json:"profit"`
	ProfitPercent float64   `json:"profit_percent"`
	ExitReason    string    `json:"exit_reason"`
}

// Result aggregates one market's simulation.
type Result struct {
	Market        string
	StartDate     time.Time
	EndDate       time.Time
	StartCapital  float64
	FinalCapital  float64
	TotalReturn   float64
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	TotalProfit   float64
	AvgProfit     float64
	Trades        []Trade
}

// Summary aggregates a multi-market run.
type Summary struct {
	Results      []Result
	StartCapital float64
	FinalCapital float64
	TotalReturn  float64
}

// Option configures optional backtester behavior.
type Option func(*Backtester)

// WithTradeRecorder streams every closed leg into the recorder.
func WithTradeRecorder(r TradeRecorder) Option {
	return func(b *Backtester) { b.recorder = r }
}

// Backtester replays the pipeline bar by bar. The scorer runs without live
// data sources, so whale and surge factors sit at their neutral readings and
// only the indicator-driven factors move.
type Backtester struct {
	data      CandleSource
	cfg       *config.Config
	scorer    *score.Scorer
	engine    *risk.Engine
	agg       *indicator.Aggregator
	reference string
	recorder  TradeRecorder
	log       zerolog.Logger
}

// New builds a backtester.
func New(data CandleSource, cfg *config.Config, log zerolog.Logger, opts ...Option) *Backtester {
	b := &Backtester{
		data:      data,
		cfg:       cfg,
		scorer:    score.NewScorer(nil, nil, cfg, log),
		engine:    risk.NewEngine(cfg.Risk),
		agg:       indicator.NewAggregator(cfg.Indicators),
		reference: cfg.Exchange.ReferenceMkt,
		log:       log,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run simulates one market over the inclusive date range. At each bar the
// prefix series is scored against the reference trend; when the score clears
// the threshold outside a downtrend a position fills at the plan's suggested
// entry price, then exits through the stop or the take-profit ladder on later
// bars. Any remainder still open at the end is marked to the last close.
func (b *Backtester) Run(market string, start, end time.Time, capital float64) (*Result, error) {
	days := int(end.Sub(start).Hours()/24) + 1
	if days <= 0 {
		return nil, fmt.Errorf("end date before start date")
	}
	count := days + 100

	series, err := b.data.Candles(market, candle.Day, count)
	if err != nil {
		return nil, fmt.Errorf("fetch %s candles: %w", market, err)
	}
	refSeries, err := b.data.Candles(b.reference, candle.Day, count)
	if err != nil {
		return nil, fmt.Errorf("fetch %s candles: %w", b.reference, err)
	}
	series = series.Between(start.AddDate(0, 0, -warmupBars-40), end)
	refSeries = refSeries.Between(start.AddDate(0, 0, -warmupBars-40), end)
	if series.Len() <= warmupBars {
		return nil, fmt.Errorf("insufficient history for %s: %d bars", market, series.Len())
	}

	res := &Result{
		Market:       market,
		StartDate:    start,
		EndDate:      end,
		StartCapital: capital,
	}
	cash := capital

	var open *openPosition
	for i := warmupBars; i < series.Len(); i++ {
		bar := series[i]
		if bar.Timestamp.Before(start) {
			continue
		}
		window := series.Truncate(i)

		if open != nil {
			exits := open.update(bar)
			for _, t := range exits {
				cash += t.ExitValue
				res.record(t)
				b.emit(t)
			}
			if open.remaining <= 0 {
				open = nil
			}
			continue
		}

		snap := referenceSnapshot(refSeries, bar.Timestamp)
		result := b.scorer.Score(market, b.agg.Compute(window), snap)
		if result.TotalScore < entryThreshold {
			continue
		}
		if snap != nil && snap.IsDowntrend {
			continue
		}

		params := b.engine.Compute(bar.Close, result.Indicators, cash, snap)
		if params.PositionSize <= 0 {
			continue
		}
		if params.PositionValue > cash {
			continue
		}
		// the fill, the stop, and the ladder all anchor to the plan's
		// suggested entry so the booked legs keep its geometry
		cash -= params.PositionValue
		open = &openPosition{
			market:     market,
			entryDate:  bar.Timestamp,
			entryPrice: params.EntryPrice,
			size:       params.PositionSize,
			remaining:  params.PositionSize,
			stop:       params.StopLossPrice,
			levels:     params.TakeProfitLevels,
		}
	}

	if open != nil && open.remaining > 0 {
		last := series.Last()
		t := open.exit(last.Timestamp, last.Close, open.remaining, "end of period")
		cash += t.ExitValue
		res.record(t)
		b.emit(t)
	}

	res.FinalCapital = cash
	res.TotalReturn = (cash - capital) / capital * 100
	if res.TotalTrades > 0 {
		res.WinRate = float64(res.WinningTrades) / float64(res.TotalTrades) * 100
		res.AvgProfit = res.TotalProfit / float64(res.TotalTrades)
	}
	return res, nil
}

// RunMany simulates each market independently from the same starting capital
// and sums the results.
func (b *Backtester) RunMany(markets []string, start, end time.Time, capital float64) (*Summary, error) {
	summary := &Summary{}
	for _, market := range markets {
		res, err := b.Run(market, start, end, capital)
		if err != nil {
			b.log.Warn().Err(err).Str("market", market).Msg("skipping market in backtest")
			continue
		}
		summary.Results = append(summary.Results, *res)
		summary.StartCapital += res.StartCapital
		summary.FinalCapital += res.FinalCapital
	}
	if len(summary.Results) == 0 {
		return nil, fmt.Errorf("no market produced a backtest result")
	}
	summary.TotalReturn = (summary.FinalCapital - summary.StartCapital) / summary.StartCapital * 100
	return summary, nil
}

func (b *Backtester) emit(t Trade) {
	if b.recorder != nil {
		b.recorder.Record(t)
	}
}

func (r *Result) record(t Trade) {
	r.Trades = append(r.Trades, t)
	r.TotalTrades++
	r.TotalProfit += t.Profit
	if t.Profit > 0 {
		r.WinningTrades++
	} else {
		r.LosingTrades++
	}
}

// referenceSnapshot classifies the reference trend as of the given bar using
// only bars at or before it. A short prefix yields nil, which the scorer
// treats as a cautious sideways regime.
func referenceSnapshot(ref candle.Series, asOf time.Time) *regime.Snapshot {
	cut := -1
	for i, bar := range ref {
		if bar.Timestamp.After(asOf) {
			break
		}
		cut = i
	}
	if cut < 0 {
		return nil
	}
	return regime.Classify(ref.Truncate(cut))
}

// openPosition tracks one simulated position mid-flight. Ladder ratios apply
// to the original size so rungs exit fixed slices.
type openPosition struct {
	market     string
	entryDate  time.Time
	entryPrice float64
	size       float64
	remaining  float64
	stop       float64
	levels     []risk.Level
	nextLevel  int
}

// update applies one bar. The stop closes everything left; otherwise each
// ladder rung the high reaches exits its slice at the rung price.
func (p *openPosition) update(bar candle.Bar) []Trade {
	if bar.Low <= p.stop {
		t := p.exit(bar.Timestamp, p.stop, p.remaining, "stop-loss")
		return []Trade{t}
	}
	var exits []Trade
	for p.nextLevel < len(p.levels) && p.remaining > 0 {
		level := p.levels[p.nextLevel]
		if bar.High < level.ProfitPrice {
			break
		}
		slice := p.size * level.Ratio
		if slice > p.remaining {
			slice = p.remaining
		}
		exits = append(exits, p.exit(bar.Timestamp, level.ProfitPrice, slice,
			fmt.Sprintf("take-profit level %d", level.Index)))
		p.nextLevel++
	}
	return exits
}

func (p *openPosition) exit(when time.Time, price, size float64, reason string) Trade {
	p.remaining -= size
	entryValue := size * p.entryPrice
	exitValue := size * price
	return Trade{
		Market:        p.market,
		EntryDate:     p.entryDate,
		ExitDate:      when,
		EntryPrice:    p.entryPrice,
		ExitPrice:     price,
		PositionSize:  size,
		EntryValue:    entryValue,
		ExitValue:     exitValue,
		Profit:        exitValue - entryValue,
		ProfitPercent: (price - p.entryPrice) / p.entryPrice * 100,
		ExitReason:    reason,
	}
}
