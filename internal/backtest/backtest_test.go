package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"coinscout-go/internal/candle"
	"coinscout-go/internal/config"
	"coinscout-go/internal/risk"
)

type stubData struct {
	series map[string]candle.Series
}

func (s stubData) Candles(market string, interval candle.Interval, count int) (candle.Series, error) {
	return s.series[market], nil
}

func day(n int) time.Time {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func flatSeries(n int, price float64) candle.Series {
	s := make(candle.Series, n)
	for i := range s {
		s[i] = candle.Bar{Timestamp: day(i), Open: price, High: price, Low: price, Close: price, Volume: 100}
	}
	return s
}

func TestRunInsufficientHistory(t *testing.T) {
	data := stubData{series: map[string]candle.Series{
		"KRW-ETH": flatSeries(30, 100),
		"KRW-BTC": flatSeries(30, 100),
	}}
	bt := New(data, config.Default(), zerolog.Nop())
	if _, err := bt.Run("KRW-ETH", day(0), day(29), 1_000_000); err == nil {
		t.Fatalf("expected an error for a series shorter than the warm-up")
	}
}

func TestRunInvertedRange(t *testing.T) {
	bt := New(stubData{}, config.Default(), zerolog.Nop())
	if _, err := bt.Run("KRW-ETH", day(10), day(0), 1_000_000); err == nil {
		t.Fatalf("expected an error when end precedes start")
	}
}

func TestRunNoEntriesKeepsCapital(t *testing.T) {
	// flat prices never clear the entry threshold
	data := stubData{series: map[string]candle.Series{
		"KRW-ETH": flatSeries(120, 100),
		"KRW-BTC": flatSeries(120, 50000),
	}}
	bt := New(data, config.Default(), zerolog.Nop())
	res, err := bt.Run("KRW-ETH", day(61), day(119), 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalTrades != 0 {
		t.Fatalf("flat market should produce no trades, got %d", res.TotalTrades)
	}
	if res.FinalCapital != 1_000_000 {
		t.Fatalf("capital must be unchanged with no trades, got %v", res.FinalCapital)
	}
	if res.TotalReturn != 0 {
		t.Fatalf("expected zero return, got %v", res.TotalReturn)
	}
}

// trendSeries is a long rally into a sharp pullback and a high-volume
// recovery, which scores a buy mid-recovery, followed by enough follow-through
// to walk the whole take-profit ladder.
func trendSeries() candle.Series {
	closes := []float64{100}
	c := 100.0
	grow := func(n int, rate float64) {
		for i := 0; i < n; i++ {
			c *= 1 + rate
			closes = append(closes, c)
		}
	}
	grow(64, 0.015)  // rally
	grow(10, -0.035) // pullback
	grow(8, 0.03)    // recovery
	grow(14, 0.02)   // follow-through

	s := make(candle.Series, len(closes))
	for i, cl := range closes {
		vol := 100.0
		if i >= 75 && i <= 82 {
			vol = 600 // volume spike through the recovery
		}
		s[i] = candle.Bar{Timestamp: day(i), Open: cl, High: cl * 1.012, Low: cl * 0.988, Close: cl, Volume: vol}
	}
	return s
}

func risingSeries(n int, start, rate float64) candle.Series {
	s := make(candle.Series, n)
	c := start
	for i := 0; i < n; i++ {
		s[i] = candle.Bar{Timestamp: day(i), Open: c, High: c * 1.012, Low: c * 0.988, Close: c, Volume: 100}
		c *= 1 + rate
	}
	return s
}

func TestRunEntryLadderRoundTrip(t *testing.T) {
	market := trendSeries()
	data := stubData{series: map[string]candle.Series{
		"KRW-ETH": market,
		"KRW-BTC": risingSeries(market.Len(), 50000, 0.025),
	}}
	bt := New(data, config.Default(), zerolog.Nop())
	capital := 10_000_000.0
	res, err := bt.Run("KRW-ETH", day(61), day(market.Len()-1), capital)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalTrades != 3 {
		t.Fatalf("expected the three ladder exits, got %d: %+v", res.TotalTrades, res.Trades)
	}

	// the position fills at the plan's pulled-down entry, not the bar close
	first := res.Trades[0]
	var entryBar candle.Bar
	for _, b := range market {
		if b.Timestamp.Equal(first.EntryDate) {
			entryBar = b
		}
	}
	if entryBar.Close == 0 {
		t.Fatalf("entry date %v not in the series", first.EntryDate)
	}
	if first.EntryPrice >= entryBar.Close {
		t.Fatalf("fill %v should sit below the entry bar close %v", first.EntryPrice, entryBar.Close)
	}

	// each rung realizes exactly its configured percent over the fill
	wantReason := []string{"take-profit level 1", "take-profit level 2", "take-profit level 3"}
	wantPercent := []float64{5, 10, 15}
	for i, tr := range res.Trades {
		if tr.ExitReason != wantReason[i] {
			t.Fatalf("trade %d: expected %q, got %q", i, wantReason[i], tr.ExitReason)
		}
		if tr.Profit <= 0 {
			t.Fatalf("take-profit legs must realize gains: %+v", tr)
		}
		if math.Abs(tr.ProfitPercent-wantPercent[i]) > 1e-6 {
			t.Fatalf("trade %d: expected %v%% over the fill, got %v%%", i, wantPercent[i], tr.ProfitPercent)
		}
	}

	if res.WinningTrades != 3 || res.WinRate != 100 {
		t.Fatalf("all ladder exits should win: %+v", res)
	}
	if res.FinalCapital <= capital {
		t.Fatalf("the run should end ahead, got %v", res.FinalCapital)
	}
	if math.Abs(res.FinalCapital-(capital+res.TotalProfit)) > 1e-6 {
		t.Fatalf("trade profits must reconcile with capital: %v + %v != %v",
			capital, res.TotalProfit, res.FinalCapital)
	}
}

func TestOpenPositionStopClosesEverything(t *testing.T) {
	p := &openPosition{
		market:     "KRW-ETH",
		entryDate:  day(0),
		entryPrice: 100,
		size:       10,
		remaining:  10,
		stop:       95,
		levels: []risk.Level{
			{Index: 1, ProfitPrice: 105, Ratio: 0.5},
			{Index: 2, ProfitPrice: 110, Ratio: 0.5},
		},
	}
	exits := p.update(candle.Bar{Timestamp: day(1), High: 100, Low: 94})
	if len(exits) != 1 {
		t.Fatalf("expected a single stop exit, got %d", len(exits))
	}
	tr := exits[0]
	if tr.ExitReason != "stop-loss" || tr.ExitPrice != 95 || tr.PositionSize != 10 {
		t.Fatalf("unexpected stop trade: %+v", tr)
	}
	if p.remaining != 0 {
		t.Fatalf("stop must flatten the position, %v left", p.remaining)
	}
	if tr.Profit != -50 {
		t.Fatalf("expected -50 profit, got %v", tr.Profit)
	}
}

func TestOpenPositionLadderExitsSlices(t *testing.T) {
	p := &openPosition{
		market:     "KRW-ETH",
		entryDate:  day(0),
		entryPrice: 100,
		size:       10,
		remaining:  10,
		stop:       95,
		levels: []risk.Level{
			{Index: 1, ProfitPrice: 105, Ratio: 0.3},
			{Index: 2, ProfitPrice: 110, Ratio: 0.3},
			{Index: 3, ProfitPrice: 115, Ratio: 0.4},
		},
	}

	exits := p.update(candle.Bar{Timestamp: day(1), High: 111, Low: 100})
	if len(exits) != 2 {
		t.Fatalf("a push through two rungs should exit two slices, got %d", len(exits))
	}
	if exits[0].PositionSize != 3 || exits[0].ExitPrice != 105 {
		t.Fatalf("unexpected first rung: %+v", exits[0])
	}
	if exits[1].PositionSize != 3 || exits[1].ExitPrice != 110 {
		t.Fatalf("unexpected second rung: %+v", exits[1])
	}
	if p.remaining != 4 {
		t.Fatalf("expected 4 units left, got %v", p.remaining)
	}

	exits = p.update(candle.Bar{Timestamp: day(2), High: 120, Low: 110})
	if len(exits) != 1 || exits[0].PositionSize != 4 || exits[0].ExitPrice != 115 {
		t.Fatalf("unexpected final rung: %+v", exits)
	}
	if p.remaining != 0 {
		t.Fatalf("ladder must flatten the position, %v left", p.remaining)
	}

	var total float64
	total += 3*105 + 3*110 + 4*115
	want := total - 10*100
	if math.Abs((3*5.0+3*10.0+4*15.0)-want) > 1e-9 {
		t.Fatalf("per-slice accounting must match the aggregate: %v vs %v", 3*5.0+3*10.0+4*15.0, want)
	}
}

func TestReferenceSnapshotNoLookahead(t *testing.T) {
	ref := make(candle.Series, 80)
	for i := range ref {
		price := 100.0 + float64(i)
		ref[i] = candle.Bar{Timestamp: day(i), Close: price}
	}
	snap := referenceSnapshot(ref, day(70))
	if snap == nil {
		t.Fatalf("expected a snapshot for 71 bars")
	}
	full := referenceSnapshot(ref, day(200))
	if full == nil {
		t.Fatalf("expected a snapshot for the full series")
	}
	if early := referenceSnapshot(ref, day(5)); early != nil {
		t.Fatalf("a 6-bar prefix cannot classify, got %+v", early)
	}
	if none := referenceSnapshot(ref, day(-1)); none != nil {
		t.Fatalf("expected nil before the first bar")
	}
}

func TestRunManyAggregates(t *testing.T) {
	data := stubData{series: map[string]candle.Series{
		"KRW-ETH": flatSeries(120, 100),
		"KRW-SOL": flatSeries(120, 50),
		"KRW-BTC": flatSeries(120, 50000),
	}}
	bt := New(data, config.Default(), zerolog.Nop())
	summary, err := bt.RunMany([]string{"KRW-ETH", "KRW-SOL"}, day(61), day(119), 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summary.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(summary.Results))
	}
	if summary.StartCapital != 2_000_000 || summary.FinalCapital != 2_000_000 {
		t.Fatalf("unexpected capital totals: %+v", summary)
	}
}
