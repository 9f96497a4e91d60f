package risk

import (
	"math"
	"testing"

	"coinscout-go/internal/config"
	"coinscout-go/internal/indicator"
	"coinscout-go/internal/regime"
)

func testEngine() *Engine {
	return NewEngine(config.Default().Risk)
}

func TestComputeBareBundle(t *testing.T) {
	e := testEngine()
	p := e.Compute(100, indicator.Bundle{}, 1_000_000, nil)

	if p.EntryPrice != 100 {
		t.Fatalf("without supports entry should stay at the current price, got %v", p.EntryPrice)
	}
	if math.Abs(p.StopLossPrice-97) > 1e-9 {
		t.Fatalf("3%% stop under 100 should be 97, got %v", p.StopLossPrice)
	}
	if p.StopLossPrice >= p.EntryPrice {
		t.Fatalf("stop must sit below entry")
	}
	if p.TrendMode != "default" {
		t.Fatalf("nil regime should pick the default ladder, got %q", p.TrendMode)
	}
}

func TestPositionSizing(t *testing.T) {
	// a wide stop makes the risk budget bind before the position cap
	cfg := config.Default().Risk
	cfg.StopLossPercent = 25
	e := NewEngine(cfg)
	capital := 1_000_000.0
	p := e.Compute(100, indicator.Bundle{}, capital, nil)

	wantSize := capital * 0.02 / 25
	if math.Abs(p.PositionSize-wantSize) > 1e-6 {
		t.Fatalf("expected size %v, got %v", wantSize, p.PositionSize)
	}
	if p.PositionValue > capital*0.1+1e-6 {
		t.Fatalf("position value must respect the 10%% cap, got %v", p.PositionValue)
	}
	if p.MaxRiskAmount != capital*0.02 {
		t.Fatalf("expected max risk %v, got %v", capital*0.02, p.MaxRiskAmount)
	}
}

func TestPositionCapBinds(t *testing.T) {
	// a tight stop would size far beyond the position cap
	cfg := config.Default().Risk
	cfg.StopLossPercent = 0.1
	e := NewEngine(cfg)
	capital := 1_000_000.0
	p := e.Compute(100, indicator.Bundle{}, capital, nil)

	if math.Abs(p.PositionValue-capital*0.1) > 1e-6 {
		t.Fatalf("expected the cap to bind at %v, got %v", capital*0.1, p.PositionValue)
	}
	if math.Abs(p.MaxRiskAmount-p.PositionSize*p.RiskPerUnit) > 1e-6 {
		t.Fatalf("risk amount must reflect the sized position, got %v", p.MaxRiskAmount)
	}
	if p.MaxRiskAmount >= capital*0.02 {
		t.Fatalf("a capped position risks less than the full budget, got %v", p.MaxRiskAmount)
	}
}

func TestLadderSelection(t *testing.T) {
	e := testEngine()
	up := &regime.Snapshot{IsUptrend: true, Direction: regime.Up}
	down := &regime.Snapshot{IsDowntrend: true, Direction: regime.Down}

	pUp := e.Compute(100, indicator.Bundle{}, 1_000_000, up)
	if pUp.TrendMode != "uptrend" || len(pUp.TakeProfitLevels) != 3 {
		t.Fatalf("unexpected uptrend ladder: %+v", pUp)
	}
	pDown := e.Compute(100, indicator.Bundle{}, 1_000_000, down)
	if pDown.TrendMode != "downtrend" {
		t.Fatalf("expected downtrend ladder, got %q", pDown.TrendMode)
	}
	if pDown.FirstTakeProfitPercent >= pUp.FirstTakeProfitPercent {
		t.Fatalf("downtrend targets must be tighter than uptrend targets")
	}
}

func TestLadderExpansion(t *testing.T) {
	e := testEngine()
	p := e.Compute(100, indicator.Bundle{}, 1_000_000, &regime.Snapshot{IsUptrend: true})

	var ratioSum float64
	prevPrice := p.EntryPrice
	for _, l := range p.TakeProfitLevels {
		if l.ProfitPrice <= prevPrice {
			t.Fatalf("ladder prices must ascend: %+v", p.TakeProfitLevels)
		}
		prevPrice = l.ProfitPrice
		ratioSum += l.Ratio
	}
	if math.Abs(ratioSum-1) > 1e-9 {
		t.Fatalf("ladder ratios must sum to 1, got %v", ratioSum)
	}
	last := p.TakeProfitLevels[len(p.TakeProfitLevels)-1]
	if math.Abs(last.CumulativeRatio-1) > 1e-9 {
		t.Fatalf("cumulative ratio must end at 1, got %v", last.CumulativeRatio)
	}
	if p.FirstTakeProfitPrice != p.TakeProfitLevels[0].ProfitPrice {
		t.Fatalf("first target mismatch")
	}
}

func TestEntryPullsTowardSupports(t *testing.T) {
	e := testEngine()
	short := 95.0
	medium := 90.0
	bundle := indicator.Bundle{
		MovingAverages: &indicator.MovingAverages{Short: &short, Medium: &medium, CurrentPrice: 100},
	}
	p := e.Compute(100, bundle, 1_000_000, nil)
	if math.Abs(p.EntryPrice-short*1.02) > 1e-9 {
		t.Fatalf("entry should pull to just above the short average, got %v", p.EntryPrice)
	}
}

func TestStopNeverReachesEntry(t *testing.T) {
	cfg := config.Default().Risk
	cfg.StopLossPercent = 0
	e := NewEngine(cfg)
	p := e.Compute(100, indicator.Bundle{}, 1_000_000, nil)
	if p.StopLossPrice >= p.EntryPrice {
		t.Fatalf("stop must stay below entry even with a zero percent stop, got %v", p.StopLossPrice)
	}
	if p.PositionSize <= 0 {
		t.Fatalf("the 1%% floor keeps the risk distance positive, got size %v", p.PositionSize)
	}
}

func TestDegenerateGeometryYieldsZeroSize(t *testing.T) {
	e := testEngine()
	p := e.Compute(0, indicator.Bundle{}, 1_000_000, nil)
	if p.PositionSize != 0 || p.PositionValue != 0 {
		t.Fatalf("a zero price must size to zero, got %+v", p)
	}
}

func TestRiskRewardRatio(t *testing.T) {
	e := testEngine()
	p := e.Compute(100, indicator.Bundle{}, 1_000_000, &regime.Snapshot{IsUptrend: true})
	// first uptrend rung at +5% against a 3% stop
	want := 5.0 / 3.0
	if math.Abs(p.RiskRewardRatio-want) > 1e-6 {
		t.Fatalf("expected R:R %v, got %v", want, p.RiskRewardRatio)
	}
}
