package whale

import (
	"testing"
	"time"

	"coinscout-go/internal/config"
)

func testConfig() config.Whale {
	return config.Whale{
		MinTradeAmount:    50_000_000,
		AnalysisWindowSec: 300,
		BuyRatioThreshold: 0.6,
	}
}

func TestRecordFiltersSmallTrades(t *testing.T) {
	tr := NewTracker(testConfig())
	now := time.Now()
	tr.Record("KRW-ETH", Trade{Price: 1000, Volume: 10, Side: Buy, Ts: now})

	if act := tr.analyzeAt("KRW-ETH", now); act != nil {
		t.Fatalf("trade below the whale minimum should not register: %+v", act)
	}
}

func TestAnalyzeBuyDominantFlow(t *testing.T) {
	tr := NewTracker(testConfig())
	now := time.Now()
	for i := 0; i < 3; i++ {
		tr.Record("KRW-ETH", Trade{Price: 60_000_000, Volume: 1, Side: Buy, Ts: now})
	}
	tr.Record("KRW-ETH", Trade{Price: 55_000_000, Volume: 1, Side: Sell, Ts: now})

	act := tr.analyzeAt("KRW-ETH", now)
	if act == nil {
		t.Fatalf("expected activity")
	}
	if act.TotalTrades != 4 || act.BuyTrades != 3 || act.SellTrades != 1 {
		t.Fatalf("unexpected trade counts: %+v", act)
	}
	wantNet := 3*60_000_000.0 - 55_000_000.0
	if act.NetAmount != wantNet {
		t.Fatalf("expected net %v, got %v", wantNet, act.NetAmount)
	}
	if act.BuyRatio <= 0.7 {
		t.Fatalf("buy-dominant flow should show a high buy ratio, got %v", act.BuyRatio)
	}
	// ratio clears the threshold and net flow adds a bonus
	if act.Score <= 0.7 {
		t.Fatalf("expected an upper-band score, got %v", act.Score)
	}
}

func TestAnalyzeWindowExpiry(t *testing.T) {
	tr := NewTracker(testConfig())
	now := time.Now()
	tr.Record("KRW-ETH", Trade{Price: 60_000_000, Volume: 1, Side: Buy, Ts: now.Add(-10 * time.Minute)})

	if act := tr.analyzeAt("KRW-ETH", now); act != nil {
		t.Fatalf("trades outside the window should not register: %+v", act)
	}
}

func TestSellPressureLowersScore(t *testing.T) {
	tr := NewTracker(testConfig())
	now := time.Now()
	for i := 0; i < 4; i++ {
		tr.Record("KRW-ETH", Trade{Price: 80_000_000, Volume: 1, Side: Sell, Ts: now})
	}
	tr.Record("KRW-ETH", Trade{Price: 60_000_000, Volume: 1, Side: Buy, Ts: now})

	act := tr.analyzeAt("KRW-ETH", now)
	if act == nil {
		t.Fatalf("expected activity")
	}
	if act.NetAmount >= 0 {
		t.Fatalf("expected negative net flow, got %v", act.NetAmount)
	}
	if act.Score >= 0.5 {
		t.Fatalf("sell-dominant flow should score low, got %v", act.Score)
	}
}

func TestUnknownMarket(t *testing.T) {
	tr := NewTracker(testConfig())
	if act := tr.Analyze("KRW-XRP"); act != nil {
		t.Fatalf("expected nil for an untracked market")
	}
}
