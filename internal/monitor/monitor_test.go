package monitor

import (
	"testing"

	"github.com/rs/zerolog"

	"coinscout-go/internal/config"
	"coinscout-go/internal/indicator"
	"coinscout-go/internal/risk"
	"coinscout-go/internal/whale"
)

func testMonitor(opts ...Option) *Monitor {
	engine := risk.NewEngine(config.Default().Risk)
	return New(engine, 1_000_000, zerolog.Nop(), opts...)
}

func addCandidate(m *Monitor, market string, price float64) View {
	return m.Add(Candidate{Market: market, CurrentPrice: price, Indicators: indicator.Bundle{}})
}

func TestAddComputesPlan(t *testing.T) {
	m := testMonitor()
	v := addCandidate(m, "KRW-ETH", 100)

	if v.Status != StatusWaiting {
		t.Fatalf("new position should start waiting, got %q", v.Status)
	}
	if v.EntryPrice != 100 || v.StopLossPrice >= 100 || v.TakeProfitPrice <= 100 {
		t.Fatalf("unexpected plan: %+v", v)
	}
	if got := m.Markets(); len(got) != 1 || got[0] != "KRW-ETH" {
		t.Fatalf("unexpected market list: %v", got)
	}
}

func TestEntryFill(t *testing.T) {
	m := testMonitor()
	addCandidate(m, "KRW-ETH", 100)

	m.OnTick("KRW-ETH", 100.5)
	views := m.Snapshot()
	if views[0].Status != StatusEntered {
		t.Fatalf("tick within 1%% of entry should fill, got %q", views[0].Status)
	}
}

func TestStopAlertsOnce(t *testing.T) {
	var alerts []string
	m := testMonitor(WithAlertFunc(func(v View, msg string) {
		alerts = append(alerts, msg)
	}))
	addCandidate(m, "KRW-ETH", 100)

	m.OnTick("KRW-ETH", 96)
	m.OnTick("KRW-ETH", 95)
	m.OnTick("KRW-ETH", 94)

	views := m.Snapshot()
	if views[0].Status != StatusStopped {
		t.Fatalf("price through the stop should stop out, got %q", views[0].Status)
	}
	if len(alerts) != 1 {
		t.Fatalf("each transition should alert exactly once, got %d alerts", len(alerts))
	}
	if views[0].CurrentPrice != 94 {
		t.Fatalf("prices should keep updating after the stop, got %v", views[0].CurrentPrice)
	}
}

func TestStopWinsOverProfit(t *testing.T) {
	m := testMonitor()
	addCandidate(m, "KRW-ETH", 100)

	// a tick at or below the stop must never read as profit
	m.OnTick("KRW-ETH", 90)
	if got := m.Snapshot()[0].Status; got != StatusStopped {
		t.Fatalf("expected stopped, got %q", got)
	}
}

func TestProfitTransition(t *testing.T) {
	var alerted []Status
	m := testMonitor(WithAlertFunc(func(v View, msg string) {
		alerted = append(alerted, v.Status)
	}))
	addCandidate(m, "KRW-ETH", 100)

	m.OnTick("KRW-ETH", 100.2)
	m.OnTick("KRW-ETH", 110)

	if got := m.Snapshot()[0].Status; got != StatusProfited {
		t.Fatalf("expected profited, got %q", got)
	}
	if len(alerted) != 2 || alerted[0] != StatusEntered || alerted[1] != StatusProfited {
		t.Fatalf("expected entered then profited alerts, got %v", alerted)
	}
}

func TestRecoveryThroughTargetAlertsAgain(t *testing.T) {
	var alerted []Status
	m := testMonitor(WithAlertFunc(func(v View, msg string) {
		alerted = append(alerted, v.Status)
	}))
	addCandidate(m, "KRW-ETH", 100)

	m.OnTick("KRW-ETH", 96)
	m.OnTick("KRW-ETH", 110)

	if got := m.Snapshot()[0].Status; got != StatusProfited {
		t.Fatalf("price recovering through the target must re-evaluate, got %q", got)
	}
	if len(alerted) != 2 || alerted[0] != StatusStopped || alerted[1] != StatusProfited {
		t.Fatalf("expected stopped then profited alerts, got %v", alerted)
	}
}

func TestChangePercentIsTickOverTick(t *testing.T) {
	m := testMonitor()
	addCandidate(m, "KRW-ETH", 100)

	m.OnTick("KRW-ETH", 110)
	v := m.Snapshot()[0]
	if v.ChangePercent != 10 || v.LastPrice != 100 {
		t.Fatalf("first tick should move 10%% off the add price, got %+v", v)
	}

	m.OnTick("KRW-ETH", 99)
	v = m.Snapshot()[0]
	want := (99.0 - 110.0) / 110.0 * 100
	if v.ChangePercent != want || v.LastPrice != 110 {
		t.Fatalf("change must track the previous tick, not entry: %+v", v)
	}
}

func TestRemove(t *testing.T) {
	m := testMonitor()
	addCandidate(m, "KRW-ETH", 100)
	addCandidate(m, "KRW-SOL", 50)

	m.Remove("KRW-ETH")
	if got := m.Markets(); len(got) != 1 || got[0] != "KRW-SOL" {
		t.Fatalf("unexpected markets after removal: %v", got)
	}
	m.OnTick("KRW-ETH", 1)
}

func TestOnTradeForwardsToSink(t *testing.T) {
	sink := &recordingSink{}
	m := testMonitor(WithTradeSink(sink))
	addCandidate(m, "KRW-ETH", 100)

	m.OnTrade("KRW-ETH", whale.Trade{Price: 100, Volume: 1, Side: whale.Buy})
	m.OnTrade("KRW-XRP", whale.Trade{Price: 100, Volume: 1, Side: whale.Buy})

	if len(sink.markets) != 1 || sink.markets[0] != "KRW-ETH" {
		t.Fatalf("only watched markets should reach the sink, got %v", sink.markets)
	}
}

func TestActiveFirstOrdering(t *testing.T) {
	m := testMonitor()
	addCandidate(m, "KRW-A", 100)
	addCandidate(m, "KRW-B", 100)
	addCandidate(m, "KRW-C", 100)

	m.OnTick("KRW-B", 90) // stopped
	m.OnTick("KRW-C", 100.5)

	views := m.ActiveFirst()
	if views[0].Market != "KRW-C" || views[0].Status != StatusEntered {
		t.Fatalf("entered positions should lead, got %+v", views[0])
	}
	if views[len(views)-1].Market != "KRW-B" {
		t.Fatalf("terminal positions should trail, got %+v", views)
	}
}

type recordingSink struct {
	markets []string
}

func (r *recordingSink) Record(market string, trade whale.Trade) {
	r.markets = append(r.markets, market)
}
