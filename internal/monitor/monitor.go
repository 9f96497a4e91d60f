// Package monitor follows recommended markets through live ticks and walks
// each position through a waiting -> entered -> stopped/profited state
// machine, alerting once per transition.
package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinscout-go/internal/indicator"
	"coinscout-go/internal/metrics"
	"coinscout-go/internal/risk"
	"coinscout-go/internal/score"
	"coinscout-go/internal/whale"
)

// entry tolerance: a tick within 1% above the planned entry counts as filled
const entryTolerance = 1.01

// Status is the lifecycle state of a monitored position.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusEntered  Status = "entered"
	StatusStopped  Status = "stopped"
	StatusProfited Status = "profited"
)

// Candidate is one ranked market to start watching.
type Candidate struct {
	Market       string
	CurrentPrice float64
	Indicators   indicator.Bundle
	Score        score.Result
}

// View is a read-only snapshot of one monitored position.
type View struct {
	Market           string
	EntryPrice       float64
	StopLossPrice    float64
	TakeProfitPrice  float64
	CurrentPrice     float64
	LastPrice        float64
	ChangePercent    float64
	Status           Status
	AddedAt          time.Time
	LastUpdate       time.Time
	Risk             risk.Parameters
	RecommendedScore float64
}

type position struct {
	view View
}

// AlertFunc receives the position view and a human-readable message on each
// status transition.
type AlertFunc func(View, string)

// TradeSink receives raw trades observed for monitored markets. The whale
// tracker satisfies this.
type TradeSink interface {
	Record(market string, trade whale.Trade)
}

// Option configures optional monitor behavior.
type Option func(*Monitor)

// WithAlertFunc installs the transition alert callback.
func WithAlertFunc(fn AlertFunc) Option {
	return func(m *Monitor) { m.alert = fn }
}

// WithTradeSink forwards observed trades into the sink.
func WithTradeSink(sink TradeSink) Option {
	return func(m *Monitor) { m.trades = sink }
}

// Monitor tracks positions keyed by market. OnTick and OnTrade are called
// from the stream goroutine while Snapshot serves the render loop, so the
// registry is mutex-guarded.
type Monitor struct {
	mu        sync.Mutex
	engine    *risk.Engine
	capital   float64
	positions map[string]*position
	order     []string
	alert     AlertFunc
	trades    TradeSink
	log       zerolog.Logger
}

// New builds a monitor sizing positions against the given capital.
func New(engine *risk.Engine, capital float64, log zerolog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		engine:    engine,
		capital:   capital,
		positions: make(map[string]*position),
		log:       log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add computes a trade plan for the candidate and starts watching it. Adding
// a market twice replaces the old position.
func (m *Monitor) Add(c Candidate) View {
	params := m.engine.Compute(c.CurrentPrice, c.Indicators, m.capital, nil)
	now := time.Now()
	v := View{
		Market:           c.Market,
		EntryPrice:       params.EntryPrice,
		StopLossPrice:    params.StopLossPrice,
		TakeProfitPrice:  params.FirstTakeProfitPrice,
		CurrentPrice:     c.CurrentPrice,
		LastPrice:        c.CurrentPrice,
		Status:           StatusWaiting,
		AddedAt:          now,
		LastUpdate:       now,
		Risk:             params,
		RecommendedScore: c.Score.TotalScore,
	}

	m.mu.Lock()
	if _, exists := m.positions[c.Market]; !exists {
		m.order = append(m.order, c.Market)
	}
	m.positions[c.Market] = &position{view: v}
	m.mu.Unlock()

	m.log.Info().
		Str("market", c.Market).
		Float64("entry", v.EntryPrice).
		Float64("stop", v.StopLossPrice).
		Float64("target", v.TakeProfitPrice).
		Msg("monitoring position")
	return v
}

// Remove stops watching the market.
func (m *Monitor) Remove(market string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[market]; !ok {
		return
	}
	delete(m.positions, market)
	for i, k := range m.order {
		if k == market {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Markets lists the watched markets in insertion order.
func (m *Monitor) Markets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Snapshot returns the current position views in insertion order.
func (m *Monitor) Snapshot() []View {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]View, 0, len(m.order))
	for _, market := range m.order {
		if p, ok := m.positions[market]; ok {
			out = append(out, p.view)
		}
	}
	return out
}

// ActiveFirst returns the snapshot with entered positions ahead of waiting
// ones, terminal states last.
func (m *Monitor) ActiveFirst() []View {
	views := m.Snapshot()
	rank := map[Status]int{StatusEntered: 0, StatusWaiting: 1, StatusProfited: 2, StatusStopped: 3}
	sort.SliceStable(views, func(i, j int) bool {
		return rank[views[i].Status] < rank[views[j].Status]
	})
	return views
}

// OnTick applies a live price to the market's state machine. The stop check
// wins over the profit check, which wins over the entry check. Each distinct
// transition alerts exactly once.
func (m *Monitor) OnTick(market string, price float64) {
	m.mu.Lock()
	p, ok := m.positions[market]
	if !ok {
		m.mu.Unlock()
		return
	}

	v := &p.view
	last := v.CurrentPrice
	v.LastPrice = last
	v.CurrentPrice = price
	if last > 0 {
		v.ChangePercent = (price - last) / last * 100
	}
	v.LastUpdate = time.Now()

	// stopped/profited are sticky labels, not terminal states: rules are
	// re-evaluated on every tick so price recovering through the target
	// after a stop still surfaces, but each distinct status alerts once
	prev := v.Status
	var msg string
	switch {
	case price <= v.StopLossPrice:
		v.Status = StatusStopped
		msg = "stop-loss hit"
	case price >= v.TakeProfitPrice:
		v.Status = StatusProfited
		msg = "take-profit reached"
	case prev == StatusWaiting && price <= v.EntryPrice*entryTolerance:
		v.Status = StatusEntered
		msg = "entry filled"
	}
	changed := v.Status != prev
	snapshot := *v
	m.mu.Unlock()

	if changed {
		metrics.AlertsTotal.WithLabelValues(market, string(snapshot.Status)).Inc()
		m.log.Info().
			Str("market", market).
			Str("status", string(snapshot.Status)).
			Float64("price", price).
			Msg(msg)
		if m.alert != nil {
			m.alert(snapshot, msg)
		}
	}
}

// OnTrade forwards a raw trade for a monitored market into the trade sink.
func (m *Monitor) OnTrade(market string, trade whale.Trade) {
	if m.trades == nil {
		return
	}
	m.mu.Lock()
	_, watched := m.positions[market]
	m.mu.Unlock()
	if watched {
		m.trades.Record(market, trade)
	}
}
