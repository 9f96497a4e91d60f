// Package whale tracks large-notional trades per market and scores the
// buy/sell flow imbalance inside a trailing time window.
package whale

import (
	"sync"
	"time"

	"coinscout-go/internal/config"
	"coinscout-go/internal/metrics"
)

const maxTradesPerMarket = 1000

// Side is the aggressor side of a trade, using the exchange's wire values.
type Side string

const (
	Buy  Side = "BID"
	Sell Side = "ASK"
)

// Trade is one large-trade observation pushed in from the stream.
type Trade struct {
	Price  float64
	Volume float64
	Side   Side
	Ts     time.Time
}

// Activity summarizes large-trade flow inside the analysis window.
type Activity struct {
	BuyRatio    float64
	SellRatio   float64
	TotalTrades int
	BuyTrades   int
	SellTrades  int
	BuyAmount   float64
	SellAmount  float64
	NetAmount   float64
	Score       float64
}

type entry struct {
	amount float64
	side   Side
	ts     time.Time
}

// Tracker keeps a bounded rolling log of qualifying trades per market.
// Record is called from the stream callback goroutine while Analyze runs on
// the ranking path, so the log is mutex-guarded.
type Tracker struct {
	mu     sync.Mutex
	cfg    config.Whale
	trades map[string][]entry
}

// NewTracker builds a tracker from whale configuration.
func NewTracker(cfg config.Whale) *Tracker {
	return &Tracker{cfg: cfg, trades: make(map[string][]entry)}
}

// Record stores the trade if its notional clears the whale minimum. The
// per-market log is capped at 1000 entries, oldest dropped first.
func (t *Tracker) Record(market string, trade Trade) {
	amount := trade.Price * trade.Volume
	if amount < t.cfg.MinTradeAmount {
		return
	}
	ts := trade.Ts
	if ts.IsZero() {
		ts = time.Now()
	}

	t.mu.Lock()
	log := append(t.trades[market], entry{amount: amount, side: trade.Side, ts: ts})
	if len(log) > maxTradesPerMarket {
		log = log[len(log)-maxTradesPerMarket:]
	}
	t.trades[market] = log
	t.mu.Unlock()

	metrics.WhaleTradesTotal.WithLabelValues(market, string(trade.Side)).Inc()
}

// Analyze scores the market's large-trade flow over the trailing analysis
// window. Nil means no qualifying trades inside the window.
func (t *Tracker) Analyze(market string) *Activity {
	return t.analyzeAt(market, time.Now())
}

func (t *Tracker) analyzeAt(market string, now time.Time) *Activity {
	cutoff := now.Add(-time.Duration(t.cfg.AnalysisWindowSec) * time.Second)

	t.mu.Lock()
	log := t.trades[market]
	recent := make([]entry, 0, len(log))
	for _, e := range log {
		if !e.ts.Before(cutoff) {
			recent = append(recent, e)
		}
	}
	t.mu.Unlock()

	if len(recent) == 0 {
		return nil
	}

	act := &Activity{TotalTrades: len(recent)}
	for _, e := range recent {
		if e.side == Buy {
			act.BuyTrades++
			act.BuyAmount += e.amount
		} else {
			act.SellTrades++
			act.SellAmount += e.amount
		}
	}
	total := act.BuyAmount + act.SellAmount
	if total == 0 {
		return nil
	}
	act.BuyRatio = act.BuyAmount / total
	act.SellRatio = act.SellAmount / total
	act.NetAmount = act.BuyAmount - act.SellAmount
	act.Score = t.score(act.BuyRatio, act.NetAmount)
	return act
}

// score rises steeply once the buy ratio clears the configured threshold,
// then gets nudged by the net flow magnitude.
func (t *Tracker) score(buyRatio, netAmount float64) float64 {
	threshold := t.cfg.BuyRatioThreshold
	var base float64
	if buyRatio >= threshold {
		base = 0.7 + (buyRatio-threshold)*0.6
	} else {
		base = buyRatio / threshold * 0.7
	}

	scale := t.cfg.MinTradeAmount * 10
	if netAmount > 0 {
		bonus := netAmount / scale
		if bonus > 0.2 {
			bonus = 0.2
		}
		base += bonus
	} else {
		penalty := -netAmount / scale
		if penalty > 0.3 {
			penalty = 0.3
		}
		base -= penalty
	}

	if base > 1 {
		return 1
	}
	if base < 0 {
		return 0
	}
	return base
}
