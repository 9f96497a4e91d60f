package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"coinscout-go/internal/config"
	"coinscout-go/internal/metrics"
)

// TickerEvent is one live ticker frame from the websocket.
type TickerEvent struct {
	Market       string
	Price        float64
	Change24hPct float64
	Ts           time.Time
}

// TradeEvent is one executed trade from the websocket. Side carries the
// exchange's BID/ASK wire value.
type TradeEvent struct {
	Market string
	Price  float64
	Volume float64
	Side   string
	Ts     time.Time
}

// Stream maintains the Upbit websocket connection with keepalive pings and
// bounded reconnection. Callbacks run on the reader goroutine.
type Stream struct {
	cfg config.Stream
	log zerolog.Logger

	mu        sync.Mutex
	markets   []string
	trades    bool
	conn      *websocket.Conn
	connected bool
	onTicker  func(TickerEvent)
	onTrade   func(TradeEvent)
}

// NewStream builds a stream from websocket configuration.
func NewStream(cfg config.Stream, log zerolog.Logger) *Stream {
	return &Stream{cfg: cfg, log: log}
}

// OnTicker installs the ticker callback. Must be set before Start.
func (s *Stream) OnTicker(fn func(TickerEvent)) {
	s.mu.Lock()
	s.onTicker = fn
	s.mu.Unlock()
}

// OnTrade installs the trade callback. Must be set before Start.
func (s *Stream) OnTrade(fn func(TradeEvent)) {
	s.mu.Lock()
	s.onTrade = fn
	s.mu.Unlock()
}

// Subscribe sets the market list. withTrades also subscribes the trade
// channel for whale tracking. Takes effect on the next (re)connect.
func (s *Stream) Subscribe(markets []string, withTrades bool) {
	s.mu.Lock()
	s.markets = append([]string(nil), markets...)
	s.trades = withTrades
	s.mu.Unlock()
}

// IsAlive reports whether the connection is currently up.
func (s *Stream) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Start runs the connect/read/reconnect loop until the context is canceled
// or the reconnect budget is exhausted.
func (s *Stream) Start(ctx context.Context) error {
	attempts := 0
	delay := time.Duration(s.cfg.ReconnectDelaySecs) * time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.consume(ctx)
		s.setConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempts++
		if attempts > s.cfg.MaxReconnectAttempts {
			return fmt.Errorf("websocket gave up after %d reconnect attempts: %w", attempts-1, err)
		}
		s.log.Warn().Err(err).Int("attempt", attempts).Msg("websocket disconnected, reconnecting")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop closes the connection, which unblocks the reader.
func (s *Stream) Stop() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

type subscribeFrame struct {
	Ticket string   `json:"ticket,omitempty"`
	Type   string   `json:"type,omitempty"`
	Codes  []string `json:"codes,omitempty"`
}

type streamFrame struct {
	Type        string  `json:"type"`
	Code        string  `json:"code"`
	TradePrice  float64 `json:"trade_price"`
	TradeVol    float64 `json:"trade_volume"`
	AskBid      string  `json:"ask_bid"`
	ChangeRate  float64 `json:"signed_change_rate"`
	TimestampMs int64   `json:"timestamp"`
}

func (s *Stream) consume(ctx context.Context) error {
	s.mu.Lock()
	markets := append([]string(nil), s.markets...)
	withTrades := s.trades
	s.mu.Unlock()
	if len(markets) == 0 {
		return fmt.Errorf("no markets subscribed")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	frames := []subscribeFrame{
		{Ticket: fmt.Sprintf("coinscout-%d", time.Now().UnixNano())},
		{Type: "ticker", Codes: markets},
	}
	if withTrades {
		frames = append(frames, subscribeFrame{Type: "trade", Codes: markets})
	}
	payload, err := json.Marshal(frames)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.log.Info().Int("markets", len(markets)).Bool("trades", withTrades).Msg("websocket subscribed")

	ping := time.Duration(s.cfg.PingIntervalSecs) * time.Second
	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(ping * 2))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(ping * 2))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(ping)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(ping * 2))

		var frame streamFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			s.log.Warn().Err(err).Msg("failed to decode websocket frame")
			continue
		}
		s.dispatch(frame)
	}
}

func (s *Stream) dispatch(frame streamFrame) {
	s.mu.Lock()
	onTicker, onTrade := s.onTicker, s.onTrade
	s.mu.Unlock()

	ts := time.UnixMilli(frame.TimestampMs)
	switch frame.Type {
	case "ticker":
		metrics.TicksTotal.WithLabelValues(frame.Code).Inc()
		if onTicker != nil {
			onTicker(TickerEvent{
				Market:       frame.Code,
				Price:        frame.TradePrice,
				Change24hPct: frame.ChangeRate * 100,
				Ts:           ts,
			})
		}
	case "trade":
		if onTrade != nil {
			onTrade(TradeEvent{
				Market: frame.Code,
				Price:  frame.TradePrice,
				Volume: frame.TradeVol,
				Side:   frame.AskBid,
				Ts:     ts,
			})
		}
	}
}

func (s *Stream) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
