// Package exchange hosts the Upbit REST client and websocket stream.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinscout-go/internal/candle"
	"coinscout-go/internal/config"
)

const (
	// public endpoints allow roughly 10 requests per second
	minRequestInterval = 100 * time.Millisecond
	maxRetries         = 3
	retryBackoff       = 500 * time.Millisecond
	// candle endpoints return at most 200 bars per request
	maxCandlesPerPage = 200
	// ticker endpoint accepts at most this many markets per request
	maxTickersPerPage = 100
)

// Ticker is the current state of one market.
type Ticker struct {
	Market        string
	TradePrice    float64
	TradeValue24h float64
	Change24hPct  float64
}

// Client talks to the Upbit public REST API. Requests are paced to stay
// under the public rate limit and retried on transient failures.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	mu       sync.Mutex
	lastCall time.Time
}

// NewClient builds a REST client from exchange configuration.
func NewClient(cfg config.Exchange, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

type marketInfo struct {
	Market string `json:"market"`
}

// Markets lists tradable markets quoted in the given currency, sorted.
func (c *Client) Markets(quote string) ([]string, error) {
	var infos []marketInfo
	if err := c.get("/v1/market/all", nil, &infos); err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	prefix := quote + "-"
	out := make([]string, 0, len(infos))
	for _, info := range infos {
		if strings.HasPrefix(info.Market, prefix) {
			out = append(out, info.Market)
		}
	}
	sort.Strings(out)
	return out, nil
}

type candlePayload struct {
	Market     string  `json:"market"`
	DateTime   string  `json:"candle_date_time_utc"`
	Opening    float64 `json:"opening_price"`
	High       float64 `json:"high_price"`
	Low        float64 `json:"low_price"`
	Trade      float64 `json:"trade_price"`
	CandleAccV float64 `json:"candle_acc_trade_volume"`
}

// Candles fetches up to count bars for the market, oldest first. Counts over
// one page walk backward through history with the `to` cursor.
func (c *Client) Candles(market string, interval candle.Interval, count int) (candle.Series, error) {
	path, err := candlePath(interval)
	if err != nil {
		return nil, err
	}

	var pages [][]candlePayload
	remaining := count
	cursor := ""
	for remaining > 0 {
		pageSize := remaining
		if pageSize > maxCandlesPerPage {
			pageSize = maxCandlesPerPage
		}
		params := url.Values{
			"market": {market},
			"count":  {strconv.Itoa(pageSize)},
		}
		if cursor != "" {
			params.Set("to", cursor)
		}
		var page []candlePayload
		if err := c.get(path, params, &page); err != nil {
			return nil, fmt.Errorf("fetch %s candles: %w", market, err)
		}
		if len(page) == 0 {
			break
		}
		pages = append(pages, page)
		remaining -= len(page)
		if len(page) < pageSize {
			break
		}
		// responses are newest first; the oldest bar anchors the next page
		cursor = page[len(page)-1].DateTime + "Z"
	}

	series := make(candle.Series, 0, count)
	for i := len(pages) - 1; i >= 0; i-- {
		page := pages[i]
		for j := len(page) - 1; j >= 0; j-- {
			series = append(series, toBar(page[j]))
		}
	}
	return series, nil
}

func candlePath(interval candle.Interval) (string, error) {
	switch interval {
	case candle.Day:
		return "/v1/candles/days", nil
	case candle.Minute1:
		return "/v1/candles/minutes/1", nil
	default:
		return "", fmt.Errorf("unsupported candle interval %q", interval)
	}
}

func toBar(p candlePayload) candle.Bar {
	ts, _ := time.Parse("2006-01-02T15:04:05", p.DateTime)
	return candle.Bar{
		Timestamp: ts,
		Open:      p.Opening,
		High:      p.High,
		Low:       p.Low,
		Close:     p.Trade,
		Volume:    p.CandleAccV,
	}
}

type tickerPayload struct {
	Market        string  `json:"market"`
	TradePrice    float64 `json:"trade_price"`
	AccTradePrice float64 `json:"acc_trade_price_24h"`
	SignedChange  float64 `json:"signed_change_rate"`
}

// Tickers fetches the current ticker for each market, batched to the
// endpoint's per-request limit.
func (c *Client) Tickers(markets []string) ([]Ticker, error) {
	out := make([]Ticker, 0, len(markets))
	for start := 0; start < len(markets); start += maxTickersPerPage {
		end := start + maxTickersPerPage
		if end > len(markets) {
			end = len(markets)
		}
		params := url.Values{"markets": {strings.Join(markets[start:end], ",")}}
		var page []tickerPayload
		if err := c.get("/v1/ticker", params, &page); err != nil {
			return nil, fmt.Errorf("fetch tickers: %w", err)
		}
		for _, p := range page {
			out = append(out, Ticker{
				Market:        p.Market,
				TradePrice:    p.TradePrice,
				TradeValue24h: p.AccTradePrice,
				Change24hPct:  p.SignedChange * 100,
			})
		}
	}
	return out, nil
}

// CurrentPrice returns the last trade price for one market.
func (c *Client) CurrentPrice(market string) (float64, error) {
	tickers, err := c.Tickers([]string{market})
	if err != nil {
		return 0, err
	}
	if len(tickers) == 0 {
		return 0, fmt.Errorf("no ticker for %s", market)
	}
	return tickers[0].TradePrice, nil
}

// FilterByVolume keeps markets whose 24h quote turnover clears the floor,
// preserving input order.
func (c *Client) FilterByVolume(markets []string, minVolume float64) ([]string, error) {
	if len(markets) == 0 {
		return nil, nil
	}
	tickers, err := c.Tickers(markets)
	if err != nil {
		return nil, err
	}
	volumes := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		volumes[t.Market] = t.TradeValue24h
	}
	out := make([]string, 0, len(markets))
	for _, m := range markets {
		if volumes[m] >= minVolume {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *Client) get(path string, params url.Values, into interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBackoff * time.Duration(attempt))
		}
		c.pace()

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("%s: status %d", path, resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("%s: status %d", path, resp.StatusCode)
		}
		err = json.NewDecoder(resp.Body).Decode(into)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("decode %s: %w", path, err)
			continue
		}
		return nil
	}
	return lastErr
}

// pace enforces the minimum spacing between requests.
func (c *Client) pace() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wait := minRequestInterval - time.Since(c.lastCall); wait > 0 {
		time.Sleep(wait)
	}
	c.lastCall = time.Now()
}
