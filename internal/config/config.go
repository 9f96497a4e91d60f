// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Exchange describes Upbit connectivity. Keys are optional; every endpoint
// the toolkit uses is public.
type Exchange struct {
	BaseURL      string  `yaml:"base_url"`
	QuoteCcy     string  `yaml:"quote_currency"`
	ReferenceMkt string  `yaml:"reference_market"`
	MinVolume24h float64 `yaml:"min_volume_24h"`
	AccessKey    string  `yaml:"-"`
	SecretKey    string  `yaml:"-"`
}

// Stream configures the websocket feed.
type Stream struct {
	URL                  string `yaml:"url"`
	PingIntervalSecs     int    `yaml:"ping_interval_secs"`
	ReconnectDelaySecs   int    `yaml:"reconnect_delay_secs"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
}

// Indicators groups the window sizes and thresholds for the indicator aggregator.
type Indicators struct {
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	MACDFast      int     `yaml:"macd_fast"`
	MACDSlow      int     `yaml:"macd_slow"`
	MACDSignal    int     `yaml:"macd_signal"`
	BBPeriod      int     `yaml:"bb_period"`
	BBStdDev      float64 `yaml:"bb_std"`
	MAShort       int     `yaml:"ma_short"`
	MAMedium      int     `yaml:"ma_medium"`
	MALong        int     `yaml:"ma_long"`
}

// Weights holds the per-factor scoring weights.
type Weights struct {
	RSI            float64 `yaml:"rsi"`
	MACD           float64 `yaml:"macd"`
	Bollinger      float64 `yaml:"bollinger"`
	MovingAverages float64 `yaml:"moving_averages"`
	Volume         float64 `yaml:"volume"`
	BTCCorrelation float64 `yaml:"btc_correlation"`
	Whale          float64 `yaml:"whale"`
	Surge          float64 `yaml:"surge"`
}

// LadderStep is one partial take-profit rung: exit Ratio of the position at
// ProfitPercent above entry.
type LadderStep struct {
	ProfitPercent float64 `yaml:"profit_percent"`
	Ratio         float64 `yaml:"ratio"`
}

// Risk encodes stop-loss, position-sizing, and take-profit ladder settings.
type Risk struct {
	StopLossPercent     float64      `yaml:"stop_loss_percent"`
	MaxPositionFraction float64      `yaml:"max_position_fraction"`
	RiskFraction        float64      `yaml:"risk_fraction"`
	LadderUptrend       []LadderStep `yaml:"ladder_uptrend"`
	LadderDowntrend     []LadderStep `yaml:"ladder_downtrend"`
	LadderSideways      []LadderStep `yaml:"ladder_sideways"`
}

// Whale configures the large-trade flow tracker.
type Whale struct {
	MinTradeAmount    float64 `yaml:"min_trade_amount"`
	AnalysisWindowSec int     `yaml:"analysis_window_secs"`
	BuyRatioThreshold float64 `yaml:"buy_ratio_threshold"`
}

// Monitor configures the live position monitor render loop.
type Monitor struct {
	UpdateIntervalSecs int `yaml:"update_interval_secs"`
	TopN               int `yaml:"top_n"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	Exchange   Exchange   `yaml:"exchange"`
	Stream     Stream     `yaml:"stream"`
	Indicators Indicators `yaml:"indicators"`
	Weights    Weights    `yaml:"weights"`
	Risk       Risk       `yaml:"risk"`
	Whale      Whale      `yaml:"whale"`
	Monitor    Monitor    `yaml:"monitor"`
}

// Default returns the built-in configuration; Load overlays a YAML file on
// top of it.
func Default() *Config {
	return &Config{
		App: App{
			Name:        "coinscout",
			MetricsAddr: ":9091",
			LogLevel:    "info",
		},
		Exchange: Exchange{
			BaseURL:      "https://api.upbit.com",
			QuoteCcy:     "KRW",
			ReferenceMkt: "KRW-BTC",
			MinVolume24h: 1_000_000_000,
		},
		Stream: Stream{
			URL:                  "wss://api.upbit.com/websocket/v1",
			PingIntervalSecs:     30,
			ReconnectDelaySecs:   5,
			MaxReconnectAttempts: 10,
		},
		Indicators: Indicators{
			RSIPeriod:     14,
			RSIOversold:   30,
			RSIOverbought: 70,
			MACDFast:      12,
			MACDSlow:      26,
			MACDSignal:    9,
			BBPeriod:      20,
			BBStdDev:      2,
			MAShort:       5,
			MAMedium:      20,
			MALong:        60,
		},
		Weights: Weights{
			RSI:            0.12,
			MACD:           0.15,
			Bollinger:      0.10,
			MovingAverages: 0.12,
			Volume:         0.08,
			BTCCorrelation: 0.08,
			Whale:          0.15,
			Surge:          0.20,
		},
		Risk: Risk{
			StopLossPercent:     3.0,
			MaxPositionFraction: 0.1,
			RiskFraction:        0.02,
			LadderUptrend: []LadderStep{
				{ProfitPercent: 5, Ratio: 0.3},
				{ProfitPercent: 10, Ratio: 0.3},
				{ProfitPercent: 15, Ratio: 0.4},
			},
			LadderDowntrend: []LadderStep{
				{ProfitPercent: 2, Ratio: 0.5},
				{ProfitPercent: 3, Ratio: 0.3},
				{ProfitPercent: 5, Ratio: 0.2},
			},
			LadderSideways: []LadderStep{
				{ProfitPercent: 3, Ratio: 0.4},
				{ProfitPercent: 5, Ratio: 0.3},
				{ProfitPercent: 8, Ratio: 0.3},
			},
		},
		Whale: Whale{
			MinTradeAmount:    50_000_000,
			AnalysisWindowSec: 300,
			BuyRatioThreshold: 0.6,
		},
		Monitor: Monitor{
			UpdateIntervalSecs: 60,
			TopN:               10,
		},
	}
}

// Load reads a YAML file from disk, overlays it on the defaults, and applies
// environment overrides. A .env file next to the process is honored when
// present.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.applyEnv()
	return config, nil
}

func (c *Config) applyEnv() {
	_ = godotenv.Load()
	if v := os.Getenv("UPBIT_ACCESS_KEY"); v != "" {
		c.Exchange.AccessKey = v
	}
	if v := os.Getenv("UPBIT_SECRET_KEY"); v != "" {
		c.Exchange.SecretKey = v
	}
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
