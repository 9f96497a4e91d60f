package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"coinscout-go/internal/backtest"
	"coinscout-go/internal/config"
	"coinscout-go/internal/console"
	"coinscout-go/internal/exchange"
	"coinscout-go/internal/metrics"
	"coinscout-go/internal/monitor"
	"coinscout-go/internal/regime"
	"coinscout-go/internal/risk"
	"coinscout-go/internal/score"
	"coinscout-go/internal/surge"
	"coinscout-go/internal/util"
	"coinscout-go/internal/whale"
)

const defaultCapital = 10_000_000

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "coinscout",
		Short: "Upbit market scanner with regime-aware scoring and risk sizing",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "internal/config/config.yaml", "path to config file")
	root.AddCommand(rankCmd(), monitorCmd(), backtestCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func rankCmd() *cobra.Command {
	var topN int
	var capital float64
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Scan the exchange and print ranked buy candidates with trade plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := util.NewLogger(cfg.App.LogLevel)
			if topN <= 0 {
				topN = cfg.Monitor.TopN
			}

			client := exchange.NewClient(cfg.Exchange, log)
			classifier := regime.NewClassifier(client, cfg.Exchange.ReferenceMkt, log)
			scorer := score.NewScorer(client, classifier, cfg, log,
				score.WithSurgeSource(surge.NewAnalyzer(client, log)))

			results, snap, err := scorer.Rank(topN)
			if err != nil {
				return err
			}

			printer := console.New(os.Stdout)
			printer.PrintRegime(snap)
			printer.PrintRecommendations(results)

			engine := risk.NewEngine(cfg.Risk)
			for _, r := range results {
				params := engine.Compute(r.CurrentPrice, r.Indicators, capital, snap)
				printer.PrintRiskPlan(r.Market, params)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&topN, "top", 0, "number of markets to recommend (default from config)")
	cmd.Flags().Float64Var(&capital, "capital", defaultCapital, "capital used for position sizing")
	return cmd
}

func monitorCmd() *cobra.Command {
	var topN int
	var capital float64
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Rank markets, then follow the top candidates through live ticks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := util.NewLogger(cfg.App.LogLevel)
			if topN <= 0 {
				topN = cfg.Monitor.TopN
			}

			_ = metrics.Serve(cfg.App.MetricsAddr)
			log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

			client := exchange.NewClient(cfg.Exchange, log)
			classifier := regime.NewClassifier(client, cfg.Exchange.ReferenceMkt, log)
			tracker := whale.NewTracker(cfg.Whale)
			scorer := score.NewScorer(client, classifier, cfg, log,
				score.WithWhaleSource(tracker),
				score.WithSurgeSource(surge.NewAnalyzer(client, log)))

			results, snap, err := scorer.Rank(topN)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("no market cleared the threshold for the current regime")
				return nil
			}

			printer := console.New(os.Stdout)
			printer.PrintRegime(snap)
			printer.PrintRecommendations(results)

			engine := risk.NewEngine(cfg.Risk)
			mon := monitor.New(engine, capital, log,
				monitor.WithTradeSink(tracker),
				monitor.WithAlertFunc(func(v monitor.View, msg string) {
					fmt.Printf("\n[%s] %s %s at %.2f\n",
						time.Now().Format("15:04:05"), v.Market, msg, v.CurrentPrice)
				}))
			for _, r := range results {
				mon.Add(monitor.Candidate{
					Market:       r.Market,
					CurrentPrice: r.CurrentPrice,
					Indicators:   r.Indicators,
					Score:        r,
				})
			}

			ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			stream := exchange.NewStream(cfg.Stream, log)
			stream.Subscribe(mon.Markets(), true)
			stream.OnTicker(func(e exchange.TickerEvent) {
				mon.OnTick(e.Market, e.Price)
			})
			stream.OnTrade(func(e exchange.TradeEvent) {
				mon.OnTrade(e.Market, whale.Trade{
					Price:  e.Price,
					Volume: e.Volume,
					Side:   whale.Side(e.Side),
					Ts:     e.Ts,
				})
			})
			go func() {
				if err := stream.Start(ctx); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("live updates ceased, continuing on stale data")
				}
			}()
			defer stream.Stop()

			interval := time.Duration(cfg.Monitor.UpdateIntervalSecs) * time.Second
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			log.Info().Int("positions", len(results)).Msg("monitoring started")
			for {
				select {
				case <-ctx.Done():
					log.Info().Msg("shutting down")
					return nil
				case <-ticker.C:
					printer.PrintMonitor(mon.ActiveFirst())
				}
			}
		},
	}
	cmd.Flags().IntVar(&topN, "top", 0, "number of markets to monitor (default from config)")
	cmd.Flags().Float64Var(&capital, "capital", defaultCapital, "capital used for position sizing")
	return cmd
}

func backtestCmd() *cobra.Command {
	var markets string
	var startStr, endStr string
	var capital float64
	var tradeLog string
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the scoring pipeline over historical candles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := util.NewLogger(cfg.App.LogLevel)

			start, err := time.Parse("2006-01-02", startStr)
			if err != nil {
				return fmt.Errorf("parse start date: %w", err)
			}
			end, err := time.Parse("2006-01-02", endStr)
			if err != nil {
				return fmt.Errorf("parse end date: %w", err)
			}
			list := splitMarkets(markets)
			if len(list) == 0 {
				return fmt.Errorf("at least one market is required")
			}

			var opts []backtest.Option
			if tradeLog != "" {
				rec, err := backtest.NewJSONLRecorder(tradeLog)
				if err != nil {
					return fmt.Errorf("open trade log: %w", err)
				}
				defer rec.Close()
				opts = append(opts, backtest.WithTradeRecorder(rec))
			}

			client := exchange.NewClient(cfg.Exchange, log)
			bt := backtest.New(client, cfg, log, opts...)
			printer := console.New(os.Stdout)

			if len(list) == 1 {
				res, err := bt.Run(list[0], start, end, capital)
				if err != nil {
					return err
				}
				printer.PrintBacktest(res)
				return nil
			}
			summary, err := bt.RunMany(list, start, end, capital)
			if err != nil {
				return err
			}
			for i := range summary.Results {
				printer.PrintBacktest(&summary.Results[i])
			}
			printer.PrintSummary(summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&markets, "market", "", "market code, comma-separated for multiple (e.g. KRW-ETH,KRW-SOL)")
	cmd.Flags().StringVar(&startStr, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endStr, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&capital, "capital", defaultCapital, "starting capital")
	cmd.Flags().StringVar(&tradeLog, "trades", "", "append closed trades to this JSONL file")
	_ = cmd.MarkFlagRequired("market")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func splitMarkets(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
