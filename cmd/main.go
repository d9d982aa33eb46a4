package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"depthbook/internal/config"
	"depthbook/internal/factory"
	"depthbook/internal/feed"
	"depthbook/internal/pressure"
	"depthbook/internal/sink"
	"depthbook/internal/websocket"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	symbol := flag.String("symbol", "", "Override the symbol for every configured exchange")
	logInterval := flag.Duration("log-interval", 0, "Interval for logging orderbook stats (0 keeps config)")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.ApplyEnv(os.Getenv)
	if *symbol != "" {
		for i := range cfg.Exchanges {
			cfg.Exchanges[i].Symbol = *symbol
		}
	}
	if *logInterval > 0 {
		cfg.App.LogInterval = *logInterval
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Exited with error")
	}
	logger.Info("All exchanges closed. Goodbye!")
}

func run(cfg config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base := logrus.NewEntry(logger)
	registry := feed.NewRegistry(ctx, factory.NewAdapter, cfg.FeedOptions(base))
	defer registry.Close()

	detector := pressure.NewDetector(cfg.Pressure)

	keys := make([]feed.Key, 0, len(cfg.Exchanges))
	for _, ex := range cfg.Exchanges {
		key := feed.NewKey(ex.Name, ex.Symbol)
		unsubscribe, err := registry.Subscribe(key, logSubscriber(base, key))
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", key, err)
		}
		defer unsubscribe()
		keys = append(keys, key)
	}
	base.WithField("pipelines", keys).Info("Starting multi-exchange orderbook monitor")

	g, ctx := errgroup.WithContext(ctx)

	server := websocket.NewServer(registry, detector, websocket.Options{
		Addr:        cfg.HTTP.Addr,
		DefaultTick: cfg.App.DefaultTick,
		Logger:      base,
	})
	g.Go(func() error {
		return server.Start(ctx)
	})

	if cfg.Kafka.Enabled() {
		publisher := sink.NewPublisher(sink.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), detector, sink.DefaultQueueSize, base)
		defer publisher.Close()
		for _, key := range keys {
			unsubscribe, err := registry.Subscribe(key, publisher.Subscriber())
			if err != nil {
				return fmt.Errorf("subscribe kafka sink %s: %w", key, err)
			}
			defer unsubscribe()
		}
		g.Go(func() error {
			return publisher.Run(ctx)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(cfg.App.LogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				printCombinedStats(registry, detector, keys)
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// logSubscriber keeps a boot pipeline alive and logs its error events
func logSubscriber(logger *logrus.Entry, key feed.Key) feed.Subscriber {
	entry := logger.WithFields(logrus.Fields{
		"exchange": key.Exchange,
		"symbol":   key.Symbol,
	})
	return feed.Subscriber{
		OnError: func(ev feed.ErrorEvent) {
			e := entry.WithField("kind", ev.Kind.String()).WithError(ev.Err)
			switch ev.Kind {
			case feed.ErrorExhausted:
				e.Error("Pipeline gave up reconnecting")
			case feed.ErrorMalformed:
				e.Debug("Dropped malformed message")
			default:
				e.WithField("attempt", ev.Attempt).Warn("Pipeline error")
			}
		},
	}
}

const (
	colorReset   = "\033[0m"
	colorYellow  = "\033[33m"
	colorGreen   = "\033[32m"
	colorRed     = "\033[31m"
	colorMagenta = "\033[35m"
	colorBold    = "\033[1m"
)

func printCombinedStats(registry *feed.Registry, detector *pressure.Detector, keys []feed.Key) {
	printed := 0
	for _, key := range keys {
		snap, ok := registry.Latest(key)
		if !ok {
			fmt.Printf("%s%s%s  %s\n", colorBold, key, colorReset, registry.State(key))
			continue
		}
		if printed == 0 {
			fmt.Println()
		}
		printed++

		stats := snap.Stats
		report := detector.Report(snap)

		fmt.Printf("%s%s%s", colorBold, key, colorReset)
		fmt.Printf("  Mid: %s%10s%s │ Spread: %s%8s%s | BB: %s%10s%s │ BA: %s%10s%s\n",
			colorYellow, stats.MidPrice.StringFixed(2), colorReset,
			colorMagenta, stats.Spread.StringFixed(4), colorReset,
			colorGreen, stats.BestBid.StringFixed(2), colorReset,
			colorRed, stats.BestAsk.StringFixed(2), colorReset)

		fmt.Printf("  DEPTH 0.5%% Bids: %s%9s%s │ Asks: %s%9s%s │ Δ: %s%10s%s\n",
			colorGreen, stats.BidLiquidity05Pct.StringFixed(2), colorReset,
			colorRed, stats.AskLiquidity05Pct.StringFixed(2), colorReset,
			getDeltaColor(stats.DeltaLiquidity05Pct), stats.DeltaLiquidity05Pct.StringFixed(2), colorReset)

		fmt.Printf("  DEPTH 2%%:  Bids: %s%9s%s │ Asks: %s%9s%s │ Δ: %s%10s%s\n",
			colorGreen, stats.BidLiquidity2Pct.StringFixed(2), colorReset,
			colorRed, stats.AskLiquidity2Pct.StringFixed(2), colorReset,
			getDeltaColor(stats.DeltaLiquidity2Pct), stats.DeltaLiquidity2Pct.StringFixed(2), colorReset)

		fmt.Printf("  DEPTH 10%%  Bids: %s%9s%s │ Asks: %s%9s%s │ Δ: %s%10s%s\n",
			colorGreen, stats.BidLiquidity10Pct.StringFixed(2), colorReset,
			colorRed, stats.AskLiquidity10Pct.StringFixed(2), colorReset,
			getDeltaColor(stats.DeltaLiquidity10Pct), stats.DeltaLiquidity10Pct.StringFixed(2), colorReset)

		balance := report.Balance
		fmt.Printf("  PRESSURE   Bids: %s%9s%s │ Asks: %s%9s%s │ Zones: %d │ %s\n",
			colorGreen, balance.BidPressure.StringFixed(2), colorReset,
			colorRed, balance.AskPressure.StringFixed(2), colorReset,
			len(report.Zones), dominanceLabel(balance.Dominant))
	}
}

func dominanceLabel(d pressure.Dominance) string {
	switch d {
	case pressure.DominantBid:
		return colorGreen + "bid dominant" + colorReset
	case pressure.DominantAsk:
		return colorRed + "ask dominant" + colorReset
	default:
		return colorYellow + "neutral" + colorReset
	}
}

func getDeltaColor(delta decimal.Decimal) string {
	if delta.GreaterThan(decimal.Zero) {
		return colorGreen
	} else if delta.LessThan(decimal.Zero) {
		return colorRed
	}
	return colorYellow
}
