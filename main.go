package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bestprice/config"
	"bestprice/discount"
	"bestprice/finder"
	"bestprice/internal/latency"
	"bestprice/internal/metrics"
	"bestprice/internal/pool"
	"bestprice/internal/retry"
	"bestprice/logger"
	"bestprice/shop"
	"bestprice/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	product := flag.String("product", "", "Product to price (overrides config)")
	strategies := flag.String("strategy", "", "Comma separated strategies to run (overrides config)")
	single := flag.Bool("single", false, "Ask the first shop for a price through its async API and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath, flagPassed("config"))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	if *product != "" {
		cfg.Product = *product
	}
	if *strategies != "" {
		cfg.Finder.Strategies = strings.Split(*strategies, ",")
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting bestprice")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}

	shops, err := buildShops(cfg)
	if err != nil {
		log.WithError(err).Error("Failed to build shops")
		os.Exit(1)
	}

	if *single {
		runSingle(ctx, shops[0], cfg.Product)
		return
	}

	selected := make([]finder.Strategy, 0, len(cfg.Finder.Strategies))
	for _, s := range cfg.Finder.Strategies {
		st, err := finder.ParseStrategy(s)
		if err != nil {
			log.WithError(err).Error("Invalid strategy")
			os.Exit(1)
		}
		selected = append(selected, st)
	}

	f, err := buildFinder(cfg, shops)
	if err != nil {
		log.WithError(err).Error("Failed to build finder")
		os.Exit(1)
	}
	defer f.Close()

	var archive *writer.ResultArchive
	if cfg.Storage.S3.Enabled {
		archive, err = writer.NewResultArchive(ctx, cfg)
		if err != nil {
			if config.IsProductionLike(config.AppEnvironment()) {
				log.WithError(err).Error("Failed to create result archive")
				os.Exit(1)
			}
			log.WithError(err).Warn("result archive unavailable; runs will not be archived")
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; runs will not be archived")
	}

	tally := metrics.NewStrategyTally()
	tallyID := metrics.RegisterMetricHandler(tally.Handle, "finder")
	defer metrics.UnregisterMetricHandler(tallyID)

	for _, st := range selected {
		if ctx.Err() != nil {
			break
		}

		start := time.Now()
		run, err := f.Execute(ctx, st, cfg.Product)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"strategy": string(st)}).Error("findPrices failed")
			continue
		}
		fmt.Printf("findPrices[%s]: %s\n", st, run.Results)
		fmt.Printf("Done in %d msecs\n", time.Since(start).Milliseconds())

		if archive != nil {
			if key, err := archive.Archive(ctx, run); err != nil {
				log.WithError(err).WithFields(logger.Fields{"run_id": run.ID}).Warn("failed to archive run")
			} else {
				log.WithComponent("main").WithFields(logger.Fields{"run_id": run.ID, "key": key}).Debug("run archived")
			}
		}
	}

	tally.Log(log)
	log.WithComponent("main").Info("bestprice finished")
}

// loadConfig falls back to the built-in defaults when the default config
// file is absent. A missing file named explicitly is an error.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err == nil {
		return cfg, nil
	}
	if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	logger.GetLogger().WithComponent("main").WithFields(logger.Fields{"path": path}).Info("config file not found; using defaults")
	return config.FromDefaults()
}

func flagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}

func buildShops(cfg *config.Config) ([]*shop.Shop, error) {
	l := cfg.Shops.Latency
	shops := make([]*shop.Shop, 0, len(cfg.Shops.Names))
	for _, name := range cfg.Shops.Names {
		// each shop gets its own delayer so random draws are independent
		delay, err := latency.New(l.Mode, l.Fixed, l.Min, l.Max)
		if err != nil {
			return nil, err
		}
		shops = append(shops, shop.New(name,
			shop.WithLatency(delay),
			shop.WithDiscountCodes(cfg.Shops.DiscountCodes),
			shop.WithFailureRate(cfg.Shops.FailureRate),
		))
	}
	return shops, nil
}

func buildFinder(cfg *config.Config, shops []*shop.Shop) (*finder.Finder, error) {
	l := cfg.Discount.Latency
	delay, err := latency.New(l.Mode, l.Fixed, l.Min, l.Max)
	if err != nil {
		return nil, err
	}

	sources := make([]finder.PriceSource, len(shops))
	for i, s := range shops {
		sources[i] = s
	}

	size := cfg.Finder.PoolSize
	if size <= 0 {
		size = len(shops)
	}

	r := cfg.Finder.Retry
	return finder.New(sources, discount.NewService(delay), pool.New(size),
		finder.WithTimeout(cfg.Finder.Timeout),
		finder.WithRetry(retry.Policy{
			MaxAttempts: r.MaxAttempts,
			BaseDelay:   r.BaseDelay,
			MaxDelay:    r.MaxDelay,
			Multiplier:  r.BackoffMultiplier,
		}),
		finder.WithRateLimit(cfg.Finder.RateLimit.RequestsPerSecond, cfg.Finder.RateLimit.BurstSize),
	)
}

// runSingle demonstrates the async API: the call returns at once and the
// price arrives after the shop's latency.
func runSingle(ctx context.Context, s *shop.Shop, product string) {
	p := pool.New(1)
	defer p.Close()

	start := time.Now()
	future := s.PriceAsync(ctx, p, product)
	fmt.Printf("Invocation returned after %d msecs\n", time.Since(start).Milliseconds())

	price, err := future.Await(ctx)
	if err != nil {
		logger.GetLogger().WithComponent("main").WithError(err).WithFields(logger.Fields{"shop": s.Name()}).Error("price lookup failed")
		return
	}
	fmt.Printf("Price is %.2f\n", price)
	fmt.Printf("Price returned after %d msecs\n", time.Since(start).Milliseconds())
}
