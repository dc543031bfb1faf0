package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridPilot/config"
	"gridPilot/internal/adapters/binanceclient"
	zlog "gridPilot/internal/adapters/logger"
	"gridPilot/internal/adapters/sqlite"
	"gridPilot/internal/engine"
	"gridPilot/internal/metrics"
	"gridPilot/internal/ports"
	"gridPilot/internal/reporter"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "fetch the ticker, print the grid that would be traded, and exit")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize Logger
	appLogger := zlog.New(zlog.ParseLevel(cfg.LogLevel))
	ctx := context.Background()
	appLogger.Info(ctx, "Configuration loaded", map[string]interface{}{
		"symbol":  cfg.Symbol,
		"testnet": cfg.IsTestnet,
		"capital": cfg.TotalCapital,
		"levels":  cfg.GridLevels,
	})

	// 3. Initialize Repository
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize database repository")
		os.Exit(1)
	}
	defer repo.Close()

	// 4. Initialize Exchange Gateway
	gateway, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize Binance client")
		os.Exit(1)
	}

	// 5. Initialize Metrics
	var mtr *metrics.Metrics
	if cfg.MetricsAddr != "" {
		mtr = metrics.New()
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", mtr.Handler())
			appLogger.Info(ctx, "Metrics listener starting", map[string]interface{}{"addr": cfg.MetricsAddr})
			srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				appLogger.Error(ctx, err, "Metrics listener failed")
			}
		}()
	}

	// 6. Initialize Engine
	eng, err := engine.New(cfg, gateway, repo, appLogger, mtr)
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize engine")
		os.Exit(1)
	}

	rep := reporter.New()
	rep.PrintConfig(cfg)

	if *dryRun {
		if err := runDryRun(ctx, eng, gateway, cfg, rep, appLogger); err != nil {
			appLogger.Error(ctx, err, "Dry run failed")
			os.Exit(1)
		}
		return
	}

	// 7. Run until interrupted
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Run(runCtx); err != nil {
		appLogger.Error(ctx, err, "Engine exited with error")
		rep.PrintStatus(eng.Status())
		os.Exit(1)
	}

	rep.PrintStatus(eng.Status())
	rep.PrintTrades(eng.Trades())
	rep.PrintAlerts(eng.Alerts())
	appLogger.Info(ctx, "Shutdown complete")
}

// runDryRun prints the grid the engine would trade without placing a
// single order.
func runDryRun(ctx context.Context, eng *engine.Engine, gateway *binanceclient.Client, cfg *config.Config, rep *reporter.Reporter, logger ports.Logger) error {
	price, err := gateway.FetchTicker(ctx, cfg.Symbol)
	if err != nil {
		return fmt.Errorf("fetching ticker: %w", err)
	}
	logger.Info(ctx, "Dry run: no orders will be placed", map[string]interface{}{
		"symbol": cfg.Symbol,
		"price":  price,
	})
	snap, err := eng.PreviewGrid(price)
	if err != nil {
		return fmt.Errorf("building grid preview: %w", err)
	}
	rep.PrintLevels(snap)
	return nil
}
