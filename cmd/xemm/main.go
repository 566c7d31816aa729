package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/crypto-trading/xemm/internal/bot"
	"github.com/crypto-trading/xemm/internal/config"
	"github.com/crypto-trading/xemm/internal/engine"
	"github.com/crypto-trading/xemm/internal/gateway/hyperliquid"
	"github.com/crypto-trading/xemm/internal/gateway/pacifica"
	"github.com/crypto-trading/xemm/internal/marketdata"
	"github.com/crypto-trading/xemm/internal/monitor"
	"github.com/crypto-trading/xemm/internal/persistence"
	"github.com/crypto-trading/xemm/internal/strategy"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	logger := initLogger(os.Getenv("XEMM_LOG_LEVEL"), "INFO")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if os.Getenv("XEMM_LOG_LEVEL") == "" {
		logger = initLogger(cfg.System.LogLevel, cfg.System.LogLevel)
	}

	logger.Info("configuration loaded",
		"symbol", cfg.Trading.Symbol,
		"order_notional_usd", cfg.Trading.OrderNotionalUSD,
		"profit_rate_bps", cfg.Trading.ProfitRateBps,
		"profit_cancel_threshold_bps", cfg.Trading.ProfitCancelThresholdBps,
		"order_refresh_interval_secs", cfg.Trading.OrderRefreshIntervalS,
		"hedge_settle_wait_secs", cfg.Trading.HedgeSettleWaitS,
	)

	creds, err := config.LoadCredentials()
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	metrics := monitor.NewMetrics(prometheus.DefaultRegisterer)

	tracerShutdown, err := monitor.InitTracer("xemm", logger)
	if err != nil {
		logger.Warn("failed to initialize tracer", "error", err)
	}

	alertMgr := monitor.NewAlertManager(cfg.Monitoring.AlertChannels, logger)

	tradeLog, err := persistence.NewTradeLog(cfg.Persistence.TradeLogCSV)
	if err != nil {
		logger.Error("failed to initialize trade log", "error", err)
		os.Exit(1)
	}

	sqliteStore, err := persistence.NewSQLiteStore(cfg.Persistence.ArchiveDB, logger)
	if err != nil {
		logger.Error("failed to initialize cycle archive", "error", err)
		os.Exit(1)
	}
	defer sqliteStore.Close()

	var pgStore *persistence.PostgresStore
	if cfg.Persistence.ColdStoreDSN != "" {
		pgStore, err = persistence.NewPostgresStore(ctx, cfg.Persistence.ColdStoreDSN, logger)
		if err != nil {
			logger.Warn("PostgreSQL cold store unavailable, continuing without it", "error", err)
			pgStore = nil
		} else if pgStore != nil {
			defer pgStore.Close()
			if err := pgStore.RunMigrations(ctx); err != nil {
				logger.Error("failed to run cold store migrations", "error", err)
			}
		}
	}

	writer := persistence.NewAsyncWriter(tradeLog, sqliteStore, pgStore, 1024, logger)
	writer.Run()

	pacSigner, err := pacifica.NewSigner(creds.PacificaAccount, creds.PacificaAPIPublic, creds.PacificaAPIPrivate)
	if err != nil {
		logger.Error("failed to build maker signer", "error", err)
		os.Exit(1)
	}
	hlSigner, err := hyperliquid.NewSigner(creds.HyperliquidKey)
	if err != nil {
		logger.Error("failed to build taker signer", "error", err)
		os.Exit(1)
	}

	symbol := cfg.Trading.Symbol
	maker := pacifica.NewClient(cfg.Pacifica.RestURL, symbol, cfg.Pacifica.AggLevel, pacSigner, logger)
	taker := hyperliquid.NewClient(cfg.Hyperliquid.RestURL, symbol, creds.HyperliquidWallet, hlSigner, logger)

	startupCtx, startupCancel := context.WithTimeout(ctx, 30*time.Second)
	defer startupCancel()

	// A previous run may have left orders resting.
	if n, err := maker.CancelAll(startupCtx, symbol); err != nil {
		logger.Warn("startup cancel-all failed", "error", err)
	} else if n > 0 {
		logger.Info("cancelled stale orders at startup", "count", n)
	}

	info, err := maker.GetMarketInfo(startupCtx, symbol)
	if err != nil {
		logger.Error("failed to fetch market info", "error", err)
		os.Exit(1)
	}
	logger.Info("market info loaded", "tick_size", info.TickSize, "lot_size", info.LotSize)

	// Pre-fetch taker metadata so the hedge path never pays this latency.
	if _, err := taker.GetMeta(startupCtx, symbol); err != nil {
		logger.Error("failed to pre-fetch taker metadata", "error", err)
		os.Exit(1)
	}

	evaluator := strategy.NewEvaluator(
		cfg.Pacifica.MakerFeeBps,
		cfg.Hyperliquid.TakerFeeBps,
		cfg.Trading.ProfitRateBps,
		*info,
	)

	machine := bot.NewMachine(logger)

	makerCell := marketdata.NewCell()
	takerCell := marketdata.NewCell()
	watchdog := marketdata.NewWatchdog(map[string]*marketdata.Cell{
		"pacifica":    makerCell,
		"hyperliquid": takerCell,
	}, 4*time.Second, logger)

	makerBook := pacifica.NewBookFeed(
		cfg.Pacifica.WsURL, symbol, cfg.Pacifica.AggLevel,
		cfg.Pacifica.PingInterval(), cfg.Pacifica.ReconnectAttempts,
		makerCell, logger,
	)
	takerBook := hyperliquid.NewBookFeed(
		cfg.Hyperliquid.WsURL, symbol,
		cfg.Hyperliquid.BookRequestInterval(), cfg.Hyperliquid.PingInterval(),
		cfg.Hyperliquid.ReconnectAttempts,
		takerCell, logger,
	)
	fillStream := pacifica.NewFillStream(
		cfg.Pacifica.WsURL, creds.PacificaAccount, symbol,
		cfg.Pacifica.PingInterval(), cfg.Pacifica.ReconnectAttempts,
		machine, logger,
	)
	wsTrading := pacifica.NewWsTrading(
		cfg.Pacifica.WsURL, pacSigner,
		cfg.Pacifica.PingInterval(), cfg.Pacifica.ReconnectAttempts,
		logger,
	)

	eng := engine.New(
		cfg, machine, evaluator, *info,
		makerCell, takerCell,
		maker, wsTrading, taker,
		metrics, alertMgr, writer,
		fillStream.Degraded,
		logger,
	)

	runFeed := func(name string, run func(context.Context) error) {
		go func() {
			if err := run(ctx); err != nil {
				logger.Error("feed terminated", "feed", name, "error", err)
				machine.Fail(err)
			}
		}()
	}

	runFeed("maker_book", makerBook.Run)
	runFeed("taker_book", takerBook.Run)
	runFeed("fill_stream", fillStream.Run)
	go func() {
		// The WS trading channel is an optimization: losing it degrades
		// the dual cancel to REST-only, it does not end the run.
		if err := wsTrading.Run(ctx); err != nil {
			logger.Warn("ws trading channel terminated", "error", err)
		}
	}()

	go eng.RunMakerBookFallback(ctx)
	go eng.RunFillBackupDetector(ctx)
	go eng.RunOrderMonitor(ctx)
	go eng.RunHedgeExecutor(ctx)
	go eng.RunOpportunityLoop(ctx)
	go eng.RunBookAgeGauges(ctx)
	go watchdog.Run(ctx)

	go startMetricsServer(cfg.System.MetricsAddr, logger)

	logger.Info("xemm bot started, waiting for one cycle", "symbol", symbol)

	exitCode := waitForCompletion(ctx, machine, sigCh, logger)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if _, err := maker.CancelAll(shutdownCtx, symbol); err != nil {
		logger.Warn("shutdown cancel-all failed", "error", err)
	}

	writer.Stop()

	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down tracer", "error", err)
		}
	}

	logger.Info("shutdown complete", "exit_code", exitCode)
	os.Exit(exitCode)
}

// waitForCompletion blocks until the cycle reaches a terminal state or a
// signal arrives. A signal during an in-flight hedge defers to the hedge
// executor: the position must not be left uncovered.
func waitForCompletion(ctx context.Context, machine *bot.Machine, sigCh <-chan os.Signal, logger *slog.Logger) int {
	for {
		select {
		case <-machine.Done():
			if machine.State() == bot.StateComplete {
				return 0
			}
			return 1

		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig.String())

			state := machine.State()
			if state == bot.StateFilled || state == bot.StateHedging {
				logger.Warn("hedge in flight, completing before shutdown")
				select {
				case <-machine.Done():
					if machine.State() == bot.StateComplete {
						return 0
					}
					return 1
				case <-time.After(2 * time.Minute):
					logger.Error("hedge did not complete before shutdown deadline")
					return 1
				}
			}
			return 1

		case <-ctx.Done():
			return 1
		}
	}
}

func initLogger(level, fallback string) *slog.Logger {
	if level == "" {
		level = fallback
	}

	var logLevel slog.Level
	switch level {
	case "DEBUG":
		logLevel = slog.LevelDebug
	case "INFO":
		logLevel = slog.LevelInfo
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func startMetricsServer(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitor.MetricsHandler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: addr, Handler: mux}

	logger.Info("metrics server starting", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", "error", err)
	}
}
