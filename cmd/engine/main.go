// Command engine runs the automated warrant trading engine: it loads
// config, wires every subsystem together, and drives engine.Engine's
// main tick loop until a termination signal arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"hkwarrant/internal/alert"
	"hkwarrant/internal/bootstrap"
	"hkwarrant/internal/broker"
	"hkwarrant/internal/config"
	"hkwarrant/internal/core"
	"hkwarrant/internal/doomsday"
	"hkwarrant/internal/engine"
	"hkwarrant/internal/indicator"
	"hkwarrant/internal/infrastructure/health"
	"hkwarrant/internal/infrastructure/server"
	"hkwarrant/internal/lifecycle"
	"hkwarrant/internal/order"
	"hkwarrant/internal/risk"
	"hkwarrant/internal/safety"
	"hkwarrant/internal/seat"
	"hkwarrant/internal/signal"
	"hkwarrant/internal/startup"
	"hkwarrant/pkg/cli"
	"hkwarrant/pkg/concurrency"
	apperrors "hkwarrant/pkg/errors"
	"hkwarrant/pkg/retry"
	"hkwarrant/pkg/telemetry"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/engine.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("engine version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if err := cli.ValidateInput(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -config path: %v\n", err)
		os.Exit(1)
	}

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	logger := app.Logger

	tel, err := telemetry.Setup("hkwarrant-engine")
	if err != nil {
		logger.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	eng, alerts, healthMgr, err := buildEngine(app.Cfg, logger)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	if app.Cfg.System.HealthPort != 0 {
		healthSrv := server.NewHealthServer(strconv.Itoa(app.Cfg.System.HealthPort), logger, healthMgr)
		healthSrv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := healthSrv.Stop(shutdownCtx); err != nil {
				logger.Error("health server shutdown failed", "error", err)
			}
		}()
	}

	logger.Info("starting engine",
		"version", version,
		"monitors", len(app.Cfg.Monitors),
		"engine_type", app.Cfg.App.EngineType,
	)

	if err := app.Run(runnerFunc(func(ctx context.Context) error {
		interval := time.Duration(app.Cfg.Timing.MainLoopIntervalMs) * time.Millisecond
		return eng.Run(ctx, interval, func() int64 { return time.Now().UnixMilli() })
	})); err != nil && err != context.Canceled {
		logger.Error("engine exited with error", "error", err)
		alerts.Alert(context.Background(), "engine stopped", err.Error(), alert.Critical, nil)
		os.Exit(1)
	}
}

// runnerFunc adapts a plain function to bootstrap.Runner.
type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

// buildEngine wires every subsystem from cfg into a ready-to-run
// engine.Engine (spec §4.12's main loop, assembled from every other
// module's constructors). It also returns the alert manager and health
// manager main() needs for ops surfaces outside the tick loop itself.
func buildEngine(cfg *config.Config, logger core.ILogger) (*engine.Engine, *alert.AlertManager, *health.HealthManager, error) {
	throttle := broker.NewThrottle(time.Duration(cfg.Timing.BrokerThrottleMs) * time.Millisecond)

	mockQuote := broker.NewMockQuoteClient()
	mockTrade := broker.NewMockTradeClient()
	quoteClient := broker.NewQuoteClient(mockQuote, throttle)
	tradeClient := broker.NewTradeClient(mockTrade, throttle)

	if err := checkBrokerConnectivity(context.Background(), quoteClient, cfg.Broker.Region); err != nil {
		return nil, nil, nil, fmt.Errorf("broker connectivity: %w", err)
	}

	alerts := alert.NewAlertManager(logger)
	if cfg.System.SlackWebhookURL != "" {
		alerts.AddChannel(alert.NewSlackChannel(cfg.System.SlackWebhookURL))
	}
	if cfg.System.TelegramBotToken != "" {
		alerts.AddChannel(alert.NewTelegramChannel(cfg.System.TelegramBotToken, cfg.System.TelegramChatID))
	}

	healthMgr := health.NewHealthManager(logger)
	healthMgr.Register("broker_quote", func() error {
		return checkBrokerConnectivity(context.Background(), quoteClient, cfg.Broker.Region)
	})

	if cfg.Broker.PushURL != "" {
		feed := broker.NewPushFeed(cfg.Broker.PushURL, logger)
		feed.OnQuotePush(mockQuote.PushQuote)
		feed.OnCandlestickPush(mockQuote.PushCandle)
		feed.OnOrderChanged(mockTrade.PushOrderChanged)
		feed.Start()
	}

	registry := seat.NewRegistry()
	autoSymbol := seat.NewAutoSymbolManager(quoteClient, registry,
		logger, int64(cfg.Timing.WarrantListCacheTTLSeconds)*1000)
	cooldown := seat.NewCooldownTracker()

	recorder := order.NewRecorder(tradeClient, logger, "trade_logs")
	monitor := order.NewOrderMonitor(tradeClient, logger,
		int64(cfg.Timing.BuyTimeoutSeconds)*1000,
		int64(cfg.Timing.SellTimeoutSeconds)*1000,
		cfg.Timing.PriceUpdateIntervalMs)

	riskManager := risk.NewManager(logger)
	checker := safety.NewChecker(logger)
	indicatorCache := indicator.NewCache(200)
	verifier := signal.NewVerifier(indicatorCache, logger)

	monitors, err := buildMonitorRuntimes(cfg, indicatorCache)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, mr := range monitors {
		if err := checker.ValidateMonitorConfig(mr.Config); err != nil {
			return nil, nil, nil, fmt.Errorf("monitor validation: %w", err)
		}
	}

	lifecycleMgr := lifecycle.NewManager(logger, realClock{}, time.Second)
	lifecycleMgr.RegisterDomain(indicatorCache)
	lifecycleMgr.RegisterDomain(lifecycle.NewSeatRegistryDomain(registry))
	lifecycleMgr.RegisterDomain(lifecycle.NewCooldownTrackerDomain(cooldown))
	lifecycleMgr.RegisterDomain(lifecycle.NewRiskManagerDomain(riskManager, nil))
	lifecycleMgr.RegisterDomain(lifecycle.NewOrderRecorderDomain(recorder, func(ctx context.Context) ([]string, error) {
		return heldSymbols(registry, monitors), nil
	}))

	monitorCodes := make([]string, 0, len(monitors))
	for code := range monitors {
		monitorCodes = append(monitorCodes, code)
	}
	closeTime, err := doomsday.StandardCloseTime(
		cfg.RiskControl.DoomsdayCloseTime,
		cfg.RiskControl.DoomsdayHalfDayCloseTime,
		nil, // no half-day calendar source wired yet; treats every day as full-day
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("doomsday close time: %w", err)
	}
	doomsdayMgr := doomsday.NewManager(logger, registry, monitor, recorder, monitorCodes,
		cfg.RiskControl.DoomsdayCancelBeforeMinutes,
		cfg.RiskControl.DoomsdayLiquidateBeforeMinutes,
		closeTime,
		func() {
			alerts.Alert(context.Background(), "doomsday liquidation", "close-window liquidation pass completed", alert.Warning, nil)
		},
	)

	gate := startup.NewGate(logger, quoteClient, cfg.Broker.Region,
		startup.SessionWindow{StartHour: 9, StartMinute: 30, EndHour: 16, EndMinute: 0},
		time.Duration(cfg.Timing.OpenProtectionWindowMinutes)*time.Minute,
		time.Duration(cfg.Timing.StartupGatePollIntervalSeconds)*time.Second,
		cfg.App.StrictStartup,
	)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "engine-monitors",
		MaxWorkers:  cfg.Concurrency.MonitorPoolSize,
		MaxCapacity: cfg.Concurrency.MonitorPoolBuffer,
	}, logger)

	eng := engine.New(engine.Deps{
		Logger:         logger,
		Quote:          quoteClient,
		Trade:          tradeClient,
		Registry:       registry,
		AutoSymbol:     autoSymbol,
		Cooldown:       cooldown,
		Recorder:       recorder,
		Monitor:        monitor,
		RiskManager:    riskManager,
		Checker:        checker,
		IndicatorCache: indicatorCache,
		Verifier:       verifier,
		Lifecycle:      lifecycleMgr,
		Doomsday:       doomsdayMgr,
		Gate:           gate,
		Pool:           pool,
		Monitors:       monitors,
	})
	return eng, alerts, healthMgr, nil
}

// checkBrokerConnectivity pings the broker's trading-days endpoint with
// retry, classifying transient network/rate-limit errors as retryable
// (spec §4.11's startup gate needs a reachable quote feed before the
// engine can open its session window).
func checkBrokerConnectivity(ctx context.Context, quote core.IBrokerQuoteClient, market string) error {
	now := time.Now()
	return retry.Do(ctx, retry.DefaultPolicy, errorsIsTransient, func() error {
		_, err := quote.TradingDays(ctx, market, now.AddDate(0, 0, -7), now)
		return err
	})
}

func errorsIsTransient(err error) bool {
	switch {
	case errors.Is(err, apperrors.ErrNetwork),
		errors.Is(err, apperrors.ErrRateLimitExceeded),
		errors.Is(err, apperrors.ErrExchangeMaintenance),
		errors.Is(err, apperrors.ErrSystemOverload):
		return true
	default:
		return false
	}
}

// buildMonitorRuntimes converts every config.MonitorYAML into a
// engine.MonitorRuntime, pairing its parsed core.MonitorConfig with an
// indicator computer and the close-only strategy the signal pipeline
// drives (spec §4.3, §4.12).
func buildMonitorRuntimes(cfg *config.Config, cache *indicator.Cache) (map[string]engine.MonitorRuntime, error) {
	out := make(map[string]engine.MonitorRuntime, len(cfg.Monitors))
	for _, my := range cfg.Monitors {
		mc, err := my.ToCore()
		if err != nil {
			return nil, fmt.Errorf("monitor %s: %w", my.Code, err)
		}
		computer := indicator.NewComputer(indicator.Periods{
			RSI: mc.IndicatorPeriodsRSI,
			EMA: mc.IndicatorPeriodsEMA,
			PSY: mc.IndicatorPeriodsPSY,
		})
		out[mc.Code] = engine.MonitorRuntime{
			Config:   mc,
			Computer: computer,
			Strategy: signal.NewDistanceCloseStrategy(),
		}
	}
	return out, nil
}

// heldSymbols collects every symbol currently held across every
// monitor's two seats, for the order recorder's open-rebuild fetch.
func heldSymbols(registry *seat.Registry, monitors map[string]engine.MonitorRuntime) []string {
	var out []string
	for code := range monitors {
		for _, dir := range [2]core.Direction{core.DirectionLong, core.DirectionShort} {
			if s := registry.Get(code, dir); s.Symbol != "" {
				out = append(out, s.Symbol)
			}
		}
	}
	return out
}

// realClock implements core.IClock from wall-clock time, used only to
// seed the lifecycle manager's day-key bookkeeping at startup.
type realClock struct{}

func (realClock) NowMs() int64   { return time.Now().UnixMilli() }
func (realClock) Now() time.Time { return time.Now() }
