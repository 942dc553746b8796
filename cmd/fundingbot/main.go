// Command fundingbot runs the funding-rate arbitrage engine: it loads
// configuration, builds the configured venues and strategies, and
// drives the supervisor's scan/monitor loop until a shutdown signal
// arrives. Grounded on the teacher's cmd/orchestrator/main.go for flag
// parsing, signal handling, and the --verify-keys preflight mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fundingbot/fundingbot/internal/alerts"
	"github.com/fundingbot/fundingbot/internal/bus"
	"github.com/fundingbot/fundingbot/internal/clock"
	"github.com/fundingbot/fundingbot/internal/config"
	"github.com/fundingbot/fundingbot/internal/obslog"
	"github.com/fundingbot/fundingbot/internal/perf"
	"github.com/fundingbot/fundingbot/internal/risk"
	"github.com/fundingbot/fundingbot/internal/store"
	"github.com/fundingbot/fundingbot/internal/strategy"
	"github.com/fundingbot/fundingbot/internal/supervisor"
	"github.com/fundingbot/fundingbot/internal/venue"
)

func main() {
	configPath := flag.String("config", "", "path to bot_config.json (defaults to ./config/bot_config.json)")
	verifyKeys := flag.Bool("verify-keys", false, "verify exchange/database/vault configuration, then exit")
	flag.Parse()

	if *verifyKeys {
		os.Exit(runVerifyKeys(*configPath))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := obslog.Init(cfg.LogLevel, cfg.LogFile, cfg.LogFile == ""); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logging: %v\n", err)
		os.Exit(1)
	}
	log := obslog.Component("fundingbot")
	log.Info().Str("bot_name", cfg.BotName).Bool("simulation_mode", cfg.SimulationMode).Msg("starting fundingbot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Vault.Enabled {
		if err := config.LoadSecretsFromVault(ctx, cfg, cfg.Vault); err != nil {
			log.Fatal().Err(err).Msg("failed to load secrets from vault")
		}
	}

	sup, closers, err := buildSupervisor(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build engine")
	}
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- sup.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		log.Info().Msg("initiating graceful shutdown")
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil {
			log.Error().Err(err).Msg("supervisor exited with error")
		}
	}

	log.Info().Msg("fundingbot shutdown complete")
}

// buildSupervisor wires every configured component together per
// SPEC_FULL.md §7/§9: venues, the circuit-breaker-gated retrier on
// each, the strategy composite derived from cfg.Exchanges x
// cfg.Strategies, the risk manager, performance tracker, persisted
// state, alerting, and the optional NATS event bus. It returns a slice
// of cleanup closures the caller runs on exit.
func buildSupervisor(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*supervisor.Supervisor, []func(), error) {
	var closers []func()

	clk := clock.Real{}

	cbMgr := risk.NewCircuitBreakerManager()

	venues := make(map[string]venue.Venue, len(cfg.Exchanges))
	for name, exCfg := range cfg.Exchanges {
		venues[name] = buildVenue(name, exCfg, cfg.SimulationMode, cbMgr, clk, log)
	}

	alertMgr := buildAlertManager(cfg, cbMgr, log)

	riskMgr := risk.NewManager(cfg.RiskConfig, log)
	tracker := perf.NewTracker()

	fileStore, err := store.NewFileStore("./data", log)
	if err != nil {
		return nil, nil, fmt.Errorf("build file store: %w", err)
	}
	riskMgr.LoadPositions(fileStore.LoadPositions())
	if stats, ok := fileStore.LoadPerformance(); ok {
		tracker.Restore(stats)
	}

	if cfg.Database.Host != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.GetDSN(), log)
		if err != nil {
			log.Warn().Err(err).Msg("postgres store unavailable, continuing with file store only")
		} else {
			pg.WithBreaker(cbMgr.Database())
			closers = append(closers, pg.Close)
		}
	}

	strat, err := buildStrategy(cfg, venues, clk, alertMgr, log)
	if err != nil {
		return nil, nil, fmt.Errorf("build strategy: %w", err)
	}

	var busPub *bus.Publisher
	if cfg.NATS.URL != "" {
		b, err := bus.Connect(bus.Config{URL: cfg.NATS.URL, Prefix: cfg.NATS.Prefix}, log)
		if err != nil {
			log.Warn().Err(err).Msg("event bus unavailable, continuing without it")
		} else {
			busPub = b
			closers = append(closers, b.Close)
		}
	}

	scanInterval := minScanInterval(cfg.Strategies)
	sup := supervisor.New(
		supervisor.Config{ScanInterval: scanInterval, CapitalBaseUSD: cfg.RiskConfig.MaxTotalPositionUSD},
		strat, riskMgr, tracker, fileStore, venues, clk, alertMgr, log, busPub,
	)
	return sup, closers, nil
}

// buildVenue constructs the real Binance adapter or a paper-trading
// Mock, per exchange name and simulation_mode, with the exchange
// circuit breaker wired into every retried call.
func buildVenue(name string, exCfg config.ExchangeConfig, simulate bool, cbMgr *risk.CircuitBreakerManager, clk clock.Clock, log zerolog.Logger) venue.Venue {
	venueLog := log.With().Str("venue", name).Logger()
	if simulate || strings.ToLower(name) != "binance" {
		return venue.NewMock(name, clk)
	}
	return venue.NewBinance(venue.BinanceConfig{
		APIKey:    exCfg.APIKey,
		APISecret: exCfg.APISecret,
		Testnet:   exCfg.UseTestnet,
	}, venueLog).WithBreaker(cbMgr.Exchange())
}

// buildAlertManager assembles the configured alert fan-out (log +
// console always, Telegram when a bot token is configured), gated by
// the notify circuit breaker so a stuck Telegram endpoint cannot stall
// the monitor loop.
func buildAlertManager(cfg *config.Config, cbMgr *risk.CircuitBreakerManager, log zerolog.Logger) *alerts.Manager {
	alerters := []alerts.Alerter{alerts.NewLogAlerter(), alerts.NewConsoleAlerter()}
	if cfg.Telegram.BotToken != "" {
		tg, err := alerts.NewTelegramAlerter(cfg.Telegram.BotToken, cfg.Telegram.ChatIDs, log.With().Str("component", "telegram_alerter").Logger())
		if err != nil {
			log.Warn().Err(err).Msg("telegram alerter unavailable, continuing without it")
		} else {
			alerters = append(alerters, tg)
		}
	}
	return alerts.NewManager(alerters...).WithBreaker(cbMgr.Notify())
}

// buildStrategy derives one strategy instance per venue combination
// named in cfg.Strategies and wraps them in a Composite, since the
// JSON config shape (spec §6) ties a strategy entry to a type and
// thresholds, not to a venue pairing.
func buildStrategy(cfg *config.Config, venues map[string]venue.Venue, clk clock.Clock, alertMgr *alerts.Manager, log zerolog.Logger) (strategy.Strategy, error) {
	names := make([]string, 0, len(venues))
	for n := range venues {
		names = append(names, n)
	}

	var children []strategy.Strategy
	for _, sc := range cfg.Strategies {
		switch sc.Type {
		case "same_venue_spot_perp":
			for _, n := range names {
				s := strategy.NewSameVenueSpotPerp(venues[n], clk, alertMgr, log)
				s.SetMinFundingRate(sc.MinFundingRate)
				s.SetMinExpectedProfit(sc.MinExpectedProfit)
				children = append(children, s)
			}
		case "cross_venue_perp":
			for i := 0; i < len(names); i++ {
				for j := i + 1; j < len(names); j++ {
					s := strategy.NewCrossVenuePerp(venues[names[i]], venues[names[j]], clk, alertMgr, log)
					s.SetMinFundingRate(sc.MinFundingRate)
					s.SetMinExpectedProfit(sc.MinExpectedProfit)
					children = append(children, s)
				}
			}
		case "cross_venue_spot_perp":
			for _, spotName := range names {
				for _, perpName := range names {
					if spotName == perpName {
						continue
					}
					s := strategy.NewCrossVenueSpotPerp(venues[spotName], venues[perpName], clk, alertMgr, log)
					s.SetMinFundingRate(sc.MinFundingRate)
					s.SetMinExpectedProfit(sc.MinExpectedProfit)
					children = append(children, s)
				}
			}
		default:
			return nil, fmt.Errorf("unknown strategy type %q", sc.Type)
		}
	}

	if len(children) == 0 {
		return nil, fmt.Errorf("no strategy instances could be built from config")
	}
	return strategy.NewComposite(children...), nil
}

// minScanInterval derives the supervisor's single tick interval from
// the fastest configured strategy, since supervisor.Config holds one
// ScanInterval shared by every child in the composite.
func minScanInterval(strategies []config.StrategyConfig) time.Duration {
	shortest := 60 * time.Second
	first := true
	for _, s := range strategies {
		d := time.Duration(s.ScanIntervalSeconds) * time.Second
		if first || d < shortest {
			shortest = d
			first = false
		}
	}
	return shortest
}

// runVerifyKeys is the --verify-keys preflight: it loads configuration
// and reports whether exchange, database, and vault settings look
// usable, without opening any live connections. Grounded on the
// teacher's verifyAPIKeys.
func runVerifyKeys(configPath string) int {
	fmt.Println("Verifying fundingbot configuration...")

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("FAILED to load configuration: %v\n", err)
		return 1
	}

	allValid := true

	if len(cfg.Exchanges) == 0 {
		fmt.Println("FAILED: no exchanges configured")
		allValid = false
	}
	for name, ex := range cfg.Exchanges {
		if cfg.SimulationMode {
			fmt.Printf("OK: exchange %q (simulation_mode, credentials not required)\n", name)
			continue
		}
		if ex.APIKey == "" || ex.APISecret == "" {
			fmt.Printf("FAILED: exchange %q missing api_key/api_secret\n", name)
			allValid = false
			continue
		}
		fmt.Printf("OK: exchange %q credentials present\n", name)
	}

	if errs := config.ValidateProductionSecrets(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Printf("WARNING: %s\n", e.Error())
		}
	}

	if cfg.Database.Host == "" {
		fmt.Println("FAILED: database.host not configured")
		allValid = false
	} else {
		fmt.Printf("OK: database host %q configured\n", cfg.Database.Host)
	}

	if cfg.Vault.Enabled {
		if cfg.Vault.Address == "" {
			fmt.Println("FAILED: vault enabled but vault.address not configured")
			allValid = false
		} else {
			fmt.Printf("OK: vault enabled against %q\n", cfg.Vault.Address)
		}
	}

	if allValid {
		fmt.Println("All configuration checks passed.")
		return 0
	}
	fmt.Println("One or more configuration checks failed; fix the above before starting.")
	return 1
}
