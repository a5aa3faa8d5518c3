package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"swave/config"
	"swave/gateway"
	gwmiddleware "swave/gateway/middleware"
	"swave/ledger"
	"swave/native/collateral"
	nativecommon "swave/native/common"
	"swave/native/credit"
	"swave/native/loan"
	"swave/native/oracle"
	"swave/observability"
	"swave/observability/logging"
	"swave/storage"
)

func main() {
	configFile := flag.String("config", "", "Path to the TOML configuration file")
	listenFlag := flag.String("listen", "", "Listen address override (e.g. :8545)")
	envFlag := flag.String("env", "", "Deployment environment label for log lines")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}
	if *listenFlag != "" {
		cfg.Gateway.ListenAddress = *listenFlag
	}

	logger := logging.Setup("swaved", *envFlag, logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		FilePath:   cfg.Log.FilePath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		logger.Error("open storage", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	book := ledger.NewLedger(store)

	prices := oracle.NewAggregator(cfg.Oracle.Priority, cfg.OracleMaxAge())
	manual := oracle.NewManualOracle()
	prices.Register("manual", manual)
	prices.Register("coingecko", oracle.NewCoinGeckoOracle(
		&http.Client{Timeout: 10 * time.Second},
		cfg.Oracle.CoinGeckoEndpoint,
		cfg.Oracle.CoinGeckoIDs,
	))

	pauses := nativecommon.NewPauseSet()
	admins := nativecommon.NewAdminSet(cfg.AdminAddresses()...)

	custodian := collateral.NewEngine(cfg.CustodyAddress(), collateral.Params{
		LiquidationThresholdBps: cfg.Collateral.LiquidationThresholdBps,
		LiquidationPenaltyBps:   cfg.Collateral.LiquidationPenaltyBps,
		MinLockValueUSD:         cfg.MinLockValue(),
	})
	custodian.SetState(store)
	custodian.SetTransfers(book)
	custodian.SetPriceOracle(prices)
	custodian.SetPriceOverride(manual)
	custodian.SetPauses(pauses)
	custodian.SetAuthorizer(admins)

	if cfg.Collateral.SeedDefaultAssets {
		if err := seedAssets(store, custodian); err != nil {
			logger.Error("seed asset registry", "error", err)
			os.Exit(1)
		}
	}

	loans := loan.NewEngine(cfg.TreasuryAddress(), loan.Params{
		MinLoan:                cfg.MinLoanAmount(),
		MaxLoan:                cfg.MaxLoanAmount(),
		BaseRateBps:            cfg.Loan.BaseRateBps,
		UnsecuredTermDays:      cfg.Loan.UnsecuredTermDays,
		CollateralizedTermDays: cfg.Loan.CollateralizedTermDays,
		CollateralRatioBps:     cfg.Loan.CollateralRatioBps,
		DefaultCollateralAsset: cfg.Loan.DefaultCollateralAsset,
	})
	scores := credit.NewStaticScorer()
	loans.SetState(store)
	loans.SetTransfers(book)
	loans.SetScorer(scores)
	loans.SetCustodian(custodian)
	loans.SetPauses(pauses)

	server := gateway.NewServer(gateway.Options{
		Loans:        loans,
		Positions:    custodian,
		Liquidations: store,
		Pauses:       pauses,
		Auth:         admins,
		Scores:       scores,
		Logger:       logger,
		LogRequests:  true,
		RateLimits: map[string]gwmiddleware.RateLimit{
			"loans":      {RequestsPerMinute: 120, Burst: 20},
			"collateral": {RequestsPerMinute: 120, Burst: 20},
		},
	})

	engineEvents := observability.NewEngineEvents(server.MetricsRegistry())
	loans.SetEmitter(engineEvents)
	custodian.SetEmitter(engineEvents)

	httpServer := &http.Server{
		Addr:         cfg.Gateway.ListenAddress,
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.Gateway.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Gateway.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("gateway listening", "address", cfg.Gateway.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

// seedAssets registers the bootstrap assets unless the registry already holds
// them, so operator price overrides survive restarts.
func seedAssets(store *storage.Store, custodian *collateral.Engine) error {
	for _, asset := range collateral.DefaultAssets(time.Now().Unix()) {
		existing, err := store.GetAsset(asset.Code)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := custodian.RegisterAsset(asset); err != nil {
			return err
		}
	}
	return nil
}
