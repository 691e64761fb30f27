package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tokenbridge/bridge-relayer/chain"
	"github.com/tokenbridge/bridge-relayer/config"
	"github.com/tokenbridge/bridge-relayer/db"
	"github.com/tokenbridge/bridge-relayer/metrics"
	"github.com/tokenbridge/bridge-relayer/txrelayer"
)

func StartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start relaying deposits",
		Run:   StartAction,
	}
}

func StartAction(c *cobra.Command, _ []string) {
	cfg, parentLogger := loadConfig(c)
	logger := parentLogger.Sugar()
	relayerMetrics := metrics.NewRelayerMetrics(prometheus.DefaultRegisterer)

	var app *application
	err := startWithRetry(cfg.Relayer, func() error {
		var err error
		app, err = newApplication(cfg, relayerMetrics, logger)
		return err
	}, logger)
	if err != nil {
		logger.Errorf("failed to start after %d attempts: %v", cfg.Relayer.StartupAttempts, err)
		_ = parentLogger.Sync()
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Relayer.MetricsAddr != "" {
		metricsServer = startMetricsServer(cfg.Relayer.MetricsAddr, logger)
	}

	app.relayer.Start()
	logger.Infof("%s relayer started, chains: %s, %s", app.relayer.Name(), cfg.ChainA.Name, cfg.ChainB.Name)

	addInterruptHandler(func() {
		logger.Infof("Stopping %s relayer...", app.relayer.Name())
		app.relayer.Stop()
		app.relayer.WaitForShutdown()
		logger.Infof("%s relayer shutdown", app.relayer.Name())

		if metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(ctx); err != nil {
				logger.Warnf("failed to shutdown metrics server: %v", err)
			}
		}
		app.Close()
	})
	<-interruptHandlersDone
	parentLogger.Info("Shutdown complete")
	_ = parentLogger.Sync()
}

// startWithRetry calls start until it succeeds, at most cfg.StartupAttempts times with
// cfg.StartupRetryDelay in between. The last error is returned once attempts run out.
func startWithRetry(cfg config.RelayerConfig, start func() error, logger *zap.SugaredLogger) error {
	return retry.Do(
		start,
		retry.Attempts(cfg.StartupAttempts),
		retry.Delay(cfg.StartupRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warnf("startup attempt %d/%d failed: %v", n+1, cfg.StartupAttempts, err)
		}),
	)
}

// application holds everything opened during startup.
type application struct {
	gormDB  *gorm.DB
	levelDB db.IDB
	clients []*chain.Client
	relayer *txrelayer.BridgeRelayer

	logger *zap.SugaredLogger
}

// newApplication opens the store, migrates it and dials both chains. On error everything
// opened so far is closed again.
func newApplication(cfg config.Config, m *metrics.RelayerMetrics, logger *zap.SugaredLogger) (_ *application, err error) {
	app := &application{logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.gormDB, err = db.Init(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(app.gormDB); err != nil {
		return nil, err
	}

	cursors, err := app.cursorStore(cfg)
	if err != nil {
		return nil, err
	}

	var chains []*txrelayer.Chain
	for _, chainCfg := range cfg.Chains() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Relayer.RpcTimeout)
		client, err := chain.New(ctx, chainCfg, cfg.Signer.PrivateKey, logger)
		cancel()
		if err != nil {
			return nil, err
		}
		app.clients = append(app.clients, client)
		chains = append(chains, txrelayer.NewChain(client, chainCfg))
	}

	deposits := db.NewDepositRepository(app.gormDB)
	distributions := db.NewDistributionRepository(app.gormDB)
	poller := txrelayer.NewPoller(cfg.Relayer, deposits, cursors, m, logger, chains...)
	distributor := txrelayer.NewDistributor(cfg.Relayer, deposits, distributions, m, logger, chains[0], chains[1])
	app.relayer = txrelayer.NewBridgeRelayer(poller, distributor, cfg.Relayer.RestartDelay, logger)

	return app, nil
}

func (app *application) cursorStore(cfg config.Config) (txrelayer.CursorStore, error) {
	if cfg.Relayer.CursorBackend != config.CursorBackendLevelDB {
		return db.NewConfigCursorStore(app.gormDB), nil
	}

	levelDB, err := db.NewLevelDB(cfg.Relayer.LevelDBDir)
	if err != nil {
		return nil, err
	}
	app.levelDB = levelDB

	return db.NewLevelDBCursorStore(levelDB), nil
}

func (app *application) Close() {
	for _, client := range app.clients {
		client.Close()
	}
	if app.levelDB != nil {
		if err := app.levelDB.Close(); err != nil {
			app.logger.Warnf("failed to close leveldb: %v", err)
		}
	}
	if app.gormDB != nil {
		if err := db.Close(app.gormDB); err != nil {
			app.logger.Warnf("failed to close database: %v", err)
		}
	}
}

func startMetricsServer(addr string, logger *zap.SugaredLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Infof("Starting metrics endpoint on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server failed: %v", err)
		}
	}()

	return server
}
