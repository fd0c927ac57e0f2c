package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"

	"SpotLedger/internal/chain"
	"SpotLedger/internal/config"
	"SpotLedger/internal/engine"
	"SpotLedger/internal/ingestion"
	"SpotLedger/internal/observability"
	"SpotLedger/internal/persistence"
	"SpotLedger/internal/projection"
	"SpotLedger/internal/query"
	"SpotLedger/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file (optional)")
	flag.Parse()

	log := observability.NewLogger("spotledger")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime.Duration)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, log)
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Chain bindings (optional) ---
	engineCfg := engine.Config{
		Owner:                  common.HexToAddress(cfg.Ledger.OwnerAddress),
		NativeSymbol:           cfg.Ledger.NativeSymbol,
		FeeWallet:              common.HexToAddress(cfg.Ledger.FeeWallet),
		ChainPropagationPeriod: cfg.Ledger.ChainPropagationPeriod,
		MinimumDepositInPips:   cfg.Ledger.MinimumDepositPips,
		Metrics:                metrics,
	}

	if cfg.Chain.EthURL != "" {
		chainClient, err := chain.Dial(cfg.Chain.EthURL, cfg.Chain.ChainID, cfg.Chain.OperatorKeyHex, log)
		if err != nil {
			log.Fatal().Err(err).Msg("chain dial")
		}
		defer chainClient.Close()

		engineCfg.Tokens = chainClient
		engineCfg.Pairs = chainClient
		if cfg.Chain.CustodianAddress != "" {
			engineCfg.Custodian = chainClient.Custodian(common.HexToAddress(cfg.Chain.CustodianAddress))
		}
		if cfg.Chain.PairFactoryAddress != "" {
			engineCfg.PairFactory = chainClient.Factory(common.HexToAddress(cfg.Chain.PairFactoryAddress))
		}
	} else {
		log.Warn().Msg("no chain endpoint configured, running ledger-only")
	}

	// --- Engine + recovery ---
	eng := engine.New(engineCfg, log)

	replayer := persistence.NewReplayer(db, metrics, log)
	replayed, err := replayer.Replay(ctx, eng)
	if err != nil {
		log.Fatal().Err(err).Msg("journal replay")
	}
	log.Info().Uint64("events", replayed).Uint64("sequence", eng.Sequence()).Msg("journal replayed")

	// --- Channels ---
	// Persist blocks (backpressure into the loop); projection and publish drop
	// when full, the journal is the system of record.
	persistChan := make(chan engine.Output, cfg.Channels.PersistSize)
	projectionChan := make(chan engine.Output, cfg.Channels.ProjectionSize)
	publishChan := make(chan engine.Output, cfg.Channels.PublishSize)

	loop := engine.NewLoop(eng, persistChan, projectionChan, publishChan, metrics, log)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, log); err != nil {
		log.Fatal().Err(err).Msg("ensure nats streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, log); err != nil {
		log.Fatal().Err(err).Msg("ensure outbound stream")
	}

	rawEventChan := make(chan ingestion.RawEvent, cfg.Channels.RawEventSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawEventChan, log)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("nats subscribe")
	}

	dispatcher := eng.Dispatcher()
	if dispatcher == (common.Address{}) && cfg.Ledger.DispatcherAddress != "" {
		dispatcher = common.HexToAddress(cfg.Ledger.DispatcherAddress)
	}
	processor := ingestion.NewProcessor(loop, rawEventChan, ingestion.DefaultSubjects(), dispatcher, metrics, log)

	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan, log)

	// --- Workers + servers ---
	persistWorker := persistence.NewWorker(db, persistChan, cfg.Persist.BatchSize, cfg.Persist.FlushTimeout.Duration, metrics, log)
	projectionWorker := projection.NewWorker(db, projectionChan, metrics, log)
	queryService := query.NewService(db, metrics, log)

	gateway := server.New(cfg.Server.HTTPAddr, server.Deps{
		Loop:    loop,
		Queries: queryService,
		DB:      db,
		Health:  healthChecker,
		Metrics: metrics,
	}, log)

	// Workers get their own context: on shutdown the output channels are
	// closed once the loop has drained, so the workers exit through their
	// final-flush path instead of a cancellation race.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	errChan := make(chan error, 8)
	loopDone := make(chan struct{})
	persistDone := make(chan struct{})

	go func() {
		loop.Run(ctx)
		close(loopDone)
	}()
	go func() {
		err := persistWorker.Run(workerCtx)
		if err != nil && err != context.Canceled {
			errChan <- err
		}
		close(persistDone)
	}()
	go func() { projectionWorker.Run(workerCtx) }()
	go func() { outboundPublisher.Run(workerCtx) }()
	go func() { errChan <- processor.Run(ctx) }()
	go func() { errChan <- gateway.Start(ctx) }()

	// The dispatcher from config is applied once through governance on a fresh
	// journal; replayed journals already carry it.
	if eng.Dispatcher() == (common.Address{}) && cfg.Ledger.DispatcherAddress != "" {
		tx := engine.TxContext{
			Caller:      common.HexToAddress(cfg.Ledger.OwnerAddress),
			TimestampMs: uint64(time.Now().UnixMilli()),
		}
		_, err := loop.Submit(ctx, "set_dispatcher", func(e *engine.Engine) (engine.Output, error) {
			return e.SetDispatcher(tx, dispatcher)
		})
		if err != nil {
			log.Fatal().Err(err).Msg("set dispatcher")
		}
		log.Info().Str("dispatcher", dispatcher.Hex()).Msg("dispatcher configured")
	}

	healthChecker.SetReady(true)
	log.Info().
		Uint64("sequence", eng.Sequence()).
		Str("http", cfg.Server.HTTPAddr).
		Msg("spotledger ready")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("component failed, shutting down")
	}

	healthChecker.SetReady(false)

	// Stop intake, let the loop drain its queued requests, then close the
	// output channels so the persistence worker runs its final flush.
	subscriber.Stop()
	cancel()

	select {
	case <-loopDone:
	case <-time.After(10 * time.Second):
		log.Error().Msg("loop drain timed out")
	}

	close(persistChan)
	close(projectionChan)
	close(publishChan)

	select {
	case <-persistDone:
	case <-time.After(30 * time.Second):
		log.Error().Msg("final persistence flush timed out")
	}
	workerCancel()

	log.Info().Msg("shutdown complete")
}
