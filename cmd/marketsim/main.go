// Command marketsim is the composition root: it loads configuration,
// connects every capability-gated backend, wires the pricing/matching/
// risk/engine stack, warms state, and serves HTTP + WebSocket until
// SIGINT/SIGTERM. Adapted from the teacher's cmd/feedsim/main.go.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/virtualbank/marketsim/internal/analytics"
	"github.com/virtualbank/marketsim/internal/archive"
	"github.com/virtualbank/marketsim/internal/config"
	"github.com/virtualbank/marketsim/internal/dataset"
	"github.com/virtualbank/marketsim/internal/engine"
	"github.com/virtualbank/marketsim/internal/matching"
	"github.com/virtualbank/marketsim/internal/persistence"
	"github.com/virtualbank/marketsim/internal/pricing"
	"github.com/virtualbank/marketsim/internal/risk"
	"github.com/virtualbank/marketsim/internal/rng"
	"github.com/virtualbank/marketsim/internal/transporthttp"
	"github.com/virtualbank/marketsim/internal/transportws"
)

func main() {
	cfg := config.Load()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	log.Info().Msg("market simulator starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	instruments, err := dataset.Load(cfg.DatasetPath)
	if err != nil {
		log.Fatal().Err(err).Msg("dataset load failed")
	}
	log.Info().Int("instruments", len(instruments)).Msg("dataset loaded")

	generator := rng.New(cfg.Seed)
	pricingSvc, err := pricing.New(instruments, pricing.DefaultRegimes(), generator)
	if err != nil {
		log.Fatal().Err(err).Msg("pricing service init failed")
	}

	store, err := persistence.NewStore(ctx, cfg.MongoURI, log)
	if err != nil {
		log.Fatal().Err(err).Msg("mongodb connection failed")
	}
	defer store.Close(context.Background())
	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("mongodb index migration failed")
	}

	var cache *persistence.Cache
	if cfg.RedisURL != "" {
		cache, err = persistence.NewCache(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Warn().Err(err).Msg("redis cache disabled: connect failed")
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	sink := analytics.New(ctx, analytics.Options{
		Host:     cfg.ClickHouseHost,
		Port:     cfg.ClickHousePort,
		Username: cfg.ClickHouseUser,
		Password: cfg.ClickHousePassword,
		Database: cfg.ClickHouseDatabase,
	}, log)
	defer sink.Close()

	riskGateway := risk.New(cfg.RiskBaseURL, cfg.RiskTimeout, log)

	symbols := make([]string, len(instruments))
	for i, inst := range instruments {
		symbols[i] = inst.Symbol
	}
	matchingSvc := matching.New(pricingSvc, store, riskGateway, sink, symbols, matching.Config{
		DropResidualMarketOrders: cfg.DropResidualMarketOrders,
		MaxRegistrySize:          cfg.MaxRegistrySize,
	})

	orc := engine.New(engine.Config{
		TickInterval:         cfg.TickInterval,
		NewsInterval:         cfg.NewsInterval,
		RegimeRotateInterval: cfg.RegimeRotateInterval,
	}, pricingSvc, matchingSvc, store, cache, sink, log)

	if err := orc.WarmState(ctx); err != nil {
		log.Fatal().Err(err).Msg("warm start failed")
	}
	orc.Start(ctx)
	defer orc.Stop()

	if cfg.S3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
		if err != nil {
			log.Warn().Err(err).Msg("trade archival disabled: aws config load failed")
		} else {
			s3Client := s3.NewFromConfig(awsCfg)
			archiver := archive.New(store, s3Client, cfg.S3Bucket, cfg.S3Prefix, cfg.ArchiveInterval, cfg.ArchiveOlderThan, log)
			go archiver.Run(ctx)
		}
	}

	mux := http.NewServeMux()
	transporthttp.NewServer(orc).Register(mux)
	mux.HandleFunc("GET /ws/ticks", transportws.Handler(orc, log))

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("serving http and websocket")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}

	log.Info().Msg("market simulator stopped")
}
