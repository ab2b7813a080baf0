package main

import (
	"context"
	"errors"
	"log"
	nethttp "net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/layer-3/tollgate/adapters/chain"
	"github.com/layer-3/tollgate/adapters/events"
	"github.com/layer-3/tollgate/adapters/generator"
	"github.com/layer-3/tollgate/adapters/metrics"
	"github.com/layer-3/tollgate/adapters/store"
	"github.com/layer-3/tollgate/adapters/tokenizer"
	"github.com/layer-3/tollgate/config"
	"github.com/layer-3/tollgate/ports"
	"github.com/layer-3/tollgate/service"
	"github.com/layer-3/tollgate/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const shutdownTimeout = 10 * time.Second

type ledgerStore interface {
	ports.Ledger
	ports.ChallengeStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting tollgate", zap.Stringer("config", cfg))

	// Chain verifiers
	ethClient, err := ethclient.DialContext(ctx, cfg.BaseRPCURL)
	if err != nil {
		logger.Fatal("Failed to connect to base RPC", zap.Error(err))
	}
	defer ethClient.Close()

	evmVerifier, err := chain.NewEVMVerifier(ethClient)
	if err != nil {
		logger.Fatal("Failed to create EVM verifier", zap.Error(err))
	}
	solanaVerifier := chain.NewSolanaVerifier(rpc.New(cfg.SolanaRPCURL))

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	// Ledger and challenge store
	ledger := newLedger(ctx, cfg, redisClient, logger)

	// Events
	wmLogger := watermill.NewStdLogger(cfg.LogLevel == "debug", false)
	publisher := newPublisher(ctx, cfg, redisClient, wmLogger, logger)
	defer publisher.Close()

	eventPub := ports.EventPublisher(ports.NopPublisher{})
	if cfg.EventsBackend != "none" {
		eventPub = events.NewWatermillPublisher(publisher)
	}

	// License signer
	var signer ports.LicenseSigner
	switch cfg.LicenseFormat {
	case "jwt":
		signer = tokenizer.NewJWTSigner([]byte(cfg.LicenseSecret))
	default:
		signer = tokenizer.NewCompactSigner([]byte(cfg.LicenseSecret))
	}

	// Generator
	var gen ports.Generator = generator.Placeholder{}
	if cfg.GeneratorURL != "" {
		gen = generator.NewUpstream(cfg.GeneratorURL, cfg.GeneratorToken, 2*time.Minute)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	paymentService := service.NewPaymentService(
		cfg.PaymentOptions(),
		[]ports.ChainVerifier{evmVerifier, solanaVerifier},
		ledger,
		ledger,
		signer,
		service.WithLogger(logger),
		service.WithMetrics(metrics.NewPrometheusRecorder(registry)),
		service.WithEventPublisher(eventPub),
		service.WithRPCTimeout(cfg.RPCTimeout),
		service.WithChallengeTTL(cfg.ChallengeTTL),
		service.WithLicenseTTL(cfg.LicenseTTL),
	)

	// Setup Gin router
	router := http.SetupRouter(paymentService, gen, registry, logger)

	server := &nethttp.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, nethttp.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down server", zap.Error(err))
		}
	}
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	return logger
}

func newLedger(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) ledgerStore {
	switch cfg.LedgerBackend {
	case "redis":
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to reach Redis", zap.Error(err))
		}
		return store.NewRedisStore(redisClient, "tollgate:")
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		s := store.NewPostgresStore(pool, "")
		if err := s.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate Postgres", zap.Error(err))
		}
		return s
	default:
		logger.Warn("using in-memory ledger; redemptions are lost on restart and not shared between instances")
		return store.NewMemoryStore()
	}
}

func newPublisher(ctx context.Context, cfg *config.Config, redisClient *redis.Client, wmLogger watermill.LoggerAdapter, logger *zap.Logger) message.Publisher {
	switch cfg.EventsBackend {
	case "redis":
		// Initialize Watermill Redis publisher
		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: redisClient,
			},
			wmLogger,
		)
		if err != nil {
			logger.Fatal("Failed to create Redis publisher", zap.Error(err))
		}
		return publisher
	default:
		pubSub := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
		if cfg.EventsBackend == "gochannel" {
			messages, err := pubSub.Subscribe(ctx, events.RedemptionTopic)
			if err != nil {
				logger.Fatal("Failed to subscribe to redemptions", zap.Error(err))
			}
			go logRedemptions(messages, logger)
		}
		return pubSub
	}
}

func logRedemptions(messages <-chan *message.Message, logger *zap.Logger) {
	for msg := range messages {
		logger.Info("redemption event",
			zap.String("message_id", msg.UUID),
			zap.String("nonce", msg.Metadata.Get("nonce")),
			zap.ByteString("payload", msg.Payload),
		)
		msg.Ack()
	}
}
