package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iho/custody/internal/adapter/collaborator"
	httpAdapter "github.com/iho/custody/internal/adapter/http"
	"github.com/iho/custody/internal/adapter/http/handler"
	"github.com/iho/custody/internal/adapter/http/middleware"
	"github.com/iho/custody/internal/adapter/repository/memory"
	pebbleRepo "github.com/iho/custody/internal/adapter/repository/pebble"
	postgresRepo "github.com/iho/custody/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/custody/internal/adapter/repository/redis"
	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/infrastructure/auth"
	"github.com/iho/custody/internal/infrastructure/config"
	"github.com/iho/custody/internal/infrastructure/eventpublisher"
	"github.com/iho/custody/internal/infrastructure/logger"
	"github.com/iho/custody/internal/infrastructure/metrics"
	"github.com/iho/custody/internal/infrastructure/postgres"
	"github.com/iho/custody/internal/infrastructure/redis"
	"github.com/iho/custody/internal/ledger"
	"github.com/iho/custody/internal/usecase"
)

// Engine versions shipped with this binary.
const (
	exchangeV1 domain.WriterID = "exchange/v1"
	exchangeV2 domain.WriterID = "exchange/v2"
	escrowV1   domain.WriterID = "escrow/v1"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	l := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.SetGlobal(l)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if err := run(ctx, cfg, l); err != nil {
		stop()
		log.Fatal().Err(err).Msg("server failed")
	}
	stop()
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config, l zerolog.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer)
	health := handler.NewHealthHandler()

	st, err := openStorage(ctx, cfg, l, health)
	if err != nil {
		return err
	}
	defer st.Close()

	registryCfg, err := collaborator.ParseConfig(cfg.TradableAssets, cfg.ApprovalAssets, cfg.PaymentAgents, cfg.AssetApprovers)
	if err != nil {
		return fmt.Errorf("collaborator config: %w", err)
	}
	registry := collaborator.NewRegistry(registryCfg, l)

	app, err := buildApp(ctx, cfg, st, registry, m, l)
	if err != nil {
		return err
	}

	// Redis is optional; without it idempotency keys are ignored.
	var (
		redisClient *goredis.Client
		idempotency usecase.IdempotencyStore
	)
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL,
			redis.WithPoolSize(cfg.RedisPoolSize),
			redis.WithDialTimeout(cfg.RedisDialTimeout),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		l.Info().Msg("connected to redis")

		idempotency = redisRepo.NewIdempotencyStore(redisClient)
		health.Add("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	publisher, closePublisher, err := newPublisher(ctx, cfg, redisClient, l, health)
	if err != nil {
		return err
	}
	defer closePublisher()

	outboxWorker := eventpublisher.NewEventPublisher(eventpublisher.Config{
		OutboxRepo: st.outbox,
		Publisher:  publisher,
		Observer:   m,
		Logger:     l,
		BatchSize:  cfg.OutboxBatchSize,
		Interval:   cfg.OutboxInterval,
		Retention:  cfg.OutboxRetention,
	})
	go func() {
		if err := outboxWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.Error().Err(err).Msg("event publisher stopped")
		}
	}()

	var limiter *middleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).OnLimit(m.ObserveRateLimited)
		go limiter.StartCleanup(ctx, time.Minute)
	}

	var (
		jwtManager  *auth.JWTManager
		authHandler *handler.AuthHandler
	)
	if cfg.JWTSecret != "" {
		tokens := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
		authHandler = handler.NewAuthHandler(tokens)
		if cfg.AuthEnabled {
			jwtManager = tokens
		}
	}
	if jwtManager == nil {
		l.Warn().Msg("authentication disabled, caller headers are trusted")
	}

	router := httpAdapter.NewRouter(httpAdapter.RouterConfig{
		ExchangeHandler:  handler.NewExchangeHandler(app.exchanges),
		EscrowHandler:    handler.NewEscrowHandler(app.escrows),
		AdminHandler:     handler.NewAdminHandler(app.coordinator, registry),
		LedgerHandler:    handler.NewLedgerHandler(app.recon, st.outbox, m, app.exchange, app.escrow),
		HealthHandler:    health,
		AuthHandler:      authHandler,
		IdempotencyStore: idempotency,
		IdempotencyTTL:   cfg.IdempotencyTTL,
		RateLimiter:      limiter,
		JWTManager:       jwtManager,
		FailureRecorder:  m,
		HTTPRecorder:     m,
		Logger:           l,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		l.Info().Str("port", cfg.HTTPPort).Str("storage", cfg.StorageDriver).Str("sink", cfg.EventSink).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	l.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// storage is the persistence backend selected by STORAGE_DRIVER.
type storage struct {
	loader  ledger.Loader
	sink    ledger.Sink
	outbox  usecase.OutboxRepository
	closers []func()
}

// Close releases the backend in reverse order of acquisition.
func (s *storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStorage(ctx context.Context, cfg *config.Config, l zerolog.Logger, health *handler.HealthHandler) (*storage, error) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
			DatabaseURL:    cfg.DatabaseURL,
			MaxConns:       cfg.DatabaseMaxConns,
			MinConns:       cfg.DatabaseMinConns,
			ConnectTimeout: cfg.DatabaseTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		l.Info().Msg("connected to postgres")

		if _, err := postgres.Migrate(cfg.DatabaseURL, cfg.MigrationsPath, l); err != nil {
			pool.Close()
			return nil, err
		}

		repo := postgresRepo.NewLedgerRepository(pool, postgresRepo.NewRetrier().WithLogger(l))
		health.Add("postgres", pool.Ping)
		return &storage{
			loader:  repo,
			sink:    repo,
			outbox:  postgresRepo.NewOutboxRepository(pool),
			closers: []func(){pool.Close},
		}, nil

	case config.StoragePebble:
		db, err := pebbleRepo.Open(cfg.PebbleDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble at %s: %w", cfg.PebbleDir, err)
		}
		l.Info().Str("dir", cfg.PebbleDir).Msg("opened pebble store")

		repo := pebbleRepo.NewLedgerRepository(db)
		return &storage{
			loader: repo,
			sink:   repo,
			outbox: pebbleRepo.NewOutboxRepository(db),
			closers: []func(){func() {
				if err := db.Close(); err != nil {
					l.Error().Err(err).Msg("failed to close pebble")
				}
			}},
		}, nil

	default:
		l.Warn().Msg("memory storage selected, ledger contents are lost on restart")
		repo := memory.NewRepository()
		return &storage{loader: repo, sink: repo, outbox: repo}, nil
	}
}

// app holds the ledger stores and the engines operating them.
type app struct {
	exchange    *ledger.Store
	escrow      *ledger.Store
	exchanges   *usecase.Versions[*usecase.ExchangeEngine]
	escrows     *usecase.Versions[*usecase.EscrowEngine]
	coordinator *usecase.UpgradeCoordinator
	recon       *usecase.ReconciliationUseCase
}

type collaborators interface {
	usecase.AssetGateway
	usecase.AgentRegistry
}

func buildApp(ctx context.Context, cfg *config.Config, st *storage, c collaborators, rec usecase.Recorder, l zerolog.Logger) (*app, error) {
	upgrader := domain.WriterID(cfg.UpgraderID)
	admins, err := parseAdmins(cfg.Admins)
	if err != nil {
		return nil, err
	}

	exchange, err := openStore(ctx, st, "exchange", domain.WriterID(cfg.ExchangeWriter), upgrader)
	if err != nil {
		return nil, err
	}
	escrow, err := openStore(ctx, st, "escrow", domain.WriterID(cfg.EscrowWriter), upgrader)
	if err != nil {
		return nil, err
	}

	opts := []usecase.Option{usecase.WithLogger(l), usecase.WithRecorder(rec)}

	exchanges := usecase.NewVersions[*usecase.ExchangeEngine](exchange)
	exchanges.Add(exchangeV1, usecase.NewExchangeEngine(exchangeV1, exchange, c, c, opts...))
	exchanges.Add(exchangeV2, usecase.NewExchangeEngine(exchangeV2, exchange, c, c, append(opts, usecase.WithTwoSidedBook())...))
	if _, err := exchanges.Current(); err != nil {
		return nil, fmt.Errorf("exchange store: %w", err)
	}

	escrows := usecase.NewVersions[*usecase.EscrowEngine](escrow)
	escrows.Add(escrowV1, usecase.NewEscrowEngine(escrowV1, escrow, c, opts...))
	if _, err := escrows.Current(); err != nil {
		return nil, fmt.Errorf("escrow store: %w", err)
	}

	coordinator := usecase.NewUpgradeCoordinator(upgrader, admins, usecase.WithLogger(l), usecase.WithRecorder(rec))
	coordinator.Register(exchange, exchanges.Writers)
	coordinator.Register(escrow, escrows.Writers)

	for _, s := range []*ledger.Store{exchange, escrow} {
		l.Info().Str("store", s.Name()).Str("writer", s.Writer().String()).Msg("ledger store ready")
	}

	return &app{
		exchange:    exchange,
		escrow:      escrow,
		exchanges:   exchanges,
		escrows:     escrows,
		coordinator: coordinator,
		recon:       usecase.NewReconciliationUseCase(st.loader, exchange, escrow),
	}, nil
}

func openStore(ctx context.Context, st *storage, name string, writer, upgrader domain.WriterID) (*ledger.Store, error) {
	if err := writer.Validate(); err != nil {
		return nil, fmt.Errorf("%s writer: %w", name, err)
	}
	return ledger.Open(ctx, st.loader, ledger.Options{
		Name:    name,
		Pointer: ledger.NewPointer(writer, upgrader),
		Sink:    st.sink,
	})
}

func parseAdmins(raw []string) ([]domain.Address, error) {
	admins := make([]domain.Address, 0, len(raw))
	for _, s := range raw {
		addr, err := domain.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("admin %q: %w", s, err)
		}
		admins = append(admins, addr)
	}
	return admins, nil
}

func newPublisher(ctx context.Context, cfg *config.Config, redisClient *goredis.Client, l zerolog.Logger, health *handler.HealthHandler) (eventpublisher.Publisher, func(), error) {
	switch cfg.EventSink {
	case config.SinkNATS:
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("custody"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("failed to create jetstream context: %w", err)
		}
		if err := eventpublisher.EnsureStream(ctx, js); err != nil {
			nc.Close()
			return nil, nil, err
		}
		health.Add("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		})
		l.Info().Str("url", cfg.NATSURL).Msg("publishing outbox events to nats")
		return eventpublisher.NewNATSPublisher(js), nc.Close, nil

	case config.SinkKafka:
		p := eventpublisher.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		l.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing outbox events to kafka")
		return p, func() {
			if err := p.Close(); err != nil {
				l.Error().Err(err).Msg("failed to close kafka writer")
			}
		}, nil

	case config.SinkRedis:
		if redisClient == nil {
			return nil, nil, errors.New("redis event sink requires REDIS_URL")
		}
		l.Info().Str("stream", cfg.RedisStream).Msg("publishing outbox events to redis")
		return eventpublisher.NewRedisStreamPublisher(redisClient, cfg.RedisStream, 0), func() {}, nil

	default:
		return eventpublisher.NewLogPublisher(l), func() {}, nil
	}
}
