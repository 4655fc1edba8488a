package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"

	"github.com/rl1809/library-lending/internal/adapter/handler"
	"github.com/rl1809/library-lending/internal/adapter/messaging"
	"github.com/rl1809/library-lending/internal/adapter/storage"
	"github.com/rl1809/library-lending/internal/config"
	"github.com/rl1809/library-lending/internal/core/service"
	"github.com/rl1809/library-lending/internal/lock"
	"github.com/rl1809/library-lending/internal/port"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("failed to open database")
	}
	log.Info().Str("driver", cfg.DBDriver).Msg("database ready")

	if cfg.Seed {
		if err := db.Seed(ctx, time.Now()); err != nil {
			log.Fatal().Err(err).Msg("failed to seed database")
		}
		log.Info().Msg("seeded demo catalogue")
	}

	// Initialize lock and request-id backend
	var (
		cache port.CacheRepository
		rdb   *redis.Client
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect redis")
		}
		cache = storage.NewRedisAdapter(rdb)
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
	} else {
		cache = storage.NewMemoryCache()
		log.Warn().Msg("REDIS_ADDR not set, locks are process-local")
	}

	locker, err := lock.New(cache,
		lock.WithMaxAttempts(cfg.LockAttempts),
		lock.WithBackoff(cfg.LockBaseDelay, cfg.LockMaxDelay),
		lock.WithTTL(cfg.LockTTL),
		lock.WithLogger(log.Logger),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid lock settings")
	}

	// Initialize event sink
	var sink port.EventPublisher
	var rabbit *messaging.RabbitPublisher
	if cfg.RabbitURL != "" {
		rabbit, err = messaging.DialRabbit(cfg.RabbitURL, cfg.RabbitExchange, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect rabbitmq")
		}
		sink = rabbit
	} else {
		sink = messaging.NewLogPublisher(log.Logger)
	}

	dispatcher := service.NewEventDispatcher(sink, cfg.QueueSize, log.Logger)
	dispatcher.Start(cfg.WorkerCount)
	log.Info().Int("workers", cfg.WorkerCount).Msg("event dispatcher started")

	// Initialize service
	core, err := service.NewLendingCore(service.Deps{
		DB:        db,
		Locker:    locker,
		Guard:     cache,
		Publisher: dispatcher,
		Log:       log.Logger,
	}, service.Policy{
		LoanDays:       cfg.LoanDays,
		MaxOpenLoans:   cfg.MaxOpenLoans,
		HoldDays:       cfg.HoldDays,
		PickupDays:     cfg.PickupDays,
		FineRatePerDay: cfg.FineRatePerDay,
		LostBookFee:    cfg.LostBookFee,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid lending policy")
	}

	// Start sweeper
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := service.NewSweeper(core, cfg.SweepInterval).Run(sweepCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("sweeper stopped")
		}
	}()
	log.Info().Dur("interval", cfg.SweepInterval).Msg("sweeper started")

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterLendingServiceServer(grpcServer, handler.NewGRPCHandler(core, log.Logger))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("failed to listen")
	}

	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC server error")
		}
	}()

	// Initialize HTTP server
	app := handler.NewHTTPHandler(core, log.Logger).NewApp()

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	if err := app.ShutdownWithTimeout(cfg.ShutdownGrace); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown")
	}
	log.Info().Msg("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info().Msg("gRPC server stopped")

	stopSweeper()
	wg.Wait()

	// Drain events before the sink goes away
	dispatcher.Close()
	log.Info().Msg("event dispatcher drained")

	if rabbit != nil {
		rabbit.Close()
	}
	if rdb != nil {
		rdb.Close()
	}
	db.Close()
	log.Info().Msg("connections closed")
}

func setupLogger(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.ConsoleLogging {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func openDatabase(ctx context.Context, cfg config.Config) (*storage.SQLAdapter, error) {
	if cfg.DBDriver == config.DriverMySQL {
		return storage.OpenMySQL(ctx, cfg.MySQLDSN)
	}
	return storage.OpenSQLite(ctx, cfg.SQLitePath)
}
