/**
 * @description
 * This is the main entry point for the activation engine. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, Redis lock client, message broker, external SAS clients, the core
 * activation service, the propagation worker, the sync coordinator, background
 * jobs, and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pool.
 * - github.com/redis/go-redis/v9: Redis client for per-user activation locks.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/rabbitmq: RabbitMQ producer and consumer.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/api"
	"github.com/Ali-Mohammed/openRadius-sub012/internal/app"
	"github.com/Ali-Mohammed/openRadius-sub012/internal/config"
	"github.com/Ali-Mohammed/openRadius-sub012/internal/store"
	rmrabbit "github.com/Ali-Mohammed/openRadius-sub012/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	if len(cfg.Integrations) == 0 {
		log.Println("level=warn component=bootstrap msg=\"no integrations configured; activations will be rejected\" env=INTEGRATION_SETTINGS")
	}

	log.Printf("level=info component=bootstrap msg=\"starting activation-engine\" port=%s integrations=%d", cfg.ServerPort, len(cfg.Integrations))

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// The engine shares its database with the RADIUS server, so keep the pool
	// modest and recycle connections to play well with pgbouncer setups.
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the data access layer and apply pending migrations.
	repository := store.NewPostgresRepository(dbpool, store.NewPgxRadiusWriter())

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := repository.RunMigrations(migrateCtx); err != nil {
		cancelMigrate()
		log.Fatalf("level=fatal component=bootstrap msg=\"migrations failed\" err=%v", err)
	}
	cancelMigrate()
	log.Println("level=info component=bootstrap msg=\"migrations applied\"")

	// Per-user activation locks live in Redis so concurrent requests for the
	// same subscriber serialize across replicas. Without Redis we fall back to
	// an in-process lock, which is only safe for single-instance deployments.
	var locker app.UserLocker = app.NewLocalUserLocker()
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; using in-process user locks\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; using in-process user locks\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; using in-process user locks\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				locker = app.NewRedisUserLocker(redisClient, cfg.RedisLockPrefix, time.Duration(cfg.RedisLockTTLSeconds)*time.Second)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the RabbitMQ producer to publish activation lifecycle events.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.ProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Configured integrations double as the SAS client registry.
	integrations := app.NewIntegrations(cfg.Integrations)

	// workerCtx bounds all background work (propagation attempts, sync runs,
	// cron jobs). Cancelled on shutdown after the HTTP server stops accepting.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	// Core application services.
	ledger := app.NewLedger(repository)
	cashback := app.NewCashbackDistributor(repository, ledger)
	activationService := app.NewService(repository, ledger, cashback, locker, integrations, producer)
	worker := app.NewPropagationWorker(repository, integrations, integrations, producer)
	syncCoordinator := app.NewSyncCoordinator(workerCtx, repository, integrations, integrations)

	// Background jobs: due-activation sweep, scheduled profile changes, and
	// the stale-sync watchdog.
	jobs := app.NewJobs(workerCtx, repository, worker, syncCoordinator)
	scheduler := app.NewScheduler(jobs, app.Schedules{
		DueActivationSweep:     cfg.DueSweepSchedule,
		ScheduledProfileChange: cfg.ProfileChangeSchedule,
		StaleSyncWatchdog:      cfg.StaleSyncSchedule,
	})
	scheduler.Start()

	// Consume pending-activation events so propagation picks up work as soon
	// as an activation is committed rather than waiting on the cron sweep.
	activationConsumer := app.NewActivationConsumer(workerCtx, worker)
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; relying on cron sweep\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.EventsExchange, cfg.ActivationEventQueue, activationConsumer.Bindings()); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"activation consumer start failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"activation consumer started\"")
	}

	// Initialize the API handlers and router.
	handlers := api.NewHandlers(activationService, ledger, syncCoordinator, repository)
	router := api.NewRouter(handlers, cfg.InternalAPIKey)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	// Stop scheduling new work, cancel in-flight background work, and wait for
	// propagation attempts to record their outcome before closing the pool.
	<-scheduler.Stop().Done()
	cancelWorkers()
	worker.Wait()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
