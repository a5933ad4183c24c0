package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	bondHandler "credence/internal/bond/handler"
	bondMetrics "credence/internal/bond/metrics"
	"credence/internal/bond/models"
	bondService "credence/internal/bond/service"
	"credence/internal/bond/store"
	"credence/internal/governance"
	"credence/internal/guard"
	"credence/internal/platform/config"
	"credence/internal/platform/httpserver"
	"credence/internal/platform/logger"
	platformMetrics "credence/internal/platform/metrics"
	"credence/internal/platform/middleware"
	platformRedis "credence/internal/platform/redis"
	slashingHandler "credence/internal/slashing/handler"
	slashingService "credence/internal/slashing/service"
	"credence/internal/token"
	"credence/pkg/platform/audit"
)

// main wires the ledger's dependencies and owns the process lifecycle.
// Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores: Postgres when a DSN is configured, in-memory otherwise.
	var (
		bonds       store.BondStore
		history     store.SlashHistoryStore
		emergencies store.EmergencyStore
	)
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := store.Migrate(ctx, pool); err != nil {
			log.Error("migrate postgres", "error", err)
			os.Exit(1)
		}
		bonds = store.NewPostgresBondStore(pool)
		history = store.NewPostgresSlashHistoryStore(pool)
		emergencies = store.NewPostgresEmergencyStore(pool)
		log.Info("using postgres stores")
	} else {
		bonds = store.NewInMemoryBondStore()
		history = store.NewInMemorySlashHistoryStore()
		emergencies = store.NewInMemoryEmergencyStore()
		log.Warn("postgres not configured, using in-memory stores")
	}

	// Nonce counters: Redis when configured so replay protection survives
	// restarts, in-memory otherwise.
	var nonceStore guard.NonceStore
	redisClient, err := platformRedis.New(cfg.RedisURL)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		nonceStore = guard.NewRedisNonceStore(redisClient.Client)
		log.Info("using redis nonce store")
	} else {
		nonceStore = guard.NewInMemoryNonceStore()
		log.Warn("redis not configured, using in-memory nonce store")
	}
	nonces, err := guard.NewNonceGuard(nonceStore, log)
	if err != nil {
		log.Error("build nonce guard", "error", err)
		os.Exit(1)
	}

	// Event publisher: Kafka when brokers are configured, structured log
	// otherwise. Kafka emission goes through an async queue so a slow broker
	// never blocks a ledger operation.
	var (
		publisher      audit.Publisher
		asyncPublisher *audit.AsyncPublisher
	)
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		defer kafka.Close()
		asyncPublisher = audit.NewAsyncPublisher(kafka, 1024, log)
		publisher = asyncPublisher
		log.Info("publishing events to kafka", "topic", cfg.KafkaTopic)
	} else {
		publisher = audit.NewLogPublisher(log)
		log.Warn("kafka not configured, events go to the log")
	}

	// Token collaborator. The in-memory token serves development and test
	// deployments; production wires a chain-backed adapter here.
	ledgerToken := token.NewInMemoryToken()

	engine, err := governance.NewEngine(governance.NewInMemoryStore(), governance.Config{
		Governors:    cfg.Governors,
		QuorumBps:    cfg.QuorumBps,
		MinGovernors: cfg.MinGovernors,
		VotingPeriod: cfg.VotingPeriod,
	}, governance.WithLogger(log))
	if err != nil {
		log.Error("build governance engine", "error", err)
		os.Exit(1)
	}

	domainMetrics := bondMetrics.New()

	bondsSvc, err := bondService.New(bonds, emergencies, ledgerToken, nonces, bondService.Config{
		Thresholds:          models.Thresholds(cfg.Tiers),
		EarlyExitPenaltyBps: cfg.EarlyExitPenaltyBps,
		Treasury:            cfg.Treasury,
		Emergency: models.EmergencyConfig{
			Admin:      cfg.Admin,
			Governance: cfg.Governance,
			Treasury:   cfg.Treasury,
			FeeBps:     cfg.EmergencyFeeBps,
			Enabled:    cfg.EmergencyEnabled,
		},
	},
		bondService.WithLogger(log),
		bondService.WithAuditPublisher(publisher),
		bondService.WithMetrics(domainMetrics),
	)
	if err != nil {
		log.Error("build bond service", "error", err)
		os.Exit(1)
	}

	slashSvc, err := slashingService.New(bonds, history, engine, cfg.Admin,
		slashingService.WithLogger(log),
		slashingService.WithAuditPublisher(publisher),
		slashingService.WithMetrics(domainMetrics),
	)
	if err != nil {
		log.Error("build slashing service", "error", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logger(log))
	router.Use(middleware.Latency(platformMetrics.New()))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/v1", func(r chi.Router) {
		r.Use(middleware.AdminToken(cfg.AdminToken, log))
		bondHandler.New(bondsSvc, log).Register(r)
		slashingHandler.New(slashSvc, log).Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)
	if asyncPublisher != nil {
		group.Go(func() error {
			if err := asyncPublisher.Run(groupCtx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	group.Go(func() error {
		log.Info("starting credence ledger", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
