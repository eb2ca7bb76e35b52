// The consentgate server: a capability gate that issues single-use,
// context-bound consent tokens and authorizes sensitive operations against
// them, with an append-only WAL as the source of truth.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	_ "github.com/jackc/pgx/v5/stdlib"

	"consentgate/internal/gate"
	gatehandler "consentgate/internal/gate/handler"
	gatemetrics "consentgate/internal/gate/metrics"
	"consentgate/internal/gate/revocation"
	"consentgate/internal/platform/config"
	"consentgate/internal/platform/httpserver"
	"consentgate/internal/platform/logger"
	httpmetrics "consentgate/internal/platform/metrics"
	platformredis "consentgate/internal/platform/redis"
	"consentgate/internal/policy"
	"consentgate/internal/wal"
)

// main wires dependencies and owns the process lifecycle. Domain logic lives
// in internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New("consentgate")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// WAL backend: postgres when configured, in-memory otherwise.
	var walStore wal.Store
	if cfg.WALDatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.WALDatabaseURL)
		if err != nil {
			log.Error("open wal database", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()
		pg := wal.NewPostgres(db)
		if err := pg.Migrate(ctx); err != nil {
			log.Error("migrate wal schema", "error", err.Error())
			os.Exit(1)
		}
		walStore = pg
	} else {
		log.Warn("no wal database configured, using in-memory wal (state dies with the process)")
		walStore = wal.NewInMemoryStore()
	}

	opts := []gate.Option{gate.WithLogger(log), gate.WithMetrics(gatemetrics.New())}

	// Shared revocation list, if Redis is configured.
	redisClient, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("connect redis", "error", err.Error())
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		opts = append(opts, gate.WithRevocationList(revocation.NewRedisList(redisClient.Client)))
	} else {
		opts = append(opts, gate.WithRevocationList(revocation.NewInMemoryList()))
	}

	// SIEM mirror, if Kafka is configured.
	if len(cfg.KafkaBrokers) > 0 {
		kafkaClient, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.KafkaBrokers...),
			kgo.DefaultProduceTopic(cfg.KafkaTopic),
		)
		if err != nil {
			log.Error("connect kafka", "error", err.Error())
			os.Exit(1)
		}
		defer kafkaClient.Close()
		opts = append(opts, gate.WithMirror(wal.NewMirror(kafkaClient, cfg.KafkaTopic, log)))
	}

	if cfg.ProofSigningKey != "" {
		opts = append(opts, gate.WithProofSigner(gate.NewProofSigner([]byte(cfg.ProofSigningKey), cfg.ProofIssuer)))
	}

	bundle, err := policy.NewBundle(policy.BundleConfig{
		MaxOps:             cfg.MaxOps,
		WindowLength:       cfg.WindowLength,
		QuarantineDuration: cfg.QuarantineDuration,
	})
	if err != nil {
		log.Error("build policy bundle", "error", err.Error())
		os.Exit(1)
	}

	g := gate.New(bundle, gate.NewInMemoryStore(), walStore, opts...)

	// Replay the WAL so token state, anomaly score, and quarantine survive a
	// restart. Serving before this completes would authorize against a blank
	// ledger.
	if err := g.Restore(ctx); err != nil {
		log.Error("wal replay failed", "error", err.Error())
		os.Exit(1)
	}

	router := chi.NewRouter()
	gatehandler.New(g, log, httpmetrics.New()).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting consentgate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Decay and TTL sweep ticker.
	group.Go(func() error {
		ticker := time.NewTicker(cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				if err := g.Tick(groupCtx); err != nil {
					log.Error("tick failed", "error", err.Error())
				}
			}
		}
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server error", "error", err.Error())
		os.Exit(1)
	}
	log.Info("consentgate stopped")
}
