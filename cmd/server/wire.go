package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"

	"faceauth/internal/admin"
	"faceauth/internal/biometric/archive"
	"faceauth/internal/biometric/extract"
	"faceauth/internal/biometric/liveness"
	"faceauth/internal/biometric/match"
	idmodels "faceauth/internal/identity/models"
	idmemory "faceauth/internal/identity/store/memory"
	idpostgres "faceauth/internal/identity/store/postgres"
	"faceauth/internal/lockout"
	lockoutmetrics "faceauth/internal/lockout/metrics"
	lockoutmemory "faceauth/internal/lockout/store/memory"
	lockoutpostgres "faceauth/internal/lockout/store/postgres"
	lockoutredis "faceauth/internal/lockout/store/redis"
	"faceauth/internal/platform/config"
	"faceauth/internal/platform/metrics"
	"faceauth/internal/platform/postgres"
	redisclient "faceauth/internal/platform/redis"
	"faceauth/internal/token"
	verificationhandler "faceauth/internal/verification/handler"
	verificationmetrics "faceauth/internal/verification/metrics"
	verificationservice "faceauth/internal/verification/service"
	"faceauth/pkg/platform/audit"
	"faceauth/pkg/platform/audit/publishers/stream"
	auditmemory "faceauth/pkg/platform/audit/store/memory"
	auditpostgres "faceauth/pkg/platform/audit/store/postgres"
	"faceauth/pkg/platform/audit/worker"
	"faceauth/pkg/platform/circuit"
	"faceauth/pkg/platform/middleware/metadata"
	"faceauth/pkg/platform/middleware/request"
	"faceauth/pkg/platform/middleware/requesttime"
)

type application struct {
	router      http.Handler
	auditWorker *worker.Worker
	publisher   *audit.Publisher
	closers     []func()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build constructs every dependency from cfg. On error, resources opened so
// far are released before returning.
func build(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *application, err error) {
	app := &application{}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if db != nil {
		app.closers = append(app.closers, func() { _ = db.Close() })
	}

	rdb, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		app.closers = append(app.closers, func() { _ = rdb.Close() })
	}

	publisher, kafka, err := buildAuditPublisher(ctx, cfg, db, log)
	if err != nil {
		return nil, err
	}
	if kafka != nil {
		app.closers = append(app.closers, kafka.Close)
	}
	app.closers = append(app.closers, publisher.Close)
	app.publisher = publisher
	if inbox := publisher.Events(); inbox != nil {
		app.auditWorker = worker.NewWorker(publisher, inbox, log)
	}

	users := buildUserStore(cfg, db)

	lockoutStore, err := buildLockoutStore(cfg, db, rdb)
	if err != nil {
		return nil, err
	}
	lockoutSvc, err := lockout.New(lockoutStore,
		lockout.WithMaxFails(cfg.Lockout.MaxFails),
		lockout.WithWindow(cfg.Lockout.Window.Duration),
		lockout.WithMetrics(lockoutmetrics.New()),
		lockout.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("lockout service: %w", err)
	}

	extractor, err := extract.NewRemote(cfg.Extractor.URL,
		extract.WithHTTPClient(&http.Client{Timeout: cfg.Extractor.Timeout.Duration}),
		extract.WithQualityGate(extract.QualityGate{
			MinSharpness:  cfg.Quality.MinSharpness,
			MinBrightness: cfg.Quality.MinBrightness,
			MaxBrightness: cfg.Quality.MaxBrightness,
		}),
		extract.WithMaxPixels(cfg.Quality.MaxPixels),
		extract.WithBreaker(circuit.New("extractor",
			circuit.WithFailureThreshold(cfg.Extractor.FailureThreshold),
			circuit.WithCooldown(cfg.Extractor.Cooldown.Duration),
		)),
		extract.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("extractor: %w", err)
	}

	issuer, err := token.New(cfg.Auth.Secret,
		token.WithTTL(cfg.Auth.TokenTTL.Duration),
		token.WithIssuer(cfg.Auth.Issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}

	policy, err := idmodels.ParseReenrollPolicy(cfg.Enrollment.ReenrollPolicy)
	if err != nil {
		return nil, fmt.Errorf("reenroll policy: %w", err)
	}

	serviceOpts := []verificationservice.Option{
		verificationservice.WithLogger(log),
		verificationservice.WithAuditPublisher(publisher),
		verificationservice.WithMetrics(verificationmetrics.New()),
		verificationservice.WithMatchEngine(match.New(cfg.Match.Threshold)),
		verificationservice.WithLiveness(livenessScorer(cfg)),
		verificationservice.WithReenrollPolicy(policy),
	}
	if cfg.Archive.Bucket != "" {
		probeArchive, err := buildArchive(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		serviceOpts = append(serviceOpts, verificationservice.WithProbeArchive(probeArchive))
	}
	verification, err := verificationservice.New(users, lockoutSvc, extractor, issuer, serviceOpts...)
	if err != nil {
		return nil, fmt.Errorf("verification service: %w", err)
	}

	adminSvc, err := admin.New(users, publisher,
		admin.WithLogger(log),
		admin.WithAuditPublisher(publisher),
	)
	if err != nil {
		return nil, fmt.Errorf("admin service: %w", err)
	}

	proxies, err := metadata.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(proxies.Middleware)
	r.Use(request.Logger(log))
	r.Use(metrics.NewHTTP().Middleware)

	r.Get("/healthz", healthHandler(db, rdb))
	r.Handle("/metrics", promhttp.Handler())

	verificationhandler.New(verification, issuer, log,
		verificationhandler.WithMaxImageBytes(cfg.Server.MaxUploadBytes),
	).Register(r)
	admin.NewHandler(adminSvc, issuer, log).Register(r)

	app.router = r
	return app, nil
}

func livenessScorer(cfg config.Config) liveness.Scorer {
	s := liveness.New(cfg.Liveness.MotionThreshold, cfg.Liveness.CanonicalSize)
	s.MaxPixels = cfg.Quality.MaxPixels
	return s
}

func openDatabase(ctx context.Context, cfg config.Config, log *slog.Logger) (*sql.DB, error) {
	if cfg.Storage.Backend != "postgres" && cfg.Lockout.Backend != "postgres" {
		return nil, nil
	}
	db, err := postgres.Open(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.InfoContext(ctx, "postgres ready")
	return db, nil
}

type userStore interface {
	verificationservice.UserStore
	admin.RoleStore
}

func buildUserStore(cfg config.Config, db *sql.DB) userStore {
	if cfg.Storage.Backend == "postgres" {
		return idpostgres.New(db)
	}
	return idmemory.New()
}

func buildLockoutStore(cfg config.Config, db *sql.DB, rdb *redisclient.Client) (lockout.Store, error) {
	switch cfg.Lockout.Backend {
	case "postgres":
		return lockoutpostgres.New(db), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis lockout backend requires redis.url")
		}
		return lockoutredis.New(rdb.Client), nil
	default:
		return lockoutmemory.New(), nil
	}
}

// buildAuditPublisher returns the publisher and, when brokers are configured,
// the Kafka client backing its sink.
func buildAuditPublisher(ctx context.Context, cfg config.Config, db *sql.DB, log *slog.Logger) (*audit.Publisher, *kgo.Client, error) {
	var store audit.Store = auditmemory.NewInMemoryStore()
	if cfg.Storage.Backend == "postgres" {
		store = auditpostgres.New(db)
	}

	opts := []audit.PublisherOption{
		audit.WithBufferSize(cfg.Audit.BufferSize),
		audit.WithPublisherLogger(log),
		audit.WithPublisherMetrics(audit.NewMetrics()),
	}

	var client *kgo.Client
	if len(cfg.Audit.KafkaBrokers) > 0 {
		var err error
		client, err = stream.NewClient(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka client: %w", err)
		}
		if err := stream.EnsureTopic(ctx, client, cfg.Audit.KafkaTopic, 1, 1); err != nil {
			log.WarnContext(ctx, "audit topic not ensured", "topic", cfg.Audit.KafkaTopic, "error", err)
		}
		sink, err := stream.NewKafkaSink(client, cfg.Audit.KafkaTopic,
			stream.WithLogger(log),
			stream.WithBreaker(circuit.New("audit-kafka")),
		)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		opts = append(opts, audit.WithSink(sink))
	}

	publisher, err := audit.NewPublisher(store, opts...)
	if err != nil {
		if client != nil {
			client.Close()
		}
		return nil, nil, fmt.Errorf("audit publisher: %w", err)
	}
	return publisher, client, nil
}

func buildArchive(ctx context.Context, cfg config.ArchiveConfig) (*archive.S3Archive, error) {
	client, err := archive.NewS3Client(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive client: %w", err)
	}
	return archive.NewS3Archive(client, cfg.Bucket)
}

func healthHandler(db *sql.DB, rdb *redisclient.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		status := http.StatusOK
		if db != nil {
			checks["postgres"] = "ok"
			if err := db.PingContext(ctx); err != nil {
				checks["postgres"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		if rdb != nil {
			checks["redis"] = "ok"
			if err := rdb.Health(ctx); err != nil {
				checks["redis"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": http.StatusText(status), "checks": checks})
	}
}
