package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/automaton-tee/internal/application"
	appai "github.com/bryanwahyu/automaton-tee/internal/application/ai"
	"github.com/bryanwahyu/automaton-tee/internal/application/attest"
	"github.com/bryanwahyu/automaton-tee/internal/config"
	domai "github.com/bryanwahyu/automaton-tee/internal/domain/ai"
	domain "github.com/bryanwahyu/automaton-tee/internal/domain/attestation"
	"github.com/bryanwahyu/automaton-tee/internal/domain/failures"
	"github.com/bryanwahyu/automaton-tee/internal/domain/narrative"
	"github.com/bryanwahyu/automaton-tee/internal/infra/ai/openai"
	"github.com/bryanwahyu/automaton-tee/internal/infra/ai/prompt"
	"github.com/bryanwahyu/automaton-tee/internal/infra/compliance"
	"github.com/bryanwahyu/automaton-tee/internal/infra/crypto/contenthash"
	"github.com/bryanwahyu/automaton-tee/internal/infra/crypto/keystore"
	"github.com/bryanwahyu/automaton-tee/internal/infra/dataset"
	mysqlp "github.com/bryanwahyu/automaton-tee/internal/infra/db/mysql"
	pgp "github.com/bryanwahyu/automaton-tee/internal/infra/db/postgres"
	dockerdet "github.com/bryanwahyu/automaton-tee/internal/infra/executor/docker"
	"github.com/bryanwahyu/automaton-tee/internal/infra/httpserver"
	"github.com/bryanwahyu/automaton-tee/internal/infra/snapshot"
	minioStore "github.com/bryanwahyu/automaton-tee/internal/infra/storage"
	"github.com/bryanwahyu/automaton-tee/internal/logger"
	"github.com/bryanwahyu/automaton-tee/internal/middleware"
)

// app holds everything built from the config.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	keys     *keystore.KeyStore
	attest   *attest.Service
	narr     *appai.Service
	db       *sql.DB
	records  domain.Repository
	failures failures.Repository
	metrics  *middleware.Metrics
	checkers map[string]middleware.HealthChecker
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	return logger.New(logger.Options{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		FileRotation: cfg.Logging.FileRotation,
		MaxSize:      cfg.Logging.MaxSize,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAge:       cfg.Logging.MaxAge,
	})
}

// build wires adapters into the services. withStorage=false skips the
// database and object store (CLI one-shots).
func build(ctx context.Context, cfg *config.Config, withStorage bool) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      newLogger(cfg),
		checkers: map[string]middleware.HealthChecker{},
	}

	keys, err := keystore.Process()
	if err != nil {
		return nil, err
	}
	a.keys = keys
	a.checkers["enclave_key"] = middleware.CheckFunc(func(context.Context) error {
		if keys.PublicKeyHex() == "" {
			return fmt.Errorf("no enclave key")
		}
		return nil
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = middleware.NewMetrics(reg)

	scanner := compliance.NewScanner()
	if cfg.Scanner.Concurrency > 0 {
		scanner.Concurrency = cfg.Scanner.Concurrency
	}

	svc := &attest.Service{
		Resolver:  dataset.New(cfg.Dataset.BasePath),
		Snapshots: snapshot.New(cfg.Cache.Root),
		Scanner:   scanner,
		Addresser: contenthash.Addresser{},
		Signer:    keys,
		Metrics:   a.metrics,
		Log:       a.log,
		Clock:     application.SystemClock{},
		Options: attest.Options{
			MaxImages:       cfg.Weapon.MaxImages,
			WeaponThreshold: cfg.Weapon.Threshold,
			NarrativeMode:   cfg.Response.Mode == config.ModeNarrative,
		},
	}
	svc.Detector = weaponDetector(cfg)

	if cfg.Narrative.Enabled {
		a.narr = appai.NewService(narrativeGenerator(cfg), cfg.Narrative.Provider)
		svc.Narratives = a.narr
	}

	if withStorage {
		if err := a.connectStorage(ctx, svc); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.attest = svc
	return a, nil
}

func (a *app) connectStorage(ctx context.Context, svc *attest.Service) error {
	cfg := a.cfg
	var narratives narrative.Repository
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		a.db = db
		if err := mysqlp.Migrate(ctx, db); err != nil {
			return fmt.Errorf("mysql migrate: %w", err)
		}
		a.records = mysqlp.NewAttestationRepository(db)
		a.failures = mysqlp.NewFailureRepository(db)
		narratives = mysqlp.NewNarrativeRepository(db)
	case "postgres":
		db, err := pgp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return fmt.Errorf("postgres connect: %w", err)
		}
		a.db = db
		if err := pgp.Migrate(ctx, db); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
		a.records = pgp.NewAttestationRepository(db)
		a.failures = pgp.NewFailureRepository(db)
		narratives = pgp.NewNarrativeRepository(db)
	}
	if a.db != nil {
		a.checkers["database"] = &middleware.DatabaseHealthChecker{DB: a.db}
		svc.Repo = a.records
		svc.Failures = a.failures
		if a.narr != nil {
			a.narr.Repo = narratives
		}
	}

	if cfg.Minio.Enabled {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			return fmt.Errorf("minio init: %w", err)
		}
		svc.Artifacts = store
		a.checkers["object_store"] = middleware.CheckFunc(store.Ping)
	}
	return nil
}

func weaponDetector(cfg *config.Config) domai.WeaponDetector {
	timeout := time.Duration(cfg.Weapon.TimeoutSec) * time.Second
	switch cfg.Weapon.Provider {
	case "docker":
		return dockerdet.NewDetector(cfg.Weapon.Image, cfg.Weapon.ModelPath, timeout)
	case "openai":
		c := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.Weapon.Model)
		return openai.NewVisionDetector(c, cfg.Weapon.Model)
	default:
		return nil
	}
}

func narrativeGenerator(cfg *config.Config) domai.NarrativeGenerator {
	if cfg.Narrative.Provider == "openai" {
		return openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.Narrative.Model)
	}
	return prompt.NewLocalGenerator()
}

func (a *app) router() httpserver.Deps {
	cfg := a.cfg
	return httpserver.Deps{
		Attest:         a.attest,
		Signer:         a.keys,
		Narratives:     a.narr,
		Records:        a.records,
		Failures:       a.failures,
		Metrics:        a.metrics,
		Checkers:       a.checkers,
		Log:            a.log,
		NarrativeMode:  cfg.Response.Mode == config.ModeNarrative,
		APIKeys:        middleware.KeyMap(cfg.Server.APIKeys),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	}
}
