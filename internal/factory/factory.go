package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zwoods58/WebApp-sub006/internal/audit"
	"github.com/zwoods58/WebApp-sub006/internal/bucketing"
	"github.com/zwoods58/WebApp-sub006/internal/client"
	"github.com/zwoods58/WebApp-sub006/internal/config"
	"github.com/zwoods58/WebApp-sub006/internal/encryption"
	"github.com/zwoods58/WebApp-sub006/internal/hashing"
	"github.com/zwoods58/WebApp-sub006/internal/model"
	"github.com/zwoods58/WebApp-sub006/internal/repository/memory"
	"github.com/zwoods58/WebApp-sub006/internal/repository/postgres"
	rediscache "github.com/zwoods58/WebApp-sub006/internal/repository/redis"
	"github.com/zwoods58/WebApp-sub006/internal/repository/scylla"
	"github.com/zwoods58/WebApp-sub006/internal/service"
	"github.com/zwoods58/WebApp-sub006/internal/session"
	"github.com/zwoods58/WebApp-sub006/internal/tls"
	"github.com/zwoods58/WebApp-sub006/internal/verification"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	tlsManager *tls.TLSManager

	// Datastore
	store        model.Store
	pgStore      *postgres.Store
	scyllaClient *scylla.ScyllaClient

	// Clients
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Core components
	recovery       model.RecoveryStateStore
	denyList       model.SessionDenyList
	recorder       *audit.Recorder
	sessions       *session.Manager
	verifier       *verification.Service
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory validates cfg and builds every dependency. Optional audit
// sinks that fail to start are skipped outside production.
func NewFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{config: cfg, logger: logger}

	if cfg.Server.EnableTLS {
		tm, err := tls.NewTLSManager(cfg.Server, cfg.Environment, logger)
		if err != nil {
			return nil, err
		}
		f.tlsManager = tm
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	f.bucketingManager = bucketing.NewBucketingManager(cfg.Bucketing)
	f.hasher = hashing.NewHasher(cfg.Hashing)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"store", f.initializeStore},
		{"caches", f.initializeCaches},
		{"encryption", f.initializeEncryption},
		{"audit", f.initializeAudit},
	}
	for _, step := range steps {
		if err := step.fn(initCtx); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}
	f.initializeCore()

	logger.Info("Factory initialized successfully",
		zap.String("environment", cfg.Environment),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("redis", f.redisClient != nil),
		zap.Bool("tls_enabled", cfg.Server.EnableTLS),
		zap.Bool("kms_enabled", cfg.KMS.Enabled),
	)
	return f, nil
}

func (f *Factory) initializeStore(ctx context.Context) error {
	switch f.config.Store.Driver {
	case config.StorePostgres:
		store, err := postgres.Open(ctx, f.config.Postgres)
		if err != nil {
			return err
		}
		if f.config.Store.AutoMigrate {
			if err := store.RunMigrations(ctx); err != nil {
				_ = store.Close()
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		f.pgStore, f.store = store, store
	case config.StoreScylla:
		sc, err := scylla.NewScyllaClient(f.config.Scylla, f.config.IsProduction(), f.config.Store.AutoMigrate, f.logger)
		if err != nil {
			return err
		}
		f.scyllaClient = sc
		f.store = scylla.NewStore(sc, f.bucketingManager)
	default:
		f.logger.Warn("Using the in-memory store; data is lost on restart")
		f.store = memory.NewStore()
	}
	return nil
}

// initializeCaches backs recovery state and the deny list with Redis when
// enabled, otherwise with process memory.
func (f *Factory) initializeCaches(ctx context.Context) error {
	if !f.config.Redis.Enabled {
		f.recovery = memory.NewRecoveryStateStore()
		f.denyList = memory.NewDenyList()
		return nil
	}
	rc, err := client.NewRedisClient(f.config.Redis, f.logger)
	if err != nil {
		return err
	}
	f.redisClient = rc
	f.recovery = rediscache.NewRecoveryStateCache(rc.Client)
	f.denyList = rediscache.NewSessionDenyList(rc.Client)
	return nil
}

func (f *Factory) initializeEncryption(ctx context.Context) error {
	var kmsClient encryption.KMSAPI
	if f.config.KMS.Enabled {
		kc, err := encryption.NewKMSClient(ctx, f.config.KMS)
		if err != nil {
			return err
		}
		kmsClient = kc
	}
	em, err := encryption.NewEncryptionManager(f.config.KMS, kmsClient, f.config.IsProduction(), f.logger)
	if err != nil {
		return err
	}
	f.encryptionManager = em
	return nil
}

func (f *Factory) initializeAudit(ctx context.Context) error {
	cfg := f.config
	var (
		sinks []audit.Sink
		errs  []error
	)

	if cfg.Kafka.Enabled {
		if p, err := client.NewKafkaProducer(cfg.Kafka, cfg.IsProduction(), f.logger); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = p
			sinks = append(sinks, audit.NewKafkaSink(p, cfg.Kafka.AuditTopic))
		}
	}

	if cfg.Clickhouse.Enabled {
		if c, err := client.NewClickHouseClient(cfg.Clickhouse, cfg.IsProduction(), f.logger); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse: %w", err))
		} else if err := c.EnsureAuditTable(ctx); err != nil {
			_ = c.Close()
			errs = append(errs, fmt.Errorf("clickhouse audit table: %w", err))
		} else {
			f.clickhouseClient = c
			sinks = append(sinks, audit.NewClickHouseSink(c, c.AuditTable()))
		}
	}

	if cfg.Elasticsearch.Enabled {
		if es, err := client.NewElasticsearchClient(cfg.Elasticsearch, !cfg.IsProduction(), f.logger); err != nil {
			errs = append(errs, fmt.Errorf("elasticsearch: %w", err))
		} else if err := es.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("elasticsearch health check: %w", err))
		} else {
			f.esClient = es
			sinks = append(sinks, audit.NewElasticsearchSink(es, es.AuditIndex()))
		}
	}

	if len(errs) > 0 {
		if cfg.IsProduction() {
			return errors.Join(errs...)
		}
		for _, err := range errs {
			f.logger.Warn("Audit sink disabled", zap.Error(err))
		}
	}

	f.recorder = audit.NewRecorder(f.store, cfg.Audit.Timeout, f.logger, sinks...)
	return nil
}

func (f *Factory) initializeCore() {
	cfg := f.config
	p := cfg.Providers

	twilioSMS := client.NewTwilioSMS(p.Twilio, p.Timeout)
	routes := verification.DefaultRoutes(
		client.NewAfricasTalkingSMS(p.AfricasTalking, p.Timeout),
		twilioSMS,
		client.NewTwilioWhatsApp(p.Twilio, p.Timeout),
	)

	var provider verification.VerifyProvider
	if p.Twilio.VerifyServiceSID != "" {
		provider = client.NewTwilioVerify(p.Twilio, p.Timeout)
	} else {
		f.logger.Warn("No verify service configured; provider-held countries use local SMS")
	}

	f.sessions = session.NewManager(cfg.Token, f.store, f.denyList, f.logger)
	f.verifier = verification.NewService(cfg.Verification, f.store, routes, client.NewSMTPMailer(p.SMTP), provider, f.recorder, f.logger)
	f.serviceFactory = service.NewServiceFactory(
		f.store,
		f.hasher,
		f.sessions,
		f.verifier,
		f.recovery,
		f.encryptionManager,
		f.recorder,
		cfg.Verification,
		f.logger,
	)
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if err := f.store.Ping(ctx); err != nil {
		healthErrors["store"] = err
	}
	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}
	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}
	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}
	return healthErrors
}

// Ping fails only when a dependency the request path needs is down. Audit
// sinks are best effort and never fail it.
func (f *Factory) Ping(ctx context.Context) error {
	healthErrors := f.HealthCheck(ctx)
	for name, err := range healthErrors {
		switch name {
		case "store", "redis":
			return fmt.Errorf("%s: %w", name, err)
		default:
			f.logger.Warn("Audit sink unhealthy", zap.String("sink", name), zap.Error(err))
		}
	}
	return nil
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		f.logger.Info("Shutting down factory...")

		if f.recorder != nil {
			ctx, cancel := context.WithTimeout(context.Background(), f.config.Audit.Timeout+time.Second)
			if err := f.recorder.Flush(ctx); err != nil {
				f.logger.Warn("Audit sinks still writing at shutdown", zap.Error(err))
			}
			cancel()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				f.logger.Error("Failed to close ClickHouse client", zap.Error(err))
			}
		}
		if f.esClient != nil {
			f.esClient.Close()
		}
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				f.logger.Error("Failed to close Kafka producer", zap.Error(err))
			}
		}
		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
		}
		if f.store != nil {
			if err := f.store.Close(); err != nil {
				f.logger.Error("Failed to close store", zap.Error(err))
			}
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				f.logger.Error("Failed to close Redis client", zap.Error(err))
			}
		}

		f.logger.Info("Factory shutdown completed")
	})
	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Store() model.Store {
	return f.store
}

// PostgresStore is nil unless STORE_DRIVER=postgres.
func (f *Factory) PostgresStore() *postgres.Store {
	return f.pgStore
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

func (f *Factory) AuthService() *service.AuthService {
	return f.serviceFactory.AuthService()
}
