package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/zwoods58/WebApp-sub006/internal/config"
)

type ScyllaClient struct {
	Session *gocql.Session
	config  config.ScyllaConfig
	logger  *zap.Logger
}

// NewScyllaClient connects to the keyspace, creating it and its tables first
// when autoMigrate is set.
func NewScyllaClient(cfg config.ScyllaConfig, production, autoMigrate bool, logger *zap.Logger) (*ScyllaClient, error) {
	consistency, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
	if err != nil {
		return nil, fmt.Errorf("invalid scylla consistency %q: %w", cfg.Consistency, err)
	}

	newCluster := func() *gocql.ClusterConfig {
		cluster := gocql.NewCluster(cfg.Hosts...)
		cluster.Consistency = consistency
		cluster.SerialConsistency = gocql.LocalSerial
		cluster.Timeout = cfg.Timeout
		cluster.ConnectTimeout = cfg.Timeout
		cluster.NumConns = cfg.NumConns
		cluster.SocketKeepalive = 30 * time.Second
		cluster.PageSize = 1000
		// conditional writes must not be replayed by the driver
		cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 0}

		if production {
			cluster.SslOpts = &gocql.SslOptions{
				CaPath:                 "/root/certs/ca.pem",
				CertPath:               "/root/certs/server.pem",
				KeyPath:                "/root/certs/server.key",
				EnableHostVerification: true,
			}
		}
		if cfg.Username != "" && cfg.Password != "" {
			cluster.Authenticator = gocql.PasswordAuthenticator{
				Username: cfg.Username,
				Password: cfg.Password,
			}
		}
		return cluster
	}

	if autoMigrate {
		if err := createKeyspace(newCluster(), cfg); err != nil {
			return nil, err
		}
	}

	cluster := newCluster()
	cluster.Keyspace = cfg.Keyspace
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{Session: session, config: cfg, logger: logger}

	if autoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := client.EnsureTables(ctx); err != nil {
			session.Close()
			return nil, err
		}
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("hosts", cfg.Hosts),
		zap.String("keyspace", cfg.Keyspace))

	return client, nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...any) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}
