package scylla

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/zwoods58/WebApp-sub006/internal/config"
)

// Partitioning:
//   - sessions live in one partition per user, so every revocation for a
//     user is a single-partition LWT;
//   - verification codes are partitioned by (identifier, purpose) and
//     clustered newest first;
//   - security events are spread over (day, murmur3 bucket).
var tableStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id text PRIMARY KEY,
		phone text,
		country text,
		pin_hash text,
		business_name text,
		backup_email_enc text,
		security_answer_hash text,
		tier text,
		created_at timestamp,
		updated_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS users_by_phone (
		phone text PRIMARY KEY,
		user_id text
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		user_id text,
		session_id text,
		refresh_hash text,
		device_fingerprint text,
		device_label text,
		created_at timestamp,
		expires_at timestamp,
		revoked boolean,
		revoked_reason text,
		revoked_at timestamp,
		last_used_at timestamp,
		PRIMARY KEY (user_id, session_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sessions_by_refresh (
		refresh_hash text PRIMARY KEY,
		user_id text,
		session_id text
	)`,
	`CREATE TABLE IF NOT EXISTS verification_codes (
		identifier text,
		purpose text,
		created_at timestamp,
		id text,
		code text,
		channel text,
		expires_at timestamp,
		used boolean,
		used_at timestamp,
		PRIMARY KEY ((identifier, purpose), created_at, id)
	) WITH CLUSTERING ORDER BY (created_at DESC, id ASC)`,
	`CREATE TABLE IF NOT EXISTS security_events (
		event_date text,
		event_bucket int,
		created_at timestamp,
		id text,
		event_type text,
		user_id text,
		phone text,
		ip text,
		user_agent text,
		country text,
		metadata map<text, text>,
		PRIMARY KEY ((event_date, event_bucket), created_at, id)
	) WITH CLUSTERING ORDER BY (created_at DESC, id ASC)`,
}

func createKeyspace(cluster *gocql.ClusterConfig, cfg config.ScyllaConfig) error {
	session, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("failed to create bootstrap session: %w", err)
	}
	defer session.Close()

	stmt := fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
		cfg.Keyspace, max(cfg.ReplicationFactor, 1),
	)
	if err := session.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace: %w", err)
	}
	return nil
}

// EnsureTables creates missing tables. It never alters existing ones.
func (s *ScyllaClient) EnsureTables(ctx context.Context) error {
	for _, stmt := range tableStatements {
		if err := s.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}
